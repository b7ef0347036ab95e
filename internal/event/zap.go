package event

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// ZapRequest is a kind 9734 payment request, normally seen embedded in a receipt
type ZapRequest struct {
	base
	Targets     []string
	Recipient   string
	AmountMsats int64
	Anon        string
	Relays      []string
}

// IsPrivate reports whether the real sender and comment are sealed in the anon tag
func (z *ZapRequest) IsPrivate() bool {
	return strings.TrimSpace(z.Anon) != ""
}

// ZapReceipt is a kind 9735 receipt published by the recipient's lightning service
type ZapReceipt struct {
	base
	Targets   []string
	Recipient string
	Request   *nostr.Event
	Bolt11    string
	Preimage  string
}

// RequestID is the pairing key between a receipt and its request
func (z *ZapReceipt) RequestID() string {
	return z.Request.ID
}

// Amount returns the paid amount in sats, from the invoice or, failing that,
// from the amount the request asked for.
func (z *ZapReceipt) Amount() (decimal.Decimal, bool) {
	if amount, ok := Bolt11Amount(z.Bolt11); ok {
		return amount, true
	}
	if msats, err := strconv.ParseInt(rawTag(z.Request, "amount"), 10, 64); err == nil && msats > 0 {
		return decimal.NewFromInt(msats).Div(decimal.NewFromInt(1000)), true
	}
	return decimal.Zero, false
}

func parseZapRequest(b base) (Variant, error) {
	ev := b.ev
	req := &ZapRequest{
		base:      b,
		Targets:   tagValues(ev, "e"),
		Recipient: firstTagValue(ev, "p"),
		Anon:      rawTag(ev, "anon"),
	}
	if req.Recipient == "" {
		return nil, malformed(ev, "zap request without recipient")
	}

	if msats, err := strconv.ParseInt(rawTag(ev, "amount"), 10, 64); err == nil {
		req.AmountMsats = msats
	}

	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "relays" {
			req.Relays = append(req.Relays, tag[1:]...)
		}
	}

	return req, nil
}

func parseZapReceipt(b base) (Variant, error) {
	ev := b.ev
	receipt := &ZapReceipt{
		base:      b,
		Targets:   tagValues(ev, "e"),
		Recipient: firstTagValue(ev, "p"),
		Bolt11:    rawTag(ev, "bolt11"),
		Preimage:  rawTag(ev, "preimage"),
	}

	description := rawTag(ev, "description")
	if description == "" {
		return nil, malformed(ev, "zap receipt without description")
	}

	request, err := DecodeEmbeddedEvent(description)
	if err != nil {
		return nil, malformed(ev, "description: %v", err)
	}
	if request.Kind != KindZapRequest {
		return nil, malformed(ev, "description is kind %d", request.Kind)
	}
	receipt.Request = request

	// older services omitted the e tag on the receipt and only kept it on the request
	if len(receipt.Targets) == 0 {
		receipt.Targets = tagValues(request, "e")
	}
	if receipt.Recipient == "" {
		receipt.Recipient = firstTagValue(request, "p")
	}

	return receipt, nil
}

var errNotEvent = errors.New("not an event object")

// DecodeEmbeddedEvent reads an event serialized inside another event's tag or content
func DecodeEmbeddedEvent(raw string) (*nostr.Event, error) {
	if !gjson.Valid(raw) {
		return nil, errNotEvent
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return nil, errNotEvent
	}

	ev := &nostr.Event{
		ID:        parsed.Get("id").String(),
		PubKey:    parsed.Get("pubkey").String(),
		CreatedAt: nostr.Timestamp(parsed.Get("created_at").Int()),
		Kind:      int(parsed.Get("kind").Int()),
		Content:   parsed.Get("content").String(),
		Sig:       parsed.Get("sig").String(),
		Tags:      nostr.Tags{},
	}

	parsed.Get("tags").ForEach(func(_, tag gjson.Result) bool {
		t := nostr.Tag{}
		tag.ForEach(func(_, v gjson.Result) bool {
			t = append(t, v.String())
			return true
		})
		ev.Tags = append(ev.Tags, t)
		return true
	})

	if !IsHexID(ev.ID) || !IsHexID(ev.PubKey) {
		return nil, errNotEvent
	}

	return ev, nil
}

var bolt11Amount = regexp.MustCompile(`^ln(?:bcrt|bc|tbs|tb)(\d+)([munp]?)1`)

var (
	satsPerBTC   = decimal.New(1, 8)
	satsPerMilli = decimal.New(1, 5)
	satsPerMicro = decimal.New(1, 2)
	satsPerNano  = decimal.New(1, -1)
	satsPerPico  = decimal.New(1, -4)
)

// Bolt11Amount extracts the invoice amount in sats. Invoices without an amount report false.
func Bolt11Amount(invoice string) (decimal.Decimal, bool) {
	matches := bolt11Amount.FindStringSubmatch(strings.ToLower(strings.TrimSpace(invoice)))
	if len(matches) < 3 {
		return decimal.Zero, false
	}

	amount, err := decimal.NewFromString(matches[1])
	if err != nil {
		return decimal.Zero, false
	}

	switch matches[2] {
	case "m":
		return amount.Mul(satsPerMilli), true
	case "u":
		return amount.Mul(satsPerMicro), true
	case "n":
		return amount.Mul(satsPerNano), true
	case "p":
		return amount.Mul(satsPerPico), true
	default:
		return amount.Mul(satsPerBTC), true
	}
}
