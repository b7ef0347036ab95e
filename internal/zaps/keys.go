package zaps

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"

	"github.com/sandwichfarm/notecache/internal/event"
)

// KindPrivateZap is the inner event sealed in a private zap request's anon tag
const KindPrivateZap = 9733

const (
	hrpCiphertext = "pzap"
	hrpIV         = "iv"
)

var (
	// ErrNotForUs means the sealed payload was not encrypted to this account
	ErrNotForUs = errors.New("private zap not addressed to this account")

	errBadAnonTag = errors.New("malformed anon tag")
)

// KeyDecrypter opens private zap requests with the account's key material
type KeyDecrypter interface {
	DecryptZapRequest(ctx context.Context, request *nostr.Event) (*nostr.Event, error)
}

// LocalKeys decrypts private zaps with a secret key held in memory
type LocalKeys struct {
	secretKey string
	publicKey string
}

// NewLocalKeys wraps a hex secret key
func NewLocalKeys(secretKeyHex string) (*LocalKeys, error) {
	pk, err := nostr.GetPublicKey(secretKeyHex)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	return &LocalKeys{secretKey: secretKeyHex, publicKey: pk}, nil
}

// PublicKey returns the hex public key of the wrapped secret
func (k *LocalKeys) PublicKey() string {
	return k.publicKey
}

// DecryptZapRequest opens the anon payload as the recipient, or as the sender
// through the per-zap key the sender derived when sealing it.
func (k *LocalKeys) DecryptZapRequest(ctx context.Context, request *nostr.Event) (*nostr.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	anon := anonTag(request)
	if anon == "" {
		return nil, ErrNotForUs
	}

	recipient, target := zapTargets(request)

	var secret []byte
	var err error
	if recipient == k.publicKey {
		secret, err = nip04.ComputeSharedSecret(request.PubKey, k.secretKey)
	} else {
		if recipient == "" {
			return nil, ErrNotForUs
		}
		sealKey := PrivateZapKey(k.secretKey, target, request.CreatedAt)
		sealPub, perr := nostr.GetPublicKey(sealKey)
		if perr != nil || sealPub != request.PubKey {
			return nil, ErrNotForUs
		}
		secret, err = nip04.ComputeSharedSecret(recipient, sealKey)
	}
	if err != nil {
		return nil, fmt.Errorf("shared secret: %w", err)
	}

	plain, err := openAnon(anon, secret)
	if err != nil {
		return nil, err
	}

	inner, err := event.DecodeEmbeddedEvent(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadAnonTag, err)
	}
	if inner.Kind != KindPrivateZap {
		return nil, fmt.Errorf("%w: inner kind %d", errBadAnonTag, inner.Kind)
	}
	return inner, nil
}

// PrivateZapKey derives the one-off key a sender seals a private zap with.
// target is the zapped note id, or the recipient pubkey for profile zaps.
func PrivateZapKey(senderSecretHex, target string, createdAt nostr.Timestamp) string {
	sum := sha256.Sum256([]byte(senderSecretHex + target + strconv.FormatInt(int64(createdAt), 10)))
	return hex.EncodeToString(sum[:])
}

// SealPrivateZap encrypts inner into an anon tag value from sealKey to recipient
func SealPrivateZap(inner *nostr.Event, sealKey, recipient string) (string, error) {
	secret, err := nip04.ComputeSharedSecret(recipient, sealKey)
	if err != nil {
		return "", err
	}
	sealed, err := nip04.Encrypt(inner.String(), secret)
	if err != nil {
		return "", err
	}

	ct64, iv64, ok := strings.Cut(sealed, "?iv=")
	if !ok {
		return "", errBadAnonTag
	}
	ct, err := base64.StdEncoding.DecodeString(ct64)
	if err != nil {
		return "", err
	}
	iv, err := base64.StdEncoding.DecodeString(iv64)
	if err != nil {
		return "", err
	}

	ctPart, err := encodeBech32(hrpCiphertext, ct)
	if err != nil {
		return "", err
	}
	ivPart, err := encodeBech32(hrpIV, iv)
	if err != nil {
		return "", err
	}
	return ctPart + "_" + ivPart, nil
}

// openAnon reverses SealPrivateZap: the bech32 halves are re-expressed in the
// NIP-04 wire form so the payload can be opened with nip04.Decrypt.
func openAnon(anon string, secret []byte) (string, error) {
	ctPart, ivPart, ok := strings.Cut(anon, "_")
	if !ok {
		return "", errBadAnonTag
	}
	ct, err := decodeBech32(hrpCiphertext, ctPart)
	if err != nil {
		return "", err
	}
	iv, err := decodeBech32(hrpIV, ivPart)
	if err != nil {
		return "", err
	}

	plain, err := nip04.Decrypt(base64.StdEncoding.EncodeToString(ct)+"?iv="+base64.StdEncoding.EncodeToString(iv), secret)
	if err != nil {
		// a wrong key surfaces as bad padding or garbage
		return "", ErrNotForUs
	}
	return plain, nil
}

func decodeBech32(wantHRP, s string) ([]byte, error) {
	hrp, data, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadAnonTag, err)
	}
	if hrp != wantHRP {
		return nil, fmt.Errorf("%w: prefix %q", errBadAnonTag, hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadAnonTag, err)
	}
	return raw, nil
}

func encodeBech32(hrp string, raw []byte) (string, error) {
	data, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, data)
}

func anonTag(ev *nostr.Event) string {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "anon" {
			return tag[1]
		}
	}
	return ""
}

// zapTargets returns the zapped author and the key-derivation target
func zapTargets(ev *nostr.Event) (recipient, target string) {
	for _, tag := range ev.Tags {
		if len(tag) < 2 {
			continue
		}
		switch {
		case tag[0] == "p" && recipient == "":
			recipient = tag[1]
		case tag[0] == "e" && target == "":
			target = tag[1]
		}
	}
	if target == "" {
		target = recipient
	}
	return recipient, target
}
