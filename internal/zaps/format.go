package zaps

import (
	"strconv"

	"github.com/shopspring/decimal"
)

var (
	oneGiga = decimal.NewFromInt(1_000_000_000)
	oneMega = decimal.NewFromInt(1_000_000)
	oneKilo = decimal.NewFromInt(1_000)
	minShow = decimal.RequireFromString("0.01")
)

// ShowAmount abbreviates a sats amount for display: one decimal with a k/M/G
// suffix from a thousand up, whole sats below. Dust under 0.01 renders empty,
// as does a missing amount at call sites.
func ShowAmount(amount decimal.Decimal) string {
	if amount.Abs().LessThan(minShow) {
		return ""
	}

	switch {
	case amount.GreaterThanOrEqual(oneGiga):
		return amount.Div(oneGiga).Round(1).StringFixed(1) + "G"
	case amount.GreaterThanOrEqual(oneMega):
		return amount.Div(oneMega).Round(1).StringFixed(1) + "M"
	case amount.GreaterThanOrEqual(oneKilo):
		return amount.Div(oneKilo).Round(1).StringFixed(1) + "k"
	default:
		return amount.Round(0).StringFixed(0)
	}
}

// ShowCount abbreviates an interaction count. Zero renders empty.
func ShowCount(count int) string {
	if count == 0 {
		return ""
	}

	c := decimal.NewFromInt(int64(count))
	switch {
	case count >= 1_000_000_000:
		return c.Div(oneGiga).Round(0).StringFixed(0) + "G"
	case count >= 1_000_000:
		return c.Div(oneMega).Round(0).StringFixed(0) + "M"
	case count >= 1_000:
		return c.Div(oneKilo).Round(0).StringFixed(0) + "k"
	default:
		return strconv.Itoa(count)
	}
}
