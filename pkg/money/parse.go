package money

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxSafeMinor is the largest amount in minor units accepted from an upload.
// It matches the largest integer a float64 holds exactly (2^53 - 1), so the
// value survives a round trip through JSON clients.
const MaxSafeMinor int64 = 1<<53 - 1

var (
	ErrEmptyAmount       = errors.New("amount is empty")
	ErrInvalidAmount     = errors.New("amount is not a valid number")
	ErrTooManyDecimals   = errors.New("amount has too many decimal places")
	ErrNonPositiveAmount = errors.New("amount must be greater than zero")
	ErrAmountOverflow    = errors.New("amount is too large")
)

// Optional "$", then either comma grouped thousands or a plain digit run,
// then an optional fractional part with at least one digit.
var amountPattern = regexp.MustCompile(`^\$?(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d+))?$`)

var maxSafe = decimal.NewFromInt(MaxSafeMinor)

// ParseMinor parses a human typed amount into minor units. More than
// maxDecimals fractional digits is an error; nothing is rounded.
func ParseMinor(s string, maxDecimals int) (int64, error) {
	whole, frac, err := splitAmount(s)
	if err != nil {
		return 0, err
	}
	if len(frac) > maxDecimals {
		return 0, ErrTooManyDecimals
	}
	return toMinor(whole, frac, maxDecimals, false)
}

// ParseMinorRounded parses an amount into minor units with the given number
// of decimals, rounding any extra precision half-up.
func ParseMinorRounded(s string, decimals int) (int64, error) {
	whole, frac, err := splitAmount(s)
	if err != nil {
		return 0, err
	}
	return toMinor(whole, frac, decimals, true)
}

func splitAmount(s string) (string, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", ErrEmptyAmount
	}
	m := amountPattern.FindStringSubmatch(s)
	if m == nil {
		return "", "", ErrInvalidAmount
	}
	return strings.ReplaceAll(m[1], ",", ""), m[2], nil
}

func toMinor(whole, frac string, decimals int, round bool) (int64, error) {
	raw := whole
	if frac != "" {
		raw += "." + frac
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, ErrInvalidAmount
	}

	minor := d.Shift(int32(decimals))
	if round {
		// Round is half away from zero; amounts are never negative here.
		minor = minor.Round(0)
	}
	if !minor.IsPositive() {
		return 0, ErrNonPositiveAmount
	}
	if minor.GreaterThan(maxSafe) {
		return 0, ErrAmountOverflow
	}
	return minor.IntPart(), nil
}
