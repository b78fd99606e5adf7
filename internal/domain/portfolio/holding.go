package portfolio

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/expense-tracker/internal/domain/import/normalizer"
	"github.com/FACorreiaa/expense-tracker/internal/domain/import/parser"
	"github.com/FACorreiaa/expense-tracker/pkg/money"
)

const (
	MaxSymbolLength   = 20
	MaxExchangeLength = 50

	// DefaultCompanyName is used when a holding leaves companyName blank.
	DefaultCompanyName = "Other"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9.\-]+$`)

// HoldingValidator turns holdings rows into positions.
type HoldingValidator struct {
	currency string
}

// NewHoldingValidator creates a validator. Rows without a currency get
// currency, which falls back to USD when empty.
func NewHoldingValidator(currency string) *HoldingValidator {
	currency = strings.ToUpper(currency)
	if currency == "" {
		currency = money.USD
	}
	return &HoldingValidator{currency: currency}
}

// Validate checks one holdings row. Weights are left at zero; they are only
// meaningful after merging.
func (v *HoldingValidator) Validate(row parser.Row[parser.HoldingRow]) (Position, *parser.FieldError) {
	r := row.Value
	fail := func(field, format string, args ...any) (Position, *parser.FieldError) {
		return Position{}, &parser.FieldError{Row: row.Line, Field: field, Message: fmt.Sprintf(format, args...)}
	}

	symbol := strings.ToUpper(normalizer.CleanText(r.Symbol))
	switch {
	case symbol == "":
		return fail("symbol", "Symbol is required")
	case len(symbol) > MaxSymbolLength:
		return fail("symbol", "Symbol must be at most %d characters", MaxSymbolLength)
	case !symbolPattern.MatchString(symbol):
		return fail("symbol", "Symbol %q may only contain letters, digits, dots and dashes", symbol)
	}

	company := normalizer.CleanText(r.CompanyName)
	if company == "" {
		company = DefaultCompanyName
	}
	if normalizer.TooLong(company, normalizer.MaxTextLength) {
		return fail("companyName", "Company name must be at most %d characters", normalizer.MaxTextLength)
	}

	cents, err := money.ParseMinorRounded(r.MarketValue, 2)
	if err != nil {
		return fail("marketValue", "%s", marketValueMessage(err))
	}

	exchange := normalizer.CleanText(r.Exchange)
	if normalizer.TooLong(exchange, MaxExchangeLength) {
		return fail("exchange", "Exchange must be at most %d characters", MaxExchangeLength)
	}

	currency := strings.ToUpper(normalizer.CleanText(r.Currency))
	if currency == "" {
		currency = v.currency
	}
	if !money.IsKnownCurrency(currency) {
		return fail("currency", "Unknown currency %q", currency)
	}

	logo := strings.TrimSpace(r.LogoURL)
	if logo != "" {
		u, err := url.Parse(logo)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fail("logoUrl", "Logo URL must be an http or https address")
		}
	}

	var shares decimal.NullDecimal
	if raw := strings.ReplaceAll(strings.TrimSpace(r.Shares), ",", ""); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return fail("shares", "Shares must be a number like 10.5")
		}
		if d.IsNegative() {
			return fail("shares", "Shares cannot be negative")
		}
		shares = decimal.NewNullDecimal(d)
	}

	return Position{
		Symbol:           symbol,
		CompanyName:      company,
		Exchange:         exchange,
		Currency:         currency,
		LogoURL:          logo,
		MarketValueCents: cents,
		Shares:           shares,
	}, nil
}

func marketValueMessage(err error) string {
	switch {
	case errors.Is(err, money.ErrEmptyAmount):
		return "Market value is required"
	case errors.Is(err, money.ErrNonPositiveAmount):
		return "Market value must be greater than zero"
	case errors.Is(err, money.ErrAmountOverflow):
		return "Market value is too large"
	}
	return "Market value must be a positive number like 1234.56"
}
