// Package validator turns bound CSV rows into normalized, fingerprinted
// records ready for ingestion. Validation is pure: each row yields either a
// Record or a single FieldError.
package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/FACorreiaa/expense-tracker/internal/domain/import/normalizer"
	"github.com/FACorreiaa/expense-tracker/internal/domain/import/parser"
	"github.com/FACorreiaa/expense-tracker/pkg/money"
)

// DefaultIncomeSource is used when an income row leaves source blank.
const DefaultIncomeSource = "Other"

// Record is a validated, normalized row.
type Record struct {
	Line        int    `json:"line"`
	Date        string `json:"date"`
	Text        string `json:"text"`
	TextKey     string `json:"-"`
	AmountCents int64  `json:"amountCents"`
	Category    string `json:"category,omitempty"`
	CategoryKey string `json:"-"`
	Currency    string `json:"currency"`
	Fingerprint string `json:"fingerprint"`
}

// Config carries the values validation depends on.
type Config struct {
	Currency    string
	Categorizer *normalizer.Categorizer
}

// Validator validates rows of the expense, transaction and income uploads.
type Validator struct {
	currency    string
	categorizer *normalizer.Categorizer
}

// New creates a validator. An empty currency falls back to USD.
func New(cfg Config) *Validator {
	currency := strings.ToUpper(cfg.Currency)
	if currency == "" {
		currency = money.USD
	}
	return &Validator{currency: currency, categorizer: cfg.Categorizer}
}

// Currency returns the currency tag applied to every record.
func (v *Validator) Currency() string {
	return v.currency
}

// Expense validates a row of an expense upload.
func (v *Validator) Expense(row parser.Row[parser.ExpenseRow]) (Record, *parser.FieldError) {
	r := row.Value
	return v.spending(row.Line, r.Date, "description", r.Description, r.Amount, r.Category)
}

// Transaction validates a row of a vendor style upload.
func (v *Validator) Transaction(row parser.Row[parser.TransactionRow]) (Record, *parser.FieldError) {
	r := row.Value
	return v.spending(row.Line, r.Date, "vendor", r.Vendor, r.Amount, r.Category)
}

// Income validates a row of an income upload.
func (v *Validator) Income(row parser.Row[parser.IncomeRow]) (Record, *parser.FieldError) {
	r := row.Value
	date, ferr := validateDate(row.Line, r.Date)
	if ferr != nil {
		return Record{}, ferr
	}

	source := normalizer.CleanText(r.Source)
	if source == "" {
		source = DefaultIncomeSource
	}
	if normalizer.TooLong(source, normalizer.MaxTextLength) {
		return Record{}, tooLong(row.Line, "source", normalizer.MaxTextLength)
	}

	cents, ferr := validateAmount(row.Line, r.Amount)
	if ferr != nil {
		return Record{}, ferr
	}

	rec := Record{
		Line:        row.Line,
		Date:        date,
		Text:        source,
		TextKey:     normalizer.Key(source),
		AmountCents: cents,
		Currency:    v.currency,
	}
	rec.Fingerprint = Fingerprint(rec)
	return rec, nil
}

func (v *Validator) spending(line int, rawDate, textField, rawText, rawAmount, rawCategory string) (Record, *parser.FieldError) {
	date, ferr := validateDate(line, rawDate)
	if ferr != nil {
		return Record{}, ferr
	}

	text := normalizer.CleanText(rawText)
	if text == "" {
		return Record{}, &parser.FieldError{Row: line, Field: textField, Message: fmt.Sprintf("%s is required", capitalize(textField))}
	}
	if normalizer.TooLong(text, normalizer.MaxTextLength) {
		return Record{}, tooLong(line, textField, normalizer.MaxTextLength)
	}

	cents, ferr := validateAmount(line, rawAmount)
	if ferr != nil {
		return Record{}, ferr
	}

	category := normalizer.CleanText(rawCategory)
	if normalizer.TooLong(category, normalizer.MaxCategoryLength) {
		return Record{}, tooLong(line, "category", normalizer.MaxCategoryLength)
	}
	if category == "" {
		category = v.categorizer.Categorize(text)
	}

	rec := Record{
		Line:        line,
		Date:        date,
		Text:        text,
		TextKey:     normalizer.Key(text),
		AmountCents: cents,
		Category:    category,
		CategoryKey: normalizer.Key(category),
		Currency:    v.currency,
	}
	rec.Fingerprint = Fingerprint(rec)
	return rec, nil
}

// Fingerprint is the content identity of a record: the hex SHA-256 of its
// normalized date, text key, amount, category key and currency.
func Fingerprint(r Record) string {
	payload := strings.Join([]string{
		r.Date,
		r.TextKey,
		strconv.FormatInt(r.AmountCents, 10),
		r.CategoryKey,
		r.Currency,
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func validateDate(line int, raw string) (string, *parser.FieldError) {
	if raw == "" {
		return "", &parser.FieldError{Row: line, Field: "date", Message: "Date is required"}
	}
	date, err := normalizer.ParseImportDate(raw)
	if err != nil {
		return "", &parser.FieldError{Row: line, Field: "date", Message: fmt.Sprintf("Invalid date %q, expected a real calendar date as MM-DD-YYYY", raw)}
	}
	return date, nil
}

func validateAmount(line int, raw string) (int64, *parser.FieldError) {
	cents, err := money.ParseMinor(raw, 2)
	if err == nil {
		return cents, nil
	}

	msg := "Amount must be a positive number like 12.34"
	switch {
	case errors.Is(err, money.ErrEmptyAmount):
		msg = "Amount is required"
	case errors.Is(err, money.ErrTooManyDecimals):
		msg = "Amount can have at most 2 decimal places"
	case errors.Is(err, money.ErrNonPositiveAmount):
		msg = "Amount must be greater than zero"
	case errors.Is(err, money.ErrAmountOverflow):
		msg = "Amount is too large"
	}
	return 0, &parser.FieldError{Row: line, Field: "amount", Message: msg}
}

func tooLong(line int, field string, max int) *parser.FieldError {
	return &parser.FieldError{Row: line, Field: field, Message: fmt.Sprintf("%s must be at most %d characters", capitalize(field), max)}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
