package validator

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/expense-tracker/internal/domain/import/normalizer"
	"github.com/FACorreiaa/expense-tracker/internal/domain/import/parser"
)

func newTestValidator() *Validator {
	return New(Config{
		Currency:    "usd",
		Categorizer: normalizer.NewCategorizer(normalizer.DefaultKeywordRules()),
	})
}

func expenseRow(line int, date, desc, amount, category string) parser.Row[parser.ExpenseRow] {
	return parser.Row[parser.ExpenseRow]{
		Line:  line,
		Value: parser.ExpenseRow{Date: date, Description: desc, Amount: amount, Category: category},
	}
}

// ============================================================================
// Expense Validation Tests
// ============================================================================

func TestValidator_Expense(t *testing.T) {
	v := newTestValidator()

	t.Run("normalizes a valid row", func(t *testing.T) {
		rec, ferr := v.Expense(expenseRow(2, "01-15-2025", "  Corner   Café ", "$1,234.50", " Dining "))
		require.Nil(t, ferr)

		assert.Equal(t, 2, rec.Line)
		assert.Equal(t, "2025-01-15", rec.Date)
		assert.Equal(t, "Corner Café", rec.Text)
		assert.Equal(t, "corner café", rec.TextKey)
		assert.Equal(t, int64(123450), rec.AmountCents)
		assert.Equal(t, "Dining", rec.Category)
		assert.Equal(t, "dining", rec.CategoryKey)
		assert.Equal(t, "USD", rec.Currency)
		assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), rec.Fingerprint)
	})

	t.Run("blank category is auto assigned", func(t *testing.T) {
		rec, ferr := v.Expense(expenseRow(2, "01-15-2025", "STARBUCKS #1", "4.50", ""))
		require.Nil(t, ferr)
		assert.Equal(t, "Dining", rec.Category)

		rec, ferr = v.Expense(expenseRow(3, "01-15-2025", "Wire transfer", "4.50", ""))
		require.Nil(t, ferr)
		assert.Equal(t, normalizer.Uncategorized, rec.Category)
	})

	tests := []struct {
		name      string
		row       parser.Row[parser.ExpenseRow]
		wantField string
		wantMsg   string
	}{
		{"missing date", expenseRow(4, "", "Coffee", "1", ""), "date", "Date is required"},
		{"impossible date", expenseRow(4, "02-30-2025", "Coffee", "1", ""), "date", "MM-DD-YYYY"},
		{"iso date", expenseRow(4, "2025-01-15", "Coffee", "1", ""), "date", "MM-DD-YYYY"},
		{"missing description", expenseRow(4, "01-15-2025", "   ", "1", ""), "description", "Description is required"},
		{"long description", expenseRow(4, "01-15-2025", strings.Repeat("x", 151), "1", ""), "description", "at most 150"},
		{"missing amount", expenseRow(4, "01-15-2025", "Coffee", "", ""), "amount", "Amount is required"},
		{"three decimals", expenseRow(4, "01-15-2025", "Coffee", "1.234", ""), "amount", "2 decimal places"},
		{"zero amount", expenseRow(4, "01-15-2025", "Coffee", "0.00", ""), "amount", "greater than zero"},
		{"negative amount", expenseRow(4, "01-15-2025", "Coffee", "-3", ""), "amount", "positive number"},
		{"long category", expenseRow(4, "01-15-2025", "Coffee", "1", strings.Repeat("c", 51)), "category", "at most 50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ferr := v.Expense(tt.row)
			require.NotNil(t, ferr)
			assert.Equal(t, 4, ferr.Row)
			assert.Equal(t, tt.wantField, ferr.Field)
			assert.Contains(t, ferr.Message, tt.wantMsg)
		})
	}
}

func TestValidator_Transaction(t *testing.T) {
	v := newTestValidator()

	rec, ferr := v.Transaction(parser.Row[parser.TransactionRow]{
		Line:  2,
		Value: parser.TransactionRow{Date: "01-15-2025", Vendor: "Coffee", Amount: "10.00", Category: "Food"},
	})
	require.Nil(t, ferr)
	assert.Equal(t, int64(1000), rec.AmountCents)
	assert.Equal(t, "Coffee", rec.Text)

	_, ferr = v.Transaction(parser.Row[parser.TransactionRow]{
		Line:  3,
		Value: parser.TransactionRow{Date: "01-15-2025", Amount: "10.00"},
	})
	require.NotNil(t, ferr)
	assert.Equal(t, "vendor", ferr.Field)
	assert.Equal(t, "Vendor is required", ferr.Message)
}

func TestValidator_Income(t *testing.T) {
	v := newTestValidator()

	t.Run("blank source defaults to Other", func(t *testing.T) {
		rec, ferr := v.Income(parser.Row[parser.IncomeRow]{
			Line:  2,
			Value: parser.IncomeRow{Date: "03-01-2025", Source: " ", Amount: "2500"},
		})
		require.Nil(t, ferr)
		assert.Equal(t, DefaultIncomeSource, rec.Text)
		assert.Equal(t, int64(250000), rec.AmountCents)
		assert.Empty(t, rec.Category)
	})

	t.Run("bad amount", func(t *testing.T) {
		_, ferr := v.Income(parser.Row[parser.IncomeRow]{
			Line:  7,
			Value: parser.IncomeRow{Date: "03-01-2025", Source: "Salary", Amount: "1e3"},
		})
		require.NotNil(t, ferr)
		assert.Equal(t, 7, ferr.Row)
		assert.Equal(t, "amount", ferr.Field)
	})
}

// ============================================================================
// Fingerprint Tests
// ============================================================================

func TestFingerprint_InvariantUnderFormatting(t *testing.T) {
	v := newTestValidator()

	a, ferr := v.Expense(expenseRow(2, "01-15-2025", "Coffee  Shop", "1,000.00", "FOOD"))
	require.Nil(t, ferr)
	b, ferr := v.Expense(expenseRow(9, "01-15-2025", " coffee shop ", "$1000", "food"))
	require.Nil(t, ferr)

	assert.Equal(t, a.Fingerprint, b.Fingerprint)
}

func TestFingerprint_ChangesWithContent(t *testing.T) {
	base := Record{Date: "2025-01-15", TextKey: "coffee", AmountCents: 450, CategoryKey: "dining", Currency: "USD"}

	variants := []Record{
		{Date: "2025-01-16", TextKey: "coffee", AmountCents: 450, CategoryKey: "dining", Currency: "USD"},
		{Date: "2025-01-15", TextKey: "tea", AmountCents: 450, CategoryKey: "dining", Currency: "USD"},
		{Date: "2025-01-15", TextKey: "coffee", AmountCents: 451, CategoryKey: "dining", Currency: "USD"},
		{Date: "2025-01-15", TextKey: "coffee", AmountCents: 450, CategoryKey: "food", Currency: "USD"},
		{Date: "2025-01-15", TextKey: "coffee", AmountCents: 450, CategoryKey: "dining", Currency: "EUR"},
	}

	fp := Fingerprint(base)
	assert.Equal(t, fp, Fingerprint(base))
	for _, variant := range variants {
		assert.NotEqual(t, fp, Fingerprint(variant))
	}
}

func TestNew_DefaultsCurrency(t *testing.T) {
	assert.Equal(t, "USD", New(Config{}).Currency())
	assert.Equal(t, "EUR", New(Config{Currency: "eur"}).Currency())
}
