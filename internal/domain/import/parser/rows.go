package parser

// ExpenseRow is a raw row of an expense upload.
type ExpenseRow struct {
	Date        string `csv:"date"`
	Description string `csv:"description"`
	Amount      string `csv:"amount"`
	Category    string `csv:"category"`
}

// TransactionRow is a raw row of a bank style upload that names the
// counterparty "vendor". Rows are stored as expenses.
type TransactionRow struct {
	Date     string `csv:"date"`
	Vendor   string `csv:"vendor"`
	Amount   string `csv:"amount"`
	Category string `csv:"category"`
}

// IncomeRow is a raw row of an income upload.
type IncomeRow struct {
	Date   string `csv:"date"`
	Source string `csv:"source"`
	Amount string `csv:"amount"`
}

// HoldingRow is a raw row of a brokerage holdings export.
type HoldingRow struct {
	Symbol      string `csv:"symbol"`
	CompanyName string `csv:"companyname"`
	MarketValue string `csv:"marketvalue"`
	Exchange    string `csv:"exchange"`
	Currency    string `csv:"currency"`
	LogoURL     string `csv:"logourl"`
	Shares      string `csv:"shares"`
}

var (
	ExpenseSchema = Schema{
		Name:     "expense",
		Required: []string{"date", "description", "amount"},
		Optional: []string{"category"},
	}

	TransactionSchema = Schema{
		Name:     "transaction",
		Required: []string{"date", "vendor", "amount"},
		Optional: []string{"category"},
	}

	IncomeSchema = Schema{
		Name:     "income",
		Required: []string{"date", "source", "amount"},
	}

	// Brokerage exports carry many more columns than we store.
	HoldingSchema = Schema{
		Name:       "holding",
		Required:   []string{"symbol", "companyname", "marketvalue"},
		Optional:   []string{"exchange", "currency", "logourl", "shares"},
		AllowExtra: true,
	}
)
