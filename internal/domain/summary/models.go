package summary

import "context"

// Record is one transaction as reported by the ledger service: amount and date
// arrive as strings (the ledger's wire shape) and are parsed here. Type is
// "income" or "expense".
type Record struct {
	Amount string `json:"amount"`
	Type   string `json:"type"`
	Date   string `json:"date"`
}

// Ledger is the external transaction store this engine reads from. The engine
// never mutates transaction data.
type Ledger interface {
	ListByUserID(ctx context.Context, userID int64) ([]Record, error)
}

// MonthlySummary is the derived month-over-month financial summary. Computed
// per request; never persisted.
type MonthlySummary struct {
	MonthlySpending float64 `json:"monthlySpending"`
	MonthlyIncome   float64 `json:"monthlyIncome"`
	MonthlySavings  float64 `json:"monthlySavings"`
	SpendingChange  float64 `json:"spendingChange"`
	IncomeChange    float64 `json:"incomeChange"`
	SavingsChange   float64 `json:"savingsChange"`
}
