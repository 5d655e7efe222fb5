// Package summary computes the month-over-month financial summary from the
// transaction ledger. Pure with respect to the ledger: records are read, never
// written, and malformed records are skipped rather than failing the result.
package summary

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// Percentage change bounds. A change is clamped into [-99, 999] so a single
// outlier month cannot blow up downstream score math.
var (
	deltaFloor         = decimal.NewFromInt(-99)
	deltaCeil          = decimal.NewFromInt(999)
	unmeasurableChange = decimal.NewFromInt(100)
	hundred            = decimal.NewFromInt(100)
)

// dateFormats are tried in order when parsing ledger dates.
var dateFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Engine derives monthly summaries from a transaction ledger.
type Engine struct {
	ledger Ledger
	now    func() time.Time
}

// NewEngine creates a summary engine reading from the given ledger.
func NewEngine(ledger Ledger) *Engine {
	return &Engine{ledger: ledger, now: time.Now}
}

// monthTotals accumulates spending and income for one calendar month.
type monthTotals struct {
	spending decimal.Decimal
	income   decimal.Decimal
}

func (m monthTotals) savings() decimal.Decimal {
	s := m.income.Sub(m.spending)
	if s.IsNegative() {
		return decimal.Zero
	}
	return s
}

// Compute partitions the user's transactions into current- and
// previous-calendar-month buckets and derives totals plus clamped percentage
// changes. Records with unparsable dates or amounts are logged and excluded,
// never fatal.
func (e *Engine) Compute(ctx context.Context, userID int64) (*MonthlySummary, error) {
	records, err := e.ledger.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	now := e.now()
	currentMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	previousMonth := currentMonth.AddDate(0, -1, 0)

	var current, previous monthTotals
	for _, rec := range records {
		date, ok := parseDate(rec.Date)
		if !ok {
			log.Printf("User %d: Skipping transaction with unparsable date %q", userID, rec.Date)
			continue
		}

		var bucket *monthTotals
		switch {
		case sameMonth(date, currentMonth):
			bucket = &current
		case sameMonth(date, previousMonth):
			bucket = &previous
		default:
			continue
		}

		amount, err := decimal.NewFromString(rec.Amount)
		if err != nil {
			log.Printf("User %d: Skipping transaction with unparsable amount %q", userID, rec.Amount)
			continue
		}
		// The ledger reports expenses as negative amounts; totals are magnitudes.
		amount = amount.Abs()

		switch rec.Type {
		case "expense":
			bucket.spending = bucket.spending.Add(amount)
		case "income":
			bucket.income = bucket.income.Add(amount)
		default:
			log.Printf("User %d: Skipping transaction with unknown type %q", userID, rec.Type)
		}
	}

	return &MonthlySummary{
		MonthlySpending: current.spending.InexactFloat64(),
		MonthlyIncome:   current.income.InexactFloat64(),
		MonthlySavings:  current.savings().InexactFloat64(),
		SpendingChange:  Delta(current.spending, previous.spending).InexactFloat64(),
		IncomeChange:    Delta(current.income, previous.income).InexactFloat64(),
		SavingsChange:   Delta(current.savings(), previous.savings()).InexactFloat64(),
	}, nil
}

// Delta is the period-over-period percentage change. Both zero yields 0; a
// change from zero is unmeasurable and reported as the +100 sentinel;
// otherwise ((current-previous)/previous)*100, clamped to [-99, 999] and
// rounded to one decimal place.
func Delta(current, previous decimal.Decimal) decimal.Decimal {
	if previous.IsZero() {
		if current.IsZero() {
			return decimal.Zero
		}
		return unmeasurableChange
	}

	change := current.Sub(previous).Div(previous).Mul(hundred)
	if change.LessThan(deltaFloor) {
		return deltaFloor
	}
	if change.GreaterThan(deltaCeil) {
		return deltaCeil
	}
	return change.Round(1)
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func sameMonth(t, month time.Time) bool {
	return t.Year() == month.Year() && t.Month() == month.Month()
}
