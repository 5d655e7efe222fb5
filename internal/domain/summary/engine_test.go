package summary

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type stubLedger struct {
	records []Record
	err     error
}

func (s *stubLedger) ListByUserID(ctx context.Context, userID int64) ([]Record, error) {
	return s.records, s.err
}

func newTestEngine(records []Record, now time.Time) *Engine {
	e := NewEngine(&stubLedger{records: records})
	e.now = func() time.Time { return now }
	return e
}

func TestDelta(t *testing.T) {
	tests := []struct {
		name     string
		current  string
		previous string
		want     string
	}{
		{"both zero", "0", "0", "0"},
		{"from zero is unmeasurable", "42", "0", "100"},
		{"fifty percent up", "150", "100", "50"},
		{"fifty percent down", "50", "100", "-50"},
		{"clamped at ceiling", "2000", "1", "999"},
		{"exactly the floor", "1", "100", "-99"},
		{"clamped at floor", "0.5", "100", "-99"},
		{"rounded to one decimal", "50", "30", "66.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := decimal.RequireFromString(tt.current)
			previous := decimal.RequireFromString(tt.previous)
			want := decimal.RequireFromString(tt.want)

			got := Delta(current, previous)
			if !got.Equal(want) {
				t.Errorf("Delta(%s, %s) = %s, want %s", tt.current, tt.previous, got, want)
			}
		})
	}
}

func TestCompute_EndToEnd(t *testing.T) {
	now := time.Date(2024, time.May, 15, 12, 0, 0, 0, time.UTC)
	records := []Record{
		{Amount: "-50", Type: "expense", Date: "2024-05-10"},
		{Amount: "-30", Type: "expense", Date: "2024-04-20"},
		{Amount: "1000", Type: "income", Date: "2024-05-01"},
	}

	e := newTestEngine(records, now)
	got, err := e.Compute(context.Background(), 1)
	if err != nil {
		t.Fatalf("Compute() failed: %v", err)
	}

	if got.MonthlySpending != 50 {
		t.Errorf("MonthlySpending = %v, want 50", got.MonthlySpending)
	}
	if got.MonthlyIncome != 1000 {
		t.Errorf("MonthlyIncome = %v, want 1000", got.MonthlyIncome)
	}
	if got.MonthlySavings != 950 {
		t.Errorf("MonthlySavings = %v, want 950", got.MonthlySavings)
	}
	if got.SpendingChange != 66.7 {
		t.Errorf("SpendingChange = %v, want 66.7", got.SpendingChange)
	}
	if got.IncomeChange != 100 {
		t.Errorf("IncomeChange = %v, want 100 (from zero)", got.IncomeChange)
	}
	if got.SavingsChange != 100 {
		t.Errorf("SavingsChange = %v, want 100 (from zero)", got.SavingsChange)
	}
}

func TestCompute_SavingsNeverNegative(t *testing.T) {
	now := time.Date(2024, time.May, 15, 12, 0, 0, 0, time.UTC)
	records := []Record{
		{Amount: "-800", Type: "expense", Date: "2024-05-02"},
		{Amount: "300", Type: "income", Date: "2024-05-03"},
	}

	e := newTestEngine(records, now)
	got, err := e.Compute(context.Background(), 1)
	if err != nil {
		t.Fatalf("Compute() failed: %v", err)
	}

	if got.MonthlySavings != 0 {
		t.Errorf("MonthlySavings = %v, want 0 (never negative)", got.MonthlySavings)
	}
}

func TestCompute_SkipsMalformedRecords(t *testing.T) {
	now := time.Date(2024, time.May, 15, 12, 0, 0, 0, time.UTC)
	records := []Record{
		{Amount: "-50", Type: "expense", Date: "2024-05-10"},
		{Amount: "-999", Type: "expense", Date: "not-a-date"},
		{Amount: "banana", Type: "expense", Date: "2024-05-11"},
		{Amount: "10", Type: "transfer", Date: "2024-05-12"},
	}

	e := newTestEngine(records, now)
	got, err := e.Compute(context.Background(), 1)
	if err != nil {
		t.Fatalf("Compute() should never fail on malformed records: %v", err)
	}

	if got.MonthlySpending != 50 {
		t.Errorf("MonthlySpending = %v, want 50 (malformed records excluded)", got.MonthlySpending)
	}
}

func TestCompute_DateFormats(t *testing.T) {
	now := time.Date(2024, time.May, 15, 12, 0, 0, 0, time.UTC)
	records := []Record{
		{Amount: "-10", Type: "expense", Date: "2024-05-10T08:30:00Z"},
		{Amount: "-10", Type: "expense", Date: "2024-05-10 08:30:00"},
		{Amount: "-10", Type: "expense", Date: "2024-05-10"},
	}

	e := newTestEngine(records, now)
	got, err := e.Compute(context.Background(), 1)
	if err != nil {
		t.Fatalf("Compute() failed: %v", err)
	}

	if got.MonthlySpending != 30 {
		t.Errorf("MonthlySpending = %v, want 30 (all three date formats parsed)", got.MonthlySpending)
	}
}

func TestCompute_IgnoresOlderMonths(t *testing.T) {
	now := time.Date(2024, time.May, 15, 12, 0, 0, 0, time.UTC)
	records := []Record{
		{Amount: "-50", Type: "expense", Date: "2024-05-10"},
		{Amount: "-500", Type: "expense", Date: "2024-02-10"},
	}

	e := newTestEngine(records, now)
	got, err := e.Compute(context.Background(), 1)
	if err != nil {
		t.Fatalf("Compute() failed: %v", err)
	}

	if got.MonthlySpending != 50 {
		t.Errorf("MonthlySpending = %v, want 50 (February excluded)", got.MonthlySpending)
	}
}

func TestCompute_LedgerError(t *testing.T) {
	e := NewEngine(&stubLedger{err: errors.New("db down")})

	if _, err := e.Compute(context.Background(), 1); err == nil {
		t.Error("Compute() expected error when ledger fails, got nil")
	}
}
