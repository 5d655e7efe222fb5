package postgres

import (
	"context"
	"fmt"

	"ledgerlink/internal/domain/summary"
)

// LedgerRepository reads the transaction ledger mirror for the summary
// engine. Amounts and dates are returned as stored, unparsed; interpreting
// them is the engine's job.
type LedgerRepository struct {
	db *DB
}

var _ summary.Ledger = (*LedgerRepository)(nil)

func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) ListByUserID(ctx context.Context, userID int64) ([]summary.Record, error) {
	query := `
		SELECT amount, type, occurred_at
		FROM transactions
		WHERE user_id = $1
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var records []summary.Record
	for rows.Next() {
		var rec summary.Record
		if err := rows.Scan(&rec.Amount, &rec.Type, &rec.Date); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return records, nil
}
