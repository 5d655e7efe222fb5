package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ledgerlink/internal/domain/link"
	"ledgerlink/internal/infrastructure/crypto"
)

// ItemRepository is the postgres-backed credential store. Access credentials
// are decrypted only on single-item reads; listings leave them empty.
type ItemRepository struct {
	db        *DB
	encryptor *crypto.Encryptor
}

var _ link.ItemRepository = (*ItemRepository)(nil)

func NewItemRepository(db *DB, encryptor *crypto.Encryptor) *ItemRepository {
	return &ItemRepository{db: db, encryptor: encryptor}
}

// GetForUser returns the item only when it belongs to the user; a foreign or
// unknown item id is indistinguishable from a missing one.
func (r *ItemRepository) GetForUser(ctx context.Context, id string, userID int64) (*link.Item, error) {
	query := `
		SELECT id, user_id, institution_name, access_credential, status, linked_at, last_refreshed_at
		FROM linked_items
		WHERE id = $1 AND user_id = $2
	`

	var item link.Item
	var encCredential, status string
	var lastRefreshed sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id, userID).Scan(
		&item.ID, &item.UserID, &item.InstitutionName, &encCredential,
		&status, &item.LinkedAt, &lastRefreshed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, link.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	credential, err := r.encryptor.Decrypt(encCredential)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access credential: %w", err)
	}
	item.AccessCredential = credential
	item.Status = link.ItemStatus(status)
	if lastRefreshed.Valid {
		item.LastRefreshedAt = &lastRefreshed.Time
	}
	return &item, nil
}

func (r *ItemRepository) ListByUserID(ctx context.Context, userID int64) ([]*link.Item, error) {
	query := `
		SELECT id, user_id, institution_name, status, linked_at, last_refreshed_at
		FROM linked_items
		WHERE user_id = $1
		ORDER BY linked_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []*link.Item
	for rows.Next() {
		var item link.Item
		var status string
		var lastRefreshed sql.NullTime
		if err := rows.Scan(&item.ID, &item.UserID, &item.InstitutionName, &status, &item.LinkedAt, &lastRefreshed); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		item.Status = link.ItemStatus(status)
		if lastRefreshed.Valid {
			item.LastRefreshedAt = &lastRefreshed.Time
		}
		items = append(items, &item)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}

	return items, nil
}

// ListActiveUserIDs returns users holding at least one ACTIVE item, for the
// periodic refresh scheduler.
func (r *ItemRepository) ListActiveUserIDs(ctx context.Context) ([]int64, error) {
	query := `SELECT DISTINCT user_id FROM linked_items WHERE status = $1`

	rows, err := r.db.QueryContext(ctx, query, string(link.ItemActive))
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, id)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user ids: %w", err)
	}

	return userIDs, nil
}

func (r *ItemRepository) UpdateStatus(ctx context.Context, id string, status link.ItemStatus) error {
	query := `UPDATE linked_items SET status = $1 WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update item status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return link.ErrItemNotFound
	}
	return nil
}

func (r *ItemRepository) TouchRefreshed(ctx context.Context, id string) error {
	query := `UPDATE linked_items SET last_refreshed_at = CURRENT_TIMESTAMP WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to update refresh timestamp: %w", err)
	}
	return nil
}
