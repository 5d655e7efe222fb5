package postgres

import (
	"context"
	"fmt"
)

// DeviceTokenRepository stores FCM device tokens for link-lifecycle
// notifications. A token already registered to another user is reassigned.
type DeviceTokenRepository struct {
	db *DB
}

func NewDeviceTokenRepository(db *DB) *DeviceTokenRepository {
	return &DeviceTokenRepository{db: db}
}

func (r *DeviceTokenRepository) Upsert(ctx context.Context, userID int64, token string) error {
	query := `
		INSERT INTO device_tokens (token, user_id, active)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (token) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			active = TRUE,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := r.db.ExecContext(ctx, query, token, userID); err != nil {
		return fmt.Errorf("failed to upsert device token: %w", err)
	}
	return nil
}

func (r *DeviceTokenRepository) ListActiveByUserID(ctx context.Context, userID int64) ([]string, error) {
	query := `SELECT token FROM device_tokens WHERE user_id = $1 AND active = TRUE`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device tokens: %w", err)
	}

	return tokens, nil
}

func (r *DeviceTokenRepository) Deactivate(ctx context.Context, token string) error {
	query := `UPDATE device_tokens SET active = FALSE, updated_at = CURRENT_TIMESTAMP WHERE token = $1`

	if _, err := r.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("failed to deactivate device token: %w", err)
	}
	return nil
}
