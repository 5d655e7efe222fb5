package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"ledgerlink/internal/domain/link"
	"ledgerlink/internal/infrastructure/crypto"
)

// claimStaleInterval is how long an EXCHANGE_PENDING claim is honored before
// it can be re-taken. Longer than any provider call (including retries) can
// run, so a live exchange is never stolen, while a crashed one stays
// retryable.
const claimStaleInterval = "90 seconds"

const attemptColumns = `id, user_id, link_token, state, COALESCE(oauth_state_id, ''),
	COALESCE(institution_name, ''), COALESCE(item_id, ''), COALESCE(error_code, ''), created_at, updated_at`

// AttemptRepository is the postgres-backed link attempt store. Cached public
// tokens are encrypted at rest; state transitions are conditional updates so
// concurrent callers serialize on the row.
type AttemptRepository struct {
	db        *DB
	encryptor *crypto.Encryptor
}

var _ link.AttemptRepository = (*AttemptRepository)(nil)

func NewAttemptRepository(db *DB, encryptor *crypto.Encryptor) *AttemptRepository {
	return &AttemptRepository{db: db, encryptor: encryptor}
}

// Create inserts the attempt and abandons any prior non-terminal attempt for
// the user in the same transaction.
func (r *AttemptRepository) Create(ctx context.Context, attempt *link.Attempt) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	supersede := `
		UPDATE link_attempts
		SET state = $1, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = $2 AND state = ANY($3)
	`
	if _, err := tx.ExecContext(ctx, supersede,
		string(link.StateAbandoned), attempt.UserID, pq.Array(nonTerminalStates())); err != nil {
		return fmt.Errorf("failed to supersede prior attempts: %w", err)
	}

	insert := `
		INSERT INTO link_attempts (id, user_id, link_token, state)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	if err := tx.QueryRowContext(ctx, insert,
		attempt.ID, attempt.UserID, attempt.LinkToken, string(attempt.State),
	).Scan(&attempt.CreatedAt, &attempt.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit attempt: %w", err)
	}
	return nil
}

func (r *AttemptRepository) GetActiveByUserID(ctx context.Context, userID int64) (*link.Attempt, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM link_attempts
		WHERE user_id = $1 AND state = ANY($2)
		ORDER BY created_at DESC
		LIMIT 1
	`, attemptColumns)

	attempt, err := r.scanAttempt(r.db.QueryRowContext(ctx, query, userID, pq.Array(nonTerminalStates())))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, link.ErrNoActiveAttempt
	}
	return attempt, err
}

func (r *AttemptRepository) GetByID(ctx context.Context, attemptID string) (*link.Attempt, error) {
	query := fmt.Sprintf(`SELECT %s FROM link_attempts WHERE id = $1`, attemptColumns)

	attempt, err := r.scanAttempt(r.db.QueryRowContext(ctx, query, attemptID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, link.ErrNoActiveAttempt
	}
	return attempt, err
}

func (r *AttemptRepository) GetByOAuthState(ctx context.Context, userID int64, oauthStateID string) (*link.Attempt, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM link_attempts
		WHERE user_id = $1 AND oauth_state_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, attemptColumns)

	attempt, err := r.scanAttempt(r.db.QueryRowContext(ctx, query, userID, oauthStateID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, link.ErrNoActiveAttempt
	}
	return attempt, err
}

// Transition is a compare-and-swap: the row moves to next only if it is
// currently in one of the expected states.
func (r *AttemptRepository) Transition(ctx context.Context, attemptID string, from []link.AttemptState, to link.AttemptState) (bool, error) {
	query := `
		UPDATE link_attempts
		SET state = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND state = ANY($3)
	`
	result, err := r.db.ExecContext(ctx, query, string(to), attemptID, pq.Array(stateStrings(from)))
	if err != nil {
		return false, fmt.Errorf("failed to transition attempt: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// RecordSuccess transitions to SUCCESS and caches the payload, public token
// encrypted.
func (r *AttemptRepository) RecordSuccess(ctx context.Context, attemptID string, from []link.AttemptState, payload *link.SuccessPayload) (bool, error) {
	encToken, err := r.encryptor.Encrypt(payload.PublicToken)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt public token: %w", err)
	}

	query := `
		UPDATE link_attempts
		SET state = $1,
		    cached_public_token = $2,
		    cached_institution_name = $3,
		    oauth_state_id = NULLIF($4, ''),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $5 AND state = ANY($6)
	`
	result, err := r.db.ExecContext(ctx, query,
		string(link.StateSuccess), encToken, payload.InstitutionName, payload.OAuthStateID,
		attemptID, pq.Array(stateStrings(from)))
	if err != nil {
		return false, fmt.Errorf("failed to record success: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// BindOAuthState attaches the callback's oauth state id to an attempt that
// reached the callback without one (the redirect happened before the hosted
// UI reported success). An existing binding is left alone.
func (r *AttemptRepository) BindOAuthState(ctx context.Context, attemptID string, oauthStateID string) error {
	query := `
		UPDATE link_attempts
		SET oauth_state_id = NULLIF($1, ''), updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND oauth_state_id IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, oauthStateID, attemptID); err != nil {
		return fmt.Errorf("failed to bind oauth state: %w", err)
	}
	return nil
}

// ConsumePayload reads and clears the cached payload in one statement. The
// payload is gone after the first call whatever the caller does next, which
// is what makes it single-use.
func (r *AttemptRepository) ConsumePayload(ctx context.Context, attemptID string) (*link.SuccessPayload, error) {
	query := `
		UPDATE link_attempts a
		SET cached_public_token = NULL,
		    cached_institution_name = NULL,
		    updated_at = CURRENT_TIMESTAMP
		FROM (
			SELECT id, cached_public_token, cached_institution_name, oauth_state_id
			FROM link_attempts WHERE id = $1 FOR UPDATE
		) old
		WHERE a.id = old.id AND old.cached_public_token IS NOT NULL
		RETURNING old.cached_public_token, COALESCE(old.cached_institution_name, ''), COALESCE(old.oauth_state_id, '')
	`

	var encToken, institution, oauthStateID string
	err := r.db.QueryRowContext(ctx, query, attemptID).Scan(&encToken, &institution, &oauthStateID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume payload: %w", err)
	}

	publicToken, err := r.encryptor.Decrypt(encToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt cached token: %w", err)
	}

	return &link.SuccessPayload{
		PublicToken:     publicToken,
		InstitutionName: institution,
		OAuthStateID:    oauthStateID,
	}, nil
}

// ClaimExchange is the critical section around the provider exchange call: at
// most one caller at a time moves the attempt into EXCHANGE_PENDING. A stale
// claim can be re-taken so an exchange interrupted by a crash or timeout is
// retryable.
func (r *AttemptRepository) ClaimExchange(ctx context.Context, attemptID string) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE link_attempts
		SET state = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
		  AND (state = ANY($3)
		       OR (state = $1 AND updated_at < CURRENT_TIMESTAMP - interval '%s'))
	`, claimStaleInterval)

	result, err := r.db.ExecContext(ctx, query,
		string(link.StateExchangePending), attemptID, pq.Array(stateStrings(link.ExchangeableStates)))
	if err != nil {
		return false, fmt.Errorf("failed to claim exchange: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// MarkExchanged writes the linked item and the attempt's terminal EXCHANGED
// state in one transaction. The item upsert preserves ownership on conflict:
// a re-link of an existing item refreshes its credential and reactivates it
// but never changes whose item it is.
func (r *AttemptRepository) MarkExchanged(ctx context.Context, attemptID string, item *link.Item) error {
	encCredential, err := r.encryptor.Encrypt(item.AccessCredential)
	if err != nil {
		return fmt.Errorf("failed to encrypt access credential: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsertItem := `
		INSERT INTO linked_items (id, user_id, institution_name, access_credential, status, linked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			institution_name = EXCLUDED.institution_name,
			access_credential = EXCLUDED.access_credential,
			status = EXCLUDED.status
	`
	if _, err := tx.ExecContext(ctx, upsertItem,
		item.ID, item.UserID, item.InstitutionName, encCredential, string(item.Status), item.LinkedAt); err != nil {
		return fmt.Errorf("failed to upsert linked item: %w", err)
	}

	updateAttempt := `
		UPDATE link_attempts
		SET state = $1,
		    institution_name = $2,
		    item_id = $3,
		    cached_public_token = NULL,
		    cached_institution_name = NULL,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $4
	`
	if _, err := tx.ExecContext(ctx, updateAttempt,
		string(link.StateExchanged), item.InstitutionName, item.ID, attemptID); err != nil {
		return fmt.Errorf("failed to mark attempt exchanged: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit exchange: %w", err)
	}
	return nil
}

func (r *AttemptRepository) MarkFailed(ctx context.Context, attemptID string, state link.AttemptState, errorCode string) error {
	query := `
		UPDATE link_attempts
		SET state = $1,
		    error_code = NULLIF($2, ''),
		    cached_public_token = NULL,
		    cached_institution_name = NULL,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`
	if _, err := r.db.ExecContext(ctx, query, string(state), errorCode, attemptID); err != nil {
		return fmt.Errorf("failed to mark attempt failed: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *AttemptRepository) scanAttempt(row rowScanner) (*link.Attempt, error) {
	var attempt link.Attempt
	var state string
	err := row.Scan(
		&attempt.ID, &attempt.UserID, &attempt.LinkToken, &state,
		&attempt.OAuthStateID, &attempt.InstitutionName, &attempt.ItemID,
		&attempt.ErrorCode, &attempt.CreatedAt, &attempt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	attempt.State = link.AttemptState(state)
	return &attempt, nil
}

func nonTerminalStates() []string {
	states := []link.AttemptState{
		link.StateInit, link.StateTokenIssued, link.StateLinkOpened,
		link.StateSuccess, link.StateExchangePending,
	}
	return stateStrings(states)
}

func stateStrings(states []link.AttemptState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
