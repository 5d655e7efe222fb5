package link

import "context"

// AttemptRepository persists link attempts. Implementations must make state
// transitions conditional (compare-and-swap on the current state) so that two
// requests racing for the same attempt serialize on the record.
type AttemptRepository interface {
	// Create inserts a new attempt and, in the same transaction, marks any
	// prior non-terminal attempt for the user ABANDONED (a new attempt
	// implicitly supersedes an unexchanged one).
	Create(ctx context.Context, attempt *Attempt) error

	// GetActiveByUserID returns the user's single non-terminal attempt, or
	// ErrNoActiveAttempt.
	GetActiveByUserID(ctx context.Context, userID int64) (*Attempt, error)

	// GetByID returns an attempt in any state.
	GetByID(ctx context.Context, attemptID string) (*Attempt, error)

	// GetByOAuthState returns the user's attempt carrying the given oauth
	// state id, terminal or not. Terminal attempts stay queryable so a
	// duplicated redirect can be answered from the stored outcome.
	GetByOAuthState(ctx context.Context, userID int64, oauthStateID string) (*Attempt, error)

	// Transition moves the attempt from any of the expected states to next.
	// Returns false without error when the attempt was not in an expected
	// state (some other caller won).
	Transition(ctx context.Context, attemptID string, from []AttemptState, to AttemptState) (bool, error)

	// RecordSuccess transitions to SUCCESS and persists the hosted-link
	// success payload (public token encrypted at rest) plus its oauth state id.
	RecordSuccess(ctx context.Context, attemptID string, from []AttemptState, payload *SuccessPayload) (bool, error)

	// BindOAuthState attaches an oauth state id to an attempt that does not
	// carry one yet, so a later duplicated redirect can find the attempt by
	// state id. An existing binding is never overwritten.
	BindOAuthState(ctx context.Context, attemptID string, oauthStateID string) error

	// ConsumePayload returns the cached success payload and clears it in the
	// same statement. A payload is readable exactly once, regardless of what
	// the subsequent exchange does with it. Returns nil when absent.
	ConsumePayload(ctx context.Context, attemptID string) (*SuccessPayload, error)

	// ClaimExchange atomically moves the attempt into EXCHANGE_PENDING.
	// Returns false when another caller holds the claim. A stale claim (held
	// longer than the provider call could possibly run) can be re-taken so a
	// crashed or timed-out exchange remains retryable.
	ClaimExchange(ctx context.Context, attemptID string) (bool, error)

	// MarkExchanged writes the linked item and transitions the attempt to
	// EXCHANGED in a single transaction, so a crash cannot leave one without
	// the other. The cached payload is cleared.
	MarkExchanged(ctx context.Context, attemptID string, item *Item) error

	// MarkFailed moves the attempt to a terminal failure state with a stable
	// error code.
	MarkFailed(ctx context.Context, attemptID string, state AttemptState, errorCode string) error
}

// ItemRepository persists linked items. Access credentials are encrypted at
// rest by the implementation and decrypted on read.
type ItemRepository interface {
	GetForUser(ctx context.Context, id string, userID int64) (*Item, error)
	ListByUserID(ctx context.Context, userID int64) ([]*Item, error)
	// ListActiveUserIDs returns the ids of users holding at least one ACTIVE
	// item, for the periodic refresh scheduler.
	ListActiveUserIDs(ctx context.Context) ([]int64, error)
	UpdateStatus(ctx context.Context, id string, status ItemStatus) error
	TouchRefreshed(ctx context.Context, id string) error
}

// Notifier delivers link-lifecycle notifications. Implementations are
// best-effort; delivery failures never fail the linking flow.
type Notifier interface {
	BankLinked(ctx context.Context, userID int64, institutionName string)
	BankNeedsAttention(ctx context.Context, userID int64, institutionName string)
}
