// Package link manages the bank-link lifecycle: hosted-link attempts, the
// exchange of one-time public tokens for durable access credentials, and the
// reconciliation of oauth redirect callbacks.
package link

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"ledgerlink/internal/infrastructure/provider"
)

const (
	maxProviderAttempts = 3
	retryBackoff        = 500 * time.Millisecond
)

// Service drives the link attempt state machine. All provider calls go
// through a capped retry that only re-attempts transient failures.
type Service struct {
	client   provider.ClientInterface
	attempts AttemptRepository
	items    ItemRepository
	notifier Notifier
}

// NewService creates a new link service. notifier may be nil.
func NewService(client provider.ClientInterface, attempts AttemptRepository, items ItemRepository, notifier Notifier) *Service {
	return &Service{
		client:   client,
		attempts: attempts,
		items:    items,
		notifier: notifier,
	}
}

// CreateLinkToken starts a fresh link attempt for the user: it obtains a
// hosted-link token from the provider and stores the attempt in TOKEN_ISSUED.
// Any prior unexchanged attempt for the user is superseded.
func (s *Service) CreateLinkToken(ctx context.Context, userID int64) (*Attempt, error) {
	var resp *provider.LinkTokenResponse
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = s.client.CreateLinkToken(ctx, strconv.FormatInt(userID, 10))
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create link token: %w", err)
	}

	attempt := &Attempt{
		ID:        uuid.NewString(),
		UserID:    userID,
		LinkToken: resp.LinkToken,
		State:     StateTokenIssued,
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to store link attempt: %w", err)
	}

	log.Printf("User %d: Link attempt %s created", userID, attempt.ID)
	return attempt, nil
}

// MarkOpened records that the hosted UI was opened. Best-effort and purely
// informational; a lost signal does not block the rest of the flow.
func (s *Service) MarkOpened(ctx context.Context, userID int64) error {
	attempt, err := s.attempts.GetActiveByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := s.attempts.Transition(ctx, attempt.ID, []AttemptState{StateTokenIssued}, StateLinkOpened); err != nil {
		return err
	}
	return nil
}

// CompleteSuccess handles the hosted UI reporting a public token. When the
// institution required an external redirect the payload is persisted and the
// exchange is deferred to the callback; otherwise the exchange runs now.
func (s *Service) CompleteSuccess(ctx context.Context, userID int64, payload SuccessPayload, requiresRedirect bool) (*Result, error) {
	attempt, err := s.attempts.GetActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	ok, err := s.attempts.RecordSuccess(ctx, attempt.ID, []AttemptState{StateTokenIssued, StateLinkOpened}, &payload)
	if err != nil {
		return nil, fmt.Errorf("failed to record link success: %w", err)
	}
	if !ok {
		return s.storedResult(ctx, attempt.ID)
	}

	if requiresRedirect {
		log.Printf("User %d: Attempt %s awaiting oauth redirect (payload cached)", userID, attempt.ID)
		return &Result{Pending: true}, nil
	}

	return s.exchange(ctx, userID, attempt.ID, func(ctx context.Context) (*provider.ExchangeResponse, error) {
		return s.client.ExchangePublicToken(ctx, payload.PublicToken)
	})
}

// Abort handles the user exiting the hosted UI or the UI raising an error.
// The attempt becomes terminal; no credential is created.
func (s *Service) Abort(ctx context.Context, userID int64, errorCode string) error {
	attempt, err := s.attempts.GetActiveByUserID(ctx, userID)
	if err != nil {
		return err
	}
	return s.attempts.MarkFailed(ctx, attempt.ID, StateExit, errorCode)
}

// ListItems returns the user's linked items. Access credentials never leave
// the service layer.
func (s *Service) ListItems(ctx context.Context, userID int64) ([]*Item, error) {
	return s.items.ListByUserID(ctx, userID)
}

// Refresh pulls fresh account data for a linked item, keeping its credential
// valid on the provider side. A refresh against a revoked item is rejected
// without a provider call; a provider rejection marks the item ERROR.
func (s *Service) Refresh(ctx context.Context, userID int64, itemID string) ([]provider.Account, error) {
	item, err := s.items.GetForUser(ctx, itemID, userID)
	if err != nil {
		return nil, err
	}
	if item.Status == ItemRevoked {
		return nil, fmt.Errorf("%w: item %s is revoked", provider.ErrRejected, itemID)
	}

	var resp *provider.AccountsResponse
	err = s.withRetry(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = s.client.Refresh(ctx, item.AccessCredential)
		return callErr
	})
	if err != nil {
		if errors.Is(err, provider.ErrRejected) {
			log.Printf("User %d: Provider rejected credential for item %s — marking ERROR", userID, itemID)
			if stErr := s.items.UpdateStatus(ctx, itemID, ItemError); stErr != nil {
				log.Printf("User %d: Failed to mark item %s ERROR: %v", userID, itemID, stErr)
			}
			if s.notifier != nil {
				s.notifier.BankNeedsAttention(ctx, userID, item.InstitutionName)
			}
		}
		return nil, err
	}

	if err := s.items.TouchRefreshed(ctx, itemID); err != nil {
		log.Printf("User %d: Failed to update refresh timestamp for item %s: %v", userID, itemID, err)
	}
	return resp.Accounts, nil
}

// Disconnect revokes the item's credential with the provider and marks the
// item REVOKED. Soft delete: transaction history referencing the item is
// retained by the ledger. A credential the provider no longer recognizes is
// still revoked locally.
func (s *Service) Disconnect(ctx context.Context, userID int64, itemID string) error {
	item, err := s.items.GetForUser(ctx, itemID, userID)
	if err != nil {
		return err
	}
	if item.Status == ItemRevoked {
		return nil
	}

	if err := s.client.Revoke(ctx, item.AccessCredential); err != nil && !errors.Is(err, provider.ErrRejected) {
		return fmt.Errorf("failed to revoke credential: %w", err)
	}

	if err := s.items.UpdateStatus(ctx, itemID, ItemRevoked); err != nil {
		return fmt.Errorf("failed to mark item revoked: %w", err)
	}
	log.Printf("User %d: Item %s disconnected", userID, itemID)
	return nil
}

// FireTestWebhook asks the provider sandbox to emit a webhook for one of the
// user's items. The HTTP layer gates this to non-production environments.
func (s *Service) FireTestWebhook(ctx context.Context, userID int64, itemID, webhookType, webhookCode string) error {
	if _, err := s.items.GetForUser(ctx, itemID, userID); err != nil {
		return err
	}
	return s.client.FireWebhook(ctx, itemID, webhookType, webhookCode)
}

// exchange claims the attempt and performs exactly one provider exchange call.
// Losing the claim race never issues a second call: the stored outcome is
// reported instead.
func (s *Service) exchange(ctx context.Context, userID int64, attemptID string, call func(context.Context) (*provider.ExchangeResponse, error)) (*Result, error) {
	won, err := s.attempts.ClaimExchange(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if !won {
		return s.storedResult(ctx, attemptID)
	}

	var resp *provider.ExchangeResponse
	err = s.withRetry(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = call(ctx)
		return callErr
	})
	if err != nil {
		if errors.Is(err, provider.ErrRejected) {
			if failErr := s.attempts.MarkFailed(ctx, attemptID, StateExchangeFailed, "EXCHANGE_REJECTED"); failErr != nil {
				log.Printf("User %d: Failed to mark attempt %s failed: %v", userID, attemptID, failErr)
			}
			return nil, fmt.Errorf("%w: provider declined the exchange", ErrBankLinkFailed)
		}
		// Transient failure: the claim goes stale and a later retry may
		// re-enter the exchange, since it never reached EXCHANGED.
		return nil, err
	}

	now := time.Now()
	item := &Item{
		ID:               resp.ItemID,
		UserID:           userID,
		InstitutionName:  resp.InstitutionName,
		AccessCredential: resp.AccessToken,
		Status:           ItemActive,
		LinkedAt:         now,
	}
	if err := s.attempts.MarkExchanged(ctx, attemptID, item); err != nil {
		return nil, fmt.Errorf("failed to store linked item: %w", err)
	}

	log.Printf("User %d: Attempt %s exchanged — linked %s (item %s)", userID, attemptID, item.InstitutionName, item.ID)
	if s.notifier != nil {
		s.notifier.BankLinked(ctx, userID, item.InstitutionName)
	}
	return &Result{ItemID: item.ID, InstitutionName: item.InstitutionName}, nil
}

// storedResult answers a duplicate invocation from the attempt record instead
// of re-invoking the provider.
func (s *Service) storedResult(ctx context.Context, attemptID string) (*Result, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	switch attempt.State {
	case StateExchanged:
		return &Result{ItemID: attempt.ItemID, InstitutionName: attempt.InstitutionName}, nil
	case StateExchangePending:
		return nil, ErrAttemptInProgress
	default:
		return nil, fmt.Errorf("%w: attempt in state %s", ErrBankLinkFailed, attempt.State)
	}
}

// withRetry runs op up to maxProviderAttempts times, backing off between
// attempts. Only transient provider failures are retried.
func (s *Service) withRetry(ctx context.Context, op func(context.Context) error) error {
	var err error
	for i := 0; i < maxProviderAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", provider.ErrUnavailable, ctx.Err())
			case <-time.After(retryBackoff * time.Duration(1<<(i-1))):
			}
			log.Printf("Retrying provider call (attempt %d/%d)", i+1, maxProviderAttempts)
		}
		err = op(ctx)
		if err == nil || !errors.Is(err, provider.ErrUnavailable) {
			return err
		}
	}
	return err
}
