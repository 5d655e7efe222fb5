package link

import (
	"context"
	"errors"
	"fmt"
	"log"

	"ledgerlink/internal/infrastructure/provider"
)

// Reconcile resolves the return from an external bank login. The browser
// arrives carrying an opaque oauth state id; the pending exchange is completed
// either by replaying the success payload captured before the redirect, or by
// a server-only callback resolution when no payload was captured.
//
// Invoking this twice for the same oauth state id (a duplicated redirect) is
// safe: an attempt that already reached EXCHANGED answers from its stored
// outcome without another provider call, and the exchange claim serializes
// racing callers.
//
// The server-persisted payload is authoritative. A client-supplied payload is
// accepted only when no server copy exists and it matches this callback's
// state id; either way a payload is consumed exactly once, regardless of the
// exchange outcome, so it can never be replayed.
func (s *Service) Reconcile(ctx context.Context, userID int64, oauthStateID string, clientPayload *SuccessPayload) (*Result, error) {
	if oauthStateID == "" {
		return nil, ErrMissingCallbackState
	}

	attempt, err := s.attempts.GetByOAuthState(ctx, userID, oauthStateID)
	if err != nil {
		if !errors.Is(err, ErrNoActiveAttempt) {
			return nil, err
		}
		// No attempt recorded this state id: the redirect happened before the
		// hosted UI could report success. Fall back to the user's live attempt
		// and bind the state id to it, so a duplicated redirect finds the
		// attempt again once it is terminal.
		attempt, err = s.attempts.GetActiveByUserID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := s.attempts.BindOAuthState(ctx, attempt.ID, oauthStateID); err != nil {
			return nil, err
		}
	}

	if attempt.State == StateExchanged {
		log.Printf("User %d: Duplicate callback for attempt %s — returning stored result", userID, attempt.ID)
		return &Result{ItemID: attempt.ItemID, InstitutionName: attempt.InstitutionName}, nil
	}
	if attempt.State.Terminal() {
		return nil, fmt.Errorf("%w: attempt in state %s", ErrBankLinkFailed, attempt.State)
	}

	payload, err := s.attempts.ConsumePayload(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached payload: %w", err)
	}
	if payload == nil && clientPayload != nil && clientPayload.PublicToken != "" {
		// Some client environments cached the payload browser-side before the
		// redirect. Accept it only when it belongs to this callback.
		if clientPayload.OAuthStateID == "" || clientPayload.OAuthStateID == oauthStateID {
			payload = clientPayload
		} else {
			log.Printf("User %d: Ignoring client payload with mismatched oauth state for attempt %s", userID, attempt.ID)
		}
	}

	if payload != nil {
		token := payload.PublicToken
		return s.exchange(ctx, userID, attempt.ID, func(ctx context.Context) (*provider.ExchangeResponse, error) {
			return s.client.ExchangePublicToken(ctx, token)
		})
	}

	return s.exchange(ctx, userID, attempt.ID, func(ctx context.Context) (*provider.ExchangeResponse, error) {
		return s.client.ResolveOAuthCallback(ctx, oauthStateID)
	})
}
