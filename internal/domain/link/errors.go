package link

import "errors"

// Domain errors surfaced to the HTTP layer. Provider transport errors are
// translated at the provider client boundary (see infrastructure/provider);
// these cover the linking flow itself.
var (
	// ErrMissingCallbackState means the browser navigated to the callback URL
	// without an oauth state id. Direct-navigation error, not a provider error;
	// no provider call is made.
	ErrMissingCallbackState = errors.New("callback is missing oauth state id")

	// ErrNoActiveAttempt means no link attempt exists for the user that the
	// operation could apply to. Recovery is a fresh link attempt.
	ErrNoActiveAttempt = errors.New("no active link attempt for user")

	// ErrAttemptInProgress means another request is already exchanging this
	// attempt's token. The racing caller lost the state transition.
	ErrAttemptInProgress = errors.New("link attempt exchange already in progress")

	// ErrBankLinkFailed means the provider declined the exchange. The attempt
	// is terminal; retry requires a fresh link attempt.
	ErrBankLinkFailed = errors.New("bank link failed")

	// ErrItemNotFound means the item does not exist or belongs to another user.
	ErrItemNotFound = errors.New("linked item not found")
)
