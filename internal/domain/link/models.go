package link

import (
	"time"
)

// AttemptState is the lifecycle state of a hosted-link attempt.
type AttemptState string

const (
	StateInit            AttemptState = "INIT"
	StateTokenIssued     AttemptState = "TOKEN_ISSUED"
	StateLinkOpened      AttemptState = "LINK_OPENED"
	StateSuccess         AttemptState = "SUCCESS"
	StateExit            AttemptState = "EXIT"
	StateExchangePending AttemptState = "EXCHANGE_PENDING"
	StateExchanged       AttemptState = "EXCHANGED"
	StateExchangeFailed  AttemptState = "EXCHANGE_FAILED"
	StateAbandoned       AttemptState = "ABANDONED"
)

// transitions is the full transition table for the attempt state machine.
// Note SUCCESS is reachable from TOKEN_ISSUED as well as LINK_OPENED: the
// "link opened" signal from the client is best-effort and may never arrive.
var transitions = map[AttemptState][]AttemptState{
	StateInit:            {StateTokenIssued},
	StateTokenIssued:     {StateLinkOpened, StateSuccess, StateExit, StateExchangePending, StateAbandoned},
	StateLinkOpened:      {StateSuccess, StateExit, StateExchangePending, StateAbandoned},
	StateSuccess:         {StateExchangePending, StateAbandoned},
	StateExchangePending: {StateExchanged, StateExchangeFailed},
}

// ExchangeableStates are the states from which an exchange claim may be
// taken. SUCCESS is the normal entry; TOKEN_ISSUED and LINK_OPENED cover the
// server-only callback resolution, where the hosted UI never reported success
// to this backend before the redirect.
var ExchangeableStates = []AttemptState{StateTokenIssued, StateLinkOpened, StateSuccess}

// CanTransition reports whether the state machine allows moving from s to next.
func (s AttemptState) CanTransition(next AttemptState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a terminal state. Terminal attempts are never
// mutated again; a new link flow starts a fresh attempt.
func (s AttemptState) Terminal() bool {
	switch s {
	case StateExit, StateExchanged, StateExchangeFailed, StateAbandoned:
		return true
	}
	return false
}

// SuccessPayload is what the hosted-link UI reports on success: the one-time
// public token plus institution metadata. When the institution requires an
// external redirect it is persisted server-side keyed by the attempt, because
// the redirect round-trip destroys in-memory client state.
type SuccessPayload struct {
	PublicToken     string `json:"publicToken"`
	InstitutionName string `json:"institutionName"`
	OAuthStateID    string `json:"oauthStateId,omitempty"`
}

// Attempt tracks one hosted-link invocation for a user, from token issuance
// through exchange. At most one attempt per user is non-terminal at a time.
type Attempt struct {
	ID              string       `json:"id"`
	UserID          int64        `json:"userId"`
	LinkToken       string       `json:"-"`
	State           AttemptState `json:"state"`
	OAuthStateID    string       `json:"-"`
	InstitutionName string       `json:"institutionName,omitempty"`
	ItemID          string       `json:"itemId,omitempty"`
	ErrorCode       string       `json:"errorCode,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// ItemStatus is the status of a linked institution connection.
type ItemStatus string

const (
	ItemActive  ItemStatus = "ACTIVE"
	ItemError   ItemStatus = "ERROR"
	ItemRevoked ItemStatus = "REVOKED"
)

// Item is a durable linked institution connection. The access credential is
// write-once at creation, rotated only by provider-driven refresh, and is
// never serialized into a client-facing response.
type Item struct {
	ID               string     `json:"id"`
	UserID           int64      `json:"userId"`
	InstitutionName  string     `json:"institutionName"`
	AccessCredential string     `json:"-"`
	Status           ItemStatus `json:"status"`
	LinkedAt         time.Time  `json:"linkedAt"`
	LastRefreshedAt  *time.Time `json:"lastRefreshedAt,omitempty"`
}

// Result is the outcome of a completed (or deferred) link flow reported back
// to the client.
type Result struct {
	Pending         bool   `json:"pending,omitempty"`
	ItemID          string `json:"itemId,omitempty"`
	InstitutionName string `json:"institutionName,omitempty"`
}
