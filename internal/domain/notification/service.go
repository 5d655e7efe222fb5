// Package notification delivers link-lifecycle push notifications: a bank was
// connected, or a linked bank needs the user's attention. Delivery is
// best-effort; a failed push never fails the linking flow that triggered it.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Messenger sends push notifications to device tokens.
type Messenger interface {
	SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}

// Repository stores device tokens per user.
type Repository interface {
	Upsert(ctx context.Context, userID int64, token string) error
	ListActiveByUserID(ctx context.Context, userID int64) ([]string, error)
	Deactivate(ctx context.Context, token string) error
}

// Service contains the business logic for link notifications. It satisfies
// link.Notifier.
type Service struct {
	repo      Repository
	messenger Messenger
}

func NewService(repo Repository, messenger Messenger) *Service {
	return &Service{repo: repo, messenger: messenger}
}

// RegisterDevice registers a device token for the authenticated user. A token
// that already belongs to another user is reassigned.
func (s *Service) RegisterDevice(ctx context.Context, userID int64, token string) error {
	if token == "" {
		return errors.New("device token is required")
	}
	return s.repo.Upsert(ctx, userID, token)
}

// BankLinked notifies the user's devices that an institution was connected.
func (s *Service) BankLinked(ctx context.Context, userID int64, institutionName string) {
	s.push(ctx, userID,
		"Bank connected",
		fmt.Sprintf("%s is now linked to your account.", institutionName),
		map[string]string{"event": "bank_linked"},
	)
}

// BankNeedsAttention notifies the user that a linked bank's credential was
// rejected and the connection needs to be re-established.
func (s *Service) BankNeedsAttention(ctx context.Context, userID int64, institutionName string) {
	s.push(ctx, userID,
		"Bank connection needs attention",
		fmt.Sprintf("We could no longer reach %s. Please reconnect it.", institutionName),
		map[string]string{"event": "bank_needs_attention"},
	)
}

func (s *Service) push(ctx context.Context, userID int64, title, body string, data map[string]string) {
	if s.messenger == nil {
		return
	}

	tokens, err := s.repo.ListActiveByUserID(ctx, userID)
	if err != nil {
		log.Printf("User %d: Failed to list device tokens: %v", userID, err)
		return
	}
	if len(tokens) == 0 {
		return
	}

	if err := s.messenger.SendMulticast(ctx, tokens, title, body, data); err != nil {
		log.Printf("User %d: Failed to send notification %q: %v", userID, title, err)
	}
}
