package provider

import "context"

// ClientInterface defines the contract for the aggregation provider client.
// Implementations perform no retries; retry policy belongs to the caller.
type ClientInterface interface {
	CreateLinkToken(ctx context.Context, userID string) (*LinkTokenResponse, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (*ExchangeResponse, error)
	ResolveOAuthCallback(ctx context.Context, oauthStateID string) (*ExchangeResponse, error)
	Refresh(ctx context.Context, accessCredential string) (*AccountsResponse, error)
	Revoke(ctx context.Context, accessCredential string) error
	FireWebhook(ctx context.Context, itemID, webhookType, webhookCode string) error
}
