// Package provider implements the HTTP client for the bank-data aggregation
// provider. Transport and provider errors are translated into the stable
// taxonomy (ErrUnavailable, ErrRejected) at this boundary; raw provider
// payloads never travel past it.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultTimeout     = 30 * time.Second
	linkTokenPath      = "/link/token/create"
	exchangePath       = "/item/public_token/exchange"
	oauthResolvePath   = "/link/oauth/resolve"
	refreshPath        = "/accounts/refresh"
	revokePath         = "/item/remove"
	sandboxWebhookPath = "/sandbox/item/fire_webhook"
)

var (
	// ErrUnavailable covers network failures, timeouts and provider 5xx
	// responses. Transient; safe to retry with backoff.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrRejected covers provider 4xx responses: bad credential, expired or
	// already-consumed token. Permanent; do not retry.
	ErrRejected = errors.New("provider rejected request")
)

// Client handles communication with the aggregation provider API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new aggregation provider client with a bounded timeout.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// LinkTokenResponse is returned by the link token endpoint.
type LinkTokenResponse struct {
	LinkToken string `json:"linkToken"`
	ExpiresAt string `json:"expiresAt"`
}

// ExchangeResponse is returned by both the public token exchange and the
// server-side oauth callback resolution endpoints.
type ExchangeResponse struct {
	AccessToken     string `json:"accessToken"`
	ItemID          string `json:"itemId"`
	InstitutionName string `json:"institutionName"`
}

// Account is one account under a linked item, as reported by a refresh.
type Account struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Subtype      string `json:"subtype"`
	CurrencyCode string `json:"currencyCode"`
	Balance      string `json:"balance"` // API returns balance as string
}

// AccountsResponse is returned by the refresh endpoint.
type AccountsResponse struct {
	Accounts []Account `json:"accounts"`
}

// ErrorResponse represents an error response from the provider API.
type ErrorResponse struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// CreateLinkToken issues a short-lived token authorizing one hosted-link
// session for the given user.
func (c *Client) CreateLinkToken(ctx context.Context, userID string) (*LinkTokenResponse, error) {
	var resp LinkTokenResponse
	if err := c.post(ctx, linkTokenPath, map[string]string{"clientUserId": userID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExchangePublicToken trades a one-time public token for a durable access
// credential. The provider consumes the public token; a second exchange of the
// same token is rejected.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (*ExchangeResponse, error) {
	var resp ExchangeResponse
	if err := c.post(ctx, exchangePath, map[string]string{"publicToken": publicToken}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResolveOAuthCallback submits an oauth state id alone; the provider maps it
// back to the pending public token and performs the exchange server-side.
func (c *Client) ResolveOAuthCallback(ctx context.Context, oauthStateID string) (*ExchangeResponse, error) {
	var resp ExchangeResponse
	if err := c.post(ctx, oauthResolvePath, map[string]string{"oauthStateId": oauthStateID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refresh pulls current account data for an item, keeping the access
// credential warm on the provider side.
func (c *Client) Refresh(ctx context.Context, accessCredential string) (*AccountsResponse, error) {
	var resp AccountsResponse
	if err := c.post(ctx, refreshPath, map[string]string{"accessToken": accessCredential}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Revoke invalidates the access credential on the provider side.
func (c *Client) Revoke(ctx context.Context, accessCredential string) error {
	return c.post(ctx, revokePath, map[string]string{"accessToken": accessCredential}, nil)
}

// FireWebhook asks the provider sandbox to emit a webhook for an item.
// Sandbox/test environments only.
func (c *Client) FireWebhook(ctx context.Context, itemID, webhookType, webhookCode string) error {
	body := map[string]string{
		"itemId":      itemID,
		"webhookType": webhookType,
		"webhookCode": webhookCode,
	}
	return c.post(ctx, sandboxWebhookPath, body, nil)
}

// post issues a JSON POST and decodes the response into out (when non-nil).
// Status mapping: 2xx → nil, 4xx → ErrRejected, everything else (including
// transport failures) → ErrUnavailable.
func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to decode
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var errResp ErrorResponse
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.ErrorCode != "" {
			return fmt.Errorf("%w: %s (status %d)", ErrRejected, errResp.ErrorCode, resp.StatusCode)
		}
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
