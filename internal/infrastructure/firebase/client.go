// Package firebase delivers the link-lifecycle push notifications over
// Firebase Cloud Messaging.
package firebase

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCM caps a multicast at 500 tokens per call.
const fcmBatchLimit = 500

// TokenDeactivator marks an FCM token the provider reported as dead. Supplied
// by the caller so this package stays decoupled from the token store.
type TokenDeactivator func(ctx context.Context, token string) error

// Client implements notification.Messenger on top of FCM.
type Client struct {
	msgClient   *messaging.Client
	deactivator TokenDeactivator
}

// NewClient initializes a Firebase app from a service-account credentials
// file. deactivator may be nil; dead tokens are then only logged.
func NewClient(ctx context.Context, credentialsFile string, deactivator TokenDeactivator) (*Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging client: %w", err)
	}

	return &Client{msgClient: msgClient, deactivator: deactivator}, nil
}

// SendMulticast pushes one notification to every token, chunked to the FCM
// batch limit. Per-token failures never fail the call; unregistered or
// malformed tokens are deactivated so they stop accumulating.
func (c *Client) SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	var sent, failed int
	for start := 0; start < len(tokens); start += fcmBatchLimit {
		end := min(start+fcmBatchLimit, len(tokens))
		batch := tokens[start:end]

		resp, err := c.msgClient.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens: batch,
			Notification: &messaging.Notification{
				Title: title,
				Body:  body,
			},
			Data: data,
		})
		if err != nil {
			return fmt.Errorf("failed to send FCM multicast: %w", err)
		}

		sent += resp.SuccessCount
		failed += resp.FailureCount
		if resp.FailureCount > 0 {
			c.pruneDeadTokens(ctx, batch, resp)
		}
	}

	if len(tokens) > 0 {
		log.Printf("FCM multicast: %d success, %d failure", sent, failed)
	}
	return nil
}

func (c *Client) pruneDeadTokens(ctx context.Context, tokens []string, resp *messaging.BatchResponse) {
	for i, sendResp := range resp.Responses {
		switch {
		case sendResp.Error == nil:
		case messaging.IsUnregistered(sendResp.Error) || messaging.IsInvalidArgument(sendResp.Error):
			log.Printf("Invalid FCM token (deactivating): %v", sendResp.Error)
			c.deactivate(ctx, tokens[i])
		default:
			log.Printf("FCM send error: %v", sendResp.Error)
		}
	}
}

func (c *Client) deactivate(ctx context.Context, token string) {
	if c.deactivator == nil {
		return
	}
	if err := c.deactivator(ctx, token); err != nil {
		log.Printf("Failed to deactivate FCM token: %v", err)
	}
}
