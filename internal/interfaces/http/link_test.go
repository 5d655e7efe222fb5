package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ledgerlink/internal/domain/link"
	"ledgerlink/internal/infrastructure/provider"
	"ledgerlink/internal/shared/middleware"
)

// MockProviderClient implements provider.ClientInterface for testing
type MockProviderClient struct {
	CreateLinkTokenFunc      func(ctx context.Context, userID string) (*provider.LinkTokenResponse, error)
	ExchangePublicTokenFunc  func(ctx context.Context, publicToken string) (*provider.ExchangeResponse, error)
	ResolveOAuthCallbackFunc func(ctx context.Context, oauthStateID string) (*provider.ExchangeResponse, error)
	RefreshFunc              func(ctx context.Context, accessCredential string) (*provider.AccountsResponse, error)
	RevokeFunc               func(ctx context.Context, accessCredential string) error
	FireWebhookFunc          func(ctx context.Context, itemID, webhookType, webhookCode string) error
}

func (m *MockProviderClient) CreateLinkToken(ctx context.Context, userID string) (*provider.LinkTokenResponse, error) {
	if m.CreateLinkTokenFunc != nil {
		return m.CreateLinkTokenFunc(ctx, userID)
	}
	return &provider.LinkTokenResponse{LinkToken: "link-sandbox-token"}, nil
}

func (m *MockProviderClient) ExchangePublicToken(ctx context.Context, publicToken string) (*provider.ExchangeResponse, error) {
	if m.ExchangePublicTokenFunc != nil {
		return m.ExchangePublicTokenFunc(ctx, publicToken)
	}
	return &provider.ExchangeResponse{AccessToken: "access-token", ItemID: "item-1", InstitutionName: "Test Bank"}, nil
}

func (m *MockProviderClient) ResolveOAuthCallback(ctx context.Context, oauthStateID string) (*provider.ExchangeResponse, error) {
	if m.ResolveOAuthCallbackFunc != nil {
		return m.ResolveOAuthCallbackFunc(ctx, oauthStateID)
	}
	return &provider.ExchangeResponse{AccessToken: "access-token", ItemID: "item-1", InstitutionName: "Test Bank"}, nil
}

func (m *MockProviderClient) Refresh(ctx context.Context, accessCredential string) (*provider.AccountsResponse, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, accessCredential)
	}
	return &provider.AccountsResponse{}, nil
}

func (m *MockProviderClient) Revoke(ctx context.Context, accessCredential string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, accessCredential)
	}
	return nil
}

func (m *MockProviderClient) FireWebhook(ctx context.Context, itemID, webhookType, webhookCode string) error {
	if m.FireWebhookFunc != nil {
		return m.FireWebhookFunc(ctx, itemID, webhookType, webhookCode)
	}
	return nil
}

// MockAttemptRepo implements link.AttemptRepository for testing
type MockAttemptRepo struct {
	CreateFunc            func(ctx context.Context, attempt *link.Attempt) error
	GetActiveByUserIDFunc func(ctx context.Context, userID int64) (*link.Attempt, error)
	GetByIDFunc           func(ctx context.Context, attemptID string) (*link.Attempt, error)
	GetByOAuthStateFunc   func(ctx context.Context, userID int64, oauthStateID string) (*link.Attempt, error)
	TransitionFunc        func(ctx context.Context, attemptID string, from []link.AttemptState, to link.AttemptState) (bool, error)
	RecordSuccessFunc     func(ctx context.Context, attemptID string, from []link.AttemptState, payload *link.SuccessPayload) (bool, error)
	BindOAuthStateFunc    func(ctx context.Context, attemptID string, oauthStateID string) error
	ConsumePayloadFunc    func(ctx context.Context, attemptID string) (*link.SuccessPayload, error)
	ClaimExchangeFunc     func(ctx context.Context, attemptID string) (bool, error)
	MarkExchangedFunc     func(ctx context.Context, attemptID string, item *link.Item) error
	MarkFailedFunc        func(ctx context.Context, attemptID string, state link.AttemptState, errorCode string) error
}

func (m *MockAttemptRepo) Create(ctx context.Context, attempt *link.Attempt) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, attempt)
	}
	return nil
}

func (m *MockAttemptRepo) GetActiveByUserID(ctx context.Context, userID int64) (*link.Attempt, error) {
	if m.GetActiveByUserIDFunc != nil {
		return m.GetActiveByUserIDFunc(ctx, userID)
	}
	return nil, link.ErrNoActiveAttempt
}

func (m *MockAttemptRepo) GetByID(ctx context.Context, attemptID string) (*link.Attempt, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, attemptID)
	}
	return nil, link.ErrNoActiveAttempt
}

func (m *MockAttemptRepo) GetByOAuthState(ctx context.Context, userID int64, oauthStateID string) (*link.Attempt, error) {
	if m.GetByOAuthStateFunc != nil {
		return m.GetByOAuthStateFunc(ctx, userID, oauthStateID)
	}
	return nil, link.ErrNoActiveAttempt
}

func (m *MockAttemptRepo) Transition(ctx context.Context, attemptID string, from []link.AttemptState, to link.AttemptState) (bool, error) {
	if m.TransitionFunc != nil {
		return m.TransitionFunc(ctx, attemptID, from, to)
	}
	return true, nil
}

func (m *MockAttemptRepo) RecordSuccess(ctx context.Context, attemptID string, from []link.AttemptState, payload *link.SuccessPayload) (bool, error) {
	if m.RecordSuccessFunc != nil {
		return m.RecordSuccessFunc(ctx, attemptID, from, payload)
	}
	return true, nil
}

func (m *MockAttemptRepo) BindOAuthState(ctx context.Context, attemptID string, oauthStateID string) error {
	if m.BindOAuthStateFunc != nil {
		return m.BindOAuthStateFunc(ctx, attemptID, oauthStateID)
	}
	return nil
}

func (m *MockAttemptRepo) ConsumePayload(ctx context.Context, attemptID string) (*link.SuccessPayload, error) {
	if m.ConsumePayloadFunc != nil {
		return m.ConsumePayloadFunc(ctx, attemptID)
	}
	return nil, nil
}

func (m *MockAttemptRepo) ClaimExchange(ctx context.Context, attemptID string) (bool, error) {
	if m.ClaimExchangeFunc != nil {
		return m.ClaimExchangeFunc(ctx, attemptID)
	}
	return true, nil
}

func (m *MockAttemptRepo) MarkExchanged(ctx context.Context, attemptID string, item *link.Item) error {
	if m.MarkExchangedFunc != nil {
		return m.MarkExchangedFunc(ctx, attemptID, item)
	}
	return nil
}

func (m *MockAttemptRepo) MarkFailed(ctx context.Context, attemptID string, state link.AttemptState, errorCode string) error {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, attemptID, state, errorCode)
	}
	return nil
}

// MockItemRepo implements link.ItemRepository for testing
type MockItemRepo struct {
	GetForUserFunc        func(ctx context.Context, id string, userID int64) (*link.Item, error)
	ListByUserIDFunc      func(ctx context.Context, userID int64) ([]*link.Item, error)
	ListActiveUserIDsFunc func(ctx context.Context) ([]int64, error)
	UpdateStatusFunc      func(ctx context.Context, id string, status link.ItemStatus) error
	TouchRefreshedFunc    func(ctx context.Context, id string) error
}

func (m *MockItemRepo) GetForUser(ctx context.Context, id string, userID int64) (*link.Item, error) {
	if m.GetForUserFunc != nil {
		return m.GetForUserFunc(ctx, id, userID)
	}
	return nil, link.ErrItemNotFound
}

func (m *MockItemRepo) ListByUserID(ctx context.Context, userID int64) ([]*link.Item, error) {
	if m.ListByUserIDFunc != nil {
		return m.ListByUserIDFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockItemRepo) ListActiveUserIDs(ctx context.Context) ([]int64, error) {
	if m.ListActiveUserIDsFunc != nil {
		return m.ListActiveUserIDsFunc(ctx)
	}
	return nil, nil
}

func (m *MockItemRepo) UpdateStatus(ctx context.Context, id string, status link.ItemStatus) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, status)
	}
	return nil
}

func (m *MockItemRepo) TouchRefreshed(ctx context.Context, id string) error {
	if m.TouchRefreshedFunc != nil {
		return m.TouchRefreshedFunc(ctx, id)
	}
	return nil
}

func newLinkHandler(client *MockProviderClient, attempts *MockAttemptRepo, items *MockItemRepo) *LinkHandler {
	service := link.NewService(client, attempts, items, nil)
	return NewLinkHandler(service, false)
}

func authedRequest(method, target string, body []byte, userID int64) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	ctx := context.WithValue(req.Context(), middleware.UserIDKey, userID)
	return req.WithContext(ctx)
}

func TestHandleCreateToken(t *testing.T) {
	tests := []struct {
		name           string
		client         *MockProviderClient
		expectedStatus int
	}{
		{
			name:           "Success",
			client:         &MockProviderClient{},
			expectedStatus: http.StatusOK,
		},
		{
			name: "Provider Unavailable",
			client: &MockProviderClient{
				CreateLinkTokenFunc: func(ctx context.Context, userID string) (*provider.LinkTokenResponse, error) {
					return nil, provider.ErrUnavailable
				},
			},
			expectedStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newLinkHandler(tt.client, &MockAttemptRepo{}, &MockItemRepo{})

			req := authedRequest(http.MethodPost, "/api/link/token", nil, 1)
			rr := httptest.NewRecorder()
			handler.HandleCreateToken(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if tt.expectedStatus == http.StatusOK {
				var resp LinkTokenResponse
				if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if resp.LinkToken != "link-sandbox-token" {
					t.Errorf("LinkToken = %q, want %q", resp.LinkToken, "link-sandbox-token")
				}
			}
		})
	}
}

func TestHandleCreateToken_Unauthorized(t *testing.T) {
	handler := newLinkHandler(&MockProviderClient{}, &MockAttemptRepo{}, &MockItemRepo{})

	req := httptest.NewRequest(http.MethodPost, "/api/link/token", nil)
	rr := httptest.NewRecorder()
	handler.HandleCreateToken(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusUnauthorized)
	}
}

func TestHandleExchange_DirectPath(t *testing.T) {
	attempts := &MockAttemptRepo{
		GetActiveByUserIDFunc: func(ctx context.Context, userID int64) (*link.Attempt, error) {
			return &link.Attempt{ID: "att-1", UserID: userID, State: link.StateLinkOpened}, nil
		},
	}
	handler := newLinkHandler(&MockProviderClient{}, attempts, &MockItemRepo{})

	body, _ := json.Marshal(ExchangeRequest{PublicToken: "public-sandbox-abc", InstitutionName: "Test Bank"})
	req := authedRequest(http.MethodPost, "/api/link/exchange", body, 1)
	rr := httptest.NewRecorder()
	handler.HandleExchange(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v (%s)", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp LinkResultResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success {
		t.Error("expected success=true")
	}
	if resp.InstitutionName != "Test Bank" {
		t.Errorf("InstitutionName = %q, want %q", resp.InstitutionName, "Test Bank")
	}
}

func TestHandleExchange_RedirectPath(t *testing.T) {
	exchangeCalls := 0
	client := &MockProviderClient{
		ExchangePublicTokenFunc: func(ctx context.Context, publicToken string) (*provider.ExchangeResponse, error) {
			exchangeCalls++
			return &provider.ExchangeResponse{AccessToken: "access-token", ItemID: "item-1", InstitutionName: "Redirect Bank"}, nil
		},
	}
	attempts := &MockAttemptRepo{
		GetActiveByUserIDFunc: func(ctx context.Context, userID int64) (*link.Attempt, error) {
			return &link.Attempt{ID: "att-1", UserID: userID, State: link.StateLinkOpened}, nil
		},
	}
	handler := newLinkHandler(client, attempts, &MockItemRepo{})

	body, _ := json.Marshal(ExchangeRequest{
		PublicToken:      "public-sandbox-abc",
		InstitutionName:  "Redirect Bank",
		OAuthStateID:     "oauth-state-1",
		RequiresRedirect: true,
	})
	req := authedRequest(http.MethodPost, "/api/link/exchange", body, 1)
	rr := httptest.NewRecorder()
	handler.HandleExchange(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}

	var resp LinkResultResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Pending {
		t.Error("expected pending=true when a redirect is required")
	}
	if exchangeCalls != 0 {
		t.Errorf("exchange calls = %d, want 0 (deferred to callback)", exchangeCalls)
	}
}

func TestHandleExchange_MissingPublicToken(t *testing.T) {
	handler := newLinkHandler(&MockProviderClient{}, &MockAttemptRepo{}, &MockItemRepo{})

	body, _ := json.Marshal(ExchangeRequest{InstitutionName: "Test Bank"})
	req := authedRequest(http.MethodPost, "/api/link/exchange", body, 1)
	rr := httptest.NewRecorder()
	handler.HandleExchange(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleCallback_Unauthenticated(t *testing.T) {
	providerCalls := 0
	client := &MockProviderClient{
		ResolveOAuthCallbackFunc: func(ctx context.Context, oauthStateID string) (*provider.ExchangeResponse, error) {
			providerCalls++
			return nil, nil
		},
	}
	handler := newLinkHandler(client, &MockAttemptRepo{}, &MockItemRepo{})

	body, _ := json.Marshal(CallbackRequest{OAuthStateID: "oauth-state-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/link/callback", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.HandleCallback(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusUnauthorized)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Code != "UNAUTHENTICATED_CALLBACK" {
		t.Errorf("error code = %q, want %q", resp.Code, "UNAUTHENTICATED_CALLBACK")
	}
	if providerCalls != 0 {
		t.Errorf("provider calls = %d, want 0", providerCalls)
	}
}

func TestHandleCallback_MissingState(t *testing.T) {
	providerCalls := 0
	client := &MockProviderClient{
		ResolveOAuthCallbackFunc: func(ctx context.Context, oauthStateID string) (*provider.ExchangeResponse, error) {
			providerCalls++
			return nil, nil
		},
		ExchangePublicTokenFunc: func(ctx context.Context, publicToken string) (*provider.ExchangeResponse, error) {
			providerCalls++
			return nil, nil
		},
	}
	handler := newLinkHandler(client, &MockAttemptRepo{}, &MockItemRepo{})

	body, _ := json.Marshal(CallbackRequest{})
	req := authedRequest(http.MethodPost, "/api/link/callback", body, 1)
	rr := httptest.NewRecorder()
	handler.HandleCallback(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Code != "MISSING_CALLBACK_STATE" {
		t.Errorf("error code = %q, want %q", resp.Code, "MISSING_CALLBACK_STATE")
	}
	if providerCalls != 0 {
		t.Errorf("provider calls = %d, want 0", providerCalls)
	}
}

func TestHandleCallback_ServerPayload(t *testing.T) {
	attempts := &MockAttemptRepo{
		GetByOAuthStateFunc: func(ctx context.Context, userID int64, oauthStateID string) (*link.Attempt, error) {
			return &link.Attempt{ID: "att-1", UserID: userID, State: link.StateSuccess, OAuthStateID: oauthStateID}, nil
		},
		ConsumePayloadFunc: func(ctx context.Context, attemptID string) (*link.SuccessPayload, error) {
			return &link.SuccessPayload{PublicToken: "public-cached", InstitutionName: "Redirect Bank", OAuthStateID: "oauth-state-1"}, nil
		},
	}
	handler := newLinkHandler(&MockProviderClient{}, attempts, &MockItemRepo{})

	body, _ := json.Marshal(CallbackRequest{OAuthStateID: "oauth-state-1"})
	req := authedRequest(http.MethodPost, "/api/link/callback", body, 1)
	rr := httptest.NewRecorder()
	handler.HandleCallback(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v (%s)", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp LinkResultResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success {
		t.Error("expected success=true")
	}
}

func TestHandleRefresh_RevokedItem(t *testing.T) {
	items := &MockItemRepo{
		GetForUserFunc: func(ctx context.Context, id string, userID int64) (*link.Item, error) {
			return &link.Item{ID: id, UserID: userID, Status: link.ItemRevoked}, nil
		},
	}
	handler := newLinkHandler(&MockProviderClient{}, &MockAttemptRepo{}, items)

	req := authedRequest(http.MethodPost, "/api/link/item-1/refresh", nil, 1)
	req.SetPathValue("itemId", "item-1")
	rr := httptest.NewRecorder()
	handler.HandleRefresh(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Code != "PROVIDER_REJECTED" {
		t.Errorf("error code = %q, want %q", resp.Code, "PROVIDER_REJECTED")
	}
}

func TestHandleDisconnect(t *testing.T) {
	statusUpdates := make(map[string]link.ItemStatus)
	items := &MockItemRepo{
		GetForUserFunc: func(ctx context.Context, id string, userID int64) (*link.Item, error) {
			return &link.Item{ID: id, UserID: userID, Status: link.ItemActive, AccessCredential: "access-token"}, nil
		},
		UpdateStatusFunc: func(ctx context.Context, id string, status link.ItemStatus) error {
			statusUpdates[id] = status
			return nil
		},
	}
	handler := newLinkHandler(&MockProviderClient{}, &MockAttemptRepo{}, items)

	req := authedRequest(http.MethodDelete, "/api/link/item-1", nil, 1)
	req.SetPathValue("itemId", "item-1")
	rr := httptest.NewRecorder()
	handler.HandleDisconnect(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	if statusUpdates["item-1"] != link.ItemRevoked {
		t.Errorf("item status = %q, want %q", statusUpdates["item-1"], link.ItemRevoked)
	}
}

func TestHandleDisconnect_NotFound(t *testing.T) {
	handler := newLinkHandler(&MockProviderClient{}, &MockAttemptRepo{}, &MockItemRepo{})

	req := authedRequest(http.MethodDelete, "/api/link/item-404", nil, 1)
	req.SetPathValue("itemId", "item-404")
	rr := httptest.NewRecorder()
	handler.HandleDisconnect(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusNotFound)
	}
}

func TestHandleWebhookTest_ProductionDisabled(t *testing.T) {
	service := link.NewService(&MockProviderClient{}, &MockAttemptRepo{}, &MockItemRepo{}, nil)
	handler := NewLinkHandler(service, true)

	body, _ := json.Marshal(WebhookTestRequest{ItemID: "item-1", Type: "ITEM", Code: "ERROR"})
	req := authedRequest(http.MethodPost, "/api/link/webhook-test", body, 1)
	rr := httptest.NewRecorder()
	handler.HandleWebhookTest(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusForbidden)
	}
}

func TestHandleWebhookTest_Sandbox(t *testing.T) {
	fired := false
	client := &MockProviderClient{
		FireWebhookFunc: func(ctx context.Context, itemID, webhookType, webhookCode string) error {
			fired = true
			return nil
		},
	}
	items := &MockItemRepo{
		GetForUserFunc: func(ctx context.Context, id string, userID int64) (*link.Item, error) {
			return &link.Item{ID: id, UserID: userID, Status: link.ItemActive}, nil
		},
	}
	handler := newLinkHandler(client, &MockAttemptRepo{}, items)

	body, _ := json.Marshal(WebhookTestRequest{ItemID: "item-1", Type: "ITEM", Code: "ERROR"})
	req := authedRequest(http.MethodPost, "/api/link/webhook-test", body, 1)
	rr := httptest.NewRecorder()
	handler.HandleWebhookTest(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	if !fired {
		t.Error("expected sandbox webhook to fire")
	}
}
