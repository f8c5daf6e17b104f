package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AnTengye/casedesk/config"
)

// Checkout session states reported by the payment provider
const (
	CheckoutOpen     = "open"
	CheckoutComplete = "complete"
	CheckoutExpired  = "expired"
)

// Webhook event types
const (
	EventCheckoutCompleted = "checkout.completed"
	EventCheckoutExpired   = "checkout.expired"
)

// CheckoutRequest asks the provider for a hosted checkout page
type CheckoutRequest struct {
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description,omitempty"`
	SuccessURL  string          `json:"success_url,omitempty"`
	CancelURL   string          `json:"cancel_url,omitempty"`
}

// CheckoutSession is the provider's view of a checkout
type CheckoutSession struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
}

// WebhookEvent is the payload the provider posts on checkout changes
type WebhookEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data CheckoutSession `json:"data"`
}

// PaymentGateway is the part of the provider the workflow and poller use
type PaymentGateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetCheckout(ctx context.Context, sessionID string) (*CheckoutSession, error)
}

type providerError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// PaymentProvider talks to the hosted checkout API
type PaymentProvider struct {
	config     *config.PaymentConfig
	httpClient *http.Client
}

func NewPaymentProvider(cfg *config.PaymentConfig) *PaymentProvider {
	return &PaymentProvider{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateCheckout opens a checkout session for a charge
func (p *PaymentProvider) CreateCheckout(ctx context.Context, reqBody CheckoutRequest) (*CheckoutSession, error) {
	if reqBody.SuccessURL == "" {
		reqBody.SuccessURL = p.config.SuccessURL
	}
	if reqBody.CancelURL == "" {
		reqBody.CancelURL = p.config.CancelURL
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.APIURL+"/checkout/sessions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", reqBody.Reference)

	return p.do(req)
}

// GetCheckout queries the state of a checkout session
func (p *PaymentProvider) GetCheckout(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/checkout/sessions/%s", p.config.APIURL, sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	return p.do(req)
}

func (p *PaymentProvider) do(req *http.Request) (*CheckoutSession, error) {
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var perr providerError
		if json.Unmarshal(body, &perr) == nil && perr.Error.Message != "" {
			return nil, fmt.Errorf("payment provider error (%d): %s", resp.StatusCode, perr.Error.Message)
		}
		return nil, fmt.Errorf("payment provider error (%d)", resp.StatusCode)
	}

	var session CheckoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}
	return &session, nil
}

// SignWebhook computes the hex HMAC-SHA256 of a webhook body
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks the signature header and decodes the event
func (p *PaymentProvider) VerifyWebhook(body []byte, signature string) (*WebhookEvent, error) {
	if p.config.WebhookSecret == "" {
		return nil, fmt.Errorf("webhook secret not configured: %w", ErrForbidden)
	}
	expected := SignWebhook(p.config.WebhookSecret, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, fmt.Errorf("invalid webhook signature: %w", ErrForbidden)
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", ErrValidation)
	}
	return &event, nil
}
