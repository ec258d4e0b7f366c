package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pharmalink/pharmalink/internal/pkg/config"
)

const (
	ProviderChargily          = "chargily"
	defaultChargilyAPIBaseURL = "https://pay.chargily.net/api/v2"
)

// ChargilyClient talks to the Chargily Pay v2 API (EDAHABIA and CIB cards).
type ChargilyClient struct {
	SecretKey  string
	APIBaseURL string
	HTTPClient *http.Client
}

// NewChargilyClient creates a client from the service configuration.
func NewChargilyClient(cfg *config.Config) *ChargilyClient {
	base := strings.TrimSpace(cfg.ChargilyAPIURL)
	if base == "" {
		base = defaultChargilyAPIBaseURL
	}
	return &ChargilyClient{
		SecretKey:  strings.TrimSpace(cfg.ChargilySecretKey),
		APIBaseURL: strings.TrimRight(base, "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *ChargilyClient) Name() string {
	return ProviderChargily
}

// CreateCheckoutSession opens a hosted checkout and returns its id and redirect URL.
func (c *ChargilyClient) CreateCheckoutSession(ctx context.Context, in CheckoutRequest) (*ProviderCheckout, error) {
	if c.SecretKey == "" {
		return nil, errors.New("CHARGILY_SECRET_KEY is not configured")
	}
	if in.SuccessURL == "" {
		return nil, errors.New("CHECKOUT_SUCCESS_URL is not configured")
	}

	metadata := map[string]string{"plan": in.Plan}
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	if in.Email != "" {
		metadata["email"] = in.Email
	}

	payload, err := json.Marshal(map[string]interface{}{
		"amount":      in.Amount,
		"currency":    strings.ToLower(in.Currency),
		"success_url": in.SuccessURL,
		"failure_url": in.FailureURL,
		"description": "PharmaLink " + in.Plan,
		"locale":      "fr",
		"metadata":    metadata,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/checkouts", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("chargily create checkout failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		CheckoutURL string `json:"checkout_url"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" || strings.TrimSpace(out.CheckoutURL) == "" {
		return nil, errors.New("chargily checkout response missing id or checkout_url")
	}
	return &ProviderCheckout{
		ID:          strings.TrimSpace(out.ID),
		CheckoutURL: strings.TrimSpace(out.CheckoutURL),
		Status:      strings.ToLower(strings.TrimSpace(out.Status)),
	}, nil
}

// VerifySignature checks the `signature` header, signed with the API secret key.
func (c *ChargilyClient) VerifySignature(payload []byte, signature string) bool {
	return VerifyWebhookSignature(payload, signature, c.SecretKey)
}

// ParseWebhook extracts the checkout id and status from an event delivery.
func (c *ChargilyClient) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	return ParseChargilyWebhook(payload)
}

// ParseChargilyWebhook parses a Chargily event of entity "event" wrapping a checkout.
func ParseChargilyWebhook(payload []byte) (*WebhookEvent, error) {
	var raw struct {
		ID     string `json:"id"`
		Entity string `json:"entity"`
		Type   string `json:"type"`
		Data   struct {
			ID     string `json:"id"`
			Entity string `json:"entity"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	if raw.Data.Entity != "" && raw.Data.Entity != "checkout" {
		return nil, fmt.Errorf("unsupported chargily webhook entity: %s", raw.Data.Entity)
	}

	out := &WebhookEvent{
		EventID:   strings.TrimSpace(raw.ID),
		Type:      strings.TrimSpace(raw.Type),
		SessionID: strings.TrimSpace(raw.Data.ID),
		Status:    strings.ToLower(strings.TrimSpace(raw.Data.Status)),
	}

	// Some deliveries only carry the outcome in the event type.
	if out.Status == "" {
		out.Status = strings.TrimPrefix(strings.ToLower(out.Type), "checkout.")
	}
	if out.SessionID == "" {
		return nil, errors.New("chargily webhook payload missing checkout id")
	}
	return out, nil
}
