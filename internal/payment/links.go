// Package payment generates customer-facing payment links.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultStripeAPI = "https://api.stripe.com"

// LinkRequest describes the charge a link should collect.
type LinkRequest struct {
	AmountCents int64
	Currency    string
	Description string
}

// Stripe creates one-off checkout links through the Stripe Checkout API.
type Stripe struct {
	apiBase string
	key     string
	client  *http.Client
	logger  *slog.Logger
}

type StripeConfig struct {
	APIBase string
	Key     string
	Logger  *slog.Logger
}

func NewStripe(cfg StripeConfig) *Stripe {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultStripeAPI
	}
	return &Stripe{
		apiBase: cfg.APIBase,
		key:     cfg.Key,
		client:  &http.Client{Timeout: 20 * time.Second},
		logger:  cfg.Logger,
	}
}

// Configured reports whether a Stripe key is present. Without one the
// caller should fall back to the business's static payment link.
func (s *Stripe) Configured() bool { return s.key != "" }

type checkoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Create builds a single-payment checkout session and returns its URL.
func (s *Stripe) Create(ctx context.Context, req LinkRequest) (string, error) {
	if req.AmountCents <= 0 {
		return "", fmt.Errorf("payment link amount must be positive, got %d", req.AmountCents)
	}
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = "usd"
	}
	description := req.Description
	if description == "" {
		description = "Order payment"
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", currency)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.AmountCents, 10))
	form.Set("line_items[0][price_data][product_data][name]", description)

	httpReq, err := http.NewRequestWithContext(ctx, "POST",
		s.apiBase+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "Bearer "+s.key)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("stripe request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("stripe API %d: %s", resp.StatusCode, string(respBody))
	}

	var session checkoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", fmt.Errorf("decode session: %w", err)
	}
	if session.URL == "" {
		return "", fmt.Errorf("stripe returned session %s without a URL", session.ID)
	}

	s.logger.Info("payment link created", "session", session.ID, "amount_cents", req.AmountCents)
	return session.URL, nil
}
