// Package platform implements the messaging platform connectors: the
// outbound send contract plus sender profile lookup, one implementation
// per page kind.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"shopbot/internal/domain"
)

const defaultGraphAPI = "https://graph.facebook.com/v21.0"

// Messenger implements domain.Connector for the Meta Messenger Send API.
// The page access token is the outbound credential.
type Messenger struct {
	apiBase string
	client  *http.Client
	logger  *slog.Logger
}

type MessengerConfig struct {
	APIBase string
	Logger  *slog.Logger
}

func NewMessenger(cfg MessengerConfig) *Messenger {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultGraphAPI
	}
	return &Messenger{
		apiBase: cfg.APIBase,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  cfg.Logger,
	}
}

func (m *Messenger) Kind() string { return domain.PageKindMessenger }

func (m *Messenger) SendText(ctx context.Context, page domain.Page, recipientID, text string) (*domain.Receipt, error) {
	return m.send(ctx, page, map[string]any{
		"recipient": map[string]string{"id": recipientID},
		"message":   map[string]any{"text": text},
	})
}

func (m *Messenger) SendImage(ctx context.Context, page domain.Page, recipientID, imageURL string) (*domain.Receipt, error) {
	return m.send(ctx, page, map[string]any{
		"recipient": map[string]string{"id": recipientID},
		"message": map[string]any{
			"attachment": map[string]any{
				"type":    "image",
				"payload": map[string]any{"url": imageURL, "is_reusable": true},
			},
		},
	})
}

// SendPaymentLink delivers a button template whose single button opens url.
func (m *Messenger) SendPaymentLink(ctx context.Context, page domain.Page, recipientID, title, linkURL string) (*domain.Receipt, error) {
	return m.send(ctx, page, map[string]any{
		"recipient": map[string]string{"id": recipientID},
		"message": map[string]any{
			"attachment": map[string]any{
				"type": "template",
				"payload": map[string]any{
					"template_type": "button",
					"text":          title,
					"buttons": []map[string]string{
						{"type": "web_url", "url": linkURL, "title": title},
					},
				},
			},
		},
	})
}

type graphSendResponse struct {
	MessageID   string `json:"message_id"`
	RecipientID string `json:"recipient_id"`
}

func (m *Messenger) send(ctx context.Context, page domain.Page, payload map[string]any) (*domain.Receipt, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.apiBase+"/me/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+page.AccessToken)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("messenger send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("messenger API %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed graphSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		// Delivery succeeded; an unreadable ack only costs the message id.
		m.logger.Warn("messenger ack decode failed", "err", err)
		return &domain.Receipt{}, nil
	}
	return &domain.Receipt{MessageID: parsed.MessageID}, nil
}

type graphProfile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// FetchProfile loads the sender's public profile by PSID.
func (m *Messenger) FetchProfile(ctx context.Context, page domain.Page, senderID string) (*domain.Profile, error) {
	u := fmt.Sprintf("%s/%s?fields=%s", m.apiBase, url.PathEscape(senderID), url.QueryEscape("first_name,last_name"))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+page.AccessToken)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("messenger profile API %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed graphProfile
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &domain.Profile{FirstName: parsed.FirstName, LastName: parsed.LastName}, nil
}
