// Package delivery sends capability responses to customers and records
// what was actually delivered.
package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"shopbot/internal/domain"

	"github.com/google/uuid"
)

// Store is the slice of persistence the delivery service needs.
type Store interface {
	domain.PageStore
	domain.CustomerStore
	domain.MessageStore
}

// Service implements the three outbound operations: text, attachment,
// payment link. Preconditions (resolvable page with a credential, customer
// belonging to that page, non-empty payload) fail with
// domain.ErrNotSendable and are never retried here. An OutboundMessage row
// is written only after the platform accepted the send.
type Service struct {
	store     Store
	connector domain.ConnectorResolver
	logger    *slog.Logger
}

type Config struct {
	Store     Store
	Connector domain.ConnectorResolver
	Logger    *slog.Logger
}

func NewService(cfg Config) *Service {
	return &Service{store: cfg.Store, connector: cfg.Connector, logger: cfg.Logger}
}

func (s *Service) SendText(ctx context.Context, pageProviderID, senderID, text string) error {
	return s.send(ctx, pageProviderID, senderID, domain.KindText, text, func(ctx context.Context, c domain.Connector, page domain.Page) (*domain.Receipt, error) {
		return c.SendText(ctx, page, senderID, text)
	})
}

// SendAttachment delivers one image by URL.
func (s *Service) SendAttachment(ctx context.Context, pageProviderID, senderID, imageURL string) error {
	return s.send(ctx, pageProviderID, senderID, domain.KindImage, imageURL, func(ctx context.Context, c domain.Connector, page domain.Page) (*domain.Receipt, error) {
		return c.SendImage(ctx, page, senderID, imageURL)
	})
}

func (s *Service) SendPaymentLink(ctx context.Context, pageProviderID, senderID, title, linkURL string) error {
	return s.send(ctx, pageProviderID, senderID, domain.KindPaymentLink, linkURL, func(ctx context.Context, c domain.Connector, page domain.Page) (*domain.Receipt, error) {
		return c.SendPaymentLink(ctx, page, senderID, title, linkURL)
	})
}

type sendFunc func(ctx context.Context, c domain.Connector, page domain.Page) (*domain.Receipt, error)

func (s *Service) send(ctx context.Context, pageProviderID, senderID string, kind domain.PayloadKind, payload string, fn sendFunc) error {
	if payload == "" {
		return fmt.Errorf("%w: empty %s payload", domain.ErrNotSendable, kind)
	}

	page, err := s.store.PageByProviderID(ctx, pageProviderID)
	if err != nil {
		return fmt.Errorf("%w: page %s not resolvable: %v", domain.ErrNotSendable, pageProviderID, err)
	}
	if page.AccessToken == "" {
		return fmt.Errorf("%w: page %s has no outbound credential", domain.ErrNotSendable, pageProviderID)
	}

	customer, err := s.store.CustomerBySender(ctx, page.ID, senderID)
	if err != nil {
		return fmt.Errorf("%w: customer %s unknown on page %s: %v", domain.ErrNotSendable, senderID, pageProviderID, err)
	}

	connector, err := s.connector.ForKind(page.Kind)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotSendable, err)
	}

	receipt, err := fn(ctx, connector, *page)
	if err != nil {
		// No outbound row: a failed delivery must not claim success.
		return fmt.Errorf("platform delivery: %w", err)
	}

	out := &domain.OutboundMessage{
		ID:         uuid.NewString(),
		PageID:     page.ID,
		CustomerID: customer.ID,
		Kind:       kind,
		Payload:    payload,
	}
	if receipt != nil {
		out.ProviderMessageID = receipt.MessageID
	}
	if err := s.store.SaveOutbound(ctx, out); err != nil {
		// The customer already has the message; losing the record is a
		// history gap, not a delivery failure.
		s.logger.Error("outbound persist failed", "err", err, "kind", kind, "customer", customer.ID)
		return nil
	}

	s.logger.Debug("delivered",
		"kind", kind,
		"page", pageProviderID,
		"customer", customer.ID,
		"provider_message_id", out.ProviderMessageID,
	)
	return nil
}
