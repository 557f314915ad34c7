package capability

import (
	"context"
	"fmt"
	"log/slog"

	"shopbot/internal/domain"
	"shopbot/internal/payment"
	"shopbot/internal/provider"
)

// PaymentReply is the declared output schema of the payment capability.
type PaymentReply struct {
	Confirmed bool   `json:"confirmed" jsonschema:"description=True only when the customer explicitly confirmed they want to pay now"`
	Thought   string `json:"thought" validate:"required" jsonschema:"description=Reasoning behind the decision"`
	Message   string `json:"message" jsonschema:"description=Reply for the customer when no link is sent yet"`
}

// LinkCreator generates payment links for a charge.
type LinkCreator interface {
	Configured() bool
	Create(ctx context.Context, req payment.LinkRequest) (string, error)
}

// Payment sends a payment link once the customer confirms intent to pay.
type Payment struct {
	provider domain.ModelProvider
	contract *provider.Contract
	orders   domain.OrderStore
	links    LinkCreator
	sender   Sender
	profiles *Profiles
	logger   *slog.Logger
}

type PaymentConfig struct {
	Provider domain.ModelProvider
	Contract *provider.Contract
	Orders   domain.OrderStore
	Links    LinkCreator
	Sender   Sender
	Profiles *Profiles
	Logger   *slog.Logger
}

func NewPayment(cfg PaymentConfig) *Payment {
	return &Payment{
		provider: cfg.Provider,
		contract: cfg.Contract,
		orders:   cfg.Orders,
		links:    cfg.Links,
		sender:   cfg.Sender,
		profiles: cfg.Profiles,
		logger:   cfg.Logger,
	}
}

func (p *Payment) Name() string { return domain.CapabilityPayment }

func (p *Payment) Handle(ctx context.Context, task domain.DispatchTask) error {
	prompt := basePrompt(task) + provider.Instructions(PaymentReply{})

	raw, err := p.provider.Complete(ctx, domain.CompletionRequest{
		System: p.profiles.System(domain.CapabilityPayment),
		Prompt: prompt,
	})
	if err != nil {
		return fmt.Errorf("payment model call: %w", err)
	}

	var reply PaymentReply
	if err := p.contract.Decode(raw, &reply); err != nil {
		return err
	}

	if !reply.Confirmed {
		if reply.Message == "" {
			return nil
		}
		return p.sender.SendText(ctx, task.Page.ProviderID, task.Customer.SenderID, reply.Message)
	}

	linkURL, err := p.paymentLink(ctx, task)
	if err != nil {
		return err
	}
	if linkURL == "" {
		p.logger.Warn("payment confirmed but no link available", "customer", task.Customer.ID)
		return nil
	}

	title := fmt.Sprintf("Pay %s", task.Business.Name)
	return p.sender.SendPaymentLink(ctx, task.Page.ProviderID, task.Customer.SenderID, title, linkURL)
}

// paymentLink prefers a generated checkout link for the customer's pending
// order total, falling back to the business's static link.
func (p *Payment) paymentLink(ctx context.Context, task domain.DispatchTask) (string, error) {
	if p.links != nil && p.links.Configured() {
		total, err := p.orders.PendingOrderTotal(ctx, task.Customer.ID)
		if err != nil {
			return "", fmt.Errorf("pending order total: %w", err)
		}
		if total > 0 {
			linkURL, err := p.links.Create(ctx, payment.LinkRequest{
				AmountCents: total,
				Currency:    task.Business.Currency,
				Description: fmt.Sprintf("%s order", task.Business.Name),
			})
			if err != nil {
				return "", fmt.Errorf("create payment link: %w", err)
			}
			return linkURL, nil
		}
		p.logger.Debug("no pending order to pay", "customer", task.Customer.ID)
	}
	return task.Business.PaymentLink, nil
}
