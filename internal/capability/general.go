package capability

import (
	"context"
	"fmt"
	"log/slog"

	"shopbot/internal/domain"
	"shopbot/internal/provider"
)

// GeneralReply is the declared output schema of the general capability.
// Responded=false means the fragment was out of scope and another
// capability covers it; no hand-off message is sent.
type GeneralReply struct {
	Message    string  `json:"message" jsonschema:"description=Reply text for the customer; empty when responded is false"`
	Thought    string  `json:"thought" validate:"required" jsonschema:"description=Why this reply was or was not produced"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1" jsonschema:"description=Confidence between 0 and 1"`
	Responded  bool    `json:"responded" jsonschema:"description=True when the message part was in scope and a reply is included"`
}

// General handles greetings and chit-chat that no specialized capability
// claims.
type General struct {
	provider domain.ModelProvider
	contract *provider.Contract
	sender   Sender
	profiles *Profiles
	logger   *slog.Logger
}

type GeneralConfig struct {
	Provider domain.ModelProvider
	Contract *provider.Contract
	Sender   Sender
	Profiles *Profiles
	Logger   *slog.Logger
}

func NewGeneral(cfg GeneralConfig) *General {
	return &General{
		provider: cfg.Provider,
		contract: cfg.Contract,
		sender:   cfg.Sender,
		profiles: cfg.Profiles,
		logger:   cfg.Logger,
	}
}

func (g *General) Name() string { return domain.CapabilityGeneral }

func (g *General) Handle(ctx context.Context, task domain.DispatchTask) error {
	prompt := basePrompt(task) + provider.Instructions([]GeneralReply{})

	raw, err := g.provider.Complete(ctx, domain.CompletionRequest{
		System: g.profiles.System(domain.CapabilityGeneral),
		Prompt: prompt,
	})
	if err != nil {
		return fmt.Errorf("general model call: %w", err)
	}

	var replies []GeneralReply
	if err := g.contract.Decode(raw, &replies); err != nil {
		return err
	}

	for _, reply := range replies {
		if !reply.Responded || reply.Message == "" {
			g.logger.Debug("general capability deferred", "customer", task.Customer.ID, "thought", reply.Thought)
			continue
		}
		if err := g.sender.SendText(ctx, task.Page.ProviderID, task.Customer.SenderID, reply.Message); err != nil {
			// One failed send must not stop the remaining replies.
			g.logger.Error("general reply send failed", "customer", task.Customer.ID, "err", err)
		}
	}
	return nil
}
