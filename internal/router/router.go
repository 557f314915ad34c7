// Package router implements the super agent: the pure decision function
// that assigns each inbound message (or its fragments) to capabilities.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"shopbot/internal/domain"
	"shopbot/internal/provider"
)

const systemPrompt = `You are the routing brain of a small online shop's messaging assistant.
Decide which specialized capability should handle the customer's message. Available capabilities:

general: greetings, thanks, chit-chat, anything that fits nowhere else.
product-suggestion: product discovery, recommendations, and questions about price, size, color or availability.
order-taking: the customer has agreed to buy and is confirming products, quantities and sizes.
payment: the customer asks how to pay or is ready to pay now.

Split a message with several intents into several decisions, one capability each, and give every
decision only the part of the message it should handle. Never pick the same capability twice for
one message. When the intent is unclear or matches no specialized capability, route to general
instead of leaving the message unhandled.`

// Router is a pure decision function over its inputs; its only side effect
// is the language-model call itself.
type Router struct {
	provider domain.ModelProvider
	contract *provider.Contract
	logger   *slog.Logger
}

type Config struct {
	Provider domain.ModelProvider
	Contract *provider.Contract
	Logger   *slog.Logger
}

func New(cfg Config) *Router {
	return &Router{provider: cfg.Provider, contract: cfg.Contract, logger: cfg.Logger}
}

// Input is the context the router decides over.
type Input struct {
	Business domain.Business
	History  []domain.ConversationTurn
	Message  string
}

// Route returns the ordered routing decisions for one message. Output that
// fails the RoutingDecision schema is a contract violation: no capability
// is invoked for this message and the error is surfaced to the caller for
// logging, not retried.
func (r *Router) Route(ctx context.Context, in Input) ([]domain.RoutingDecision, error) {
	raw, err := r.provider.Complete(ctx, domain.CompletionRequest{
		System: systemPrompt,
		Prompt: r.buildPrompt(in),
	})
	if err != nil {
		return nil, fmt.Errorf("router model call: %w", err)
	}

	var decisions []domain.RoutingDecision
	if err := r.contract.Decode(raw, &decisions); err != nil {
		return nil, err
	}

	decisions = normalize(decisions, in.Message)
	if len(decisions) == 0 {
		// The model is told to fall back to general itself; enforce it here
		// too so an ambiguous message is never silently unhandled.
		decisions = []domain.RoutingDecision{{
			Capability: domain.CapabilityGeneral,
			Fragment:   in.Message,
			Reason:     "no specialized capability matched",
		}}
	}

	for _, d := range decisions {
		r.logger.Debug("routing decision", "capability", d.Capability, "reason", d.Reason)
	}
	return decisions, nil
}

func (r *Router) buildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("Business:\n")
	fmt.Fprintf(&b, "Name: %s\n", in.Business.Name)
	if in.Business.About != "" {
		fmt.Fprintf(&b, "About: %s\n", in.Business.About)
	}
	b.WriteString("\nConversation so far:\n")
	if len(in.History) == 0 {
		b.WriteString("(no previous messages)\n")
	}
	for _, t := range in.History {
		role := "customer"
		if t.Direction == domain.DirectionOut {
			role = "shop"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, t.Text)
	}
	b.WriteString("\nCurrent message:\n")
	b.WriteString(in.Message)
	b.WriteString("\n\n")
	b.WriteString(provider.Instructions([]domain.RoutingDecision{}))
	return b.String()
}

// normalize collapses duplicate capabilities (first decision wins, per the
// no-double-invocation rule) and fills empty fragments with the whole
// message.
func normalize(decisions []domain.RoutingDecision, message string) []domain.RoutingDecision {
	seen := make(map[string]bool, len(decisions))
	out := decisions[:0]
	for _, d := range decisions {
		if seen[d.Capability] {
			continue
		}
		seen[d.Capability] = true
		if strings.TrimSpace(d.Fragment) == "" {
			d.Fragment = message
		}
		out = append(out, d)
	}
	return out
}
