package router

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"shopbot/internal/domain"
	"shopbot/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeProvider struct {
	response string
	err      error
	lastReq  domain.CompletionRequest
}

func (f *fakeProvider) Complete(_ context.Context, req domain.CompletionRequest) (string, error) {
	f.lastReq = req
	return f.response, f.err
}

func (f *fakeProvider) Name() string { return "fake" }

func newTestRouter(p *fakeProvider) *Router {
	return New(Config{Provider: p, Contract: provider.NewContract(), Logger: testLogger()})
}

func TestRouteSingleDecision(t *testing.T) {
	p := &fakeProvider{response: `[{"capability": "product-suggestion", "fragment": "do you have boots?", "reason": "product inquiry"}]`}
	r := newTestRouter(p)

	decisions, err := r.Route(context.Background(), Input{
		Business: domain.Business{Name: "Acme"},
		Message:  "do you have boots?",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("decisions = %d, want 1", len(decisions))
	}
	if decisions[0].Capability != domain.CapabilityProductSuggestion {
		t.Errorf("capability = %s", decisions[0].Capability)
	}
}

func TestRouteMultiIntentFansOut(t *testing.T) {
	p := &fakeProvider{response: `[
		{"capability": "product-suggestion", "fragment": "show me boots", "reason": "discovery"},
		{"capability": "payment", "fragment": "and how do I pay?", "reason": "payment question"}
	]`}
	r := newTestRouter(p)

	decisions, err := r.Route(context.Background(), Input{Message: "show me boots and how do I pay?"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("decisions = %d, want 2", len(decisions))
	}
}

func TestRouteCollapsesDuplicateCapability(t *testing.T) {
	p := &fakeProvider{response: `[
		{"capability": "general", "fragment": "hi", "reason": "greeting"},
		{"capability": "general", "fragment": "hello again", "reason": "greeting"}
	]`}
	r := newTestRouter(p)

	decisions, err := r.Route(context.Background(), Input{Message: "hi hello again"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("decisions = %d, want 1", len(decisions))
	}
	if decisions[0].Fragment != "hi" {
		t.Errorf("kept fragment %q, want first one", decisions[0].Fragment)
	}
}

func TestRouteEmptyFragmentGetsWholeMessage(t *testing.T) {
	p := &fakeProvider{response: `[{"capability": "general", "fragment": "", "reason": "greeting"}]`}
	r := newTestRouter(p)

	decisions, err := r.Route(context.Background(), Input{Message: "hello there"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if decisions[0].Fragment != "hello there" {
		t.Errorf("fragment = %q, want whole message", decisions[0].Fragment)
	}
}

func TestRouteEmptyOutputFallsBackToGeneral(t *testing.T) {
	p := &fakeProvider{response: `[]`}
	r := newTestRouter(p)

	decisions, err := r.Route(context.Background(), Input{Message: "hmm"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(decisions) != 1 || decisions[0].Capability != domain.CapabilityGeneral {
		t.Errorf("got %+v, want one general decision", decisions)
	}
}

func TestRouteUnknownCapabilityIsContractViolation(t *testing.T) {
	p := &fakeProvider{response: `[{"capability": "weather", "fragment": "x", "reason": "y"}]`}
	r := newTestRouter(p)

	_, err := r.Route(context.Background(), Input{Message: "what's the weather?"})
	if !errors.Is(err, domain.ErrContractViolation) {
		t.Errorf("got %v, want ErrContractViolation", err)
	}
}

func TestRouteNonJSONOutputIsContractViolation(t *testing.T) {
	p := &fakeProvider{response: "I think this should go to the general agent."}
	r := newTestRouter(p)

	_, err := r.Route(context.Background(), Input{Message: "hi"})
	if !errors.Is(err, domain.ErrContractViolation) {
		t.Errorf("got %v, want ErrContractViolation", err)
	}
}

func TestRoutePromptCarriesContext(t *testing.T) {
	p := &fakeProvider{response: `[{"capability": "general", "fragment": "hi", "reason": "greeting"}]`}
	r := newTestRouter(p)

	_, err := r.Route(context.Background(), Input{
		Business: domain.Business{Name: "Acme Shoes"},
		History: []domain.ConversationTurn{
			{Direction: domain.DirectionIn, Text: "do you ship to Kenya?"},
			{Direction: domain.DirectionOut, Text: "we do"},
		},
		Message: "hi",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	for _, want := range []string{"Acme Shoes", "do you ship to Kenya?", "customer:", "shop:", "JSON schema"} {
		if !strings.Contains(p.lastReq.Prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if p.lastReq.System == "" {
		t.Error("system prompt empty")
	}
}
