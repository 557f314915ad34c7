// Package capability holds the fixed set of specialized response handlers
// and the registry the dispatcher resolves them through.
package capability

import (
	"context"

	"shopbot/internal/domain"
)

// Sender is the slice of the delivery service the handlers use.
type Sender interface {
	SendText(ctx context.Context, pageProviderID, senderID, text string) error
	SendAttachment(ctx context.Context, pageProviderID, senderID, imageURL string) error
	SendPaymentLink(ctx context.Context, pageProviderID, senderID, title, linkURL string) error
}

// Registry is the capability name → handler table, built once at startup.
type Registry struct {
	handlers map[string]domain.CapabilityHandler
}

func NewRegistry(handlers ...domain.CapabilityHandler) *Registry {
	m := make(map[string]domain.CapabilityHandler, len(handlers))
	for _, h := range handlers {
		m[h.Name()] = h
	}
	return &Registry{handlers: m}
}

func (r *Registry) Handler(name string) (domain.CapabilityHandler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered capability names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
