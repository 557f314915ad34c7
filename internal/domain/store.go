package domain

import "context"

// PageStore resolves pages and their owning business.
type PageStore interface {
	PageByProviderID(ctx context.Context, providerID string) (*Page, error)
	BusinessByID(ctx context.Context, id int64) (*Business, error)
}

// CustomerStore resolves and creates customers keyed by (page, sender id).
type CustomerStore interface {
	CustomerBySender(ctx context.Context, pageID int64, senderID string) (*Customer, error)
	CreateCustomer(ctx context.Context, c *Customer) error
}

// MessageStore holds the append-only conversation history. SaveInbound must
// tolerate concurrent appends for different customers; per-row serialization
// is the store's own concern.
type MessageStore interface {
	HasInbound(ctx context.Context, customerID int64, providerMessageID string) (bool, error)
	SaveInbound(ctx context.Context, m *InboundMessage) error
	SaveOutbound(ctx context.Context, m *OutboundMessage) error
	History(ctx context.Context, customerID int64, limit int) ([]ConversationTurn, error)
}

// CatalogStore reads the current product catalog. The product-suggestion
// capability reads through this at invocation time, never from stale context.
type CatalogStore interface {
	ProductsByBusiness(ctx context.Context, businessID int64) ([]Product, error)
}

// OrderStore persists confirmed orders.
type OrderStore interface {
	SaveOrder(ctx context.Context, o *Order) error
	OrdersByCustomer(ctx context.Context, customerID int64) ([]Order, error)
	PendingOrderTotal(ctx context.Context, customerID int64) (int64, error)
}

// Store is the full persistence surface of the engine.
type Store interface {
	PageStore
	CustomerStore
	MessageStore
	CatalogStore
	OrderStore
}
