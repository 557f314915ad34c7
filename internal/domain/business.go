package domain

import "time"

// Page kinds supported by the platform layer.
const (
	PageKindMessenger = "messenger"
	PageKindTelegram  = "telegram"
)

// Page is a connected messaging endpoint owned by a business, holding the
// credential needed to send replies on that endpoint. Inbound events that
// reference a page id with no Page row are dropped silently: the business
// has not connected yet, which is a steady state rather than a failure.
type Page struct {
	ID          int64
	ProviderID  string // platform-assigned page/channel id
	Kind        string // messenger | telegram
	AccessToken string
	BusinessID  int64
}

// Business is the merchant a page belongs to.
type Business struct {
	ID          int64
	Name        string
	About       string
	Currency    string
	PaymentLink string // static fallback when no payment provider is configured
}

// Product is one catalog entry. Sizes is empty for products where size
// does not apply.
type Product struct {
	ID          string
	BusinessID  int64
	Name        string
	Description string
	PriceCents  int64
	Stock       int
	Sizes       []string
	ImageURL    string
}

// SizeApplies reports whether the product is sold in sizes at all.
func (p Product) SizeApplies() bool { return len(p.Sizes) > 0 }

// Customer identity is unique per (page, platform sender id). Created on the
// first inbound message from an unseen sender; never deleted here.
type Customer struct {
	ID        int64
	PageID    int64
	SenderID  string
	FirstName string
	LastName  string
	CreatedAt time.Time
}

// Order statuses written by the order-taking capability and the payment flow.
const (
	OrderStatusPending = "pending"
	OrderStatusPaid    = "paid"
)

// Order groups the confirmed lines extracted from one conversation.
type Order struct {
	ID         string
	CustomerID int64
	BusinessID int64
	Status     string
	TotalCents int64
	CreatedAt  time.Time
	Lines      []OrderLine
}

// OrderLine is one confirmed product in an order. Size is empty when the
// product is not sold in sizes.
type OrderLine struct {
	ProductID  string
	Name       string
	Quantity   int
	Size       string
	PriceCents int64
}
