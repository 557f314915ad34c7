package domain

import "context"

// Profile is the public profile of a sender, fetched on first contact.
type Profile struct {
	FirstName string
	LastName  string
}

// Receipt acknowledges a platform delivery. MessageID may be empty when the
// platform does not return one.
type Receipt struct {
	MessageID string
}

// Connector delivers outbound payloads to a recipient on one platform kind
// and fetches sender profiles. Implementations must not persist anything;
// persistence belongs to the delivery service.
type Connector interface {
	Kind() string
	SendText(ctx context.Context, page Page, recipientID, text string) (*Receipt, error)
	SendImage(ctx context.Context, page Page, recipientID, imageURL string) (*Receipt, error)
	SendPaymentLink(ctx context.Context, page Page, recipientID, title, url string) (*Receipt, error)
	FetchProfile(ctx context.Context, page Page, senderID string) (*Profile, error)
}

// ConnectorResolver selects the connector for a page kind.
type ConnectorResolver interface {
	ForKind(kind string) (Connector, error)
}
