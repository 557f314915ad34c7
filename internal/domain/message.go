package domain

import "time"

// PayloadKind classifies what an outbound message carried.
type PayloadKind string

const (
	KindText        PayloadKind = "text"
	KindImage       PayloadKind = "image"
	KindPaymentLink PayloadKind = "payment_link"
)

// Direction of a conversation turn relative to the business.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// InboundMessage is the immutable record of one customer message received
// through a platform webhook. ProviderMessageID is the deduplication key:
// redelivery of the same id must not produce a second record or a second reply.
type InboundMessage struct {
	ID                int64
	PageID            int64
	CustomerID        int64
	ProviderMessageID string
	Text              string
	ReceivedAt        time.Time
}

// OutboundMessage records one reply actually delivered to the platform.
// Written only after a successful platform send; ProviderMessageID holds
// the platform acknowledgement id when one was returned.
type OutboundMessage struct {
	ID                string
	PageID            int64
	CustomerID        int64
	Kind              PayloadKind
	Payload           string
	ProviderMessageID string
	SentAt            time.Time
}

// ConversationTurn is one entry in a customer's history, fed verbatim
// as context to the router and the capability handlers.
type ConversationTurn struct {
	Direction Direction
	Text      string
	At        time.Time
}
