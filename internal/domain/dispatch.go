package domain

import "context"

// DispatchTask is everything a capability handler needs for one routing
// decision: the decision itself plus the context loaded at ingestion time.
type DispatchTask struct {
	Decision RoutingDecision
	Page     Page
	Business Business
	Customer Customer
	History  []ConversationTurn
}

// CapabilityHandler processes one dispatched routing decision. Handlers own
// their side effects (provider calls, delivery) and must swallow their own
// failures; an error return is logged by the dispatcher, nothing more.
type CapabilityHandler interface {
	Name() string
	Handle(ctx context.Context, task DispatchTask) error
}

// Dispatcher fans routing decisions out to capability handlers. Submit must
// not block the caller beyond enqueueing and must isolate handler failures
// from sibling submissions.
type Dispatcher interface {
	Submit(task DispatchTask)
}
