package domain

import "errors"

// Failure taxonomy. Callers branch with errors.Is; everything else is
// "unexpected" and handled at the dispatch boundary.
var (
	// ErrNotFound covers missing pages and customers. During ingestion it
	// means silent drop, never an error surfaced to the platform.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate marks a redelivered provider message id. A no-op.
	ErrDuplicate = errors.New("duplicate message")

	// ErrContractViolation marks model output that failed validation against
	// its declared schema. The responsible invocation aborts with no side
	// effects.
	ErrContractViolation = errors.New("model output contract violation")

	// ErrNotSendable marks a delivery precondition failure (unresolvable
	// page, unknown customer, missing credential). Not retried.
	ErrNotSendable = errors.New("not sendable")
)
