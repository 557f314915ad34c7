package domain

// Capability names. The set is fixed; the router may only pick from it.
const (
	CapabilityGeneral           = "general"
	CapabilityProductSuggestion = "product-suggestion"
	CapabilityOrderTaking       = "order-taking"
	CapabilityPayment           = "payment"
)

// Capabilities lists every registered capability name.
func Capabilities() []string {
	return []string{
		CapabilityGeneral,
		CapabilityProductSuggestion,
		CapabilityOrderTaking,
		CapabilityPayment,
	}
}

// ValidCapability reports whether name is one of the fixed capability names.
func ValidCapability(name string) bool {
	switch name {
	case CapabilityGeneral, CapabilityProductSuggestion, CapabilityOrderTaking, CapabilityPayment:
		return true
	}
	return false
}

// RoutingDecision assigns one fragment of a customer message to one
// capability. A message with several intents yields several decisions,
// each dispatched independently.
type RoutingDecision struct {
	Capability string `json:"capability" validate:"required,oneof=general product-suggestion order-taking payment" jsonschema:"description=Capability to invoke: one of general\\, product-suggestion\\, order-taking\\, payment"`
	Fragment   string `json:"fragment" jsonschema:"description=The part of the customer message this capability should handle"`
	Reason     string `json:"reason" validate:"required" jsonschema:"description=Why this capability was chosen"`
}
