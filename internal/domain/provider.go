package domain

import "context"

// CompletionRequest is one structured-output prompt. The prompt carries its
// own format instructions; the caller validates whatever comes back.
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// ModelProvider is the narrow contract to the language-model service.
type ModelProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Name() string
}
