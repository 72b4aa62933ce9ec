package imagegen

import (
	"context"
)

// Provider is an image generation backend. Implementations turn a template
// image, a prompt and scalar params into artifact bytes plus metadata.
//
// Errors should be *ProviderError so the retry loop can tell fatal failures
// (bad credentials, malformed requests) from transient ones (timeouts, 429, 5xx).
// Unclassified errors are treated as retryable.
type Provider interface {
	Generate(ctx context.Context, template []byte, prompt string, params map[string]any) (artifact []byte, metadata map[string]any, err error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, template []byte, prompt string, params map[string]any) ([]byte, map[string]any, error)

// Generate calls f.
func (f ProviderFunc) Generate(ctx context.Context, template []byte, prompt string, params map[string]any) ([]byte, map[string]any, error) {
	return f(ctx, template, prompt, params)
}
