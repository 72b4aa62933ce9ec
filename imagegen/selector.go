package imagegen

import (
	"context"
	"fmt"
	"sort"
)

// ProviderSelector resolves a job's provider hint to an ordered list of
// candidate providers and runs the generation across them.
//
// Resolution rules:
//   - an explicit, configured hint is used exclusively, unless fallback is on,
//     in which case the configured order follows it
//   - an explicit hint that is not configured fails with ErrProviderNotConfigured
//     (or falls through to the configured order in fallback mode)
//   - no hint walks the configured order
//
// Order entries without a registered provider are skipped.
type ProviderSelector struct {
	providers map[string]Provider
	order     []string
	fallback  bool
}

// NewProviderSelector creates a selector over a static provider registry.
// When order is empty the registry's names are used in sorted order.
func NewProviderSelector(providers map[string]Provider, order []string, fallback bool) *ProviderSelector {
	registry := make(map[string]Provider, len(providers))
	for name, p := range providers {
		if p != nil {
			registry[name] = p
		}
	}
	if len(order) == 0 {
		for name := range registry {
			order = append(order, name)
		}
		sort.Strings(order)
	}
	return &ProviderSelector{
		providers: registry,
		order:     append([]string(nil), order...),
		fallback:  fallback,
	}
}

// Selection is a successful generation and where it came from.
type Selection struct {
	Provider string
	Artifact []byte
	Metadata map[string]any
	Attempts int
}

// Configured reports whether name has a registered provider.
func (s *ProviderSelector) Configured(name string) bool {
	_, ok := s.providers[name]
	return ok
}

// Candidates returns the providers to try, in order, for a job hint.
func (s *ProviderSelector) Candidates(hint string) ([]string, error) {
	if hint != "" {
		if s.Configured(hint) {
			if !s.fallback {
				return []string{hint}, nil
			}
			return s.ordered(hint), nil
		}
		if !s.fallback {
			return nil, fmt.Errorf("%w: %q", ErrProviderNotConfigured, hint)
		}
	}

	candidates := s.ordered("")
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no provider in order %v has credentials", ErrProviderNotConfigured, s.order)
	}
	return candidates, nil
}

// ordered returns first (if non-empty) followed by the configured order, without duplicates.
func (s *ProviderSelector) ordered(first string) []string {
	seen := make(map[string]bool, len(s.order)+1)
	var out []string
	add := func(name string) {
		if name == "" || seen[name] || !s.Configured(name) {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	add(first)
	for _, name := range s.order {
		add(name)
	}
	return out
}

// Generate runs the job across its candidates. Each candidate gets the full
// retry budget; the walk advances on a fatal error or on retry exhaustion and
// stops on cancellation.
//
// A single explicit provider without fallback returns its *AttemptError;
// otherwise a failed walk returns an *ExhaustedError.
func (s *ProviderSelector) Generate(ctx context.Context, hint string, policy RetryPolicy, template []byte, prompt string, params map[string]any) (*Selection, error) {
	candidates, err := s.Candidates(hint)
	if err != nil {
		return nil, FatalError("selector", "", err)
	}

	var failures []*AttemptError
	for _, name := range candidates {
		provider := s.providers[name]

		var artifact []byte
		var metadata map[string]any
		attempts, err := policy.Run(ctx, func(ctx context.Context, attempt int) error {
			a, m, err := provider.Generate(ctx, template, prompt, params)
			if err != nil {
				return err
			}
			if len(a) == 0 {
				return RetryableError(name, "provider returned no image data", nil)
			}
			artifact, metadata = a, m
			return nil
		})
		if err == nil {
			return &Selection{Provider: name, Artifact: artifact, Metadata: metadata, Attempts: attempts}, nil
		}

		failure := &AttemptError{Provider: name, Attempts: attempts, Err: err}
		if Classify(err) == KindCancelled {
			return nil, failure
		}
		failures = append(failures, failure)
	}

	if hint != "" && !s.fallback {
		return nil, failures[0]
	}
	return nil, &ExhaustedError{Failures: failures}
}
