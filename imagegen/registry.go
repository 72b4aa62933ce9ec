package imagegen

import (
	"fmt"
	"sort"

	"bananagen/core"
)

// NewProviderSet builds the provider registry from configuration. Providers
// without credentials are left out; mock mode adds the mock provider.
//
// Returns core.ErrNoProviders when nothing could be registered.
func NewProviderSet(cfg *core.Config) (map[string]Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("imagegen: config cannot be nil")
	}

	httpClient := cfg.GetHTTPClient()
	providers := make(map[string]Provider)

	if cfg.Gemini.Configured() {
		p, err := NewGeminiProvider(cfg.Gemini, httpClient)
		if err != nil {
			return nil, err
		}
		providers[core.ProviderGemini] = p
	}

	for _, settings := range []core.ProviderSettings{cfg.OpenRouter, cfg.Requesty} {
		if !settings.Configured() {
			continue
		}
		p, err := NewRoutedProvider(RoutedProviderConfig{
			Name:       settings.Name,
			Settings:   settings,
			Referer:    cfg.Referer,
			Title:      cfg.AppTitle,
			HTTPClient: httpClient,
		})
		if err != nil {
			return nil, err
		}
		providers[settings.Name] = p
	}

	if cfg.MockMode {
		providers[core.ProviderMock] = NewMockProvider()
	}

	if len(providers) == 0 {
		return nil, core.ErrNoProviders()
	}
	return providers, nil
}

// ProviderNames returns the registry's names in sorted order.
func ProviderNames(providers map[string]Provider) []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
