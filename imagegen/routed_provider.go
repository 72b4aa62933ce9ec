package imagegen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"bananagen/core"

	"github.com/sashabaranov/go-openai"
)

// RoutedProvider reaches Gemini models through an OpenAI-compatible router
// (OpenRouter or Requesty) using the chat completions API. The template is
// sent as an image_url data URL part and the image is read back from the
// assistant message.
//
// Thread Safety: RoutedProvider is safe for concurrent use.
type RoutedProvider struct {
	name   string
	client *openai.Client
	model  string
}

var _ Provider = (*RoutedProvider)(nil)

// RoutedProviderConfig holds the settings for one router.
type RoutedProviderConfig struct {
	// Name is the provider name used in errors and metadata (openrouter, requesty)
	Name string

	// Settings carries key, base URL and model
	Settings core.ProviderSettings

	// Referer and Title are sent as HTTP-Referer and X-Title
	Referer string
	Title   string

	// HTTPClient is the base HTTP client (optional)
	HTTPClient *http.Client
}

// NewRoutedProvider creates a router-backed provider.
//
// Example:
//
//	p, err := NewRoutedProvider(RoutedProviderConfig{
//	    Name:     core.ProviderOpenRouter,
//	    Settings: cfg.OpenRouter,
//	    Referer:  cfg.Referer,
//	    Title:    cfg.AppTitle,
//	})
func NewRoutedProvider(cfg RoutedProviderConfig) (*RoutedProvider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("imagegen: routed provider name is required")
	}
	if !cfg.Settings.Configured() {
		return nil, fmt.Errorf("%w: %s API key is required", ErrProviderNotConfigured, cfg.Name)
	}
	if cfg.Settings.BaseURL == "" {
		return nil, fmt.Errorf("imagegen: %s base URL is required", cfg.Name)
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 120 * time.Second}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	httpClient := *base
	httpClient.Transport = &routedTransport{
		base:    transport,
		referer: cfg.Referer,
		title:   cfg.Title,
	}

	clientConfig := openai.DefaultConfig(strings.TrimSpace(cfg.Settings.APIKey))
	clientConfig.BaseURL = strings.TrimRight(cfg.Settings.BaseURL, "/")
	clientConfig.HTTPClient = &httpClient

	model := cfg.Settings.Model
	if model == "" {
		model = core.DefaultRoutedModel
	}

	return &RoutedProvider{
		name:   cfg.Name,
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}, nil
}

// Name returns the provider name.
func (p *RoutedProvider) Name() string {
	return p.name
}

// Generate implements Provider.
func (p *RoutedProvider) Generate(ctx context.Context, template []byte, prompt string, params map[string]any) ([]byte, map[string]any, error) {
	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: prompt}}
	if len(template) > 0 {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    EncodeDataURL(DetectImageMIME(template), template),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}

	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		}},
	}
	if seed, ok := intParam(params, "seed"); ok {
		s := int(seed)
		req.Seed = &s
	}
	if temp, ok := floatParam(params, "temperature"); ok {
		req.Temperature = float32(temp)
	}

	hint := &retryAfterHolder{}
	resp, err := p.client.CreateChatCompletion(context.WithValue(ctx, retryAfterKey{}, hint), req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, cancelled(ctx)
		}
		return nil, nil, p.classifyError(err, hint.get())
	}
	if len(resp.Choices) == 0 {
		return nil, nil, RetryableError(p.name, "no choices in response", nil)
	}

	data, ok := extractImage(resp.Choices[0].Message)
	if !ok {
		return nil, nil, RetryableError(p.name, "response contained no image data", nil)
	}

	metadata := map[string]any{
		"prompt":      prompt,
		"model":       p.model,
		"params":      cloneMetadata(params),
		"response_id": resp.ID,
	}
	if seed, ok := params["seed"]; ok {
		metadata["seed"] = seed
	} else {
		metadata["seed"] = MockSeed
	}
	return data, metadata, nil
}

// classifyError maps go-openai errors to ProviderErrors. 400, 401, 403 and 404
// are fatal; 408, 429 and 5xx retry.
func (p *RoutedProvider) classifyError(err error, retryAfter time.Duration) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return StatusError(p.name, apiErr.HTTPStatusCode, truncate(apiErr.Message, 512), retryAfter)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		pe := StatusError(p.name, reqErr.HTTPStatusCode, truncate(string(reqErr.Body), 512), retryAfter)
		pe.Err = reqErr.Err
		return pe
	}
	return RetryableError(p.name, "request failed", err)
}

// extractImage finds image bytes in an assistant message: a data URL or raw
// base64 in the text content, or an image_url part.
func extractImage(msg openai.ChatCompletionMessage) ([]byte, bool) {
	for _, part := range msg.MultiContent {
		if part.Type == openai.ChatMessagePartTypeImageURL && part.ImageURL != nil {
			if _, data, ok := DecodeDataURL(part.ImageURL.URL); ok && len(data) > 0 {
				return data, true
			}
		}
		if part.Type == openai.ChatMessagePartTypeText {
			if data, ok := imageFromText(part.Text); ok {
				return data, true
			}
		}
	}
	return imageFromText(msg.Content)
}

func imageFromText(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if i := strings.Index(s, "data:image/"); i >= 0 {
		end := strings.IndexAny(s[i:], " \n\t)\"'")
		candidate := s[i:]
		if end > 0 {
			candidate = s[i : i+end]
		}
		if _, data, ok := DecodeDataURL(candidate); ok && len(data) > 0 {
			return data, true
		}
	}
	data, err := decodeBase64(s)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	if !strings.HasPrefix(http.DetectContentType(data), "image/") {
		return nil, false
	}
	return data, true
}

type retryAfterKey struct{}

type retryAfterHolder struct {
	d atomic.Int64
}

func (h *retryAfterHolder) get() time.Duration {
	return time.Duration(h.d.Load())
}

// routedTransport adds the router attribution headers and records the
// Retry-After of each response into the request's holder, if any.
type routedTransport struct {
	base    http.RoundTripper
	referer string
	title   string
}

func (t *routedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.referer != "" {
		req.Header.Set("HTTP-Referer", t.referer)
	}
	if t.title != "" {
		req.Header.Set("X-Title", t.title)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if holder, ok := req.Context().Value(retryAfterKey{}).(*retryAfterHolder); ok {
		holder.d.Store(int64(ParseRetryAfter(resp.Header.Get("Retry-After"))))
	}
	return resp, nil
}
