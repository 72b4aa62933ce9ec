package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bananagen/core"
)

// maxErrorBody bounds how much of an error response is read into messages.
const maxErrorBody = 4096

// GeminiProvider calls the Gemini generateContent REST endpoint directly.
//
// The template is sent as an inline image part next to the prompt; the first
// inline image in the response becomes the artifact.
//
// Thread Safety: GeminiProvider is safe for concurrent use.
type GeminiProvider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

var _ Provider = (*GeminiProvider)(nil)

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
	Seed               *int64   `json:"seed,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
	ResponseID string `json:"responseId,omitempty"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewGeminiProvider creates a provider from Gemini settings.
// httpClient may be nil, in which case a client with a two minute timeout is used.
func NewGeminiProvider(settings core.ProviderSettings, httpClient *http.Client) (*GeminiProvider, error) {
	if !settings.Configured() {
		return nil, fmt.Errorf("%w: gemini API key is required", ErrProviderNotConfigured)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	baseURL := strings.TrimRight(settings.BaseURL, "/")
	if baseURL == "" {
		baseURL = core.DefaultGeminiBaseURL
	}
	model := settings.Model
	if model == "" {
		model = core.DefaultGeminiModel
	}
	return &GeminiProvider{
		apiKey:     strings.TrimSpace(settings.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
	}, nil
}

// Model returns the configured model identifier.
func (p *GeminiProvider) Model() string {
	return p.model
}

// Generate implements Provider.
func (p *GeminiProvider) Generate(ctx context.Context, template []byte, prompt string, params map[string]any) ([]byte, map[string]any, error) {
	parts := []geminiPart{{Text: prompt}}
	if len(template) > 0 {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: DetectImageMIME(template),
			Data:     encodeStd(template),
		}})
	}

	genCfg := &geminiGenerationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}}
	if seed, ok := intParam(params, "seed"); ok {
		genCfg.Seed = &seed
	}
	if temp, ok := floatParam(params, "temperature"); ok {
		genCfg.Temperature = &temp
	}

	body, err := json.Marshal(geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: genCfg,
	})
	if err != nil {
		return nil, nil, FatalError(core.ProviderGemini, "failed to marshal request", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, url.PathEscape(p.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, FatalError(core.ProviderGemini, "failed to create request", err)
	}
	q := req.URL.Query()
	q.Set("key", p.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, cancelled(ctx)
		}
		// url.Error embeds the request URL, which carries the key.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, nil, RetryableError(core.ProviderGemini, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, nil, geminiStatusError(resp)
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, nil, RetryableError(core.ProviderGemini, "failed to decode response", err)
	}

	for _, cand := range out.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := decodeBase64(part.InlineData.Data)
			if err != nil {
				return nil, nil, RetryableError(core.ProviderGemini, "invalid inline image data", err)
			}
			metadata := map[string]any{
				"prompt":      prompt,
				"model":       p.model,
				"params":      cloneMetadata(params),
				"mime_type":   part.InlineData.MimeType,
				"response_id": out.ResponseID,
			}
			if seed, ok := params["seed"]; ok {
				metadata["seed"] = seed
			} else {
				metadata["seed"] = MockSeed
			}
			return data, metadata, nil
		}
	}

	reason := ""
	if len(out.Candidates) > 0 {
		reason = out.Candidates[0].FinishReason
	}
	return nil, nil, RetryableError(core.ProviderGemini, "response contained no image (finish reason "+reason+")", nil)
}

func geminiStatusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(data))

	var apiErr geminiErrorResponse
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}
	return StatusError(core.ProviderGemini, resp.StatusCode, truncate(msg, 512), ParseRetryAfter(resp.Header.Get("Retry-After")))
}
