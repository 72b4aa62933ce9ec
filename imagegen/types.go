// Package imagegen generates images by dispatching prompts to interchangeable
// AI providers under bounded concurrency, a global rate limit, retries and
// provider fallback, with content-addressed caching of finished generations.
//
// types.go holds the data model shared by the orchestrator and its callers.
package imagegen

import (
	"time"
)

// Job is one image generation request. Jobs are read-only once submitted.
type Job struct {
	// ID identifies the job within its batch. Must be unique and non-empty.
	ID string `json:"id" yaml:"id"`

	// Prompt is the text description of the image.
	Prompt string `json:"prompt" yaml:"prompt"`

	// Width and Height are the target size in pixels.
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`

	// Template is an optional reference image. When empty, TemplatePath is
	// read; when both are empty a placeholder of Width x Height is rendered.
	Template     []byte `json:"-" yaml:"-"`
	TemplatePath string `json:"template_path,omitempty" yaml:"template_path,omitempty"`

	// ProviderHint names the provider to use. Empty means configured order.
	ProviderHint string `json:"provider,omitempty" yaml:"provider,omitempty"`

	// Params are extra scalar generation parameters such as seed.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`

	// Output optionally names the artifact. Defaults to <fingerprint>.png.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
}

// GenerationRecord is the durable result of one successful generation,
// keyed by fingerprint. Records are immutable once stored.
type GenerationRecord struct {
	Fingerprint  string         `json:"fingerprint"`
	ArtifactRef  string         `json:"artifact_ref"`
	ProviderUsed string         `json:"provider_used"`
	Attempts     int            `json:"attempts"`
	CreatedAt    time.Time      `json:"created_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// JobResult is the outcome of one job. Failures are carried in Err rather
// than returned from Submit.
type JobResult struct {
	JobID        string `json:"job_id"`
	Success      bool   `json:"success"`
	ArtifactRef  string `json:"artifact_ref,omitempty"`
	Err          error  `json:"-"`
	AttemptsMade int    `json:"attempts_made"`
	ProviderUsed string `json:"provider_used,omitempty"`
	Cached       bool   `json:"cached"`
	Fingerprint  string `json:"fingerprint,omitempty"`

	// Metadata is the provider metadata of the generation that produced ArtifactRef.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ErrorMessage returns the error text, or "" on success.
func (r JobResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// BatchResult holds one JobResult per submitted Job, in submission order.
type BatchResult struct {
	Results   []JobResult   `json:"results"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Cached    int           `json:"cached"`
	Duration  time.Duration `json:"duration"`
}

// tally recomputes the aggregate counts from Results.
func (b *BatchResult) tally() {
	b.Succeeded, b.Failed, b.Cached = 0, 0, 0
	for _, r := range b.Results {
		if r.Success {
			b.Succeeded++
		} else {
			b.Failed++
		}
		if r.Cached {
			b.Cached++
		}
	}
}

// BatchConfig controls one Submit call.
type BatchConfig struct {
	// Concurrency is the number of jobs allowed in flight at once. Must be > 0.
	Concurrency int

	// RateInterval is the minimum spacing between provider dispatch starts. Must be > 0.
	RateInterval time.Duration

	// MaxRetries is the number of attempts per provider. Must be >= 1.
	MaxRetries int

	// RetryDelay is the base backoff delay. Defaults to 1s when zero.
	RetryDelay time.Duration

	// ProviderOrder is the priority order used when a job names no provider.
	ProviderOrder []string

	// Fallback lets a job with an explicit provider continue down ProviderOrder.
	Fallback bool

	// OnResult, when set, is called once per job as soon as its result is
	// known. It is called from worker goroutines and must be safe for
	// concurrent use.
	OnResult func(index int, result JobResult)
}

func (c BatchConfig) notify(index int, result JobResult) {
	if c.OnResult != nil {
		c.OnResult(index, result)
	}
}

// DefaultBatchConfig returns concurrency 3, a one second rate interval and
// three attempts with a one second base delay.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Concurrency:  3,
		RateInterval: time.Second,
		MaxRetries:   3,
		RetryDelay:   time.Second,
	}
}
