// orchestrator.go implements the Orchestrator organism that runs a batch of
// jobs end to end.
//
// This organism composes:
//   - fingerprint.go: content keys for caching and in-batch dedupe
//   - ResultStore: cache of finished generations
//   - ConcurrencyGate and RateLimiter: admission control, one of each per batch
//   - ProviderSelector and RetryPolicy: dispatch with retries and fallback
//   - ArtifactSink: persistence of generated bytes
//   - logging.Logger: structured logging
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bananagen/core"
	"bananagen/logging"

	"go.uber.org/zap"
)

// Orchestrator runs batches of generation jobs.
//
// Thread-Safety:
//   - Orchestrator is safe for concurrent use
//   - each Submit call owns its own gate, limiter and selector, so concurrent
//     batches do not share rate-limit state
//   - two concurrent batches submitting the same fingerprint may both generate;
//     the store keeps the first record
type Orchestrator struct {
	store     ResultStore
	sink      ArtifactSink
	providers map[string]Provider
	logger    *logging.Logger
	now       func() time.Time
}

// NewOrchestrator creates an Orchestrator.
//
// Returns an error if any component is nil or no provider is registered.
//
// Example:
//
//	providers, _ := NewProviderSet(cfg)
//	sink, _ := NewFileSink(cfg.OutputDir)
//	orch, err := NewOrchestrator(NewMemoryStore(), sink, providers, logger)
//	result, err := orch.Submit(ctx, jobs, DefaultBatchConfig())
func NewOrchestrator(store ResultStore, sink ArtifactSink, providers map[string]Provider, logger *logging.Logger) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("imagegen: store cannot be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("imagegen: sink cannot be nil")
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("imagegen: at least one provider is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("imagegen: logger cannot be nil")
	}

	registry := make(map[string]Provider, len(providers))
	for name, p := range providers {
		registry[name] = p
	}
	return &Orchestrator{
		store:     store,
		sink:      sink,
		providers: registry,
		logger:    logger.Named("orchestrator"),
		now:       time.Now,
	}, nil
}

// unit is one distinct fingerprint within a batch and the job indexes sharing it.
type unit struct {
	fingerprint string
	template    []byte
	indexes     []int
	prepErr     error
}

// batchRun holds the per-Submit collaborators.
type batchRun struct {
	gate     *ConcurrencyGate
	limiter  *RateLimiter
	selector *ProviderSelector
	policy   RetryPolicy
}

// Submit runs jobs and returns one JobResult per job in input order.
//
// Jobs with equal fingerprints and the same provider hint are generated once:
// the first in input order does the work and the rest receive its artifact
// marked Cached (or share its failure). Jobs that differ only in their hint
// run separately, so a failing hint cannot fail a sibling. Per-job failures never fail the batch; Submit returns an error
// only for an invalid batch (ErrInvalidBatch, ErrUnsupportedParam).
func (o *Orchestrator) Submit(ctx context.Context, jobs []Job, cfg BatchConfig) (*BatchResult, error) {
	if err := validateBatch(jobs, cfg); err != nil {
		return nil, err
	}

	start := o.now()
	units, err := o.plan(jobs)
	if err != nil {
		return nil, err
	}

	logger := o.logger.With(zap.Int("jobs", len(jobs)), zap.Int("units", len(units)))
	logger.Info("batch started",
		zap.Int("concurrency", cfg.Concurrency),
		zap.Duration("rate_interval", cfg.RateInterval),
		zap.Int("max_retries", cfg.MaxRetries))

	run := &batchRun{
		gate:     NewConcurrencyGate(cfg.Concurrency),
		limiter:  NewRateLimiter(cfg.RateInterval),
		selector: NewProviderSelector(o.providers, cfg.ProviderOrder, cfg.Fallback),
		policy:   NewRetryPolicy(cfg.MaxRetries, cfg.RetryDelay),
	}

	results := make([]JobResult, len(jobs))
	var wg sync.WaitGroup
	for _, u := range units {
		wg.Add(1)
		go func(u *unit) {
			defer wg.Done()
			first := u.indexes[0]
			res := o.runUnit(ctx, run, jobs[first], u)
			results[first] = res
			cfg.notify(first, res)
			for _, idx := range u.indexes[1:] {
				results[idx] = duplicateResult(jobs[idx].ID, res)
				cfg.notify(idx, results[idx])
			}
		}(u)
	}
	wg.Wait()

	batch := &BatchResult{Results: results, Duration: o.now().Sub(start)}
	batch.tally()

	logger.Info("batch finished",
		zap.Int("succeeded", batch.Succeeded),
		zap.Int("failed", batch.Failed),
		zap.Int("cached", batch.Cached),
		zap.Duration("duration", batch.Duration),
		zap.Int("peak_concurrency", run.gate.Peak()))
	return batch, nil
}

// plan prepares templates, computes fingerprints and groups duplicate jobs.
// A job whose template cannot be prepared becomes its own failing unit.
func (o *Orchestrator) plan(jobs []Job) ([]*unit, error) {
	var units []*unit
	byKey := make(map[string]*unit, len(jobs))

	for i, job := range jobs {
		template, err := PrepareTemplate(job)
		if err != nil {
			units = append(units, &unit{indexes: []int{i}, prepErr: err})
			continue
		}
		fp, err := Fingerprint(job.Prompt, template, job.Params)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", job.ID, err)
		}
		key := fp + "\x00" + job.ProviderHint
		if u, ok := byKey[key]; ok {
			u.indexes = append(u.indexes, i)
			continue
		}
		u := &unit{fingerprint: fp, template: template, indexes: []int{i}}
		byKey[key] = u
		units = append(units, u)
	}
	return units, nil
}

// runUnit executes one job: cache lookup, admission, dispatch, persistence.
func (o *Orchestrator) runUnit(ctx context.Context, run *batchRun, job Job, u *unit) (res JobResult) {
	res = JobResult{JobID: job.ID, Fingerprint: u.fingerprint}
	logger := o.logger.With(zap.String("job_id", job.ID), zap.String("fingerprint", u.fingerprint))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", zap.Any("panic", r))
			res.Success = false
			res.Err = FatalError("orchestrator", fmt.Sprintf("panic: %v", r), nil)
		}
	}()

	if u.prepErr != nil {
		res.Err = FatalError("template", "", u.prepErr)
		logger.Warn("template preparation failed", zap.Error(u.prepErr))
		return res
	}
	if ctx.Err() != nil {
		res.Err = cancelled(ctx)
		return res
	}

	rec, ok, err := o.store.Get(ctx, u.fingerprint)
	if err != nil {
		logger.Warn("result store read failed, treating as miss", zap.Error(err))
	} else if ok && rec != nil {
		res.Success = true
		res.Cached = true
		res.ArtifactRef = rec.ArtifactRef
		res.ProviderUsed = rec.ProviderUsed
		res.Metadata = rec.Metadata
		logger.Debug("cache hit", zap.String("artifact_ref", rec.ArtifactRef))
		return res
	}

	if err := run.gate.Acquire(ctx); err != nil {
		res.Err = err
		return res
	}
	defer run.gate.Release()

	if err := run.limiter.Wait(ctx); err != nil {
		res.Err = err
		return res
	}

	policy := run.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn("provider attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	sel, err := run.selector.Generate(ctx, job.ProviderHint, policy, u.template, job.Prompt, job.Params)
	if err != nil {
		res.Err = err
		res.AttemptsMade = attemptsOf(err)
		logger.Warn("generation failed", zap.Int("attempts", res.AttemptsMade), zap.Error(err))
		return res
	}
	res.AttemptsMade = sel.Attempts
	res.ProviderUsed = sel.Provider

	name := job.Output
	if name == "" {
		name = u.fingerprint + ".png"
	}
	ref, err := o.sink.Save(ctx, name, sel.Artifact)
	if err != nil {
		res.Err = FatalError("sink", "failed to save artifact", err)
		logger.Error("artifact save failed", zap.String("name", name), zap.Error(err))
		return res
	}

	metadata := cloneMetadata(sel.Metadata)
	if metadata == nil {
		metadata = make(map[string]any)
	}
	metadata["sha256"] = core.ComputeSHA256FromBytes(sel.Artifact)

	record := GenerationRecord{
		Fingerprint:  u.fingerprint,
		ArtifactRef:  ref,
		ProviderUsed: sel.Provider,
		Attempts:     sel.Attempts,
		CreatedAt:    o.now().UTC(),
		Metadata:     metadata,
	}
	if err := o.store.Put(ctx, u.fingerprint, record); err != nil {
		logger.Warn("result store write failed", zap.Error(err))
	}

	res.Success = true
	res.ArtifactRef = ref
	res.Metadata = metadata
	logger.Info("job generated",
		zap.String("provider", sel.Provider),
		zap.Int("attempts", sel.Attempts),
		zap.String("artifact_ref", ref))
	return res
}

// duplicateResult derives the result of a job that shared a fingerprint with
// an earlier job in the same batch.
func duplicateResult(jobID string, first JobResult) JobResult {
	res := first
	res.JobID = jobID
	res.AttemptsMade = 0
	res.Metadata = cloneMetadata(first.Metadata)
	if first.Success {
		res.Cached = true
	}
	return res
}

// attemptsOf totals the provider attempts recorded in a selector error.
func attemptsOf(err error) int {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		n := 0
		for _, f := range exhausted.Failures {
			n += f.Attempts
		}
		return n
	}
	var attempt *AttemptError
	if errors.As(err, &attempt) {
		return attempt.Attempts
	}
	return 0
}

// validateBatch rejects malformed input before any work starts.
func validateBatch(jobs []Job, cfg BatchConfig) error {
	if cfg.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be greater than zero, got %d", ErrInvalidBatch, cfg.Concurrency)
	}
	if cfg.RateInterval <= 0 {
		return fmt.Errorf("%w: rate interval must be greater than zero, got %s", ErrInvalidBatch, cfg.RateInterval)
	}
	if cfg.MaxRetries < 1 {
		return fmt.Errorf("%w: max retries must be at least 1, got %d", ErrInvalidBatch, cfg.MaxRetries)
	}
	if cfg.RetryDelay < 0 {
		return fmt.Errorf("%w: retry delay must not be negative", ErrInvalidBatch)
	}

	seen := make(map[string]bool, len(jobs))
	for i, job := range jobs {
		if job.ID == "" {
			return fmt.Errorf("%w: job %d has no id", ErrInvalidBatch, i)
		}
		if seen[job.ID] {
			return fmt.Errorf("%w: duplicate job id %q", ErrInvalidBatch, job.ID)
		}
		seen[job.ID] = true
		if job.Prompt == "" {
			return fmt.Errorf("%w: job %q has an empty prompt", ErrInvalidBatch, job.ID)
		}
		if job.Width < 0 || job.Height < 0 {
			return fmt.Errorf("%w: job %q has negative dimensions", ErrInvalidBatch, job.ID)
		}
		if len(job.Template) == 0 && job.TemplatePath == "" && (job.Width < 1 || job.Height < 1) {
			return fmt.Errorf("%w: job %q needs a template or a width and height", ErrInvalidBatch, job.ID)
		}
		if _, err := CanonicalParams(job.Params); err != nil {
			return fmt.Errorf("job %q: %w", job.ID, err)
		}
	}
	return nil
}
