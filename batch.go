package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bananagen/core"
	"bananagen/imagegen"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// batchEntry is one job in a batch file. output_path and placeholder are
// accepted as aliases of output and template_path.
type batchEntry struct {
	ID           string         `json:"id" yaml:"id"`
	Prompt       string         `json:"prompt" yaml:"prompt"`
	Width        int            `json:"width" yaml:"width"`
	Height       int            `json:"height" yaml:"height"`
	TemplatePath string         `json:"template_path" yaml:"template_path"`
	Placeholder  string         `json:"placeholder" yaml:"placeholder"`
	Provider     string         `json:"provider" yaml:"provider"`
	Params       map[string]any `json:"params" yaml:"params"`
	Output       string         `json:"output" yaml:"output"`
	OutputPath   string         `json:"output_path" yaml:"output_path"`
}

// batchFile is the object form of a batch file: {"jobs": [...]}.
type batchFile struct {
	Jobs []batchEntry `json:"jobs" yaml:"jobs"`
}

// loadBatchFile reads jobs from a JSON or YAML file holding either a list of
// jobs or an object with a jobs list. Files ending in .json are decoded as
// JSON, everything else as YAML. Relative template paths resolve against
// the file's directory.
func loadBatchFile(path string) ([]imagegen.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	entries, err := decodeBatch(data, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}
	if err := core.ValidateBatchSize(len(entries)); err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	jobs := make([]imagegen.Job, len(entries))
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		template := e.TemplatePath
		if template == "" {
			template = e.Placeholder
		}
		if template != "" && !filepath.IsAbs(template) {
			template = filepath.Join(base, template)
		}

		job, err := buildJob(e.ID, e.Prompt, template, e.Width, e.Height, e.Provider, e.Params)
		if err != nil {
			return nil, fmt.Errorf("job %d: %w", i+1, err)
		}
		if prev, dup := seen[job.ID]; dup {
			return nil, fmt.Errorf("job %d: id %q already used by job %d", i+1, job.ID, prev+1)
		}
		seen[job.ID] = i

		job.Output = e.Output
		if job.Output == "" {
			job.Output = e.OutputPath
		}
		jobs[i] = job
	}
	return jobs, nil
}

func decodeBatch(data []byte, isJSON bool) ([]batchEntry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if isJSON {
		if trimmed[0] == '[' {
			var entries []batchEntry
			err := json.Unmarshal(trimmed, &entries)
			return entries, err
		}
		var f batchFile
		err := json.Unmarshal(trimmed, &f)
		return f.Jobs, err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(trimmed, &node); err != nil {
		return nil, err
	}
	if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
		var entries []batchEntry
		err := node.Decode(&entries)
		return entries, err
	}
	var f batchFile
	err := node.Decode(&f)
	return f.Jobs, err
}

func runBatch(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("batch", stderr)
	file := fs.String("file", "", "batch file (JSON or YAML)")
	concurrency := fs.Int("concurrency", 0, "jobs in flight at once (default BANANAGEN_CONCURRENCY)")
	rate := fs.Duration("rate-interval", 0, "minimum spacing between provider calls (default BANANAGEN_RATE_INTERVAL)")
	asJSON := fs.Bool("json", false, "print results as JSON")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}
	if *file == "" && fs.NArg() == 1 {
		*file = fs.Arg(0)
	}
	if *file == "" {
		fmt.Fprintln(stderr, "usage: bananagen batch [--json] --file <jobs.yaml|jobs.json>")
		return core.ExitCodeError
	}
	if *asJSON {
		color.NoColor = true
	}

	jobs, err := loadBatchFile(*file)
	if err != nil {
		return fail(stderr, err)
	}

	a, err := newApp(stdout, stderr, zapcore.WarnLevel)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close()

	cfg := a.batchConfig()
	if *concurrency > 0 {
		cfg.Concurrency = *concurrency
	}
	if *rate > 0 {
		cfg.RateInterval = *rate
	}
	for i := range jobs {
		if jobs[i].Output != "" {
			jobs[i].Output = a.outputName(jobs[i].Output)
		}
	}

	ctx := a.ctx()
	orch, err := a.orchestrator(ctx)
	if err != nil {
		return fail(stderr, err)
	}

	batchID := uuid.NewString()
	if err := a.repo.CreateBatch(ctx, batchID, jobs); err != nil {
		return fail(stderr, err)
	}
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	if err := a.repo.MarkProcessing(ctx, batchID, ids); err != nil {
		a.logger.Warn("failed to mark batch processing", zap.Error(err))
	}

	logger := a.logger.With(zap.String("batch_id", batchID))
	cfg.OnResult = func(_ int, res imagegen.JobResult) {
		if err := a.repo.RecordJobResult(context.WithoutCancel(ctx), res); err != nil {
			logger.Warn("failed to record job result", zap.String("job_id", res.JobID), zap.Error(err))
		}
	}

	if !*asJSON {
		dimColor.Fprintf(stderr, "Running %d job(s) as batch %s\n", len(jobs), batchID)
	}

	var result *imagegen.BatchResult
	err = a.manager.Track("batch", func(ctx context.Context) error {
		var err error
		result, err = orch.Submit(ctx, jobs, cfg)
		return err
	})

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err != nil {
		if ferr := a.repo.FailBatch(finishCtx, batchID, err.Error()); ferr != nil {
			logger.Error("failed to mark batch failed", zap.Error(ferr))
		}
		return fail(stderr, err)
	}
	if err := a.repo.CompleteBatch(finishCtx, batchID, result); err != nil {
		logger.Error("failed to complete batch", zap.Error(err))
	}

	if *asJSON {
		if err := writeJSON(stdout, toBatchOutput(batchID, result)); err != nil {
			return fail(stderr, err)
		}
	} else {
		printBatchSummary(stdout, batchID, result)
	}

	if a.manager.Interrupted() {
		return core.ExitCodeSIGINT
	}
	return exitCode(result)
}
