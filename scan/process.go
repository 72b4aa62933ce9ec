package scan

import (
	"context"
	"fmt"
	"os"
	"strings"

	"bananagen/imagegen"

	"go.uber.org/zap"
)

// Outcome statuses.
const (
	StatusSkipped   = "skipped"
	StatusGenerated = "generated"
	StatusReplaced  = "replaced"
	StatusError     = "error"
)

// Outcome reports what happened to one Match.
type Outcome struct {
	File        string `json:"file"`
	Line        int    `json:"line"`
	Token       string `json:"token"`
	Status      string `json:"status"`
	ArtifactRef string `json:"artifact_ref,omitempty"`
	Cached      bool   `json:"cached,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Submitter runs a batch of jobs. *imagegen.Orchestrator satisfies it.
type Submitter interface {
	Submit(ctx context.Context, jobs []imagegen.Job, cfg imagegen.BatchConfig) (*imagegen.BatchResult, error)
}

// Options controls Process.
type Options struct {
	Batch imagegen.BatchConfig

	// Replace rewrites each token in its file with the artifact ref.
	Replace bool

	// OutputPrefix is prepended to artifact names, which are otherwise the
	// content fingerprint.
	OutputPrefix string
}

// Process generates an image for every match with a prompt, in one batch.
// Matches without a prompt are reported skipped. The returned outcomes are
// in match order.
func Process(ctx context.Context, sub Submitter, matches []Match, opts Options, logger *zap.Logger) ([]Outcome, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	outcomes := make([]Outcome, len(matches))
	var (
		jobs   []imagegen.Job
		jobIdx []int
	)
	for i, m := range matches {
		outcomes[i] = Outcome{File: m.File, Line: m.Line, Token: m.Token}
		if m.Prompt == "" {
			outcomes[i].Status = StatusSkipped
			outcomes[i].Reason = "no prompt found"
			continue
		}
		job := imagegen.Job{
			ID:     fmt.Sprintf("%s:%d:%d", m.File, m.Line, i),
			Prompt: m.Prompt,
			Width:  m.Width,
			Height: m.Height,
		}
		if opts.OutputPrefix != "" {
			// Fingerprint is not known yet, so name by location
			job.Output = fmt.Sprintf("%s%s_%d_%d.png", opts.OutputPrefix, sanitize(m.File), m.Line, len(jobIdx))
		}
		jobs = append(jobs, job)
		jobIdx = append(jobIdx, i)
	}

	if len(jobs) == 0 {
		logger.Info("no placeholders with prompts", zap.Int("matches", len(matches)))
		return outcomes, nil
	}

	result, err := sub.Submit(ctx, jobs, opts.Batch)
	if err != nil {
		return nil, err
	}

	for k, res := range result.Results {
		o := &outcomes[jobIdx[k]]
		if !res.Success {
			o.Status = StatusError
			o.Reason = res.ErrorMessage()
			continue
		}
		o.Status = StatusGenerated
		o.ArtifactRef = res.ArtifactRef
		o.Cached = res.Cached
	}

	if opts.Replace {
		replaceTokens(matches, outcomes, logger)
	}
	return outcomes, nil
}

// replaceTokens rewrites files in place. Tokens are replaced in match order,
// one occurrence each, so repeated tokens on the same file map to their own
// artifacts.
func replaceTokens(matches []Match, outcomes []Outcome, logger *zap.Logger) {
	byFile := map[string][]int{}
	var files []string
	for i, o := range outcomes {
		if o.Status != StatusGenerated {
			continue
		}
		if _, ok := byFile[o.File]; !ok {
			files = append(files, o.File)
		}
		byFile[o.File] = append(byFile[o.File], i)
	}

	for _, file := range files {
		idxs := byFile[file]
		if err := rewriteFile(file, matches, outcomes, idxs); err != nil {
			logger.Warn("failed to replace placeholders", zap.String("file", file), zap.Error(err))
			for _, i := range idxs {
				outcomes[i].Status = StatusError
				outcomes[i].Reason = err.Error()
			}
			continue
		}
		for _, i := range idxs {
			outcomes[i].Status = StatusReplaced
		}
	}
}

func rewriteFile(file string, matches []Match, outcomes []Outcome, idxs []int) error {
	info, err := os.Stat(file)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	for _, i := range idxs {
		n := matches[i].Line - 1
		if n < 0 || n >= len(lines) || !strings.Contains(lines[n], matches[i].Token) {
			return fmt.Errorf("token %s no longer at line %d", matches[i].Token, matches[i].Line)
		}
		lines[n] = strings.Replace(lines[n], matches[i].Token, outcomes[i].ArtifactRef, 1)
	}
	return os.WriteFile(file, []byte(strings.Join(lines, "\n")), info.Mode().Perm())
}

func sanitize(path string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return strings.Trim(r.Replace(path), "._")
}
