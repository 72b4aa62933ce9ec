package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"bananagen/core"
	"bananagen/db"
	"bananagen/imagegen"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

var (
	okColor     = color.New(color.FgGreen)
	failColor   = color.New(color.FgRed)
	cachedColor = color.New(color.FgCyan)
	dimColor    = color.New(color.FgHiBlack)
	headColor   = color.New(color.FgCyan, color.Bold)
)

// jobOutput is the JSON form of a job result; JobResult.Err does not marshal.
type jobOutput struct {
	imagegen.JobResult
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type batchOutput struct {
	BatchID   string      `json:"batch_id"`
	Status    string      `json:"status"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Cached    int         `json:"cached"`
	Duration  string      `json:"duration"`
	Results   []jobOutput `json:"results"`
}

func toJobOutput(r imagegen.JobResult) jobOutput {
	status := db.StatusDone
	if !r.Success {
		status = db.StatusFailed
	}
	return jobOutput{JobResult: r, Status: status, Error: r.ErrorMessage()}
}

func toBatchOutput(batchID string, result *imagegen.BatchResult) batchOutput {
	out := batchOutput{
		BatchID:   batchID,
		Status:    db.StatusDone,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		Cached:    result.Cached,
		Duration:  result.Duration.Round(time.Millisecond).String(),
		Results:   make([]jobOutput, len(result.Results)),
	}
	if result.Failed == len(result.Results) {
		out.Status = db.StatusFailed
	}
	for i, r := range result.Results {
		out.Results[i] = toJobOutput(r)
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printJobLine writes one coloured result line.
func printJobLine(w io.Writer, r imagegen.JobResult) {
	switch {
	case r.Success && r.Cached:
		cachedColor.Fprintf(w, "  ✓ %s", r.JobID)
		dimColor.Fprintf(w, " (cached) %s\n", r.ArtifactRef)
	case r.Success:
		okColor.Fprintf(w, "  ✓ %s", r.JobID)
		dimColor.Fprintf(w, " %s via %s, %d attempt(s)\n", r.ArtifactRef, r.ProviderUsed, r.AttemptsMade)
	default:
		failColor.Fprintf(w, "  ✗ %s", r.JobID)
		dimColor.Fprintf(w, " %s\n", r.ErrorMessage())
	}
}

// printBatchSummary writes per-job lines and a totals footer.
func printBatchSummary(w io.Writer, batchID string, result *imagegen.BatchResult) {
	fmt.Fprintln(w)
	headColor.Fprintf(w, "━━━ Batch %s ━━━\n", batchID)
	for _, r := range result.Results {
		printJobLine(w, r)
	}
	fmt.Fprintln(w)

	clr := okColor
	if result.Failed > 0 {
		clr = failColor
	}
	clr.Fprintf(w, "%d succeeded, %d failed", result.Succeeded, result.Failed)
	dimColor.Fprintf(w, " (%d cached, %s)\n", result.Cached, result.Duration.Round(time.Millisecond))
}

// printStatus renders a status report for humans.
func printStatus(w io.Writer, report *db.StatusReport) {
	if report.Kind == "job" {
		printJobRecord(w, *report.Job)
		return
	}

	b := report.Batch
	headColor.Fprintf(w, "Batch %s", b.ID)
	fmt.Fprintf(w, "  %s  ", statusColor(b.Status).Sprint(b.Status))
	dimColor.Fprintf(w, "created %s\n", humanize.Time(b.CreatedAt))
	fmt.Fprintf(w, "  %d jobs: %d succeeded, %d failed, %d cached\n", b.JobCount, b.Succeeded, b.Failed, b.Cached)
	for _, j := range report.Jobs {
		printJobRecord(w, j)
	}
}

func printJobRecord(w io.Writer, j db.JobRecord) {
	fmt.Fprintf(w, "  %s %s ", statusColor(j.Status).Sprint(j.Status), j.ID)
	switch {
	case j.ArtifactRef != "":
		dimColor.Fprintf(w, "%s", j.ArtifactRef)
		if j.Cached {
			dimColor.Fprint(w, " (cached)")
		}
	case j.Error != "":
		dimColor.Fprint(w, j.Error)
	default:
		dimColor.Fprintf(w, "%q", j.Prompt)
	}
	dimColor.Fprintf(w, " · updated %s\n", humanize.Time(j.UpdatedAt))
}

func statusColor(status string) *color.Color {
	switch status {
	case db.StatusDone:
		return okColor
	case db.StatusFailed:
		return failColor
	case db.StatusProcessing:
		return cachedColor
	default:
		return dimColor
	}
}

// printError writes err, with the action line for configuration errors.
func printError(w io.Writer, err error) {
	if cfgErr, ok := core.IsConfigError(err); ok {
		failColor.Fprintf(w, "✗ %s\n", cfgErr.Message)
		if cfgErr.Action != "" {
			dimColor.Fprintf(w, "  └─ %s\n", cfgErr.Action)
		}
		return
	}
	failColor.Fprintf(w, "✗ %v\n", err)
}

// exitCode is ExitCodeJobsFailed when any job failed.
func exitCode(result *imagegen.BatchResult) int {
	if result.Failed > 0 {
		return core.ExitCodeJobsFailed
	}
	return core.ExitCodeSuccess
}
