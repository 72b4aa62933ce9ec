package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"bananagen/core"
	"bananagen/db"
	"bananagen/imagegen"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newFlagSet returns a flag set that reports errors instead of exiting.
func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("bananagen "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parseFlags returns -1 when parsing succeeded, otherwise the exit code.
func parseFlags(fs *flag.FlagSet, args []string) int {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return core.ExitCodeSuccess
		}
		return core.ExitCodeError
	}
	return -1
}

// paramFlag collects repeated key=value generation params. Values that parse
// as integers, floats or booleans keep that type.
type paramFlag map[string]any

func (p paramFlag) String() string {
	parts := make([]string, 0, len(p))
	for k, v := range p {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

func (p paramFlag) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return fmt.Errorf("param must be key=value, got %q", s)
	}
	p[strings.TrimSpace(key)] = parseParamValue(value)
	return nil
}

func parseParamValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func runPlaceholder(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("placeholder", stderr)
	width := fs.Int("width", core.DefaultDimension, "image width in pixels")
	height := fs.Int("height", core.DefaultDimension, "image height in pixels")
	fill := fs.String("color", imagegen.DefaultPlaceholderColor, "background color (#rgb or #rrggbb)")
	transparent := fs.Bool("transparent", false, "transparent background")
	out := fs.String("out", "", "output file path (required)")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}

	if *out == "" {
		return fail(stderr, &core.ValidationError{Field: "out", Message: "is required"})
	}
	if err := core.ValidateDimensions(*width, *height); err != nil {
		return fail(stderr, err)
	}
	data, err := imagegen.RenderPlaceholder(*width, *height, *fill, *transparent)
	if err != nil {
		return fail(stderr, err)
	}
	if dir := filepath.Dir(*out); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fail(stderr, err)
		}
	}
	if err := os.WriteFile(*out, data, 0644); err != nil {
		return fail(stderr, err)
	}

	fmt.Fprintf(stdout, "Placeholder saved to %s ", *out)
	dimColor.Fprintf(stdout, "(%dx%d, %s)\n", *width, *height, humanize.Bytes(uint64(len(data))))
	return core.ExitCodeSuccess
}

func runGenerate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("generate", stderr)
	prompt := fs.String("prompt", "", "generation prompt (required)")
	template := fs.String("placeholder", "", "template image path; a white placeholder is used when empty")
	width := fs.Int("width", 0, "image width (default: template width, or 512)")
	height := fs.Int("height", 0, "image height (default: template height, or 512)")
	out := fs.String("out", "", "output path or object key (default <fingerprint>.png)")
	provider := fs.String("provider", "", "provider to use: gemini, openrouter, requesty or mock")
	id := fs.String("id", "", "job id (default: random UUID)")
	seed := fs.Int64("seed", -1, "generation seed")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	params := paramFlag{}
	fs.Var(params, "param", "extra key=value generation param (repeatable)")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}
	if *asJSON {
		color.NoColor = true
	}

	if *seed >= 0 {
		params["seed"] = *seed
	}
	job, err := buildJob(*id, *prompt, *template, *width, *height, *provider, params)
	if err != nil {
		return fail(stderr, err)
	}

	a, err := newApp(stdout, stderr, zapcore.WarnLevel)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close()

	if *out != "" {
		job.Output = a.outputName(*out)
	}

	ctx := a.ctx()
	orch, err := a.orchestrator(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	if err := a.repo.CreateBatch(ctx, "", []imagegen.Job{job}); err != nil {
		return fail(stderr, err)
	}

	var result *imagegen.BatchResult
	err = a.manager.Track("generate", func(ctx context.Context) error {
		var err error
		result, err = orch.Submit(ctx, []imagegen.Job{job}, a.batchConfig())
		return err
	})
	if err != nil {
		return fail(stderr, err)
	}

	res := result.Results[0]
	if err := a.repo.RecordJobResult(context.WithoutCancel(ctx), res); err != nil {
		a.logger.Warn("failed to record job result", zap.String("job_id", res.JobID), zap.Error(err))
	}

	if *asJSON {
		if err := writeJSON(stdout, toJobOutput(res)); err != nil {
			return fail(stderr, err)
		}
	} else if res.Success {
		fmt.Fprintf(stdout, "Generated image saved to %s ", res.ArtifactRef)
		if res.Cached {
			dimColor.Fprintln(stdout, "(cached)")
		} else {
			dimColor.Fprintf(stdout, "(%s, %d attempt(s))\n", res.ProviderUsed, res.AttemptsMade)
		}
	} else {
		printError(stderr, res.Err)
	}

	if a.manager.Interrupted() {
		return core.ExitCodeSIGINT
	}
	return exitCode(result)
}

// outputName resolves an --out value for the configured sink: file sinks get
// an absolute path so it lands relative to the working directory, object
// sinks use it as the key.
func (a *app) outputName(out string) string {
	if a.cfg.MinIO.Enabled() || filepath.IsAbs(out) {
		return out
	}
	abs, err := filepath.Abs(out)
	if err != nil {
		return out
	}
	return abs
}

// buildJob validates flag input and fills defaults. Dimensions default to
// the template's size, or 512 without a template.
func buildJob(id, prompt, templatePath string, width, height int, provider string, params map[string]any) (imagegen.Job, error) {
	if err := core.ValidatePrompt(prompt); err != nil {
		return imagegen.Job{}, err
	}
	if err := core.ValidateProvider(provider); err != nil {
		return imagegen.Job{}, err
	}

	if templatePath != "" && (width == 0 || height == 0) {
		data, err := os.ReadFile(templatePath)
		if err != nil {
			return imagegen.Job{}, fmt.Errorf("failed to read template: %w", err)
		}
		w, h, err := imagegen.ImageSize(data)
		if err != nil {
			return imagegen.Job{}, err
		}
		if width == 0 {
			width = w
		}
		if height == 0 {
			height = h
		}
	}
	if width == 0 {
		width = core.DefaultDimension
	}
	if height == 0 {
		height = core.DefaultDimension
	}
	if err := core.ValidateDimensions(width, height); err != nil {
		return imagegen.Job{}, err
	}

	if len(params) == 0 {
		params = nil
	}
	if _, err := imagegen.CanonicalParams(params); err != nil {
		return imagegen.Job{}, &core.ValidationError{Field: "params", Message: err.Error()}
	}
	if id == "" {
		id = uuid.NewString()
	}
	return imagegen.Job{
		ID:           id,
		Prompt:       prompt,
		Width:        width,
		Height:       height,
		TemplatePath: templatePath,
		ProviderHint: provider,
		Params:       params,
	}, nil
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("status", stderr)
	asJSON := fs.Bool("json", false, "print the status as JSON")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: bananagen status [--json] <job-or-batch-id>")
		return core.ExitCodeError
	}
	if *asJSON {
		color.NoColor = true
	}

	a, err := newApp(stdout, stderr, zapcore.WarnLevel)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close()

	id := fs.Arg(0)
	report, err := a.repo.Status(a.ctx(), id)
	if errors.Is(err, db.ErrNotFound) {
		return fail(stderr, fmt.Errorf("no job or batch with id %q", id))
	}
	if err != nil {
		return fail(stderr, err)
	}

	if *asJSON {
		if err := writeJSON(stdout, report); err != nil {
			return fail(stderr, err)
		}
		return core.ExitCodeSuccess
	}
	printStatus(stdout, report)
	return core.ExitCodeSuccess
}
