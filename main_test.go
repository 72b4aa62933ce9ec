package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bananagen/core"
	"bananagen/db"
	"bananagen/imagegen"
)

// setupEnv points every command at a temp database and output directory and
// forces the mock provider.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, key := range []string{
		"NANO_BANANA_API_KEY", "GEMINI_API_KEY", "OPENROUTER_API_KEY", "REQUESTY_API_KEY",
		"BANANAGEN_PROVIDER_ORDER", "BANANAGEN_FALLBACK", "BANANAGEN_CONCURRENCY",
		"BANANAGEN_MAX_RETRIES", "BANANAGEN_ENV", "BANANAGEN_SECRET_KEY", "BANANAGEN_API_TOKEN_HASH",
		"DATABASE_URL", "MINIO_ENDPOINT", "DEV_MODE",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("BANANAGEN_MOCK_MODE", "true")
	t.Setenv("BANANAGEN_RATE_INTERVAL", "0.001")
	t.Setenv("BANANAGEN_RETRY_DELAY_MS", "1")
	t.Setenv("BANANAGEN_LOG_LEVEL", "error")
	t.Setenv("BANANAGEN_DB_PATH", filepath.Join(dir, "bananagen.db"))
	t.Setenv("BANANAGEN_OUTPUT_DIR", filepath.Join(dir, "out"))
	t.Setenv("BANANAGEN_LOG_FILE", filepath.Join(dir, "bananagen.log"))
	return dir
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	code, _, stderr := runCLI(t)
	if code != core.ExitCodeError {
		t.Errorf("expected exit %d, got %d", core.ExitCodeError, code)
	}
	if !strings.Contains(stderr, "Usage: bananagen") {
		t.Errorf("expected usage, got %q", stderr)
	}

	code, stdout, _ := runCLI(t, "help")
	if code != core.ExitCodeSuccess {
		t.Errorf("expected exit 0, got %d", code)
	}
	for _, c := range commands {
		if !strings.Contains(stdout, c.name) {
			t.Errorf("expected usage to list %s", c.name)
		}
	}

	code, _, stderr = runCLI(t, "paint")
	if code != core.ExitCodeError || !strings.Contains(stderr, `unknown command "paint"`) {
		t.Errorf("expected unknown command error, got %d %q", code, stderr)
	}
}

func TestParamFlag(t *testing.T) {
	p := paramFlag{}
	for _, s := range []string{"seed=42", "temperature=0.5", "hd=true", "style=watercolor", "note=a=b"} {
		if err := p.Set(s); err != nil {
			t.Fatalf("Set(%q) error = %v", s, err)
		}
	}
	if p["seed"] != int64(42) {
		t.Errorf("expected int64 seed, got %T %v", p["seed"], p["seed"])
	}
	if p["temperature"] != 0.5 {
		t.Errorf("expected float temperature, got %v", p["temperature"])
	}
	if p["hd"] != true {
		t.Errorf("expected bool hd, got %v", p["hd"])
	}
	if p["style"] != "watercolor" || p["note"] != "a=b" {
		t.Errorf("expected string values, got %v", p)
	}
	if err := p.Set("novalue"); err == nil {
		t.Error("expected error for missing '='")
	}
}

func TestBuildJob(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "tpl.png")
	data, err := imagegen.RenderPlaceholder(64, 32, "#000", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(template, data, 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		template   string
		width      int
		height     int
		provider   string
		prompt     string
		wantErr    bool
		wantWidth  int
		wantHeight int
	}{
		{name: "defaults", prompt: "a cat", wantWidth: 512, wantHeight: 512},
		{name: "template size", prompt: "a cat", template: template, wantWidth: 64, wantHeight: 32},
		{name: "explicit size wins", prompt: "a cat", template: template, width: 128, height: 128, wantWidth: 128, wantHeight: 128},
		{name: "empty prompt", prompt: "  ", wantErr: true},
		{name: "unknown provider", prompt: "a cat", provider: "dalle", wantErr: true},
		{name: "too wide", prompt: "a cat", width: 5000, height: 10, wantErr: true},
		{name: "missing template", prompt: "a cat", template: filepath.Join(dir, "nope.png"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := buildJob("", tt.prompt, tt.template, tt.width, tt.height, tt.provider, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if job.Width != tt.wantWidth || job.Height != tt.wantHeight {
				t.Errorf("expected %dx%d, got %dx%d", tt.wantWidth, tt.wantHeight, job.Width, job.Height)
			}
			if job.ID == "" {
				t.Error("expected a generated id")
			}
		})
	}

	_, err = buildJob("j", "a cat", "", 0, 0, "", map[string]any{"nested": map[string]any{"a": 1}})
	if err == nil {
		t.Error("expected error for nested params")
	}
}

func TestLoadBatchFile(t *testing.T) {
	dir := t.TempDir()
	tpl, _ := imagegen.RenderPlaceholder(40, 20, "", false)
	if err := os.WriteFile(filepath.Join(dir, "tpl.png"), tpl, 0644); err != nil {
		t.Fatal(err)
	}

	files := map[string]string{
		"list.yaml": `
- id: hero
  prompt: a banana on a beach
  width: 256
  height: 128
  params:
    seed: 7
- prompt: a banana in space
  placeholder: tpl.png
  output_path: space.png
`,
		"object.yml": `
jobs:
  - id: one
    prompt: first
  - id: two
    prompt: second
    provider: mock
`,
		"list.json": `[{"id": "a", "prompt": "json job", "width": 64, "height": 64, "params": {"seed": 3}}]`,
		"object.json": `{"jobs": [{"id": "b", "prompt": "json object job"}]}`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	jobs, err := loadBatchFile(filepath.Join(dir, "list.yaml"))
	if err != nil {
		t.Fatalf("list.yaml: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != "hero" || jobs[0].Width != 256 || jobs[0].Params["seed"] != 7 {
		t.Errorf("unexpected first job: %+v", jobs[0])
	}
	if jobs[1].TemplatePath != filepath.Join(dir, "tpl.png") {
		t.Errorf("expected template relative to batch file, got %q", jobs[1].TemplatePath)
	}
	if jobs[1].Width != 40 || jobs[1].Height != 20 {
		t.Errorf("expected template size 40x20, got %dx%d", jobs[1].Width, jobs[1].Height)
	}
	if jobs[1].Output != "space.png" || jobs[1].ID == "" {
		t.Errorf("expected output alias and generated id, got %+v", jobs[1])
	}

	jobs, err = loadBatchFile(filepath.Join(dir, "object.yml"))
	if err != nil || len(jobs) != 2 || jobs[1].ProviderHint != "mock" {
		t.Errorf("object.yml: jobs=%+v err=%v", jobs, err)
	}

	jobs, err = loadBatchFile(filepath.Join(dir, "list.json"))
	if err != nil || len(jobs) != 1 || jobs[0].Params["seed"] != 3.0 {
		t.Errorf("list.json: jobs=%+v err=%v", jobs, err)
	}

	jobs, err = loadBatchFile(filepath.Join(dir, "object.json"))
	if err != nil || len(jobs) != 1 || jobs[0].ID != "b" {
		t.Errorf("object.json: jobs=%+v err=%v", jobs, err)
	}
}

func TestLoadBatchFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"empty.yaml":     "",
		"dup.yaml":       "- {id: x, prompt: a}\n- {id: x, prompt: b}\n",
		"noprompt.json":  `[{"id": "x"}]`,
		"broken.json":    `[{"id": `,
		"badparams.yaml": "- prompt: a\n  params:\n    style: [a, b]\n",
	}
	for name, content := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := loadBatchFile(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	if _, err := loadBatchFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPlaceholderCommand(t *testing.T) {
	out := filepath.Join(t.TempDir(), "img", "ph.png")
	code, stdout, stderr := runCLI(t, "placeholder", "--width", "30", "--height", "20", "--color", "#ff0000", "--out", out)
	if code != core.ExitCodeSuccess {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Placeholder saved to "+out) {
		t.Errorf("unexpected output %q", stdout)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	w, h, err := imagegen.ImageSize(data)
	if err != nil || w != 30 || h != 20 {
		t.Errorf("expected 30x20 PNG, got %dx%d (%v)", w, h, err)
	}

	code, _, _ = runCLI(t, "placeholder", "--width", "30", "--height", "20")
	if code != core.ExitCodeError {
		t.Errorf("expected error without --out, got %d", code)
	}
	code, _, _ = runCLI(t, "placeholder", "--out", out, "--color", "nope")
	if code != core.ExitCodeError {
		t.Errorf("expected error for bad color, got %d", code)
	}
}

func TestGenerateCommand_MockThenCached(t *testing.T) {
	setupEnv(t)

	code, stdout, stderr := runCLI(t, "generate", "--json", "--id", "first", "--prompt", "a banana", "--width", "64", "--height", "64", "--seed", "9")
	if code != core.ExitCodeSuccess {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}
	var first jobOutput
	if err := json.Unmarshal([]byte(stdout), &first); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if !first.Success || first.ProviderUsed != core.ProviderMock || first.Cached {
		t.Errorf("unexpected first result: %+v", first)
	}
	if _, err := os.Stat(first.ArtifactRef); err != nil {
		t.Errorf("expected artifact at %s: %v", first.ArtifactRef, err)
	}

	code, stdout, stderr = runCLI(t, "generate", "--json", "--id", "second", "--prompt", "a banana", "--width", "64", "--height", "64", "--seed", "9")
	if code != core.ExitCodeSuccess {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}
	var second jobOutput
	if err := json.Unmarshal([]byte(stdout), &second); err != nil {
		t.Fatal(err)
	}
	if !second.Cached || second.ArtifactRef != first.ArtifactRef || second.AttemptsMade != 0 {
		t.Errorf("expected cached hit on the same artifact, got %+v", second)
	}

	code, stdout, _ = runCLI(t, "status", "--json", "first")
	if code != core.ExitCodeSuccess {
		t.Fatalf("expected status exit 0, got %d", code)
	}
	var report db.StatusReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatal(err)
	}
	if report.Kind != "job" || report.Job.Status != db.StatusDone || report.Job.ArtifactRef != first.ArtifactRef {
		t.Errorf("unexpected status report: %+v", report.Job)
	}

	code, _, stderr = runCLI(t, "status", "nope")
	if code != core.ExitCodeError || !strings.Contains(stderr, `no job or batch with id "nope"`) {
		t.Errorf("expected not found, got %d %q", code, stderr)
	}
}

func TestGenerateCommand_OutPath(t *testing.T) {
	dir := setupEnv(t)
	out := filepath.Join(dir, "named", "hero.png")

	code, stdout, stderr := runCLI(t, "generate", "--prompt", "a hero banner", "--out", out)
	if code != core.ExitCodeSuccess {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Generated image saved to "+out) {
		t.Errorf("unexpected output %q", stdout)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("expected artifact at %s: %v", out, err)
	}
}

func TestGenerateCommand_FailedJobExitCode(t *testing.T) {
	setupEnv(t)

	code, stdout, _ := runCLI(t, "generate", "--json", "--prompt", "a banana", "--provider", "gemini")
	if code != core.ExitCodeJobsFailed {
		t.Fatalf("expected exit %d, got %d", core.ExitCodeJobsFailed, code)
	}
	var res jobOutput
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Status != db.StatusFailed || !strings.Contains(res.Error, "not configured") {
		t.Errorf("unexpected failure result: %+v", res)
	}

	code, _, _ = runCLI(t, "generate", "--prompt", "")
	if code != core.ExitCodeError {
		t.Errorf("expected validation error exit, got %d", code)
	}
}

func TestBatchCommand(t *testing.T) {
	dir := setupEnv(t)
	file := filepath.Join(dir, "jobs.yaml")
	content := `
- id: a
  prompt: a red banana
  width: 32
  height: 32
- id: b
  prompt: a red banana
  width: 32
  height: 32
- id: c
  prompt: a green banana
  width: 32
  height: 32
  provider: openrouter
`
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := runCLI(t, "batch", "--json", "--file", file)
	if code != core.ExitCodeJobsFailed {
		t.Fatalf("expected exit %d, got %d: %s", core.ExitCodeJobsFailed, code, stderr)
	}
	var out batchOutput
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if out.Succeeded != 2 || out.Failed != 1 || out.Cached != 1 {
		t.Errorf("expected 2 succeeded, 1 failed, 1 cached, got %+v", out)
	}
	if out.Results[0].JobID != "a" || out.Results[1].JobID != "b" || out.Results[2].JobID != "c" {
		t.Errorf("expected results in input order, got %+v", out.Results)
	}
	if !out.Results[1].Cached || out.Results[1].ArtifactRef != out.Results[0].ArtifactRef {
		t.Errorf("expected duplicate job to share the artifact, got %+v", out.Results[1])
	}

	code, stdout, _ = runCLI(t, "status", "--json", out.BatchID)
	if code != core.ExitCodeSuccess {
		t.Fatalf("expected status exit 0, got %d", code)
	}
	var report db.StatusReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatal(err)
	}
	if report.Kind != "batch" || report.Batch.Status != db.StatusDone || len(report.Jobs) != 3 {
		t.Errorf("unexpected batch report: %+v", report.Batch)
	}
	if report.Batch.Succeeded != 2 || report.Batch.Failed != 1 {
		t.Errorf("expected recorded counts 2/1, got %d/%d", report.Batch.Succeeded, report.Batch.Failed)
	}

	code, _, _ = runCLI(t, "batch")
	if code != core.ExitCodeError {
		t.Errorf("expected usage error without a file, got %d", code)
	}
}

func TestScanCommand(t *testing.T) {
	dir := setupEnv(t)
	site := filepath.Join(dir, "site")
	if err := os.MkdirAll(site, 0755); err != nil {
		t.Fatal(err)
	}
	page := filepath.Join(site, "index.html")
	content := "<!-- prompt: a sunny banana farm -->\n<img src=\"__placeholder_64x32__\">\n<img src=\"__placeholder__\">\n"
	if err := os.WriteFile(page, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := runCLI(t, "scan", "--dry-run", "--pattern", "*.html", "--root", site)
	if code != core.ExitCodeSuccess {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "2 placeholder(s) found") || !strings.Contains(stdout, "a sunny banana farm") {
		t.Errorf("unexpected dry-run output %q", stdout)
	}

	code, stdout, stderr = runCLI(t, "scan", "--json", "--replace", "--pattern", "*.html", site)
	if code != core.ExitCodeSuccess {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}
	var report scanReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if report.Matches != 2 || len(report.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %+v", report)
	}
	for _, o := range report.Outcomes {
		if o.Status != "replaced" {
			t.Errorf("expected replaced, got %+v", o)
		}
	}

	rewritten, err := os.ReadFile(page)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(rewritten), "__placeholder") {
		t.Errorf("expected tokens to be replaced, got %q", rewritten)
	}
}

func TestConfigureCommands(t *testing.T) {
	setupEnv(t)

	code, stdout, _ := runCLI(t, "configure", "secret")
	if code != core.ExitCodeSuccess || !strings.HasPrefix(stdout, "BANANAGEN_SECRET_KEY=") {
		t.Fatalf("unexpected secret output %d %q", code, stdout)
	}
	secret := strings.TrimSpace(strings.SplitN(strings.TrimPrefix(stdout, "BANANAGEN_SECRET_KEY="), "\n", 2)[0])

	code, _, stderr := runCLI(t, "configure", "set-key", "--provider", "gemini", "--env", "development", "--key", "AIzaTest")
	if code != core.ExitCodeError || !strings.Contains(stderr, "BANANAGEN_SECRET_KEY") {
		t.Errorf("expected missing secret error, got %d %q", code, stderr)
	}

	t.Setenv("BANANAGEN_SECRET_KEY", secret)
	stdin = strings.NewReader("sk-or-test-key\n")
	t.Cleanup(func() { stdin = os.Stdin })

	code, stdout, stderr = runCLI(t, "configure", "set-key", "--provider", "openrouter", "--env", "development")
	if code != core.ExitCodeSuccess {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Stored openrouter key for development") {
		t.Errorf("unexpected output %q", stdout)
	}

	code, stdout, _ = runCLI(t, "configure", "list", "--env", "development", "--json")
	if code != core.ExitCodeSuccess {
		t.Fatalf("expected exit 0, got %d", code)
	}
	var providers []db.ProviderRecord
	if err := json.Unmarshal([]byte(stdout), &providers); err != nil {
		t.Fatal(err)
	}
	for _, p := range providers {
		if want := p.Name == "openrouter"; p.HasKey != want {
			t.Errorf("provider %s: expected has_key %t, got %t", p.Name, want, p.HasKey)
		}
	}

	code, _, _ = runCLI(t, "configure", "set-key", "--provider", "mock", "--env", "development", "--key", "x")
	if code != core.ExitCodeError {
		t.Errorf("expected mock to be rejected, got %d", code)
	}

	code, _, _ = runCLI(t, "configure", "remove-key", "--provider", "openrouter", "--env", "development")
	if code != core.ExitCodeSuccess {
		t.Errorf("expected remove to succeed, got %d", code)
	}
	code, _, stderr = runCLI(t, "configure", "remove-key", "--provider", "openrouter", "--env", "staging")
	if code != core.ExitCodeError || !strings.Contains(stderr, "no stored openrouter key") {
		t.Errorf("expected not found, got %d %q", code, stderr)
	}
}

func TestConfigureToken(t *testing.T) {
	code, stdout, _ := runCLI(t, "configure", "token")
	if code != core.ExitCodeSuccess {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(stdout, "Token: ") || !strings.Contains(stdout, "BANANAGEN_API_TOKEN_HASH=$2") {
		t.Errorf("unexpected token output %q", stdout)
	}

	code, _, _ = runCLI(t, "configure", "rotate")
	if code != core.ExitCodeError {
		t.Errorf("expected unknown action error, got %d", code)
	}
}
