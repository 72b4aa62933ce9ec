package main

import (
	"context"
	"fmt"
	"io"

	"bananagen/core"
	"bananagen/scan"

	"github.com/fatih/color"
	"go.uber.org/zap/zapcore"
)

// scanReport is the JSON output of scan.
type scanReport struct {
	Root     string         `json:"root"`
	Matches  int            `json:"matches"`
	Outcomes []scan.Outcome `json:"outcomes,omitempty"`
	Found    []scan.Match   `json:"found,omitempty"`
}

func runScan(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("scan", stderr)
	root := fs.String("root", ".", "directory to scan")
	pattern := fs.String("pattern", scan.DefaultPattern, "file selector: a glob on the base name, or a substring of the path")
	replace := fs.Bool("replace", false, "rewrite each token with its artifact reference")
	dryRun := fs.Bool("dry-run", false, "list placeholders and prompts without generating")
	prefix := fs.String("prefix", "", "artifact name prefix (default: content fingerprint names)")
	asJSON := fs.Bool("json", false, "print results as JSON")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}
	if fs.NArg() == 1 {
		*root = fs.Arg(0)
	}
	if *asJSON {
		color.NoColor = true
	}

	a, err := newApp(stdout, stderr, zapcore.WarnLevel)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close()

	ctx := a.ctx()
	matches, err := scan.NewScanner(*root, *pattern).Scan(ctx)
	if err != nil {
		return fail(stderr, err)
	}

	if *dryRun {
		if *asJSON {
			if err := writeJSON(stdout, scanReport{Root: *root, Matches: len(matches), Found: matches}); err != nil {
				return fail(stderr, err)
			}
			return core.ExitCodeSuccess
		}
		for _, m := range matches {
			fmt.Fprintf(stdout, "%s:%d %s ", m.File, m.Line, m.Token)
			if m.Prompt == "" {
				failColor.Fprintln(stdout, "(no prompt)")
			} else {
				dimColor.Fprintf(stdout, "%dx%d %q\n", m.Width, m.Height, m.Prompt)
			}
		}
		dimColor.Fprintf(stdout, "%d placeholder(s) found\n", len(matches))
		return core.ExitCodeSuccess
	}

	orch, err := a.orchestrator(ctx)
	if err != nil {
		return fail(stderr, err)
	}

	opts := scan.Options{Batch: a.batchConfig(), Replace: *replace, OutputPrefix: *prefix}
	var outcomes []scan.Outcome
	err = a.manager.Track("scan", func(ctx context.Context) error {
		var err error
		outcomes, err = scan.Process(ctx, orch, matches, opts, a.logger.Zap().Named("scan"))
		return err
	})
	if err != nil {
		return fail(stderr, err)
	}

	failed := 0
	for _, o := range outcomes {
		if o.Status == scan.StatusError {
			failed++
		}
	}

	if *asJSON {
		if err := writeJSON(stdout, scanReport{Root: *root, Matches: len(matches), Outcomes: outcomes}); err != nil {
			return fail(stderr, err)
		}
	} else {
		printScanOutcomes(stdout, outcomes)
	}

	if a.manager.Interrupted() {
		return core.ExitCodeSIGINT
	}
	if failed > 0 {
		return core.ExitCodeJobsFailed
	}
	return core.ExitCodeSuccess
}

func printScanOutcomes(w io.Writer, outcomes []scan.Outcome) {
	counts := map[string]int{}
	for _, o := range outcomes {
		counts[o.Status]++
		fmt.Fprintf(w, "  %s:%d ", o.File, o.Line)
		switch o.Status {
		case scan.StatusReplaced, scan.StatusGenerated:
			okColor.Fprint(w, o.Status)
			dimColor.Fprintf(w, " %s\n", o.ArtifactRef)
		case scan.StatusSkipped:
			dimColor.Fprintf(w, "%s (%s)\n", o.Status, o.Reason)
		default:
			failColor.Fprint(w, o.Status)
			dimColor.Fprintf(w, " %s\n", o.Reason)
		}
	}
	fmt.Fprintf(w, "%d placeholder(s): %d generated, %d replaced, %d skipped, %d failed\n",
		len(outcomes), counts[scan.StatusGenerated], counts[scan.StatusReplaced], counts[scan.StatusSkipped], counts[scan.StatusError])
}
