// Command bananagen generates images from text prompts through Gemini,
// OpenRouter or Requesty, with retries, provider fallback and a
// content-addressed cache of finished generations.
//
// Usage:
//
//	bananagen <command> [flags]
//
// Commands:
//
//	placeholder  render a solid placeholder PNG
//	generate     generate one image
//	batch        generate every job in a JSON or YAML file
//	scan         find __placeholder__ tokens in files and generate images for them
//	status       show a job or batch
//	configure    manage stored provider keys and API tokens
//	serve        run the HTTP API
package main

import (
	"fmt"
	"io"
	"os"

	"bananagen/core"

	"github.com/joho/godotenv"
)

type command struct {
	name    string
	summary string
	run     func(args []string, stdout, stderr io.Writer) int
}

var commands = []command{
	{"placeholder", "render a solid placeholder PNG", runPlaceholder},
	{"generate", "generate one image", runGenerate},
	{"batch", "generate every job in a JSON or YAML file", runBatch},
	{"scan", "find placeholder tokens in files and generate images for them", runScan},
	{"status", "show a job or batch", runStatus},
	{"configure", "manage stored provider keys and API tokens", runConfigure},
	{"serve", "run the HTTP API", runServe},
}

func main() {
	// A missing .env is normal; the environment may already be set.
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches to a subcommand and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return core.ExitCodeError
	}
	name := args[0]
	if name == "help" || name == "-h" || name == "--help" {
		usage(stdout)
		return core.ExitCodeSuccess
	}
	for _, c := range commands {
		if c.name == name {
			return c.run(args[1:], stdout, stderr)
		}
	}
	fmt.Fprintf(stderr, "unknown command %q\n\n", name)
	usage(stderr)
	return core.ExitCodeError
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: bananagen <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'bananagen <command> -h' for command flags.")
}
