package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"bananagen/core"
	"bananagen/db"
	"bananagen/secrets"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// stdin is where set-key reads a key given neither by flag nor argument.
var stdin io.Reader = os.Stdin

func configureUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: bananagen configure <action> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Actions:")
	fmt.Fprintln(w, "  set-key     store a sealed provider API key (--provider, --env, --key or stdin)")
	fmt.Fprintln(w, "  remove-key  deactivate a stored key (--provider, --env)")
	fmt.Fprintln(w, "  list        list providers and whether a key is stored (--env, --json)")
	fmt.Fprintln(w, "  token       create an API bearer token and its BANANAGEN_API_TOKEN_HASH")
	fmt.Fprintln(w, "  secret      create a random BANANAGEN_SECRET_KEY")
}

func runConfigure(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		configureUsage(stderr)
		return core.ExitCodeError
	}
	switch args[0] {
	case "set-key":
		return runSetKey(args[1:], stdout, stderr)
	case "remove-key":
		return runRemoveKey(args[1:], stdout, stderr)
	case "list":
		return runListProviders(args[1:], stdout, stderr)
	case "token":
		return runNewToken(stdout, stderr)
	case "secret":
		return runNewSecret(stdout, stderr)
	case "help", "-h", "--help":
		configureUsage(stdout)
		return core.ExitCodeSuccess
	default:
		fmt.Fprintf(stderr, "unknown configure action %q\n\n", args[0])
		configureUsage(stderr)
		return core.ExitCodeError
	}
}

// keyFlags parses the provider/environment pair shared by key actions.
func keyFlags(name string, args []string, stderr io.Writer, withKey bool) (provider, env, key string, code int) {
	fs := newFlagSet("configure "+name, stderr)
	fs.StringVar(&provider, "provider", "", "provider name: gemini, openrouter or requesty")
	fs.StringVar(&env, "env", "", "key environment: development, staging or production (default BANANAGEN_ENV)")
	if withKey {
		fs.StringVar(&key, "key", "", "API key (read from stdin when omitted)")
	}
	if code = parseFlags(fs, args); code >= 0 {
		return
	}
	if withKey && key == "" && fs.NArg() == 1 {
		key = fs.Arg(0)
	}
	return provider, env, key, -1
}

func validateKeyTarget(provider, env string) error {
	if provider == "" || provider == core.ProviderMock {
		return &core.ValidationError{Field: "provider", Message: "must be gemini, openrouter or requesty"}
	}
	if err := core.ValidateProvider(provider); err != nil {
		return err
	}
	return core.ValidateEnvironment(env)
}

func readKey(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	key := strings.TrimSpace(line)
	if key == "" {
		return "", &core.ValidationError{Field: "key", Message: "must not be empty"}
	}
	return key, nil
}

func runSetKey(args []string, stdout, stderr io.Writer) int {
	provider, env, key, code := keyFlags("set-key", args, stderr, true)
	if code >= 0 {
		return code
	}

	a, err := newApp(stdout, stderr, zapcore.WarnLevel)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close()

	if env == "" {
		env = a.cfg.Environment
	}
	if err := validateKeyTarget(provider, env); err != nil {
		return fail(stderr, err)
	}
	if key == "" {
		if key, err = readKey(stdin); err != nil {
			return fail(stderr, err)
		}
	}

	keys, err := a.keyRepository()
	if err != nil {
		return fail(stderr, err)
	}
	if err := keys.SaveKey(a.ctx(), provider, env, key); err != nil {
		return fail(stderr, err)
	}
	a.logger.Info("provider key stored", zap.String("provider", provider), zap.String("environment", env))
	okColor.Fprintf(stdout, "✓ Stored %s key for %s\n", provider, env)
	return core.ExitCodeSuccess
}

func runRemoveKey(args []string, stdout, stderr io.Writer) int {
	provider, env, _, code := keyFlags("remove-key", args, stderr, false)
	if code >= 0 {
		return code
	}

	a, err := newApp(stdout, stderr, zapcore.WarnLevel)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close()

	if env == "" {
		env = a.cfg.Environment
	}
	if err := validateKeyTarget(provider, env); err != nil {
		return fail(stderr, err)
	}
	keys, err := a.keyRepository()
	if err != nil {
		return fail(stderr, err)
	}
	err = keys.DeactivateKey(a.ctx(), provider, env)
	if errors.Is(err, db.ErrNotFound) {
		return fail(stderr, fmt.Errorf("no stored %s key for %s", provider, env))
	}
	if err != nil {
		return fail(stderr, err)
	}
	okColor.Fprintf(stdout, "✓ Removed %s key for %s\n", provider, env)
	return core.ExitCodeSuccess
}

func runListProviders(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("configure list", stderr)
	env := fs.String("env", "", "key environment (default BANANAGEN_ENV)")
	asJSON := fs.Bool("json", false, "print as JSON")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}
	if *asJSON {
		color.NoColor = true
	}

	a, err := newApp(stdout, stderr, zapcore.WarnLevel)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close()

	if *env == "" {
		*env = a.cfg.Environment
	}
	if err := core.ValidateEnvironment(*env); err != nil {
		return fail(stderr, err)
	}
	keys, err := a.keyRepository()
	if err != nil {
		return fail(stderr, err)
	}
	providers, err := keys.ListProviders(a.ctx(), *env)
	if err != nil {
		return fail(stderr, err)
	}

	if *asJSON {
		if err := writeJSON(stdout, providers); err != nil {
			return fail(stderr, err)
		}
		return core.ExitCodeSuccess
	}
	headColor.Fprintf(stdout, "Providers (%s)\n", *env)
	for _, p := range providers {
		state := dimColor.Sprint("no key")
		if p.HasKey {
			state = okColor.Sprint("key stored")
		}
		fmt.Fprintf(stdout, "  %-11s %s ", p.Name, state)
		dimColor.Fprintf(stdout, "%s %s\n", p.ModelName, p.BaseURL)
	}
	return core.ExitCodeSuccess
}

func runNewToken(stdout, stderr io.Writer) int {
	token, err := secrets.NewToken()
	if err != nil {
		return fail(stderr, err)
	}
	hash, err := secrets.HashToken(token)
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "Token: %s\n", token)
	fmt.Fprintf(stdout, "BANANAGEN_API_TOKEN_HASH=%s\n", hash)
	dimColor.Fprintln(stdout, "The token is shown once. Send it as 'Authorization: Bearer <token>'.")
	return core.ExitCodeSuccess
}

func runNewSecret(stdout, stderr io.Writer) int {
	secret, err := secrets.NewToken()
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "BANANAGEN_SECRET_KEY=%s\n", secret)
	dimColor.Fprintln(stdout, "Keys sealed with one secret cannot be opened with another.")
	return core.ExitCodeSuccess
}
