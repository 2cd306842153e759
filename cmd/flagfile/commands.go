package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/matt-riley/flagfile/internal/core"
	"github.com/matt-riley/flagfile/internal/engine"
	"github.com/matt-riley/flagfile/internal/source"
)

// newFlagSet returns a flag set that reports parse errors instead of exiting.
func newFlagSet(name, args string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: flagfile %s %s\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}

// parseArgs parses args and returns the remaining positional arguments. A nil
// slice with a nil error means help was requested.
func parseArgs(fs *flag.FlagSet, args []string, minArgs, maxArgs int) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, nil
		}
		return nil, usageError("%v", err)
	}
	rest := fs.Args()
	if len(rest) < minArgs || len(rest) > maxArgs {
		fs.Usage()
		return nil, &ExitError{Code: exitUsage}
	}
	if rest == nil {
		rest = []string{}
	}
	return rest, nil
}

func optionalArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func readConfig(path string) (string, *core.FlagsConfig, error) {
	resolved, err := source.Find(path)
	if err != nil {
		return "", nil, failure(err)
	}
	cfg, err := source.ReadFile(resolved)
	if err != nil {
		return resolved, nil, failure(fmt.Errorf("%s: %w", resolved, err))
	}
	return resolved, cfg, nil
}

func runValidate(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("validate", "[path]", stderr)
	rest, err := parseArgs(fs, args, 0, 1)
	if err != nil || rest == nil {
		return err
	}

	path, cfg, err := readConfig(optionalArg(rest, 0))
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %d flags OK\n", path, cfg.Len())
	return nil
}

func runList(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("list", "[path]", stderr)
	rest, err := parseArgs(fs, args, 0, 1)
	if err != nil || rest == nil {
		return err
	}

	_, cfg, err := readConfig(optionalArg(rest, 0))
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENABLED\tROLLOUT\tRULES\tDESCRIPTION")
	for name, f := range cfg.All() {
		rollout := "-"
		if f.Rollout != nil {
			rollout = strconv.FormatFloat(f.Rollout.Percentage, 'f', -1, 64) + "%"
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%d\t%s\n", name, f.Enabled, rollout, len(f.Targeting), f.Description)
	}
	return tw.Flush()
}

func runGet(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("get", "<flag> [path]", stderr)
	rest, err := parseArgs(fs, args, 1, 2)
	if err != nil || rest == nil {
		return err
	}

	name := rest[0]
	_, cfg, err := readConfig(optionalArg(rest, 1))
	if err != nil {
		return err
	}
	f, ok := cfg.Get(name)
	if !ok {
		return failure(&core.FlagNotFoundError{FlagName: name})
	}

	single, err := core.NewFlagsConfig([]string{name}, map[string]core.FlagConfig{name: f})
	if err != nil {
		return failure(err)
	}
	out, err := source.Encode(single)
	if err != nil {
		return failure(err)
	}
	_, err = stdout.Write(out)
	return err
}

// attrFlags collects repeated -attr key=value pairs. Values are read as YAML
// scalars so that numbers and booleans keep their type.
type attrFlags map[string]any

func (a attrFlags) String() string {
	pairs := make([]string, 0, len(a))
	for k, v := range a {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(pairs, ",")
}

func (a attrFlags) Set(s string) error {
	key, raw, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("attribute %q is not key=value", s)
	}

	var value any
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
		value = raw
	}
	switch value.(type) {
	case string, bool, int, float64:
	default:
		value = raw
	}
	a[key] = value
	return nil
}

func runEval(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("eval", "[options] <flag>", stderr)
	configPath := fs.String("config", "", "flag file `path` (default: search the standard locations)")
	userID := fs.String("user", "", "user id")
	email := fs.String("email", "", "user email")
	env := fs.String("env", "", "environment name")
	seed := fs.String("seed", "", "rollout hash seed for flags that do not set one")
	attrs := attrFlags{}
	fs.Var(attrs, "attr", "custom attribute as `key=value` (repeatable)")

	rest, err := parseArgs(fs, args, 1, 1)
	if err != nil || rest == nil {
		return err
	}
	name := rest[0]

	path, err := source.Find(*configPath)
	if err != nil {
		return failure(err)
	}
	e := engine.New()
	if _, err := e.LoadFile(ctx, path); err != nil {
		return failure(err)
	}

	evalCtx := core.EvaluationContext{
		UserID:      *userID,
		Email:       *email,
		Environment: *env,
	}
	if len(attrs) > 0 {
		evalCtx.CustomAttributes = attrs
	}
	if *seed != "" {
		evalCtx = evalCtx.WithHashSeed(*seed)
	}

	result, err := e.Evaluate(name, evalCtx)
	if err != nil {
		return failure(err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return failure(err)
	}
	if result.Kind == core.ReasonFlagNotFound {
		return failure(&core.FlagNotFoundError{FlagName: name})
	}
	return nil
}
