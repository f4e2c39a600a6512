package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-path>",
		Short: "Run scenario files against their forms",
		Long: `Run YAML scenarios through the engine with deterministic timers and
fetches, checking their assertions and, when a golden/<name>.golden file
sits next to a scenario, its trace.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  formsync test ./scenarios
  formsync test ./scenarios --filter "pallet*"
  formsync test ./scenarios --update
  formsync test ./scenarios/receiving.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern on the file name")

	return cmd
}

func runTests(opts *TestOptions, scenariosPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	paths, err := harness.DiscoverScenarios(scenariosPath)
	if err != nil {
		var nf *harness.ScenarioNotFoundError
		if errors.As(err, &nf) {
			return NewExitError(ExitCommandError, fmt.Sprintf("scenarios path not found: %s", scenariosPath))
		}
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	paths, err = filterScenarios(paths, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter", err)
	}
	formatter.VerboseLog("Found %d scenario(s) in %s", len(paths), scenariosPath)

	result := harness.RunSuite(cmd.Context(), paths, harness.WithGoldenUpdate(opts.Update))

	if formatter.JSON() {
		if err := outputTestJSON(formatter, result); err != nil {
			return err
		}
	} else {
		outputTestText(formatter, result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.Total))
	}
	return nil
}

// filterScenarios keeps the paths whose base name, without extension,
// matches the glob pattern. An empty pattern keeps everything.
func filterScenarios(paths []string, pattern string) ([]string, error) {
	if pattern == "" {
		return paths, nil
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid filter pattern %q: %w", pattern, err)
	}
	kept := make([]string, 0, len(paths))
	for _, p := range paths {
		base := filepath.Base(p)
		name := strings.TrimSuffix(base, filepath.Ext(base))
		if ok, _ := filepath.Match(pattern, name); ok {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

func outputTestJSON(formatter *OutputFormatter, result *harness.SuiteResult) error {
	status := "ok"
	if result.Failed > 0 {
		status = "error"
	}
	return formatter.Respond(CLIResponse{Status: status, Data: result})
}

func outputTestText(formatter *OutputFormatter, result *harness.SuiteResult) {
	w := formatter.Writer
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}

	failures := make(map[string]harness.ScenarioFailure, len(result.Failures))
	for _, f := range result.Failures {
		failures[f.Path] = f
	}

	for _, s := range result.Scenarios {
		name := s.Name
		if name == "" {
			name = filepath.Base(s.Path)
		}
		if s.Pass {
			switch s.Golden {
			case harness.GoldenUpdated:
				fmt.Fprintf(w, "✓ %s (golden updated)\n", name)
			case harness.GoldenMatched:
				fmt.Fprintf(w, "✓ %s (golden)\n", name)
			default:
				fmt.Fprintf(w, "✓ %s\n", name)
			}
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", name)
		for _, e := range failures[s.Path].Errors {
			for _, line := range strings.Split(e, "\n") {
				fmt.Fprintf(w, "  %s\n", line)
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
}
