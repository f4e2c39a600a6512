package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/store"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Database string
	List     bool
}

// SeedResult reports what the seed command stored.
type SeedResult struct {
	Database   string            `json:"database"`
	Written    int               `json:"written"`
	References []store.Reference `json:"references,omitempty"`
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed [fixtures.yaml]",
		Short: "Load reference data fixtures into the store",
		Long: `Load reference data fixtures into the SQLite store served by
"formsync serve" and read by "formsync fill".

A fixture names an endpoint, its query parameters and the JSON body to
return. Seeding the same request twice replaces the stored body.

Examples:
  formsync seed fixtures.yaml --db ./formsync.db
  formsync seed --list --db ./formsync.db`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runSeed(opts, path, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list stored references after seeding")

	return cmd
}

func runSeed(opts *SeedOptions, fixturesPath string, cmd *cobra.Command) error {
	if fixturesPath == "" && !opts.List {
		return NewExitError(ExitCommandError, "nothing to do: give a fixtures file or --list")
	}
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()

	var fixtures []store.Fixture
	if fixturesPath != "" {
		var err error
		if fixtures, err = store.LoadFixtures(fixturesPath); err != nil {
			return WrapExitError(ExitCommandError, "failed to load fixtures", err)
		}
	}

	st, dbPath, err := openStore(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	result := SeedResult{Database: dbPath}
	if result.Written, err = st.Seed(ctx, fixtures); err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("seeded %d of %d fixture(s)", result.Written, len(fixtures)), err)
	}
	opts.logger().Info("fixtures seeded", "db", dbPath, "count", result.Written)

	if opts.List {
		if result.References, err = st.ListReferences(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to list references", err)
		}
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	if fixturesPath != "" {
		fmt.Fprintf(formatter.Writer, "✓ Seeded %d fixture(s) into %s\n", result.Written, dbPath)
	}
	for _, ref := range result.References {
		if ref.Query != "" {
			fmt.Fprintf(formatter.Writer, "  %s?%s (%d bytes)\n", ref.Endpoint, ref.Query, len(ref.Body))
		} else {
			fmt.Fprintf(formatter.Writer, "  %s (%d bytes)\n", ref.Endpoint, len(ref.Body))
		}
	}
	return nil
}

// openStore opens (creating if needed) the database at path, or the
// configured store, and returns the path it used.
func openStore(opts *RootOptions, path string) (*store.Store, string, error) {
	if path == "" {
		path = opts.settings().Store.Path
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, path, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, path, nil
}

// requireFile fails with a command error when path does not exist.
func requireFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
		}
		return WrapExitError(ExitCommandError, "failed to stat database", err)
	}
	return nil
}
