package cli

import (
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/engine"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Document string
	Path     string   // optional - filter to one field path
	Under    string   // optional - filter to a group or row subtree
	Causes   []string // optional - filter to these causes
	Since    int64    // optional - only changes after this seq
	Limit    int
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	DocumentID string           `json:"document_id"`
	Path       string           `json:"path,omitempty"`
	Under      string           `json:"under,omitempty"`
	Changes    []engine.Change  `json:"changes"`
	Stats      TraceStats       `json:"stats"`
	Submission *SubmissionTrace `json:"submission,omitempty"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalChanges int            `json:"total_changes"`
	Fields       int            `json:"fields"`
	ByCause      map[string]int `json:"by_cause"`
}

// SubmissionTrace is the latest stored submission of the document.
type SubmissionTrace struct {
	Seq      int64            `json:"seq"`
	Snapshot *engine.Snapshot `json:"snapshot"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the stored change log of a document",
		Long: `Show the persisted change log of a document.

Each change carries its sequence number, field path, new value and cause
(input, load, initial, reset, lookup, derive, aggregate or conflict). The
latest submission, if any, is reported after the log.

Examples:
  formsync trace --db ./formsync.db --document 0192d0a4-...
  formsync trace --db ./formsync.db --document doc-1 --path pallets[0].net
  formsync trace --document doc-1 --under pallets --cause derive --cause aggregate
  formsync trace --document doc-1 --since 40 --limit 10
  formsync trace --document doc-1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Document, "document", "", "document ID to trace (required)")
	_ = cmd.MarkFlagRequired("document")
	cmd.Flags().StringVar(&opts.Path, "path", "", "filter to one field path")
	cmd.Flags().StringVar(&opts.Under, "under", "", "filter to a group or row and everything below it")
	cmd.Flags().StringArrayVar(&opts.Causes, "cause", nil, "filter by cause (repeatable)")
	cmd.Flags().Int64Var(&opts.Since, "since", 0, "only show changes after this seq")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of changes (0 = all)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	st, err := openExistingStore(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	query, err := buildTraceQuery(opts)
	if err != nil {
		return err
	}
	changes, err := st.QueryChanges(ctx, query)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read change log", err)
	}

	result := TraceResult{
		DocumentID: opts.Document,
		Path:       opts.Path,
		Under:      opts.Under,
		Changes:    changes,
		Stats:      buildTraceStats(changes),
	}
	if result.Changes == nil {
		result.Changes = []engine.Change{}
	}

	snap, seq, found, err := st.ReadSubmission(ctx, opts.Document)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read submission", err)
	}
	if found {
		result.Submission = &SubmissionTrace{Seq: seq, Snapshot: snap}
	}

	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if formatter.JSON() {
		return formatter.Success(result)
	}
	outputTraceText(formatter.Writer, result, opts.Verbose)
	return nil
}

// knownCauses lists the causes accepted by --cause.
var knownCauses = []engine.Cause{
	engine.CauseInput, engine.CauseLoad, engine.CauseInitial, engine.CauseReset,
	engine.CauseLookup, engine.CauseDerive, engine.CauseAggregate, engine.CauseConflict,
}

func buildTraceQuery(opts *TraceOptions) (store.ChangeQuery, error) {
	q := store.ChangeQuery{DocumentID: opts.Document, Limit: opts.Limit}
	if opts.Path != "" {
		q.Filters = append(q.Filters, store.PathIs(opts.Path))
	}
	if opts.Under != "" {
		q.Filters = append(q.Filters, store.PathUnder(opts.Under))
	}
	if len(opts.Causes) > 0 {
		causes := make(store.CauseIn, 0, len(opts.Causes))
		for _, c := range opts.Causes {
			cause := engine.Cause(c)
			if !slices.Contains(knownCauses, cause) {
				return q, NewExitError(ExitCommandError, fmt.Sprintf("unknown cause %q", c))
			}
			causes = append(causes, cause)
		}
		q.Filters = append(q.Filters, causes)
	}
	if opts.Since > 0 {
		q.Filters = append(q.Filters, store.AfterSeq(opts.Since))
	}
	return q, nil
}

func buildTraceStats(changes []engine.Change) TraceStats {
	stats := TraceStats{TotalChanges: len(changes), ByCause: make(map[string]int)}
	fields := make(map[string]struct{})
	for _, c := range changes {
		stats.ByCause[string(c.Cause)]++
		fields[c.Path] = struct{}{}
	}
	stats.Fields = len(fields)
	return stats
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	fmt.Fprintf(w, "Trace for document: %s\n", result.DocumentID)
	if result.Path != "" {
		fmt.Fprintf(w, "Path: %s\n", result.Path)
	}
	if result.Under != "" {
		fmt.Fprintf(w, "Under: %s\n", result.Under)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Changes ===")
	if len(result.Changes) == 0 {
		fmt.Fprintln(w, "  (no changes)")
	}
	for _, c := range result.Changes {
		fmt.Fprintf(w, "  [%d] %s = %s (%s)\n", c.Seq, c.Path, formatValue(c), c.Cause)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Changes: %d\n", result.Stats.TotalChanges)
	fmt.Fprintf(w, "  Fields:  %d\n", result.Stats.Fields)
	if len(result.Stats.ByCause) > 0 {
		fmt.Fprintf(w, "  Causes:  %s\n", formatCauses(result.Stats.ByCause))
	}

	if result.Submission != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Submission ===")
		fmt.Fprintf(w, "  Submitted after seq %d\n", result.Submission.Seq)
		if verbose && result.Submission.Snapshot != nil {
			for _, path := range result.Submission.Snapshot.Order {
				fmt.Fprintf(w, "  %s = %q\n", path, result.Submission.Snapshot.Fields[path].Value)
			}
		}
	}
}

// formatValue renders a change value; multiselect values are listed.
func formatValue(c engine.Change) string {
	if len(c.Values) > 0 {
		return "[" + strings.Join(c.Values, ", ") + "]"
	}
	return fmt.Sprintf("%q", c.Value)
}

// formatCauses renders cause counts with sorted keys for deterministic output.
func formatCauses(byCause map[string]int) string {
	keys := make([]string, 0, len(byCause))
	for k := range byCause {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, byCause[k]))
	}
	return strings.Join(parts, ", ")
}

// openExistingStore opens the database at path, or the configured store,
// and refuses to create a new file.
func openExistingStore(opts *RootOptions, path string) (*store.Store, error) {
	if path == "" {
		path = opts.settings().Store.Path
	}
	if err := requireFile(path); err != nil {
		return nil, err
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}
