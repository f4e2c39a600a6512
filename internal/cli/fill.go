package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/compiler"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/engine"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/refdata"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/store"
)

// settlePoll is how often fill checks for in-flight resolutions.
const settlePoll = 10 * time.Millisecond

// FillOptions holds flags for the fill command.
type FillOptions struct {
	*RootOptions
	Document   string
	DocumentID string
	Database   string
	BaseURL    string
	Submit     bool
}

// FillResult reports a filled document.
type FillResult struct {
	DocumentID string           `json:"document_id"`
	Changes    int              `json:"changes"`
	Rejected   []string         `json:"rejected,omitempty"`
	Submitted  bool             `json:"submitted"`
	Snapshot   *engine.Snapshot `json:"snapshot"`
}

// fillOp is one input parsed from the command line.
type fillOp struct {
	addRow string // group path for "+group"
	path   string
	value  string
}

// NewFillCommand creates the fill command.
func NewFillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fill <forms-path> [input...]",
		Short: "Fill a document from the command line",
		Long: `Instantiate a document, apply inputs in order and print the settled state.

Each input is either "path=value", which sets a field (a comma-separated
value sets a multiselect), or "+group", which appends a row to a group.
Every input waits until the resolutions it triggered have landed, so later
inputs can pick options fetched for earlier ones.

Reference data comes from --base-url (or refdata.base_url in the config)
when set, otherwise from the fixtures in the store. The change log is
written to the store; --submit also stores the submitted snapshot.

Examples:
  formsync fill forms/receiving.cue product=1 variety=10 +pallets pallets[1].gross=50
  formsync fill forms/ --document receiving --id doc-7 product=2 --submit`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFill(opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Document, "document", "", "document name when the forms define several")
	cmd.Flags().StringVar(&opts.DocumentID, "id", "", "document ID (default: a new UUIDv7); an existing ID continues its change log")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "reference service base URL (default from config)")
	cmd.Flags().BoolVar(&opts.Submit, "submit", false, "store the submitted snapshot")

	return cmd
}

func parseFillOps(args []string) ([]fillOp, error) {
	ops := make([]fillOp, 0, len(args))
	for _, arg := range args {
		if group, ok := strings.CutPrefix(arg, "+"); ok {
			if group == "" {
				return nil, fmt.Errorf("input %q: missing group path", arg)
			}
			ops = append(ops, fillOp{addRow: group})
			continue
		}
		path, value, ok := strings.Cut(arg, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("input %q: want path=value or +group", arg)
		}
		ops = append(ops, fillOp{path: path, value: value})
	}
	return ops, nil
}

// rejections collects inputs the engine refused.
type rejections struct {
	errs []string
}

func (r *rejections) FieldChanged(engine.Change) {}

func (r *rejections) InputRejected(_ engine.Event, err error) {
	r.errs = append(r.errs, err.Error())
}

func runFill(opts *FillOptions, formsPath string, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	cfg := opts.settings()
	logger := opts.logger()
	ctx := cmd.Context()

	ops, err := parseFillOps(args)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid input", err)
	}

	spec, err := compiler.LoadDocument(formsPath, opts.Document)
	if err != nil {
		code, message := parseCompileError(err)
		_ = formatter.Error(code, message, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
	}

	st, _, err := openStore(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	var docOpts []engine.DocumentOption
	if opts.DocumentID != "" {
		docOpts = append(docOpts, engine.WithIDGenerator(engine.NewFixedGenerator(opts.DocumentID)))
	}
	doc, err := engine.NewDocument(spec, docOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build document", err)
	}
	lastSeq, err := st.LastSeq(ctx, doc.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read change log", err)
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = cfg.RefData.BaseURL
	}
	var fetcher refdata.Fetcher = &refdata.FixtureFetcher{Source: st}
	if baseURL != "" {
		fetcher = refdata.NewHTTPFetcher(baseURL, nil, cfg.RefData.Timeout)
	}
	client := refdata.NewClient(fetcher, append(cfg.ClientOptions(), refdata.WithLogger(logger))...)

	changeLog := store.NewChangeLog(st, doc.ID)
	rejected := &rejections{}
	engineOpts := append(cfg.EngineOptions(),
		engine.WithObserver(changeLog),
		engine.WithObserver(rejected),
		engine.WithLogger(logger),
		engine.WithSeqStart(lastSeq),
	)
	eng, err := engine.New(doc, client, engineOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	defer eng.Close()

	// Bound every wait by the fetch timeout plus the aggregate window.
	wait := cfg.RefData.Timeout + cfg.Engine.Debounce + time.Second

	report, err := settleEngine(ctx, eng, wait)
	if err != nil {
		return WrapExitError(ExitFailure, "initial resolution did not settle", err)
	}
	for _, op := range ops {
		if op.addRow != "" {
			err = eng.AddRow(op.addRow)
		} else {
			err = eng.SetValue(op.path, op.value)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "engine closed", err)
		}
		if report, err = settleEngine(ctx, eng, wait); err != nil {
			return WrapExitError(ExitFailure, "inputs did not settle", err)
		}
	}

	written, err := changeLog.Flush(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to persist change log", err)
	}
	logger.Info("change log persisted", "document", doc.ID, "changes", written)

	if opts.Submit {
		seq, err := st.LastSeq(ctx, doc.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read change log", err)
		}
		if err := st.WriteSubmission(ctx, seq, doc.Hash, report.Snapshot); err != nil {
			return WrapExitError(ExitCommandError, "failed to store submission", err)
		}
	}

	result := FillResult{
		DocumentID: doc.ID,
		Changes:    written,
		Rejected:   rejected.errs,
		Submitted:  opts.Submit,
		Snapshot:   report.Snapshot,
	}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	outputFillText(formatter.Writer, result)
	return nil
}

// settleEngine drains the queue through Submit until no resolution is in
// flight. Submit also flushes the debounced aggregates, so the returned
// snapshot is final for the inputs applied so far.
func settleEngine(ctx context.Context, eng *engine.Engine, wait time.Duration) (*engine.SubmitReport, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	for {
		report, err := eng.Submit(ctx)
		if err != nil {
			return nil, err
		}
		if len(report.Pending) == 0 {
			return report, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("resolution pending for %s: %w", strings.Join(report.Pending, ", "), ctx.Err())
		case <-time.After(settlePoll):
		}
	}
}

func outputFillText(w io.Writer, result FillResult) {
	fmt.Fprintf(w, "Document %s (%d change(s) stored)\n\n", result.DocumentID, result.Changes)

	for _, path := range result.Snapshot.Order {
		f := result.Snapshot.Fields[path]
		value := fmt.Sprintf("%q", f.Value)
		if len(f.Values) > 0 {
			value = "[" + strings.Join(f.Values, ", ") + "]"
		}
		var notes []string
		notes = append(notes, string(f.State))
		if len(f.Options) > 0 {
			notes = append(notes, fmt.Sprintf("%d option(s)", len(f.EnabledOptions())))
		}
		if f.Hidden {
			notes = append(notes, "hidden")
		}
		if f.Error != "" {
			notes = append(notes, "error: "+f.Error)
		}
		fmt.Fprintf(w, "  %s = %s (%s)\n", path, value, strings.Join(notes, ", "))
	}

	if len(result.Rejected) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Rejected inputs:")
		for _, r := range result.Rejected {
			fmt.Fprintf(w, "  %s\n", r)
		}
	}
	if result.Submitted {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "✓ Submitted")
	}
}
