package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/compiler"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/engine"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/ir"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/refdata"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/store"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/testutil"
)

// maxSettleRounds bounds settle steps. A scenario that still has work after
// this many rounds of fetches, events and timers is reported as a failure.
const maxSettleRounds = 100

// Harness is the scenario execution engine.
// It drives a real engine with a manual spawner and manual timers, so fetch
// completion order and debounce firing are decided by the scenario.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	client  *refdata.Client
	spawner *testutil.ManualSpawner
	timers  *testutil.ManualTimers
	log     *store.ChangeLog
	logger  *slog.Logger

	specHash string
	result   *Result
	step     int // index of the step being applied; -1 during construction
}

// traceObserver copies engine output into the result trace. The engine
// calls it on the goroutine applying events, which is always the harness.
type traceObserver struct {
	h *Harness
}

func (o traceObserver) FieldChanged(c engine.Change) {
	o.h.result.AddChangeTrace(o.h.step, c)
}

func (o traceObserver) InputRejected(ev engine.Event, err error) {
	o.h.result.AddRejectedTrace(o.h.step, ev.Path, err)
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
//  1. Load and validate the form
//  2. Seed the scenario fixtures into the store
//  3. Build the engine over the store with deterministic helpers
//  4. Apply steps in order
//  5. Persist the change log and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	spec, err := compiler.LoadDocument(scenario.Form, scenario.Document)
	if err != nil {
		return nil, fmt.Errorf("failed to load form: %w", err)
	}
	specHash, err := ir.DocumentHash(*spec)
	if err != nil {
		return nil, fmt.Errorf("failed to hash form: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	if _, err := st.Seed(ctx, scenario.Fixtures); err != nil {
		return nil, fmt.Errorf("failed to seed fixtures: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	h := &Harness{
		store:    st,
		spawner:  testutil.NewManualSpawner(),
		timers:   testutil.NewManualTimers(),
		log:      store.NewChangeLog(st, scenario.DocumentID),
		logger:   logger,
		specHash: specHash,
		result:   NewResult(),
		step:     -1,
	}
	h.client = refdata.NewClient(&refdata.FixtureFetcher{Source: st}, refdata.WithLogger(logger))

	doc, err := engine.NewDocument(spec, engine.WithIDGenerator(testutil.NewFixedIDGenerator(scenario.DocumentID)))
	if err != nil {
		return nil, fmt.Errorf("failed to build document: %w", err)
	}
	opts := []engine.Option{
		engine.WithSpawner(h.spawner),
		engine.WithTimers(h.timers),
		engine.WithObserver(traceObserver{h: h}),
		engine.WithObserver(h.log),
		engine.WithLogger(logger),
	}
	if scenario.Debounce > 0 {
		opts = append(opts, engine.WithDebounce(scenario.Debounce))
	}
	h.engine, err = engine.New(doc, h.client, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	defer h.engine.Close()

	for i, step := range scenario.Steps {
		h.step = i
		if err := h.apply(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
	}

	h.result.Snapshot = h.engine.Snapshot()
	if _, err := h.log.Flush(ctx); err != nil {
		return nil, fmt.Errorf("failed to persist change log: %w", err)
	}

	actx := &AssertionContext{
		Store:      st,
		Ctx:        ctx,
		DocumentID: scenario.DocumentID,
	}
	for _, errMsg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(errMsg)
	}
	return h.result, nil
}

// apply runs one step. Returned errors abort the scenario; expectation
// mismatches are recorded on the result instead.
func (h *Harness) apply(ctx context.Context, step Step) error {
	h.result.AddStepTrace(h.step, step.Op, step.Path)
	before := len(h.result.Rejections())

	var err error
	switch step.Op {
	case OpSet:
		err = h.engine.SetValue(step.Path, step.Value)
	case OpSetValues:
		err = h.engine.SetValues(step.Path, step.Values)
	case OpAddRow:
		err = h.engine.AddRow(step.Path)
	case OpRemoveRow:
		err = h.engine.RemoveRow(step.Path, step.Index)
	case OpToggleDeleted:
		err = h.engine.ToggleDeleted(step.Path, step.Index, step.Deleted)
	case OpLoadRow:
		err = h.engine.LoadRow(step.Path, step.Row, step.Persisted)
	case OpFetch:
		h.fetch(step.Order)
	case OpTick:
		if step.Advance > 0 {
			h.timers.Advance(step.Advance)
		} else {
			h.timers.FireAll()
		}
	case OpSettle:
		if !h.settle() {
			h.result.AddError(fmt.Sprintf("step %d: document did not settle after %d rounds", h.step, maxSettleRounds))
		}
	case OpSubmit:
		err = h.submit(ctx)
	default:
		err = fmt.Errorf("unknown op %q", step.Op)
	}
	if err != nil {
		return err
	}
	h.engine.Drain()

	h.checkRejection(step, h.result.Rejections()[before:])

	h.logger.Info("step applied", "step", h.step, "op", step.Op, "path", step.Path)
	return nil
}

// fetch completes pending reference-data requests in the requested order.
func (h *Harness) fetch(order string) {
	switch order {
	case OrderFirst:
		h.spawner.RunNext()
	case OrderLast:
		h.spawner.RunLast()
	default:
		h.spawner.RunAll()
	}
}

// settle runs fetches, events and timers until nothing is left.
func (h *Harness) settle() bool {
	for i := 0; i < maxSettleRounds; i++ {
		n := h.spawner.RunAll()
		n += h.engine.Drain()
		n += h.timers.FireAll()
		n += h.engine.Drain()
		if n == 0 {
			return true
		}
	}
	return false
}

// submit runs the engine submit and stores the report like a host would:
// the change log first, then the snapshot at the last change.
func (h *Harness) submit(ctx context.Context) error {
	report, err := h.engine.Submit(ctx)
	if err != nil {
		return err
	}
	h.result.Submitted = report

	if _, err := h.log.Flush(ctx); err != nil {
		return fmt.Errorf("persist change log: %w", err)
	}
	seq, err := h.store.LastSeq(ctx, report.Snapshot.DocumentID)
	if err != nil {
		return err
	}
	return h.store.WriteSubmission(ctx, seq, h.specHash, report.Snapshot)
}

// checkRejection compares the rejections a step produced with its Reject expectation.
func (h *Harness) checkRejection(step Step, rejected []TraceEvent) {
	if step.Reject == "" {
		for _, ev := range rejected {
			h.result.AddError(fmt.Sprintf("step %d (%s %s): unexpected rejection: %s", h.step, step.Op, step.Path, ev.Error))
		}
		return
	}
	for _, ev := range rejected {
		if strings.Contains(ev.Error, step.Reject) {
			return
		}
	}
	h.result.AddError(fmt.Sprintf("step %d (%s %s): expected rejection containing %q", h.step, step.Op, step.Path, step.Reject))
}
