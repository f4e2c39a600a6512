package harness

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/engine"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/numeric"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes the changes of the asserted path to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Path     string       // Asserted field or group path
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Changes of Path, for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s %s\n", e.Type, e.Path)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nChanges of %s:\n", e.Path)
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [step %d seq %d] %q (%s)\n", ev.Step, ev.Seq, ev.Value, ev.Cause)
		}
	}
	return buf.String()
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store      *store.Store
	Ctx        context.Context
	DocumentID string
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for stored_changes and submitted.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertValue, AssertValues, AssertOptions, AssertDisabledOptions, AssertState, AssertHidden:
			err = assertField(result, assertion)
		case AssertRows:
			err = assertRows(result, assertion)
		case AssertChangeCount:
			err = assertChangeCount(result, assertion)
		case AssertRejectedCount:
			if n := len(result.Rejections()); n != assertion.Count {
				err = &AssertionError{
					Type:     assertion.Type,
					Expected: fmt.Sprintf("%d rejected inputs", assertion.Count),
					Actual:   fmt.Sprintf("%d rejected inputs", n),
				}
			}
		case AssertStoredChanges, AssertSubmitted:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, assertion.Type)
			} else if assertion.Type == AssertStoredChanges {
				err = assertStoredChanges(actx, assertion)
			} else {
				err = assertSubmitted(actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// changesOf returns the trace changes of one path.
func changesOf(result *Result, path string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range result.Changes() {
		if ev.Path == path {
			out = append(out, ev)
		}
	}
	return out
}

func assertField(result *Result, a Assertion) error {
	if result.Snapshot == nil {
		return fmt.Errorf("%s %s: no snapshot", a.Type, a.Path)
	}
	view, ok := result.Snapshot.Field(a.Path)
	if !ok {
		return &AssertionError{Type: a.Type, Path: a.Path, Expected: "field to exist", Actual: "no such field"}
	}

	var expected, actual string
	switch a.Type {
	case AssertValue:
		expected, actual = a.Expect, view.Value
	case AssertState:
		expected, actual = a.Expect, string(view.State)
	case AssertHidden:
		expected, actual = a.Expect, strconv.FormatBool(view.Hidden)
	case AssertValues:
		expected, actual = formatList(a.Values), formatList(view.Values)
	case AssertOptions:
		expected, actual = formatList(a.Values), formatList(view.EnabledOptions())
	case AssertDisabledOptions:
		expected, actual = formatList(a.Values), formatList(view.DisabledOptions())
	}
	if expected == actual {
		return nil
	}
	// Values compare as decimals, so "10" matches a derived "10.000".
	if a.Type == AssertValue && numeric.Equal(expected, actual) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Path:     a.Path,
		Expected: expected,
		Actual:   actual,
		Trace:    changesOf(result, a.Path),
	}
}

func formatList(values []string) string {
	return "[" + strings.Join(values, ", ") + "]"
}

func assertRows(result *Result, a Assertion) error {
	if result.Snapshot == nil {
		return fmt.Errorf("rows %s: no snapshot", a.Path)
	}
	rows, ok := result.Snapshot.Groups[a.Path]
	if !ok {
		return &AssertionError{Type: a.Type, Path: a.Path, Expected: "group to exist", Actual: "no such group"}
	}
	n := 0
	for _, r := range rows {
		if a.Expect == "" || string(r.State) == a.Expect {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	what := "rows"
	if a.Expect != "" {
		what = a.Expect + " rows"
	}
	return &AssertionError{
		Type:     a.Type,
		Path:     a.Path,
		Expected: fmt.Sprintf("%d %s", a.Count, what),
		Actual:   fmt.Sprintf("%d %s", n, what),
	}
}

func assertChangeCount(result *Result, a Assertion) error {
	changes := changesOf(result, a.Path)
	n := 0
	for _, ev := range changes {
		if a.Expect == "" || ev.Cause == a.Expect {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Path:     a.Path,
		Expected: fmt.Sprintf("%d changes %s", a.Count, a.Expect),
		Actual:   fmt.Sprintf("%d changes %s", n, a.Expect),
		Trace:    changes,
	}
}

func assertStoredChanges(actx *AssertionContext, a Assertion) error {
	stored, err := actx.Store.ReadPathChanges(actx.Ctx, actx.DocumentID, a.Path)
	if err != nil {
		return fmt.Errorf("stored_changes %s: %w", a.Path, err)
	}
	if len(stored) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Path:     a.Path,
		Expected: fmt.Sprintf("%d stored changes", a.Count),
		Actual:   fmt.Sprintf("%d stored changes", len(stored)),
		Trace:    storedTrace(stored),
	}
}

func storedTrace(changes []engine.Change) []TraceEvent {
	out := make([]TraceEvent, 0, len(changes))
	for _, c := range changes {
		out = append(out, TraceEvent{Type: EventChange, Path: c.Path, Value: c.Value, Cause: string(c.Cause), Seq: c.Seq})
	}
	return out
}

func assertSubmitted(actx *AssertionContext, a Assertion) error {
	snap, _, found, err := actx.Store.ReadSubmission(actx.Ctx, actx.DocumentID)
	if err != nil {
		return fmt.Errorf("submitted %s: %w", a.Path, err)
	}
	if !found {
		return &AssertionError{Type: a.Type, Path: a.Path, Expected: "a stored submission", Actual: "none"}
	}
	view, ok := snap.Field(a.Path)
	if !ok {
		return &AssertionError{Type: a.Type, Path: a.Path, Expected: "field in submission", Actual: "no such field"}
	}
	if numeric.Equal(a.Expect, view.Value) {
		return nil
	}
	return &AssertionError{Type: a.Type, Path: a.Path, Expected: a.Expect, Actual: view.Value}
}
