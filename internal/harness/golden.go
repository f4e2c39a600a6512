package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	DocumentID   string       `json:"document_id,omitempty"`
	Trace        []TraceEvent `json:"trace"`
}

// eventMap converts a trace event to a map for canonical JSON serialization.
// Empty fields are left out, since canonical JSON has no null.
func eventMap(ev TraceEvent) map[string]any {
	m := map[string]any{
		"type": ev.Type,
		"step": ev.Step,
	}
	if ev.Op != "" {
		m["op"] = ev.Op
	}
	if ev.Path != "" {
		m["path"] = ev.Path
	}
	if ev.Type == EventChange {
		m["value"] = ev.Value
		m["cause"] = ev.Cause
		m["seq"] = ev.Seq
		if len(ev.Values) > 0 {
			m["values"] = ev.Values
		}
	}
	if ev.Error != "" {
		m["error"] = ev.Error
	}
	return m
}

// Marshal renders the snapshot as canonical JSON lines: a header object,
// then one object per event. One event per line keeps golden diffs readable.
func (s *TraceSnapshot) Marshal() ([]byte, error) {
	var buf bytes.Buffer

	header := map[string]any{"scenario_name": s.ScenarioName}
	if s.DocumentID != "" {
		header["document_id"] = s.DocumentID
	}
	line, err := ir.MarshalCanonical(header)
	if err != nil {
		return nil, err
	}
	buf.Write(line)
	buf.WriteByte('\n')

	for _, ev := range s.Trace {
		line, err := ir.MarshalCanonical(eventMap(ev))
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	snapshot := TraceSnapshot{
		ScenarioName: scenario.Name,
		DocumentID:   scenario.DocumentID,
		Trace:        result.Trace,
	}
	if err := assertSnapshot(t, scenario.Name, &snapshot); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()
	return assertSnapshot(t, scenarioName, &TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace})
}

func assertSnapshot(t *testing.T, name string, snapshot *TraceSnapshot) error {
	t.Helper()
	traceJSON, err := snapshot.Marshal()
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, traceJSON)
	return nil
}

// Golden comparison outcomes reported by RunSuite.
const (
	GoldenNone    = ""        // no golden file next to the scenario
	GoldenMatched = "matched" // trace equals the golden file
	GoldenUpdated = "updated" // golden file rewritten from the trace
)

// GoldenPath returns the golden trace for a scenario file:
// golden/<base name>.golden in the scenario's directory.
func GoldenPath(scenarioPath string) string {
	base := filepath.Base(scenarioPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioPath), "golden", name+".golden")
}

// checkGolden compares snapshot with the file at path, or rewrites the file
// when update is set. A missing file is not an error.
func checkGolden(path string, snapshot *TraceSnapshot, update bool) (string, error) {
	data, err := snapshot.Marshal()
	if err != nil {
		return GoldenNone, fmt.Errorf("marshal trace: %w", err)
	}

	if update {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return GoldenNone, fmt.Errorf("create golden directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return GoldenNone, fmt.Errorf("write golden file: %w", err)
		}
		return GoldenUpdated, nil
	}

	want, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return GoldenNone, nil
	}
	if err != nil {
		return GoldenNone, fmt.Errorf("read golden file: %w", err)
	}
	if !bytes.Equal(want, data) {
		return GoldenNone, fmt.Errorf("trace differs from golden file %s", path)
	}
	return GoldenMatched, nil
}
