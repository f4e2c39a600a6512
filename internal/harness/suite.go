package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScenarioNotFoundError is returned when a scenario path doesn't exist.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario path %q does not exist", e.Path)
}

// DiscoverScenarios returns the scenario files under path: the file itself,
// or every .yaml/.yml file below a directory, sorted.
func DiscoverScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &ScenarioNotFoundError{Path: path}
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		// Golden files and fixtures live next to scenarios.
		if d.IsDir() && d.Name() == "golden" {
			return filepath.SkipDir
		}
		ext := strings.ToLower(filepath.Ext(p))
		if !d.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	sort.Strings(files)
	return files, nil
}

// SuiteResult summarizes a run over many scenarios.
type SuiteResult struct {
	Total     int               `json:"total"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
	Scenarios []ScenarioSummary `json:"scenarios"`
	Failures  []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioSummary is the outcome of one scenario file.
type ScenarioSummary struct {
	Name   string `json:"name,omitempty"`
	Path   string `json:"path"`
	Pass   bool   `json:"pass"`
	Golden string `json:"golden,omitempty"` // GoldenMatched or GoldenUpdated
}

// ScenarioFailure represents a failed scenario.
type ScenarioFailure struct {
	Scenario string   `json:"scenario,omitempty"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// SuiteOption configures RunSuite.
type SuiteOption func(*suiteConfig)

type suiteConfig struct {
	update bool
}

// WithGoldenUpdate makes RunSuite rewrite golden traces instead of comparing them.
func WithGoldenUpdate(update bool) SuiteOption {
	return func(c *suiteConfig) {
		c.update = update
	}
}

// RunSuite loads and runs every scenario path. A scenario that cannot be
// loaded or run counts as failed; the suite itself never stops early.
//
// Scenarios with a golden file (see GoldenPath) must also reproduce its trace.
func RunSuite(ctx context.Context, paths []string, opts ...SuiteOption) *SuiteResult {
	cfg := &suiteConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	result := &SuiteResult{Scenarios: make([]ScenarioSummary, 0, len(paths))}

	for _, path := range paths {
		result.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			result.fail("", path, fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}

		runResult, err := RunContext(ctx, scenario)
		if err != nil {
			result.fail(scenario.Name, path, fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}

		golden, err := checkGolden(GoldenPath(path), &TraceSnapshot{
			ScenarioName: scenario.Name,
			DocumentID:   scenario.DocumentID,
			Trace:        runResult.Trace,
		}, cfg.update)
		if err != nil {
			runResult.AddError(err.Error())
		}
		if !runResult.Pass {
			result.fail(scenario.Name, path, runResult.Errors...)
			continue
		}
		result.Passed++
		result.Scenarios = append(result.Scenarios, ScenarioSummary{Name: scenario.Name, Path: path, Pass: true, Golden: golden})
	}

	return result
}

func (r *SuiteResult) fail(name, path string, errs ...string) {
	r.Failed++
	r.Scenarios = append(r.Scenarios, ScenarioSummary{Name: name, Path: path})
	r.Failures = append(r.Failures, ScenarioFailure{Scenario: name, Path: path, Errors: errs})
}
