package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/store"
)

// Scenario defines a conformance scenario: a form, the reference data it
// sees, the inputs a user makes and what the document must look like after.
type Scenario struct {
	// Name uniquely identifies this scenario. Also the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Form is the path to a CUE file or package directory.
	// Relative paths resolve against the scenario file location.
	Form string `yaml:"form"`

	// Document names the document inside Form. Optional when Form declares one.
	Document string `yaml:"document,omitempty"`

	// DocumentID is the fixed document scope ID. Defaults to "doc-<name>".
	DocumentID string `yaml:"document_id,omitempty"`

	// Debounce overrides the engine debounce. Timers are manual, so this only
	// matters to tick steps.
	Debounce time.Duration `yaml:"debounce,omitempty"`

	// Fixtures is the reference data served to the document.
	Fixtures []store.Fixture `yaml:"fixtures,omitempty"`

	// Steps are applied in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace, final state and stored change log.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one host input or one scheduling decision.
//
// Inputs (set, set_values, add_row, remove_row, toggle_deleted, load_row) are
// applied immediately; spawned fetches and armed debounce timers wait for a
// fetch, tick or settle step, so a scenario controls completion order.
type Step struct {
	Op string `yaml:"op"`

	// Path is a field path (set, set_values) or a group path (row ops).
	Path string `yaml:"path,omitempty"`

	Value     string            `yaml:"value,omitempty"`
	Values    []string          `yaml:"values,omitempty"`
	Index     int               `yaml:"index,omitempty"`
	Deleted   bool              `yaml:"deleted,omitempty"`
	Row       map[string]string `yaml:"row,omitempty"`
	Persisted bool              `yaml:"persisted,omitempty"`

	// Order selects which pending fetch a fetch step completes:
	// "all" (default, oldest first), "first" or "last".
	Order string `yaml:"order,omitempty"`

	// Advance moves manual time for a tick step. Zero fires every armed timer.
	Advance time.Duration `yaml:"advance,omitempty"`

	// Reject, when set, is a substring the step's rejection must contain.
	// A step without it must not be rejected.
	Reject string `yaml:"reject,omitempty"`
}

// Step operations.
const (
	OpSet           = "set"
	OpSetValues     = "set_values"
	OpAddRow        = "add_row"
	OpRemoveRow     = "remove_row"
	OpToggleDeleted = "toggle_deleted"
	OpLoadRow       = "load_row"
	OpFetch         = "fetch"
	OpTick          = "tick"
	OpSettle        = "settle"
	OpSubmit        = "submit"
)

// Fetch orders.
const (
	OrderAll   = "all"
	OrderFirst = "first"
	OrderLast  = "last"
)

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type specifies the assertion type:
	// - "value": field value equals Expect
	// - "values": multiselect values equal Values
	// - "options": enabled option ids equal Values
	// - "disabled_options": disabled option ids equal Values
	// - "state": field state equals Expect
	// - "hidden": field visibility; Expect is "true" or "false"
	// - "rows": number of rows of group Path (in state Expect, if set) equals Count
	// - "change_count": changes of Path (with cause Expect, if set) equal Count
	// - "rejected_count": rejected inputs equal Count
	// - "stored_changes": change log rows persisted for Path equal Count
	// - "submitted": submitted snapshot value of Path equals Expect
	Type string `yaml:"type"`

	Path   string   `yaml:"path,omitempty"`
	Expect string   `yaml:"expect,omitempty"`
	Values []string `yaml:"values,omitempty"`
	Count  int      `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertValue           = "value"
	AssertValues          = "values"
	AssertOptions         = "options"
	AssertDisabledOptions = "disabled_options"
	AssertState           = "state"
	AssertHidden          = "hidden"
	AssertRows            = "rows"
	AssertChangeCount     = "change_count"
	AssertRejectedCount   = "rejected_count"
	AssertStoredChanges   = "stored_changes"
	AssertSubmitted       = "submitted"
)

// LoadScenario reads and parses a scenario YAML file.
// The form path is resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the form path relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, basePath)
}

// ParseScenario parses scenario YAML. A relative form path is joined to basePath.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Form != "" && !filepath.IsAbs(scenario.Form) && basePath != "" {
		scenario.Form = filepath.Join(basePath, scenario.Form)
	}
	if scenario.DocumentID == "" {
		scenario.DocumentID = "doc-" + scenario.Name
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Form == "" {
		return fmt.Errorf("form is required")
	}
	if _, err := os.Stat(s.Form); os.IsNotExist(err) {
		return fmt.Errorf("form not found: %s", s.Form)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, f := range s.Fixtures {
		if f.Endpoint == "" {
			return fmt.Errorf("fixtures[%d]: endpoint is required", i)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateStep validates a single step based on its operation.
func validateStep(index int, s *Step) error {
	switch s.Op {
	case OpSet, OpSetValues, OpAddRow, OpRemoveRow, OpToggleDeleted:
		if s.Path == "" {
			return fmt.Errorf("steps[%d]: path is required for %s", index, s.Op)
		}
	case OpLoadRow:
		if s.Path == "" {
			return fmt.Errorf("steps[%d]: path is required for load_row", index)
		}
		if s.Row == nil {
			return fmt.Errorf("steps[%d]: row is required for load_row (use empty map for no values)", index)
		}
	case OpFetch:
		switch s.Order {
		case "", OrderAll, OrderFirst, OrderLast:
		default:
			return fmt.Errorf("steps[%d]: unknown fetch order %q", index, s.Order)
		}
	case OpTick:
		if s.Advance < 0 {
			return fmt.Errorf("steps[%d]: advance must be non-negative", index)
		}
	case OpSettle, OpSubmit:
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertValue, AssertState, AssertSubmitted, AssertHidden:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for %s", index, a.Type)
		}
		if a.Type == AssertHidden && a.Expect != "true" && a.Expect != "false" {
			return fmt.Errorf("assertions[%d]: expect must be true or false for hidden", index)
		}
	case AssertValues, AssertOptions, AssertDisabledOptions:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for %s", index, a.Type)
		}
	case AssertRows, AssertChangeCount, AssertStoredChanges:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for %s", index, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertRejectedCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for rejected_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
