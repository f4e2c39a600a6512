package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/engine"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/ir"
)

// marshalValues converts a multiselect value list to canonical JSON TEXT.
// An empty list is stored as "[]", never NULL.
func marshalValues(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := ir.MarshalCanonical(values)
	if err != nil {
		return "", fmt.Errorf("marshal values: %w", err)
	}
	return string(data), nil
}

// unmarshalValues parses a stored value list. "[]" yields nil so that
// round-tripped changes compare equal to emitted ones.
func unmarshalValues(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("unmarshal values: %w", err)
	}
	return values, nil
}

// compactBody validates a reference-data body and strips insignificant
// whitespace. Only JSON arrays and objects are accepted.
func compactBody(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || (trimmed[0] != '[' && trimmed[0] != '{') {
		return "", fmt.Errorf("reference body must be a JSON array or object")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "", fmt.Errorf("reference body: %w", err)
	}
	return buf.String(), nil
}

// marshalSnapshot converts a snapshot to JSON TEXT.
// Uses json.Encoder with HTML escaping disabled so labels are stored verbatim.
// Map keys are sorted by encoding/json, which keeps the output stable.
func marshalSnapshot(snap *engine.Snapshot) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snap); err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

func unmarshalSnapshot(data string) (*engine.Snapshot, error) {
	var snap engine.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
