package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/compiler"
)

func TestValidateValidForms(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), filepath.Join("testdata", "forms"))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 2 document(s) valid")
}

func TestValidateValidFormsJSON(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "json"}), formPath("produce.cue"))
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, []string{"produce"}, resp.Data.Documents)
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name string
		path string
		code string
	}{
		{"unknown reference", filepath.Join("testdata", "invalid", "unknown.cue"), compiler.ErrUnknownReference},
		{"cycle", filepath.Join("testdata", "cycle", "loop.cue"), compiler.ErrDependencyCycle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), tt.path)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, out, "✗ Validation failed")
			assert.Contains(t, out, "["+tt.code+"]")
		})
	}
}

func TestValidateFailureJSON(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "json"}), filepath.Join("testdata", "invalid", "unknown.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.NotEmpty(t, resp.Data.Errors)
	assert.Equal(t, compiler.ErrUnknownReference, resp.Error.Code)
}

func TestValidateCommandErrors(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), filepath.Join("testdata", "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")

	_, err = execute(t, NewValidateCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
}

func TestValidateForms(t *testing.T) {
	docs, errs, err := ValidateForms(filepath.Join("testdata", "forms"))
	require.NoError(t, err)
	assert.Equal(t, []string{"produce", "weights"}, docs)
	assert.Empty(t, errs)

	_, _, err = ValidateForms(filepath.Join("testdata", "broken", "syntax.cue"))
	require.Error(t, err)
}
