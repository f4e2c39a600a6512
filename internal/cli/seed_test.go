package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ref.db")
	fixtures := filepath.Join("testdata", "fixtures.yaml")

	out, err := execute(t, NewSeedCommand(&RootOptions{Format: "text"}), fixtures, "--db", db, "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Seeded 2 fixture(s) into "+db)
	assert.Contains(t, out, "/api/products (")
	assert.Contains(t, out, "/api/varieties?product=1 (")

	// Seeding again replaces rather than duplicates.
	out, err = execute(t, NewSeedCommand(&RootOptions{Format: "json"}), fixtures, "--db", db, "--list")
	require.NoError(t, err)
	var resp struct {
		Status string     `json:"status"`
		Data   SeedResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 2, resp.Data.Written)
	assert.Len(t, resp.Data.References, 2)
}

func TestSeedCommandErrors(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "ref.db")

	_, err := execute(t, NewSeedCommand(&RootOptions{Format: "text"}), "--db", db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to do")

	_, err = execute(t, NewSeedCommand(&RootOptions{Format: "text"}), filepath.Join(dir, "missing.yaml"), "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("fixtures:\n  - endpoint: /api/x\n"), 0o644))
	_, err = execute(t, NewSeedCommand(&RootOptions{Format: "text"}), bad, "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "body is required")
}
