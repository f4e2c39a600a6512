package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/store"
)

// execute runs cmd with args and returns what it wrote to stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func formPath(name string) string {
	return filepath.Join("testdata", "forms", name)
}

// seededDB creates a database holding testdata/fixtures.yaml.
func seededDB(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "formsync.db")
	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	fixtures, err := store.LoadFixtures(filepath.Join("testdata", "fixtures.yaml"))
	require.NoError(t, err)
	_, err = st.Seed(context.Background(), fixtures)
	require.NoError(t, err)
	return db
}
