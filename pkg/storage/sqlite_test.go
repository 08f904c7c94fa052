package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteProvider(t *testing.T) {
	s := &SQLiteProvider{
		path: filepath.Join(t.TempDir(), "loadcurve-test.db"),
	}

	ctx := context.Background()
	require.NoError(t, s.Validate())
	require.NoError(t, s.Init(ctx))
	defer s.Close()

	runDatabaseTests(ctx, t, s)
}

func TestSQLiteValidate(t *testing.T) {
	s := &SQLiteProvider{}
	require.ErrorContains(t, s.Validate(), "sqlite-path is required")
}
