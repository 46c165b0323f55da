package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	_, _, err := s.LoadCheckpoint(ctx, "tbl-a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveCheckpoint(ctx, "tbl-a", 5, []byte(`{"v":5}`)))
	version, state, err := s.LoadCheckpoint(ctx, "tbl-a")
	require.NoError(t, err)
	assert.EqualValues(t, 5, version)
	assert.JSONEq(t, `{"v":5}`, string(state))

	// Newer checkpoints overwrite in place.
	require.NoError(t, s.SaveCheckpoint(ctx, "tbl-a", 9, []byte(`{"v":9}`)))
	version, state, err = s.LoadCheckpoint(ctx, "tbl-a")
	require.NoError(t, err)
	assert.EqualValues(t, 9, version)
	assert.JSONEq(t, `{"v":9}`, string(state))
}

func TestMetaRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	_, err := s.LoadMeta(ctx, "tbl-a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveMeta(ctx, "tbl-a", []byte(`{"name":"main"}`)))
	// Table config is immutable; re-saving does not clobber it.
	require.NoError(t, s.SaveMeta(ctx, "tbl-a", []byte(`{"name":"other"}`)))

	config, err := s.LoadMeta(ctx, "tbl-a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"main"}`, string(config))
}

func TestListAndDelete(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMeta(ctx, "tbl-a", []byte(`{}`)))
	require.NoError(t, s.SaveMeta(ctx, "tbl-b", []byte(`{}`)))
	require.NoError(t, s.SaveCheckpoint(ctx, "tbl-a", 1, []byte(`{}`)))

	ids, err := s.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tbl-a", "tbl-b"}, ids)

	require.NoError(t, s.DeleteTable(ctx, "tbl-a"))
	ids, err = s.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tbl-b"}, ids)
	_, _, err = s.LoadCheckpoint(ctx, "tbl-a")
	assert.ErrorIs(t, err, ErrNotFound)
}
