package configstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	require.NoError(t, err)

	ctx := context.Background()
	var saveErr error
	store.SaveSettings(ctx, "black_list", `[{"id":"1"}]`, func(err error) {
		saveErr = err
	})
	require.NoError(t, saveErr)

	got, err := store.LoadSettings(ctx, "black_list")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"1"}]`, got)
}

func TestStore_LoadMissingKeyReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	require.NoError(t, err)

	got, err := store.LoadSettings(context.Background(), "does_not_exist")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestStore_SaveOverwritesPreviousValue(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	require.NoError(t, err)

	ctx := context.Background()
	store.SaveSettings(ctx, "k", "first", func(error) {})
	store.SaveSettings(ctx, "k", "second", func(error) {})

	got, err := store.LoadSettings(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestStore_NoLeftoverTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	require.NoError(t, err)

	store.SaveSettings(context.Background(), "k", "v", func(error) {})

	matches, err := filepath.Glob(filepath.Join(dir, ".*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
