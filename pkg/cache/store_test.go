package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestSaveAndRestoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	src := t.TempDir()
	writeFile(t, src, "pom-cache.bin", "cached-bytes")

	require.NoError(t, store.Save("m2repo-abc", src))

	dest := t.TempDir()
	key, ok, err := store.Restore([]string{"m2repo-abc"}, dest)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m2repo-abc", key)

	data, err := os.ReadFile(filepath.Join(dest, "pom-cache.bin"))
	require.NoError(t, err)
	assert.Equal(t, "cached-bytes", string(data))
}

func TestRestorePrefixMatchPicksNewest(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	older := t.TempDir()
	writeFile(t, older, "f", "old")
	require.NoError(t, store.Save("m2repo-abc", older))
	require.NoError(t, os.Chtimes(filepath.Join(root, "m2repo-abc.tar"), time.Now().Add(-time.Hour), time.Now().Add(-time.Hour)))

	newer := t.TempDir()
	writeFile(t, newer, "f", "new")
	require.NoError(t, store.Save("m2repo-def", newer))

	dest := t.TempDir()
	key, ok, err := store.Restore([]string{"m2repo-zzz", "m2repo-"}, dest)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m2repo-", key)

	data, err := os.ReadFile(filepath.Join(dest, "f"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestRestoreNoMatchReturnsNotOK(t *testing.T) {
	store := NewStore(t.TempDir())
	_, ok, err := store.Restore([]string{"missing"}, t.TempDir())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWipeRemovesEverything(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	src := t.TempDir()
	writeFile(t, src, "f", "x")
	require.NoError(t, store.Save("k", src))

	require.NoError(t, store.Wipe(context.Background()))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
