package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCopiesTreeAndRespectsIgnoreFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".buildrunnerignore"), []byte("*.log\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "debug.log"), []byte("noisy"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "objects"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref: refs/heads/main"), 0o644))

	scratch := t.TempDir()
	snap, err := Build(root, scratch, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(snap.Path, "main.go"))
	assert.NoError(t, err)

	_, err = os.Stat(filepath.Join(snap.Path, "debug.log"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(snap.Path, ".git"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, snap.Close())
	_, err = os.Stat(snap.Path)
	assert.True(t, os.IsNotExist(err))
}
