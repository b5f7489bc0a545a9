package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureStaging(t *testing.T) {
	base := t.TempDir()

	dirs, err := EnsureStaging(base, "task_abc123def456")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, "task_abc123def456"), dirs.Root)
	assert.DirExists(t, dirs.Staging)
	assert.Equal(t, filepath.Join(dirs.Root, "logs.jsonl"), dirs.LogFile)
}

func TestListTaskDirs(t *testing.T) {
	base := t.TempDir()

	_, err := EnsureStaging(base, "task_aaaaaaaaaaaa")
	require.NoError(t, err)
	_, err = EnsureStaging(base, "task_bbbbbbbbbbbb")
	require.NoError(t, err)

	// Non-task entries are ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(base, "scratch"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "notes.txt"), []byte("x"), 0644))

	ids, err := ListTaskDirs(base)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"task_aaaaaaaaaaaa", "task_bbbbbbbbbbbb"}, ids)
}

func TestListTaskDirsMissingBase(t *testing.T) {
	ids, err := ListTaskDirs(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRemove(t *testing.T) {
	base := t.TempDir()
	dirs, err := EnsureStaging(base, "task_cccccccccccc")
	require.NoError(t, err)

	require.NoError(t, Remove(base, "task_cccccccccccc"))
	_, statErr := os.Stat(dirs.Root)
	assert.True(t, os.IsNotExist(statErr))
}
