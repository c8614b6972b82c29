package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirWorkspaces(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "app"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "file"), nil, 0o644))
	w := DirWorkspaces{Root: root}

	got, err := w.Resolve("app")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "app"), got)

	got, err = w.Resolve(root)
	require.NoError(t, err)
	assert.Equal(t, root, got)

	for _, id := range []string{"", "missing", "file"} {
		_, err := w.Resolve(id)
		assert.ErrorIs(t, err, ErrWorkspaceNotFound, id)
	}
}
