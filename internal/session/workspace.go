package session

import (
	"fmt"
	"os"
	"path/filepath"
)

// WorkspaceResolver maps a workspace id to the directory the session runs in.
type WorkspaceResolver interface {
	Resolve(workspaceID string) (string, error)
}

// DirWorkspaces treats absolute ids as directories and joins relative ids
// onto Root.
type DirWorkspaces struct {
	Root string
}

func (w DirWorkspaces) Resolve(workspaceID string) (string, error) {
	if workspaceID == "" {
		return "", fmt.Errorf("%w: empty id", ErrWorkspaceNotFound)
	}
	dir := workspaceID
	if !filepath.IsAbs(dir) {
		root := w.Root
		if root == "" {
			root = "."
		}
		dir = filepath.Join(root, workspaceID)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrWorkspaceNotFound, abs)
	}
	return abs, nil
}
