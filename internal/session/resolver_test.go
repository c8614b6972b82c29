package session

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/agent-pane/internal/tmux"
)

func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return p
}

func failingLookPath(calls *atomic.Int32) func(string) (string, error) {
	return func(string) (string, error) {
		if calls != nil {
			calls.Add(1)
		}
		return "", errors.New("not in PATH")
	}
}

func TestOverrideEnvVar(t *testing.T) {
	assert.Equal(t, "AGENTPANE_CLAUDE_PATH", OverrideEnvVar("claude"))
	assert.Equal(t, "AGENTPANE_MY_TOOL_PATH", OverrideEnvVar("my-tool"))
	assert.Equal(t, "AGENTPANE_GEMINI2_PATH", OverrideEnvVar("Gemini2"))
}

func TestResolveOverridePriority(t *testing.T) {
	dir := t.TempDir()
	envBin := writeExecutable(t, dir, "claude-env")
	cfgBin := writeExecutable(t, dir, "claude-cfg")
	notExec := filepath.Join(dir, "claude-plain")
	require.NoError(t, os.WriteFile(notExec, []byte("x"), 0o644))
	spaced := filepath.Join(dir, "my claude")
	require.NoError(t, os.WriteFile(spaced, []byte("#!/bin/sh\n"), 0o755))

	profile := tmux.DefaultProfile("claude")

	tests := []struct {
		name   string
		env    string
		config string
		cached string
		want   string
	}{
		{name: "env wins over config", env: envBin, config: cfgBin, want: envBin},
		{name: "config when env unset", config: cfgBin, want: cfgBin},
		{name: "metacharacters rejected", env: envBin + ";rm -rf /", config: cfgBin, want: cfgBin},
		{name: "command substitution rejected", env: "$(which claude)", want: "/from/path/claude"},
		{name: "relative rejected", env: "bin/claude", want: "/from/path/claude"},
		{name: "not executable rejected", env: notExec, want: "/from/path/claude"},
		{name: "whitespace rejected", env: spaced, want: "/from/path/claude"},
		{name: "missing file rejected", env: filepath.Join(dir, "ghost"), cached: "/cached/claude", want: "/cached/claude"},
		{name: "cache before discovery", cached: "/cached/claude", want: "/cached/claude"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := NewPathCache()
			if tt.cached != "" {
				cache.Set("claude", tt.cached)
			}
			r := &BinaryResolver{
				Cache:    cache,
				Getenv:   func(k string) string { return map[string]string{"AGENTPANE_CLAUDE_PATH": tt.env}[k] },
				LookPath: func(string) (string, error) { return "/from/path/claude", nil },
			}
			got, err := r.Resolve(profile, tt.config)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveOverrideIsNotCached(t *testing.T) {
	bin := writeExecutable(t, t.TempDir(), "claude")
	cache := NewPathCache()
	r := &BinaryResolver{Cache: cache, Getenv: func(string) string { return "" }, LookPath: failingLookPath(nil)}
	got, err := r.Resolve(tmux.DefaultProfile("claude"), bin)
	require.NoError(t, err)
	assert.Equal(t, bin, got)
	_, ok := cache.Get("claude")
	assert.False(t, ok)
}

func TestResolveSearchDirs(t *testing.T) {
	empty := t.TempDir()
	dir := t.TempDir()
	bin := writeExecutable(t, dir, "codex")

	var lookups atomic.Int32
	cache := NewPathCache()
	r := &BinaryResolver{
		Cache:      cache,
		Getenv:     func(string) string { return "" },
		LookPath:   failingLookPath(&lookups),
		SearchDirs: []string{empty, dir},
	}

	got, err := r.Resolve(tmux.DefaultProfile("codex"), "")
	require.NoError(t, err)
	assert.Equal(t, bin, got)

	cached, ok := cache.Get("codex")
	require.True(t, ok)
	assert.Equal(t, bin, cached)

	_, err = r.Resolve(tmux.DefaultProfile("codex"), "")
	require.NoError(t, err)
	assert.Equal(t, int32(1), lookups.Load(), "second resolve should hit the cache")
}

func TestResolveNotFound(t *testing.T) {
	dir := t.TempDir()
	r := &BinaryResolver{
		Cache:      NewPathCache(),
		Getenv:     func(string) string { return "" },
		LookPath:   failingLookPath(nil),
		SearchDirs: []string{dir},
	}
	_, err := r.Resolve(tmux.DefaultProfile("gemini"), "")

	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "gemini", re.Tool)
	assert.Equal(t, []string{"$PATH", dir}, re.Tried)
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestResolveDeduplicatesDiscovery(t *testing.T) {
	var lookups atomic.Int32
	release := make(chan struct{})
	r := &BinaryResolver{
		Cache:  NewPathCache(),
		Getenv: func(string) string { return "" },
		LookPath: func(cmd string) (string, error) {
			lookups.Add(1)
			<-release
			return "/usr/bin/" + cmd, nil
		},
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := r.Resolve(tmux.DefaultProfile("claude"), "")
			assert.NoError(t, err)
			results[i] = p
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), lookups.Load())
	for _, p := range results {
		assert.Equal(t, "/usr/bin/claude", p)
	}
}

func TestPathCacheClear(t *testing.T) {
	c := NewPathCache()
	c.Set("claude", "/a")
	c.Set("codex", "/b")
	c.Clear("claude")
	_, ok := c.Get("claude")
	assert.False(t, ok)
	_, ok = c.Get("codex")
	assert.True(t, ok)
	c.Clear("")
	_, ok = c.Get("codex")
	assert.False(t, ok)
}
