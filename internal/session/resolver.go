package session

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/asheshgoplani/agent-pane/internal/platform"
	"github.com/asheshgoplani/agent-pane/internal/tmux"
)

// PathCache remembers resolved executable paths per tool.
type PathCache struct {
	mu    sync.Mutex
	paths map[string]string
}

// NewPathCache returns an empty cache.
func NewPathCache() *PathCache {
	return &PathCache{paths: make(map[string]string)}
}

func (c *PathCache) Get(tool string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.paths[tool]
	return p, ok
}

func (c *PathCache) Set(tool, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths[tool] = path
}

// Clear forgets tool's path, or every path when tool is empty.
func (c *PathCache) Clear(tool string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tool == "" {
		clear(c.paths)
		return
	}
	delete(c.paths, tool)
}

// BinaryResolver finds the executable for a tool profile.
type BinaryResolver struct {
	Cache      *PathCache
	Getenv     func(string) string
	LookPath   func(string) (string, error)
	SearchDirs []string

	group singleflight.Group
}

// DefaultBinaryResolver searches PATH and the platform's usual install dirs.
func DefaultBinaryResolver(cache *PathCache) *BinaryResolver {
	if cache == nil {
		cache = NewPathCache()
	}
	home, _ := os.UserHomeDir()
	return &BinaryResolver{
		Cache:      cache,
		Getenv:     os.Getenv,
		LookPath:   exec.LookPath,
		SearchDirs: platform.InstallDirs(platform.Detect(), home),
	}
}

// OverrideEnvVar is the environment variable that pins a tool's executable,
// e.g. AGENTPANE_CLAUDE_PATH.
func OverrideEnvVar(tool string) string {
	var b strings.Builder
	b.WriteString("AGENTPANE_")
	for _, r := range strings.ToUpper(tool) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	b.WriteString("_PATH")
	return b.String()
}

// Resolve returns the executable path for profile. A valid override wins,
// then the cache, then PATH and the search dirs. Discoveries for one tool
// run once even when callers race.
func (r *BinaryResolver) Resolve(profile tmux.ToolProfile, configPath string) (string, error) {
	tool := profile.Name

	getenv := r.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	for _, candidate := range []struct{ source, path string }{
		{"env", getenv(OverrideEnvVar(tool))},
		{"config", configPath},
	} {
		if candidate.path == "" {
			continue
		}
		if err := validateOverride(candidate.path); err != nil {
			sessionLog.Debug("override_rejected",
				slog.String("tool", tool),
				slog.String("source", candidate.source),
				slog.String("reason", err.Error()))
			continue
		}
		return candidate.path, nil
	}

	if p, ok := r.Cache.Get(tool); ok {
		return p, nil
	}

	v, err, _ := r.group.Do(tool, func() (any, error) {
		if p, ok := r.Cache.Get(tool); ok {
			return p, nil
		}
		p, tried, err := r.discover(profile.Command)
		if err != nil {
			return "", &ResolutionError{Tool: tool, Tried: tried, Err: err}
		}
		r.Cache.Set(tool, p)
		sessionLog.Info("binary_resolved", slog.String("tool", tool), slog.String("path", p))
		return p, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *BinaryResolver) discover(command string) (string, []string, error) {
	if command == "" {
		return "", nil, errors.New("no command configured")
	}
	var tried []string
	lookPath := r.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	tried = append(tried, "$PATH")
	if p, err := lookPath(command); err == nil {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		return p, tried, nil
	}
	if strings.ContainsRune(command, filepath.Separator) {
		return "", tried, ErrBinaryNotFound
	}
	for _, dir := range r.SearchDirs {
		p := filepath.Join(dir, command)
		tried = append(tried, dir)
		if isExecutable(p) {
			return p, tried, nil
		}
	}
	return "", tried, ErrBinaryNotFound
}

const shellMeta = "`$&|;<>(){}[]*?!~'\"\\#"

// validateOverride accepts a single absolute path to an executable file.
func validateOverride(p string) error {
	if strings.ContainsAny(p, shellMeta) || strings.IndexFunc(p, isSpaceRune) >= 0 {
		return errors.New("contains shell metacharacters or whitespace")
	}
	if !filepath.IsAbs(p) {
		return errors.New("not an absolute path")
	}
	if !isExecutable(p) {
		return errors.New("not an executable file")
	}
	return nil
}

func isSpaceRune(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func isExecutable(p string) bool {
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
