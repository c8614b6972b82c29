package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/asheshgoplani/agent-pane/internal/logging"
	"github.com/asheshgoplani/agent-pane/internal/tmux"
)

// UserConfigFileName is the TOML config file inside the agent-pane dir.
const UserConfigFileName = "config.toml"

// HomeEnvVar relocates the agent-pane dir (config, logs, state).
const HomeEnvVar = "AGENTPANE_HOME"

// UserConfig represents user-facing configuration in TOML format
type UserConfig struct {
	// Tools customizes built-in tools or defines new ones
	Tools map[string]ToolDef `toml:"tools"`

	Timeouts   TimeoutSettings   `toml:"timeouts"`
	Tmux       TmuxSettings      `toml:"tmux"`
	Status     StatusSettings    `toml:"status"`
	Workspaces WorkspaceSettings `toml:"workspaces"`
	Logs       LogSettings       `toml:"logs"`
	Storage    StorageSettings   `toml:"storage"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ToolDef configures one tool. A [tools.X] table with a command for an
// unknown X defines a new tool built on the generic patterns.
type ToolDef struct {
	// Command is the executable name, optionally followed by arguments
	Command string `toml:"command"`

	// Path pins the executable. Must be an absolute path to an executable
	// file; anything else is ignored.
	Path string `toml:"path"`

	// Args are appended to the command line
	Args []string `toml:"args"`

	// NestedEnv is the variable the CLI uses to detect it runs inside itself
	NestedEnv string `toml:"nested_env"`

	// BusyPatterns, PromptPatterns and BrokenPatterns replace the built-in
	// lists when set. Prefix an entry with "re:" to make it a regex.
	BusyPatterns   []string `toml:"busy_patterns"`
	PromptPatterns []string `toml:"prompt_patterns"`
	BrokenPatterns []string `toml:"broken_patterns"`
	SpinnerChars   []string `toml:"spinner_chars"`

	// The *Extra lists are appended to the built-in (or replaced) lists
	BusyPatternsExtra   []string `toml:"busy_patterns_extra"`
	PromptPatternsExtra []string `toml:"prompt_patterns_extra"`
	BrokenPatternsExtra []string `toml:"broken_patterns_extra"`
	SpinnerCharsExtra   []string `toml:"spinner_chars_extra"`
}

// TimeoutSettings overrides the lifecycle timings.
type TimeoutSettings struct {
	InitTimeout        Duration `toml:"init_timeout"`
	InitPollInterval   Duration `toml:"init_poll_interval"`
	StabilizeDelay     Duration `toml:"stabilize_delay"`
	SettleDelay        Duration `toml:"settle_delay"`
	PromptTimeout      Duration `toml:"prompt_timeout"`
	PromptPollInterval Duration `toml:"prompt_poll_interval"`

	// CommandTimeout bounds every tmux subprocess (default: 5s)
	CommandTimeout Duration `toml:"command_timeout"`
}

// TmuxSettings configures the tmux adapter.
type TmuxSettings struct {
	// Binary is the tmux executable (default: "tmux" on PATH)
	Binary string `toml:"binary"`

	// HistoryLimit is the scrollback of created sessions (default: 50000)
	HistoryLimit int `toml:"history_limit"`

	// CaptureLines is how many trailing lines status checks look at (default: 50)
	CaptureLines int `toml:"capture_lines"`

	// MaxOutputMB caps captured subprocess output (default: 10)
	MaxOutputMB int `toml:"max_output_mb"`

	// EnterDelay separates pasted text from the Enter key (default: 100ms)
	EnterDelay Duration `toml:"enter_delay"`
}

// StatusSettings tunes status classification.
type StatusSettings struct {
	// StaleAfter is the silence after which an unrecognised screen counts as idle
	StaleAfter Duration `toml:"stale_after"`

	// MaxCapturesPerSec limits status captures (default: 10, negative disables)
	MaxCapturesPerSec float64 `toml:"max_captures_per_sec"`

	// Burst is the number of captures allowed back to back (default: 5)
	Burst int `toml:"burst"`
}

// WorkspaceSettings maps workspace ids to directories.
type WorkspaceSettings struct {
	// Root is joined with relative workspace ids (default: current directory)
	Root string `toml:"root"`
}

// LogSettings configures the debug log.
type LogSettings struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	Level string `toml:"level"`

	// Format sets the log format: "json" (default) or "text"
	Format string `toml:"format"`

	MaxSizeMB  int  `toml:"max_size_mb"`
	MaxBackups int  `toml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days"`
	Compress   bool `toml:"compress"`

	// RingBufferKB is the in-memory tail kept for crash dumps (default: 1024)
	RingBufferKB int `toml:"ring_buffer_kb"`

	// AggregateIntervalSecs is how often poll-event counts are flushed (default: 30)
	AggregateIntervalSecs int `toml:"aggregate_interval_secs"`
}

// StorageSettings configures the session registry.
type StorageSettings struct {
	// Enabled turns the SQLite registry on (default: true)
	Enabled *bool `toml:"enabled"`

	// Path of the database (default: <agent-pane dir>/state.db)
	Path string `toml:"path"`
}

// GetEnabled returns whether the registry is on, defaulting to true.
func (s StorageSettings) GetEnabled() bool {
	if s.Enabled == nil {
		return true
	}
	return *s.Enabled
}

// Cache for user config (loaded once per process)
var (
	userConfigCache   *UserConfig
	userConfigCacheMu sync.RWMutex

	configPathOverride   string
	configPathOverrideMu sync.RWMutex
)

func defaultUserConfig() *UserConfig {
	return &UserConfig{Tools: make(map[string]ToolDef)}
}

// AgentPaneDir returns $AGENTPANE_HOME, or ~/.agent-pane.
func AgentPaneDir() (string, error) {
	if dir := os.Getenv(HomeEnvVar); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".agent-pane"), nil
}

// SetUserConfigPath makes LoadUserConfig read path instead of the default
// location. An empty path restores the default. The cache is cleared.
func SetUserConfigPath(path string) {
	configPathOverrideMu.Lock()
	configPathOverride = path
	configPathOverrideMu.Unlock()
	ClearUserConfigCache()
}

// GetUserConfigPath returns the path to the user config file
func GetUserConfigPath() (string, error) {
	configPathOverrideMu.RLock()
	override := configPathOverride
	configPathOverrideMu.RUnlock()
	if override != "" {
		return override, nil
	}
	dir, err := AgentPaneDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, UserConfigFileName), nil
}

// LoadUserConfig loads the user configuration from TOML file
// Returns cached config after first load
func LoadUserConfig() (*UserConfig, error) {
	userConfigCacheMu.RLock()
	if userConfigCache != nil {
		defer userConfigCacheMu.RUnlock()
		return userConfigCache, nil
	}
	userConfigCacheMu.RUnlock()

	userConfigCacheMu.Lock()
	defer userConfigCacheMu.Unlock()

	// Double-check after acquiring write lock
	if userConfigCache != nil {
		return userConfigCache, nil
	}

	configPath, err := GetUserConfigPath()
	if err != nil {
		userConfigCache = defaultUserConfig()
		return userConfigCache, nil
	}

	config, err := readUserConfig(configPath)
	if err != nil {
		// Still cache defaults to prevent repeated parse attempts
		userConfigCache = defaultUserConfig()
		return userConfigCache, err
	}
	userConfigCache = config
	return userConfigCache, nil
}

func readUserConfig(path string) (*UserConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return defaultUserConfig(), nil
	}
	var config UserConfig
	md, err := toml.DecodeFile(path, &config)
	if err != nil {
		return nil, fmt.Errorf("config.toml parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		configLog.Warn("config_unknown_keys", slog.String("path", path), slog.String("keys", strings.Join(keys, ",")))
	}
	if config.Tools == nil {
		config.Tools = make(map[string]ToolDef)
	}
	return &config, nil
}

// ReloadUserConfig forces a reload of the user config
func ReloadUserConfig() (*UserConfig, error) {
	ClearUserConfigCache()
	return LoadUserConfig()
}

// ClearUserConfigCache drops the cached config; the next LoadUserConfig reads the file.
func ClearUserConfigCache() {
	userConfigCacheMu.Lock()
	userConfigCache = nil
	userConfigCacheMu.Unlock()
}

// ToolNames returns the built-in tool ids plus every configured one, sorted.
func (c *UserConfig) ToolNames() []string {
	seen := map[string]bool{"claude": true, "codex": true, "gemini": true}
	if c != nil {
		for name := range c.Tools {
			seen[strings.ToLower(name)] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *UserConfig) toolDef(name string) (ToolDef, bool) {
	if c == nil {
		return ToolDef{}, false
	}
	if def, ok := c.Tools[name]; ok {
		return def, true
	}
	for k, def := range c.Tools {
		if strings.EqualFold(k, name) {
			return def, true
		}
	}
	return ToolDef{}, false
}

// Tool implements ToolCatalog: the built-in profile for name with the
// [tools.name] table applied on top.
func (c *UserConfig) Tool(name string) ToolSpec {
	profile := tmux.DefaultProfile(name)
	def, ok := c.toolDef(profile.Name)
	if !ok {
		return ToolSpec{Profile: profile}
	}

	if fields := strings.Fields(def.Command); len(fields) > 0 {
		profile.Command = fields[0]
		profile.Args = append(fields[1:len(fields):len(fields)], profile.Args...)
	}
	if len(def.Args) > 0 {
		profile.Args = append(profile.Args, def.Args...)
	}
	if def.NestedEnv != "" {
		profile.NestedEnv = def.NestedEnv
	}
	profile = profile.WithPatterns(MergeToolPatterns(def))
	return ToolSpec{Profile: profile, PathOverride: def.Path}
}

// MergeToolPatterns splits def's pattern fields into replacements and
// extras for tmux.MergeRawPatterns. Nil means "not configured".
func MergeToolPatterns(def ToolDef) (overrides, extras *tmux.RawPatterns) {
	if def.BusyPatterns != nil || def.PromptPatterns != nil || def.BrokenPatterns != nil || def.SpinnerChars != nil {
		overrides = &tmux.RawPatterns{
			BusyPatterns:   def.BusyPatterns,
			PromptPatterns: def.PromptPatterns,
			BrokenPatterns: def.BrokenPatterns,
			SpinnerChars:   def.SpinnerChars,
		}
	}
	if len(def.BusyPatternsExtra) > 0 || len(def.PromptPatternsExtra) > 0 ||
		len(def.BrokenPatternsExtra) > 0 || len(def.SpinnerCharsExtra) > 0 {
		extras = &tmux.RawPatterns{
			BusyPatterns:   def.BusyPatternsExtra,
			PromptPatterns: def.PromptPatternsExtra,
			BrokenPatterns: def.BrokenPatternsExtra,
			SpinnerChars:   def.SpinnerCharsExtra,
		}
	}
	return overrides, extras
}

// ManagerOptions returns the manager timings with config overrides applied.
func (c *UserConfig) ManagerOptions() Options {
	o := DefaultOptions()
	if c == nil {
		return o
	}
	setDur := func(dst *time.Duration, v Duration) {
		if v.Duration > 0 {
			*dst = v.Duration
		}
	}
	t := c.Timeouts
	setDur(&o.InitTimeout, t.InitTimeout)
	setDur(&o.InitPollInterval, t.InitPollInterval)
	setDur(&o.StabilizeDelay, t.StabilizeDelay)
	setDur(&o.SettleDelay, t.SettleDelay)
	setDur(&o.PromptTimeout, t.PromptTimeout)
	setDur(&o.PromptPollInterval, t.PromptPollInterval)
	setDur(&o.StaleAfter, c.Status.StaleAfter)

	if c.Tmux.HistoryLimit > 0 {
		o.HistoryLimit = c.Tmux.HistoryLimit
	}
	if c.Tmux.CaptureLines > 0 {
		o.CaptureLines = c.Tmux.CaptureLines
	}
	switch {
	case c.Status.MaxCapturesPerSec < 0:
		o.CapturesPerSecond = 0
	case c.Status.MaxCapturesPerSec > 0:
		o.CapturesPerSecond = c.Status.MaxCapturesPerSec
	}
	if c.Status.Burst > 0 {
		o.CaptureBurst = c.Status.Burst
	}
	return o
}

// TmuxClient builds the tmux adapter described by the [tmux] and
// [timeouts] sections.
func (c *UserConfig) TmuxClient() *tmux.Client {
	binary := "tmux"
	runner := tmux.NewExecRunner(binary)
	var opts []tmux.ClientOption
	if c != nil {
		if c.Tmux.Binary != "" {
			binary = c.Tmux.Binary
			runner.Binary = binary
		}
		if c.Timeouts.CommandTimeout.Duration > 0 {
			runner.Timeout = c.Timeouts.CommandTimeout.Duration
		}
		if c.Tmux.MaxOutputMB > 0 {
			runner.MaxOutput = c.Tmux.MaxOutputMB << 20
		}
		if c.Tmux.EnterDelay.Duration > 0 {
			opts = append(opts, tmux.WithEnterDelay(c.Tmux.EnterDelay.Duration))
		}
	}
	opts = append(opts, tmux.WithBinary(binary), tmux.WithRunner(runner))
	return tmux.NewClient(opts...)
}

// WorkspaceDirs returns the workspace resolver for [workspaces].
func (c *UserConfig) WorkspaceDirs() DirWorkspaces {
	if c == nil {
		return DirWorkspaces{}
	}
	return DirWorkspaces{Root: expandHome(c.Workspaces.Root)}
}

// StoragePath returns the registry database path, or "" when disabled.
func (c *UserConfig) StoragePath() (string, error) {
	if c != nil && !c.Storage.GetEnabled() {
		return "", nil
	}
	if c != nil && c.Storage.Path != "" {
		return expandHome(c.Storage.Path), nil
	}
	dir, err := AgentPaneDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.db"), nil
}

// LoggingConfig returns the logging setup for [logs], writing into logDir.
func (c *UserConfig) LoggingConfig(logDir string, debug bool) logging.Config {
	cfg := logging.Config{
		LogDir:     logDir,
		Level:      "info",
		Format:     "json",
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 7,
		Debug:      debug,
	}
	if debug {
		cfg.Level = "debug"
	}
	if c == nil {
		return cfg
	}
	l := c.Logs
	if l.Level != "" && !debug {
		cfg.Level = l.Level
	}
	if l.Format != "" {
		cfg.Format = l.Format
	}
	if l.MaxSizeMB > 0 {
		cfg.MaxSizeMB = l.MaxSizeMB
	}
	if l.MaxBackups > 0 {
		cfg.MaxBackups = l.MaxBackups
	}
	if l.MaxAgeDays > 0 {
		cfg.MaxAgeDays = l.MaxAgeDays
	}
	cfg.Compress = l.Compress
	if l.RingBufferKB > 0 {
		cfg.RingBufferSize = l.RingBufferKB << 10
	}
	cfg.AggregateIntervalSecs = l.AggregateIntervalSecs
	return cfg
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
