// Package tmux drives tmux sessions that host interactive coding-assistant
// CLIs and classifies what their panes currently show.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/asheshgoplani/agent-pane/internal/logging"
)

var tmuxLog = logging.ForComponent(logging.CompTmux)

// DefaultEnterDelay separates pasted text from the Enter that submits it.
// tmux 3.2+ wraps pastes in bracketed-paste markers and TUI frameworks drop
// an Enter that arrives in the same read as the closing marker.
const DefaultEnterDelay = 100 * time.Millisecond

// stderr fragments tmux prints when the target session or the server is gone.
var absentMarkers = []string{
	"no server running",
	"can't find session",
	"session not found",
	"error connecting to",
	"no such file or directory",
}

// Client wraps the tmux operations the session manager needs.
type Client struct {
	binary     string
	runner     Runner
	enterDelay time.Duration
	sleep      func(context.Context, time.Duration) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRunner replaces the process runner (tests use a scripted fake).
func WithRunner(r Runner) ClientOption {
	return func(c *Client) { c.runner = r }
}

// WithBinary sets the tmux executable used by the default runner and by Attach.
func WithBinary(path string) ClientOption {
	return func(c *Client) {
		if path != "" {
			c.binary = path
		}
	}
}

// WithEnterDelay overrides DefaultEnterDelay.
func WithEnterDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.enterDelay = d }
}

// NewClient returns a client backed by the tmux binary on PATH unless
// WithRunner says otherwise.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		binary:     "tmux",
		enterDelay: DefaultEnterDelay,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.runner == nil {
		c.runner = NewExecRunner(c.binary)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// exec runs one tmux invocation. Spawn failures, bound violations and
// non-zero exits all come back as *CommandError.
func (c *Client) exec(ctx context.Context, stdin []byte, args ...string) (Result, error) {
	res, err := c.runner.Run(ctx, stdin, args...)
	if err != nil {
		return res, &CommandError{
			Args:     args,
			ExitCode: res.ExitCode,
			Stderr:   strings.TrimSpace(string(res.Stderr)),
			Err:      err,
		}
	}
	if res.ExitCode != 0 {
		return res, &CommandError{
			Args:     args,
			ExitCode: res.ExitCode,
			Stderr:   strings.TrimSpace(string(res.Stderr)),
		}
	}
	return res, nil
}

// isAbsent reports whether err says the session or the server does not exist.
func isAbsent(err error) bool {
	var ce *CommandError
	if !errors.As(err, &ce) || ce.Err != nil {
		return false
	}
	lower := strings.ToLower(ce.Stderr)
	for _, m := range absentMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func isDuplicate(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce) && ce.Err == nil && strings.Contains(strings.ToLower(ce.Stderr), "duplicate session")
}

// Version returns the `tmux -V` string; an error means tmux is unusable.
func (c *Client) Version(ctx context.Context) (string, error) {
	res, err := c.exec(ctx, nil, "-V")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

// HasSession probes for an exact-name session. A missing session or server
// is (false, nil).
func (c *Client) HasSession(ctx context.Context, name string) (bool, error) {
	_, err := c.exec(ctx, nil, "has-session", "-t", "="+name)
	if err == nil {
		return true, nil
	}
	var ce *CommandError
	if errors.As(err, &ce) && ce.Err == nil && ce.ExitCode == 1 {
		return false, nil
	}
	if isAbsent(err) {
		return false, nil
	}
	return false, err
}

// CreateSession starts a detached session in cwd with the given scrollback
// limit, in one tmux invocation. history-limit only applies to windows
// created after it is set, so the first window is replaced by a fresh one.
func (c *Client) CreateSession(ctx context.Context, name, cwd string, historyLimit int) error {
	var dir []string
	if cwd != "" {
		dir = []string{"-c", cwd}
	}
	args := append([]string{"new-session", "-d", "-s", name}, dir...)
	if historyLimit > 0 {
		args = append(args, ";", "set-option", "-t", name, "history-limit", strconv.Itoa(historyLimit))
		args = append(args, ";", "new-window", "-t", name+":")
		args = append(args, dir...)
		args = append(args, ";", "kill-window", "-t", name+":{start}")
	}
	if _, err := c.exec(ctx, nil, args...); err != nil {
		return err
	}
	tmuxLog.Info("session_created",
		slog.String("session", name),
		slog.String("cwd", cwd),
		slog.Int("history_limit", historyLimit))
	return nil
}

// EnsureSession creates the session unless it already exists. It reports
// whether this call created it. Losing a creation race is not an error.
func (c *Client) EnsureSession(ctx context.Context, name, cwd string, historyLimit int) (bool, error) {
	exists, err := c.HasSession(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := c.CreateSession(ctx, name, cwd, historyLimit); err != nil {
		if isDuplicate(err) {
			tmuxLog.Debug("session_create_race", slog.String("session", name))
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// KillSession reports true when a session was killed and false when there
// was nothing to kill.
func (c *Client) KillSession(ctx context.Context, name string) (bool, error) {
	_, err := c.exec(ctx, nil, "kill-session", "-t", "="+name)
	if err == nil {
		tmuxLog.Info("session_killed", slog.String("session", name))
		return true, nil
	}
	if isAbsent(err) {
		return false, nil
	}
	return false, err
}

// ListSessions returns session names starting with prefix ("" for all).
func (c *Client) ListSessions(ctx context.Context, prefix string) ([]string, error) {
	res, err := c.exec(ctx, nil, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if isAbsent(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && strings.HasPrefix(line, prefix) {
			names = append(names, line)
		}
	}
	return names, nil
}

// SendKeys types text literally. Use it only for short strings this package
// controls; user text goes through SendTextViaBuffer.
func (c *Client) SendKeys(ctx context.Context, name, text string, pressEnter bool) error {
	if text != "" {
		if _, err := c.exec(ctx, nil, "send-keys", "-l", "-t", name, "--", text); err != nil {
			return err
		}
	}
	if !pressEnter {
		return nil
	}
	if text != "" {
		if err := c.sleep(ctx, c.enterDelay); err != nil {
			return err
		}
	}
	return c.SendSpecialKey(ctx, name, "Enter")
}

// SendSpecialKey sends one tmux key name such as "Enter", "Escape" or "C-c".
func (c *Client) SendSpecialKey(ctx context.Context, name, key string) error {
	_, err := c.exec(ctx, nil, "send-keys", "-t", name, key)
	return err
}

// CaptureRange selects the scrollback lines capture-pane returns.
// Negative offsets count back into history from the top of the visible pane.
type CaptureRange struct {
	Start  int
	End    int
	hasEnd bool
	last   int
}

// LastLines captures enough history to return the final n non-padding lines.
func LastLines(n int) CaptureRange {
	if n < 1 {
		n = 1
	}
	return CaptureRange{Start: -n, last: n}
}

// Between captures from start to end inclusive.
func Between(start, end int) CaptureRange {
	return CaptureRange{Start: start, End: end, hasEnd: true}
}

func (r CaptureRange) args() []string {
	args := []string{"-S", strconv.Itoa(r.Start)}
	if r.hasEnd {
		args = append(args, "-E", strconv.Itoa(r.End))
	}
	return args
}

// CapturePane returns pane text with wrapped lines joined.
func (c *Client) CapturePane(ctx context.Context, name string, r CaptureRange) (string, error) {
	args := append([]string{"capture-pane", "-p", "-J", "-t", name}, r.args()...)
	res, err := c.exec(ctx, nil, args...)
	logging.Aggregate(logging.CompTmux, "capture_pane", slog.String("session", name))
	if err != nil {
		return "", err
	}
	out := string(res.Stdout)
	if r.last > 0 {
		out = tailLines(out, r.last)
	}
	return out, nil
}

// tailLines drops trailing blank padding and keeps at most n lines.
func tailLines(s string, n int) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	start := end - n
	if start < 0 {
		start = 0
	}
	return strings.Join(lines[start:end], "\n")
}

// SetGlobalEnv sets a variable in the tmux global environment.
func (c *Client) SetGlobalEnv(ctx context.Context, key, value string) error {
	_, err := c.exec(ctx, nil, "set-environment", "-g", key, value)
	return err
}

// UnsetGlobalEnv removes a variable from the tmux global environment.
// Unsetting an absent variable succeeds.
func (c *Client) UnsetGlobalEnv(ctx context.Context, key string) error {
	_, err := c.exec(ctx, nil, "set-environment", "-g", "-u", key)
	if err != nil && isAbsent(err) {
		return nil
	}
	return err
}

// WindowActivity is the last time the session's window produced output.
func (c *Client) WindowActivity(ctx context.Context, name string) (time.Time, error) {
	res, err := c.exec(ctx, nil, "display-message", "-p", "-t", name, "#{window_activity}")
	if err != nil {
		return time.Time{}, err
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(string(res.Stdout)), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse window_activity: %w", err)
	}
	return time.Unix(secs, 0), nil
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// ShellQuote quotes s for a POSIX shell. Safe tokens pass through unchanged.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// ShellJoin quotes each word and joins them with spaces.
func ShellJoin(words ...string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = ShellQuote(w)
	}
	return strings.Join(quoted, " ")
}
