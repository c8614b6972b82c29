// Package session manages the lifecycle of assistant CLI sessions running in
// tmux: launch or reuse, recovery of broken panes, message delivery and
// status classification.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/asheshgoplani/agent-pane/internal/logging"
	"github.com/asheshgoplani/agent-pane/internal/statedb"
	"github.com/asheshgoplani/agent-pane/internal/tmux"
)

var (
	sessionLog = logging.ForComponent(logging.CompSession)
	statusLog  = logging.ForComponent(logging.CompStatus)
	storageLog = logging.ForComponent(logging.CompStorage)
)

// Multiplexer is the subset of tmux the manager drives. *tmux.Client implements it.
type Multiplexer interface {
	HasSession(ctx context.Context, name string) (bool, error)
	EnsureSession(ctx context.Context, name, cwd string, historyLimit int) (bool, error)
	KillSession(ctx context.Context, name string) (bool, error)
	SendKeys(ctx context.Context, name, text string, pressEnter bool) error
	SendSpecialKey(ctx context.Context, name, key string) error
	SendTextViaBuffer(ctx context.Context, name, text string, pressEnter bool) error
	CapturePane(ctx context.Context, name string, r tmux.CaptureRange) (string, error)
	UnsetGlobalEnv(ctx context.Context, key string) error
	WindowActivity(ctx context.Context, name string) (time.Time, error)
}

var _ Multiplexer = (*tmux.Client)(nil)

// Registry records sessions and launches. *statedb.StateDB implements it.
// Registry errors are logged and never fail an operation.
type Registry interface {
	UpsertSession(ctx context.Context, row *statedb.SessionRow) error
	IncrementRestarts(ctx context.Context, name string) error
	UpdateStatus(ctx context.Context, name, status, reason string, at time.Time) error
	DeleteSession(ctx context.Context, name string) error
	InsertLaunch(ctx context.Context, l *statedb.LaunchRow) error
}

var _ Registry = (*statedb.StateDB)(nil)

// ToolSpec is a tool profile plus an optional configured executable path.
type ToolSpec struct {
	Profile      tmux.ToolProfile
	PathOverride string
}

// ToolCatalog looks up tools by id.
type ToolCatalog interface {
	Tool(name string) ToolSpec
}

// BuiltinTools serves the built-in profiles only.
type BuiltinTools struct{}

func (BuiltinTools) Tool(name string) ToolSpec {
	return ToolSpec{Profile: tmux.DefaultProfile(name)}
}

// Defaults for Options.
const (
	DefaultInitTimeout        = 30 * time.Second
	DefaultInitPollInterval   = 500 * time.Millisecond
	DefaultStabilizeDelay     = 1 * time.Second
	DefaultSettleDelay        = 500 * time.Millisecond
	DefaultPromptTimeout      = 10 * time.Second
	DefaultPromptPollInterval = 200 * time.Millisecond
	DefaultHistoryLimit       = 50000
	DefaultCaptureLines       = 50
	DefaultCapturesPerSecond  = 10
	DefaultCaptureBurst       = 5
	statusAllParallelism      = 4
)

// Options tunes timing and capture sizes.
type Options struct {
	InitTimeout        time.Duration
	InitPollInterval   time.Duration
	StabilizeDelay     time.Duration
	SettleDelay        time.Duration
	PromptTimeout      time.Duration
	PromptPollInterval time.Duration
	StaleAfter         time.Duration

	HistoryLimit int
	CaptureLines int

	// CapturesPerSecond limits GetStatus captures across all sessions.
	// Zero or less disables the limit.
	CapturesPerSecond float64
	CaptureBurst      int
}

// DefaultOptions returns the built-in timings.
func DefaultOptions() Options {
	return Options{
		InitTimeout:        DefaultInitTimeout,
		InitPollInterval:   DefaultInitPollInterval,
		StabilizeDelay:     DefaultStabilizeDelay,
		SettleDelay:        DefaultSettleDelay,
		PromptTimeout:      DefaultPromptTimeout,
		PromptPollInterval: DefaultPromptPollInterval,
		StaleAfter:         tmux.DefaultStaleAfter,
		HistoryLimit:       DefaultHistoryLimit,
		CaptureLines:       DefaultCaptureLines,
		CapturesPerSecond:  DefaultCapturesPerSecond,
		CaptureBurst:       DefaultCaptureBurst,
	}
}

// withDefaults fills zero fields from DefaultOptions. Rate fields are kept
// as given so callers can disable the limiter.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	setDur := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	setDur(&o.InitTimeout, d.InitTimeout)
	setDur(&o.InitPollInterval, d.InitPollInterval)
	setDur(&o.PromptTimeout, d.PromptTimeout)
	setDur(&o.PromptPollInterval, d.PromptPollInterval)
	setDur(&o.StaleAfter, d.StaleAfter)
	if o.StabilizeDelay < 0 {
		o.StabilizeDelay = 0
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = d.HistoryLimit
	}
	if o.CaptureLines <= 0 {
		o.CaptureLines = d.CaptureLines
	}
	if o.CaptureBurst <= 0 {
		o.CaptureBurst = d.CaptureBurst
	}
	return o
}

// Manager owns the lifecycle of assistant sessions. It holds no per-session
// state: every call looks at tmux afresh.
type Manager struct {
	mux        Multiplexer
	workspaces WorkspaceResolver
	resolver   *BinaryResolver
	registry   Registry
	clock      Clock
	opts       Options
	limiter    *rate.Limiter

	toolsMu sync.RWMutex
	tools   ToolCatalog
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithClock(c Clock) ManagerOption { return func(m *Manager) { m.clock = c } }

func WithRegistry(r Registry) ManagerOption { return func(m *Manager) { m.registry = r } }

func WithOptions(o Options) ManagerOption { return func(m *Manager) { m.opts = o } }

func WithTools(t ToolCatalog) ManagerOption { return func(m *Manager) { m.tools = t } }

func WithResolver(r *BinaryResolver) ManagerOption { return func(m *Manager) { m.resolver = r } }

// NewManager returns a manager driving mux. Without options it uses the
// built-in tools, default timings, a fresh path cache and no registry.
func NewManager(mux Multiplexer, workspaces WorkspaceResolver, opts ...ManagerOption) *Manager {
	m := &Manager{
		mux:        mux,
		workspaces: workspaces,
		clock:      RealClock(),
		opts:       DefaultOptions(),
		tools:      BuiltinTools{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.opts = m.opts.withDefaults()
	if m.resolver == nil {
		m.resolver = DefaultBinaryResolver(nil)
	}
	if m.resolver.Cache == nil {
		m.resolver.Cache = NewPathCache()
	}
	limit := rate.Inf
	if m.opts.CapturesPerSecond > 0 {
		limit = rate.Limit(m.opts.CapturesPerSecond)
	}
	m.limiter = rate.NewLimiter(limit, m.opts.CaptureBurst)
	return m
}

// SetTools swaps the tool catalog, e.g. after a config reload.
func (m *Manager) SetTools(t ToolCatalog) {
	m.toolsMu.Lock()
	m.tools = t
	m.toolsMu.Unlock()
}

func (m *Manager) tool(name string) ToolSpec {
	m.toolsMu.RLock()
	defer m.toolsMu.RUnlock()
	spec := m.tools.Tool(name)
	if spec.Profile.Name == "" {
		spec.Profile = tmux.DefaultProfile(name)
	}
	return spec
}

// Options returns the effective timings.
func (m *Manager) Options() Options { return m.opts }

// PathCache returns the cache of resolved executables.
func (m *Manager) PathCache() *PathCache { return m.resolver.Cache }

// StartOrReuseSession makes sure a healthy session for (workspaceID, tool)
// runs the assistant. A session showing a broken signature is killed and
// launched again once.
func (m *Manager) StartOrReuseSession(ctx context.Context, workspaceID, tool string) error {
	key := SessionKey{WorkspaceID: workspaceID, Tool: tool}
	spec := m.tool(tool)
	name := key.SessionName()

	exists, err := m.mux.HasSession(ctx, name)
	if err != nil {
		return &LaunchError{Session: name, Tool: spec.Profile.Name, Stage: StageCreate, Err: err}
	}
	if !exists {
		return m.launch(ctx, key, spec)
	}

	text, err := m.mux.CapturePane(ctx, name, tmux.LastLines(m.opts.CaptureLines))
	if err != nil {
		return fmt.Errorf("health check %s: %w", name, err)
	}
	sig, broken := brokenSignature(text, spec.Profile)
	if !broken {
		sessionLog.Debug("session_reused", slog.String("session", name))
		return nil
	}

	bse := &BrokenSessionError{Session: name, Signature: sig}
	sessionLog.Warn("session_broken", slog.String("session", name), slog.String("signature", sig))
	if _, err := m.mux.KillSession(ctx, name); err != nil {
		return &LaunchError{Session: name, Tool: spec.Profile.Name, Stage: StageRecover, Err: errors.Join(bse, err)}
	}
	m.registryDo(ctx, "increment_restarts", func(ctx context.Context, r Registry) error { return r.IncrementRestarts(ctx, name) })
	return m.launch(ctx, key, spec)
}

func (m *Manager) launch(ctx context.Context, key SessionKey, spec ToolSpec) error {
	started := m.clock.Now()
	profile := spec.Profile
	name := key.SessionName()

	cwd, err := m.workspaces.Resolve(key.WorkspaceID)
	if err != nil {
		return fmt.Errorf("workspace %q: %w", key.WorkspaceID, err)
	}

	bin, err := m.resolver.Resolve(profile, spec.PathOverride)
	if err != nil {
		m.recordLaunch(ctx, name, "", statedb.OutcomeResolveFail, err, started)
		return err
	}

	fail := func(stage string, err error) error {
		m.resolver.Cache.Clear(profile.Name)
		outcome := statedb.OutcomeLaunchFail
		var ite *InitTimeoutError
		if errors.As(err, &ite) {
			outcome = statedb.OutcomeInitTimeout
		}
		m.recordLaunch(ctx, name, bin, outcome, err, started)
		sessionLog.Error("launch_failed",
			slog.String("session", name),
			slog.String("stage", stage),
			slog.String("error", err.Error()))
		return &LaunchError{Session: name, Tool: profile.Name, Stage: stage, Err: err}
	}

	if _, err := m.mux.EnsureSession(ctx, name, cwd, m.opts.HistoryLimit); err != nil {
		return fail(StageCreate, err)
	}

	if env := profile.NestedEnv; env != "" {
		if err := m.mux.UnsetGlobalEnv(ctx, env); err != nil {
			return fail(StageEnv, err)
		}
		if err := m.mux.SendKeys(ctx, name, "unset "+env, true); err != nil {
			return fail(StageEnv, err)
		}
		if err := m.clock.Sleep(ctx, m.opts.SettleDelay); err != nil {
			return fail(StageEnv, err)
		}
	}

	command := tmux.ShellJoin(append([]string{bin}, profile.Args...)...)
	if err := m.mux.SendKeys(ctx, name, command, true); err != nil {
		return fail(StageCommand, err)
	}

	if err := m.waitForInit(ctx, name, profile); err != nil {
		return fail(StageInit, err)
	}

	m.registryDo(ctx, "upsert_session", func(ctx context.Context, r Registry) error {
		return r.UpsertSession(ctx, &statedb.SessionRow{
			Name:       name,
			Workspace:  key.WorkspaceID,
			Tool:       profile.Name,
			BinaryPath: bin,
			Cwd:        cwd,
			CreatedAt:  started,
		})
	})
	m.recordLaunch(ctx, name, bin, statedb.OutcomeReady, nil, started)
	sessionLog.Info("session_started",
		slog.String("session", name),
		slog.String("binary", bin),
		slog.Duration("elapsed", m.clock.Now().Sub(started)))
	return nil
}

// waitForInit polls until the assistant draws its prompt or input box.
func (m *Manager) waitForInit(ctx context.Context, name string, profile tmux.ToolProfile) error {
	deadline := m.clock.Now().Add(m.opts.InitTimeout)
	for {
		text, err := m.mux.CapturePane(ctx, name, tmux.LastLines(m.opts.CaptureLines))
		if err == nil && tmux.HasPromptOrSeparator(text, profile) {
			return m.clock.Sleep(ctx, m.opts.StabilizeDelay)
		}
		if err != nil {
			logging.Aggregate(logging.CompSession, "init_capture_error", slog.String("session", name))
		}
		if !m.clock.Now().Before(deadline) {
			return &InitTimeoutError{Session: name, Timeout: m.opts.InitTimeout}
		}
		if err := m.clock.Sleep(ctx, m.opts.InitPollInterval); err != nil {
			return err
		}
	}
}

// WaitForPrompt polls the session until an empty input prompt is on screen.
// A timeout of zero or less means the configured prompt timeout.
func (m *Manager) WaitForPrompt(ctx context.Context, name, tool string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = m.opts.PromptTimeout
	}
	profile := m.tool(tool).Profile
	deadline := m.clock.Now().Add(timeout)
	for {
		text, err := m.mux.CapturePane(ctx, name, tmux.LastLines(m.opts.CaptureLines))
		if err == nil && tmux.HasReadyPrompt(text, profile) {
			return nil
		}
		logging.Aggregate(logging.CompSession, "prompt_poll", slog.String("session", name))
		if !m.clock.Now().Before(deadline) {
			return &PromptTimeoutError{Session: name, Timeout: timeout}
		}
		if err := m.clock.Sleep(ctx, m.opts.PromptPollInterval); err != nil {
			return err
		}
	}
}

// SendMessage delivers text to the assistant as if typed, followed by Enter.
// It waits for an input prompt first, but delivers anyway when none appears.
func (m *Manager) SendMessage(ctx context.Context, workspaceID, tool, text string) error {
	if err := m.StartOrReuseSession(ctx, workspaceID, tool); err != nil {
		return err
	}
	name := SessionName(workspaceID, tool)

	if err := m.WaitForPrompt(ctx, name, tool, m.opts.PromptTimeout); err != nil {
		var pte *PromptTimeoutError
		if !errors.As(err, &pte) {
			return err
		}
		sessionLog.Warn("prompt_wait_timeout",
			slog.String("session", name),
			slog.Duration("timeout", pte.Timeout))
	}

	if err := m.mux.SendTextViaBuffer(ctx, name, text, true); err != nil {
		return fmt.Errorf("deliver to %s: %w", name, err)
	}
	sessionLog.Info("message_sent", slog.String("session", name), slog.Int("bytes", len(text)))
	return nil
}

// GetStatus classifies what the session currently shows.
func (m *Manager) GetStatus(ctx context.Context, workspaceID, tool string) (tmux.StatusDescriptor, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return tmux.StatusDescriptor{}, err
	}
	spec := m.tool(tool)
	name := SessionName(workspaceID, tool)

	exists, err := m.mux.HasSession(ctx, name)
	if err != nil {
		return tmux.StatusDescriptor{}, err
	}
	if !exists {
		desc := tmux.StatusDescriptor{Status: tmux.StatusBroken, Confidence: tmux.ConfidenceHigh, Reason: tmux.ReasonSessionMissing}
		m.recordStatus(ctx, name, desc)
		return desc, nil
	}

	text, err := m.mux.CapturePane(ctx, name, tmux.LastLines(m.opts.CaptureLines))
	if err != nil {
		return tmux.StatusDescriptor{}, err
	}

	var desc tmux.StatusDescriptor
	if sig, broken := brokenSignature(text, spec.Profile); broken {
		statusLog.Debug("broken_signature", slog.String("session", name), slog.String("signature", sig))
		desc = tmux.StatusDescriptor{Status: tmux.StatusBroken, Confidence: tmux.ConfidenceHigh, Reason: tmux.ReasonBrokenSignature}
	} else {
		lastOutput, err := m.mux.WindowActivity(ctx, name)
		if err != nil {
			statusLog.Debug("window_activity_unavailable", slog.String("session", name), slog.String("error", err.Error()))
			lastOutput = time.Time{}
		}
		c := tmux.Classifier{Profile: spec.Profile, StaleAfter: m.opts.StaleAfter}
		desc = c.Classify(text, lastOutput, m.clock.Now())
	}

	logging.Aggregate(logging.CompStatus, "status_poll",
		slog.String("session", name),
		slog.String("status", string(desc.Status)))
	m.recordStatus(ctx, name, desc)
	return desc, nil
}

// StopSession kills the session. It reports whether a session was running.
func (m *Manager) StopSession(ctx context.Context, workspaceID, tool string) (bool, error) {
	name := SessionName(workspaceID, tool)
	killed, err := m.mux.KillSession(ctx, name)
	if err != nil {
		return false, err
	}
	m.registryDo(ctx, "delete_session", func(ctx context.Context, r Registry) error { return r.DeleteSession(ctx, name) })
	if killed {
		sessionLog.Info("session_stopped", slog.String("session", name))
	}
	return killed, nil
}

// Interrupt presses Escape in the session, which stops the assistant's
// current turn.
func (m *Manager) Interrupt(ctx context.Context, workspaceID, tool string) error {
	name := SessionName(workspaceID, tool)
	exists, err := m.mux.HasSession(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	return m.mux.SendSpecialKey(ctx, name, "Escape")
}

// StatusResult is one entry of StatusAll.
type StatusResult struct {
	Key        SessionKey
	Descriptor tmux.StatusDescriptor
	Err        error
}

// StatusAll runs GetStatus for every key with bounded parallelism. Results
// keep the order of keys; a failing key does not stop the others.
func (m *Manager) StatusAll(ctx context.Context, keys []SessionKey) []StatusResult {
	results := make([]StatusResult, len(keys))
	var g errgroup.Group
	g.SetLimit(statusAllParallelism)
	for i, k := range keys {
		g.Go(func() error {
			desc, err := m.GetStatus(ctx, k.WorkspaceID, k.Tool)
			results[i] = StatusResult{Key: k, Descriptor: desc, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *Manager) recordStatus(ctx context.Context, name string, desc tmux.StatusDescriptor) {
	m.registryDo(ctx, "update_status", func(ctx context.Context, r Registry) error {
		return r.UpdateStatus(ctx, name, string(desc.Status), string(desc.Reason), m.clock.Now())
	})
}

func (m *Manager) recordLaunch(ctx context.Context, name, bin, outcome string, cause error, started time.Time) {
	row := &statedb.LaunchRow{
		Session:   name,
		Binary:    bin,
		Outcome:   outcome,
		StartedAt: started,
		Duration:  m.clock.Now().Sub(started),
	}
	if cause != nil {
		row.Error = cause.Error()
	}
	m.registryDo(ctx, "insert_launch", func(ctx context.Context, r Registry) error { return r.InsertLaunch(ctx, row) })
}

// registryDo runs fn against the registry, detached from ctx's cancellation
// so that work already done in tmux is still recorded.
func (m *Manager) registryDo(ctx context.Context, op string, fn func(context.Context, Registry) error) {
	if m.registry == nil {
		return
	}
	if err := fn(context.WithoutCancel(ctx), m.registry); err != nil {
		storageLog.Warn("registry_write_failed",
			slog.String("op", op),
			slog.String("error", err.Error()))
	}
}
