package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/asheshgoplani/agent-pane/internal/tmux"
)

// fakeMux is an in-memory Multiplexer. Screens are queued per session; the
// last queued screen repeats.
type fakeMux struct {
	mu       sync.Mutex
	sessions map[string]bool
	screens  map[string][]string
	activity map[string]time.Time
	calls    []string

	ensureErr  error
	sendErr    error
	captureErr error
	hasErr     error
}

func newFakeMux() *fakeMux {
	return &fakeMux{
		sessions: make(map[string]bool),
		screens:  make(map[string][]string),
		activity: make(map[string]time.Time),
	}
}

func (f *fakeMux) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

// withSession marks name as running and queues screens for it.
func (f *fakeMux) withSession(name string, screens ...string) *fakeMux {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[name] = true
	f.screens[name] = append(f.screens[name], screens...)
	return f
}

func (f *fakeMux) queueScreens(name string, screens ...string) *fakeMux {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screens[name] = append(f.screens[name], screens...)
	return f
}

func (f *fakeMux) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeMux) count(prefix string) int {
	n := 0
	for _, c := range f.callLog() {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (f *fakeMux) HasSession(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("has %s", name)
	if f.hasErr != nil {
		return false, f.hasErr
	}
	return f.sessions[name], nil
}

func (f *fakeMux) EnsureSession(_ context.Context, name, cwd string, historyLimit int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ensure %s %s %d", name, cwd, historyLimit)
	if f.ensureErr != nil {
		return false, f.ensureErr
	}
	if f.sessions[name] {
		return false, nil
	}
	f.sessions[name] = true
	return true, nil
}

func (f *fakeMux) KillSession(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("kill %s", name)
	existed := f.sessions[name]
	delete(f.sessions, name)
	return existed, nil
}

func (f *fakeMux) SendKeys(_ context.Context, name, text string, pressEnter bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("keys %s %q enter=%v", name, text, pressEnter)
	return nil
}

func (f *fakeMux) SendSpecialKey(_ context.Context, name, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("special %s %s", name, key)
	return nil
}

func (f *fakeMux) SendTextViaBuffer(_ context.Context, name, text string, pressEnter bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("paste %s %q enter=%v", name, text, pressEnter)
	return f.sendErr
}

func (f *fakeMux) CapturePane(_ context.Context, name string, _ tmux.CaptureRange) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("capture %s", name)
	if f.captureErr != nil {
		return "", f.captureErr
	}
	queue := f.screens[name]
	if len(queue) == 0 {
		return "", nil
	}
	s := queue[0]
	if len(queue) > 1 {
		f.screens[name] = queue[1:]
	}
	return s, nil
}

func (f *fakeMux) UnsetGlobalEnv(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("unsetenv %s", key)
	return nil
}

func (f *fakeMux) WindowActivity(_ context.Context, name string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.activity[name]
	if !ok {
		return time.Time{}, fmt.Errorf("no activity for %s", name)
	}
	return t, nil
}

// fakeClock advances virtual time on every Sleep.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}
