package tmux

import (
	"context"
	"strings"
	"sync"
)

type call struct {
	Args  []string
	Stdin []byte
}

// fakeRunner records invocations and answers from a script keyed by the
// tmux subcommand (first argument).
type fakeRunner struct {
	mu     sync.Mutex
	calls  []call
	script map[string][]response
}

type response struct {
	res Result
	err error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{script: make(map[string][]response)}
}

// on queues a response for the next call of subcommand. The last queued
// response repeats once the queue would otherwise run dry.
func (f *fakeRunner) on(subcommand string, res Result, err error) *fakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[subcommand] = append(f.script[subcommand], response{res: res, err: err})
	return f
}

func (f *fakeRunner) fail(subcommand string, exit int, stderr string) *fakeRunner {
	return f.on(subcommand, Result{ExitCode: exit, Stderr: []byte(stderr)}, nil)
}

func (f *fakeRunner) Run(_ context.Context, stdin []byte, args ...string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := call{Args: append([]string(nil), args...)}
	if stdin != nil {
		c.Stdin = append([]byte(nil), stdin...)
	}
	f.calls = append(f.calls, c)

	if len(args) == 0 {
		return Result{}, nil
	}
	queue := f.script[args[0]]
	if len(queue) == 0 {
		return Result{}, nil
	}
	r := queue[0]
	if len(queue) > 1 {
		f.script[args[0]] = queue[1:]
	}
	return r.res, r.err
}

func (f *fakeRunner) subcommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Args[0]
	}
	return out
}

func (f *fakeRunner) find(subcommand string) (call, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.Args[0] == subcommand {
			return c, true
		}
	}
	return call{}, false
}

func (f *fakeRunner) joined(subcommand string) string {
	c, ok := f.find(subcommand)
	if !ok {
		return ""
	}
	return strings.Join(c.Args, " ")
}

func newTestClient(r Runner) *Client {
	return NewClient(WithRunner(r), WithEnterDelay(0))
}
