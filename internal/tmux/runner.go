package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultCommandTimeout bounds every tmux invocation.
	DefaultCommandTimeout = 5 * time.Second
	// DefaultMaxOutput caps captured stdout and stderr per invocation.
	DefaultMaxOutput = 10 << 20
)

var (
	// ErrCommandTimeout is wrapped by CommandError when a tmux call exceeds its timeout.
	ErrCommandTimeout = errors.New("tmux command timed out")
	// ErrOutputLimit is wrapped by CommandError when a tmux call prints more than the cap.
	ErrOutputLimit = errors.New("tmux output exceeded limit")
)

// Result is what a finished invocation produced.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner spawns one tmux process. Stdin may be nil.
// A non-zero exit is reported through Result.ExitCode with a nil error;
// the error is reserved for spawn failures, timeouts and output overflow.
type Runner interface {
	Run(ctx context.Context, stdin []byte, args ...string) (Result, error)
}

// CommandError reports an unexpected tmux failure.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "tmux %s", strings.Join(e.Args, " "))
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	} else {
		fmt.Fprintf(&b, ": exit status %d", e.ExitCode)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, " (%s)", e.Stderr)
	}
	return b.String()
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExecRunner runs the real tmux binary.
type ExecRunner struct {
	Binary    string
	Timeout   time.Duration
	MaxOutput int
}

// NewExecRunner returns a runner for binary ("tmux" when empty) with default bounds.
func NewExecRunner(binary string) *ExecRunner {
	if binary == "" {
		binary = "tmux"
	}
	return &ExecRunner{
		Binary:    binary,
		Timeout:   DefaultCommandTimeout,
		MaxOutput: DefaultMaxOutput,
	}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, stdin []byte, args ...string) (Result, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	limit := r.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if ctx.Err() == context.DeadlineExceeded {
		return res, ErrCommandTimeout
	}
	if stdout.overflow || stderr.overflow {
		return res, ErrOutputLimit
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}

// cappedBuffer keeps the first limit bytes and discards the rest. Writes
// never fail so the child is not killed by a broken pipe mid-output.
type cappedBuffer struct {
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	if room <= 0 {
		if len(p) > 0 {
			c.overflow = true
		}
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.overflow = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) Bytes() []byte { return c.buf.Bytes() }
