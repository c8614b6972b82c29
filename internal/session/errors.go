package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrWorkspaceNotFound is returned when a workspace id maps to no directory.
	ErrWorkspaceNotFound = errors.New("workspace not found")

	// ErrBinaryNotFound is the cause inside a ResolutionError when no
	// candidate location holds the tool's executable.
	ErrBinaryNotFound = errors.New("executable not found")
)

// ResolutionError reports that a tool's executable could not be located.
type ResolutionError struct {
	Tool  string
	Tried []string
	Err   error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("resolve %s: %v", e.Tool, e.Err)
	if len(e.Tried) > 0 {
		msg += " (tried " + strings.Join(e.Tried, ", ") + ")"
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Launch stages reported by LaunchError.
const (
	StageCreate  = "create_session"
	StageEnv     = "clear_env"
	StageCommand = "send_command"
	StageInit    = "wait_init"
	StageRecover = "recover"
)

// LaunchError reports a failure while bringing a session up.
type LaunchError struct {
	Session string
	Tool    string
	Stage   string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s in %s (%s): %v", e.Tool, e.Session, e.Stage, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// InitTimeoutError means the CLI never drew its prompt after launch.
type InitTimeoutError struct {
	Session string
	Timeout time.Duration
}

func (e *InitTimeoutError) Error() string {
	return fmt.Sprintf("session %s: no prompt within %s of launch", e.Session, e.Timeout)
}

// PromptTimeoutError means an input prompt did not appear in time.
type PromptTimeoutError struct {
	Session string
	Timeout time.Duration
}

func (e *PromptTimeoutError) Error() string {
	return fmt.Sprintf("session %s: no input prompt within %s", e.Session, e.Timeout)
}

// BrokenSessionError marks a session whose screen shows a failure signature.
// The manager recovers from it before callers see it.
type BrokenSessionError struct {
	Session   string
	Signature string
}

func (e *BrokenSessionError) Error() string {
	return fmt.Sprintf("session %s is broken: %q", e.Session, e.Signature)
}

// ErrSessionNotFound is returned by operations that need a live session.
var ErrSessionNotFound = errors.New("session not found")
