//go:build !windows

package tmux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// DetachKey is Ctrl+Q; pressing it alone ends Attach without killing the session.
const DetachKey = 17

// Attach connects the caller's terminal to the session through a PTY until
// the user presses Ctrl+Q, detaches through tmux, or ctx ends.
func (c *Client) Attach(ctx context.Context, name string) error {
	ok, err := c.HasSession(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session %s does not exist", name)
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("attach needs an interactive terminal")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binary, "attach-session", "-t", "="+name)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start pty: %w", err)
	}
	defer ptmx.Close()

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("set raw mode: %w", err)
	}
	defer func() { _ = term.Restore(int(os.Stdin.Fd()), oldState) }()

	var wg sync.WaitGroup

	resize := make(chan os.Signal, 1)
	signal.Notify(resize, syscall.SIGWINCH)
	stopResize := make(chan struct{})
	defer func() {
		signal.Stop(resize)
		close(stopResize)
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stopResize:
				return
			case <-resize:
				if ws, err := pty.GetsizeFull(os.Stdin); err == nil {
					_ = pty.Setsize(ptmx, ws)
				}
			}
		}
	}()
	resize <- syscall.SIGWINCH

	detached := make(chan struct{})
	started := time.Now()

	go func() {
		_, err := io.Copy(os.Stdout, ptmx)
		if err != nil && !errors.Is(err, io.EOF) && ctx.Err() == nil {
			tmuxLog.Debug("attach_output_closed", slog.String("session", name), slog.String("error", err.Error()))
		}
	}()

	// The stdin reader stays blocked in Read after Attach returns, so it is
	// not part of the wait group.
	go func() {
		buf := make([]byte, 64)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			// Terminal capability replies arrive right after raw mode is set.
			if time.Since(started) < 50*time.Millisecond {
				continue
			}
			if n == 1 && buf[0] == DetachKey {
				close(detached)
				cancel()
				return
			}
			if _, err := ptmx.Write(buf[:n]); err != nil {
				return
			}
		}
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case <-detached:
		return nil
	case <-ctx.Done():
		return nil
	case err := <-waitErr:
		var exitErr *exec.ExitError
		if err == nil || (errors.As(err, &exitErr) && exitErr.ExitCode() <= 1) || ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("attach %s: %w", name, err)
	}
}
