package tmux

import (
	"context"
	"log/slog"
	"strings"
)

// BufferPrefix starts every paste-buffer name this package creates.
const BufferPrefix = "agentpane_"

// BufferName derives a paste-buffer name from a session name. Only
// [A-Za-z0-9_] survive; everything else becomes '_'.
func BufferName(session string) string {
	var b strings.Builder
	b.Grow(len(BufferPrefix) + len(session))
	b.WriteString(BufferPrefix)
	for _, r := range session {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func stripNUL(s string) string {
	if strings.IndexByte(s, 0) < 0 {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// SendTextViaBuffer delivers arbitrary text to the pane exactly as typed.
// The bytes travel on load-buffer's stdin and are pasted with bracketed
// paste; the buffer is deleted by the paste or, on failure, explicitly.
func (c *Client) SendTextViaBuffer(ctx context.Context, name, text string, pressEnter bool) error {
	buf := BufferName(name)
	payload := stripNUL(text)

	fail := func(err error) error {
		// Best effort: the paste may have already consumed it.
		if _, derr := c.exec(context.WithoutCancel(ctx), nil, "delete-buffer", "-b", buf); derr != nil {
			tmuxLog.Debug("buffer_cleanup_failed",
				slog.String("buffer", buf),
				slog.String("error", derr.Error()))
		}
		return err
	}

	if _, err := c.exec(ctx, []byte(payload), "load-buffer", "-b", buf, "-"); err != nil {
		return fail(err)
	}
	if _, err := c.exec(ctx, nil, "paste-buffer", "-d", "-p", "-b", buf, "-t", name); err != nil {
		return fail(err)
	}
	if pressEnter {
		if err := c.sleep(ctx, c.enterDelay); err != nil {
			return fail(err)
		}
		if err := c.SendSpecialKey(ctx, name, "Enter"); err != nil {
			return fail(err)
		}
	}

	tmuxLog.Debug("text_pasted",
		slog.String("session", name),
		slog.Int("bytes", len(payload)),
		slog.Bool("enter", pressEnter))
	return nil
}
