package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/asheshgoplani/agent-pane/internal/logging"
	"github.com/asheshgoplani/agent-pane/internal/session"
	"github.com/asheshgoplani/agent-pane/internal/tmux"
)

func (c *cli) watchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch [<workspace> <tool>]",
		Short: "Poll session status and print every change",
		Long: "Poll one session, or every session in the registry, and print a line\n" +
			"whenever a status changes. Config edits are picked up without a restart.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected no arguments or <workspace> <tool>, got %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a := c.openApp(ctx)
			defer a.Close()

			keys, err := watchKeys(ctx, a, args)
			if err != nil {
				return err
			}

			go dumpOnSignal(ctx)
			if w, err := session.WatchUserConfig(ctx); err != nil {
				cliLog.Warn("config_watch_failed", slog.String("error", err.Error()))
			} else {
				defer w.Close()
				if msg := w.Warning(); msg != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", msg)
				}
				go applyConfigChanges(ctx, w, a.mgr)
			}

			return watchLoop(ctx, cmd.OutOrStdout(), a.mgr, keys, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "time between polls")
	return cmd
}

// watchKeys returns the explicit key, or every session in the registry.
func watchKeys(ctx context.Context, a *app, args []string) ([]session.SessionKey, error) {
	if len(args) == 2 {
		return []session.SessionKey{{WorkspaceID: args[0], Tool: args[1]}}, nil
	}
	if a.db == nil {
		return nil, fmt.Errorf("watching all sessions needs storage; pass <workspace> <tool> instead")
	}
	rows, err := a.db.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no sessions in the registry")
	}
	keys := make([]session.SessionKey, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, session.SessionKey{WorkspaceID: r.Workspace, Tool: r.Tool})
	}
	return keys, nil
}

func watchLoop(ctx context.Context, w io.Writer, mgr *session.Manager, keys []session.SessionKey, interval time.Duration) error {
	last := make(map[session.SessionKey]string, len(keys))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for _, r := range mgr.StatusAll(ctx, keys) {
			if line, changed := transition(last, r); changed {
				fmt.Fprintf(w, "%s  %s\n", time.Now().Format(time.TimeOnly), line)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// transition records r in last and reports whether it differs from the
// previous poll of the same key.
func transition(last map[session.SessionKey]string, r session.StatusResult) (string, bool) {
	var state, line string
	if r.Err != nil {
		state = "error: " + r.Err.Error()
		line = fmt.Sprintf("%s  %s", r.Key, state)
	} else {
		d := r.Descriptor
		state = string(d.Status) + "/" + string(d.Reason)
		line = fmt.Sprintf("%s  %s (%s, %s)", r.Key, d.Status, d.Confidence, d.Reason)
		if d.Status == tmux.StatusWaiting && d.Question != "" {
			line += "  " + d.Question
		}
	}
	if prev, ok := last[r.Key]; ok && prev == state {
		return "", false
	}
	last[r.Key] = state
	return line, true
}

func applyConfigChanges(ctx context.Context, w *session.ConfigWatcher, mgr *session.Manager) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-w.Changes():
			if !ok {
				return
			}
			mgr.SetTools(cfg)
			cliLog.Info("config_reloaded", slog.Int("tools", len(cfg.ToolNames())))
		}
	}
}

// dumpOnSignal writes the log ring buffer to a file on SIGUSR1.
func dumpOnSignal(ctx context.Context) {
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-usr1:
			dir, err := session.AgentPaneDir()
			if err != nil {
				continue
			}
			path := filepath.Join(dir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(path); err != nil {
				cliLog.Error("crash_dump_failed", slog.String("error", err.Error()))
			} else {
				cliLog.Info("crash_dump_written", slog.String("path", path))
			}
		}
	}
}
