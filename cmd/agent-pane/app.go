package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/asheshgoplani/agent-pane/internal/logging"
	"github.com/asheshgoplani/agent-pane/internal/session"
	"github.com/asheshgoplani/agent-pane/internal/statedb"
	"github.com/asheshgoplani/agent-pane/internal/tmux"
)

// launchRetention is how long launch records are kept in the registry.
const launchRetention = 30 * 24 * time.Hour

// app is the wiring a tmux-facing command needs.
type app struct {
	cfg    *session.UserConfig
	client *tmux.Client
	db     *statedb.StateDB
	mgr    *session.Manager
}

func (c *cli) openApp(ctx context.Context) *app {
	a := &app{cfg: c.cfg, client: c.cfg.TmuxClient()}

	opts := []session.ManagerOption{
		session.WithOptions(c.cfg.ManagerOptions()),
		session.WithTools(c.cfg),
	}
	db, err := openRegistry(ctx, c.cfg)
	if err != nil {
		logging.ForComponent(logging.CompStorage).Warn("registry_unavailable", slog.String("error", err.Error()))
	} else if db != nil {
		a.db = db
		opts = append(opts, session.WithRegistry(db))
	}

	a.mgr = session.NewManager(a.client, c.cfg.WorkspaceDirs(), opts...)
	return a
}

// openRegistry opens the session registry, or returns nil when storage is disabled.
func openRegistry(ctx context.Context, cfg *session.UserConfig) (*statedb.StateDB, error) {
	path, err := cfg.StoragePath()
	if err != nil || path == "" {
		return nil, err
	}
	db, err := statedb.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if n, err := db.PruneLaunches(ctx, time.Now().Add(-launchRetention)); err == nil && n > 0 {
		logging.ForComponent(logging.CompStorage).Debug("launches_pruned", slog.Int64("count", n))
	}
	return db, nil
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}
