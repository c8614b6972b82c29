package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/asheshgoplani/agent-pane/internal/logging"
	"github.com/asheshgoplani/agent-pane/internal/platform"
)

var configLog = logging.ForComponent(logging.CompConfig)

// configDebounce coalesces the bursts of events editors produce on save.
const configDebounce = 150 * time.Millisecond

// ConfigWatcher reloads config.toml when it changes on disk and delivers
// the new config on a channel.
type ConfigWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	changeCh chan *UserConfig
	warning  string

	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// WatchUserConfig starts watching the user config file. The directory is
// watched rather than the file so that atomic renames are seen.
func WatchUserConfig(ctx context.Context) (*ConfigWatcher, error) {
	path, err := GetUserConfigPath()
	if err != nil {
		return nil, err
	}
	return watchConfigFile(ctx, path)
}

func watchConfigFile(parent context.Context, path string) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(parent)
	cw := &ConfigWatcher{
		path:     path,
		watcher:  w,
		changeCh: make(chan *UserConfig, 1),
		warning:  platform.CheckFsnotifySupport(dir),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if cw.warning != "" {
		configLog.Warn("config_watch_unreliable", slog.String("dir", dir), slog.String("warning", cw.warning))
	}
	go cw.loop(ctx)
	return cw, nil
}

func (cw *ConfigWatcher) loop(ctx context.Context) {
	defer close(cw.done)

	var debounce *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(cw.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(configDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			cw.reload()

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			configLog.Warn("config_watch_error", slog.String("error", err.Error()))
		}
	}
}

func (cw *ConfigWatcher) reload() {
	cfg, err := ReloadUserConfig()
	if err != nil {
		configLog.Warn("config_reload_failed", slog.String("path", cw.path), slog.String("error", err.Error()))
		return
	}
	configLog.Info("config_reloaded", slog.String("path", cw.path))

	// Keep only the newest config if the consumer lags behind.
	select {
	case <-cw.changeCh:
	default:
	}
	select {
	case cw.changeCh <- cfg:
	default:
	}
}

// Changes delivers every successfully reloaded config.
func (cw *ConfigWatcher) Changes() <-chan *UserConfig {
	return cw.changeCh
}

// Warning is non-empty when the filesystem may not deliver change events.
func (cw *ConfigWatcher) Warning() string {
	return cw.warning
}

// Close stops the watcher. Safe to call multiple times.
func (cw *ConfigWatcher) Close() error {
	var err error
	cw.closeOnce.Do(func() {
		cw.cancel()
		<-cw.done
		err = cw.watcher.Close()
	})
	return err
}
