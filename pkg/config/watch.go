package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDelay debounces bursts of file events into one reload.
const DefaultReloadDelay = 500 * time.Millisecond

// Watcher reloads a configuration file when it changes.
type Watcher struct {
	path   string
	delay  time.Duration
	apply  func(*Config) error
	logger zerolog.Logger
	fsw    *fsnotify.Watcher
}

// Watch starts watching path and calls apply with every successfully loaded
// revision. Invalid revisions are logged and skipped. Watching stops when ctx
// is cancelled.
func Watch(ctx context.Context, path string, logger zerolog.Logger, apply func(*Config) error) (*Watcher, error) {
	return watch(ctx, path, DefaultReloadDelay, logger, apply)
}

func watch(ctx context.Context, path string, delay time.Duration, logger zerolog.Logger, apply func(*Config) error) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory so editors that replace the file are seen.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	w := &Watcher{
		path:   filepath.Clean(path),
		delay:  delay,
		apply:  apply,
		logger: logger.With().Str("component", "config-watcher").Logger(),
		fsw:    fsw,
	}
	go w.processEvents(ctx)

	w.logger.Info().Str("path", path).Msg("Started watching config")
	return w, nil
}

// processEvents processes file system events and triggers reloads.
func (w *Watcher) processEvents(ctx context.Context) {
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			_ = w.fsw.Close()
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Config file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(w.delay, func() {
				if ctx.Err() != nil {
					return
				}
				if err := w.reload(); err != nil {
					w.logger.Error().Err(err).Msg("Failed to reload config")
				}
			})

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	if err := w.apply(cfg); err != nil {
		return fmt.Errorf("failed to apply reloaded config: %w", err)
	}
	w.logger.Info().Int("action_overrides", len(cfg.Actions)).Msg("Config reloaded")
	return nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
