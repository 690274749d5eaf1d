package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces bursts of events from editors that write a file
// in several steps.
const reloadDebounce = 100 * time.Millisecond

// WatchOption configures Watch.
type WatchOption func(*watchOptions)

type watchOptions struct {
	log *slog.Logger
}

// WithWatchLogger sets the logger for watcher errors and reloads. The
// default discards everything.
func WithWatchLogger(l *slog.Logger) WatchOption {
	return func(o *watchOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// Watch reloads the catalog from dir whenever a rule file in it is created,
// written, renamed or removed. onReload, if non-nil, is called after every
// reload attempt with its error; a failed reload keeps the previous rules.
// Watch blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context, dir string, onReload func(error), opts ...WatchOption) error {
	o := watchOptions{log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	timer := time.NewTimer(reloadDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isRuleFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(reloadDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			o.log.Warn("rules.watch.error", slog.String("dir", dir), slog.String("err", err.Error()))
		case <-timer.C:
			err := c.Load(dir)
			if err != nil {
				o.log.Debug("rules.watch.reload", slog.String("dir", dir), slog.String("err", err.Error()))
			} else {
				o.log.Debug("rules.watch.reload", slog.String("dir", dir), slog.Int("count", len(c.Rules())))
			}
			if onReload != nil {
				onReload(err)
			}
		}
	}
}
