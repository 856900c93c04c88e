// pattern: Imperative Shell

package workspace

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"benchtree/internal/logging"
)

// Watch observes the directories where worktrees live and invokes onDrift
// after out-of-band creation or removal settles, so a long-lived caller can
// reconcile the store with a Sync. Events are debounced: bursts from a
// single `git worktree add` collapse into one callback.
func Watch(ctx context.Context, dirs []string, debounce time.Duration, log *logging.ScopedLogger, onDrift func()) error {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return err
		}
		log.Debug("watching", "dir", dir)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug("worktree drift event", "op", event.Op.String(), "path", event.Name)
			if timer == nil {
				timer = time.NewTimer(debounce)
				fire = timer.C
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "error", err)
		case <-fire:
			timer = nil
			fire = nil
			onDrift()
		}
	}
}
