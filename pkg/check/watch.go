package check

import (
	gocontext "context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/cgast/dsverify/pkg/artifact"
	"github.com/cgast/dsverify/pkg/events"
	"github.com/cgast/dsverify/pkg/rule"
)

// DefaultDebounce is how long Watch waits for a burst of file events to settle.
const DefaultDebounce = 300 * time.Millisecond

// Watch runs the named registries once, then again whenever a directory
// holding one of their targets changes. It blocks until ctx is done.
// Directories that do not exist yet (an unbuilt dist/) are skipped.
func (r *Runner) Watch(ctx gocontext.Context, root string, names []string, debounce time.Duration, onResult func([]rule.CheckResult, error)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	for _, name := range names {
		if _, err := r.Registry(name); err != nil {
			return err
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	watched := 0
	for _, dir := range watchDirs(root, r.sortedTargets(names)) {
		if err := w.Add(dir); err != nil {
			r.log.Warn("cannot watch directory", zap.String("dir", dir), zap.Error(err))
			continue
		}
		watched++
	}
	r.log.Info("watching artifacts", zap.Int("directories", watched), zap.Strings("registries", names))

	run := func() {
		results, err := r.RunAll(ctx, names)
		if ctx.Err() != nil {
			return
		}
		onResult(results, err)
	}
	run()

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			r.events.Publish(events.NewEvent(events.EventWatchTrigger, ev.Name, ev.Op.String()))
			fire = time.After(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("watch error", zap.Error(err))
		case <-fire:
			fire = nil
			run()
		}
	}
}

// watchDirs maps targets to the directories that contain them. For globs
// this is the deepest directory without pattern characters.
func watchDirs(root string, targets []artifact.Target) []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, t := range targets {
		dir := filepath.Dir(t.String())
		for strings.ContainsAny(dir, "*?[") {
			dir = filepath.Dir(dir)
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs
}
