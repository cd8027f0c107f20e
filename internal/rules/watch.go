package rules

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow batches rapid successive filesystem events (editors that
// write-then-rename, or multiple files touched by one save) into a single
// reparse pass per path.
const debounceWindow = 500 * time.Millisecond

// Watch starts a recursive filesystem watch over the loader's root
// directory. Writes/creates reparse the touched file and upsert it;
// removes drop it from the maps. Parse errors are logged and the prior
// version of the affected document is retained. Watch blocks until ctx is
// cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dirs, err := watchableDirs(l.dir)
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if err := watcher.Add(d); err != nil {
			return err
		}
	}

	pending := make(map[string]bool)
	timer := time.NewTimer(debounceWindow)
	if !timer.Stop() {
		<-timer.C
	}
	timerRunning := false

	flush := func() {
		for path := range pending {
			if skip, _ := skipPath(path); skip {
				continue
			}
			if _, statErr := os.Stat(path); statErr != nil {
				l.removePath(path)
				continue
			}
			if err := l.upsertPath(path); err != nil {
				l.log.WithError(err).WithField("path", path).Warn("rule document reload failed, keeping prior version")
			}
		}
		pending = make(map[string]bool)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending[event.Name] = true
			if !timerRunning {
				timer.Reset(debounceWindow)
				timerRunning = true
			}
		case <-timer.C:
			timerRunning = false
			flush()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.WithError(err).Warn("rule directory watch error")
		}
	}
}

// watchableDirs lists root and every subdirectory beneath it, since
// fsnotify watches are non-recursive.
func watchableDirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs, err
}
