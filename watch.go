package deimos

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDelay = 500 * time.Millisecond

// aliasWatcher queues an out-of-band check when the active alias in binDir is
// created, removed or replaced, so a deleted binary is noticed before the
// next poll.
type aliasWatcher struct {
	watcher *fsnotify.Watcher
	alias   string
	queue   func(reason string)
}

func newAliasWatcher(binDir, tool string, queue func(string)) (*aliasWatcher, error) {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return nil, fmt.Errorf("create bin dir: %w", err)
	}
	abs, err := filepath.Abs(binDir)
	if err != nil {
		return nil, fmt.Errorf("resolve bin dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(abs); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", abs, err)
	}
	slog.Info("Watching binary directory", slog.String("dir", abs))
	return &aliasWatcher{watcher: w, alias: filepath.Join(abs, tool), queue: queue}, nil
}

func (a *aliasWatcher) Close() error {
	return a.watcher.Close()
}

func (a *aliasWatcher) run(ctx context.Context) {
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	debounce := func(reason string) {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceDelay, func() { a.queue(reason) })
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()
	for {
		select {
		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != a.alias {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				slog.Info("Active binary changed", slog.String("file", event.Name), slog.String("op", event.Op.String()))
				debounce("alias " + event.Op.String())
			}
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Watcher error", slog.String("err", err.Error()))
		case <-ctx.Done():
			return
		}
	}
}
