package registry

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/goatkit/pluginhost/internal/dynlib"
)

// Watcher watches a plugin directory for artifact changes and invokes
// onChange with the discovered plugin name, debounced the way
// internal/plugin/loader/loader.go debounces rapid file events.
type Watcher struct {
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	mu       sync.Mutex
	debounce map[string]*time.Timer
}

// WatchDirectory starts watching dir for create/write events on files
// matching the host's shared-library extension. onChange is called
// (from a background goroutine) with the recovered plugin name once
// debounceFor has elapsed without a further event for that file.
// It always starts a watch; callers gate the call itself behind
// hostconfig.Config.HotReloadEnabled.
func WatchDirectory(dir string, debounceFor time.Duration, onChange func(name string)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	watch := &Watcher{watcher: w, cancel: cancel, debounce: make(map[string]*time.Timer)}

	go watch.loop(ctx, dir, debounceFor, onChange)
	return watch, nil
}

func (w *Watcher) loop(ctx context.Context, dir string, debounceFor time.Duration, onChange func(name string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			base := filepath.Base(ev.Name)
			if !dynlib.HasArtifactExtension(base) {
				continue
			}
			name, ok := dynlib.NameFromArtifact(base)
			if !ok {
				continue
			}
			w.scheduleFire(name, debounceFor, onChange)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) scheduleFire(name string, debounceFor time.Duration, onChange func(name string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, exists := w.debounce[name]; exists {
		t.Stop()
	}
	w.debounce[name] = time.AfterFunc(debounceFor, func() { onChange(name) })
}

// Close stops the watch loop and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	w.cancel()
	w.mu.Lock()
	for _, t := range w.debounce {
		t.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
