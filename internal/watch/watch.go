// Package watch re-applies the rack configuration when its manifest changes.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/h3ow3d/rackcfg/internal/log"
)

// DefaultDebounce is the quiet period after the last change before the
// apply callback runs.
const DefaultDebounce = 500 * time.Millisecond

// Watcher calls an apply function whenever the manifest file is written or
// replaced.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	apply    func() error
	debounce time.Duration

	mu sync.Mutex // serializes apply
}

// New watches the directory containing path, so editors that replace the
// file by rename are also seen.
func New(path string, apply func() error) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}
	return &Watcher{watcher: w, path: abs, apply: apply, debounce: DefaultDebounce}, nil
}

// SetDebounce overrides the quiet period.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounce = d }

// Run watches for changes until ctx is cancelled. Apply failures are
// logged; the watcher keeps running.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var (
		debounce *time.Timer
		wg       sync.WaitGroup
	)
	stop := func() {
		if debounce != nil && debounce.Stop() {
			wg.Done()
		}
		wg.Wait()
	}

	for {
		select {
		case <-ctx.Done():
			stop()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				stop()
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			log.Debug("manifest changed", zap.String("event", event.Op.String()))
			if debounce != nil && debounce.Stop() {
				wg.Done()
			}
			wg.Add(1)
			debounce = time.AfterFunc(w.debounce, func() {
				defer wg.Done()
				w.mu.Lock()
				defer w.mu.Unlock()
				if err := w.apply(); err != nil {
					log.Error("re-apply failed", zap.Error(err))
					return
				}
				log.Ok("manifest re-applied")
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				stop()
				return nil
			}
			log.Error("file watcher error", zap.Error(err))
		}
	}
}
