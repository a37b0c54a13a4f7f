package controller

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

// watcherSettle is how long the watcher waits after the last write event
// before reading the file, so a half-written save is not imported.
const watcherSettle = 100 * time.Millisecond

// Watcher observes one document file and feeds its content to a handler on
// every external change. Editors typically replace files by rename, so the
// parent directory is watched and events filtered by name.
type Watcher struct {
	path    string
	handler func(ctx context.Context, text string) error
	logger  *slog.Logger

	fw     *fsnotify.Watcher
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher for the given file path.
func NewWatcher(path string, handler func(ctx context.Context, text string) error, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve watch path: %w", err)
	}
	return &Watcher{path: abs, handler: handler, logger: logger}, nil
}

// Start begins watching. The handler runs on the watcher goroutine; it is
// never invoked concurrently with itself.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return fmt.Errorf("watcher already started")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.fw = fw
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.loop(watchCtx)
	w.logger.Info("document watcher started", slog.String("path", w.path))
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var settle *time.Timer
	var settleC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if settle == nil {
				settle = time.NewTimer(watcherSettle)
			} else {
				settle.Reset(watcherSettle)
			}
			settleC = settle.C
		case <-settleC:
			settleC = nil
			w.notify(ctx)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) notify(ctx context.Context) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("failed to read changed document",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return
	}
	if err := w.handler(ctx, string(data)); err != nil {
		w.logger.Warn("external change rejected",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
	}
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil {
		return
	}
	w.cancel()
	_ = w.fw.Close()
	<-w.done
	w.cancel = nil
	w.done = nil
	w.logger.Info("document watcher stopped", slog.String("path", w.path))
}
