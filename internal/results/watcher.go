package results

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ttm-labs/ttm-orchestrator/internal/logger"
)

// ChangeCallback is called with the current loose-file count after the
// shared results root settles.
type ChangeCallback func(sharedCount int)

// Watcher monitors the shared results root so dashboards can show result
// counts without polling. Events are debounced because engines tend to
// write files in bursts.
type Watcher struct {
	manager  *Manager
	watcher  *fsnotify.Watcher
	callback ChangeCallback
	debounce time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	cancel context.CancelFunc
}

// NewWatcher creates a watcher over the manager's results root.
func NewWatcher(manager *Manager, callback ChangeCallback) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(manager.Root); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		manager:  manager,
		watcher:  fsw,
		callback: callback,
		debounce: 500 * time.Millisecond,
	}, nil
}

// Start begins watching until ctx is canceled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("results watcher error", "error", err)
			}
		}
	}()
}

// Stop stops watching and releases the underlying watcher.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()
}

// SetDebounce sets the settle window for batching bursts of file events.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !IsResultFile(event.Name) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	if w.callback == nil {
		return
	}
	w.callback(w.manager.CountShared())
}
