// Package stream serves bounded Server-Sent-Events sessions over the event
// buffer and wakes them when new events arrive.
package stream

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Hub fans a wake signal out to every open stream session. Signals are
// advisory: a session that misses one still discovers the event on its next
// poll tick.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan struct{}]struct{}
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[chan struct{}]struct{}),
		logger: logger,
	}
}

// Subscribe registers a wake channel. The returned cancel func must be
// called when the session ends.
func (h *Hub) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// Notify wakes all subscribed sessions without blocking.
func (h *Hub) Notify() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// WatchBuffer notifies the hub whenever the buffer file changes, so events
// appended by another process are picked up without waiting out the poll
// interval. Runs until ctx is cancelled.
func (h *Hub) WatchBuffer(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory: the buffer file is created lazily and replaced
	// by rename on every write.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	base := filepath.Base(path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					h.logger.Debug("buffer file changed, waking sessions")
					h.Notify()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				h.logger.Warn("buffer watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}
