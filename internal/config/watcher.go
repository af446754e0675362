package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	. "github.com/roelfdiedericks/voxledger/internal/logging"
)

// reloadDebounce collapses the burst of events an editor save produces.
const reloadDebounce = 300 * time.Millisecond

// Watcher reloads the config file when it changes.
type Watcher struct {
	path     string
	onChange func(*Config)
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
}

// NewWatcher creates a watcher for path. onChange receives every config that
// loads and validates; broken edits are logged and skipped.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     path,
		onChange: onChange,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start watches the file's directory, since editors often replace the file
// rather than write to it.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.running = true
	L_info("config: watching for changes", "file", filepath.Base(w.path), "dir", dir)

	go w.loop(ctx)
	return nil
}

// Stop stops watching.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stopCh)
	w.watcher.Close()
	w.running = false
	L_debug("config: watcher stopped")
}

func (w *Watcher) loop(ctx context.Context) {
	target := filepath.Base(w.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			L_trace("config: file event", "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			L_warn("config: watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, _, err := Load(w.path)
	if err != nil {
		L_warn("config: reload failed, keeping current config", "error", err)
		return
	}
	L_info("config: reloaded", "path", w.path)
	w.onChange(cfg)
}
