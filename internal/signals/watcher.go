// Package signals lets another process cancel an in-flight run by dropping
// a file into .taskloom/signals.
package signals

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CancelFile is the signal file name that cancels the current run.
const CancelFile = "cancel"

// ErrCancelSignal is the cause of a context cancelled by the signal file.
var ErrCancelSignal = errors.New("cancel signal received")

// Watcher watches the signals directory for a cancel file.
type Watcher struct {
	dir string

	mu        sync.Mutex
	cancelled bool
	reason    string
	listeners []func(reason string)

	watcher *fsnotify.Watcher
	done    chan struct{}
	closed  sync.Once
}

// Dir returns the signals directory under baseDir.
func Dir(baseDir string) string {
	return filepath.Join(baseDir, ".taskloom", "signals")
}

// New creates a Watcher for the signals directory under baseDir. When the
// platform watcher is unavailable, Cancelled still works by polling the file.
func New(baseDir string) (*Watcher, error) {
	dir := Dir(baseDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	w := &Watcher{
		dir:  dir,
		done: make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[signals] file watcher unavailable, polling only: %v", err)
		return w, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		log.Printf("[signals] cannot watch %s, polling only: %v", dir, err)
		return w, nil
	}
	w.watcher = watcher

	go w.watch()
	return w, nil
}

func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != CancelFile {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			// Late events for a file removed by Clear are ignored.
			if _, err := os.Stat(event.Name); err == nil {
				w.trigger(w.readReason())
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[signals] watcher error: %v", err)
		}
	}
}

func (w *Watcher) readReason() string {
	data, err := os.ReadFile(filepath.Join(w.dir, CancelFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (w *Watcher) trigger(reason string) {
	w.mu.Lock()
	if w.cancelled {
		// A Create event can arrive before the reason is written.
		if reason != "" {
			w.reason = reason
		}
		w.mu.Unlock()
		return
	}
	w.cancelled = true
	w.reason = reason
	listeners := w.listeners
	w.listeners = nil
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(reason)
	}
}

// Cancelled reports whether a cancel signal has been seen, and its reason.
func (w *Watcher) Cancelled() (bool, string) {
	// Also check the file directly in case the watcher missed it
	if _, err := os.Stat(filepath.Join(w.dir, CancelFile)); err == nil {
		w.trigger(w.readReason())
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelled, w.reason
}

// WithCancelSignal returns a context that is cancelled with ErrCancelSignal
// when the cancel file appears. A file already present cancels it at once.
func (w *Watcher) WithCancelSignal(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)

	w.mu.Lock()
	if w.cancelled {
		w.mu.Unlock()
		cancel(ErrCancelSignal)
		return ctx, func() { cancel(context.Canceled) }
	}
	w.listeners = append(w.listeners, func(string) { cancel(ErrCancelSignal) })
	w.mu.Unlock()

	if ok, _ := w.Cancelled(); ok {
		cancel(ErrCancelSignal)
	}

	if w.watcher == nil {
		go w.poll(ctx)
	}
	return ctx, func() { cancel(context.Canceled) }
}

func (w *Watcher) poll(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			if ok, _ := w.Cancelled(); ok {
				return
			}
		}
	}
}

// SendCancel writes the cancel file with reason as its content.
func (w *Watcher) SendCancel(reason string) error {
	return SendCancel(filepath.Dir(filepath.Dir(w.dir)), reason)
}

// SendCancel writes the cancel file under baseDir without a running Watcher.
func SendCancel(baseDir, reason string) error {
	dir := Dir(baseDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if reason == "" {
		reason = "cancelled at " + time.Now().Format(time.RFC3339)
	}
	return os.WriteFile(filepath.Join(dir, CancelFile), []byte(reason), 0644)
}

// Clear removes the cancel file and resets the signal state.
func (w *Watcher) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cancelled = false
	w.reason = ""
	os.Remove(filepath.Join(w.dir, CancelFile))
}

// Close stops watching.
func (w *Watcher) Close() {
	w.closed.Do(func() {
		close(w.done)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}
