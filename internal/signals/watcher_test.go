package signals

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newWatcher(t *testing.T) (*Watcher, string) {
	t.Helper()
	base := t.TempDir()
	w, err := New(base)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(w.Close)
	return w, base
}

func TestWatcher_CancelsContext(t *testing.T) {
	w, base := newWatcher(t)

	ctx, cancel := w.WithCancelSignal(context.Background())
	defer cancel()

	if ok, _ := w.Cancelled(); ok {
		t.Fatal("cancelled before any signal")
	}
	if err := SendCancel(base, "user pressed stop"); err != nil {
		t.Fatalf("SendCancel failed: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context was not cancelled by the signal file")
	}
	if !errors.Is(context.Cause(ctx), ErrCancelSignal) {
		t.Errorf("cause = %v, want ErrCancelSignal", context.Cause(ctx))
	}

	ok, reason := w.Cancelled()
	if !ok || reason != "user pressed stop" {
		t.Errorf("Cancelled = %v, %q", ok, reason)
	}
}

func TestWatcher_ExistingFileCancelsImmediately(t *testing.T) {
	base := t.TempDir()
	if err := SendCancel(base, ""); err != nil {
		t.Fatal(err)
	}
	w, err := New(base)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ctx, cancel := w.WithCancelSignal(context.Background())
	defer cancel()
	if ctx.Err() == nil {
		t.Error("context should be cancelled by a pre-existing signal file")
	}
}

func TestWatcher_Clear(t *testing.T) {
	w, _ := newWatcher(t)
	if err := w.SendCancel("stop"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := w.Cancelled(); !ok {
		t.Fatal("expected cancelled")
	}

	w.Clear()
	if _, err := os.Stat(filepath.Join(w.dir, CancelFile)); !os.IsNotExist(err) {
		t.Errorf("cancel file still present: %v", err)
	}
	if ok, _ := w.Cancelled(); ok {
		t.Error("still cancelled after Clear")
	}
}

func TestWatcher_CancelFuncDoesNotSignal(t *testing.T) {
	w, _ := newWatcher(t)
	ctx, cancel := w.WithCancelSignal(context.Background())
	cancel()

	if errors.Is(context.Cause(ctx), ErrCancelSignal) {
		t.Error("plain cancel reported as a signal")
	}
	if ok, _ := w.Cancelled(); ok {
		t.Error("plain cancel marked the watcher cancelled")
	}
}
