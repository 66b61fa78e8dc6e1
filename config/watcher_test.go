package config

import (
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const watcherTestYAML = `
server:
  addr: ":8080"
billing:
  enabled: false
`

const watcherTestYAMLv2 = `
server:
  addr: ":8080"
billing:
  enabled: true
  stripe:
    api_key: sk_test_rotated
`

func writeWatched(t *testing.T, content string) string {
	t.Helper()
	fp := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(fp, []byte(content), 0644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}
	return fp
}

func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestWatcher_DetectsChange(t *testing.T) {
	fp := writeWatched(t, watcherTestYAML)

	var called atomic.Int32
	var mu sync.Mutex
	var lastEvt ChangeEvent

	w := NewWatcher(fp, nil, func(evt ChangeEvent) {
		mu.Lock()
		lastEvt = evt
		mu.Unlock()
		called.Add(1)
	}, WithWatchDebounce(50*time.Millisecond))

	if err := w.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(fp, []byte(watcherTestYAMLv2), 0644); err != nil {
		t.Fatalf("write updated config: %v", err)
	}

	if !waitFor(func() bool { return called.Load() > 0 }, 2*time.Second) {
		t.Fatal("onChange was not called after file modification")
	}

	mu.Lock()
	evt := lastEvt
	mu.Unlock()

	if evt.Config == nil || !evt.Config.Billing.Enabled {
		t.Fatalf("event config = %+v", evt.Config)
	}
	if evt.OldHash == evt.NewHash {
		t.Error("expected old and new hashes to differ")
	}
	if !slices.Equal(evt.Changed, []string{"billing"}) {
		t.Errorf("changed = %v, want [billing]", evt.Changed)
	}
}

func TestWatcher_DebounceMultipleWrites(t *testing.T) {
	fp := writeWatched(t, watcherTestYAML)

	var called atomic.Int32
	w := NewWatcher(fp, nil, func(ChangeEvent) { called.Add(1) }, WithWatchDebounce(200*time.Millisecond))
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })

	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(fp, []byte(watcherTestYAMLv2), 0644); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(600 * time.Millisecond)

	// Identical rewrites after the first reload hash the same, so exactly
	// one event is expected.
	if got := called.Load(); got != 1 {
		t.Errorf("onChange calls = %d, want 1", got)
	}
}

func TestWatcher_SkipUnchangedContent(t *testing.T) {
	fp := writeWatched(t, watcherTestYAML)

	var called atomic.Int32
	w := NewWatcher(fp, nil, func(ChangeEvent) { called.Add(1) }, WithWatchDebounce(50*time.Millisecond))
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })

	time.Sleep(100 * time.Millisecond)
	// Same values, different formatting.
	if err := os.WriteFile(fp, []byte("billing:\n  enabled: false\nserver:\n  addr: \":8080\"\n"), 0644); err != nil {
		t.Fatalf("rewrite same content: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if called.Load() != 0 {
		t.Errorf("expected no onChange for equivalent content, got %d calls", called.Load())
	}
}

func TestWatcher_InvalidEditIsIgnored(t *testing.T) {
	fp := writeWatched(t, watcherTestYAML)

	var called atomic.Int32
	w := NewWatcher(fp, nil, func(ChangeEvent) { called.Add(1) }, WithWatchDebounce(50*time.Millisecond))
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })

	time.Sleep(100 * time.Millisecond)
	// Enabling billing without a key fails validation.
	if err := os.WriteFile(fp, []byte("billing:\n  enabled: true\n"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	if called.Load() != 0 {
		t.Errorf("invalid config should not be reported, got %d calls", called.Load())
	}
}

func TestWatcher_StartFailsOnInvalidFile(t *testing.T) {
	fp := writeWatched(t, "billing: [unclosed")
	w := NewWatcher(fp, nil, func(ChangeEvent) {})
	if err := w.Start(); err == nil {
		_ = w.Stop()
		t.Fatal("expected initial load error")
	}
}

func TestWatcher_StopCleanup(t *testing.T) {
	fp := writeWatched(t, watcherTestYAML)

	w := NewWatcher(fp, Default(), func(ChangeEvent) {}, WithWatchDebounce(50*time.Millisecond))
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- w.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop() returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() timed out, possible goroutine leak")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() returned error: %v", err)
	}
}
