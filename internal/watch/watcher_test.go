package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func startWatcher(t *testing.T, cfg Config) (*Watcher, chan []string) {
	t.Helper()
	got := make(chan []string, 16)
	cfg.OnChange = func(names []string) { got <- names }
	if cfg.BatchDelay == 0 {
		cfg.BatchDelay = 20 * time.Millisecond
	}

	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
	})

	select {
	case <-w.Ready():
	case err := <-errc:
		t.Fatalf("Start() error = %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher not ready")
	}
	return w, got
}

func waitBatch(t *testing.T, got chan []string) []string {
	t.Helper()
	select {
	case names := <-got:
		return names
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
		return nil
	}
}

// waitFor reads batches until one names want.
func waitFor(t *testing.T, got chan []string, want string) {
	t.Helper()
	for {
		for _, name := range waitBatch(t, got) {
			if name == want {
				return
			}
		}
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(Config{OnChange: func([]string) {}}); err == nil {
		t.Error("expected error without path")
	}
	if _, err := New(Config{Path: t.TempDir()}); err == nil {
		t.Error("expected error without callback")
	}
}

func TestWatcher_ReportsChanges(t *testing.T) {
	dir := t.TempDir()
	w, got := startWatcher(t, Config{Path: dir})

	for _, name := range []string{"dbn", "ubm", ".tmp"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	seen := map[string]bool{}
	for len(seen) < 2 {
		for _, name := range waitBatch(t, got) {
			seen[name] = true
		}
	}
	if !seen["dbn"] || !seen["ubm"] || seen[".tmp"] {
		t.Errorf("reported %v", seen)
	}

	if err := os.Remove(filepath.Join(dir, "dbn")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, got, "dbn")

	if n, last := w.Stats(); n < 3 || last.IsZero() {
		t.Errorf("Stats() = %d, %v", n, last)
	}
}

func TestWatcher_Accept(t *testing.T) {
	dir := t.TempDir()
	_, got := startWatcher(t, Config{
		Path:   dir,
		Accept: func(name string) bool { return strings.HasPrefix(name, "keep") },
	})

	for _, name := range []string{"drop", "keep-1"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range waitBatch(t, got) {
		if name != "keep-1" {
			t.Errorf("reported filtered name %q", name)
		}
	}
}

func TestWatcher_CreatesDirectoryAndStops(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	w, err := New(Config{Path: dir, OnChange: func([]string) {}})
	if err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() { errc <- w.Start(context.Background()) }()
	<-w.Ready()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("watch directory not created: %v", err)
	}

	w.Stop()
	w.Stop()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Start() after Stop error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
