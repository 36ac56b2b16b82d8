package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	orig := debounceDelay
	debounceDelay = 20 * time.Millisecond
	defer func() { debounceDelay = orig }()

	dir := t.TempDir()
	path := filepath.Join(dir, "ruleset.conf")
	if err := os.WriteFile(path, []byte("policy keep\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, testBuilders())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if w.Current().DefaultUser != "" {
		t.Fatalf("unexpected DefaultUser on initial load: %q", w.Current().DefaultUser)
	}

	if err := os.WriteFile(path, []byte("policy keep\ndefault-user carol\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Current().DefaultUser == "carol" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("ruleset was not reloaded, DefaultUser = %q", w.Current().DefaultUser)
}
