package config

import (
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mailcore/filterd/framework/log"
	"github.com/mailcore/filterd/internal/ruleset"
)

// debounceDelay coalesces a burst of filesystem events (editors that
// rename-swap on save, e.g. vim) into a single reload.
var debounceDelay = 200 * time.Millisecond

// Watcher republishes a parsed RuleSet whenever the ruleset file's
// directory changes, without disturbing mctx instances already running
// against an older snapshot (spec.md §3 "Rules and actions are immutable
// for the process lifetime" — each mctx simply keeps the *RuleSet pointer
// it started with, and Watcher only ever swaps the pointer an atomic.Pointer
// holds, never mutates a RuleSet in place).
type Watcher struct {
	path     string
	builders Builders
	watcher  *fsnotify.Watcher

	current atomic.Pointer[ruleset.RuleSet]
}

// NewWatcher does an initial load of path and starts watching its parent
// directory (not the file itself, so editor atomic-save rename/replace
// sequences are still observed) for changes.
func NewWatcher(path string, b Builders) (*Watcher, error) {
	rs, err := Load(path, b)
	if err != nil {
		return nil, err
	}

	w := &Watcher{path: path, builders: b}
	w.current.Store(rs)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("warning: config watcher unavailable, hot-reload disabled: %v", err)
		return w, nil
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		log.Printf("warning: cannot watch %s: %v", filepath.Dir(path), err)
		fw.Close()
		return w, nil
	}
	w.watcher = fw

	go w.run()
	return w, nil
}

// Current returns the most recently published RuleSet snapshot.
func (w *Watcher) Current() *ruleset.RuleSet { return w.current.Load() }

// Reload re-reads the ruleset file immediately, for callers that trigger a
// reload out of band (e.g. SIGUSR2) rather than waiting on fsnotify.
func (w *Watcher) Reload() { w.reload() }

// Close stops the underlying fsnotify watcher, if any.
func (w *Watcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}

func (w *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("warning: config watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	rs, err := Load(w.path, w.builders)
	if err != nil {
		log.Printf("warning: config reload of %s failed, keeping previous ruleset: %v", w.path, err)
		return
	}
	w.current.Store(rs)
	log.Printf("config reloaded from %s", w.path)
}
