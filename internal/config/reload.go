package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roninproxy/ronin/internal/audit"
)

// reloadDebounce coalesces the burst of fsnotify events an editor fires on
// a single save into one reload attempt.
const reloadDebounce = 100 * time.Millisecond

// Reloader watches a config file and emits each successfully loaded Config
// on a channel. Reloads trigger on file changes (fsnotify) and on SIGHUP;
// failures are reported through the audit logger and leave the previous
// config in effect.
type Reloader struct {
	path      string
	log       *audit.Logger
	updates   chan *Config
	done      chan struct{}
	closeOnce sync.Once
}

// NewReloader creates a reloader for the config file at path, reporting
// reload failures through log (nil means discard). Start must be called to
// begin watching.
func NewReloader(path string, log *audit.Logger) *Reloader {
	if log == nil {
		log = audit.NewNop()
	}
	return &Reloader{
		path:    path,
		log:     log,
		updates: make(chan *Config, 1),
		done:    make(chan struct{}),
	}
}

// Changes returns the channel that receives each successfully reloaded config.
func (r *Reloader) Changes() <-chan *Config {
	return r.updates
}

// Start watches the config file and listens for SIGHUP. It blocks until ctx
// is cancelled or Close is called, then closes the updates channel.
func (r *Reloader) Start(ctx context.Context) error {
	defer close(r.updates)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory (not the file) so we catch editors that
	// write-to-temp-then-rename (vim, sed -i, etc.).
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("watching directory %s: %w", filepath.Dir(r.path), err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	// Debounce timer; nil until a relevant event arrives.
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if r.touchesConfig(event) {
				pending = time.After(reloadDebounce)
			}
		case <-pending:
			pending = nil
			r.reload()
		case <-sigCh:
			r.reload()
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Non-fatal; note it and keep watching.
			r.log.LogConfigReload("watch_error", werr.Error())
		}
	}
}

// touchesConfig reports whether a watcher event is a write, create, or
// rename of the watched config file. Other files in the directory and
// chmod-only events are ignored.
func (r *Reloader) touchesConfig(event fsnotify.Event) bool {
	if filepath.Base(event.Name) != filepath.Base(r.path) {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

// reload loads and validates the config file, sending the result to the
// updates channel. Failures go to the audit log; the consumer keeps running
// on its previous config.
func (r *Reloader) reload() {
	cfg, err := Load(r.path)
	if err != nil {
		r.log.LogConfigReload("failed", err.Error())
		return
	}

	// Non-blocking send: if the consumer hasn't drained the last reload,
	// drop this one (it will be superseded by the next change anyway).
	select {
	case r.updates <- cfg:
	default:
	}
}

// Close stops the reloader. Safe to call multiple times.
func (r *Reloader) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}
