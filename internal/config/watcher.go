package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/jszach/conductor/internal/logging"
)

// Watcher reloads configuration when the config file changes on disk and
// notifies via callback. Invalid config file states are logged and skipped;
// the last good configuration stays in effect.
type Watcher struct {
	watcher  *fsnotify.Watcher
	file     string
	onChange func(*Config)
	log      *logging.Logger
	stopCh   chan struct{}
}

// NewWatcher creates a watcher for the given config file. The callback
// receives each successfully reloaded Config. A nil logger disables
// logging.
func NewWatcher(file string, onChange func(*Config), log *logging.Logger) (*Watcher, error) {
	if log == nil {
		log = logging.NopLogger()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	// Watch the directory; editors replace files on save and fsnotify
	// tracks renames more reliably at the directory level.
	if err := fsw.Add(filepath.Dir(file)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	return &Watcher{
		watcher:  fsw,
		file:     file,
		onChange: onChange,
		log:      log.WithComponent("config.watcher"),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	go w.watchLoop()
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
}

// watchLoop processes filesystem events with debouncing.
func (w *Watcher) watchLoop() {
	target := filepath.Base(w.file)
	debounce := time.NewTimer(0)
	<-debounce.C // drain initial timer

	for {
		select {
		case <-w.stopCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(100 * time.Millisecond)

		case <-debounce.C:
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watch error", "error", err)
		}
	}
}

// reload re-reads the config file and delivers the result when valid.
func (w *Watcher) reload() {
	if err := viper.ReadInConfig(); err != nil {
		w.log.Warn("config reload failed", "file", w.file, "error", err)
		return
	}
	cfg, err := Load()
	if err != nil {
		w.log.Warn("reloaded config is invalid, keeping previous", "file", w.file, "error", err)
		return
	}
	w.log.Info("configuration reloaded", "file", w.file)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
