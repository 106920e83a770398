package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ReloadCallback is invoked with the freshly loaded config after a file change
type ReloadCallback func(cfg *Config)

// Watcher reloads the config file when it changes on disk, so long-running
// consumers pick up rotated gateway credentials without a restart.
type Watcher struct {
	watcher            *fsnotify.Watcher
	loader             *Loader
	stabilityThreshold time.Duration
	onReload           ReloadCallback
	done               chan struct{}
	debounceTimer      *time.Timer
	debounceMu         sync.Mutex
	stopOnce           sync.Once
}

// NewWatcher creates a watcher for the loader's config path
func NewWatcher(loader *Loader, onReload ReloadCallback) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		watcher:            watcher,
		loader:             loader,
		stabilityThreshold: 200 * time.Millisecond,
		onReload:           onReload,
		done:               make(chan struct{}),
	}, nil
}

// Start starts watching the config file's directory
func (w *Watcher) Start() error {
	path := w.loader.GetConfigPath()
	if path == "" {
		return fmt.Errorf("no config path to watch")
	}

	// Watch the directory; editors replace files rather than writing in place
	if err := w.watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.eventLoop(path)

	log.Info().Str("path", path).Msg("Config watcher started")
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) eventLoop(path string) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.debounceReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")

		case <-w.done:
			return
		}
	}
}

// debounceReload coalesces rapid successive writes into one reload
func (w *Watcher) debounceReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	w.debounceTimer = time.AfterFunc(w.stabilityThreshold, func() {
		select {
		case <-w.done:
			return
		default:
		}

		cfg, err := w.loader.Load()
		if err != nil {
			log.Error().Err(err).Msg("Config reload failed")
			return
		}

		log.Info().Msg("Config reloaded")
		if w.onReload != nil {
			w.onReload(cfg)
		}
	})
}
