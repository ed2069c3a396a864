package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Config from its source file whenever fsnotify reports
// a write, exposing the latest value through Current. Grounded on the
// teacher's go.mod dependency on fsnotify (declared but unwired in the
// teacher's own config package); here it backs hot-reload of run defaults
// without restarting an in-flight CLI process.
type Watcher struct {
	path string

	mu      sync.RWMutex
	current Config

	watcher  *fsnotify.Watcher
	onChange func(Config)
	stop     chan struct{}
}

// SetOnChange replaces the callback invoked after each successful reload.
// Safe to call after NewWatcher, once the caller has collaborators (such as
// a logger built from the initial Config) that the callback itself depends
// on.
func (w *Watcher) SetOnChange(onChange func(Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = onChange
}

// NewWatcher loads path once and begins watching it for writes. onChange,
// if non-nil, is invoked with each successfully reloaded Config.
func NewWatcher(path string, onChange func(Config)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if path != "" {
		if err := fw.Add(path); err != nil {
			fw.Close()
			return nil, fmt.Errorf("config: watch %s: %w", path, err)
		}
	}

	w := &Watcher{
		path:     path,
		current:  cfg,
		watcher:  fw,
		onChange: onChange,
		stop:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				continue
			}
			w.mu.Lock()
			w.current = cfg
			onChange := w.onChange
			w.mu.Unlock()
			if onChange != nil {
				onChange(cfg)
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-w.stop:
			return
		}
	}
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the watcher and releases its fsnotify handle.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.watcher.Close()
}
