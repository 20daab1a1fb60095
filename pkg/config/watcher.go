package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// SettingsWatcher keeps an in-memory copy of settings.json current with the
// file on disk. The watch covers the parent directory because most editors
// replace the file via rename rather than writing in place.
type SettingsWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Settings)

	mu      sync.RWMutex
	current *Settings

	closeOnce sync.Once
	done      chan struct{}
}

// NewSettingsWatcher loads path and starts watching it for changes. onChange
// may be nil; when set it is called with each freshly loaded snapshot.
func NewSettingsWatcher(path string, onChange func(*Settings)) (*SettingsWatcher, error) {
	initial, err := LoadSettings(path)
	if err != nil {
		// A corrupt file should not keep the process from starting.
		initial = &Settings{}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &SettingsWatcher{
		path:     filepath.Clean(path),
		watcher:  fw,
		onChange: onChange,
		current:  initial,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Current returns the latest settings snapshot. Never nil.
func (w *SettingsWatcher) Current() *Settings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the watcher.
func (w *SettingsWatcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
	})
	return w.watcher.Close()
}

func (w *SettingsWatcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *SettingsWatcher) reload() {
	loaded, err := LoadSettings(w.path)
	if err != nil {
		// Keep the previous snapshot on a parse failure; the file may be
		// mid-write.
		return
	}

	w.mu.Lock()
	w.current = loaded
	w.mu.Unlock()

	if w.onChange != nil {
		w.onChange(loaded)
	}
}
