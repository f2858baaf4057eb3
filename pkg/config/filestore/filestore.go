// Package filestore is the YAML file backend of the configuration store.
package filestore

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/lsst-camera-dh/jh-ccs-utils/internal/lg"
	"github.com/lsst-camera-dh/jh-ccs-utils/pkg/config/configstore"
)

var _ configstore.Store = (*FileStore)(nil)

// FileStore persists configuration as a YAML file. Saves go through a
// temp file and an atomic rename so a watcher never observes a partial
// write.
type FileStore struct {
	Path   string
	logger lg.Logger
}

// New builds a store over the given path. A nil logger discards watch
// diagnostics.
func New(path string, logger lg.Logger) *FileStore {
	if logger == nil {
		logger = lg.Discard
	}
	return &FileStore{Path: path, logger: logger}
}

// Load reads and unmarshals the file into out.
func (f *FileStore) Load(out any) error {
	if out == nil {
		return fmt.Errorf("filestore: load target must not be nil")
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("filestore: read %s: %w", f.Path, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("filestore: %s is empty", f.Path)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("filestore: parse %s: %w", f.Path, err)
	}
	return nil
}

// Save marshals in and replaces the file atomically.
func (f *FileStore) Save(in any) error {
	if in == nil {
		return fmt.Errorf("filestore: save input must not be nil")
	}
	data, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("filestore: marshal: %w", err)
	}
	tmpPath := f.Path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("filestore: write %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, f.Path); err != nil {
		return fmt.Errorf("filestore: replace %s: %w", f.Path, err)
	}
	return nil
}

// Watch invokes onChange whenever the file is rewritten. The watcher
// goroutine runs until the underlying watcher is torn down with the
// process.
func (f *FileStore) Watch(onChange func()) error {
	if onChange == nil {
		return fmt.Errorf("filestore: onChange callback must not be nil")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("filestore: create watcher: %w", err)
	}
	if err := watcher.Add(f.Path); err != nil {
		watcher.Close()
		return fmt.Errorf("filestore: watch %s: %w", f.Path, err)
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.logger.Warn("config watch error",
					lg.String("path", f.Path), lg.Err(err))
			}
		}
	}()
	return nil
}
