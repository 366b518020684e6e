// Package config provides the dataset allow-list configuration manager for
// the ingest service, with live reloading of changes on disk.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// reservedNames are dataset names that would collide with service-owned
// tables and are silently dropped from the allow list.
var reservedNames = map[string]struct{}{
	"economic_indicators": {},
	"invalid_rows":        {},
	"schema_migrations":   {},
}

// Conf represents the structure of the configuration file.
type Conf struct {
	AllowList []string `json:"allowList"`
}

// Manager loads and watches the allow-list configuration file.
type Manager struct {
	path   string
	logger *slog.Logger

	lock      sync.RWMutex
	allowList []string
	allowSet  map[string]struct{}
}

type options struct {
	Logger *slog.Logger
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// New creates a new configuration manager for the file at path.
// The configuration is not loaded until Load or Watch is called.
func New(path string, args ...Options) *Manager {
	opts := options{
		Logger: slog.Default(),
	}
	for _, opt := range args {
		opt(&opts)
	}

	return &Manager{path: path, logger: opts.Logger}
}

// Load reads the configuration file from disk, replacing the current
// allow list. On error the previous state is cleared so a broken file cannot
// leave stale datasets active.
func (cm *Manager) Load() error {
	cm.lock.Lock()
	defer cm.lock.Unlock()

	cm.allowList = nil
	cm.allowSet = make(map[string]struct{})

	data, err := os.ReadFile(cm.path)
	if err != nil {
		return fmt.Errorf("failed to read configuration file: %v", err)
	}

	var conf Conf
	if err := json.Unmarshal(data, &conf); err != nil {
		return fmt.Errorf("failed to parse configuration file: %v", err)
	}

	for _, name := range conf.AllowList {
		if _, reserved := reservedNames[name]; reserved {
			cm.logger.Debug("Ignoring reserved dataset name in allow list", "dataset", name)
			continue
		}
		if _, ok := cm.allowSet[name]; ok {
			continue
		}
		cm.allowList = append(cm.allowList, name)
		cm.allowSet[name] = struct{}{}
	}

	return nil
}

// AllowList returns a copy of the currently allowed dataset names, in file order.
func (cm *Manager) AllowList() []string {
	cm.lock.RLock()
	defer cm.lock.RUnlock()

	list := make([]string, len(cm.allowList))
	copy(list, cm.allowList)
	return list
}

// IsAllowed returns true if the given dataset name is in the allow list.
func (cm *Manager) IsAllowed(name string) bool {
	cm.lock.RLock()
	defer cm.lock.RUnlock()

	_, ok := cm.allowSet[name]
	return ok
}

// Watch loads the configuration and then watches it for changes until the
// context is canceled.
//
// Every successful reload is signaled on the returned event channel. Watcher
// failures are reported on the error channel without stopping the watch;
// reload failures are logged and keep the watch alive. Both channels are
// closed when the watch ends.
func (cm *Manager) Watch(ctx context.Context) (<-chan struct{}, <-chan error, error) {
	if err := cm.Load(); err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %v", err)
	}
	cm.logger.Info("Configuration loaded", "path", cm.path, "datasets", len(cm.AllowList()))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create file watcher: %v", err)
	}

	// Watch the parent directory: editors and config managers commonly
	// replace the file atomically, which drops a watch set on the file itself.
	if err := watcher.Add(filepath.Dir(cm.path)); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("failed to watch configuration directory: %v", err)
	}
	cm.logger.Info("Watching configuration file", "path", cm.path)

	eventCh := make(chan struct{}, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(eventCh)
		defer close(errCh)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(cm.path) {
					continue
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}

				if err := cm.Load(); err != nil {
					cm.logger.Warn("Failed to reload configuration", "path", cm.path, "err", err)
					continue
				}
				cm.logger.Debug("Configuration reloaded", "path", cm.path)
				select {
				case eventCh <- struct{}{}:
				default: // an event is already pending
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return eventCh, errCh, nil
}
