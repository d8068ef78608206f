// Package targetstore implements the coordinator's target configuration
// manager (spec §4.1): it loads targets.json, validates every entry,
// atomically swaps the in-memory set on success, and watches the file for
// changes with a debounced fsnotify reload. Programmatic edits (upsert,
// delete) persist back to the same file using the same atomic-write
// discipline as any other blob.
package targetstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/stormmon/storm/server/internal/blobstore"
	"github.com/stormmon/storm/shared/types"
)

// debounceWindow is the stability window spec.md §4.1/§9 requires: a burst
// of file-write events collapses into a single reload.
const debounceWindow = 300 * time.Millisecond

// Store holds the coordinator's authoritative, hot-reloadable target set.
type Store struct {
	blob   *blobstore.Store
	logger *zap.Logger

	mu      sync.RWMutex
	targets map[int]types.Target
	version time.Time // TargetSetVersion

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New loads path (creating an empty set if absent) and starts its file
// watcher. Callers must call Close on shutdown.
func New(path string, logger *zap.Logger) (*Store, error) {
	blob, err := blobstore.New(path)
	if err != nil {
		return nil, fmt.Errorf("targetstore: %w", err)
	}
	s := &Store{
		blob:    blob,
		logger:  logger.Named("targetstore"),
		targets: make(map[int]types.Target),
		done:    make(chan struct{}),
	}
	if err := s.reload(); err != nil {
		// A missing or empty file is not fatal — start with an empty set.
		s.logger.Warn("initial target load failed, starting with empty set", zap.Error(err))
	}
	if err := s.startWatch(path); err != nil {
		s.logger.Warn("config file watcher unavailable, relying on programmatic reload only", zap.Error(err))
	}
	return s, nil
}

// reload reads targets.json, validates every entry, and atomically swaps
// the in-memory set only if the whole document is valid. A failed reload
// is logged and the previous set is left in place.
func (s *Store) reload() error {
	var doc types.TargetSet
	if err := s.blob.Load(&doc); err != nil {
		return fmt.Errorf("targetstore: reload: %w", err)
	}

	byID := make(map[int]types.Target, len(doc.Targets))
	seen := make(map[int]bool, len(doc.Targets))
	for i := range doc.Targets {
		t := doc.Targets[i]
		if err := t.Validate(); err != nil {
			return fmt.Errorf("targetstore: reload: %w", err)
		}
		if seen[t.ID] {
			return fmt.Errorf("targetstore: reload: duplicate target id %d", t.ID)
		}
		seen[t.ID] = true
		byID[t.ID] = t
	}

	s.mu.Lock()
	s.targets = byID
	s.version = time.Now()
	s.mu.Unlock()
	return nil
}

// startWatch begins watching path for modifications, debouncing bursts of
// events into a single reload per spec.md §4.1.
func (s *Store) startWatch(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", path, err)
	}
	s.watcher = watcher

	go func() {
		var debounce *time.Timer
		for {
			select {
			case <-s.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceWindow, func() {
					if err := s.reload(); err != nil {
						s.logger.Warn("config reload failed, keeping previous target set", zap.Error(err))
					} else {
						s.logger.Info("target set reloaded")
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close stops the file watcher.
func (s *Store) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// List returns the current targets and the TargetSetVersion.
func (s *Store) List() ([]types.Target, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Target, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, t)
	}
	return out, s.version
}

// HasChangesSince reports whether the target set has changed since clientVersion.
func (s *Store) HasChangesSince(clientVersion time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version.After(clientVersion)
}

// Get returns a single target by id.
func (s *Store) Get(id int) (types.Target, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[id]
	return t, ok
}

// Upsert validates t and persists the updated set to disk atomically.
func (s *Store) Upsert(t types.Target) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("targetstore: upsert: %w", err)
	}

	s.mu.Lock()
	s.targets[t.ID] = t
	s.version = time.Now()
	doc := s.snapshotLocked()
	s.mu.Unlock()

	return s.persist(doc)
}

// Delete removes a target by id and persists the updated set to disk.
func (s *Store) Delete(id int) error {
	s.mu.Lock()
	delete(s.targets, id)
	s.version = time.Now()
	doc := s.snapshotLocked()
	s.mu.Unlock()

	return s.persist(doc)
}

// snapshotLocked builds the persisted document shape. Caller must hold mu.
func (s *Store) snapshotLocked() types.TargetSet {
	doc := types.TargetSet{Targets: make([]types.Target, 0, len(s.targets))}
	for _, t := range s.targets {
		doc.Targets = append(doc.Targets, t)
	}
	return doc
}

func (s *Store) persist(doc types.TargetSet) error {
	if err := s.blob.Save(doc); err != nil {
		return fmt.Errorf("targetstore: persist: %w", err)
	}
	return nil
}
