// Package blobstore implements the coordinator's file-backed persistence
// discipline: every write is temp-file + fsync + rename, and a gofrs/flock
// file lock guards against a second coordinator process writing the same
// path concurrently. Callers load a blob into a Go value, mutate it, and
// save it back — the package never interprets the JSON shape itself.
package blobstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// Store persists one JSON document at a fixed path.
type Store struct {
	path string
	lock *flock.Flock
}

// New returns a Store for the blob at path. The parent directory is created
// if it does not exist.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("blobstore: create dir for %s: %w", path, err)
	}
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Load reads the blob into dst. If the file does not exist, dst is left
// untouched and Load returns nil — callers should pre-populate dst with a
// zero-value default shape before calling Load.
func (s *Store) Load(dst any) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("blobstore: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("blobstore: corrupt blob %s: %w", s.path, err)
	}
	return nil
}

// Save writes v to the blob atomically: acquire an exclusive file lock,
// write to a uuid-suffixed temp file in the same directory, fsync, rename
// over the target path, release the lock.
func (s *Store) Save(v any) (err error) {
	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("blobstore: acquire lock for %s: %w", s.path, err)
	}
	if !locked {
		return fmt.Errorf("blobstore: %s is locked by another coordinator process", s.path)
	}
	defer func() {
		if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
			err = fmt.Errorf("blobstore: release lock for %s: %w", s.path, unlockErr)
		}
	}()

	data, marshalErr := json.MarshalIndent(v, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("blobstore: marshal %s: %w", s.path, marshalErr)
	}

	dir := filepath.Dir(s.path)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(s.path), uuid.NewString()))

	f, createErr := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if createErr != nil {
		return fmt.Errorf("blobstore: create temp file for %s: %w", s.path, createErr)
	}
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, writeErr := f.Write(data); writeErr != nil {
		f.Close()
		return fmt.Errorf("blobstore: write temp file for %s: %w", s.path, writeErr)
	}
	if syncErr := f.Sync(); syncErr != nil {
		f.Close()
		return fmt.Errorf("blobstore: fsync temp file for %s: %w", s.path, syncErr)
	}
	if closeErr := f.Close(); closeErr != nil {
		return fmt.Errorf("blobstore: close temp file for %s: %w", s.path, closeErr)
	}
	if renameErr := os.Rename(tmpPath, s.path); renameErr != nil {
		return fmt.Errorf("blobstore: rename into place for %s: %w", s.path, renameErr)
	}
	committed = true
	return nil
}

// Path returns the blob's target path, for logging.
func (s *Store) Path() string { return s.path }
