package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// Backends accepted by New and WithBackend.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendJSON   = "json"
	BackendMemory = "memory"
)

// New creates an Engine based on the backend name.
//
// Supported backends:
//
//	"sqlite" - SQLite database file at path (default)
//	"badger" - Badger LSM directory at path
//	"json"   - single JSON file at path
//	"memory" - in-memory (ephemeral, for testing); path is ignored
func New(backend, path string, opts ...Option) (Engine, error) {
	o := buildOptions(opts)
	switch backend {
	case BackendSQLite, "":
		if err := checkParent(path); err != nil {
			return nil, err
		}
		return NewSqliteEngine(path, o.busyTimeout)
	case BackendBadger:
		if err := checkParent(path); err != nil {
			return nil, err
		}
		return NewBadgerEngine(path, o.logger)
	case BackendJSON:
		if err := checkParent(path); err != nil {
			return nil, err
		}
		return NewJsonFileEngine(path)
	case BackendMemory:
		return NewMemoryEngine(), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q (supported: sqlite, badger, json, memory)", ErrStorageOpen, backend)
	}
}

// checkParent rejects paths whose parent directory is missing; the store
// creates the collection but never the directories above it.
func checkParent(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrStorageOpen)
	}
	dir := filepath.Dir(path)
	fi, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageOpen, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrStorageOpen, dir)
	}
	return nil
}
