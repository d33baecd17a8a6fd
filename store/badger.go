package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// BadgerEngine stores the collection in a Badger LSM directory. Badger
// locks its directory per process, so every handle on a path shares one
// *badger.DB that is closed with the last handle.
type BadgerEngine struct {
	path string
	db   *badger.DB
	ref  *sharedRef
}

var badgerDBs = newSharedRegistry()

func NewBadgerEngine(path string, logger *logrus.Entry) (*BadgerEngine, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageOpen, err)
	}
	ref, err := badgerDBs.acquire(abs, func() (any, func() error, error) {
		if err := checkBadgerDir(abs); err != nil {
			return nil, nil, err
		}
		opts := badger.DefaultOptions(abs)
		if logger != nil {
			opts = opts.WithLogger(logger.WithField("engine", "badger")).WithLoggingLevel(badger.WARNING)
		} else {
			opts = opts.WithLogger(nil)
		}
		db, err := badger.Open(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrStorageOpen, abs, err)
		}
		return db, db.Close, nil
	})
	if err != nil {
		return nil, err
	}
	return &BadgerEngine{path: abs, db: ref.value.(*badger.DB), ref: ref}, nil
}

// checkBadgerDir refuses regular files and non-empty directories that do
// not carry a Badger manifest.
func checkBadgerDir(path string) error {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageOpen, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrStorageOpen, path)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageOpen, err)
	}
	if len(entries) == 0 {
		return nil
	}
	if _, err := os.Stat(filepath.Join(path, "MANIFEST")); err != nil {
		return fmt.Errorf("%w: %s is not a badger directory", ErrStorageOpen, path)
	}
	return nil
}

func (b *BadgerEngine) badgerErr(err error) error {
	if err == nil {
		return nil
	}
	if b.ref.isReleased() || errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	if errors.Is(err, ErrStorageIO) || errors.Is(err, ErrInvalidDocument) || errors.Is(err, ErrInvalidArgument) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageIO, err)
}

func (b *BadgerEngine) Get(key string) ([]byte, bool, error) {
	if b.ref.isReleased() {
		return nil, false, ErrClosed
	}
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, b.badgerErr(err)
	}
	return value, true, nil
}

func (b *BadgerEngine) Put(key string, data []byte) error {
	if b.ref.isReleased() {
		return ErrClosed
	}
	return b.badgerErr(b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	}))
}

func (b *BadgerEngine) Delete(key string) error {
	if b.ref.isReleased() {
		return ErrClosed
	}
	return b.badgerErr(b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	}))
}

func (b *BadgerEngine) Update(key string, fn func([]byte, bool) ([]byte, error)) error {
	if b.ref.isReleased() {
		return ErrClosed
	}
	return b.badgerErr(b.db.Update(func(txn *badger.Txn) error {
		var (
			old   []byte
			found bool
		)
		item, err := txn.Get([]byte(key))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if old, err = item.ValueCopy(nil); err != nil {
				return err
			}
			found = true
		}
		data, err := fn(old, found)
		if err != nil {
			return err
		}
		return txn.Set([]byte(key), data)
	}))
}

func (b *BadgerEngine) Count() (int, error) {
	n := 0
	err := b.Iterate(true, func(string, []byte) error {
		n++
		return nil
	})
	return n, err
}

// Iterate walks keys inside one read transaction, which pins a snapshot.
func (b *BadgerEngine) Iterate(keysOnly bool, fn func(string, []byte) error) error {
	if b.ref.isReleased() {
		return ErrClosed
	}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = !keysOnly
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			var data []byte
			if !keysOnly {
				v, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				data = v
			}
			if err := fn(key, data); err != nil {
				return err
			}
		}
		return nil
	})
	return b.badgerErr(stopped(err))
}

func (b *BadgerEngine) Close() error {
	return b.ref.release()
}
