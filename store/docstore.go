package store

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DocumentStore owns one collection backed by one durable path. It is safe
// for concurrent use; writes to a key are serialized, writes to different
// keys are independent.
type DocumentStore struct {
	path    string
	backend string
	engine  Engine
	locks   *keyLocks
	lockRef *sharedRef
	log     *logrus.Entry
	closed  atomic.Bool
}

type options struct {
	backend     string
	logger      *logrus.Entry
	busyTimeout time.Duration
}

// Option configures Open and New.
type Option func(*options)

// WithBackend selects the storage engine. The default is sqlite.
func WithBackend(name string) Option {
	return func(o *options) {
		if name != "" {
			o.backend = name
		}
	}
}

// WithLogger sets the logger used for store and engine messages.
func WithLogger(l *logrus.Entry) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBusyTimeout bounds how long a sqlite writer waits on a lock held by
// another handle or process.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		backend:     BackendSQLite,
		busyTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open opens or creates the collection at path.
func Open(path string, opts ...Option) (*DocumentStore, error) {
	o := buildOptions(opts)
	log := o.logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithFields(logrus.Fields{"backend": o.backend, "path": path})

	engine, err := New(o.backend, path, append(opts, WithLogger(log))...)
	if err != nil {
		log.WithError(err).Error("Failed to open store")
		return nil, err
	}
	return open(path, o.backend, engine, log)
}

// OpenEngine wraps an already constructed engine.
func OpenEngine(engine Engine, opts ...Option) (*DocumentStore, error) {
	o := buildOptions(opts)
	log := o.logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return open("", "custom", engine, log.WithField("backend", "custom"))
}

func open(path, backend string, engine Engine, log *logrus.Entry) (*DocumentStore, error) {
	s := &DocumentStore{path: path, backend: backend, engine: engine, log: log}

	// Memory and custom engines are private to the handle; file-backed ones
	// share the key lock table with other handles on the same path.
	if path == "" || backend == BackendMemory {
		s.locks = &keyLocks{}
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			engine.Close()
			return nil, fmt.Errorf("%w: %v", ErrStorageOpen, err)
		}
		ref, err := keyLockTables.acquire(backend+":"+abs, func() (any, func() error, error) {
			return &keyLocks{}, nil, nil
		})
		if err != nil {
			engine.Close()
			return nil, err
		}
		s.lockRef = ref
		s.locks = ref.value.(*keyLocks)
	}
	log.Info("Store opened")
	return s, nil
}

// Path returns the path the store was opened on.
func (s *DocumentStore) Path() string { return s.path }

// Backend returns the engine name.
func (s *DocumentStore) Backend() string { return s.backend }

// Close releases the handle. Further calls fail with ErrClosed.
func (s *DocumentStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.lockRef != nil {
		s.lockRef.release()
	}
	if err := s.engine.Close(); err != nil {
		s.log.WithError(err).Error("Failed to close store")
		return fmt.Errorf("%w: %v", ErrStorageIO, err)
	}
	s.log.Debug("Store closed")
	return nil
}

func (s *DocumentStore) check(key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	return nil
}

// Exists reports whether key currently denotes a document.
func (s *DocumentStore) Exists(key string) (bool, error) {
	if err := s.check(key); err != nil {
		return false, err
	}
	_, ok, err := s.engine.Get(key)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Error("Failed to check document")
		return false, err
	}
	return ok, nil
}

// Count returns the number of documents.
func (s *DocumentStore) Count() (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	n, err := s.engine.Count()
	if err != nil {
		s.log.WithError(err).Error("Failed to count documents")
		return 0, err
	}
	return n, nil
}

// GetDoc returns the document at key. A missing key yields (nil, false, nil).
func (s *DocumentStore) GetDoc(key string) (Document, bool, error) {
	if err := s.check(key); err != nil {
		return nil, false, err
	}
	log := s.log.WithField("key", key)
	data, ok, err := s.engine.Get(key)
	if err != nil {
		log.WithError(err).Error("Failed to retrieve document")
		return nil, false, err
	}
	if !ok {
		log.Debug("Document not found")
		return nil, false, nil
	}
	doc, err := decode(key, data)
	if err != nil {
		log.WithError(err).Error("Failed to decode document")
		return nil, false, err
	}
	return doc, true, nil
}

// PutDoc replaces (or creates) the document at key with exactly doc.
func (s *DocumentStore) PutDoc(key string, doc Document) error {
	if err := s.check(key); err != nil {
		return err
	}
	if err := validate(doc); err != nil {
		return err
	}
	data, err := encode(doc)
	if err != nil {
		return err
	}
	log := s.log.WithFields(logrus.Fields{"key": key, "data_length": len(data)})

	unlock := s.locks.lock(key)
	defer unlock()
	if err := s.engine.Put(key, data); err != nil {
		log.WithError(err).Error("Failed to put document")
		return err
	}
	log.Debug("Document stored")
	return nil
}

// DeleteDoc removes the document at key. Deleting an absent key is a no-op.
func (s *DocumentStore) DeleteDoc(key string) error {
	if err := s.check(key); err != nil {
		return err
	}
	log := s.log.WithField("key", key)

	unlock := s.locks.lock(key)
	defer unlock()
	if err := s.engine.Delete(key); err != nil {
		log.WithError(err).Error("Failed to delete document")
		return err
	}
	log.Debug("Document deleted")
	return nil
}

// MergeDoc merges patch into the document at key, or into an empty
// document when key is absent, and stores the result. See Merge.
func (s *DocumentStore) MergeDoc(key string, patch Document) error {
	if err := s.check(key); err != nil {
		return err
	}
	if err := validate(patch); err != nil {
		return err
	}
	log := s.log.WithField("key", key)

	unlock := s.locks.lock(key)
	defer unlock()
	err := s.engine.Update(key, func(old []byte, found bool) ([]byte, error) {
		var cur Document
		if found {
			d, err := decode(key, old)
			if err != nil {
				return nil, err
			}
			cur = d
		}
		return encode(Merge(cur, patch))
	})
	if err != nil {
		log.WithError(err).Error("Failed to merge document")
		return err
	}
	log.Debug("Document merged")
	return nil
}

// ScanDocs returns up to limit documents after skipping offset, in
// ascending key order. With keysOnly the documents are not read.
func (s *DocumentStore) ScanDocs(limit, offset int, keysOnly bool) (*Cursor, error) {
	return s.collect(limit, offset, keysOnly, nil)
}

// FindDocs is ScanDocs restricted to documents matching every filter.
// Offset and limit apply to the matching documents.
func (s *DocumentStore) FindDocs(limit, offset int, filters Document) (*Cursor, error) {
	if filters != nil {
		if err := validate(filters); err != nil {
			return nil, fmt.Errorf("%w: filters: %v", ErrInvalidArgument, err)
		}
	}
	return s.collect(limit, offset, false, filters)
}

func (s *DocumentStore) collect(limit, offset int, keysOnly bool, filters Document) (*Cursor, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: negative limit %d", ErrInvalidArgument, limit)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", ErrInvalidArgument, offset)
	}
	cur := &Cursor{keysOnly: keysOnly}
	if limit == 0 {
		return cur, nil
	}

	skipped := 0
	err := s.engine.Iterate(keysOnly, func(key string, data []byte) error {
		e := rawEntry{key: key, data: data}
		if len(filters) > 0 {
			doc, err := decode(key, data)
			if err != nil {
				return err
			}
			if !Matches(doc, filters) {
				return nil
			}
			e.doc = doc
		}
		if skipped < offset {
			skipped++
			return nil
		}
		cur.entries = append(cur.entries, e)
		if len(cur.entries) >= limit {
			return errStopIteration
		}
		return nil
	})
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"limit": limit, "offset": offset}).Error("Failed to scan documents")
		return nil, err
	}
	return cur, nil
}
