package store

import (
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// sharedRegistry hands out one reference-counted resource per absolute
// path, so several handles on the same path inside a process share it.
type sharedRegistry struct {
	mu      sync.Mutex
	entries map[string]*sharedEntry
}

type sharedEntry struct {
	value   any
	closeFn func() error
	refs    int
}

type sharedRef struct {
	reg      *sharedRegistry
	key      string
	value    any
	released atomic.Bool
}

func newSharedRegistry() *sharedRegistry {
	return &sharedRegistry{entries: make(map[string]*sharedEntry)}
}

// acquire returns a reference to the resource for key, calling open only
// when no live reference exists.
func (r *sharedRegistry) acquire(key string, open func() (any, func() error, error)) (*sharedRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		value, closeFn, err := open()
		if err != nil {
			return nil, err
		}
		e = &sharedEntry{value: value, closeFn: closeFn}
		r.entries[key] = e
	}
	e.refs++
	return &sharedRef{reg: r, key: key, value: e.value}, nil
}

// release drops the reference; the last one closes the resource. Calling
// release twice is a no-op.
func (ref *sharedRef) release() error {
	if !ref.released.CompareAndSwap(false, true) {
		return nil
	}
	r := ref.reg
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[ref.key]
	if !ok {
		return nil
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}
	delete(r.entries, ref.key)
	if e.closeFn != nil {
		return e.closeFn()
	}
	return nil
}

func (ref *sharedRef) isReleased() bool {
	return ref.released.Load()
}

// keyLocks serializes writers per key using a fixed set of striped mutexes.
type keyLocks struct {
	stripes [256]sync.Mutex
}

func (l *keyLocks) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	m.Lock()
	return m.Unlock
}

// keyLockTables shares one keyLocks per backend and path.
var keyLockTables = newSharedRegistry()

// errStopIteration ends an Engine.Iterate walk early without error.
var errStopIteration = errors.New("stop iteration")

func stopped(err error) error {
	if errors.Is(err, errStopIteration) {
		return nil
	}
	return err
}
