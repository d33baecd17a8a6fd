package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// JsonFileEngine stores the whole collection as one JSON object on disk:
//
//	{
//	  "key-1": {...},
//	  "key-2": {...}
//	}
//
// Writes go to a temp file that is renamed over the original, so a failed
// write never leaves a half-written collection. Handles opened on the same
// path in one process share a lock.
type JsonFileEngine struct {
	path string
	mu   *sync.RWMutex
	ref  *sharedRef
}

var jsonFileLocks = newSharedRegistry()

func NewJsonFileEngine(path string) (*JsonFileEngine, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageOpen, err)
	}
	ref, err := jsonFileLocks.acquire(abs, func() (any, func() error, error) {
		return &sync.RWMutex{}, nil, nil
	})
	if err != nil {
		return nil, err
	}
	e := &JsonFileEngine{path: abs, mu: ref.value.(*sync.RWMutex), ref: ref}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.load(); err != nil {
		ref.release()
		return nil, fmt.Errorf("%w: %s: %v", ErrStorageOpen, abs, err)
	}
	if _, err := os.Stat(abs); os.IsNotExist(err) {
		if err := e.save(map[string]json.RawMessage{}); err != nil {
			ref.release()
			return nil, fmt.Errorf("%w: %s: %v", ErrStorageOpen, abs, err)
		}
	}
	return e, nil
}

func (e *JsonFileEngine) load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	var result map[string]json.RawMessage
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("not a collection file: %v", err)
	}
	if result == nil {
		return nil, fmt.Errorf("not a collection file: top level is null")
	}
	return result, nil
}

func (e *JsonFileEngine) save(coll map[string]json.RawMessage) error {
	b, err := json.MarshalIndent(coll, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(e.path), "."+filepath.Base(e.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), e.path)
}

func (e *JsonFileEngine) loadIO() (map[string]json.RawMessage, error) {
	if e.ref.isReleased() {
		return nil, ErrClosed
	}
	coll, err := e.load()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStorageIO, e.path, err)
	}
	return coll, nil
}

func (e *JsonFileEngine) saveIO(coll map[string]json.RawMessage) error {
	if err := e.save(coll); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStorageIO, e.path, err)
	}
	return nil
}

func (e *JsonFileEngine) Get(key string) ([]byte, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	coll, err := e.loadIO()
	if err != nil {
		return nil, false, err
	}
	data, ok := coll[key]
	if !ok {
		return nil, false, nil
	}
	return data, true, nil
}

func (e *JsonFileEngine) Put(key string, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	coll, err := e.loadIO()
	if err != nil {
		return err
	}
	coll[key] = json.RawMessage(data)
	return e.saveIO(coll)
}

func (e *JsonFileEngine) Delete(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	coll, err := e.loadIO()
	if err != nil {
		return err
	}
	if _, ok := coll[key]; !ok {
		return nil
	}
	delete(coll, key)
	return e.saveIO(coll)
}

func (e *JsonFileEngine) Update(key string, fn func([]byte, bool) ([]byte, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	coll, err := e.loadIO()
	if err != nil {
		return err
	}
	old, ok := coll[key]
	data, err := fn(old, ok)
	if err != nil {
		return err
	}
	coll[key] = json.RawMessage(data)
	return e.saveIO(coll)
}

func (e *JsonFileEngine) Count() (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	coll, err := e.loadIO()
	if err != nil {
		return 0, err
	}
	return len(coll), nil
}

// Iterate walks the collection as read by one load of the file.
func (e *JsonFileEngine) Iterate(keysOnly bool, fn func(string, []byte) error) error {
	e.mu.RLock()
	coll, err := e.loadIO()
	e.mu.RUnlock()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(coll))
	for k := range coll {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var data []byte
		if !keysOnly {
			data = coll[k]
		}
		if err := fn(k, data); err != nil {
			return stopped(err)
		}
	}
	return nil
}

func (e *JsonFileEngine) Close() error {
	return e.ref.release()
}
