package store

import (
	"errors"
	"fmt"
)

// Every error returned by this package wraps exactly one of these.
var (
	// ErrStorageOpen is returned when the backing path cannot be opened or
	// created, or holds something that is not a collection.
	ErrStorageOpen = errors.New("storage open failed")

	// ErrInvalidDocument is returned for values that cannot be stored:
	// non-object top level, unsupported types, non-finite numbers, cycles.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidArgument is returned for bad keys, negative pagination and
	// malformed filters.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStorageIO is returned when the medium fails to read or write, or a
	// stored record cannot be decoded.
	ErrStorageIO = errors.New("storage i/o failed")

	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = fmt.Errorf("%w: store is closed", ErrStorageIO)
)
