package store

import "errors"

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write loses to another writer.
	ErrConflict = errors.New("conflicting write")
)
