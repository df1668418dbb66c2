package store

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a uniqueness constraint,
// e.g. two users claiming the same nickname.
var ErrConflict = errors.New("conflict")
