package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the adventure does not exist. An invalid id is
// reported the same way so callers cannot distinguish "invalid id" from
// "nonexistent adventure".
var ErrNotFound = errors.New("adventure not found")

// ErrInvalidToken is returned on a session token mismatch. No state is
// returned alongside it, not even metadata.
var ErrInvalidToken = errors.New("invalid session token")

// ErrInvalidID is returned by Create when the requested id fails the
// allow-list check.
var ErrInvalidID = errors.New("invalid adventure id")

// CorruptedError reports an unparseable state or history file.
type CorruptedError struct {
	Path string
	Err  error
}

func (e *CorruptedError) Error() string {
	return fmt.Sprintf("corrupted adventure file %s: %v", e.Path, e.Err)
}

func (e *CorruptedError) Unwrap() error { return e.Err }
