package progression

import (
	"errors"
	"fmt"
)

// ErrInvalidDelta is returned when a caller passes a negative XP delta.
// XP is append-only; negative deltas are rejected, never clamped.
var ErrInvalidDelta = errors.New("xp delta must be non-negative")

// LocalPersistenceError reports a failed local store write. The
// in-memory snapshot still updates for the current session; callers are
// warned but not blocked.
type LocalPersistenceError struct {
	Err error
}

func (e *LocalPersistenceError) Error() string {
	return fmt.Sprintf("local persistence failed: %v", e.Err)
}

func (e *LocalPersistenceError) Unwrap() error { return e.Err }

// RemoteUnavailableError reports a failed remote pull or push. It is
// always recovered internally via retry/backoff and never surfaced to
// the end user.
type RemoteUnavailableError struct {
	Op  string // "pull" or "push"
	Err error
}

func (e *RemoteUnavailableError) Error() string {
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error { return e.Err }

// CorruptStateError reports malformed persisted state. Recovery is a
// fall back to a fresh default snapshot; the error is logged for
// diagnostics only.
type CorruptStateError struct {
	Key string
	Err error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt persisted state at %s: %v", e.Key, e.Err)
}

func (e *CorruptStateError) Unwrap() error { return e.Err }
