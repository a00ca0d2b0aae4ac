// Package errors provides the engine's error taxonomy and a retry helper
// for transient storage failures.
//
// Every failure surfaced by a save or load task carries a Kind:
//   - IoFailure: the blob store could not be read or written
//   - SerializationFault: a blob or payload could not be encoded or decoded
//   - VersionMismatch: stored artifacts were written by different versions
//   - SpawnFailure: a saved runtime entity could not be re-created
//   - WatchdogTimeout: a load task exceeded its deadline
//   - TaskConflict: a task was requested while an overlapping one is active
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures.
type Kind int

const (
	// KindUnknown is reported for errors that carry no kind.
	KindUnknown Kind = iota
	KindIoFailure
	KindSerializationFault
	KindVersionMismatch
	KindSpawnFailure
	KindWatchdogTimeout
	KindTaskConflict
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindIoFailure:
		return "io_failure"
	case KindSerializationFault:
		return "serialization_fault"
	case KindVersionMismatch:
		return "version_mismatch"
	case KindSpawnFailure:
		return "spawn_failure"
	case KindWatchdogTimeout:
		return "watchdog_timeout"
	case KindTaskConflict:
		return "task_conflict"
	default:
		return "unknown"
	}
}

// Error is an engine failure with its kind and the operation it came from.
type Error struct {
	Kind Kind

	// Op names the failing step, e.g. "encode level" or "write blob".
	Op string

	// Key is the storage key or entity identity involved, if any.
	Key string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Op
	if e.Key != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Key)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error.
func New(kind Kind, op, key string, err error) *Error {
	return &Error{Kind: kind, Op: op, Key: key, Err: err}
}

// IoFailure wraps a storage error.
func IoFailure(op, key string, err error) *Error {
	return New(KindIoFailure, op, key, err)
}

// SerializationFault wraps an encode or decode error.
func SerializationFault(op, key string, err error) *Error {
	return New(KindSerializationFault, op, key, err)
}

// VersionMismatch reports incompatible stored artifacts.
func VersionMismatch(op, key string, err error) *Error {
	return New(KindVersionMismatch, op, key, err)
}

// SpawnFailure reports an entity that could not be re-created.
func SpawnFailure(identity string, err error) *Error {
	return New(KindSpawnFailure, "spawn", identity, err)
}

// WatchdogTimeout reports a task that exceeded its deadline.
func WatchdogTimeout(op string, err error) *Error {
	return New(KindWatchdogTimeout, op, "", err)
}

// TaskConflict reports a rejected task request.
func TaskConflict(op string, err error) *Error {
	return New(KindTaskConflict, op, "", err)
}

// KindOf returns the kind of the first *Error in err's chain.
// Joined errors report the kind of their first classified member.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// HasKind reports whether any *Error in err's tree has kind k.
func HasKind(err error, k Kind) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) && e.Kind == k {
		return true
	}
	switch x := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range x.Unwrap() {
			if HasKind(inner, k) {
				return true
			}
		}
	case interface{ Unwrap() error }:
		return HasKind(x.Unwrap(), k)
	}
	return false
}

// IsIoFailure reports whether err has KindIoFailure.
func IsIoFailure(err error) bool { return HasKind(err, KindIoFailure) }

// IsSerializationFault reports whether err has KindSerializationFault.
func IsSerializationFault(err error) bool { return HasKind(err, KindSerializationFault) }

// IsVersionMismatch reports whether err has KindVersionMismatch.
func IsVersionMismatch(err error) bool { return HasKind(err, KindVersionMismatch) }

// IsSpawnFailure reports whether err has KindSpawnFailure.
func IsSpawnFailure(err error) bool { return HasKind(err, KindSpawnFailure) }

// IsWatchdogTimeout reports whether err has KindWatchdogTimeout.
func IsWatchdogTimeout(err error) bool { return HasKind(err, KindWatchdogTimeout) }

// IsTaskConflict reports whether err has KindTaskConflict.
func IsTaskConflict(err error) bool { return HasKind(err, KindTaskConflict) }

// IsTaskFatal reports whether err fails the task it occurred in.
// Spawn failures and version mismatches are logged and skipped; conflicts
// never reach a running task.
func IsTaskFatal(err error) bool {
	switch KindOf(err) {
	case KindIoFailure, KindSerializationFault, KindWatchdogTimeout:
		return true
	default:
		return false
	}
}
