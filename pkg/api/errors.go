package api

import (
	"errors"
	"fmt"
)

// ErrNoRecoveryPoint is returned when no valid manifest entry exists at
// startup. This is fatal: the cluster needs fresh initialization or manual
// intervention.
var ErrNoRecoveryPoint = errors.New("no valid recovery point")

// ErrEpochClosed is returned when an acknowledgment arrives for an epoch
// that is no longer in flight.
var ErrEpochClosed = errors.New("epoch is not collecting acknowledgments")

// ErrUnknownWorker is returned for operations naming a worker that was
// never registered.
var ErrUnknownWorker = errors.New("unknown worker")

// SerializationError means a worker could not capture or encode its own
// state. It is fatal to that worker and escalates to a restart.
type SerializationError struct {
	WorkerID WorkerID
	Err      error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("worker %s: state serialization failed: %v", e.WorkerID, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// IsSerializationError reports whether err is (or wraps) a
// SerializationError.
func IsSerializationError(err error) bool {
	var se *SerializationError
	return errors.As(err, &se)
}

// StorageWriteError means a snapshot write exhausted its retry budget. The
// attempt is abandoned and the worker continues on its previous good
// baseline; the failure is surfaced as a warning, never as a worker fault.
type StorageWriteError struct {
	WorkerID   WorkerID
	StorageKey string
	Attempts   int
	Err        error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("worker %s: snapshot write to %s failed after %d attempts: %v",
		e.WorkerID, e.StorageKey, e.Attempts, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }
