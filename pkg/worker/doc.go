// Package worker implements the per-worker snapshot engine.
//
// An Engine serializes the worker's owned state on request (a coordinated
// barrier) or on its own timer (the uncoordinated strategy), writes the
// image through the blob store with bounded-backoff retries, and reports an
// immutable SnapshotRecord on success. The capture itself is a brief
// freeze: the StateSource hands out an immutable image and the worker
// resumes processing while serialization and the durable write proceed.
//
// Failure handling follows the subsystem's error design: a serialization
// failure is fatal to the worker and escalates through OnFatal; a storage
// write that exhausts its retry budget abandons the attempt with a warning
// and the worker continues on its previous good baseline.
package worker
