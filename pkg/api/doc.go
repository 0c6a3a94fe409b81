// Package api defines the shared types of the floe checkpointing
// subsystem: worker and epoch identifiers, snapshot records, manifest
// entries, liveness states, recovery points, and the Observer interface
// used for logging and metrics.
//
// The package carries no behavior beyond small helpers; the state machines
// live in internal/coordinator, internal/compactor and internal/recovery,
// and the worker-side snapshot engine in pkg/worker. Keeping the contracts
// here lets both strategies (coordinated and uncoordinated) share one
// record and manifest vocabulary.
package api
