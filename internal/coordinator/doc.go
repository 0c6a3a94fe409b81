// Package coordinator implements the coordinator side of the checkpointing
// protocol: the heartbeat monitor that owns the liveness table, and the
// epoch manager that drives coordinated snapshot barriers.
//
// The liveness table and the manifest are the only shared mutable state in
// the subsystem. Each has exactly one writer (the Monitor and the
// EpochManager respectively); readers always receive copies or
// already-completed views, never partial in-flight state. Timer-driven
// activity (the liveness scan and the epoch trigger) runs on its own
// schedule, decoupled from the registration and acknowledgment traffic.
package coordinator
