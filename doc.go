// Package floe is a checkpointing and recovery subsystem for distributed
// stateful stream processors. Workers periodically serialize their owned
// state into snapshot blobs; a central coordinator tracks which snapshots
// exist, which workers are alive, and which consistent point the system
// restarts from after a failure.
//
// Two checkpointing strategies are supported, selected once per
// deployment:
//
//   - Coordinated: the coordinator periodically opens a global epoch and
//     broadcasts a snapshot barrier to every alive worker. The epoch is
//     complete once every required worker has acknowledged with its
//     snapshot record. Recovery restores every worker from the highest
//     complete epoch, giving a globally consistent cut.
//
//   - Uncoordinated: each worker snapshots on its own local timer,
//     advancing an independent generation sequence. Workers never wait on
//     one another. Recovery restores each worker from its own latest
//     snapshot; cross-worker consistency is reconciled at replay time by
//     the processor's deduplication layer.
//
// # Components
//
// The subsystem splits into a small set of pieces, each usable on its
// own:
//
//   - pkg/worker: the per-worker snapshot engine. Serializes state via a
//     StateSource, writes blobs with bounded retries, verifies checksums
//     on restore.
//
//   - The coordinator (constructed with NewCoordinator): liveness
//     tracking via heartbeats with an ALIVE / SUSPECT / DEAD state
//     machine, and in coordinated mode the epoch barrier protocol.
//
//   - The manifest (NewMemoryManifest, NewSQLiteManifest,
//     NewPostgresManifest): the durable index of snapshot records, and
//     the sole authority consulted during recovery.
//
//   - Blob stores (NewMemoryBlobStore, NewRedisBlobStore,
//     NewMinIOBlobStore): where the serialized state actually lives. Keys
//     are ordered so that lexical order matches creation order.
//
//   - The compactor (NewCompactor): prunes generations fully superseded
//     by newer durable ones, on its own interval, never blocking
//     snapshots.
//
//   - Recovery (NewRecoveryManager, Replay): picks the restart point,
//     verifies blob integrity, and replays unconsumed input from an
//     event log (NewMemoryEventLog, NewRedisEventLog).
//
// # Quick start
//
// For a single process, LocalCluster wires everything over direct method
// calls:
//
//	cluster, err := floe.NewLocalCluster(floe.LocalClusterConfig{
//		Workers: 3,
//		Source: func(id floe.WorkerID) worker.StateSource {
//			return worker.StateSourceFunc(func() (worker.State, error) {
//				return worker.State{Image: myState(id)}, nil
//			})
//		},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cluster.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer cluster.Stop()
//
//	// Later, after a simulated failure:
//	point, err := cluster.RecoveryPoint(ctx)
//
// Distributed deployments construct the pieces separately, with the
// coordinator's BarrierFunc and the workers' SendHeartbeat carried over
// whatever transport the processor already runs.
//
// # Observability
//
// Every component accepts an api.Observer. NewLoggingObserver logs
// lifecycle events through log/slog, api.BasicMetrics counts them with
// atomics, and NewCompositeObserver fans out to several observers at
// once. A nil observer costs nothing.
//
// # Configuration
//
// pkg/config loads settings from YAML with environment overrides
// (CHECKPOINTING_STRATEGY, SNAPSHOT_FREQUENCY_SEC, MINIO_HOST, and
// friends); config.Default() gives sane single-process values.
package floe
