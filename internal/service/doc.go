// Package service contains the application layer that turns HTTP or CLI
// requests into batch generation runs.
//
// RunService owns the set of live runs. Each run is queued as a task on the
// task package's queue and executed by its worker pool, so at most a fixed
// number of batch runs hit the providers at once. A live run observes the
// batch orchestrator as its ProgressSink, republishes every update as a
// RunEvent, and is archived through store.RunArchive when it finishes.
package service
