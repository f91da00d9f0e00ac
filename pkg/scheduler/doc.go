// Package scheduler runs partition fetches at two levels of parallelism.
//
// The inner level is a Pool: one registry session, a counting semaphore
// bounding in-flight partitions, and a retry policy per partition. A
// partition that succeeds (rows or no rows) is checkpointed as an artifact;
// a capped or exhausted partition produces no artifact and an alert.
//
// The outer level is a Dispatcher: the full partition list is split into
// contiguous chunks, one per worker, and every worker runs on its own
// Runner. A worker that fails or times out does not stop the others.
//
// Usage:
//
//	worker := scheduler.NewWorker(planner, artifacts, newFetcher, policy, alerts, cfg, logger)
//	dispatcher := scheduler.NewDispatcher(worker, 2, logger)
//	summaries, err := dispatcher.Dispatch(ctx, partition.ModeActive, asOf)
package scheduler
