// Package api defines wire-format types and workflow functions for the
// IPC layer. It translates internal job, progress, and worker models
// into transport-friendly DTOs that the CLI can render without coupling
// to internal types, and hosts the enqueue/report workflows shared by
// the IPC handlers.
//
// # Key Types
//
// Job: transport representation of an evaluation job with counters,
// timestamps, and the worker that ran it.
//
// Progress: one Redis progress snapshot with percentage, rate, and the
// current phase.
//
// Worker: a pool worker with liveness, current assignment, and sampled
// CPU/memory pressure.
//
// DaemonStatus: aggregated runtime information including queue depth
// and live workers.
//
// # Workflows
//
// EnqueueEvaluation validates a quiz (existence, lock state, active
// jobs, evaluation idempotency) and enqueues an evaluation run.
// FetchReport and RegenerateReport expose the stored per-quiz
// aggregates.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with
// milliseconds. Report payloads are passed through as json.RawMessage
// to avoid double-encoding. Validation failures carry the services
// error markers so handlers and CLI can distinguish rejection from
// infrastructure failure.
package api
