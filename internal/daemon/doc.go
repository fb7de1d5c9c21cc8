// Package daemon coordinates the long-running desceval process.
//
// It wires configuration, the SQLite store, the shared Redis client, the
// job queue, and the worker pool into a single lifecycle with flock-based
// locking to prevent multiple instances. The daemon answers the IPC
// surface: evaluation admission, progress and job history reads, worker
// health and kills, quiz lock management, report retrieval, store
// diagnostics, and notification tests. When metrics exposition is
// enabled it also serves the Prometheus endpoint.
//
// Keep orchestration logic here: evaluation steps live in their own
// packages while the daemon focuses on startup, shutdown, and high level
// coordination.
package daemon
