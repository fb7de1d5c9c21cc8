package ipc

import "desceval/internal/api"

// PingRequest checks daemon liveness over the socket.
type PingRequest struct{}

// PingResponse confirms the daemon answered.
type PingResponse struct {
	Pong bool   `json:"pong"`
	PID  int    `json:"pid"`
	Name string `json:"name"`
}

// StartRequest asks the daemon to start the worker pool.
type StartRequest struct{}

// StartResponse reports the outcome of a start request.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest asks the daemon to stop the worker pool.
type StopRequest struct{}

// StopResponse reports the outcome of a stop request.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest retrieves daemon runtime information.
type StatusRequest struct{}

// StatusResponse aggregates daemon state for the CLI.
type StatusResponse struct {
	Running      bool      `json:"running"`
	PID          int       `json:"pid"`
	StorePath    string    `json:"storePath"`
	LockPath     string    `json:"lockPath"`
	SocketPath   string    `json:"socketPath"`
	RedisOK      bool      `json:"redisOk"`
	RedisDetail  string    `json:"redisDetail,omitempty"`
	WorkersAlive int       `json:"workersAlive"`
	QueueDepth   int64     `json:"queueDepth"`
	ActiveJobs   []api.Job `json:"activeJobs,omitempty"`
}

// EnqueueEvaluationRequest admits one quiz evaluation run.
type EnqueueEvaluationRequest struct {
	QuizID         string   `json:"quizId"`
	Override       bool     `json:"override"`
	OverrideCache  bool     `json:"overrideCache"`
	Types          []string `json:"types,omitempty"`
	TimeoutSeconds int      `json:"timeoutSeconds,omitempty"`
}

// EnqueueEvaluationResponse reports the admitted job.
type EnqueueEvaluationResponse struct {
	Job         api.Job `json:"job"`
	QueueDepth  int64   `json:"queueDepth"`
	Submissions int     `json:"submissions"`
}

// ProgressRequest fetches the live progress snapshot for a quiz.
type ProgressRequest struct {
	QuizID string `json:"quizId"`
}

// ProgressResponse carries the snapshot when one exists.
type ProgressResponse struct {
	Found    bool         `json:"found"`
	Progress api.Progress `json:"progress"`
}

// JobsRequest lists recent evaluation jobs.
type JobsRequest struct {
	Limit    int      `json:"limit,omitempty"`
	Statuses []string `json:"statuses,omitempty"`
}

// JobsResponse wraps the matching jobs, newest first.
type JobsResponse struct {
	Jobs []api.Job `json:"jobs"`
}

// JobDescribeRequest fetches one job by id.
type JobDescribeRequest struct {
	ID string `json:"id"`
}

// JobDescribeResponse carries the job record.
type JobDescribeResponse struct {
	Job api.Job `json:"job"`
}

// WorkersRequest lists pool workers with health samples.
type WorkersRequest struct{}

// WorkersResponse wraps the current worker views.
type WorkersResponse struct {
	Workers []api.Worker `json:"workers"`
}

// KillWorkerRequest terminates one worker by registration name.
type KillWorkerRequest struct {
	Name    string `json:"name"`
	Replace bool   `json:"replace"`
}

// KillWorkerResponse reports the kill outcome.
type KillWorkerResponse struct {
	Killed  bool   `json:"killed"`
	Message string `json:"message,omitempty"`
}

// LockStatusRequest inspects the distributed lock for a quiz.
type LockStatusRequest struct {
	QuizID string `json:"quizId"`
}

// LockStatusResponse carries holder and TTL when the lock is held.
type LockStatusResponse struct {
	Lock api.LockStatus `json:"lock"`
}

// ReleaseLockRequest force-releases a quiz lock.
type ReleaseLockRequest struct {
	QuizID string `json:"quizId"`
}

// ReleaseLockResponse reports whether a lock was actually removed.
type ReleaseLockResponse struct {
	Released bool `json:"released"`
}

// QueueInfoRequest summarizes the shared evaluation queue.
type QueueInfoRequest struct{}

// QueueInfoResponse carries depth and waiting job ids.
type QueueInfoResponse struct {
	Stats api.QueueStats `json:"stats"`
}

// QueuePurgeRequest cancels every queued job no worker has claimed.
type QueuePurgeRequest struct{}

// QueuePurgeResponse lists the canceled job ids.
type QueuePurgeResponse struct {
	Purged []string `json:"purged"`
}

// ReportRequest fetches the stored report for a quiz.
type ReportRequest struct {
	QuizID string `json:"quizId"`
}

// ReportResponse carries the stored report blob.
type ReportResponse struct {
	Report api.Report `json:"report"`
}

// RegenerateReportRequest recomputes a quiz report from stored scores.
type RegenerateReportRequest struct {
	QuizID string `json:"quizId"`
}

// RegenerateReportResponse carries the freshly stored report.
type RegenerateReportResponse struct {
	Report api.Report `json:"report"`
}

// LogTailRequest reads lines from the daemon log.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"waitMillis"`
}

// LogTailResponse returns the lines read and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// StoreHealthRequest runs store diagnostics.
type StoreHealthRequest struct{}

// StoreHealthResponse mirrors the store's health snapshot.
type StoreHealthResponse struct {
	DBPath            string   `json:"dbPath"`
	DatabaseExists    bool     `json:"databaseExists"`
	DatabaseReadable  bool     `json:"databaseReadable"`
	MigrationsApplied int      `json:"migrationsApplied"`
	TablesPresent     []string `json:"tablesPresent,omitempty"`
	MissingTables     []string `json:"missingTables,omitempty"`
	IntegrityCheck    string   `json:"integrityCheck,omitempty"`
	Quizzes           int64    `json:"quizzes"`
	Submissions       int64    `json:"submissions"`
	Jobs              int64    `json:"jobs"`
	Error             string   `json:"error,omitempty"`
}

// TestNotificationRequest triggers a webhook test message.
type TestNotificationRequest struct{}

// TestNotificationResponse reports whether the message went out.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
