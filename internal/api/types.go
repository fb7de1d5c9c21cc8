package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes an evaluation job in a transport-friendly format.
type Job struct {
	ID              string  `json:"id"`
	QuizID          string  `json:"quizId"`
	Status          string  `json:"status"`
	Worker          string  `json:"worker,omitempty"`
	Override        bool    `json:"override"`
	Total           int     `json:"total"`
	Evaluated       int     `json:"evaluated"`
	Failed          int     `json:"failed"`
	Skipped         int     `json:"skipped"`
	Pending         int     `json:"pending"`
	ErrorMessage    string  `json:"errorMessage,omitempty"`
	EnqueuedAt      string  `json:"enqueuedAt,omitempty"`
	StartedAt       string  `json:"startedAt,omitempty"`
	FinishedAt      string  `json:"finishedAt,omitempty"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// Progress captures one orchestrator progress snapshot for a quiz.
type Progress struct {
	QuizID    string  `json:"quizId"`
	Percent   float64 `json:"percent"`
	Total     int     `json:"total"`
	Current   int     `json:"current"`
	Elapsed   float64 `json:"elapsed"`
	Rate      float64 `json:"rate"`
	Remaining float64 `json:"remaining"`
	Phase     string  `json:"phase"`
	UpdatedAt string  `json:"updatedAt,omitempty"`
}

// Worker describes one pool worker with liveness and health sampling.
type Worker struct {
	Name              string  `json:"name"`
	PID               int     `json:"pid"`
	Alive             bool    `json:"alive"`
	State             string  `json:"state"`
	CurrentJob        string  `json:"currentJob,omitempty"`
	CurrentQuiz       string  `json:"currentQuiz,omitempty"`
	JobElapsedSeconds float64 `json:"jobElapsedSeconds,omitempty"`
	UptimeSeconds     float64 `json:"uptimeSeconds"`
	CPUPercent        float64 `json:"cpuPercent"`
	MemPercent        float64 `json:"memPercent"`
	JobsDone          int     `json:"jobsDone"`
	JobsFailed        int     `json:"jobsFailed"`
	LastSeen          string  `json:"lastSeen,omitempty"`
}

// LockStatus reports the distributed lock state for one quiz.
type LockStatus struct {
	QuizID     string  `json:"quizId"`
	Locked     bool    `json:"locked"`
	Holder     string  `json:"holder,omitempty"`
	TTLSeconds float64 `json:"ttlSeconds,omitempty"`
}

// QueueStats summarizes the shared evaluation queue.
type QueueStats struct {
	Depth      int64    `json:"depth"`
	PendingIDs []string `json:"pendingIds,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool   `json:"running"`
	PID          int    `json:"pid"`
	StorePath    string `json:"storePath"`
	LockFilePath string `json:"lockFilePath"`
	SocketPath   string `json:"socketPath"`
	RedisOK      bool   `json:"redisOk"`
	RedisDetail  string `json:"redisDetail,omitempty"`
	WorkersAlive int    `json:"workersAlive"`
	QueueDepth   int64  `json:"queueDepth"`
	ActiveJobs   []Job  `json:"activeJobs,omitempty"`
}

// Report wraps the stored per-quiz aggregate. Data carries the report
// JSON exactly as persisted.
type Report struct {
	QuizID      string          `json:"quizId"`
	GeneratedAt string          `json:"generatedAt,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// JobListResponse wraps a collection of jobs for API responses.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}
