package store

import (
	"fmt"
	"time"
)

// JobStatus tracks an evaluation job through its lifecycle.
type JobStatus string

const (
	StatusInitializing JobStatus = "INITIALIZING"
	StatusEvaluating   JobStatus = "EVALUATING"
	StatusComplete     JobStatus = "COMPLETE"
	StatusFailed       JobStatus = "FAILED"
)

// IsTerminal reports whether the job has finished, successfully or not.
func (s JobStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// ParseJobStatus validates a raw status string.
func ParseJobStatus(value string) (JobStatus, error) {
	switch JobStatus(value) {
	case StatusInitializing, StatusEvaluating, StatusComplete, StatusFailed:
		return JobStatus(value), nil
	default:
		return "", fmt.Errorf("unknown job status %q", value)
	}
}

// Job is the durable record of one quiz evaluation run.
type Job struct {
	ID           string
	QuizID       string
	Status       JobStatus
	Worker       string
	Override     bool
	Total        int
	Evaluated    int
	Failed       int
	Skipped      int
	ErrorMessage string
	EnqueuedAt   time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	UpdatedAt    time.Time
}

// Pending reports the number of submissions the job has not yet settled.
func (j *Job) Pending() int {
	remaining := j.Total - j.Evaluated - j.Failed - j.Skipped
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Duration returns elapsed processing time, or zero when the job has not
// started.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if j.FinishedAt != nil {
		end = *j.FinishedAt
	}
	if end.Before(*j.StartedAt) {
		return 0
	}
	return end.Sub(*j.StartedAt)
}
