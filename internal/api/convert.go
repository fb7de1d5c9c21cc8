package api

import (
	"encoding/json"
	"time"

	"desceval/internal/progress"
	"desceval/internal/store"
	"desceval/internal/workerpool"
)

// FromJob converts a job record to its API representation.
func FromJob(job *store.Job) Job {
	if job == nil {
		return Job{}
	}

	dto := Job{
		ID:              job.ID,
		QuizID:          job.QuizID,
		Status:          string(job.Status),
		Worker:          job.Worker,
		Override:        job.Override,
		Total:           job.Total,
		Evaluated:       job.Evaluated,
		Failed:          job.Failed,
		Skipped:         job.Skipped,
		Pending:         job.Pending(),
		ErrorMessage:    job.ErrorMessage,
		DurationSeconds: job.Duration().Seconds(),
	}
	if !job.EnqueuedAt.IsZero() {
		dto.EnqueuedAt = formatTime(job.EnqueuedAt)
	}
	if job.StartedAt != nil {
		dto.StartedAt = formatTime(*job.StartedAt)
	}
	if job.FinishedAt != nil {
		dto.FinishedAt = formatTime(*job.FinishedAt)
	}
	return dto
}

// FromJobs converts a slice of job records into API DTOs.
func FromJobs(jobs []*store.Job) []Job {
	if len(jobs) == 0 {
		return nil
	}
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromProgress converts a progress snapshot to its API representation.
func FromProgress(quizID string, snap *progress.Snapshot) Progress {
	if snap == nil {
		return Progress{QuizID: quizID}
	}
	dto := Progress{
		QuizID:    quizID,
		Percent:   snap.Progress,
		Total:     snap.Total,
		Current:   snap.Current,
		Elapsed:   snap.Elapsed,
		Rate:      snap.Rate,
		Remaining: snap.Remaining,
		Phase:     snap.CurrentPhase,
	}
	if !snap.LastUpdate.IsZero() {
		dto.UpdatedAt = formatTime(snap.LastUpdate)
	}
	return dto
}

// FromWorkerStatus converts a pool health sample to its API
// representation.
func FromWorkerStatus(status workerpool.WorkerStatus) Worker {
	dto := Worker{
		Name:          status.Name,
		PID:           status.PID,
		Alive:         status.Alive,
		State:         status.State,
		CurrentJob:    status.CurrentJob,
		CurrentQuiz:   status.CurrentQuiz,
		UptimeSeconds: status.Uptime.Seconds(),
		CPUPercent:    status.CPUPercent,
		MemPercent:    status.MemPercent,
		JobsDone:      status.JobsDone,
		JobsFailed:    status.JobsFailed,
	}
	if status.JobElapsed > 0 {
		dto.JobElapsedSeconds = status.JobElapsed.Seconds()
	}
	if !status.LastSeen.IsZero() {
		dto.LastSeen = formatTime(status.LastSeen)
	}
	return dto
}

// FromWorkerStatuses converts a pool health report into API DTOs.
func FromWorkerStatuses(statuses []workerpool.WorkerStatus) []Worker {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]Worker, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, FromWorkerStatus(status))
	}
	return out
}

// FromStoredReport wraps a persisted report blob for transport.
func FromStoredReport(quizID string, raw []byte, generatedAt time.Time) Report {
	dto := Report{QuizID: quizID}
	if len(raw) > 0 {
		dto.Data = json.RawMessage(raw)
	}
	if !generatedAt.IsZero() {
		dto.GeneratedAt = formatTime(generatedAt)
	}
	return dto
}

func formatTime(t time.Time) string {
	return t.UTC().Format(dateTimeFormat)
}
