package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewJob builds an INITIALIZING job record for a quiz evaluation run.
func NewJob(quizID string, override bool) *Job {
	now := time.Now()
	return &Job{
		ID:         uuid.NewString(),
		QuizID:     quizID,
		Status:     StatusInitializing,
		Override:   override,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}
}

// CreateJob persists a new job record.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job requires an id")
	}
	if job.QuizID == "" {
		return fmt.Errorf("job %s requires a quiz id", job.ID)
	}
	if job.Status == "" {
		job.Status = StatusInitializing
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	job.UpdatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, quiz_id, status, worker, override_evaluated, total,
			evaluated, failed, skipped, error_message,
			enqueued_at, started_at, finished_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.QuizID, string(job.Status), nullableString(job.Worker), job.Override,
		job.Total, job.Evaluated, job.Failed, job.Skipped, nullableString(job.ErrorMessage),
		formatTime(job.EnqueuedAt), nullableTime(job.StartedAt), nullableTime(job.FinishedAt),
		formatTime(job.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns a job by id, or nil when it does not exist.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, jobSelect+" WHERE id = ?", jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// MarkJobEvaluating transitions a job to EVALUATING under the named
// worker and stamps its start time.
func (s *Store) MarkJobEvaluating(ctx context.Context, jobID, worker string, total int) error {
	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, worker = ?, total = ?, started_at = ?, updated_at = ?
		WHERE id = ?
	`, string(StatusEvaluating), nullableString(worker), total,
		formatTime(now), formatTime(now), jobID)
	if err != nil {
		return fmt.Errorf("mark job %s evaluating: %w", jobID, err)
	}
	return requireAffected(result, "job", jobID)
}

// UpdateJobCounts refreshes the job's running tallies.
func (s *Store) UpdateJobCounts(ctx context.Context, jobID string, evaluated, failed, skipped int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET evaluated = ?, failed = ?, skipped = ?, updated_at = ? WHERE id = ?
	`, evaluated, failed, skipped, formatTime(time.Now()), jobID)
	if err != nil {
		return fmt.Errorf("update counts for job %s: %w", jobID, err)
	}
	return requireAffected(result, "job", jobID)
}

// FinishJob records the job's terminal status and finish time.
func (s *Store) FinishJob(ctx context.Context, jobID string, status JobStatus, errorMessage string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finish job %s: %s is not a terminal status", jobID, status)
	}
	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_message = ?, finished_at = ?, updated_at = ? WHERE id = ?
	`, string(status), nullableString(errorMessage), formatTime(now), formatTime(now), jobID)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", jobID, err)
	}
	return requireAffected(result, "job", jobID)
}

// ListJobs returns recent jobs, newest first. A non-positive limit
// returns all of them.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	query := jobSelect + " ORDER BY enqueued_at DESC, id DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// ActiveJobForQuiz returns the quiz's non-terminal job, or nil when none
// is running.
func (s *Store) ActiveJobForQuiz(ctx context.Context, quizID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		jobSelect+` WHERE quiz_id = ? AND status IN (?, ?) ORDER BY enqueued_at DESC LIMIT 1`,
		quizID, string(StatusInitializing), string(StatusEvaluating))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active job for quiz %s: %w", quizID, err)
	}
	return job, nil
}

const jobSelect = `
	SELECT id, quiz_id, status, worker, override_evaluated, total,
		evaluated, failed, skipped, error_message,
		enqueued_at, started_at, finished_at, updated_at
	FROM jobs`

func scanJob(row rowScanner) (*Job, error) {
	var (
		job        Job
		status     string
		worker     sql.NullString
		errMsg     sql.NullString
		enqueuedAt sql.NullString
		startedAt  sql.NullString
		finishedAt sql.NullString
		updatedAt  sql.NullString
	)
	if err := row.Scan(&job.ID, &job.QuizID, &status, &worker, &job.Override, &job.Total,
		&job.Evaluated, &job.Failed, &job.Skipped, &errMsg,
		&enqueuedAt, &startedAt, &finishedAt, &updatedAt); err != nil {
		return nil, err
	}

	parsed, err := ParseJobStatus(status)
	if err != nil {
		return nil, err
	}
	job.Status = parsed
	job.Worker = stringValue(worker)
	job.ErrorMessage = stringValue(errMsg)

	if job.EnqueuedAt, err = scanTime(enqueuedAt); err != nil {
		return nil, err
	}
	if job.StartedAt, err = scanTimePtr(startedAt); err != nil {
		return nil, err
	}
	if job.FinishedAt, err = scanTimePtr(finishedAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = scanTime(updatedAt); err != nil {
		return nil, err
	}

	return &job, nil
}

func requireAffected(result sql.Result, kind, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: rows affected: %w", kind, id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s not found", kind, id)
	}
	return nil
}
