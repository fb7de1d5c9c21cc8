package logging

import (
	"context"
	"log/slog"

	"desceval/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for evaluation job identifiers.
	FieldJobID = "job_id"
	// FieldQuizID is the standardized structured logging key for quiz identifiers.
	FieldQuizID = "quiz_id"
	// FieldStudentID is the standardized structured logging key for student identifiers.
	FieldStudentID = "student_id"
	// FieldWorker is the standardized structured logging key for worker names.
	FieldWorker = "worker"
	// FieldBatchIndex is the standardized structured logging key for 1-based batch numbers.
	FieldBatchIndex = "batch_index"
	// FieldBatchCount is the standardized structured logging key for total batches in a job.
	FieldBatchCount = "batch_count"
	// FieldQuestionID is the standardized structured logging key for question identifiers.
	FieldQuestionID = "question_id"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType is the standardized structured logging key for machine-readable event names.
	FieldEventType = "event_type"
	// FieldErrorHint is the standardized structured logging key for operator next steps.
	FieldErrorHint = "error_hint"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if id, ok := services.QuizIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldQuizID, id))
	}
	if id, ok := services.StudentIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStudentID, id))
	}
	if worker, ok := services.WorkerFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldWorker, worker))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
