package services

import "context"

type contextKey string

const (
	jobIDKey     contextKey = "job_id"
	quizIDKey    contextKey = "quiz_id"
	studentIDKey contextKey = "student_id"
	workerKey    contextKey = "worker"
	requestIDKey contextKey = "request_id"
)

// WithJobID annotates context with the evaluation job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the evaluation job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithQuizID annotates context with the quiz identifier.
func WithQuizID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, quizIDKey, id)
}

// QuizIDFromContext returns the quiz identifier if present.
func QuizIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(quizIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStudentID annotates context with the student whose submission is in flight.
func WithStudentID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, studentIDKey, id)
}

// StudentIDFromContext returns the student identifier if present.
func StudentIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(studentIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithWorker annotates context with the worker name processing the job.
func WithWorker(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, workerKey, name)
}

// WorkerFromContext returns the worker name if present.
func WorkerFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(workerKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
