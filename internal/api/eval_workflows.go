package api

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"desceval/internal/jobqueue"
	"desceval/internal/lock"
	"desceval/internal/logging"
	"desceval/internal/quiz"
	"desceval/internal/services"
	"desceval/internal/store"
)

// EvalStore is the subset of store operations the enqueue workflow
// needs.
type EvalStore interface {
	GetQuiz(ctx context.Context, quizID string) (*quiz.Quiz, error)
	ActiveJobForQuiz(ctx context.Context, quizID string) (*store.Job, error)
	SubmissionCounts(ctx context.Context, quizID string) (total, evaluated int, err error)
	CreateJob(ctx context.Context, job *store.Job) error
	FinishJob(ctx context.Context, jobID string, status store.JobStatus, errorMessage string) error
}

// EvalQueue is the subset of queue operations the enqueue workflow
// needs.
type EvalQueue interface {
	Enqueue(ctx context.Context, req *jobqueue.Request) error
	Length(ctx context.Context) (int64, error)
}

// EnqueueEvaluationRequest carries everything needed to admit one
// evaluation run.
type EnqueueEvaluationRequest struct {
	Store      EvalStore
	Queue      EvalQueue
	LockClient lock.Client
	Logger     *slog.Logger

	QuizID         string
	Override       bool
	OverrideCache  bool
	Types          []string
	TimeoutSeconds int
}

// EnqueueEvaluationResult reports the admitted job and queue state.
type EnqueueEvaluationResult struct {
	Job         Job
	QueueDepth  int64
	Submissions int
}

// EnqueueEvaluation validates a quiz and enqueues one evaluation run.
// Admission fails when the quiz does not exist, another run is queued
// or holds the quiz lock, the quiz is already evaluated without
// override, or it has no submissions. The store job row and the queue
// payload share one job id so workers can find the durable record.
func EnqueueEvaluation(ctx context.Context, req EnqueueEvaluationRequest) (EnqueueEvaluationResult, error) {
	if req.Store == nil || req.Queue == nil {
		return EnqueueEvaluationResult{}, services.Wrap(services.ErrConfiguration, "api", "enqueue",
			"store and queue are required", nil)
	}
	logger := req.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	quizID := strings.TrimSpace(req.QuizID)
	if quizID == "" {
		return EnqueueEvaluationResult{}, services.Wrap(services.ErrValidation, "api", "enqueue",
			"quiz id is required", nil)
	}

	q, err := req.Store.GetQuiz(ctx, quizID)
	if err != nil {
		return EnqueueEvaluationResult{}, services.Wrap(services.ErrExternalService, "api", "load quiz",
			quizID, err)
	}
	if q == nil {
		return EnqueueEvaluationResult{}, services.Wrap(services.ErrNotFound, "api", "enqueue",
			"quiz "+quizID+" does not exist", nil)
	}

	if active, err := req.Store.ActiveJobForQuiz(ctx, quizID); err != nil {
		return EnqueueEvaluationResult{}, services.Wrap(services.ErrExternalService, "api", "check active jobs",
			quizID, err)
	} else if active != nil {
		return EnqueueEvaluationResult{}, services.Wrap(services.ErrValidation, "api", "enqueue",
			fmt.Sprintf("evaluation job %s is already %s for quiz %s", active.ID,
				strings.ToLower(string(active.Status)), quizID), nil)
	}

	if req.LockClient != nil {
		if err := rejectWhenLocked(ctx, req.LockClient, quizID); err != nil {
			return EnqueueEvaluationResult{}, err
		}
	}

	if q.IsEvaluated == quiz.Evaluated && !req.Override {
		return EnqueueEvaluationResult{}, services.Wrap(services.ErrValidation, "api", "enqueue",
			"quiz "+quizID+" is already evaluated; pass override to re-score", nil)
	}

	total, _, err := req.Store.SubmissionCounts(ctx, quizID)
	if err != nil {
		return EnqueueEvaluationResult{}, services.Wrap(services.ErrExternalService, "api", "count submissions",
			quizID, err)
	}
	if total == 0 {
		return EnqueueEvaluationResult{}, services.Wrap(services.ErrValidation, "api", "enqueue",
			"quiz "+quizID+" has no submissions to evaluate", nil)
	}

	types, err := normalizeTypes(req.Types)
	if err != nil {
		return EnqueueEvaluationResult{}, err
	}

	jobRow := store.NewJob(quizID, req.Override)
	if err := req.Store.CreateJob(ctx, jobRow); err != nil {
		return EnqueueEvaluationResult{}, services.Wrap(services.ErrExternalService, "api", "create job",
			quizID, err)
	}

	payload := jobqueue.NewRequest(quizID)
	payload.JobID = jobRow.ID
	payload.OverrideEvaluated = req.Override
	payload.OverrideCache = req.OverrideCache
	payload.Types = types
	payload.TimeoutSeconds = req.TimeoutSeconds

	if err := req.Queue.Enqueue(ctx, payload); err != nil {
		if finishErr := req.Store.FinishJob(ctx, jobRow.ID, store.StatusFailed,
			"enqueue failed: "+err.Error()); finishErr != nil {
			logger.Warn("failed to mark unenqueued job",
				logging.String(logging.FieldJobID, jobRow.ID),
				logging.Error(finishErr),
				logging.String(logging.FieldEventType, "job_orphaned"),
				logging.String(logging.FieldErrorHint, "remove the stale job row manually"),
				logging.String(logging.FieldImpact, "job row stays INITIALIZING without a queue entry"))
		}
		return EnqueueEvaluationResult{}, services.Wrap(services.ErrExternalService, "api", "enqueue",
			quizID, err)
	}

	depth, err := req.Queue.Length(ctx)
	if err != nil {
		depth = 0
	}

	logger.Info("evaluation enqueued",
		logging.String(logging.FieldQuizID, quizID),
		logging.String(logging.FieldJobID, jobRow.ID),
		logging.Bool("override", req.Override),
		logging.Int("submissions", total),
		logging.Int64("queue_depth", depth),
		logging.String(logging.FieldEventType, "evaluation_enqueued"))

	return EnqueueEvaluationResult{
		Job:         FromJob(jobRow),
		QueueDepth:  depth,
		Submissions: total,
	}, nil
}

// QueuePurger is the queue surface the purge workflow needs.
type QueuePurger interface {
	Purge(ctx context.Context) ([]string, error)
}

// PurgeQueue cancels every job still waiting in the queue and fails
// their durable rows so they do not read as stuck INITIALIZING forever.
// Claimed jobs are untouched; stop those through their worker instead.
// Returns the canceled job ids.
func PurgeQueue(ctx context.Context, st EvalStore, q QueuePurger, logger *slog.Logger) ([]string, error) {
	if st == nil || q == nil {
		return nil, services.Wrap(services.ErrConfiguration, "api", "purge",
			"store and queue are required", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	ids, err := q.Purge(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "api", "purge", "queue", err)
	}
	for _, id := range ids {
		if err := st.FinishJob(ctx, id, store.StatusFailed, "purged from queue"); err != nil {
			logging.WarnWithContext(logger, "purged job row update failed", "purge_row_failed",
				logging.String(logging.FieldJobID, id),
				logging.Error(err),
				logging.String(logging.FieldImpact, "job row stays INITIALIZING until storage heals"))
		}
	}
	if len(ids) > 0 {
		logger.Info("queue purged",
			logging.Int("jobs", len(ids)),
			logging.String(logging.FieldEventType, "queue_purged"))
	}
	return ids, nil
}

// rejectWhenLocked turns a held quiz lock into an admission error
// carrying the holder and remaining TTL.
func rejectWhenLocked(ctx context.Context, client lock.Client, quizID string) error {
	quizLock := lock.New(client, quizID)
	locked, err := quizLock.IsLocked(ctx)
	if err != nil {
		return services.Wrap(services.ErrExternalService, "api", "check lock", quizID, err)
	}
	if !locked {
		return nil
	}
	holder, err := quizLock.Holder(ctx)
	if err != nil || holder == "" {
		holder = "another run"
	}
	detail := fmt.Sprintf("quiz %s is locked by %s", quizID, holder)
	if ttl, err := quizLock.TTLRemaining(ctx); err == nil && ttl > 0 {
		detail += fmt.Sprintf(" (expires in %s)", ttl.Round(100*time.Millisecond))
	}
	return services.Wrap(services.ErrValidation, "api", "enqueue", detail, nil)
}

// normalizeTypes validates a question type filter and builds the queue
// payload map. An empty filter evaluates every type.
func normalizeTypes(raw []string) (map[string]bool, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	types := make(map[string]bool, len(raw))
	for _, value := range raw {
		parsed, ok := quiz.ParseItemType(value)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "api", "enqueue",
				fmt.Sprintf("unknown question type %q", value), nil)
		}
		types[string(parsed)] = true
	}
	return types, nil
}
