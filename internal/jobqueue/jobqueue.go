// Package jobqueue implements the Redis task queue evaluation workers
// pull from. Each enqueued request is stored as a hash under
// eval:job:{id} while its id waits in the eval:queue:{name} list;
// workers block-pop ids one at a time, so a job is owned by at most one
// worker.
package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"desceval/internal/logging"
	"desceval/internal/services"
)

const (
	queueKeyPrefix      = "eval:queue:"
	jobKeyPrefix        = "eval:job:"
	processingKeyPrefix = "eval:processing:"
	commandKeyPrefix    = "eval:commands:"
)

// QueueKey returns the list key for a queue: eval:queue:{name}
func QueueKey(name string) string { return queueKeyPrefix + name }

// JobKey returns the hash key for a queued job: eval:job:{id}
func JobKey(jobID string) string { return jobKeyPrefix + jobID }

// ProcessingKey returns the set of job ids a worker has in flight.
func ProcessingKey(worker string) string { return processingKeyPrefix + worker }

// CommandChannel returns the pub/sub channel a worker listens on.
func CommandChannel(worker string) string { return commandKeyPrefix + worker }

// Queue-level job statuses.
const (
	StatusQueued   = "queued"
	StatusStarted  = "started"
	StatusFinished = "finished"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
)

// Request is the wire payload describing one evaluation run.
type Request struct {
	JobID             string          `json:"job_id"`
	QuizID            string          `json:"quiz_id"`
	OverrideEvaluated bool            `json:"override_evaluated"`
	OverrideCache     bool            `json:"override_cache"`
	Types             map[string]bool `json:"types_to_evaluate,omitempty"`
	TimeoutSeconds    int             `json:"timeout_seconds,omitempty"`
	EnqueuedAt        time.Time       `json:"enqueued_at"`
}

// NewRequest builds a request for a quiz evaluation run with a fresh
// job id.
func NewRequest(quizID string) *Request {
	return &Request{
		JobID:      uuid.NewString(),
		QuizID:     quizID,
		EnqueuedAt: time.Now(),
	}
}

// JobInfo is the queue's view of one job.
type JobInfo struct {
	Request    *Request
	Status     string
	Worker     string
	Error      string
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Command is a control message published to one worker.
type Command struct {
	Command string `json:"command"`
	JobID   string `json:"job_id,omitempty"`
}

// Commands understood by workers.
const (
	CommandStopJob  = "stop_job"
	CommandShutdown = "shutdown"
)

// ParseCommand decodes a pub/sub payload.
func ParseCommand(payload string) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
		return nil, fmt.Errorf("decode worker command: %w", err)
	}
	if cmd.Command == "" {
		return nil, fmt.Errorf("worker command missing verb")
	}
	return &cmd, nil
}

// Client is the subset of Redis commands the queue needs.
type Client interface {
	HSet(ctx context.Context, key string, values ...any) *goredis.IntCmd
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *goredis.BoolCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
	LPush(ctx context.Context, key string, values ...any) *goredis.IntCmd
	RPush(ctx context.Context, key string, values ...any) *goredis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *goredis.StringSliceCmd
	LRem(ctx context.Context, key string, count int64, value any) *goredis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *goredis.StringSliceCmd
	LLen(ctx context.Context, key string) *goredis.IntCmd
	SAdd(ctx context.Context, key string, members ...any) *goredis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *goredis.IntCmd
	SMembers(ctx context.Context, key string) *goredis.StringSliceCmd
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
}

// Queue reads and writes the evaluation task queue.
type Queue struct {
	client Client
	name   string
	key    string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithTTL overrides how long finished job records linger.
func WithTTL(ttl time.Duration) Option {
	return func(q *Queue) {
		if ttl > 0 {
			q.ttl = ttl
		}
	}
}

// WithLogger sets the queue logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// New builds a queue handle. Job records default to a one hour TTL.
func New(client Client, name string, opts ...Option) *Queue {
	q := &Queue{
		client: client,
		name:   name,
		key:    QueueKey(name),
		ttl:    time.Hour,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Enqueue stores the request and pushes its id onto the queue.
func (q *Queue) Enqueue(ctx context.Context, req *Request) error {
	if req == nil || req.JobID == "" {
		return services.Wrap(services.ErrValidation, "queue", "enqueue", "request requires a job id", nil)
	}
	if req.QuizID == "" {
		return services.Wrap(services.ErrValidation, "queue", "enqueue", "request requires a quiz id", nil)
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = q.now()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return services.Wrap(services.ErrValidation, "queue", "enqueue", "encode request", err)
	}

	key := JobKey(req.JobID)
	if err := q.client.HSet(ctx, key,
		"payload", string(payload),
		"status", StatusQueued,
		"enqueued_at", q.now().UTC().Format(time.RFC3339Nano),
	).Err(); err != nil {
		return services.Wrap(services.ErrExternalService, "queue", "enqueue", req.JobID, err)
	}
	if err := q.client.Expire(ctx, key, q.ttl).Err(); err != nil {
		return services.Wrap(services.ErrExternalService, "queue", "enqueue expire", req.JobID, err)
	}
	if err := q.client.LPush(ctx, q.key, req.JobID).Err(); err != nil {
		return services.Wrap(services.ErrExternalService, "queue", "enqueue push", req.JobID, err)
	}

	q.logger.Info("evaluation queued",
		logging.String(logging.FieldJobID, req.JobID),
		logging.String(logging.FieldQuizID, req.QuizID))
	return nil
}

// Dequeue blocks up to timeout for the next job and claims it for the
// named worker. It returns nil without error when the wait times out.
func (q *Queue) Dequeue(ctx context.Context, worker string, timeout time.Duration) (*Request, error) {
	values, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "queue", "dequeue", q.name, err)
	}
	if len(values) < 2 {
		return nil, services.Wrap(services.ErrExternalService, "queue", "dequeue", "short brpop reply", nil)
	}
	jobID := values[1]

	info, err := q.Info(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if info == nil || info.Request == nil {
		// The id was queued but its record expired; nothing to run.
		logging.WarnWithContext(q.logger, "dequeued job with missing record", "job_record_missing",
			logging.String(logging.FieldJobID, jobID),
			logging.String(logging.FieldImpact, "job skipped"))
		return nil, nil
	}

	if err := q.client.HSet(ctx, JobKey(jobID),
		"status", StatusStarted,
		"worker", worker,
		"started_at", q.now().UTC().Format(time.RFC3339Nano),
	).Err(); err != nil {
		return nil, services.Wrap(services.ErrExternalService, "queue", "claim", jobID, err)
	}
	if err := q.client.SAdd(ctx, ProcessingKey(worker), jobID).Err(); err != nil {
		return nil, services.Wrap(services.ErrExternalService, "queue", "claim track", jobID, err)
	}
	return info.Request, nil
}

// Finish marks a job finished and clears the worker's in-flight record.
func (q *Queue) Finish(ctx context.Context, jobID string) error {
	return q.settle(ctx, jobID, StatusFinished, "")
}

// Fail marks a job failed with a reason and clears the worker's
// in-flight record.
func (q *Queue) Fail(ctx context.Context, jobID, reason string) error {
	return q.settle(ctx, jobID, StatusFailed, reason)
}

// Abort marks a claimed job canceled and clears the worker's in-flight
// record. Cancel is the pre-claim counterpart.
func (q *Queue) Abort(ctx context.Context, jobID, reason string) error {
	return q.settle(ctx, jobID, StatusCanceled, reason)
}

func (q *Queue) settle(ctx context.Context, jobID, status, reason string) error {
	info, err := q.Info(ctx, jobID)
	if err != nil {
		return err
	}
	if info == nil {
		return services.Wrap(services.ErrNotFound, "queue", "settle", jobID, nil)
	}

	fields := []any{
		"status", status,
		"finished_at", q.now().UTC().Format(time.RFC3339Nano),
	}
	if reason != "" {
		fields = append(fields, "error", reason)
	}
	if err := q.client.HSet(ctx, JobKey(jobID), fields...).Err(); err != nil {
		return services.Wrap(services.ErrExternalService, "queue", "settle", jobID, err)
	}
	if info.Worker != "" {
		if err := q.client.SRem(ctx, ProcessingKey(info.Worker), jobID).Err(); err != nil {
			return services.Wrap(services.ErrExternalService, "queue", "settle untrack", jobID, err)
		}
	}
	return nil
}

// Cancel removes a queued job before any worker claims it.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	if err := q.client.LRem(ctx, q.key, 0, jobID).Err(); err != nil {
		return services.Wrap(services.ErrExternalService, "queue", "cancel", jobID, err)
	}
	if err := q.client.HSet(ctx, JobKey(jobID),
		"status", StatusCanceled,
		"finished_at", q.now().UTC().Format(time.RFC3339Nano),
	).Err(); err != nil {
		return services.Wrap(services.ErrExternalService, "queue", "cancel", jobID, err)
	}
	return nil
}

// Purge cancels every queued job no worker has claimed yet and empties
// the queue. Claimed jobs are untouched. Returns the canceled ids in
// service order.
func (q *Queue) Purge(ctx context.Context) ([]string, error) {
	ids, err := q.Pending(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := q.client.Del(ctx, q.key).Err(); err != nil {
		return nil, services.Wrap(services.ErrExternalService, "queue", "purge", q.name, err)
	}
	for _, id := range ids {
		if err := q.client.HSet(ctx, JobKey(id),
			"status", StatusCanceled,
			"finished_at", q.now().UTC().Format(time.RFC3339Nano),
			"error", "purged from queue",
		).Err(); err != nil {
			return ids, services.Wrap(services.ErrExternalService, "queue", "purge", id, err)
		}
	}
	return ids, nil
}

// Requeue returns a claimed job to the front of the queue so the next
// free worker picks it up first.
func (q *Queue) Requeue(ctx context.Context, jobID string) error {
	info, err := q.Info(ctx, jobID)
	if err != nil {
		return err
	}
	if info == nil {
		return services.Wrap(services.ErrNotFound, "queue", "requeue", jobID, nil)
	}

	if err := q.client.HSet(ctx, JobKey(jobID),
		"status", StatusQueued,
		"worker", "",
	).Err(); err != nil {
		return services.Wrap(services.ErrExternalService, "queue", "requeue", jobID, err)
	}
	if info.Worker != "" {
		if err := q.client.SRem(ctx, ProcessingKey(info.Worker), jobID).Err(); err != nil {
			return services.Wrap(services.ErrExternalService, "queue", "requeue untrack", jobID, err)
		}
	}
	if err := q.client.RPush(ctx, q.key, jobID).Err(); err != nil {
		return services.Wrap(services.ErrExternalService, "queue", "requeue push", jobID, err)
	}
	return nil
}

// RequeueWorker returns every job a dead worker had in flight to the
// front of the queue. It returns the requeued job ids.
func (q *Queue) RequeueWorker(ctx context.Context, worker string) ([]string, error) {
	jobIDs, err := q.client.SMembers(ctx, ProcessingKey(worker)).Result()
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "queue", "requeue worker", worker, err)
	}

	var requeued []string
	for _, jobID := range jobIDs {
		if reqErr := q.Requeue(ctx, jobID); reqErr != nil {
			if errors.Is(reqErr, services.ErrNotFound) {
				// Record expired while in flight; drop the tracking entry.
				_ = q.client.SRem(ctx, ProcessingKey(worker), jobID).Err()
				continue
			}
			return requeued, reqErr
		}
		requeued = append(requeued, jobID)
		logging.WarnWithContext(q.logger, "requeued orphaned job", "job_requeued",
			logging.String(logging.FieldJobID, jobID),
			logging.String(logging.FieldWorker, worker),
			logging.String(logging.FieldImpact, "evaluation restarts from its last durable state"))
	}

	if err := q.client.Del(ctx, ProcessingKey(worker)).Err(); err != nil {
		return requeued, services.Wrap(services.ErrExternalService, "queue", "requeue worker cleanup", worker, err)
	}
	return requeued, nil
}

// Info returns the queue's record for a job, or nil when none exists.
func (q *Queue) Info(ctx context.Context, jobID string) (*JobInfo, error) {
	values, err := q.client.HGetAll(ctx, JobKey(jobID)).Result()
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "queue", "info", jobID, err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	info := &JobInfo{
		Status: values["status"],
		Worker: values["worker"],
		Error:  values["error"],
	}
	if payload := values["payload"]; payload != "" {
		var req Request
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			return nil, services.Wrap(services.ErrValidation, "queue", "info", "decode payload", err)
		}
		info.Request = &req
	}
	if info.StartedAt, err = parseTimePtr(values["started_at"]); err != nil {
		return nil, services.Wrap(services.ErrValidation, "queue", "info", jobID, err)
	}
	if info.FinishedAt, err = parseTimePtr(values["finished_at"]); err != nil {
		return nil, services.Wrap(services.ErrValidation, "queue", "info", jobID, err)
	}
	return info, nil
}

// Pending returns queued job ids in service order (next to run first).
func (q *Queue) Pending(ctx context.Context) ([]string, error) {
	ids, err := q.client.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "queue", "pending", q.name, err)
	}
	// The list is pushed at the head and popped at the tail; reverse so
	// callers see dequeue order.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids, nil
}

// Length returns the number of queued jobs.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	length, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, services.Wrap(services.ErrExternalService, "queue", "length", q.name, err)
	}
	return length, nil
}

// InFlight returns the job ids a worker currently has claimed.
func (q *Queue) InFlight(ctx context.Context, worker string) ([]string, error) {
	ids, err := q.client.SMembers(ctx, ProcessingKey(worker)).Result()
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "queue", "in flight", worker, err)
	}
	return ids, nil
}

// SendStopJob asks a worker to abandon a running job.
func (q *Queue) SendStopJob(ctx context.Context, worker, jobID string) error {
	return q.publish(ctx, worker, &Command{Command: CommandStopJob, JobID: jobID})
}

// SendShutdown asks a worker to finish its current job and exit.
func (q *Queue) SendShutdown(ctx context.Context, worker string) error {
	return q.publish(ctx, worker, &Command{Command: CommandShutdown})
}

func (q *Queue) publish(ctx context.Context, worker string, cmd *Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return services.Wrap(services.ErrValidation, "queue", "publish", "encode command", err)
	}
	if err := q.client.Publish(ctx, CommandChannel(worker), payload).Err(); err != nil {
		return services.Wrap(services.ErrExternalService, "queue", "publish", worker, err)
	}
	return nil
}

func parseTimePtr(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return &t, nil
}
