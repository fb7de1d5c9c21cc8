// Package worker implements the evaluation worker runtime: one OS
// process that registers itself, consumes the shared job queue, and
// drives the orchestrator for each claimed job while holding the quiz
// lock.
//
// The worker owns terminal job bookkeeping. The orchestrator reports
// counts while a run is in flight, but only the worker knows how the
// run ended (complete, failed, stopped), so queue settlement, the
// durable job row, notifications, and the jobs metric are written here.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"desceval/internal/config"
	"desceval/internal/jobqueue"
	"desceval/internal/lock"
	"desceval/internal/logging"
	"desceval/internal/metrics"
	"desceval/internal/notifications"
	"desceval/internal/orchestrator"
	"desceval/internal/registry"
	"desceval/internal/services"
	"desceval/internal/store"
)

// Stop reasons recorded on the active job when its context is
// cancelled from outside.
const (
	stopReasonOperator = "stopped by operator"
	stopReasonShutdown = "worker shutting down"
)

// Client is the union of Redis command subsets the worker's
// collaborators need. A *goredis.Client satisfies it.
type Client interface {
	jobqueue.Client
	lock.Client
	registry.Client
}

// Store is the durable job surface the worker needs for terminal
// bookkeeping.
type Store interface {
	GetJob(ctx context.Context, jobID string) (*store.Job, error)
	FinishJob(ctx context.Context, jobID string, status store.JobStatus, errorMessage string) error
}

// Runner executes one evaluation run. *orchestrator.Orchestrator
// satisfies it.
type Runner interface {
	Run(ctx context.Context, req *jobqueue.Request, worker string) (*orchestrator.Result, error)
}

// Worker is one queue-consuming evaluation process.
type Worker struct {
	cfg      *config.Config
	client   Client
	store    Store
	runner   Runner
	queue    *jobqueue.Queue
	registry *registry.Registry
	notifier notifications.Service
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time

	name      string
	host      string
	pid       int
	spawnedAt time.Time

	commands <-chan string

	mu     sync.Mutex
	active *activeJob
}

type activeJob struct {
	jobID      string
	quizID     string
	cancel     context.CancelFunc
	stopReason string
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithNotifier sets the notification sink for job outcomes.
func WithNotifier(notifier notifications.Service) Option {
	return func(w *Worker) {
		if notifier != nil {
			w.notifier = notifier
		}
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(w *Worker) { w.metrics = collector }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithName fixes the worker's registration name instead of deriving it
// from hostname, pid, and spawn time.
func WithName(name string) Option {
	return func(w *Worker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithCommandStream overrides the pub/sub command subscription with a
// caller-supplied payload channel.
func WithCommandStream(commands <-chan string) Option {
	return func(w *Worker) { w.commands = commands }
}

// New builds a worker. The runner is typically an
// orchestrator.Orchestrator sharing the same Redis client.
func New(client Client, st Store, runner Runner, cfg *config.Config, opts ...Option) (*Worker, error) {
	if client == nil {
		return nil, services.Wrap(services.ErrConfiguration, "worker", "new", "redis client is required", nil)
	}
	if st == nil {
		return nil, services.Wrap(services.ErrConfiguration, "worker", "new", "store is required", nil)
	}
	if runner == nil {
		return nil, services.Wrap(services.ErrConfiguration, "worker", "new", "runner is required", nil)
	}
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "worker", "new", "config is required", nil)
	}

	host, err := os.Hostname()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "worker", "new", "resolve hostname", err)
	}

	w := &Worker{
		cfg:       cfg,
		client:    client,
		store:     st,
		runner:    runner,
		notifier:  notifications.Noop(),
		logger:    logging.NewNop(),
		now:       time.Now,
		host:      host,
		pid:       os.Getpid(),
		spawnedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name == "" {
		w.name = registry.WorkerName(w.host, w.pid, w.spawnedAt)
	}

	w.queue = jobqueue.New(client, cfg.Workers.Queue, jobqueue.WithLogger(w.logger), jobqueue.WithClock(w.now))
	w.registry = registry.New(client,
		registry.WithTTL(time.Duration(cfg.Workers.TTL)*time.Second),
		registry.WithLogger(w.logger),
		registry.WithClock(w.now))
	return w, nil
}

// Name returns the worker's registration name.
func (w *Worker) Name() string { return w.name }

// Run registers the worker and consumes jobs until the context is
// cancelled or a shutdown command arrives. An in-flight job gets the
// configured grace window to settle before its context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	entry := &registry.Entry{Name: w.name, Host: w.host, PID: w.pid, SpawnedAt: w.spawnedAt}
	if err := w.registry.Register(ctx, entry); err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	commands := w.commands
	if commands == nil {
		ch, err := w.subscribe(runCtx)
		if err != nil {
			w.deregister(ctx)
			return err
		}
		commands = ch
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.heartbeatLoop(runCtx)
	}()
	go func() {
		defer wg.Done()
		w.commandLoop(runCtx, commands, stop)
	}()

	w.logger.Info("worker ready",
		logging.String(logging.FieldWorker, w.name),
		logging.String("queue", w.queue.Name()),
		logging.Int("pid", w.pid))

	w.consume(runCtx)

	stop()
	wg.Wait()

	w.deregister(ctx)
	w.logger.Info("worker stopped", logging.String(logging.FieldWorker, w.name))
	return nil
}

func (w *Worker) deregister(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.registry.Deregister(cleanupCtx, w.name); err != nil {
		logging.WarnWithContext(w.logger, "worker deregistration failed", "worker_deregister_failed",
			logging.String(logging.FieldWorker, w.name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "registry entry lingers until its TTL expires"))
	}
}

func (w *Worker) consume(ctx context.Context) {
	poll := time.Duration(w.cfg.Workers.PollInterval) * time.Second
	if poll <= 0 {
		poll = 5 * time.Second
	}

	for {
		if ctx.Err() != nil {
			return
		}
		req, err := w.queue.Dequeue(ctx, w.name, poll)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.ErrorWithContext(w.logger, "dequeue failed", "worker_dequeue_failed",
				logging.String(logging.FieldWorker, w.name),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check redis connectivity"))
			select {
			case <-ctx.Done():
				return
			case <-time.After(poll):
			}
			continue
		}
		if req == nil {
			continue
		}
		w.process(ctx, req)
	}
}

func (w *Worker) process(ctx context.Context, req *jobqueue.Request) {
	log := w.logger.With(
		logging.String(logging.FieldJobID, req.JobID),
		logging.String(logging.FieldQuizID, req.QuizID),
		logging.String(logging.FieldWorker, w.name))

	queuedFor := time.Duration(0)
	if !req.EnqueuedAt.IsZero() {
		if queuedFor = w.now().Sub(req.EnqueuedAt); queuedFor < 0 {
			queuedFor = 0
		}
	}
	log.Info("job claimed", logging.Duration("queued_for", queuedFor))

	// The job context is detached from the run context so an in-flight
	// run survives shutdown for the grace window.
	jobCtx, cancelJob := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJob()

	active := &activeJob{jobID: req.JobID, quizID: req.QuizID, cancel: cancelJob}
	w.setActive(active)
	defer w.clearActive()

	done := make(chan struct{})
	defer close(done)
	go w.superviseShutdown(ctx, done, active)

	quizLock := lock.New(w.client, req.QuizID,
		lock.WithTTL(time.Duration(w.cfg.Evaluation.LockTTL)*time.Second),
		lock.WithRetryInterval(time.Duration(w.cfg.Evaluation.LockRetryInterval)*time.Second),
		lock.WithHolder(w.name),
		lock.WithLogger(log))
	if err := quizLock.AcquireBlocking(jobCtx); err != nil {
		w.settle(context.WithoutCancel(ctx), log, req, active, nil, err, 0)
		return
	}
	defer func() {
		if _, err := quizLock.Release(context.WithoutCancel(ctx)); err != nil {
			logging.WarnWithContext(log, "quiz lock release failed", "lock_release_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "lock lingers until its TTL expires"))
		}
	}()

	if err := w.registry.SetBusy(jobCtx, w.name, req.JobID, req.QuizID); err != nil {
		log.Warn("failed to mark worker busy", logging.Error(err))
	}
	defer func() {
		if err := w.registry.SetIdle(context.WithoutCancel(ctx), w.name); err != nil {
			log.Warn("failed to mark worker idle", logging.Error(err))
		}
	}()

	started := w.now()
	res, err := w.runner.Run(jobCtx, req, w.name)
	w.settle(context.WithoutCancel(ctx), log, req, active, res, err, w.now().Sub(started))
}

// settle applies the terminal bookkeeping for one claimed job. The
// queue record, the durable job row, the notification, and the jobs
// metric all reflect the same outcome.
func (w *Worker) settle(ctx context.Context, log *slog.Logger, req *jobqueue.Request, active *activeJob, res *orchestrator.Result, runErr error, elapsed time.Duration) {
	switch {
	case runErr == nil:
		if err := w.queue.Finish(ctx, req.JobID); err != nil {
			log.Warn("failed to settle queue record", logging.Error(err))
		}
		if err := w.store.FinishJob(ctx, req.JobID, store.StatusComplete, ""); err != nil {
			log.Warn("failed to finish job row", logging.Error(err))
		}
		if err := w.registry.RecordOutcome(ctx, w.name, false); err != nil {
			log.Warn("failed to record job outcome", logging.Error(err))
		}
		w.observeJob(metrics.JobCompleted)
		if err := w.notifier.NotifyJobCompleted(ctx, req.QuizID, res.Evaluated, res.Failed, res.Elapsed); err != nil {
			log.Warn("completion notification failed", logging.Error(err))
		}
		log.Info("job complete",
			logging.Int("evaluated", res.Evaluated),
			logging.Int("failed", res.Failed),
			logging.Int("skipped", res.Skipped),
			logging.Duration("elapsed", elapsed))

	case errors.Is(runErr, context.Canceled):
		reason := w.stopReasonFor(active)
		if reason == "" {
			reason = stopReasonShutdown
		}
		if w.jobStartedEvaluating(ctx, req.JobID) {
			if err := w.queue.Abort(ctx, req.JobID, reason); err != nil {
				log.Warn("failed to settle queue record", logging.Error(err))
			}
			if err := w.store.FinishJob(ctx, req.JobID, store.StatusFailed, reason); err != nil {
				log.Warn("failed to finish job row", logging.Error(err))
			}
			w.observeJob(metrics.JobCancelled)
			if err := w.notifier.NotifyJobStopped(ctx, req.QuizID, req.JobID); err != nil {
				log.Warn("stop notification failed", logging.Error(err))
			}
			log.Info("job stopped", logging.String("reason", reason), logging.Duration("elapsed", elapsed))
			return
		}

		// Evaluation never started; the interrupted job resumes first.
		if err := w.queue.Requeue(ctx, req.JobID); err != nil {
			logging.ErrorWithContext(log, "failed to requeue interrupted job", "job_requeue_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "re-enqueue the evaluation manually"))
			return
		}
		log.Info("job requeued before evaluation started", logging.String("reason", reason))

	default:
		message := runErr.Error()
		if err := w.queue.Fail(ctx, req.JobID, message); err != nil {
			log.Warn("failed to settle queue record", logging.Error(err))
		}
		if err := w.store.FinishJob(ctx, req.JobID, store.StatusFailed, message); err != nil {
			log.Warn("failed to finish job row", logging.Error(err))
		}
		if err := w.registry.RecordOutcome(ctx, w.name, true); err != nil {
			log.Warn("failed to record job outcome", logging.Error(err))
		}
		w.observeJob(metrics.JobFailed)
		if err := w.notifier.NotifyJobFailed(ctx, req.QuizID, req.JobID, runErr); err != nil {
			log.Warn("failure notification failed", logging.Error(err))
		}
		logging.ErrorWithContext(log, "job failed", "job_failed",
			logging.Error(runErr),
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldErrorHint, "inspect the run log for the failing phase"))
	}
}

// jobStartedEvaluating reports whether the orchestrator got far enough
// to claim the durable job row. Before that point an interrupted job is
// safe to requeue wholesale.
func (w *Worker) jobStartedEvaluating(ctx context.Context, jobID string) bool {
	job, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		logging.WarnWithContext(w.logger, "could not read job row during settle", "job_read_failed",
			logging.String(logging.FieldJobID, jobID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "treating the job as already evaluating"))
		return true
	}
	return job != nil && job.Status != store.StatusInitializing
}

// superviseShutdown cancels the active job when the run context dies
// and the job outlives the grace window.
func (w *Worker) superviseShutdown(ctx context.Context, done <-chan struct{}, active *activeJob) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	grace := time.Duration(w.cfg.Workers.StopGraceSeconds) * time.Second
	if grace <= 0 {
		grace = 3 * time.Second
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		w.logger.Info("grace window elapsed, cancelling active job",
			logging.String(logging.FieldJobID, active.jobID),
			logging.Duration("grace", grace))
		w.stopActive(active.jobID, stopReasonShutdown)
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	interval := time.Duration(w.cfg.Workers.HeartbeatInterval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.registry.Heartbeat(ctx, w.name); err != nil {
				if ctx.Err() != nil {
					return
				}
				logging.WarnWithContext(w.logger, "worker heartbeat failed", "worker_heartbeat_failed",
					logging.String(logging.FieldWorker, w.name),
					logging.Error(err),
					logging.String(logging.FieldImpact, "registry entry may expire while the worker is alive"))
			}
		}
	}
}

func (w *Worker) setActive(a *activeJob) {
	w.mu.Lock()
	w.active = a
	w.mu.Unlock()
}

func (w *Worker) clearActive() {
	w.mu.Lock()
	w.active = nil
	w.mu.Unlock()
}

// stopActive cancels the active job's context when jobID matches it
// (an empty jobID matches any). The first stop reason wins.
func (w *Worker) stopActive(jobID, reason string) {
	w.mu.Lock()
	active := w.active
	if active == nil || (jobID != "" && jobID != active.jobID) {
		w.mu.Unlock()
		if jobID != "" {
			w.logger.Warn("stop requested for a job this worker does not hold",
				logging.String(logging.FieldJobID, jobID),
				logging.String(logging.FieldWorker, w.name))
		}
		return
	}
	if active.stopReason == "" {
		active.stopReason = reason
	}
	cancel := active.cancel
	w.mu.Unlock()
	cancel()
}

func (w *Worker) stopReasonFor(active *activeJob) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return active.stopReason
}

func (w *Worker) observeJob(status string) {
	if w.metrics != nil {
		w.metrics.JobFinished(status)
	}
}

// subscriber is the optional pub/sub capability of the Redis client.
type subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *goredis.PubSub
}

func (w *Worker) subscribe(ctx context.Context) (<-chan string, error) {
	sub, ok := w.client.(subscriber)
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "worker", "subscribe",
			"client does not support pub/sub", nil)
	}

	pubsub := sub.Subscribe(ctx, jobqueue.CommandChannel(w.name))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, services.Wrap(services.ErrExternalService, "worker", "subscribe", w.name, err)
	}

	messages := pubsub.Channel()
	out := make(chan string)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (w *Worker) commandLoop(ctx context.Context, commands <-chan string, shutdown context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-commands:
			if !ok {
				return
			}
			cmd, err := jobqueue.ParseCommand(payload)
			if err != nil {
				logging.WarnWithContext(w.logger, "ignoring malformed worker command", "worker_command_malformed",
					logging.String(logging.FieldWorker, w.name),
					logging.Error(err),
					logging.String(logging.FieldImpact, "command dropped"))
				continue
			}
			switch cmd.Command {
			case jobqueue.CommandStopJob:
				w.stopActive(cmd.JobID, stopReasonOperator)
			case jobqueue.CommandShutdown:
				w.logger.Info("shutdown command received", logging.String(logging.FieldWorker, w.name))
				shutdown()
			default:
				w.logger.Warn("unknown worker command",
					logging.String("command", cmd.Command),
					logging.String(logging.FieldWorker, w.name))
			}
		}
	}
}
