package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"
	goredis "github.com/redis/go-redis/v9"

	"desceval/internal/api"
	"desceval/internal/config"
	"desceval/internal/jobqueue"
	"desceval/internal/lock"
	"desceval/internal/logging"
	"desceval/internal/metrics"
	"desceval/internal/notifications"
	"desceval/internal/progress"
	"desceval/internal/registry"
	"desceval/internal/store"
	"desceval/internal/workerpool"
)

// Client is the union of Redis command subsets the daemon's
// collaborators need. A *goredis.Client satisfies it.
type Client interface {
	jobqueue.Client
	lock.Client
	progress.Client
	registry.Client
	Ping(ctx context.Context) *goredis.StatusCmd
}

// WorkerPool is the pool lifecycle surface the daemon drives.
// *workerpool.Pool satisfies it.
type WorkerPool interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	HealthCheck(ctx context.Context) []workerpool.WorkerStatus
	Kill(ctx context.Context, name string, spawnReplacement bool) error
	CleanupStale(ctx context.Context) ([]string, error)
	Size() int
}

// Daemon coordinates the evaluation services and enforces single-instance execution.
type Daemon struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	store      *store.Store
	client     Client
	queue      *jobqueue.Queue
	pool       WorkerPool
	collector  *metrics.Collector
	notifier   notifications.Service
	hub        *logging.StreamHub
	logPath    string

	lockPath string
	lock     *flock.Flock

	metricsServer *http.Server

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	StorePath    string
	LockFilePath string
	SocketPath   string
	RedisOK      bool
	RedisDetail  string
	WorkersAlive int
	QueueDepth   int64
	ActiveJobs   []*store.Job
}

// EvalParams carries one evaluation admission request.
type EvalParams struct {
	QuizID         string
	Override       bool
	OverrideCache  bool
	Types          []string
	TimeoutSeconds int
}

// LockInfo summarizes one quiz's distributed lock.
type LockInfo struct {
	Locked bool
	Holder string
	TTL    time.Duration
}

// QueueInfo summarizes the shared evaluation queue.
type QueueInfo struct {
	Depth   int64
	Pending []string
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithPool overrides the worker pool the daemon drives.
func WithPool(pool WorkerPool) Option {
	return func(d *Daemon) {
		if pool != nil {
			d.pool = pool
		}
	}
}

// WithNotifier overrides the notification service.
func WithNotifier(notifier notifications.Service) Option {
	return func(d *Daemon) {
		if notifier != nil {
			d.notifier = notifier
		}
	}
}

// WithCollector overrides the metrics collector.
func WithCollector(collector *metrics.Collector) Option {
	return func(d *Daemon) {
		if collector != nil {
			d.collector = collector
		}
	}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, configPath string, st *store.Store, client Client, logger *slog.Logger, logPath string, hub *logging.StreamHub, opts ...Option) (*Daemon, error) {
	if cfg == nil || st == nil || client == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, redis client, and logger")
	}

	d := &Daemon{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		store:      st,
		client:     client,
		queue:      jobqueue.New(client, cfg.Workers.Queue, jobqueue.WithLogger(logger)),
		collector:  metrics.NewCollector(),
		hub:        hub,
		logPath:    logPath,
		lockPath:   cfg.Paths.LockFile,
		lock:       flock.New(cfg.Paths.LockFile),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg)
	}
	if d.pool == nil {
		pool, err := workerpool.New(client, cfg, d.configPath,
			workerpool.WithLogger(logger),
			workerpool.WithNotifier(d.notifier),
			workerpool.WithMetrics(d.collector))
		if err != nil {
			return nil, fmt.Errorf("build worker pool: %w", err)
		}
		d.pool = pool
	}
	return d, nil
}

// Start acquires the single-instance lock and launches the worker pool.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another desceval daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.pool.Start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start worker pool: %w", err)
	}
	d.startMetrics()

	d.running.Store(true)
	d.logger.Info("desceval daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("workers", d.pool.Size()))
	return nil
}

// Stop shuts down the worker pool and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.stopMetrics()
	if err := d.pool.Shutdown(context.Background()); err != nil {
		d.logger.Warn("worker pool shutdown incomplete",
			logging.Error(err),
			logging.String(logging.FieldEventType, "pool_shutdown_failed"),
			logging.String("impact", "worker processes or queue claims may linger"),
			logging.String(logging.FieldErrorHint, "Inspect desceval workers and the queue, then kill leftovers manually"))
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("desceval daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

func (d *Daemon) startMetrics() {
	if !d.cfg.Metrics.Enabled || d.collector == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.collector.Handler())
	srv := &http.Server{
		Addr:              d.cfg.Metrics.Bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	d.metricsServer = srv
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Warn("metrics server stopped",
				logging.Error(err),
				logging.String(logging.FieldEventType, "metrics_server_failed"),
				logging.String("impact", "Prometheus scrapes will fail"),
				logging.String(logging.FieldErrorHint, "Check the metrics bind address in the config"))
		}
	}()
	d.logger.Info("metrics exposition started", logging.String("bind", d.cfg.Metrics.Bind))
}

func (d *Daemon) stopMetrics() {
	if d.metricsServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := d.metricsServer.Shutdown(shutdownCtx); err != nil {
		d.logger.Debug("metrics server shutdown", logging.Error(err))
	}
	d.metricsServer = nil
}

// EnqueueEvaluation validates and admits one evaluation run.
func (d *Daemon) EnqueueEvaluation(ctx context.Context, params EvalParams) (api.EnqueueEvaluationResult, error) {
	return api.EnqueueEvaluation(ctx, api.EnqueueEvaluationRequest{
		Store:          d.store,
		Queue:          d.queue,
		LockClient:     d.client,
		Logger:         d.logger,
		QuizID:         params.QuizID,
		Override:       params.Override,
		OverrideCache:  params.OverrideCache,
		Types:          params.Types,
		TimeoutSeconds: params.TimeoutSeconds,
	})
}

// Progress fetches the live progress snapshot for a quiz. Returns nil
// when no run is publishing progress.
func (d *Daemon) Progress(ctx context.Context, quizID string) (*progress.Snapshot, error) {
	return progress.Fetch(ctx, d.client, quizID)
}

// ListJobs returns recent evaluation jobs from the store.
func (d *Daemon) ListJobs(ctx context.Context, limit int) ([]*store.Job, error) {
	if d.store == nil {
		return nil, errors.New("store unavailable")
	}
	return d.store.ListJobs(ctx, limit)
}

// GetJob returns one evaluation job by id, nil when absent.
func (d *Daemon) GetJob(ctx context.Context, jobID string) (*store.Job, error) {
	if d.store == nil {
		return nil, errors.New("store unavailable")
	}
	return d.store.GetJob(ctx, jobID)
}

// Workers returns health snapshots for the pool's workers.
func (d *Daemon) Workers(ctx context.Context) []workerpool.WorkerStatus {
	if d.pool == nil {
		return nil
	}
	return d.pool.HealthCheck(ctx)
}

// KillWorker terminates one worker and optionally spawns a replacement.
func (d *Daemon) KillWorker(ctx context.Context, name string, replace bool) (string, error) {
	if !d.running.Load() {
		return "", errors.New("daemon is not running")
	}
	if err := d.pool.Kill(ctx, name, replace); err != nil {
		return "", err
	}
	message := fmt.Sprintf("worker %s terminated", name)
	if replace {
		message += "; replacement spawned"
	}
	return message, nil
}

// QuizLockInfo inspects the distributed lock for a quiz.
func (d *Daemon) QuizLockInfo(ctx context.Context, quizID string) (LockInfo, error) {
	quizLock := lock.New(d.client, quizID, lock.WithLogger(d.logger))
	locked, err := quizLock.IsLocked(ctx)
	if err != nil {
		return LockInfo{}, err
	}
	if !locked {
		return LockInfo{}, nil
	}
	info := LockInfo{Locked: true}
	if holder, err := quizLock.Holder(ctx); err == nil {
		info.Holder = holder
	}
	if ttl, err := quizLock.TTLRemaining(ctx); err == nil {
		info.TTL = ttl
	}
	return info, nil
}

// ReleaseQuizLock force-releases a quiz lock regardless of holder.
func (d *Daemon) ReleaseQuizLock(ctx context.Context, quizID string) (bool, error) {
	quizLock := lock.New(d.client, quizID, lock.WithLogger(d.logger))
	released, err := quizLock.ForceOverride(ctx)
	if err != nil {
		return false, err
	}
	if released {
		d.logger.Info("quiz lock force released",
			logging.String(logging.FieldQuizID, quizID),
			logging.String(logging.FieldEventType, "lock_force_release"))
	}
	return released, nil
}

// QueueInfo reports queue depth and the waiting job ids.
func (d *Daemon) QueueInfo(ctx context.Context) (QueueInfo, error) {
	depth, err := d.queue.Length(ctx)
	if err != nil {
		return QueueInfo{}, err
	}
	pending, err := d.queue.Pending(ctx)
	if err != nil {
		return QueueInfo{}, err
	}
	return QueueInfo{Depth: depth, Pending: pending}, nil
}

// PurgeQueue cancels every queued evaluation job no worker has claimed.
func (d *Daemon) PurgeQueue(ctx context.Context) ([]string, error) {
	return api.PurgeQueue(ctx, d.store, d.queue, d.logger)
}

// Report returns the stored report for a quiz.
func (d *Daemon) Report(ctx context.Context, quizID string) (api.Report, error) {
	return api.FetchReport(ctx, d.store, quizID)
}

// RegenerateReport recomputes and stores a quiz report from saved scores.
func (d *Daemon) RegenerateReport(ctx context.Context, quizID string) (api.Report, error) {
	return api.RegenerateReport(ctx, d.store, quizID, d.logger)
}

// StoreHealth returns detailed store diagnostics.
func (d *Daemon) StoreHealth(ctx context.Context) (store.Health, error) {
	if d.store == nil {
		return store.Health{}, errors.New("store unavailable")
	}
	return d.store.CheckHealth(ctx)
}

// TestNotification sends a test message using the configured webhook.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg == nil {
		return false, "configuration unavailable", errors.New("configuration unavailable")
	}
	if strings.TrimSpace(d.cfg.Notifications.WebhookURL) == "" {
		return false, "notification webhook not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// StreamHub returns the in-memory log fan-out buffer.
func (d *Daemon) StreamHub() *logging.StreamHub {
	return d.hub
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StorePath:    d.cfg.Store.Path,
		LockFilePath: d.lockPath,
		SocketPath:   d.cfg.IPC.SocketPath,
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := d.client.Ping(pingCtx).Err(); err != nil {
		status.RedisDetail = err.Error()
	} else {
		status.RedisOK = true
	}

	if status.Running {
		status.WorkersAlive = d.pool.Size()
	}
	if depth, err := d.queue.Length(ctx); err == nil {
		status.QueueDepth = depth
	}
	if jobs, err := d.store.ListJobs(ctx, 50); err == nil {
		for _, job := range jobs {
			if !job.Status.IsTerminal() {
				status.ActiveJobs = append(status.ActiveJobs, job)
			}
		}
	}
	return status
}
