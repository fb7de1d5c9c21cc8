// Package workerpool spawns and supervises the desceval-worker OS
// processes that consume the evaluation queue. The pool keeps the
// configured number of workers alive, verifies each spawned process
// registers itself, samples per-worker CPU and memory, and tears down
// registry entries and quiz locks left behind by dead processes.
package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"desceval/internal/config"
	"desceval/internal/jobqueue"
	"desceval/internal/lock"
	"desceval/internal/logging"
	"desceval/internal/metrics"
	"desceval/internal/notifications"
	"desceval/internal/registry"
	"desceval/internal/services"
)

const (
	workerBinaryName = "desceval-worker"
	registrationPoll = time.Second
)

// Client is the union of Redis command subsets the pool's collaborators
// need. A *goredis.Client satisfies it.
type Client interface {
	jobqueue.Client
	lock.Client
	registry.Client
}

// WorkerStatus is one worker's health snapshot, served over IPC.
type WorkerStatus struct {
	Name          string
	PID           int
	Alive         bool
	State         string
	CurrentJob    string
	CurrentQuiz   string
	JobElapsed    time.Duration
	Uptime        time.Duration
	CPUPercent    float64
	MemPercent    float64
	HealthSamples int
	JobsDone      int
	JobsFailed    int
	LastSeen      time.Time
}

// handle tracks one spawned worker process.
type handle struct {
	cmd       *exec.Cmd
	pid       int
	spawnedAt time.Time
	probe     *process.Process
	health    *healthRing

	done    chan struct{}
	waitErr error

	mu   sync.Mutex
	name string
}

func (h *handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *handle) setName(name string) {
	h.mu.Lock()
	h.name = name
	h.mu.Unlock()
}

func (h *handle) Name() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.name
}

// Pool owns the worker processes of one daemon.
type Pool struct {
	cfg      *config.Config
	client   Client
	queue    *jobqueue.Queue
	registry *registry.Registry
	notifier notifications.Service
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time

	host       string
	binary     string
	configPath string

	mu        sync.Mutex
	workers   map[int]*handle
	started   bool
	stopped   bool
	stopLoops context.CancelFunc

	wg sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithNotifier sets the notification sink for worker lifecycle events.
func WithNotifier(notifier notifications.Service) Option {
	return func(p *Pool) {
		if notifier != nil {
			p.notifier = notifier
		}
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(p *Pool) { p.metrics = collector }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

// New builds a pool. configPath is forwarded to every spawned worker so
// the whole deployment shares one configuration file.
func New(client Client, cfg *config.Config, configPath string, opts ...Option) (*Pool, error) {
	if client == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workerpool", "new", "redis client is required", nil)
	}
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workerpool", "new", "config is required", nil)
	}

	host, err := os.Hostname()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "workerpool", "new", "resolve hostname", err)
	}
	binary, err := resolveBinary(cfg.Paths.WorkerBinary)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:        cfg,
		client:     client,
		notifier:   notifications.Noop(),
		logger:     logging.NewNop(),
		now:        time.Now,
		host:       host,
		binary:     binary,
		configPath: configPath,
		workers:    make(map[int]*handle),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = jobqueue.New(client, cfg.Workers.Queue, jobqueue.WithLogger(p.logger), jobqueue.WithClock(p.now))
	p.registry = registry.New(client,
		registry.WithTTL(time.Duration(cfg.Workers.TTL)*time.Second),
		registry.WithLogger(p.logger),
		registry.WithClock(p.now))
	return p, nil
}

func resolveBinary(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if path, err := exec.LookPath(workerBinaryName); err == nil {
		return path, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "workerpool", "resolve binary",
			"worker_binary is not set and the daemon executable path is unknown", err)
	}
	return filepath.Join(filepath.Dir(self), workerBinaryName), nil
}

// Start clears stale registrations, spawns the configured worker count,
// and waits for every spawned process to register itself. A worker that
// does not register within the registration timeout fails the whole
// startup; the partially-spawned batch is torn down. The pool then runs
// until Shutdown.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return services.Wrap(services.ErrConfiguration, "workerpool", "start", "pool already started", nil)
	}
	p.started = true
	p.mu.Unlock()

	if _, err := p.CleanupStale(ctx); err != nil {
		return err
	}

	count := p.cfg.Workers.Count
	if count <= 0 {
		count = 1
	}
	spawned := make([]*handle, 0, count)
	for i := 0; i < count; i++ {
		h, err := p.spawn()
		if err != nil {
			p.killBatch(ctx, spawned)
			return services.Wrap(services.ErrExternalService, "workerpool", "start", "spawn worker", err)
		}
		spawned = append(spawned, h)
	}
	if err := p.awaitRegistration(ctx, spawned); err != nil {
		p.killBatch(ctx, spawned)
		return err
	}

	loopCtx, stopLoops := context.WithCancel(context.WithoutCancel(ctx))
	p.mu.Lock()
	p.stopLoops = stopLoops
	p.mu.Unlock()
	p.wg.Add(2)
	go p.healthLoop(loopCtx)
	go p.reaperLoop(loopCtx)

	p.logger.Info("worker pool started",
		logging.Int("workers", count),
		logging.String("queue", p.cfg.Workers.Queue),
		logging.String("binary", p.binary))
	return nil
}

func (p *Pool) spawn() (*handle, error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, services.Wrap(services.ErrConfiguration, "workerpool", "spawn", "pool is shutting down", nil)
	}
	p.mu.Unlock()

	var args []string
	if p.configPath != "" {
		args = append(args, "--config", p.configPath)
	}
	args = append(args, "--queue", p.cfg.Workers.Queue)

	cmd := exec.Command(p.binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &handle{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		spawnedAt: p.now(),
		health:    newHealthRing(p.cfg.Workers.HealthWindow),
		done:      make(chan struct{}),
	}
	if probe, err := process.NewProcess(int32(h.pid)); err == nil {
		h.probe = probe
	}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()

	p.mu.Lock()
	p.workers[h.pid] = h
	p.mu.Unlock()

	p.logger.Info("worker process spawned", logging.Int("pid", h.pid))
	return h, nil
}

// awaitRegistration polls the registry until every spawned process has
// registered under this host, or the registration timeout elapses.
func (p *Pool) awaitRegistration(ctx context.Context, spawned []*handle) error {
	timeout := time.Duration(p.cfg.Workers.RegistrationTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)

	pending := make(map[int]*handle, len(spawned))
	for _, h := range spawned {
		pending[h.pid] = h
	}

	for {
		entries, err := p.registry.List(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return services.Wrap(services.ErrTimeout, "workerpool", "await registration", "interrupted", ctx.Err())
			}
			p.logger.Debug("registry poll failed while awaiting registration", logging.Error(err))
		}
		for _, entry := range entries {
			if entry.Host != p.host {
				continue
			}
			h, ok := pending[entry.PID]
			if !ok {
				continue
			}
			h.setName(entry.Name)
			delete(pending, entry.PID)
			p.logger.Info("worker registered",
				logging.String(logging.FieldWorker, entry.Name),
				logging.Int("pid", entry.PID))
		}
		if len(pending) == 0 {
			return nil
		}
		for pid, h := range pending {
			if h.exited() {
				return services.Wrap(services.ErrExternalService, "workerpool", "await registration",
					fmt.Sprintf("worker %d exited before registering", pid), h.waitErr)
			}
		}
		if !time.Now().Before(deadline) {
			pids := make([]int, 0, len(pending))
			for pid := range pending {
				pids = append(pids, pid)
			}
			sort.Ints(pids)
			return services.Wrap(services.ErrTimeout, "workerpool", "await registration",
				fmt.Sprintf("workers %v did not register within %s", pids, timeout), nil)
		}
		select {
		case <-ctx.Done():
			return services.Wrap(services.ErrTimeout, "workerpool", "await registration", "interrupted", ctx.Err())
		case <-time.After(registrationPoll):
		}
	}
}

// killBatch tears down partially-started workers after a failed spawn
// or registration round.
func (p *Pool) killBatch(ctx context.Context, spawned []*handle) {
	for _, h := range spawned {
		if name := h.Name(); name != "" {
			if _, err := p.queue.RequeueWorker(ctx, name); err != nil {
				p.logger.Warn("failed to requeue jobs for terminated worker",
					logging.String(logging.FieldWorker, name),
					logging.Error(err))
			}
			if err := p.registry.Deregister(ctx, name); err != nil {
				p.logger.Warn("failed to deregister terminated worker",
					logging.String(logging.FieldWorker, name),
					logging.Error(err))
			}
		}
		p.terminate(h)
		p.removeHandle(h.pid)
	}
}

// terminate sends SIGTERM, waits out the grace window, and escalates to
// SIGKILL. Returns once the process is reaped.
func (p *Pool) terminate(h *handle) {
	if h.exited() {
		return
	}
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = h.cmd.Process.Kill()
	}
	select {
	case <-h.done:
		return
	case <-time.After(p.grace()):
	}
	p.logger.Warn("worker ignored SIGTERM, sending SIGKILL",
		logging.Int("pid", h.pid),
		logging.String(logging.FieldWorker, h.Name()))
	_ = h.cmd.Process.Kill()
	<-h.done
}

func (p *Pool) grace() time.Duration {
	grace := time.Duration(p.cfg.Workers.StopGraceSeconds) * time.Second
	if grace <= 0 {
		grace = 3 * time.Second
	}
	return grace
}

// CleanupStale removes registry entries for workers on this host whose
// OS process is gone, requeueing any jobs they still claimed and
// releasing the quiz locks they held. Runs at startup and on every reap
// pass.
func (p *Pool) CleanupStale(ctx context.Context) ([]string, error) {
	entries, err := p.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	var reaped []string
	for _, entry := range entries {
		if entry.Host != p.host {
			continue
		}
		if p.ownLiveHandle(entry.PID) {
			continue
		}
		if processAlive(ctx, entry.PID) {
			continue
		}

		requeued, requeueErr := p.queue.RequeueWorker(ctx, entry.Name)
		if requeueErr != nil {
			logging.WarnWithContext(p.logger, "failed to requeue jobs for stale worker", "worker_requeue_failed",
				logging.String(logging.FieldWorker, entry.Name),
				logging.Error(requeueErr),
				logging.String(logging.FieldImpact, "jobs claimed by the dead worker stay unfinished"))
			continue
		}
		if entry.CurrentQuiz != "" {
			p.releaseWorkerLock(ctx, entry.CurrentQuiz, entry.Name)
		}
		if deregErr := p.registry.Deregister(ctx, entry.Name); deregErr != nil {
			p.logger.Warn("failed to deregister stale worker",
				logging.String(logging.FieldWorker, entry.Name),
				logging.Error(deregErr))
			continue
		}
		logging.WarnWithContext(p.logger, "reaped dead worker", "worker_reaped",
			logging.String(logging.FieldWorker, entry.Name),
			logging.Int("pid", entry.PID),
			logging.Int("requeued_jobs", len(requeued)),
			logging.String(logging.FieldImpact, "its claimed jobs were returned to the queue"))
		if notifyErr := p.notifier.NotifyWorkerReaped(ctx, entry.Name, len(requeued)); notifyErr != nil {
			p.logger.Warn("worker reap notification failed", logging.Error(notifyErr))
		}
		reaped = append(reaped, entry.Name)
	}

	if _, err := p.registry.RemoveStale(ctx); err != nil {
		p.logger.Warn("failed to prune expired registrations", logging.Error(err))
	}
	return reaped, nil
}

// releaseWorkerLock releases a quiz lock only when the given worker
// still holds it.
func (p *Pool) releaseWorkerLock(ctx context.Context, quizID, holder string) {
	ql := lock.New(p.client, quizID, lock.WithLogger(p.logger))
	current, err := ql.Holder(ctx)
	if err != nil || current != holder {
		return
	}
	if released, err := ql.ForceOverride(ctx); err == nil && released {
		p.logger.Info("released quiz lock held by terminated worker",
			logging.String(logging.FieldQuizID, quizID),
			logging.String(logging.FieldWorker, holder))
	}
}

// HealthCheck samples CPU and memory for every pool process, merges in
// registry state, and returns the per-worker snapshots sorted by name.
func (p *Pool) HealthCheck(ctx context.Context) []WorkerStatus {
	byName := make(map[string]*registry.Entry)
	entries, err := p.registry.List(ctx)
	if err != nil {
		logging.WarnWithContext(p.logger, "registry unavailable during health check", "worker_health_degraded",
			logging.Error(err),
			logging.String(logging.FieldImpact, "worker state and job assignments are missing from this sample"))
	}
	for _, entry := range entries {
		byName[entry.Name] = entry
	}

	now := p.now()
	handles := p.handles()
	statuses := make([]WorkerStatus, 0, len(handles))
	for _, h := range handles {
		status := WorkerStatus{
			Name:   h.Name(),
			PID:    h.pid,
			Alive:  !h.exited(),
			Uptime: now.Sub(h.spawnedAt),
		}
		if status.Alive && h.probe != nil {
			cpu, cpuErr := h.probe.CPUPercentWithContext(ctx)
			mem, memErr := h.probe.MemoryPercentWithContext(ctx)
			if cpuErr == nil && memErr == nil {
				h.health.push(cpu, float64(mem))
			}
		}
		status.CPUPercent, status.MemPercent, status.HealthSamples = h.health.averages()

		if entry := byName[status.Name]; entry != nil {
			status.State = entry.State
			status.CurrentJob = entry.CurrentJob
			status.CurrentQuiz = entry.CurrentQuiz
			status.JobsDone = entry.JobsDone
			status.JobsFailed = entry.JobsFailed
			status.LastSeen = entry.LastSeen
			if entry.CurrentJob != "" {
				if info, infoErr := p.queue.Info(ctx, entry.CurrentJob); infoErr == nil && info != nil && info.StartedAt != nil {
					if elapsed := now.Sub(*info.StartedAt); elapsed > 0 {
						status.JobElapsed = elapsed
					}
				}
			}
		}
		p.warnOnPressure(status)
		statuses = append(statuses, status)
	}

	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].Name != statuses[j].Name {
			return statuses[i].Name < statuses[j].Name
		}
		return statuses[i].PID < statuses[j].PID
	})
	return statuses
}

func (p *Pool) warnOnPressure(status WorkerStatus) {
	if !status.Alive || status.HealthSamples == 0 {
		return
	}
	if p.cfg.Workers.CPUWarnPercent > 0 && status.CPUPercent > p.cfg.Workers.CPUWarnPercent {
		logging.WarnWithContext(p.logger, "worker cpu usage above threshold", "worker_cpu_pressure",
			logging.String(logging.FieldWorker, status.Name),
			logging.Int("pid", status.PID),
			logging.Float64("cpu_percent", status.CPUPercent),
			logging.Float64("threshold", p.cfg.Workers.CPUWarnPercent),
			logging.String(logging.FieldImpact, "evaluations may run slower than usual"))
	}
	if p.cfg.Workers.MemWarnPercent > 0 && status.MemPercent > p.cfg.Workers.MemWarnPercent {
		logging.WarnWithContext(p.logger, "worker memory usage above threshold", "worker_memory_pressure",
			logging.String(logging.FieldWorker, status.Name),
			logging.Int("pid", status.PID),
			logging.Float64("mem_percent", status.MemPercent),
			logging.Float64("threshold", p.cfg.Workers.MemWarnPercent),
			logging.String(logging.FieldImpact, "the worker may be killed by the OS under memory pressure"))
	}
}

func (p *Pool) healthLoop(ctx context.Context) {
	defer p.wg.Done()
	interval := time.Duration(p.cfg.Workers.HealthInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			statuses := p.HealthCheck(ctx)
			if p.metrics == nil {
				continue
			}
			alive := 0
			for _, status := range statuses {
				if status.Alive {
					alive++
				}
			}
			p.metrics.SetWorkersAlive(alive)
			if depth, err := p.queue.Length(ctx); err == nil {
				p.metrics.SetQueueDepth(depth)
			}
		}
	}
}

func (p *Pool) reaperLoop(ctx context.Context) {
	defer p.wg.Done()
	interval := time.Duration(p.cfg.Workers.ReapInterval) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reap(ctx)
		}
	}
}

// reap replaces pool workers whose process died on its own and clears
// their registry footprint. Worker death mid-run is recoverable; only
// startup spawn failures are fatal.
func (p *Pool) reap(ctx context.Context) {
	for _, h := range p.handles() {
		if !h.exited() {
			continue
		}
		p.removeHandle(h.pid)
		name := h.Name()
		logging.ErrorWithContext(p.logger, "worker process died", "worker_died",
			logging.Int("pid", h.pid),
			logging.String(logging.FieldWorker, name),
			logging.Error(h.waitErr),
			logging.String(logging.FieldErrorHint, "check the worker log for a crash cause"))

		if name != "" {
			entry, getErr := p.registry.Get(ctx, name)
			requeued, requeueErr := p.queue.RequeueWorker(ctx, name)
			if requeueErr != nil {
				logging.WarnWithContext(p.logger, "failed to requeue jobs for dead worker", "worker_requeue_failed",
					logging.String(logging.FieldWorker, name),
					logging.Error(requeueErr),
					logging.String(logging.FieldImpact, "jobs claimed by the dead worker stay unfinished"))
			}
			if getErr == nil && entry != nil && entry.CurrentQuiz != "" {
				p.releaseWorkerLock(ctx, entry.CurrentQuiz, name)
			}
			if err := p.registry.Deregister(ctx, name); err != nil {
				p.logger.Warn("failed to deregister dead worker",
					logging.String(logging.FieldWorker, name),
					logging.Error(err))
			}
			if err := p.notifier.NotifyWorkerReaped(ctx, name, len(requeued)); err != nil {
				p.logger.Warn("worker reap notification failed", logging.Error(err))
			}
		}
		p.replace(ctx)
	}

	if _, err := p.CleanupStale(ctx); err != nil {
		logging.WarnWithContext(p.logger, "stale worker cleanup failed", "worker_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "dead registrations linger until the next sweep"))
	}
}

func (p *Pool) replace(ctx context.Context) {
	h, err := p.spawn()
	if err != nil {
		logging.ErrorWithContext(p.logger, "failed to spawn replacement worker", "worker_respawn_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "pool runs below configured size until the next reap pass"))
		return
	}
	if err := p.awaitRegistration(ctx, []*handle{h}); err != nil {
		logging.ErrorWithContext(p.logger, "replacement worker did not register", "worker_respawn_failed",
			logging.Int("pid", h.pid),
			logging.Error(err),
			logging.String(logging.FieldImpact, "pool runs below configured size until the next reap pass"))
		p.killBatch(ctx, []*handle{h})
	}
}

// Kill tears down one pool worker. The worker's current job is asked to
// stop first; whatever it still claimed after the process is gone goes
// back to the queue.
func (p *Pool) Kill(ctx context.Context, name string, spawnReplacement bool) error {
	_, pid, _, err := registry.ParseWorkerName(name)
	if err != nil {
		return services.Wrap(services.ErrValidation, "workerpool", "kill", name, err)
	}
	p.mu.Lock()
	h, ok := p.workers[pid]
	p.mu.Unlock()
	if !ok || (h.Name() != "" && h.Name() != name) {
		return services.Wrap(services.ErrValidation, "workerpool", "kill",
			fmt.Sprintf("worker %s is not managed by this pool", name), nil)
	}

	entry, err := p.registry.Get(ctx, name)
	if err != nil {
		return err
	}
	if entry != nil && entry.CurrentJob != "" {
		if err := p.queue.SendStopJob(ctx, name, entry.CurrentJob); err != nil {
			p.logger.Warn("failed to send stop command to worker",
				logging.String(logging.FieldWorker, name),
				logging.Error(err))
		}
	}
	if entry != nil && entry.CurrentQuiz != "" {
		p.releaseWorkerLock(ctx, entry.CurrentQuiz, name)
	}
	if err := p.registry.Deregister(ctx, name); err != nil {
		p.logger.Warn("failed to deregister worker",
			logging.String(logging.FieldWorker, name),
			logging.Error(err))
	}

	p.terminate(h)
	p.removeHandle(pid)

	requeued, err := p.queue.RequeueWorker(ctx, name)
	if err != nil {
		logging.WarnWithContext(p.logger, "failed to requeue jobs for killed worker", "worker_requeue_failed",
			logging.String(logging.FieldWorker, name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "jobs claimed by the worker stay unfinished"))
	} else if len(requeued) > 0 {
		p.logger.Info("requeued jobs from killed worker",
			logging.String(logging.FieldWorker, name),
			logging.Int("count", len(requeued)))
	}
	if err := p.notifier.NotifyWorkerKilled(ctx, name, ""); err != nil {
		p.logger.Warn("worker kill notification failed", logging.Error(err))
	}
	p.logger.Info("worker killed",
		logging.String(logging.FieldWorker, name),
		logging.Int("pid", pid),
		logging.Bool("replacing", spawnReplacement))

	if spawnReplacement {
		replacement, err := p.spawn()
		if err != nil {
			return services.Wrap(services.ErrExternalService, "workerpool", "kill", "spawn replacement", err)
		}
		if err := p.awaitRegistration(ctx, []*handle{replacement}); err != nil {
			p.killBatch(ctx, []*handle{replacement})
			return err
		}
	}
	return nil
}

// Shutdown stops every pool worker: cooperative stop commands first,
// then SIGTERM with SIGKILL escalation, then a final sweep that requeues
// interrupted jobs and releases the quiz locks they held. Safe to call
// more than once.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	handles := make([]*handle, 0, len(p.workers))
	for _, h := range p.workers {
		handles = append(handles, h)
	}
	stopLoops := p.stopLoops
	p.mu.Unlock()

	if stopLoops != nil {
		stopLoops()
	}
	p.wg.Wait()

	// Cooperative phase: capture who holds what, then ask each worker
	// to stop and drop its registration so nothing new is claimed.
	heldQuiz := make(map[string]string, len(handles))
	for _, h := range handles {
		name := h.Name()
		if name == "" {
			continue
		}
		if entry, err := p.registry.Get(ctx, name); err == nil && entry != nil && entry.CurrentQuiz != "" {
			heldQuiz[name] = entry.CurrentQuiz
		}
		if err := p.queue.SendShutdown(ctx, name); err != nil {
			p.logger.Debug("shutdown command failed",
				logging.String(logging.FieldWorker, name),
				logging.Error(err))
		}
		if err := p.registry.Deregister(ctx, name); err != nil {
			p.logger.Warn("failed to deregister worker during shutdown",
				logging.String(logging.FieldWorker, name),
				logging.Error(err))
		}
	}

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *handle) {
			defer wg.Done()
			p.terminate(h)
		}(h)
	}
	wg.Wait()

	// Backstop for workers that had to be killed mid-job.
	for _, h := range handles {
		name := h.Name()
		if name != "" {
			requeued, err := p.queue.RequeueWorker(ctx, name)
			if err != nil {
				logging.WarnWithContext(p.logger, "failed to requeue jobs during shutdown", "worker_requeue_failed",
					logging.String(logging.FieldWorker, name),
					logging.Error(err),
					logging.String(logging.FieldImpact, "jobs claimed by the worker stay unfinished"))
			} else if len(requeued) > 0 {
				p.logger.Warn("jobs interrupted by shutdown were requeued",
					logging.String(logging.FieldWorker, name),
					logging.Int("count", len(requeued)))
			}
			if quizID, ok := heldQuiz[name]; ok {
				p.releaseWorkerLock(ctx, quizID, name)
			}
		}
		p.removeHandle(h.pid)
	}

	p.logger.Info("worker pool stopped", logging.Int("workers", len(handles)))
	return nil
}

// Size reports how many pool processes are currently alive.
func (p *Pool) Size() int {
	n := 0
	for _, h := range p.handles() {
		if !h.exited() {
			n++
		}
	}
	return n
}

func (p *Pool) handles() []*handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	handles := make([]*handle, 0, len(p.workers))
	for _, h := range p.workers {
		handles = append(handles, h)
	}
	return handles
}

func (p *Pool) removeHandle(pid int) {
	p.mu.Lock()
	delete(p.workers, pid)
	p.mu.Unlock()
}

func (p *Pool) ownLiveHandle(pid int) bool {
	p.mu.Lock()
	h, ok := p.workers[pid]
	p.mu.Unlock()
	return ok && !h.exited()
}

// processAlive reports whether the PID maps to a running, non-zombie
// process. Unreadable process state counts as alive so a live worker is
// never reaped on a probe error.
func processAlive(ctx context.Context, pid int) bool {
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !exists {
		return false
	}
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	statuses, err := proc.StatusWithContext(ctx)
	if err != nil {
		return true
	}
	for _, status := range statuses {
		if status == process.Zombie {
			return false
		}
	}
	return true
}

// healthRing is a fixed-size window of CPU and memory samples.
type healthRing struct {
	mu   sync.Mutex
	cpu  []float64
	mem  []float64
	next int
	full bool
}

func newHealthRing(window int) *healthRing {
	if window <= 0 {
		window = 60
	}
	return &healthRing{
		cpu: make([]float64, window),
		mem: make([]float64, window),
	}
}

func (r *healthRing) push(cpu, mem float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cpu[r.next] = cpu
	r.mem[r.next] = mem
	r.next++
	if r.next == len(r.cpu) {
		r.next = 0
		r.full = true
	}
}

func (r *healthRing) averages() (cpuAvg, memAvg float64, samples int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	samples = r.next
	if r.full {
		samples = len(r.cpu)
	}
	if samples == 0 {
		return 0, 0, 0
	}
	for i := 0; i < samples; i++ {
		cpuAvg += r.cpu[i]
		memAvg += r.mem[i]
	}
	return cpuAvg / float64(samples), memAvg / float64(samples), samples
}
