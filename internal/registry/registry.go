// Package registry tracks evaluation workers in Redis. Each worker
// registers under a name encoding {host}.{pid}.{spawn_timestamp}; the
// spawn routine and the reaping routine both rely on that encoding to
// correlate OS processes with registry entries.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"desceval/internal/logging"
	"desceval/internal/services"
)

const (
	workersKey      = "eval:workers"
	workerKeyPrefix = "eval:worker:"
)

// WorkerKey returns the hash key for a worker: eval:worker:{name}
func WorkerKey(name string) string { return workerKeyPrefix + name }

// WorkerName builds the registration name for a worker process.
func WorkerName(host string, pid int, spawnedAt time.Time) string {
	return fmt.Sprintf("%s.%d.%d", host, pid, spawnedAt.Unix())
}

// ParseWorkerName splits a registration name into its parts. The host
// may itself contain dots, so the pid and timestamp are taken from the
// rightmost two segments.
func ParseWorkerName(name string) (host string, pid int, spawnedAt time.Time, err error) {
	parts := strings.Split(name, ".")
	if len(parts) < 3 {
		return "", 0, time.Time{}, fmt.Errorf("malformed worker name %q", name)
	}
	host = strings.Join(parts[:len(parts)-2], ".")
	pid, err = strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return "", 0, time.Time{}, fmt.Errorf("malformed pid in worker name %q", name)
	}
	unix, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return "", 0, time.Time{}, fmt.Errorf("malformed timestamp in worker name %q", name)
	}
	return host, pid, time.Unix(unix, 0), nil
}

// Worker states recorded in the registry.
const (
	StateIdle = "idle"
	StateBusy = "busy"
)

// Entry is one worker's registry record.
type Entry struct {
	Name        string
	Host        string
	PID         int
	SpawnedAt   time.Time
	LastSeen    time.Time
	State       string
	CurrentJob  string
	CurrentQuiz string
	JobsDone    int
	JobsFailed  int
}

// Busy reports whether the worker has an in-flight job.
func (e *Entry) Busy() bool {
	return e != nil && e.State == StateBusy && e.CurrentJob != ""
}

// Client is the subset of Redis commands the registry needs.
type Client interface {
	SAdd(ctx context.Context, key string, members ...any) *goredis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *goredis.IntCmd
	SMembers(ctx context.Context, key string) *goredis.StringSliceCmd
	HSet(ctx context.Context, key string, values ...any) *goredis.IntCmd
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
	HIncrBy(ctx context.Context, key, field string, incr int64) *goredis.IntCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *goredis.BoolCmd
}

// Registry reads and writes worker records.
type Registry struct {
	client Client
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL overrides the per-worker record expiry.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New builds a registry. The default record TTL is one hour; heartbeats
// refresh it, so a record that outlives its TTL belongs to a dead worker.
func New(client Client, opts ...Option) *Registry {
	r := &Registry{
		client: client,
		ttl:    time.Hour,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a worker record and its name to the worker set.
func (r *Registry) Register(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.Name == "" {
		return services.Wrap(services.ErrValidation, "registry", "register", "entry requires a name", nil)
	}
	if entry.State == "" {
		entry.State = StateIdle
	}
	if entry.LastSeen.IsZero() {
		entry.LastSeen = r.now()
	}

	key := WorkerKey(entry.Name)
	if err := r.client.HSet(ctx, key, entryToMap(entry)).Err(); err != nil {
		return services.Wrap(services.ErrExternalService, "registry", "register", entry.Name, err)
	}
	if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
		return services.Wrap(services.ErrExternalService, "registry", "register expire", entry.Name, err)
	}
	if err := r.client.SAdd(ctx, workersKey, entry.Name).Err(); err != nil {
		return services.Wrap(services.ErrExternalService, "registry", "register member", entry.Name, err)
	}
	r.logger.Debug("worker registered", logging.String(logging.FieldWorker, entry.Name))
	return nil
}

// Deregister removes a worker record and its set membership.
func (r *Registry) Deregister(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, WorkerKey(name)).Err(); err != nil {
		return services.Wrap(services.ErrExternalService, "registry", "deregister", name, err)
	}
	if err := r.client.SRem(ctx, workersKey, name).Err(); err != nil {
		return services.Wrap(services.ErrExternalService, "registry", "deregister member", name, err)
	}
	r.logger.Debug("worker deregistered", logging.String(logging.FieldWorker, name))
	return nil
}

// Heartbeat refreshes a worker's last-seen stamp and record TTL.
func (r *Registry) Heartbeat(ctx context.Context, name string) error {
	key := WorkerKey(name)
	err := r.client.HSet(ctx, key, "last_seen", r.now().UTC().Format(time.RFC3339Nano)).Err()
	if err != nil {
		return services.Wrap(services.ErrExternalService, "registry", "heartbeat", name, err)
	}
	if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
		return services.Wrap(services.ErrExternalService, "registry", "heartbeat expire", name, err)
	}
	return nil
}

// SetBusy records the job a worker is processing.
func (r *Registry) SetBusy(ctx context.Context, name, jobID, quizID string) error {
	err := r.client.HSet(ctx, WorkerKey(name),
		"state", StateBusy,
		"current_job", jobID,
		"current_quiz", quizID,
		"last_seen", r.now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return services.Wrap(services.ErrExternalService, "registry", "set busy", name, err)
	}
	return nil
}

// SetIdle clears a worker's in-flight job.
func (r *Registry) SetIdle(ctx context.Context, name string) error {
	err := r.client.HSet(ctx, WorkerKey(name),
		"state", StateIdle,
		"current_job", "",
		"current_quiz", "",
		"last_seen", r.now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return services.Wrap(services.ErrExternalService, "registry", "set idle", name, err)
	}
	return nil
}

// RecordOutcome bumps a worker's per-process job counter.
func (r *Registry) RecordOutcome(ctx context.Context, name string, failed bool) error {
	field := "jobs_done"
	if failed {
		field = "jobs_failed"
	}
	if err := r.client.HIncrBy(ctx, WorkerKey(name), field, 1).Err(); err != nil {
		return services.Wrap(services.ErrExternalService, "registry", "record outcome", name, err)
	}
	return nil
}

// Get returns one worker's record, or nil when it is not registered.
func (r *Registry) Get(ctx context.Context, name string) (*Entry, error) {
	values, err := r.client.HGetAll(ctx, WorkerKey(name)).Result()
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "registry", "get", name, err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return mapToEntry(values)
}

// Names returns all registered worker names.
func (r *Registry) Names(ctx context.Context) ([]string, error) {
	names, err := r.client.SMembers(ctx, workersKey).Result()
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "registry", "names", "", err)
	}
	return names, nil
}

// List returns all live worker records. Names whose record has expired
// are skipped; use RemoveStale to prune them.
func (r *Registry) List(ctx context.Context) ([]*Entry, error) {
	names, err := r.Names(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, len(names))
	for _, name := range names {
		entry, getErr := r.Get(ctx, name)
		if getErr != nil {
			return nil, getErr
		}
		if entry == nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// FindByPID locates a registered worker by the pid encoded in its name.
func (r *Registry) FindByPID(ctx context.Context, pid int) (*Entry, error) {
	names, err := r.Names(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		_, namePID, _, parseErr := ParseWorkerName(name)
		if parseErr != nil {
			continue
		}
		if namePID == pid {
			return r.Get(ctx, name)
		}
	}
	return nil, nil
}

// RemoveStale prunes set members whose worker record has expired and
// returns the reaped names.
func (r *Registry) RemoveStale(ctx context.Context) ([]string, error) {
	names, err := r.Names(ctx)
	if err != nil {
		return nil, err
	}

	var stale []string
	for _, name := range names {
		entry, getErr := r.Get(ctx, name)
		if getErr != nil {
			return stale, getErr
		}
		if entry != nil {
			continue
		}
		if remErr := r.client.SRem(ctx, workersKey, name).Err(); remErr != nil {
			return stale, services.Wrap(services.ErrExternalService, "registry", "remove stale", name, remErr)
		}
		stale = append(stale, name)
		logging.WarnWithContext(r.logger, "reaped stale worker registration", "worker_reaped",
			logging.String(logging.FieldWorker, name),
			logging.String(logging.FieldImpact, "worker record expired without deregistering"))
	}
	return stale, nil
}

func entryToMap(e *Entry) map[string]any {
	return map[string]any{
		"name":         e.Name,
		"host":         e.Host,
		"pid":          strconv.Itoa(e.PID),
		"spawned_at":   e.SpawnedAt.UTC().Format(time.RFC3339Nano),
		"last_seen":    e.LastSeen.UTC().Format(time.RFC3339Nano),
		"state":        e.State,
		"current_job":  e.CurrentJob,
		"current_quiz": e.CurrentQuiz,
		"jobs_done":    strconv.Itoa(e.JobsDone),
		"jobs_failed":  strconv.Itoa(e.JobsFailed),
	}
}

func mapToEntry(values map[string]string) (*Entry, error) {
	entry := &Entry{
		Name:        values["name"],
		Host:        values["host"],
		State:       values["state"],
		CurrentJob:  values["current_job"],
		CurrentQuiz: values["current_quiz"],
	}
	if raw := values["pid"]; raw != "" {
		pid, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("malformed pid %q in registry entry", raw)
		}
		entry.PID = pid
	}
	if raw := values["spawned_at"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("malformed spawned_at %q in registry entry", raw)
		}
		entry.SpawnedAt = t
	}
	if raw := values["last_seen"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("malformed last_seen %q in registry entry", raw)
		}
		entry.LastSeen = t
	}
	if raw := values["jobs_done"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("malformed jobs_done %q in registry entry", raw)
		}
		entry.JobsDone = n
	}
	if raw := values["jobs_failed"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("malformed jobs_failed %q in registry entry", raw)
		}
		entry.JobsFailed = n
	}
	return entry, nil
}
