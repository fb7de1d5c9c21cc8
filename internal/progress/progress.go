// Package progress publishes evaluation progress snapshots to Redis.
// Snapshots are observability-only: every write is a complete rewrite
// under a short TTL, and write failures are logged, never fatal.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"desceval/internal/logging"
)

const keyPrefix = "quiz_progress:"

// Key returns the progress key for a quiz: quiz_progress:{quiz_id}
func Key(quizID string) string { return keyPrefix + quizID }

// Evaluation phases reported alongside each snapshot.
const (
	PhaseValidating = "validating"
	PhaseLoading    = "loading"
	PhaseEvaluating = "evaluating"
	PhaseSaving     = "saving"
	PhaseFinalizing = "finalizing"
)

// Snapshot is one self-consistent progress rewrite.
type Snapshot struct {
	Progress     float64   `json:"progress"`
	Total        int       `json:"total"`
	Current      int       `json:"current"`
	Elapsed      float64   `json:"elapsed"`
	Rate         float64   `json:"rate"`
	Remaining    float64   `json:"remaining"`
	LastUpdate   time.Time `json:"last_update"`
	CurrentPhase string    `json:"current_phase"`
}

// Client is the subset of Redis commands the tracker needs.
type Client interface {
	SetEx(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// Tracker accumulates completion counts for one quiz run and rewrites
// the Redis snapshot after every settled item.
type Tracker struct {
	client Client
	quizID string
	key    string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	total   int
	current int
	started time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTTL overrides the snapshot expiry.
func WithTTL(ttl time.Duration) Option {
	return func(t *Tracker) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithLogger sets the logger used for write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker builds a tracker for a run over total items. Default TTL is
// one hour.
func NewTracker(client Client, quizID string, total int, opts ...Option) *Tracker {
	t := &Tracker{
		client: client,
		quizID: quizID,
		key:    Key(quizID),
		ttl:    time.Hour,
		logger: logging.NewNop(),
		total:  total,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.started = t.now()
	return t
}

// SetTotal fixes the run's item count. Runs that publish validating and
// loading snapshots before their inputs are counted start at zero and
// set the real total here.
func (t *Tracker) SetTotal(total int) {
	if total < 0 {
		return
	}
	t.mu.Lock()
	t.total = total
	if t.current > t.total {
		t.current = t.total
	}
	t.mu.Unlock()
}

// Advance records one settled item and rewrites the snapshot.
func (t *Tracker) Advance(ctx context.Context, phase string) {
	t.mu.Lock()
	if t.current < t.total {
		t.current++
	}
	snap := t.snapshotLocked(phase)
	t.mu.Unlock()
	t.write(ctx, snap)
}

// AdvanceBy records n already-settled items in one rewrite. Runs that
// skip previously evaluated submissions seed them into the count this
// way instead of issuing one write per skip.
func (t *Tracker) AdvanceBy(ctx context.Context, n int, phase string) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.current += n
	if t.current > t.total {
		t.current = t.total
	}
	snap := t.snapshotLocked(phase)
	t.mu.Unlock()
	t.write(ctx, snap)
}

// SetPhase rewrites the snapshot with a new phase label without changing
// the completion count.
func (t *Tracker) SetPhase(ctx context.Context, phase string) {
	t.mu.Lock()
	snap := t.snapshotLocked(phase)
	t.mu.Unlock()
	t.write(ctx, snap)
}

// Current returns the number of settled items so far.
func (t *Tracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Percent returns completion as 0-100, or 0 while the total is unknown.
func (t *Tracker) Percent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.total <= 0 {
		return 0
	}
	return float64(t.current) / float64(t.total) * 100
}

func (t *Tracker) snapshotLocked(phase string) Snapshot {
	now := t.now()
	elapsed := now.Sub(t.started).Seconds()

	var percent, rate, remaining float64
	if t.total > 0 {
		percent = round2(float64(t.current) / float64(t.total) * 100)
	}
	if elapsed > 0 && t.current > 0 {
		rate = float64(t.current) / elapsed
		remaining = float64(t.total-t.current) / rate
	}

	return Snapshot{
		Progress:     percent,
		Total:        t.total,
		Current:      t.current,
		Elapsed:      elapsed,
		Rate:         rate,
		Remaining:    remaining,
		LastUpdate:   now,
		CurrentPhase: phase,
	}
}

func (t *Tracker) write(ctx context.Context, snap Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		t.logger.Warn("failed to encode progress snapshot",
			logging.String(logging.FieldQuizID, t.quizID), logging.Error(err))
		return
	}
	if err := t.client.SetEx(ctx, t.key, payload, t.ttl).Err(); err != nil {
		t.logger.Warn("failed to update progress tracking",
			logging.String(logging.FieldQuizID, t.quizID), logging.Error(err))
	}
}

// Fetch reads the current snapshot for a quiz, or nil when none exists.
func Fetch(ctx context.Context, client Client, quizID string) (*Snapshot, error) {
	raw, err := client.Get(ctx, Key(quizID)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Clear removes a quiz's progress snapshot.
func Clear(ctx context.Context, client Client, quizID string) error {
	return client.Del(ctx, Key(quizID)).Err()
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
