// Package lock provides the Redis-backed mutual exclusion primitive that
// guarantees at most one evaluation run per quiz at a time.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"desceval/internal/logging"
	"desceval/internal/services"
)

const keyPrefix = "quiz_lock:"

// Key returns the lock key for a quiz: quiz_lock:{quiz_id}
func Key(quizID string) string { return keyPrefix + quizID }

// Client is the subset of Redis commands the lock needs.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
	Exists(ctx context.Context, keys ...string) *goredis.IntCmd
	TTL(ctx context.Context, key string) *goredis.DurationCmd
}

// QuizLock coordinates exclusive access to one quiz's evaluation run.
// Ownership is advisory: the holder value records who acquired the lock,
// but any caller may query or release it.
type QuizLock struct {
	client Client
	quizID string
	key    string
	holder string
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// Option configures a QuizLock.
type Option func(*QuizLock)

// WithTTL overrides the lock expiry.
func WithTTL(ttl time.Duration) Option {
	return func(l *QuizLock) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithRetryInterval overrides the delay between blocking acquire attempts.
func WithRetryInterval(interval time.Duration) Option {
	return func(l *QuizLock) {
		if interval > 0 {
			l.retry = interval
		}
	}
}

// WithHolder records who is acquiring the lock in the lock value.
func WithHolder(holder string) Option {
	return func(l *QuizLock) {
		if holder != "" {
			l.holder = holder
		}
	}
}

// WithLogger sets the logger used for lock lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(l *QuizLock) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New builds a lock for the given quiz. Defaults: one hour TTL, one
// second retry interval.
func New(client Client, quizID string, opts ...Option) *QuizLock {
	l := &QuizLock{
		client: client,
		quizID: quizID,
		key:    Key(quizID),
		holder: "locked",
		ttl:    time.Hour,
		retry:  time.Second,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire performs one atomic test-and-set attempt. It returns false
// without error when another run already holds the lock.
func (l *QuizLock) Acquire(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.holder, l.ttl).Result()
	if err != nil {
		return false, services.Wrap(services.ErrExternalService, "lock", "acquire",
			"quiz "+l.quizID, err)
	}
	if acquired {
		l.logger.Debug("lock acquired", logging.String(logging.FieldQuizID, l.quizID))
		return true, nil
	}
	l.logger.Debug("lock contended", logging.String(logging.FieldQuizID, l.quizID))
	return false, nil
}

// AcquireBlocking retries Acquire on a fixed interval until the lock is
// held or the context is cancelled.
func (l *QuizLock) AcquireBlocking(ctx context.Context) error {
	for {
		acquired, err := l.Acquire(ctx)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		l.logger.Debug("waiting for lock", logging.String(logging.FieldQuizID, l.quizID))
		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Release deletes the lock unconditionally and reports whether it existed.
func (l *QuizLock) Release(ctx context.Context) (bool, error) {
	removed, err := l.client.Del(ctx, l.key).Result()
	if err != nil {
		return false, services.Wrap(services.ErrExternalService, "lock", "release",
			"quiz "+l.quizID, err)
	}
	if removed > 0 {
		l.logger.Debug("lock released", logging.String(logging.FieldQuizID, l.quizID))
		return true, nil
	}
	return false, nil
}

// IsLocked reports whether any run currently holds the lock.
func (l *QuizLock) IsLocked(ctx context.Context) (bool, error) {
	count, err := l.client.Exists(ctx, l.key).Result()
	if err != nil {
		return false, services.Wrap(services.ErrExternalService, "lock", "exists",
			"quiz "+l.quizID, err)
	}
	return count > 0, nil
}

// TTLRemaining returns how long the current lock has left to live. It
// returns zero when the lock is not held.
func (l *QuizLock) TTLRemaining(ctx context.Context) (time.Duration, error) {
	remaining, err := l.client.TTL(ctx, l.key).Result()
	if err != nil {
		return 0, services.Wrap(services.ErrExternalService, "lock", "ttl",
			"quiz "+l.quizID, err)
	}
	if remaining < 0 {
		// -2 missing key, -1 no expiry set.
		return 0, nil
	}
	return remaining, nil
}

// Holder returns the value stored by the current lock holder, or empty
// when the lock is not held.
func (l *QuizLock) Holder(ctx context.Context) (string, error) {
	value, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", services.Wrap(services.ErrExternalService, "lock", "get",
			"quiz "+l.quizID, err)
	}
	return value, nil
}

// ForceOverride removes the lock regardless of holder. It is the
// administrative pre-emption path for stuck runs; pre-empted callers must
// tolerate losing the lock mid-run.
func (l *QuizLock) ForceOverride(ctx context.Context) (bool, error) {
	existed, err := l.Release(ctx)
	if err != nil {
		return false, err
	}
	if existed {
		logging.WarnWithContext(l.logger, "lock forcibly released", "lock_override",
			logging.String(logging.FieldQuizID, l.quizID),
			logging.String(logging.FieldImpact, "any in-flight run for this quiz may be pre-empted"))
	}
	return existed, nil
}
