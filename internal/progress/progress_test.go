package progress_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"desceval/internal/progress"
)

type fakeClient struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	writes  int
	failSet bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
	}
}

func (f *fakeClient) SetEx(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet {
		return goredis.NewStatusResult("", errors.New("connection refused"))
	}
	f.writes++
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	f.ttls[key] = expiration
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Get(ctx context.Context, key string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, exists := f.values[key]
	if !exists {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(value, nil)
}

func (f *fakeClient) Del(ctx context.Context, keys ...string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, exists := f.values[key]; exists {
			delete(f.values, key)
			removed++
		}
	}
	return goredis.NewIntResult(removed, nil)
}

func (f *fakeClient) snapshot(t *testing.T, quizID string) progress.Snapshot {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, exists := f.values[progress.Key(quizID)]
	if !exists {
		t.Fatalf("no snapshot stored for quiz %s", quizID)
	}
	var snap progress.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

func TestAdvanceRewritesCompleteSnapshot(t *testing.T) {
	client := newFakeClient()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	current := base
	clock := func() time.Time { return current }

	tracker := progress.NewTracker(client, "quiz-1", 4,
		progress.WithClock(clock), progress.WithTTL(30*time.Minute))

	current = base.Add(2 * time.Second)
	tracker.Advance(context.Background(), progress.PhaseEvaluating)

	snap := client.snapshot(t, "quiz-1")
	if snap.Current != 1 || snap.Total != 4 {
		t.Fatalf("unexpected counts: %d/%d", snap.Current, snap.Total)
	}
	if snap.Progress != 25.0 {
		t.Fatalf("unexpected percent: %v", snap.Progress)
	}
	if snap.Elapsed != 2.0 {
		t.Fatalf("unexpected elapsed: %v", snap.Elapsed)
	}
	if snap.Rate != 0.5 {
		t.Fatalf("unexpected rate: %v", snap.Rate)
	}
	if snap.Remaining != 6.0 {
		t.Fatalf("unexpected remaining: %v", snap.Remaining)
	}
	if snap.CurrentPhase != progress.PhaseEvaluating {
		t.Fatalf("unexpected phase: %q", snap.CurrentPhase)
	}
	if client.ttls[progress.Key("quiz-1")] != 30*time.Minute {
		t.Fatalf("unexpected ttl: %v", client.ttls[progress.Key("quiz-1")])
	}
}

func TestAdvanceCapsAtTotal(t *testing.T) {
	client := newFakeClient()
	tracker := progress.NewTracker(client, "quiz-1", 2)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		tracker.Advance(ctx, progress.PhaseEvaluating)
	}

	snap := client.snapshot(t, "quiz-1")
	if snap.Current != 2 || snap.Progress != 100.0 {
		t.Fatalf("expected capped completion, got %d at %v%%", snap.Current, snap.Progress)
	}
}

func TestSetPhaseDoesNotAdvance(t *testing.T) {
	client := newFakeClient()
	tracker := progress.NewTracker(client, "quiz-1", 3)

	ctx := context.Background()
	tracker.SetPhase(ctx, progress.PhaseValidating)
	snap := client.snapshot(t, "quiz-1")
	if snap.Current != 0 || snap.CurrentPhase != progress.PhaseValidating {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	tracker.Advance(ctx, progress.PhaseEvaluating)
	tracker.SetPhase(ctx, progress.PhaseSaving)
	snap = client.snapshot(t, "quiz-1")
	if snap.Current != 1 || snap.CurrentPhase != progress.PhaseSaving {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestWriteFailureIsSwallowed(t *testing.T) {
	client := newFakeClient()
	client.failSet = true
	tracker := progress.NewTracker(client, "quiz-1", 3)

	// Must not panic or surface the failure.
	tracker.Advance(context.Background(), progress.PhaseEvaluating)
	if tracker.Current() != 1 {
		t.Fatalf("expected local count to advance, got %d", tracker.Current())
	}
}

func TestFetchMissingReturnsNil(t *testing.T) {
	client := newFakeClient()
	snap, err := progress.Fetch(context.Background(), client, "quiz-1")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil snapshot, got %+v", snap)
	}
}

func TestFetchAndClear(t *testing.T) {
	client := newFakeClient()
	tracker := progress.NewTracker(client, "quiz-1", 2)
	ctx := context.Background()
	tracker.Advance(ctx, progress.PhaseEvaluating)

	snap, err := progress.Fetch(ctx, client, "quiz-1")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if snap == nil || snap.Current != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	if err := progress.Clear(ctx, client, "quiz-1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	snap, err = progress.Fetch(ctx, client, "quiz-1")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected snapshot cleared, got %+v", snap)
	}
}
