package jobqueue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"desceval/internal/jobqueue"
)

type fakeClient struct {
	mu        sync.Mutex
	hashes    map[string]map[string]string
	lists     map[string][]string
	sets      map[string]map[string]struct{}
	ttls      map[string]time.Duration
	published map[string][]string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		hashes:    make(map[string]map[string]string),
		lists:     make(map[string][]string),
		sets:      make(map[string]map[string]struct{}),
		ttls:      make(map[string]time.Duration),
		published: make(map[string][]string),
	}
}

func (f *fakeClient) HSet(ctx context.Context, key string, values ...any) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := f.hashes[key]
	if hash == nil {
		hash = make(map[string]string)
		f.hashes[key] = hash
	}
	for i := 0; i+1 < len(values); i += 2 {
		hash[fmt.Sprint(values[i])] = fmt.Sprint(values[i+1])
	}
	return goredis.NewIntResult(int64(len(values)/2), nil)
}

func (f *fakeClient) HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make(map[string]string, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		result[k] = v
	}
	return goredis.NewMapStringStringResult(result, nil)
}

func (f *fakeClient) Expire(ctx context.Context, key string, expiration time.Duration) *goredis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttls[key] = expiration
	return goredis.NewBoolResult(true, nil)
}

func (f *fakeClient) Del(ctx context.Context, keys ...string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, exists := f.hashes[key]; exists {
			delete(f.hashes, key)
			removed++
		}
		if _, exists := f.sets[key]; exists {
			delete(f.sets, key)
			removed++
		}
		if _, exists := f.lists[key]; exists {
			delete(f.lists, key)
			removed++
		}
	}
	return goredis.NewIntResult(removed, nil)
}

func (f *fakeClient) LPush(ctx context.Context, key string, values ...any) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, value := range values {
		f.lists[key] = append([]string{fmt.Sprint(value)}, f.lists[key]...)
	}
	return goredis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeClient) RPush(ctx context.Context, key string, values ...any) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, value := range values {
		f.lists[key] = append(f.lists[key], fmt.Sprint(value))
	}
	return goredis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeClient) BRPop(ctx context.Context, timeout time.Duration, keys ...string) *goredis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		list := f.lists[key]
		if len(list) == 0 {
			continue
		}
		last := list[len(list)-1]
		f.lists[key] = list[:len(list)-1]
		return goredis.NewStringSliceResult([]string{key, last}, nil)
	}
	return goredis.NewStringSliceResult(nil, goredis.Nil)
}

func (f *fakeClient) LRem(ctx context.Context, key string, count int64, value any) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := fmt.Sprint(value)
	var kept []string
	var removed int64
	for _, member := range f.lists[key] {
		if member == target {
			removed++
			continue
		}
		kept = append(kept, member)
	}
	f.lists[key] = kept
	return goredis.NewIntResult(removed, nil)
}

func (f *fakeClient) LRange(ctx context.Context, key string, start, stop int64) *goredis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := append([]string(nil), f.lists[key]...)
	return goredis.NewStringSliceResult(list, nil)
}

func (f *fakeClient) LLen(ctx context.Context, key string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return goredis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeClient) SAdd(ctx context.Context, key string, members ...any) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.sets[key]
	if set == nil {
		set = make(map[string]struct{})
		f.sets[key] = set
	}
	var added int64
	for _, member := range members {
		name := fmt.Sprint(member)
		if _, exists := set[name]; !exists {
			set[name] = struct{}{}
			added++
		}
	}
	return goredis.NewIntResult(added, nil)
}

func (f *fakeClient) SRem(ctx context.Context, key string, members ...any) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.sets[key]
	var removed int64
	for _, member := range members {
		name := fmt.Sprint(member)
		if _, exists := set[name]; exists {
			delete(set, name)
			removed++
		}
	}
	return goredis.NewIntResult(removed, nil)
}

func (f *fakeClient) SMembers(ctx context.Context, key string) *goredis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var members []string
	for name := range f.sets[key] {
		members = append(members, name)
	}
	return goredis.NewStringSliceResult(members, nil)
}

func (f *fakeClient) Publish(ctx context.Context, channel string, message any) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := message.(type) {
	case []byte:
		f.published[channel] = append(f.published[channel], string(v))
	default:
		f.published[channel] = append(f.published[channel], fmt.Sprint(v))
	}
	return goredis.NewIntResult(1, nil)
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	client := newFakeClient()
	queue := jobqueue.New(client, "task_queue", jobqueue.WithTTL(30*time.Minute))
	ctx := context.Background()

	req := jobqueue.NewRequest("quiz-1")
	req.OverrideEvaluated = true
	req.Types = map[string]bool{"MCQ": true, "DESCRIPTIVE": false}
	if err := queue.Enqueue(ctx, req); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	length, err := queue.Length(ctx)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if length != 1 {
		t.Fatalf("expected 1 queued job, got %d", length)
	}

	got, err := queue.Dequeue(ctx, "worker-a", time.Second)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if got == nil || got.JobID != req.JobID || got.QuizID != "quiz-1" {
		t.Fatalf("unexpected request: %#v", got)
	}
	if !got.OverrideEvaluated || !got.Types["MCQ"] || got.Types["DESCRIPTIVE"] {
		t.Fatalf("request flags did not round trip: %#v", got)
	}

	info, err := queue.Info(ctx, req.JobID)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Status != jobqueue.StatusStarted || info.Worker != "worker-a" {
		t.Fatalf("unexpected claim state: %#v", info)
	}
	if info.StartedAt == nil {
		t.Fatal("expected started_at stamp")
	}

	inFlight, err := queue.InFlight(ctx, "worker-a")
	if err != nil {
		t.Fatalf("InFlight failed: %v", err)
	}
	if len(inFlight) != 1 || inFlight[0] != req.JobID {
		t.Fatalf("unexpected in-flight set: %#v", inFlight)
	}
}

func TestDequeueEmptyReturnsNil(t *testing.T) {
	client := newFakeClient()
	queue := jobqueue.New(client, "task_queue")

	got, err := queue.Dequeue(context.Background(), "worker-a", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil on empty queue, got %#v", got)
	}
}

func TestFIFOOrder(t *testing.T) {
	client := newFakeClient()
	queue := jobqueue.New(client, "task_queue")
	ctx := context.Background()

	first := jobqueue.NewRequest("quiz-1")
	second := jobqueue.NewRequest("quiz-2")
	if err := queue.Enqueue(ctx, first); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := queue.Enqueue(ctx, second); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	pending, err := queue.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 2 || pending[0] != first.JobID || pending[1] != second.JobID {
		t.Fatalf("unexpected pending order: %#v", pending)
	}

	got, err := queue.Dequeue(ctx, "worker-a", time.Second)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if got.JobID != first.JobID {
		t.Fatalf("expected FIFO order, got %s first", got.JobID)
	}
}

func TestFinishAndFail(t *testing.T) {
	client := newFakeClient()
	queue := jobqueue.New(client, "task_queue")
	ctx := context.Background()

	req := jobqueue.NewRequest("quiz-1")
	if err := queue.Enqueue(ctx, req); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := queue.Dequeue(ctx, "worker-a", time.Second); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}

	if err := queue.Finish(ctx, req.JobID); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	info, err := queue.Info(ctx, req.JobID)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Status != jobqueue.StatusFinished || info.FinishedAt == nil {
		t.Fatalf("unexpected finished state: %#v", info)
	}
	inFlight, err := queue.InFlight(ctx, "worker-a")
	if err != nil {
		t.Fatalf("InFlight failed: %v", err)
	}
	if len(inFlight) != 0 {
		t.Fatalf("expected cleared in-flight set, got %#v", inFlight)
	}

	failed := jobqueue.NewRequest("quiz-2")
	if err := queue.Enqueue(ctx, failed); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := queue.Dequeue(ctx, "worker-a", time.Second); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if err := queue.Fail(ctx, failed.JobID, "batch orchestration error"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	info, err = queue.Info(ctx, failed.JobID)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Status != jobqueue.StatusFailed || info.Error != "batch orchestration error" {
		t.Fatalf("unexpected failed state: %#v", info)
	}
}

func TestAbortSettlesClaimedJob(t *testing.T) {
	client := newFakeClient()
	queue := jobqueue.New(client, "task_queue")
	ctx := context.Background()

	req := jobqueue.NewRequest("quiz-1")
	if err := queue.Enqueue(ctx, req); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := queue.Dequeue(ctx, "worker-a", time.Second); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}

	if err := queue.Abort(ctx, req.JobID, "stopped by operator"); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	info, err := queue.Info(ctx, req.JobID)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Status != jobqueue.StatusCanceled || info.Error != "stopped by operator" {
		t.Fatalf("unexpected aborted state: %#v", info)
	}
	inFlight, err := queue.InFlight(ctx, "worker-a")
	if err != nil {
		t.Fatalf("InFlight failed: %v", err)
	}
	if len(inFlight) != 0 {
		t.Fatalf("expected cleared in-flight set, got %#v", inFlight)
	}
}

func TestCancelRemovesQueuedJob(t *testing.T) {
	client := newFakeClient()
	queue := jobqueue.New(client, "task_queue")
	ctx := context.Background()

	req := jobqueue.NewRequest("quiz-1")
	if err := queue.Enqueue(ctx, req); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := queue.Cancel(ctx, req.JobID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	length, err := queue.Length(ctx)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if length != 0 {
		t.Fatalf("expected empty queue after cancel, got %d", length)
	}
	info, err := queue.Info(ctx, req.JobID)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Status != jobqueue.StatusCanceled {
		t.Fatalf("unexpected status: %q", info.Status)
	}
}

func TestPurgeCancelsWaitingJobsOnly(t *testing.T) {
	client := newFakeClient()
	queue := jobqueue.New(client, "task_queue")
	ctx := context.Background()

	claimed := jobqueue.NewRequest("quiz-1")
	waiting := jobqueue.NewRequest("quiz-2")
	if err := queue.Enqueue(ctx, claimed); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := queue.Dequeue(ctx, "worker-a", time.Second); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if err := queue.Enqueue(ctx, waiting); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	purged, err := queue.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if len(purged) != 1 || purged[0] != waiting.JobID {
		t.Fatalf("unexpected purged ids: %#v", purged)
	}

	length, err := queue.Length(ctx)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if length != 0 {
		t.Fatalf("expected empty queue after purge, got %d", length)
	}

	info, err := queue.Info(ctx, waiting.JobID)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Status != jobqueue.StatusCanceled || info.Error != "purged from queue" {
		t.Fatalf("unexpected purged job state: %#v", info)
	}

	info, err = queue.Info(ctx, claimed.JobID)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Status != jobqueue.StatusStarted || info.Worker != "worker-a" {
		t.Fatalf("expected claimed job untouched, got %#v", info)
	}

	purged, err = queue.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge on empty queue failed: %v", err)
	}
	if len(purged) != 0 {
		t.Fatalf("expected nothing to purge, got %#v", purged)
	}
}

func TestRequeueWorkerReturnsOrphans(t *testing.T) {
	client := newFakeClient()
	queue := jobqueue.New(client, "task_queue")
	ctx := context.Background()

	orphan := jobqueue.NewRequest("quiz-1")
	waiting := jobqueue.NewRequest("quiz-2")
	if err := queue.Enqueue(ctx, orphan); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := queue.Dequeue(ctx, "dead-worker", time.Second); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if err := queue.Enqueue(ctx, waiting); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	requeued, err := queue.RequeueWorker(ctx, "dead-worker")
	if err != nil {
		t.Fatalf("RequeueWorker failed: %v", err)
	}
	if len(requeued) != 1 || requeued[0] != orphan.JobID {
		t.Fatalf("unexpected requeued ids: %#v", requeued)
	}

	// The orphan goes to the front, ahead of the job that was already
	// waiting.
	got, err := queue.Dequeue(ctx, "worker-b", time.Second)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if got.JobID != orphan.JobID {
		t.Fatalf("expected orphan first, got %s", got.JobID)
	}

	info, err := queue.Info(ctx, orphan.JobID)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Worker != "worker-b" {
		t.Fatalf("expected new claim, got %#v", info)
	}
}

func TestStopJobCommandRoundTrip(t *testing.T) {
	client := newFakeClient()
	queue := jobqueue.New(client, "task_queue")
	ctx := context.Background()

	if err := queue.SendStopJob(ctx, "worker-a", "job-9"); err != nil {
		t.Fatalf("SendStopJob failed: %v", err)
	}

	channel := jobqueue.CommandChannel("worker-a")
	messages := client.published[channel]
	if len(messages) != 1 {
		t.Fatalf("expected 1 published command, got %d", len(messages))
	}

	cmd, err := jobqueue.ParseCommand(messages[0])
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}
	if cmd.Command != jobqueue.CommandStopJob || cmd.JobID != "job-9" {
		t.Fatalf("unexpected command: %#v", cmd)
	}

	if _, err := jobqueue.ParseCommand("{}"); err == nil {
		t.Fatal("expected error for command without verb")
	}
}
