package ipc_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"desceval/internal/daemon"
	"desceval/internal/ipc"
	"desceval/internal/lock"
	"desceval/internal/logging"
	"desceval/internal/progress"
	"desceval/internal/quiz"
	"desceval/internal/store"
	"desceval/internal/testsupport"
	"desceval/internal/workerpool"
)

type fakeRedis struct {
	mu      sync.Mutex
	lists   map[string][]string
	strings map[string]string
	ttls    map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		lists:   make(map[string][]string),
		strings: make(map[string]string),
		ttls:    make(map[string]time.Duration),
	}
}

func (f *fakeRedis) setString(key, value string, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strings[key] = value
	f.ttls[key] = ttl
}

func (f *fakeRedis) Ping(ctx context.Context) *goredis.StatusCmd {
	return goredis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) LPush(ctx context.Context, key string, values ...any) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, value := range values {
		f.lists[key] = append([]string{fmt.Sprint(value)}, f.lists[key]...)
	}
	return goredis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) LLen(ctx context.Context, key string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return goredis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) LRange(ctx context.Context, key string, start, stop int64) *goredis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return goredis.NewStringSliceResult(append([]string(nil), f.lists[key]...), nil)
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.strings[key]; exists {
		return goredis.NewBoolResult(false, nil)
	}
	f.strings[key] = fmt.Sprint(value)
	f.ttls[key] = expiration
	return goredis.NewBoolResult(true, nil)
}

func (f *fakeRedis) SetEx(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strings[key] = fmt.Sprint(value)
	f.ttls[key] = expiration
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.strings[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(value, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := f.strings[key]; ok {
			delete(f.strings, key)
			removed++
		}
		if _, ok := f.lists[key]; ok {
			delete(f.lists, key)
			removed++
		}
	}
	return goredis.NewIntResult(removed, nil)
}

func (f *fakeRedis) Exists(ctx context.Context, keys ...string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, key := range keys {
		if _, ok := f.strings[key]; ok {
			count++
		}
	}
	return goredis.NewIntResult(count, nil)
}

func (f *fakeRedis) TTL(ctx context.Context, key string) *goredis.DurationCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.strings[key]; !ok {
		return goredis.NewDurationResult(-2*time.Second, nil)
	}
	return goredis.NewDurationResult(f.ttls[key], nil)
}

func (f *fakeRedis) HSet(ctx context.Context, key string, values ...any) *goredis.IntCmd {
	return goredis.NewIntResult(int64(len(values) / 2), nil)
}

func (f *fakeRedis) HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd {
	return goredis.NewMapStringStringResult(map[string]string{}, nil)
}

func (f *fakeRedis) HIncrBy(ctx context.Context, key, field string, incr int64) *goredis.IntCmd {
	return goredis.NewIntResult(incr, nil)
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *goredis.BoolCmd {
	return goredis.NewBoolResult(true, nil)
}

func (f *fakeRedis) RPush(ctx context.Context, key string, values ...any) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, value := range values {
		f.lists[key] = append(f.lists[key], fmt.Sprint(value))
	}
	return goredis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) BRPop(ctx context.Context, timeout time.Duration, keys ...string) *goredis.StringSliceCmd {
	return goredis.NewStringSliceResult(nil, goredis.Nil)
}

func (f *fakeRedis) LRem(ctx context.Context, key string, count int64, value any) *goredis.IntCmd {
	return goredis.NewIntResult(0, nil)
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...any) *goredis.IntCmd {
	return goredis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) SRem(ctx context.Context, key string, members ...any) *goredis.IntCmd {
	return goredis.NewIntResult(0, nil)
}

func (f *fakeRedis) SMembers(ctx context.Context, key string) *goredis.StringSliceCmd {
	return goredis.NewStringSliceResult(nil, nil)
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *goredis.IntCmd {
	return goredis.NewIntResult(1, nil)
}

type fakePool struct {
	mu       sync.Mutex
	started  bool
	killed   []string
	statuses []workerpool.WorkerStatus
	size     int
}

func (p *fakePool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
	return nil
}

func (p *fakePool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = false
	return nil
}

func (p *fakePool) HealthCheck(ctx context.Context) []workerpool.WorkerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]workerpool.WorkerStatus(nil), p.statuses...)
}

func (p *fakePool) Kill(ctx context.Context, name string, spawnReplacement bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = append(p.killed, name)
	return nil
}

func (p *fakePool) CleanupStale(ctx context.Context) ([]string, error) { return nil, nil }

func (p *fakePool) Size() int { return p.size }

func TestIPCServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir log dir: %v", err)
	}
	logPath := filepath.Join(cfg.Paths.LogDir, "ipc-test.log")
	logger := logging.NewNop()
	rdb := newFakeRedis()
	workerName := "host.77.1756100000"
	pool := &fakePool{size: 1, statuses: []workerpool.WorkerStatus{{
		Name:     workerName,
		PID:      77,
		Alive:    true,
		State:    "idle",
		Uptime:   10 * time.Minute,
		LastSeen: time.Now(),
	}}}
	d, err := daemon.New(cfg, "", st, rdb, logger, logPath, logging.NewStreamHub(128), daemon.WithPool(pool))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socket := cfg.IPC.SocketPath
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		srv.Close()
	})

	time.Sleep(50 * time.Millisecond)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	ping, err := client.Ping()
	if err != nil {
		t.Fatalf("Ping RPC failed: %v", err)
	}
	if !ping.Pong || ping.PID <= 0 || ping.Name != "desceval" {
		t.Fatalf("unexpected ping response: %#v", ping)
	}

	startResp, err := client.Start()
	if err != nil {
		t.Fatalf("Start RPC failed: %v", err)
	}
	if !startResp.Started {
		t.Fatalf("expected Started=true, message=%s", startResp.Message)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running {
		t.Fatal("expected daemon to be running")
	}
	if !status.RedisOK {
		t.Fatalf("expected RedisOK, detail %q", status.RedisDetail)
	}
	if status.SocketPath != socket {
		t.Fatalf("SocketPath = %q, want %q", status.SocketPath, socket)
	}

	testsupport.SeedQuiz(t, st, &quiz.Quiz{ID: "quiz-1", Title: "Midterm", TotalMark: 10},
		testsupport.NewQuestion("q1", quiz.TypeMCQ, 5),
		testsupport.NewQuestion("q2", quiz.TypeDescriptive, 5))
	testsupport.SeedSubmission(t, st, &quiz.Submission{
		ID:        "sub-1",
		QuizID:    "quiz-1",
		StudentID: "student-1",
		Responses: map[string]*quiz.Response{
			"q1": {StudentAnswer: []string{"A"}},
		},
		IsEvaluated: quiz.Unevaluated,
	})

	enq, err := client.EnqueueEvaluation(ipc.EnqueueEvaluationRequest{QuizID: "quiz-1"})
	if err != nil {
		t.Fatalf("EnqueueEvaluation failed: %v", err)
	}
	if enq.Job.QuizID != "quiz-1" || enq.Job.Status != string(store.StatusInitializing) {
		t.Fatalf("unexpected job: %#v", enq.Job)
	}
	if enq.QueueDepth != 1 || enq.Submissions != 1 {
		t.Fatalf("depth=%d submissions=%d, want 1/1", enq.QueueDepth, enq.Submissions)
	}

	if _, err := client.EnqueueEvaluation(ipc.EnqueueEvaluationRequest{QuizID: "quiz-1"}); err == nil {
		t.Fatal("expected duplicate enqueue to be rejected while a job is active")
	} else if !strings.Contains(err.Error(), "already") {
		t.Fatalf("unexpected duplicate enqueue error: %v", err)
	}

	jobsResp, err := client.Jobs(0, nil)
	if err != nil {
		t.Fatalf("Jobs RPC failed: %v", err)
	}
	if len(jobsResp.Jobs) != 1 || jobsResp.Jobs[0].ID != enq.Job.ID {
		t.Fatalf("unexpected jobs response: %#v", jobsResp.Jobs)
	}

	describe, err := client.JobDescribe(enq.Job.ID)
	if err != nil {
		t.Fatalf("JobDescribe failed: %v", err)
	}
	if describe.Job.ID != enq.Job.ID {
		t.Fatalf("JobDescribe ID = %s, want %s", describe.Job.ID, enq.Job.ID)
	}
	if _, err := client.JobDescribe("no-such-job"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}

	queueInfo, err := client.QueueInfo()
	if err != nil {
		t.Fatalf("QueueInfo failed: %v", err)
	}
	if queueInfo.Stats.Depth != 1 {
		t.Fatalf("queue depth = %d, want 1", queueInfo.Stats.Depth)
	}
	if len(queueInfo.Stats.PendingIDs) != 1 || queueInfo.Stats.PendingIDs[0] != enq.Job.ID {
		t.Fatalf("pending ids = %v, want [%s]", queueInfo.Stats.PendingIDs, enq.Job.ID)
	}

	purge, err := client.QueuePurge()
	if err != nil {
		t.Fatalf("QueuePurge failed: %v", err)
	}
	if len(purge.Purged) != 1 || purge.Purged[0] != enq.Job.ID {
		t.Fatalf("purged ids = %v, want [%s]", purge.Purged, enq.Job.ID)
	}
	queueInfo, err = client.QueueInfo()
	if err != nil {
		t.Fatalf("QueueInfo after purge failed: %v", err)
	}
	if queueInfo.Stats.Depth != 0 || len(queueInfo.Stats.PendingIDs) != 0 {
		t.Fatalf("queue not empty after purge: %#v", queueInfo.Stats)
	}
	purgedRow, err := st.GetJob(ctx, enq.Job.ID)
	if err != nil {
		t.Fatalf("GetJob after purge: %v", err)
	}
	if purgedRow == nil || purgedRow.Status != store.StatusFailed {
		t.Fatalf("expected FAILED job row after purge, got %#v", purgedRow)
	}

	workers, err := client.Workers()
	if err != nil {
		t.Fatalf("Workers RPC failed: %v", err)
	}
	if len(workers.Workers) != 1 || workers.Workers[0].Name != workerName || !workers.Workers[0].Alive {
		t.Fatalf("unexpected workers response: %#v", workers.Workers)
	}

	kill, err := client.KillWorker(workerName, false)
	if err != nil {
		t.Fatalf("KillWorker failed: %v", err)
	}
	if !kill.Killed {
		t.Fatalf("expected kill, message %q", kill.Message)
	}

	lockResp, err := client.LockStatus("quiz-1")
	if err != nil {
		t.Fatalf("LockStatus failed: %v", err)
	}
	if lockResp.Lock.Locked {
		t.Fatal("expected quiz-1 to be unlocked")
	}
	rdb.setString(lock.Key("quiz-2"), "host.41.1756100000", 30*time.Minute)
	lockResp, err = client.LockStatus("quiz-2")
	if err != nil {
		t.Fatalf("LockStatus quiz-2 failed: %v", err)
	}
	if !lockResp.Lock.Locked || lockResp.Lock.Holder != "host.41.1756100000" || lockResp.Lock.TTLSeconds != 1800 {
		t.Fatalf("unexpected lock status: %#v", lockResp.Lock)
	}
	releaseResp, err := client.ReleaseLock("quiz-2")
	if err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	if !releaseResp.Released {
		t.Fatal("expected lock release")
	}

	prog, err := client.Progress("quiz-1")
	if err != nil {
		t.Fatalf("Progress RPC failed: %v", err)
	}
	if prog.Found {
		t.Fatal("expected no progress snapshot yet")
	}
	rdb.setString(progress.Key("quiz-1"),
		`{"progress":40,"total":10,"current":4,"elapsed":12.5,"rate":0.32,"remaining":18.75,"last_update":"2025-08-25T10:00:00Z","current_phase":"evaluating"}`,
		time.Minute)
	prog, err = client.Progress("quiz-1")
	if err != nil {
		t.Fatalf("Progress RPC failed: %v", err)
	}
	if !prog.Found || prog.Progress.Percent != 40 || prog.Progress.Current != 4 || prog.Progress.Phase != "evaluating" {
		t.Fatalf("unexpected progress: %#v", prog.Progress)
	}

	if _, err := client.Report("quiz-1"); err == nil || !strings.Contains(err.Error(), "no report stored") {
		t.Fatalf("expected missing report error, got %v", err)
	}
	if err := st.SaveReport(ctx, "quiz-1", []byte(`{"totalStudents":1}`)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	report, err := client.Report("quiz-1")
	if err != nil {
		t.Fatalf("Report RPC failed: %v", err)
	}
	if report.Report.QuizID != "quiz-1" || !strings.Contains(string(report.Report.Data), "totalStudents") {
		t.Fatalf("unexpected report: %#v", report.Report)
	}
	if _, err := client.RegenerateReport("quiz-1"); err == nil || !strings.Contains(err.Error(), "has not been evaluated") {
		t.Fatalf("expected unevaluated quiz rejection, got %v", err)
	}

	if err := os.WriteFile(logPath, []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}

	logResp, err := client.LogTail(ipc.LogTailRequest{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("LogTail initial failed: %v", err)
	}
	if len(logResp.Lines) != 2 || logResp.Lines[0] != "second" || logResp.Lines[1] != "third" {
		t.Fatalf("unexpected log tail response: %#v", logResp.Lines)
	}

	followDone := make(chan struct{})
	go func(offset int64) {
		resp, err := client.LogTail(ipc.LogTailRequest{Offset: offset, Follow: true, WaitMillis: 500})
		if err != nil {
			t.Errorf("LogTail follow error: %v", err)
			return
		}
		if len(resp.Lines) != 1 || resp.Lines[0] != "fourth" {
			t.Errorf("unexpected follow lines: %#v", resp.Lines)
		}
		close(followDone)
	}(logResp.Offset)

	time.Sleep(100 * time.Millisecond)
	if f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
		_, _ = f.WriteString("fourth\n")
		_ = f.Close()
	} else {
		t.Fatalf("append log: %v", err)
	}

	select {
	case <-followDone:
	case <-time.After(10 * time.Second):
		t.Fatal("log tail follow timed out")
	}

	health, err := client.StoreHealth()
	if err != nil {
		t.Fatalf("StoreHealth failed: %v", err)
	}
	if !strings.HasSuffix(health.DBPath, "desceval.db") {
		t.Fatalf("unexpected db path: %s", health.DBPath)
	}
	if health.MigrationsApplied == 0 || health.IntegrityCheck != "ok" {
		t.Fatalf("unexpected store health: %#v", health)
	}

	notifyResp, err := client.TestNotification()
	if err != nil {
		t.Fatalf("TestNotification failed: %v", err)
	}
	if notifyResp.Sent || notifyResp.Message == "" {
		t.Fatalf("expected unsent notification with message, got %#v", notifyResp)
	}

	stopResp, err := client.Stop()
	if err != nil {
		t.Fatalf("Stop RPC failed: %v", err)
	}
	if !stopResp.Stopped {
		t.Fatal("expected stop response to be true")
	}

	status, err = client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}
