package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"desceval/internal/config"
	"desceval/internal/daemon"
	"desceval/internal/ipc"
	"desceval/internal/logging"
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
	return goredis.NewIntResult(int64(len(values)/2), nil)
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

type cliTestEnv struct {
	cfg        *config.Config
	store      *store.Store
	redis      *fakeRedis
	pool       *fakePool
	daemon     *daemon.Daemon
	server     *ipc.Server
	socketPath string
	configPath string
	baseDir    string
	logPath    string
	cancel     context.CancelFunc
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	cfg := testsupport.NewConfig(t)
	logPath := filepath.Join(cfg.Paths.LogDir, "desceval-test.log")
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir log dir: %v", err)
	}
	if _, err := os.Stat(logPath); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(logPath, nil, 0o644); err != nil {
			t.Fatalf("create log file: %v", err)
		}
	}

	configPath := filepath.Join(homeDir, ".config", "desceval", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg)

	st := testsupport.MustOpenStore(t, cfg)

	logger := logging.NewNop()
	rdb := newFakeRedis()
	workerName := "host.901.1756100000"
	pool := &fakePool{size: 1, statuses: []workerpool.WorkerStatus{{
		Name:     workerName,
		PID:      901,
		Alive:    true,
		State:    "idle",
		Uptime:   3 * time.Minute,
		LastSeen: time.Now(),
	}}}

	d, err := daemon.New(cfg, "", st, rdb, logger, logPath, logging.NewStreamHub(128), daemon.WithPool(pool))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	socketPath := cfg.IPC.SocketPath
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		cancel()
		d.Close()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	env := &cliTestEnv{
		cfg:        cfg,
		store:      st,
		redis:      rdb,
		pool:       pool,
		daemon:     d,
		server:     srv,
		socketPath: socketPath,
		configPath: configPath,
		baseDir:    base,
		logPath:    logPath,
		cancel:     cancel,
	}

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})

	return env
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
lock_file = %q

[store]
path = %q

[ipc]
socket_path = %q

[llm]
api_key = %q
`,
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		cfg.Paths.LockFile,
		cfg.Store.Path,
		cfg.IPC.SocketPath,
		cfg.LLM.APIKey,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
