package testsupport

import (
	"path/filepath"
	"testing"

	"desceval/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.LockFile = filepath.Join(base, "descevald.lock")
	cfgVal.Store.Path = filepath.Join(base, "desceval.db")
	cfgVal.IPC.SocketPath = filepath.Join(base, "descevald.sock")
	cfgVal.LLM.APIKey = "test"
	cfgVal.Metrics.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithBatchSize overrides the evaluation batch size on the test config.
func WithBatchSize(size int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Evaluation.BatchSize = size
	}
}

// WithWorkerCount overrides the worker pool size on the test config.
func WithWorkerCount(count int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workers.Count = count
	}
}

// WithRedisAddr points the test config at a specific Redis endpoint.
func WithRedisAddr(addr string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Redis.URL = ""
		b.cfg.Redis.Addr = addr
	}
}

// WithJudge enables the code execution service on the test config.
func WithJudge(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Judge.Enabled = true
		b.cfg.Judge.BaseURL = baseURL
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
