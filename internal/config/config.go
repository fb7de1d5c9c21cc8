package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and file locations used by the daemon and workers.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	LogDir       string `toml:"log_dir"`
	LockFile     string `toml:"lock_file"`
	WorkerBinary string `toml:"worker_binary"`
}

// Redis contains connection settings for the coordination backend.
// URL, when set, wins over the discrete fields.
type Redis struct {
	URL         string `toml:"url"`
	Addr        string `toml:"addr"`
	Password    string `toml:"password"`
	DB          int    `toml:"db"`
	DialTimeout int    `toml:"dial_timeout"`
}

// Store contains settings for the durable SQLite store.
type Store struct {
	Path string `toml:"path"`
}

// Workers contains worker pool sizing and lifecycle settings.
type Workers struct {
	Count               int     `toml:"count"`
	Queue               string  `toml:"queue"`
	TTL                 int     `toml:"ttl"`
	RegistrationTimeout int     `toml:"registration_timeout"`
	PollInterval        int     `toml:"poll_interval"`
	HeartbeatInterval   int     `toml:"heartbeat_interval"`
	HealthInterval      int     `toml:"health_interval"`
	HealthWindow        int     `toml:"health_window"`
	CPUWarnPercent      float64 `toml:"cpu_warn_percent"`
	MemWarnPercent      float64 `toml:"mem_warn_percent"`
	StopGraceSeconds    int     `toml:"stop_grace_seconds"`
	ReapInterval        int     `toml:"reap_interval"`
}

// Evaluation contains batch orchestration and scoring tunables.
type Evaluation struct {
	BatchSize          int `toml:"batch_size"`
	MaxBatchSize       int `toml:"max_batch_size"`
	BatchTimeout       int `toml:"batch_timeout"`
	MaxRetries         int `toml:"max_retries"`
	DescriptiveSeconds int `toml:"descriptive_seconds"`
	FillBlankSeconds   int `toml:"fill_blank_seconds"`
	MinTimeout         int `toml:"min_timeout"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	CacheTTL           int `toml:"cache_ttl"`
	GuidelineCacheTTL  int `toml:"guideline_cache_ttl"`
	DBMaxRetries       int `toml:"db_max_retries"`
	LockTTL            int  `toml:"lock_ttl"`
	LockRetryInterval  int  `toml:"lock_retry_interval"`
	SaveArtifacts      bool `toml:"save_artifacts"`
}

// LLM contains connection settings for the grading model endpoint.
// APIKeys, when set, are used in rotation across requests so one
// rate-limited key does not stall a whole batch; APIKey is the
// single-key fallback.
type LLM struct {
	APIKey         string   `toml:"api_key"`
	APIKeys        []string `toml:"api_keys"`
	BaseURL        string   `toml:"base_url"`
	Model          string   `toml:"model"`
	Temperature    float64  `toml:"temperature"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	MaxAttempts    int      `toml:"max_attempts"`
}

// Keys returns the API keys to rotate through: APIKeys when present,
// otherwise the single APIKey. Empty when neither is configured.
func (l LLM) Keys() []string {
	if len(l.APIKeys) > 0 {
		return l.APIKeys
	}
	if l.APIKey != "" {
		return []string{l.APIKey}
	}
	return nil
}

// Judge contains connection settings for the code execution service.
type Judge struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Metrics contains the Prometheus exposition settings.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
}

// Notifications contains configuration for ntfy-style push notifications.
type Notifications struct {
	WebhookURL     string `toml:"webhook_url"`
	RequestTimeout int    `toml:"request_timeout"`
	Evaluation     bool   `toml:"evaluation"`
	Workers        bool   `toml:"workers"`
	Errors         bool   `toml:"errors"`
}

// IPC contains the control socket settings.
type IPC struct {
	SocketPath string `toml:"socket_path"`
}

// Config encapsulates all configuration values for desceval.
//
// Configuration sections by subsystem:
//   - Paths: runtime directories, daemon lock file, worker binary
//   - Redis: coordination backend (locks, registry, queue, progress)
//   - Store: durable SQLite store for quizzes, results, jobs, reports
//   - Workers: pool sizing, registration deadline, health sampling
//   - Evaluation: batch sizing, timeouts, retry budgets, cache TTLs
//   - LLM: grading model endpoint for descriptive/fill-in-blank items
//   - Judge: code execution service for coding items
//   - Logging: log format, level, and retention
//   - Metrics: Prometheus exposition
//   - Notifications: ntfy-style webhook settings
//   - IPC: control socket path for the CLI
type Config struct {
	Paths         Paths         `toml:"paths"`
	Redis         Redis         `toml:"redis"`
	Store         Store         `toml:"store"`
	Workers       Workers       `toml:"workers"`
	Evaluation    Evaluation    `toml:"evaluation"`
	LLM           LLM           `toml:"llm"`
	Judge         Judge         `toml:"judge"`
	Logging       Logging       `toml:"logging"`
	Metrics       Metrics       `toml:"metrics"`
	Notifications Notifications `toml:"notifications"`
	IPC           IPC           `toml:"ipc"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/desceval/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/desceval/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("desceval.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.LogDir,
		filepath.Dir(c.Paths.LockFile),
		filepath.Dir(c.Store.Path),
		filepath.Dir(c.IPC.SocketPath),
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	sample := sampleConfig

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
