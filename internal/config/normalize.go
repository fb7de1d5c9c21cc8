package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRedis()
	if err := c.normalizeStore(); err != nil {
		return err
	}
	c.normalizeWorkers()
	c.normalizeEvaluation()
	c.normalizeLLM()
	c.normalizeJudge()
	c.normalizeLogging()
	c.normalizeMetrics()
	c.normalizeNotifications()
	return c.normalizeIPC()
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LockFile) == "" {
		c.Paths.LockFile = defaultLockFile
	}
	if c.Paths.LockFile, err = expandPath(c.Paths.LockFile); err != nil {
		return fmt.Errorf("paths.lock_file: %w", err)
	}
	c.Paths.WorkerBinary = strings.TrimSpace(c.Paths.WorkerBinary)
	if c.Paths.WorkerBinary != "" {
		if c.Paths.WorkerBinary, err = expandPath(c.Paths.WorkerBinary); err != nil {
			return fmt.Errorf("paths.worker_binary: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeRedis() {
	c.Redis.URL = strings.TrimSpace(c.Redis.URL)
	if c.Redis.URL == "" {
		if value, ok := os.LookupEnv("REDIS_URL"); ok {
			c.Redis.URL = strings.TrimSpace(value)
		}
	}
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaultRedisAddr
	}
	if c.Redis.Password == "" {
		if value, ok := os.LookupEnv("REDIS_PASSWORD"); ok {
			c.Redis.Password = value
		}
	}
	if c.Redis.DialTimeout <= 0 {
		c.Redis.DialTimeout = defaultRedisDialTimeout
	}
}

func (c *Config) normalizeStore() error {
	var err error
	if strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = defaultStorePath
	}
	if c.Store.Path, err = expandPath(c.Store.Path); err != nil {
		return fmt.Errorf("store.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorkers() {
	if c.Workers.Count < 0 {
		c.Workers.Count = 0
	}
	c.Workers.Queue = strings.TrimSpace(c.Workers.Queue)
	if c.Workers.Queue == "" {
		c.Workers.Queue = defaultWorkerQueue
	}
	if c.Workers.TTL <= 0 {
		c.Workers.TTL = defaultWorkerTTL
	}
	if c.Workers.RegistrationTimeout <= 0 {
		c.Workers.RegistrationTimeout = defaultRegistrationTimeout
	}
	if c.Workers.PollInterval <= 0 {
		c.Workers.PollInterval = defaultWorkerPollInterval
	}
	if c.Workers.HeartbeatInterval <= 0 {
		c.Workers.HeartbeatInterval = defaultWorkerHeartbeat
	}
	if c.Workers.HealthInterval <= 0 {
		c.Workers.HealthInterval = defaultHealthInterval
	}
	if c.Workers.HealthWindow <= 0 {
		c.Workers.HealthWindow = defaultHealthWindow
	}
	if c.Workers.CPUWarnPercent <= 0 {
		c.Workers.CPUWarnPercent = defaultCPUWarnPercent
	}
	if c.Workers.MemWarnPercent <= 0 {
		c.Workers.MemWarnPercent = defaultMemWarnPercent
	}
	if c.Workers.StopGraceSeconds <= 0 {
		c.Workers.StopGraceSeconds = defaultStopGraceSeconds
	}
	if c.Workers.ReapInterval <= 0 {
		c.Workers.ReapInterval = defaultReapInterval
	}
}

func (c *Config) normalizeEvaluation() {
	if c.Evaluation.BatchSize <= 0 {
		c.Evaluation.BatchSize = defaultBatchSize
	}
	if c.Evaluation.MaxBatchSize <= 0 {
		c.Evaluation.MaxBatchSize = defaultMaxBatchSize
	}
	if c.Evaluation.BatchSize > c.Evaluation.MaxBatchSize {
		c.Evaluation.BatchSize = c.Evaluation.MaxBatchSize
	}
	if c.Evaluation.BatchTimeout <= 0 {
		c.Evaluation.BatchTimeout = defaultBatchTimeout
	}
	if c.Evaluation.MaxRetries <= 0 {
		c.Evaluation.MaxRetries = defaultEvalMaxRetries
	}
	if c.Evaluation.DescriptiveSeconds <= 0 {
		c.Evaluation.DescriptiveSeconds = defaultDescriptiveSeconds
	}
	if c.Evaluation.FillBlankSeconds <= 0 {
		c.Evaluation.FillBlankSeconds = defaultFillBlankSeconds
	}
	if c.Evaluation.MinTimeout <= 0 {
		c.Evaluation.MinTimeout = defaultMinEvalTimeout
	}
	if c.Evaluation.HeartbeatInterval <= 0 {
		c.Evaluation.HeartbeatInterval = defaultEvalHeartbeat
	}
	if c.Evaluation.CacheTTL <= 0 {
		c.Evaluation.CacheTTL = defaultCacheTTL
	}
	if c.Evaluation.GuidelineCacheTTL <= 0 {
		c.Evaluation.GuidelineCacheTTL = defaultGuidelineCacheTTL
	}
	if c.Evaluation.DBMaxRetries <= 0 {
		c.Evaluation.DBMaxRetries = defaultDBMaxRetries
	}
	if c.Evaluation.LockTTL <= 0 {
		c.Evaluation.LockTTL = defaultLockTTL
	}
	if c.Evaluation.LockRetryInterval <= 0 {
		c.Evaluation.LockRetryInterval = defaultLockRetryInterval
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("LLM_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("GROQ_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	keys := c.LLM.APIKeys[:0]
	for _, key := range c.LLM.APIKeys {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	c.LLM.APIKeys = keys
	if len(c.LLM.APIKeys) == 0 {
		// GROQ_API_KEY2..GROQ_API_KEY5 extend the primary key into a
		// rotation pool.
		for i := 2; i <= 5; i++ {
			if value, ok := os.LookupEnv(fmt.Sprintf("GROQ_API_KEY%d", i)); ok {
				if value = strings.TrimSpace(value); value != "" {
					c.LLM.APIKeys = append(c.LLM.APIKeys, value)
				}
			}
		}
		if len(c.LLM.APIKeys) > 0 && c.LLM.APIKey != "" {
			c.LLM.APIKeys = append([]string{c.LLM.APIKey}, c.LLM.APIKeys...)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.Temperature < 0 {
		c.LLM.Temperature = defaultLLMTemperature
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeout
	}
	if c.LLM.MaxAttempts <= 0 {
		c.LLM.MaxAttempts = defaultLLMAttempts
	}
}

func (c *Config) normalizeJudge() {
	c.Judge.BaseURL = strings.TrimSpace(c.Judge.BaseURL)
	c.Judge.APIKey = strings.TrimSpace(c.Judge.APIKey)
	if c.Judge.APIKey == "" {
		if value, ok := os.LookupEnv("JUDGE_API_KEY"); ok {
			c.Judge.APIKey = strings.TrimSpace(value)
		}
	}
	if c.Judge.TimeoutSeconds <= 0 {
		c.Judge.TimeoutSeconds = defaultJudgeTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeMetrics() {
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	if c.Metrics.Bind == "" {
		c.Metrics.Bind = defaultMetricsBind
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.WebhookURL = strings.TrimSpace(c.Notifications.WebhookURL)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeIPC() error {
	var err error
	if strings.TrimSpace(c.IPC.SocketPath) == "" {
		c.IPC.SocketPath = defaultSocketPath
	}
	if c.IPC.SocketPath, err = expandPath(c.IPC.SocketPath); err != nil {
		return fmt.Errorf("ipc.socket_path: %w", err)
	}
	return nil
}
