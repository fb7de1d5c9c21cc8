package config

const (
	defaultDataDir    = "~/.local/share/desceval/data"
	defaultLogDir     = "~/.local/share/desceval/logs"
	defaultLockFile   = "~/.local/share/desceval/descevald.lock"
	defaultStorePath  = "~/.local/share/desceval/desceval.db"
	defaultSocketPath = "~/.local/share/desceval/descevald.sock"

	defaultRedisAddr        = "127.0.0.1:6379"
	defaultRedisDialTimeout = 5

	defaultWorkerCount         = 4
	defaultWorkerQueue         = "task_queue"
	defaultWorkerTTL           = 3600
	defaultRegistrationTimeout = 30
	defaultWorkerPollInterval  = 5
	defaultWorkerHeartbeat     = 15
	defaultHealthInterval      = 30
	defaultHealthWindow        = 60
	defaultCPUWarnPercent      = 85.0
	defaultMemWarnPercent      = 85.0
	defaultStopGraceSeconds    = 3
	defaultReapInterval        = 60

	defaultBatchSize          = 5
	defaultMaxBatchSize       = 200
	defaultBatchTimeout       = 300
	defaultEvalMaxRetries     = 10
	defaultDescriptiveSeconds = 20
	defaultFillBlankSeconds   = 20
	defaultMinEvalTimeout     = 90
	defaultEvalHeartbeat      = 10
	defaultCacheTTL           = 3600
	defaultGuidelineCacheTTL  = 86400
	defaultDBMaxRetries       = 3
	defaultLockTTL            = 3600
	defaultLockRetryInterval  = 1

	defaultLLMBaseURL     = "http://127.0.0.1:8000/v1/chat/completions"
	defaultLLMModel       = "meta-llama/Meta-Llama-3.1-8B-Instruct"
	defaultLLMTemperature = 0.0
	defaultLLMTimeout     = 60
	defaultLLMAttempts    = 5

	defaultJudgeTimeout = 120

	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 60

	defaultMetricsBind = "127.0.0.1:9109"

	defaultNotifyRequestTimeout = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			LogDir:   defaultLogDir,
			LockFile: defaultLockFile,
		},
		Redis: Redis{
			Addr:        defaultRedisAddr,
			DialTimeout: defaultRedisDialTimeout,
		},
		Store: Store{
			Path: defaultStorePath,
		},
		Workers: Workers{
			Count:               defaultWorkerCount,
			Queue:               defaultWorkerQueue,
			TTL:                 defaultWorkerTTL,
			RegistrationTimeout: defaultRegistrationTimeout,
			PollInterval:        defaultWorkerPollInterval,
			HeartbeatInterval:   defaultWorkerHeartbeat,
			HealthInterval:      defaultHealthInterval,
			HealthWindow:        defaultHealthWindow,
			CPUWarnPercent:      defaultCPUWarnPercent,
			MemWarnPercent:      defaultMemWarnPercent,
			StopGraceSeconds:    defaultStopGraceSeconds,
			ReapInterval:        defaultReapInterval,
		},
		Evaluation: Evaluation{
			BatchSize:          defaultBatchSize,
			MaxBatchSize:       defaultMaxBatchSize,
			BatchTimeout:       defaultBatchTimeout,
			MaxRetries:         defaultEvalMaxRetries,
			DescriptiveSeconds: defaultDescriptiveSeconds,
			FillBlankSeconds:   defaultFillBlankSeconds,
			MinTimeout:         defaultMinEvalTimeout,
			HeartbeatInterval:  defaultEvalHeartbeat,
			CacheTTL:           defaultCacheTTL,
			GuidelineCacheTTL:  defaultGuidelineCacheTTL,
			DBMaxRetries:       defaultDBMaxRetries,
			LockTTL:            defaultLockTTL,
			LockRetryInterval:  defaultLockRetryInterval,
			SaveArtifacts:      true,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Temperature:    defaultLLMTemperature,
			TimeoutSeconds: defaultLLMTimeout,
			MaxAttempts:    defaultLLMAttempts,
		},
		Judge: Judge{
			TimeoutSeconds: defaultJudgeTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Metrics: Metrics{
			Bind: defaultMetricsBind,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Evaluation:     true,
			Workers:        true,
			Errors:         true,
		},
		IPC: IPC{
			SocketPath: defaultSocketPath,
		},
	}
}
