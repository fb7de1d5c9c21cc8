package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRedis(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateEvaluation(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateJudge(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	return c.validateNotifications()
}

func (c *Config) validateRedis() error {
	if strings.TrimSpace(c.Redis.URL) == "" && strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("redis.addr or redis.url must be set")
	}
	if c.Redis.DB < 0 {
		return errors.New("redis.db must be >= 0")
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if err := ensurePositiveMap(map[string]int{
		"workers.ttl":                  c.Workers.TTL,
		"workers.registration_timeout": c.Workers.RegistrationTimeout,
		"workers.poll_interval":        c.Workers.PollInterval,
		"workers.heartbeat_interval":   c.Workers.HeartbeatInterval,
		"workers.health_interval":      c.Workers.HealthInterval,
		"workers.health_window":        c.Workers.HealthWindow,
		"workers.stop_grace_seconds":   c.Workers.StopGraceSeconds,
		"workers.reap_interval":        c.Workers.ReapInterval,
	}); err != nil {
		return err
	}
	if c.Workers.HeartbeatInterval >= c.Workers.TTL {
		return errors.New("workers.heartbeat_interval must be less than workers.ttl")
	}
	if c.Workers.CPUWarnPercent <= 0 || c.Workers.CPUWarnPercent > 100 {
		return errors.New("workers.cpu_warn_percent must be between 0 and 100")
	}
	if c.Workers.MemWarnPercent <= 0 || c.Workers.MemWarnPercent > 100 {
		return errors.New("workers.mem_warn_percent must be between 0 and 100")
	}
	return nil
}

func (c *Config) validateEvaluation() error {
	if err := ensurePositiveMap(map[string]int{
		"evaluation.batch_size":          c.Evaluation.BatchSize,
		"evaluation.max_batch_size":      c.Evaluation.MaxBatchSize,
		"evaluation.batch_timeout":       c.Evaluation.BatchTimeout,
		"evaluation.max_retries":         c.Evaluation.MaxRetries,
		"evaluation.descriptive_seconds": c.Evaluation.DescriptiveSeconds,
		"evaluation.fill_blank_seconds":  c.Evaluation.FillBlankSeconds,
		"evaluation.min_timeout":         c.Evaluation.MinTimeout,
		"evaluation.heartbeat_interval":  c.Evaluation.HeartbeatInterval,
		"evaluation.cache_ttl":           c.Evaluation.CacheTTL,
		"evaluation.db_max_retries":      c.Evaluation.DBMaxRetries,
		"evaluation.lock_ttl":            c.Evaluation.LockTTL,
		"evaluation.lock_retry_interval": c.Evaluation.LockRetryInterval,
	}); err != nil {
		return err
	}
	if c.Evaluation.BatchSize > c.Evaluation.MaxBatchSize {
		return errors.New("evaluation.batch_size must not exceed evaluation.max_batch_size")
	}
	if c.Evaluation.HeartbeatInterval >= c.Evaluation.BatchTimeout {
		return errors.New("evaluation.heartbeat_interval must be less than evaluation.batch_timeout")
	}
	return nil
}

func (c *Config) validateLLM() error {
	if strings.TrimSpace(c.LLM.BaseURL) == "" {
		return errors.New("llm.base_url must be set")
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return errors.New("llm.model must be set")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return errors.New("llm.temperature must be between 0 and 2")
	}
	return nil
}

func (c *Config) validateJudge() error {
	if c.Judge.Enabled && strings.TrimSpace(c.Judge.BaseURL) == "" {
		return errors.New("judge.base_url must be set when judge.enabled is true")
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Bind) == "" {
		return errors.New("metrics.bind must be set when metrics.enabled is true")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
