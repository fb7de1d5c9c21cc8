package preflight

import (
	"context"
	"strings"

	"desceval/internal/config"
)

// CheckLLMFromConfig evaluates grading LLM status from config and connectivity.
func CheckLLMFromConfig(cfg *config.Config) Result {
	const name = "Grading LLM"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if len(cfg.LLM.Keys()) == 0 {
		return Result{Name: name, Detail: "No API key configured"}
	}
	check := CheckLLM(context.Background(), name, cfg.LLM)
	if check.Passed {
		return Result{Name: name, Passed: true, Detail: check.Detail}
	}
	return Result{Name: name, Detail: check.Detail}
}

// CheckJudgeFromConfig evaluates code judge status from config and connectivity.
func CheckJudgeFromConfig(cfg *config.Config) Result {
	const name = "Code judge"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if !cfg.Judge.Enabled {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	if strings.TrimSpace(cfg.Judge.BaseURL) == "" {
		return Result{Name: name, Detail: "Missing URL"}
	}
	check := CheckJudge(context.Background(), cfg.Judge.BaseURL, cfg.Judge.APIKey)
	if check.Passed {
		return Result{Name: name, Passed: true, Detail: check.Detail}
	}
	return Result{Name: name, Detail: check.Detail}
}

// CheckRedisFromConfig evaluates Redis status from config and connectivity.
func CheckRedisFromConfig(cfg *config.Config) Result {
	const name = "Redis"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	check := CheckRedis(context.Background(), cfg)
	if check.Passed {
		return Result{Name: name, Passed: true, Detail: check.Detail}
	}
	return Result{Name: name, Detail: check.Detail}
}
