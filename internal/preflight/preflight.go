package preflight

import (
	"context"

	"desceval/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is configured.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	results = append(results, CheckRedis(ctx, cfg))
	results = append(results, CheckStore(ctx, cfg))
	results = append(results, CheckWorkerBinary(cfg))

	// Grading LLM (when a key is configured)
	if len(cfg.LLM.Keys()) > 0 {
		results = append(results, CheckLLM(ctx, "Grading LLM", cfg.LLM))
	}

	// Code judge (when enabled)
	if cfg.Judge.Enabled {
		results = append(results, CheckJudge(ctx, cfg.Judge.BaseURL, cfg.Judge.APIKey))
	}

	return results
}
