package main

import (
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"desceval/internal/config"
	"desceval/internal/orchestrator"
	"desceval/internal/services/judge"
	"desceval/internal/services/llm"
	"desceval/internal/store"
)

func buildRunner(cfg *config.Config, st *store.Store, client *goredis.Client, logger *slog.Logger) *orchestrator.Orchestrator {
	return orchestrator.New(st, client, cfg.Evaluation, runnerOptions(cfg, logger)...)
}

// runnerOptions derives the orchestrator wiring from the configuration:
// the grading model client always, the code execution client only when
// the judge section enables it, artifact files only when requested.
func runnerOptions(cfg *config.Config, logger *slog.Logger) []orchestrator.Option {
	var llmOpts []llm.Option
	if cfg.LLM.MaxAttempts > 0 {
		llmOpts = append(llmOpts, llm.WithRetryMaxAttempts(cfg.LLM.MaxAttempts))
	}
	grader := llm.NewClient(llm.Config{
		APIKeys:        cfg.LLM.Keys(),
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		Temperature:    cfg.LLM.Temperature,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	}, llmOpts...)

	opts := []orchestrator.Option{
		orchestrator.WithScorer(grader),
		orchestrator.WithGuidelineGenerator(grader),
		orchestrator.WithLogger(logger),
	}
	if cfg.Judge.Enabled {
		opts = append(opts, orchestrator.WithCodeRunner(judge.NewClient(judge.Config{
			BaseURL:        cfg.Judge.BaseURL,
			APIKey:         cfg.Judge.APIKey,
			TimeoutSeconds: cfg.Judge.TimeoutSeconds,
		})))
	}
	if cfg.Evaluation.SaveArtifacts {
		opts = append(opts, orchestrator.WithArtifactDir(cfg.Paths.DataDir))
	}
	return opts
}
