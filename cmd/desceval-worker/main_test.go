package main

import (
	"testing"

	"desceval/internal/config"
	"desceval/internal/logging"
	"desceval/internal/worker"
)

func TestRunnerOptionsBaseline(t *testing.T) {
	cfg := config.Default()

	opts := runnerOptions(&cfg, logging.NewNop())
	if len(opts) != 3 {
		t.Fatalf("expected scorer, guideline generator, and logger options, got %d", len(opts))
	}
}

func TestRunnerOptionsWithJudgeAndArtifacts(t *testing.T) {
	cfg := config.Default()
	cfg.Judge.Enabled = true
	cfg.Judge.BaseURL = "http://127.0.0.1:2358"
	cfg.Evaluation.SaveArtifacts = true
	cfg.Paths.DataDir = t.TempDir()

	opts := runnerOptions(&cfg, logging.NewNop())
	if len(opts) != 5 {
		t.Fatalf("expected code runner and artifact dir options added, got %d", len(opts))
	}
}

func TestBuildRunnerSatisfiesWorkerRunner(t *testing.T) {
	cfg := config.Default()

	var runner worker.Runner = buildRunner(&cfg, nil, nil, logging.NewNop())
	if runner == nil {
		t.Fatal("expected a runner")
	}
}

func TestWorkerCommandFlags(t *testing.T) {
	cmd := newWorkerCommand()

	for _, name := range []string{"config", "queue"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Fatalf("expected --%s flag", name)
		}
	}
}
