package main

import (
	"context"
	"log"

	"desceval/internal/config"
	"desceval/internal/daemonrun"
)

// descevald runs the evaluation daemon in the foreground for service
// managers. It reads the default configuration; use `desceval daemon`
// when flags are needed.
func main() {
	cfg, configPath, exists, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if !exists {
		configPath = ""
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	err = daemonrun.Run(context.Background(), cfg, configPath, daemonrun.Options{
		LogLevel: cfg.Logging.Level,
	})
	if err != nil {
		log.Fatalf("run daemon: %v", err)
	}
}
