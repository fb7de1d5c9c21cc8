package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"desceval/internal/config"
	"desceval/internal/logging"
	"desceval/internal/notifications"
	"desceval/internal/redisconn"
	"desceval/internal/store"
	"desceval/internal/worker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newWorkerCommand().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newWorkerCommand() *cobra.Command {
	var (
		configPath string
		queueName  string
	)
	cmd := &cobra.Command{
		Use:   "desceval-worker",
		Short: "Desceval evaluation worker",
		Long: `Registers with the worker registry, consumes the shared evaluation
queue, and grades quiz submissions until told to stop.

The desceval daemon spawns and supervises these processes; running one
by hand is only useful for debugging.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), configPath, queueName)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the configuration file")
	cmd.Flags().StringVar(&queueName, "queue", "", "override the job queue to consume")
	return cmd
}

func runWorker(ctx context.Context, configPath, queueName string) error {
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if queueName != "" {
		cfg.Workers.Queue = queueName
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	// Spawned workers share the daemon's stdout; the pid-named file
	// keeps each worker's run separable on disk.
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("desceval-worker-%d.log", os.Getpid()))
	logger, err := logging.New(logging.Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}
	defer st.Close()

	client, err := redisconn.New(cfg)
	if err != nil {
		logger.Error("configure redis client", logging.Error(err))
		return err
	}
	defer client.Close()

	w, err := worker.New(client, st, buildRunner(cfg, st, client, logger), cfg,
		worker.WithLogger(logger),
		worker.WithNotifier(notifications.NewService(cfg)))
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	return w.Run(ctx)
}
