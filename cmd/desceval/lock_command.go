package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"desceval/internal/ipc"
)

func newLockCommand(ctx *commandContext) *cobra.Command {
	lockCmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect and manage per-quiz evaluation locks",
	}

	lockCmd.AddCommand(newLockStatusCommand(ctx))
	lockCmd.AddCommand(newLockReleaseCommand(ctx))
	return lockCmd
}

func newLockStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status <quiz-id>",
		Short: "Show the distributed lock state for a quiz",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quizID := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.LockStatus(quizID)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				lock := resp.Lock
				if !lock.Locked {
					fmt.Fprintf(out, "Quiz %s is not locked\n", quizID)
					return nil
				}
				fmt.Fprintf(out, "Quiz %s is locked by %s (ttl %s)\n",
					lock.QuizID, lock.Holder, formatSeconds(lock.TTLSeconds))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the lock state as JSON")
	return cmd
}

func newLockReleaseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "release <quiz-id>",
		Short: "Force-release the evaluation lock for a quiz",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quizID := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ReleaseLock(quizID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if resp.Released {
					fmt.Fprintf(out, "Lock released for quiz %s\n", quizID)
				} else {
					fmt.Fprintf(out, "No lock held for quiz %s\n", quizID)
				}
				return nil
			})
		},
	}
}
