package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"desceval/internal/ipc"
)

func newEvaluateCommand(ctx *commandContext) *cobra.Command {
	var override bool
	var refreshCache bool
	var types []string
	var timeoutSeconds int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "evaluate <quiz-id>",
		Short: "Queue an evaluation run for a quiz",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quizID := strings.TrimSpace(args[0])
			if quizID == "" {
				return fmt.Errorf("quiz id is required")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.EnqueueEvaluation(ipc.EnqueueEvaluationRequest{
					QuizID:         quizID,
					Override:       override,
					OverrideCache:  refreshCache,
					Types:          types,
					TimeoutSeconds: timeoutSeconds,
				})
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Queued evaluation job %s for quiz %s\n", resp.Job.ID, resp.Job.QuizID)
				fmt.Fprintf(out, "Submissions: %d\n", resp.Submissions)
				fmt.Fprintf(out, "Queue depth: %d\n", resp.QueueDepth)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&override, "override", false, "Re-evaluate submissions that were already scored")
	cmd.Flags().BoolVar(&refreshCache, "refresh-cache", false, "Discard cached quiz data before the run")
	cmd.Flags().StringArrayVar(&types, "type", nil, "Restrict the run to the given item types (repeatable)")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout-seconds", 0, "Per-item evaluation timeout override")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the enqueue response as JSON")
	return cmd
}
