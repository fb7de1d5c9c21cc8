package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"desceval/internal/api"
	"desceval/internal/ipc"
	"desceval/internal/progress"
)

func newProgressCommand(ctx *commandContext) *cobra.Command {
	var watch bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "progress <quiz-id>",
		Short: "Show live evaluation progress for a quiz",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quizID := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				if !watch {
					resp, err := client.Progress(quizID)
					if err != nil {
						return err
					}
					if jsonOut {
						return writeJSON(cmd, resp)
					}
					out := cmd.OutOrStdout()
					if !resp.Found {
						fmt.Fprintf(out, "No progress recorded for quiz %s\n", quizID)
						return nil
					}
					printProgress(out, resp.Progress)
					return nil
				}
				return watchProgress(cmd, client, quizID)
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the evaluation finishes")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the progress snapshot as JSON")
	return cmd
}

func watchProgress(cmd *cobra.Command, client *ipc.Client, quizID string) error {
	out := cmd.OutOrStdout()
	seen := false
	for {
		resp, err := client.Progress(quizID)
		if err != nil {
			return err
		}
		if resp.Found {
			seen = true
			printProgress(out, resp.Progress)
			if resp.Progress.Phase == progress.PhaseFinalizing && resp.Progress.Percent >= 100 {
				return nil
			}
		} else if seen {
			fmt.Fprintln(out, "Progress snapshot expired; the run finished or was stopped")
			return nil
		} else {
			fmt.Fprintf(out, "Waiting for quiz %s to start...\n", quizID)
		}

		select {
		case <-cmd.Context().Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

func printProgress(out io.Writer, p api.Progress) {
	fmt.Fprintf(out, "Quiz %s: %s %.1f%% (%d/%d)\n", p.QuizID, p.Phase, p.Percent, p.Current, p.Total)
	if p.Rate > 0 {
		fmt.Fprintf(out, "  elapsed %s, %.1f submissions/s, about %s remaining\n",
			formatSeconds(p.Elapsed), p.Rate, formatSeconds(p.Remaining))
		return
	}
	if p.Elapsed > 0 {
		fmt.Fprintf(out, "  elapsed %s\n", formatSeconds(p.Elapsed))
	}
}
