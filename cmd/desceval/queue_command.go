package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"desceval/internal/ipc"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Summarize the shared evaluation queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueInfo()
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Queue depth: %d\n", resp.Stats.Depth)
				if len(resp.Stats.PendingIDs) == 0 {
					fmt.Fprintln(out, "No jobs waiting")
					return nil
				}
				fmt.Fprintln(out, "Waiting jobs:")
				for _, id := range resp.Stats.PendingIDs {
					fmt.Fprintf(out, "  - %s\n", id)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the queue summary as JSON")
	cmd.AddCommand(newQueuePurgeCommand(ctx))
	return cmd
}

func newQueuePurgeCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Cancel every queued evaluation job",
		Long: `Cancels all jobs still waiting in the queue and marks their records
failed. Jobs a worker has already claimed keep running; stop those with
'desceval workers kill' instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueuePurge()
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Purged) == 0 {
					fmt.Fprintln(out, "No jobs waiting")
					return nil
				}
				fmt.Fprintf(out, "Purged %d queued jobs\n", len(resp.Purged))
				for _, id := range resp.Purged {
					fmt.Fprintf(out, "  - %s\n", id)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the purged job ids as JSON")
	return cmd
}
