package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"desceval/internal/ipc"
)

func newWorkersCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	workersCmd := &cobra.Command{
		Use:   "workers",
		Short: "List pool workers with health samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Workers()
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				rows := buildWorkerRows(resp.Workers)
				if len(rows) == 0 {
					fmt.Fprintln(out, "No workers registered")
					return nil
				}
				fmt.Fprintln(out, renderTable(workerTableHeaders, rows, workerTableAligns))
				return nil
			})
		},
	}

	workersCmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the worker list as JSON")

	workersCmd.AddCommand(newWorkersKillCommand(ctx))
	return workersCmd
}

func newWorkersKillCommand(ctx *commandContext) *cobra.Command {
	var noReplace bool

	cmd := &cobra.Command{
		Use:   "kill <name>",
		Short: "Terminate one worker by registration name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.KillWorker(name, !noReplace)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !resp.Killed {
					if strings.TrimSpace(resp.Message) != "" {
						fmt.Fprintln(out, resp.Message)
						return nil
					}
					fmt.Fprintf(out, "Worker %s not killed\n", name)
					return nil
				}
				if noReplace {
					fmt.Fprintf(out, "Worker %s terminated\n", name)
				} else {
					fmt.Fprintf(out, "Worker %s terminated; replacement spawning\n", name)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&noReplace, "no-replace", false, "Do not spawn a replacement worker")
	return cmd
}
