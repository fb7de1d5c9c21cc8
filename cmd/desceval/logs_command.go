package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"desceval/internal/ipc"
	"desceval/internal/logstream"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var lines int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Display daemon logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				printed, err := logstream.Stream(cmd.Context(), client, logstream.Options{
					Lines:  lines,
					Follow: follow,
				}, func(line string) {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				})
				if err != nil {
					return err
				}
				if !follow && !printed {
					fmt.Fprintln(cmd.OutOrStdout(), "No log entries available")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 10, "Number of lines to show (0 for all new output)")
	return cmd
}
