package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"desceval/internal/ipc"
)

func newReportCommand(ctx *commandContext) *cobra.Command {
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Inspect and regenerate stored quiz reports",
	}

	reportCmd.AddCommand(newReportShowCommand(ctx))
	reportCmd.AddCommand(newReportRegenerateCommand(ctx))
	return reportCmd
}

func newReportShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <quiz-id>",
		Short: "Print the stored report for a quiz",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quizID := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Report(quizID)
				if err != nil {
					return err
				}
				return printReportData(cmd, resp.Report.Data)
			})
		},
	}
}

func newReportRegenerateCommand(ctx *commandContext) *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "regenerate <quiz-id>",
		Short: "Rebuild the report from stored scores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quizID := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RegenerateReport(quizID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Report regenerated for quiz %s\n", resp.Report.QuizID)
				if generated := formatDisplayTime(resp.Report.GeneratedAt); generated != "-" {
					fmt.Fprintf(out, "Generated at: %s\n", generated)
				}
				if show {
					return printReportData(cmd, resp.Report.Data)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "Print the regenerated report")
	return cmd
}

func printReportData(cmd *cobra.Command, data json.RawMessage) error {
	if len(data) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Report is empty")
		return nil
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	return writeJSON(cmd, decoded)
}
