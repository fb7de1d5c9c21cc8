package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"desceval/internal/api"
	"desceval/internal/ipc"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var statuses []string
	var jsonOut bool

	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent evaluation jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Jobs(limit, statuses)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				rows := buildJobRows(resp.Jobs)
				if len(rows) == 0 {
					fmt.Fprintln(out, "No jobs recorded")
					return nil
				}
				fmt.Fprintln(out, renderTable(jobTableHeaders, rows, jobTableAligns))
				return nil
			})
		},
	}

	jobsCmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs to list")
	jobsCmd.Flags().StringArrayVar(&statuses, "status", nil, "Filter by job status (repeatable)")
	jobsCmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the job list as JSON")

	jobsCmd.AddCommand(newJobsDescribeCommand(ctx))
	return jobsCmd
}

func newJobsDescribeCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "describe <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobDescribe(id)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				printJobDetail(cmd, resp.Job)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the job as JSON")
	return cmd
}

func printJobDetail(cmd *cobra.Command, job api.Job) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job: %s\n", job.ID)
	fmt.Fprintf(out, "Quiz: %s\n", job.QuizID)
	fmt.Fprintf(out, "Status: %s\n", formatStatusLabel(job.Status))
	fmt.Fprintf(out, "Worker: %s\n", dashIfEmpty(job.Worker))
	fmt.Fprintf(out, "Override: %s\n", yesNo(job.Override))
	fmt.Fprintf(out, "Enqueued: %s\n", formatDisplayTime(job.EnqueuedAt))
	fmt.Fprintf(out, "Started: %s\n", formatDisplayTime(job.StartedAt))
	fmt.Fprintf(out, "Finished: %s\n", formatDisplayTime(job.FinishedAt))
	fmt.Fprintf(out, "Duration: %s\n", formatSeconds(job.DurationSeconds))
	fmt.Fprintf(out, "Submissions: %d total, %d evaluated, %d failed, %d skipped, %d pending\n",
		job.Total, job.Evaluated, job.Failed, job.Skipped, job.Pending)
	if strings.TrimSpace(job.ErrorMessage) != "" {
		fmt.Fprintf(out, "Error: %s\n", job.ErrorMessage)
	}
}
