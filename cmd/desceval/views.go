package main

import (
	"fmt"
	"strings"
	"time"

	"desceval/internal/api"
)

var (
	jobTableHeaders = []string{"ID", "Quiz", "Status", "Worker", "Progress", "Enqueued", "Duration"}
	jobTableAligns  = []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight}

	workerTableHeaders = []string{"Name", "PID", "State", "Quiz", "Uptime", "CPU %", "Mem %", "Done", "Failed"}
	workerTableAligns  = []columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight}
)

func buildJobRows(jobs []api.Job) [][]string {
	if len(jobs) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		settled := job.Evaluated + job.Failed + job.Skipped
		progress := "-"
		if job.Total > 0 {
			progress = fmt.Sprintf("%d/%d", settled, job.Total)
		}
		rows = append(rows, []string{
			shortID(job.ID),
			job.QuizID,
			formatStatusLabel(job.Status),
			dashIfEmpty(job.Worker),
			progress,
			formatDisplayTime(job.EnqueuedAt),
			formatSeconds(job.DurationSeconds),
		})
	}
	return rows
}

func buildWorkerRows(workers []api.Worker) [][]string {
	if len(workers) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(workers))
	for _, worker := range workers {
		state := worker.State
		if !worker.Alive {
			state = "dead"
		}
		rows = append(rows, []string{
			worker.Name,
			fmt.Sprintf("%d", worker.PID),
			formatStatusLabel(state),
			dashIfEmpty(worker.CurrentQuiz),
			formatSeconds(worker.UptimeSeconds),
			fmt.Sprintf("%.1f", worker.CPUPercent),
			fmt.Sprintf("%.1f", worker.MemPercent),
			fmt.Sprintf("%d", worker.JobsDone),
			fmt.Sprintf("%d", worker.JobsFailed),
		})
	}
	return rows
}

func formatStatusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return ""
	}
	parts := strings.Split(status, "_")
	for i, part := range parts {
		lower := strings.ToLower(part)
		if lower == "" {
			continue
		}
		parts[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(parts, " ")
}

func formatDisplayTime(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC().Format("2006-01-02 15:04")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC().Format("2006-01-02 15:04")
	}
	return value
}

func formatSeconds(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	d := time.Duration(seconds * float64(time.Second))
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func dashIfEmpty(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
