package main

import (
	"testing"

	"desceval/internal/api"
)

func TestFormatStatusLabel(t *testing.T) {
	cases := map[string]string{
		"":               "",
		"INITIALIZING":   "Initializing",
		"running":        "Running",
		"awaiting_retry": "Awaiting Retry",
	}
	for input, want := range cases {
		if got := formatStatusLabel(input); got != want {
			t.Fatalf("formatStatusLabel(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestFormatSeconds(t *testing.T) {
	cases := map[float64]string{
		0:    "-",
		-1:   "-",
		0.5:  "500ms",
		90:   "1m30s",
		3600: "1h0m0s",
	}
	for input, want := range cases {
		if got := formatSeconds(input); got != want {
			t.Fatalf("formatSeconds(%v) = %q, want %q", input, got, want)
		}
	}
}

func TestFormatDisplayTime(t *testing.T) {
	if got := formatDisplayTime("2026-08-25T10:30:00.000Z"); got != "2026-08-25 10:30" {
		t.Fatalf("formatDisplayTime = %q", got)
	}
	if got := formatDisplayTime(""); got != "-" {
		t.Fatalf("formatDisplayTime empty = %q", got)
	}
	if got := formatDisplayTime("garbage"); got != "garbage" {
		t.Fatalf("formatDisplayTime fallback = %q", got)
	}
}

func TestBuildJobRows(t *testing.T) {
	jobs := []api.Job{{
		ID:              "0b5872e1-58b5-4b84-a06d-0545bd607317",
		QuizID:          "quiz-1",
		Status:          "RUNNING",
		Worker:          "host.42.1756100000",
		Total:           10,
		Evaluated:       6,
		Failed:          1,
		Skipped:         1,
		Pending:         2,
		EnqueuedAt:      "2026-08-25T10:30:00.000Z",
		DurationSeconds: 92,
	}}
	rows := buildJobRows(jobs)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row[0] != "0b5872e1" {
		t.Fatalf("expected short id, got %q", row[0])
	}
	if row[2] != "Running" {
		t.Fatalf("expected status label, got %q", row[2])
	}
	if row[4] != "8/10" {
		t.Fatalf("expected settled/total progress, got %q", row[4])
	}
	if row[5] != "2026-08-25 10:30" {
		t.Fatalf("expected formatted enqueue time, got %q", row[5])
	}
	if row[6] != "1m32s" {
		t.Fatalf("expected duration, got %q", row[6])
	}
}

func TestBuildJobRowsEmptyTotals(t *testing.T) {
	rows := buildJobRows([]api.Job{{ID: "abc", QuizID: "quiz-2", Status: "INITIALIZING"}})
	if rows[0][4] != "-" {
		t.Fatalf("expected dash progress for zero total, got %q", rows[0][4])
	}
	if rows[0][3] != "-" {
		t.Fatalf("expected dash worker, got %q", rows[0][3])
	}
}

func TestBuildWorkerRows(t *testing.T) {
	workers := []api.Worker{
		{Name: "host.1.100", PID: 1, Alive: true, State: "busy", CurrentQuiz: "quiz-1", UptimeSeconds: 60, CPUPercent: 12.34, MemPercent: 5.6, JobsDone: 4, JobsFailed: 1},
		{Name: "host.2.100", PID: 2, Alive: false, State: "idle"},
	}
	rows := buildWorkerRows(workers)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][2] != "Busy" || rows[0][3] != "quiz-1" {
		t.Fatalf("unexpected busy row %v", rows[0])
	}
	if rows[0][5] != "12.3" {
		t.Fatalf("expected one decimal cpu, got %q", rows[0][5])
	}
	if rows[1][2] != "Dead" {
		t.Fatalf("expected dead state for non-alive worker, got %q", rows[1][2])
	}
}
