package api

import "testing"

func TestSortJobsNewestFirst(t *testing.T) {
	jobs := []Job{
		{ID: "a", EnqueuedAt: "2025-06-01T10:00:00.000Z"},
		{ID: "b", EnqueuedAt: "2025-06-01T12:00:00.000Z"},
		{ID: "c", EnqueuedAt: "2025-06-01T11:00:00.000Z"},
	}
	sorted := SortJobsNewestFirst(jobs)
	if len(sorted) != 3 {
		t.Fatalf("len = %d", len(sorted))
	}
	if sorted[0].ID != "b" || sorted[1].ID != "c" || sorted[2].ID != "a" {
		t.Fatalf("unexpected order: %s %s %s", sorted[0].ID, sorted[1].ID, sorted[2].ID)
	}
	if jobs[0].ID != "a" {
		t.Fatal("input slice must not be reordered")
	}
}

func TestSortJobsNewestFirstBreaksTiesByID(t *testing.T) {
	jobs := []Job{
		{ID: "a", EnqueuedAt: "2025-06-01T10:00:00.000Z"},
		{ID: "b", EnqueuedAt: "2025-06-01T10:00:00.000Z"},
	}
	sorted := SortJobsNewestFirst(jobs)
	if sorted[0].ID != "b" {
		t.Fatalf("expected higher ID first on tie, got %s", sorted[0].ID)
	}
}

func TestSortJobsNewestFirstEmpty(t *testing.T) {
	if got := SortJobsNewestFirst(nil); got != nil {
		t.Fatalf("expected nil for empty input, got %#v", got)
	}
}

func TestFilterJobsByStatus(t *testing.T) {
	jobs := []Job{
		{ID: "a", Status: "COMPLETE"},
		{ID: "b", Status: "FAILED"},
		{ID: "c", Status: "COMPLETE"},
	}
	filtered := FilterJobsByStatus(jobs, []string{"COMPLETE"})
	if len(filtered) != 2 || filtered[0].ID != "a" || filtered[1].ID != "c" {
		t.Fatalf("unexpected filter result: %#v", filtered)
	}
	if got := FilterJobsByStatus(jobs, nil); len(got) != 3 {
		t.Fatalf("empty filter should pass everything, got %d", len(got))
	}
	if got := FilterJobsByStatus(jobs, []string{"EVALUATING"}); len(got) != 0 {
		t.Fatalf("expected no matches, got %#v", got)
	}
}
