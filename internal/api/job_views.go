package api

import (
	"sort"
	"time"
)

// SortJobsNewestFirst orders jobs by EnqueuedAt descending, breaking
// ties by ID so output stays stable across calls.
func SortJobsNewestFirst(jobs []Job) []Job {
	if len(jobs) == 0 {
		return nil
	}
	sorted := make([]Job, len(jobs))
	copy(sorted, jobs)
	sort.Slice(sorted, func(i, j int) bool {
		ti := parseJobTime(sorted[i].EnqueuedAt)
		tj := parseJobTime(sorted[j].EnqueuedAt)
		if ti.Equal(tj) {
			return sorted[i].ID > sorted[j].ID
		}
		return ti.After(tj)
	})
	return sorted
}

// FilterJobsByStatus keeps only jobs matching one of the given
// statuses. An empty filter returns the input unchanged.
func FilterJobsByStatus(jobs []Job, statuses []string) []Job {
	if len(statuses) == 0 {
		return jobs
	}
	wanted := make(map[string]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		if _, ok := wanted[job.Status]; ok {
			out = append(out, job)
		}
	}
	return out
}

func parseJobTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

// ParseJobTime exposes job timestamp parsing for consumers that need
// display formatting.
func ParseJobTime(value string) time.Time {
	return parseJobTime(value)
}
