package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"desceval/internal/metrics"
	"desceval/internal/quiz"
)

func scrape(t *testing.T, c *metrics.Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := metrics.NewCollector()
	c.JobFinished(metrics.JobCompleted)
	c.SubmissionSettled(metrics.SubmissionEvaluated, 12*time.Second)
	c.SubmissionSettled(metrics.SubmissionFailed, 0)
	c.ItemSettled(quiz.TypeMCQ, metrics.ItemScored, 5)
	c.ItemSettled(quiz.TypeDescriptive, metrics.ItemErrored, 1)
	c.SetWorkersAlive(4)
	c.SetQueueDepth(7)

	body := scrape(t, c)
	for _, want := range []string{
		`desceval_jobs_total{status="completed"} 1`,
		`desceval_submissions_evaluated_total{outcome="evaluated"} 1`,
		`desceval_submissions_evaluated_total{outcome="failed"} 1`,
		`desceval_items_scored_total{outcome="scored",type="MCQ"} 5`,
		`desceval_items_scored_total{outcome="errored",type="DESCRIPTIVE"} 1`,
		`desceval_workers_alive 4`,
		`desceval_queue_depth 7`,
		`desceval_submission_seconds_count 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output, got:\n%s", want, body)
		}
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	first := metrics.NewCollector()
	second := metrics.NewCollector()

	first.JobFinished(metrics.JobCompleted)
	first.JobFinished(metrics.JobCompleted)

	if !strings.Contains(scrape(t, first), `desceval_jobs_total{status="completed"} 2`) {
		t.Fatal("expected first collector to count two jobs")
	}
	if strings.Contains(scrape(t, second), `desceval_jobs_total`) {
		t.Fatal("expected second collector untouched")
	}
}

func TestSubmissionSecondsOnlyObservedForEvaluated(t *testing.T) {
	c := metrics.NewCollector()
	c.SubmissionSettled(metrics.SubmissionFailed, 30*time.Second)
	c.SubmissionSettled(metrics.SubmissionSkipped, 30*time.Second)

	if !strings.Contains(scrape(t, c), `desceval_submission_seconds_count 0`) {
		t.Fatal("expected no duration samples for unevaluated submissions")
	}
}

func TestItemSettledIgnoresNonPositiveCounts(t *testing.T) {
	c := metrics.NewCollector()
	c.ItemSettled(quiz.TypeMCQ, metrics.ItemScored, 0)
	c.ItemSettled(quiz.TypeMCQ, metrics.ItemScored, -3)

	if strings.Contains(scrape(t, c), `desceval_items_scored_total`) {
		t.Fatal("expected no item series for non-positive counts")
	}
}
