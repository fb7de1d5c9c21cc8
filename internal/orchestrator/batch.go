package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"desceval/internal/evaluation"
	"desceval/internal/logging"
	"desceval/internal/metrics"
	"desceval/internal/progress"
	"desceval/internal/quiz"
	"desceval/internal/services"
)

// tally is the collector-owned per-run state: outcome counts plus the
// sampler that keeps large runs from flooding the log with one line per
// submission.
type tally struct {
	evaluated int
	failed    int
	sampler   *logging.ProgressSampler
}

// outcomeMsg is one submission's terminal result, sent from its grading
// goroutine to the batch collector.
type outcomeMsg struct {
	sub      *quiz.Submission
	outcome  *evaluation.Outcome
	attempts int
	elapsed  time.Duration
	err      error
}

// runBatch grades one batch of submissions concurrently. Each submission
// runs on its own goroutine and reports back over a channel; this
// collector goroutine owns every write that follows (store, progress,
// metrics, counts), so no locking is needed around them. The collector
// waits for every launched submission: the supervisory timeout only
// logs stragglers, and results landing after it are applied normally.
func (o *Orchestrator) runBatch(ctx context.Context, log *slog.Logger, ev *evaluation.Evaluator, tracker *progress.Tracker, batch []*quiz.Submission, index, count int, timeout time.Duration, counts *tally) {
	log = log.With(logging.Int(logging.FieldBatchIndex, index), logging.Int(logging.FieldBatchCount, count))
	log.Info("batch starting", logging.Int("submissions", len(batch)))

	started := o.now()
	inflight := make(map[string]time.Time, len(batch))
	results := make(chan outcomeMsg, len(batch))
	for _, sub := range batch {
		inflight[sub.StudentID] = started
		go func(sub *quiz.Submission) {
			results <- o.evaluateWithRetries(ctx, log, ev, sub, timeout)
		}(sub)
	}

	heartbeat := time.NewTicker(o.heartbeatInterval())
	defer heartbeat.Stop()
	supervisor := time.NewTimer(o.batchTimeout())
	defer supervisor.Stop()

	for received := 0; received < len(batch); {
		select {
		case msg := <-results:
			received++
			delete(inflight, msg.sub.StudentID)
			o.settle(ctx, log, tracker, msg, counts)
		case <-heartbeat.C:
			log.Info("batch heartbeat",
				logging.Int("outstanding", len(inflight)),
				logging.String("students", joinStudents(inflight)),
				logging.Duration("elapsed", o.now().Sub(started)))
		case <-supervisor.C:
			logging.WarnWithContext(log, "batch exceeded its supervisory timeout", "batch_overrun",
				logging.Int("outstanding", len(inflight)),
				logging.String("students", joinStudents(inflight)),
				logging.Duration("elapsed", o.now().Sub(started)),
				logging.String(logging.FieldImpact, "waiting for stragglers to finish"))
		}
	}

	log.Info("batch complete", logging.Duration("elapsed", o.now().Sub(started)))
}

// evaluateWithRetries grades one submission, giving each attempt its own
// deadline. Attempts that run out of time are retried up to the run's
// retry budget; the submission's item writes are idempotent, so a rerun
// after a partial attempt converges on the same result.
func (o *Orchestrator) evaluateWithRetries(ctx context.Context, log *slog.Logger, ev *evaluation.Evaluator, sub *quiz.Submission, timeout time.Duration) outcomeMsg {
	started := o.now()
	maxAttempts := o.evalRetries()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return outcomeMsg{sub: sub, attempts: attempt - 1, elapsed: o.now().Sub(started), err: err}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		outcome, err := ev.EvaluateSubmission(attemptCtx, sub)
		cancel()
		if err == nil {
			return outcomeMsg{sub: sub, outcome: outcome, attempts: attempt, elapsed: o.now().Sub(started)}
		}
		lastErr = err

		if ctx.Err() != nil {
			return outcomeMsg{sub: sub, attempts: attempt, elapsed: o.now().Sub(started), err: err}
		}
		logging.WarnWithContext(log, "submission attempt ran out of time", "submission_attempt_timeout",
			logging.String(logging.FieldStudentID, sub.StudentID),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", maxAttempts),
			logging.Duration("timeout", timeout),
			logging.String(logging.FieldImpact, "submission will be retried"))
	}

	return outcomeMsg{
		sub:      sub,
		attempts: maxAttempts,
		elapsed:  o.now().Sub(started),
		err:      services.Wrap(services.ErrTimeout, "orchestrator", "evaluate submission", sub.StudentID, lastErr),
	}
}

// settle applies one submission's result: persistence, progress, metrics,
// and counts. Only the collector calls it.
func (o *Orchestrator) settle(ctx context.Context, log *slog.Logger, tracker *progress.Tracker, msg outcomeMsg, counts *tally) {
	defer tracker.Advance(ctx, progress.PhaseEvaluating)

	if msg.err != nil {
		counts.failed++
		logging.ErrorWithContext(log, "submission evaluation failed", "submission_failed",
			logging.String(logging.FieldStudentID, msg.sub.StudentID),
			logging.Int("attempts", msg.attempts),
			logging.String(logging.FieldImpact, "submission stays unevaluated"),
			logging.Error(msg.err))
		o.observeSubmission(metrics.SubmissionFailed, 0)
		return
	}

	if err := o.persistEvaluation(ctx, log, msg.sub); err != nil {
		counts.failed++
		logging.ErrorWithContext(log, "failed to persist evaluation", "submission_persist_failed",
			logging.String(logging.FieldStudentID, msg.sub.StudentID),
			logging.String(logging.FieldImpact, "submission stays unevaluated"),
			logging.Error(err))
		o.observeSubmission(metrics.SubmissionFailed, 0)
		return
	}

	outcome := msg.outcome
	outcome.MarkPersisted()
	counts.evaluated++
	o.observeSubmission(metrics.SubmissionEvaluated, msg.elapsed)
	o.observeItems(outcome)

	attrs := logging.Args(
		logging.String(logging.FieldStudentID, msg.sub.StudentID),
		logging.Float64("score", outcome.Score),
		logging.Int("scored", outcome.Scored),
		logging.Int("rejected", outcome.Rejected),
		logging.Int("errored", outcome.Errored),
		logging.Int("skipped", outcome.Skipped),
		logging.Int("attempts", msg.attempts),
		logging.Duration("elapsed", msg.elapsed))
	if counts.sampler.ShouldLog(tracker.Percent(), progress.PhaseEvaluating) {
		log.Info("submission evaluated", attrs...)
	} else {
		log.Debug("submission evaluated", attrs...)
	}
}

// persistEvaluation writes the submission's graded responses and final
// score, retrying on its own backoff budget. Store retries are
// independent of the evaluation retry budget.
func (o *Orchestrator) persistEvaluation(ctx context.Context, log *slog.Logger, sub *quiz.Submission) error {
	var score float64
	if sub.Score != nil {
		score = *sub.Score
	}

	attempts := o.dbRetries()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = o.store.SaveEvaluation(ctx, sub.ID, sub.Responses, score)
		if lastErr == nil {
			return nil
		}
		logging.WarnWithContext(log, "evaluation save failed", "evaluation_save_retry",
			logging.String(logging.FieldStudentID, sub.StudentID),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", attempts),
			logging.Error(lastErr))
		if attempt < attempts {
			o.sleep(time.Duration(1<<attempt) * time.Second)
		}
	}
	return services.Wrap(services.ErrTransient, "orchestrator", "save evaluation", sub.ID, lastErr)
}

func (o *Orchestrator) observeSubmission(outcome string, elapsed time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.SubmissionSettled(outcome, elapsed)
}

func (o *Orchestrator) observeItems(outcome *evaluation.Outcome) {
	if o.metrics == nil {
		return
	}
	for _, item := range outcome.Items {
		switch item.State {
		case quiz.StateScored, quiz.StatePersisted:
			o.metrics.ItemSettled(item.Type, metrics.ItemScored, 1)
		case quiz.StateRejected:
			o.metrics.ItemSettled(item.Type, metrics.ItemRejected, 1)
		case quiz.StateErrored:
			o.metrics.ItemSettled(item.Type, metrics.ItemErrored, 1)
		}
	}
}

func joinStudents(inflight map[string]time.Time) string {
	students := make([]string, 0, len(inflight))
	for student := range inflight {
		students = append(students, student)
	}
	sort.Strings(students)
	return strings.Join(students, ", ")
}
