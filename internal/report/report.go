// Package report aggregates a quiz's evaluated submissions into the
// per-quiz report row: score statistics, per-question correctness, and
// the mark distribution. Generation is pure; Saver owns the retried
// write-back and the final quiz status flip.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"desceval/internal/fileutil"
	"desceval/internal/logging"
	"desceval/internal/quiz"
	"desceval/internal/services"
)

// correctShare is the fraction of a question's mark a response must reach
// to count as correct in question stats.
const correctShare = 0.6

// QuestionStat summarizes how one question was answered across all
// submissions.
type QuestionStat struct {
	QuestionID    string  `json:"questionId"`
	QuestionText  string  `json:"questionText"`
	Correct       int     `json:"correct"`
	Incorrect     int     `json:"incorrect"`
	TotalAttempts int     `json:"totalAttempts"`
	AvgMarks      float64 `json:"avgMarks"`
	MaxMarks      float64 `json:"maxMarks"`
}

// Distribution buckets students by their normalized percentage.
type Distribution struct {
	Excellent int `json:"excellent"`
	Good      int `json:"good"`
	Average   int `json:"average"`
	Poor      int `json:"poor"`
}

// Report is the stored per-quiz aggregate.
type Report struct {
	QuizID           string         `json:"quizId"`
	AvgScore         float64        `json:"avgScore"`
	MaxScore         float64        `json:"maxScore"`
	MinScore         float64        `json:"minScore"`
	TotalScore       float64        `json:"totalScore"`
	TotalStudents    int            `json:"totalStudents"`
	QuestionStats    []QuestionStat `json:"questionStats"`
	MarkDistribution Distribution   `json:"markDistribution"`
	EvaluatedAt      time.Time      `json:"evaluatedAt"`
}

// Generate computes the report for a quiz from its questions and
// evaluated submissions. Every submission must carry a recorded score;
// an unevaluated one is a validation error because it means the
// evaluation phase did not finish what it claimed to.
func Generate(quizID string, questions []*quiz.Question, submissions []*quiz.Submission, logger *slog.Logger) (*Report, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if len(submissions) == 0 {
		return nil, services.Wrap(services.ErrValidation, "report", "generate", "no evaluated submissions for quiz "+quizID, nil)
	}

	totals := make(map[float64]struct{})
	scores := make([]float64, 0, len(submissions))
	for _, sub := range submissions {
		if sub.Score == nil {
			return nil, services.Wrap(services.ErrValidation, "report", "generate",
				fmt.Sprintf("submission for student %s is unevaluated", sub.StudentID), nil)
		}
		scores = append(scores, *sub.Score)
		totals[sub.TotalScore] = struct{}{}
	}

	var totalScore float64
	for total := range totals {
		if total > totalScore {
			totalScore = total
		}
	}
	if len(totals) > 1 {
		logging.WarnWithContext(logger, "submissions disagree on total score", "total_score_mismatch",
			logging.String(logging.FieldQuizID, quizID),
			logging.Int("distinct_totals", len(totals)),
			logging.Float64("total_score", totalScore),
			logging.String(logging.FieldImpact, "largest total used for normalization"))
	}
	if totalScore <= 0 {
		return nil, services.Wrap(services.ErrValidation, "report", "generate",
			fmt.Sprintf("invalid total score %g for quiz %s", totalScore, quizID), nil)
	}

	var sum float64
	maxScore, minScore := scores[0], scores[0]
	for _, score := range scores {
		sum += score
		if score > maxScore {
			maxScore = score
		}
		if score < minScore {
			minScore = score
		}
	}

	stats := make([]QuestionStat, 0, len(questions))
	for _, q := range questions {
		var correct int
		var obtained float64
		for _, sub := range submissions {
			score := responseScore(sub, q.ID)
			obtained += score
			if score >= correctShare*q.Mark {
				correct++
			}
		}
		stats = append(stats, QuestionStat{
			QuestionID:    q.ID,
			QuestionText:  q.Text,
			Correct:       correct,
			Incorrect:     len(submissions) - correct,
			TotalAttempts: len(submissions),
			AvgMarks:      obtained / float64(len(submissions)),
			MaxMarks:      q.Mark,
		})
	}

	var dist Distribution
	for _, score := range scores {
		switch normalized := score / totalScore * 100; {
		case normalized >= 80:
			dist.Excellent++
		case normalized >= 60:
			dist.Good++
		case normalized >= 40:
			dist.Average++
		default:
			dist.Poor++
		}
	}

	logger.Info("report generated",
		logging.String(logging.FieldQuizID, quizID),
		logging.Int("total_students", len(submissions)),
		logging.Float64("avg_score", sum/float64(len(scores))),
		logging.Float64("max_score", maxScore),
		logging.Float64("min_score", minScore),
		logging.Int("excellent", dist.Excellent),
		logging.Int("good", dist.Good),
		logging.Int("average", dist.Average),
		logging.Int("poor", dist.Poor))

	return &Report{
		QuizID:           quizID,
		AvgScore:         sum / float64(len(scores)),
		MaxScore:         maxScore,
		MinScore:         minScore,
		TotalScore:       totalScore,
		TotalStudents:    len(submissions),
		QuestionStats:    stats,
		MarkDistribution: dist,
		EvaluatedAt:      time.Now().UTC(),
	}, nil
}

// responseScore returns the recorded score for one question, zero when
// the question was never answered or scored. Negative marks are left
// out: question stats reflect what the answer earned, not the penalty.
func responseScore(sub *quiz.Submission, questionID string) float64 {
	resp, ok := sub.Response(questionID)
	if !ok || resp == nil || resp.Score == nil {
		return 0
	}
	return *resp.Score
}

// Sink is the slice of the store the saver writes through.
type Sink interface {
	SaveReport(ctx context.Context, quizID string, reportJSON []byte) error
	SetQuizEvaluated(ctx context.Context, quizID string, state quiz.EvaluationState) error
}

// Saver persists a generated report with bounded retries and marks the
// quiz evaluated once the write sticks.
type Saver struct {
	sink        Sink
	maxRetries  int
	artifactDir string
	logger      *slog.Logger
	sleep       func(time.Duration)
}

// SaverOption configures a Saver.
type SaverOption func(*Saver)

// WithMaxRetries overrides the save retry ceiling.
func WithMaxRetries(retries int) SaverOption {
	return func(s *Saver) {
		if retries > 0 {
			s.maxRetries = retries
		}
	}
}

// WithArtifactDir also writes each saved report as JSON under
// dir/<quiz_id>/report.json for offline inspection.
func WithArtifactDir(dir string) SaverOption {
	return func(s *Saver) {
		s.artifactDir = dir
	}
}

// WithLogger sets the saver logger.
func WithLogger(logger *slog.Logger) SaverOption {
	return func(s *Saver) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSleeper overrides how retry backoff sleeps are performed (useful
// for tests).
func WithSleeper(sleep func(time.Duration)) SaverOption {
	return func(s *Saver) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// NewSaver builds a report saver over the given sink.
func NewSaver(sink Sink, opts ...SaverOption) *Saver {
	s := &Saver{
		sink:       sink,
		maxRetries: 3,
		logger:     logging.NewNop(),
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save writes the report and flips the quiz to evaluated. Failed writes
// back off exponentially (2^attempt seconds) up to the retry ceiling;
// the last error is returned wrapped as transient so callers can decide
// whether the job fails.
func (s *Saver) Save(ctx context.Context, rep *Report) error {
	if rep == nil {
		return services.Wrap(services.ErrValidation, "report", "save", "nil report", nil)
	}
	encoded, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report for quiz %s: %w", rep.QuizID, err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = s.saveOnce(ctx, rep.QuizID, encoded)
		if lastErr == nil {
			s.writeArtifact(rep.QuizID, encoded)
			return nil
		}
		logging.WarnWithContext(s.logger, "report save failed", "report_save_retry",
			logging.String(logging.FieldQuizID, rep.QuizID),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", s.maxRetries),
			logging.Error(lastErr),
			logging.String(logging.FieldImpact, "retrying with backoff"))
		if attempt < s.maxRetries {
			s.sleep(time.Duration(1<<attempt) * time.Second)
		}
	}
	return services.Wrap(services.ErrTransient, "report", "save",
		fmt.Sprintf("save failed after %d attempts for quiz %s", s.maxRetries, rep.QuizID), lastErr)
}

func (s *Saver) saveOnce(ctx context.Context, quizID string, encoded []byte) error {
	if err := s.sink.SaveReport(ctx, quizID, encoded); err != nil {
		return err
	}
	return s.sink.SetQuizEvaluated(ctx, quizID, quiz.Evaluated)
}

// writeArtifact is best effort: a failed file write never fails the save.
func (s *Saver) writeArtifact(quizID string, encoded []byte) {
	if s.artifactDir == "" {
		return
	}
	path := filepath.Join(s.artifactDir, quizID, "report.json")
	if err := fileutil.WriteFileAtomic(path, encoded, os.FileMode(0o644)); err != nil {
		logging.WarnWithContext(s.logger, "report artifact write failed", "report_artifact_failed",
			logging.String(logging.FieldQuizID, quizID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "report saved to store only"))
	}
}
