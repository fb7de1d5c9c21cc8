package api

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"desceval/internal/logging"
	"desceval/internal/quiz"
	"desceval/internal/report"
	"desceval/internal/services"
)

// ReportStore is the subset of store operations the report workflows
// need.
type ReportStore interface {
	GetQuiz(ctx context.Context, quizID string) (*quiz.Quiz, error)
	GetReport(ctx context.Context, quizID string) ([]byte, time.Time, error)
	QuestionsForQuiz(ctx context.Context, quizID string) ([]*quiz.Question, error)
	SubmissionsForQuiz(ctx context.Context, quizID string) ([]*quiz.Submission, error)
	SaveReport(ctx context.Context, quizID string, reportJSON []byte) error
	SetQuizEvaluated(ctx context.Context, quizID string, state quiz.EvaluationState) error
}

// FetchReport returns the stored report for a quiz.
func FetchReport(ctx context.Context, st ReportStore, quizID string) (Report, error) {
	quizID = strings.TrimSpace(quizID)
	if quizID == "" {
		return Report{}, services.Wrap(services.ErrValidation, "api", "fetch report",
			"quiz id is required", nil)
	}
	raw, generatedAt, err := st.GetReport(ctx, quizID)
	if err != nil {
		return Report{}, services.Wrap(services.ErrExternalService, "api", "fetch report",
			quizID, err)
	}
	if len(raw) == 0 {
		return Report{}, services.Wrap(services.ErrNotFound, "api", "fetch report",
			"no report stored for quiz "+quizID, nil)
	}
	return FromStoredReport(quizID, raw, generatedAt), nil
}

// RegenerateReport recomputes a quiz report from the evaluated
// submissions already in the store and persists it, replacing any
// stored report. It never re-scores; quizzes that were never evaluated
// are rejected.
func RegenerateReport(ctx context.Context, st ReportStore, quizID string, logger *slog.Logger) (Report, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	quizID = strings.TrimSpace(quizID)
	if quizID == "" {
		return Report{}, services.Wrap(services.ErrValidation, "api", "regenerate report",
			"quiz id is required", nil)
	}

	q, err := st.GetQuiz(ctx, quizID)
	if err != nil {
		return Report{}, services.Wrap(services.ErrExternalService, "api", "load quiz", quizID, err)
	}
	if q == nil {
		return Report{}, services.Wrap(services.ErrNotFound, "api", "regenerate report",
			"quiz "+quizID+" does not exist", nil)
	}
	if q.IsEvaluated != quiz.Evaluated {
		return Report{}, services.Wrap(services.ErrValidation, "api", "regenerate report",
			"quiz "+quizID+" has not been evaluated", nil)
	}

	questions, err := st.QuestionsForQuiz(ctx, quizID)
	if err != nil {
		return Report{}, services.Wrap(services.ErrExternalService, "api", "load questions", quizID, err)
	}
	submissions, err := st.SubmissionsForQuiz(ctx, quizID)
	if err != nil {
		return Report{}, services.Wrap(services.ErrExternalService, "api", "load submissions", quizID, err)
	}

	generated, err := report.Generate(quizID, questions, submissions, logger)
	if err != nil {
		return Report{}, err
	}
	saver := report.NewSaver(st, report.WithLogger(logger))
	if err := saver.Save(ctx, generated); err != nil {
		return Report{}, err
	}

	logger.Info("report regenerated",
		logging.String(logging.FieldQuizID, quizID),
		logging.Int("students", generated.TotalStudents),
		logging.String(logging.FieldEventType, "report_regenerated"))

	raw, generatedAt, err := st.GetReport(ctx, quizID)
	if err != nil {
		return Report{}, services.Wrap(services.ErrExternalService, "api", "fetch report", quizID, err)
	}
	return FromStoredReport(quizID, raw, generatedAt), nil
}
