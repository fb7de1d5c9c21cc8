package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"desceval/internal/quiz"
)

// UpsertSubmission stores or replaces a student submission.
func (s *Store) UpsertSubmission(ctx context.Context, sub *quiz.Submission) error {
	if sub == nil || sub.ID == "" {
		return fmt.Errorf("submission requires an id")
	}
	if sub.QuizID == "" {
		return fmt.Errorf("submission %s requires a quiz id", sub.ID)
	}

	responses, err := quiz.EncodeResponses(sub.Responses)
	if err != nil {
		return fmt.Errorf("encode responses for submission %s: %w", sub.ID, err)
	}

	state := sub.IsEvaluated
	if state == "" {
		state = quiz.Unevaluated
	}
	submittedAt := sub.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO submissions (
			id, quiz_id, student_id, responses_json, score, total_score,
			violations, is_evaluated, submitted_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			quiz_id = excluded.quiz_id,
			student_id = excluded.student_id,
			responses_json = excluded.responses_json,
			score = excluded.score,
			total_score = excluded.total_score,
			violations = excluded.violations,
			is_evaluated = excluded.is_evaluated,
			updated_at = excluded.updated_at
	`, sub.ID, sub.QuizID, sub.StudentID, string(responses), nullableFloat(sub.Score),
		sub.TotalScore, nullableString(sub.Violations), string(state),
		formatTime(submittedAt), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert submission %s: %w", sub.ID, err)
	}
	return nil
}

// GetSubmission returns one submission by id, or nil when missing.
func (s *Store) GetSubmission(ctx context.Context, submissionID string) (*quiz.Submission, error) {
	row := s.db.QueryRowContext(ctx, submissionSelect+" WHERE id = ?", submissionID)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get submission %s: %w", submissionID, err)
	}
	return sub, nil
}

// SubmissionsForQuiz returns every submission for a quiz in arrival order.
func (s *Store) SubmissionsForQuiz(ctx context.Context, quizID string) ([]*quiz.Submission, error) {
	return s.querySubmissions(ctx, submissionSelect+" WHERE quiz_id = ? ORDER BY submitted_at, id", quizID)
}

// PendingSubmissions returns the quiz's submissions still awaiting
// evaluation, in arrival order.
func (s *Store) PendingSubmissions(ctx context.Context, quizID string) ([]*quiz.Submission, error) {
	return s.querySubmissions(ctx,
		submissionSelect+" WHERE quiz_id = ? AND is_evaluated = ? ORDER BY submitted_at, id",
		quizID, string(quiz.Unevaluated))
}

// SaveEvaluation writes an evaluated submission's responses and final
// score and flips its state to EVALUATED.
func (s *Store) SaveEvaluation(ctx context.Context, submissionID string, responses map[string]*quiz.Response, score float64) error {
	blob, err := quiz.EncodeResponses(responses)
	if err != nil {
		return fmt.Errorf("encode responses for submission %s: %w", submissionID, err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE submissions
		SET responses_json = ?, score = ?, is_evaluated = ?, updated_at = ?
		WHERE id = ?
	`, string(blob), score, string(quiz.Evaluated), formatTime(time.Now()), submissionID)
	if err != nil {
		return fmt.Errorf("save evaluation for submission %s: %w", submissionID, err)
	}
	return requireAffected(result, "submission", submissionID)
}

// MarkSubmissionsUnevaluated resets every submission on a quiz to
// UNEVALUATED so a forced re-run starts clean. Returns the number of
// rows reset.
func (s *Store) MarkSubmissionsUnevaluated(ctx context.Context, quizID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE submissions SET is_evaluated = ?, updated_at = ? WHERE quiz_id = ?
	`, string(quiz.Unevaluated), formatTime(time.Now()), quizID)
	if err != nil {
		return 0, fmt.Errorf("reset submissions for quiz %s: %w", quizID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset submissions for quiz %s: rows affected: %w", quizID, err)
	}
	return affected, nil
}

// SubmissionCounts reports total and evaluated submission counts for a
// quiz.
func (s *Store) SubmissionCounts(ctx context.Context, quizID string) (total, evaluated int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN is_evaluated = ? THEN 1 ELSE 0 END), 0)
		FROM submissions WHERE quiz_id = ?
	`, string(quiz.Evaluated), quizID)
	if scanErr := row.Scan(&total, &evaluated); scanErr != nil {
		return 0, 0, fmt.Errorf("count submissions for quiz %s: %w", quizID, scanErr)
	}
	return total, evaluated, nil
}

const submissionSelect = `
	SELECT id, quiz_id, student_id, responses_json, score, total_score,
		violations, is_evaluated, submitted_at
	FROM submissions`

func (s *Store) querySubmissions(ctx context.Context, query string, args ...any) ([]*quiz.Submission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var submissions []*quiz.Submission
	for rows.Next() {
		sub, scanErr := scanSubmission(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan submission: %w", scanErr)
		}
		submissions = append(submissions, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return submissions, nil
}

func scanSubmission(row rowScanner) (*quiz.Submission, error) {
	var (
		sub         quiz.Submission
		responses   sql.NullString
		score       sql.NullFloat64
		violations  sql.NullString
		isEvaluated string
		submittedAt sql.NullString
	)
	if err := row.Scan(&sub.ID, &sub.QuizID, &sub.StudentID, &responses, &score,
		&sub.TotalScore, &violations, &isEvaluated, &submittedAt); err != nil {
		return nil, err
	}

	decoded, err := quiz.DecodeResponses([]byte(stringValue(responses)))
	if err != nil {
		return nil, err
	}
	sub.Responses = decoded
	sub.Score = floatPtr(score)
	sub.Violations = stringValue(violations)
	sub.IsEvaluated = quiz.EvaluationState(isEvaluated)

	submitted, err := scanTime(submittedAt)
	if err != nil {
		return nil, err
	}
	sub.SubmittedAt = submitted

	return &sub, nil
}
