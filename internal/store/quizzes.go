package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"desceval/internal/quiz"
)

// UpsertQuiz stores or replaces a quiz definition.
func (s *Store) UpsertQuiz(ctx context.Context, q *quiz.Quiz) error {
	if q == nil || q.ID == "" {
		return fmt.Errorf("quiz requires an id")
	}

	settings, err := json.Marshal(q.Settings)
	if err != nil {
		return fmt.Errorf("encode quiz settings: %w", err)
	}

	createdAt := q.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quizzes (id, title, settings_json, total_mark, is_evaluated, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			settings_json = excluded.settings_json,
			total_mark = excluded.total_mark,
			is_evaluated = excluded.is_evaluated,
			updated_at = excluded.updated_at
	`, q.ID, q.Title, string(settings), q.TotalMark, string(q.IsEvaluated),
		formatTime(createdAt), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert quiz %s: %w", q.ID, err)
	}
	return nil
}

// GetQuiz returns a quiz by id, or nil when it does not exist.
func (s *Store) GetQuiz(ctx context.Context, quizID string) (*quiz.Quiz, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, settings_json, total_mark, is_evaluated, created_at
		FROM quizzes WHERE id = ?
	`, quizID)

	q, err := scanQuiz(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quiz %s: %w", quizID, err)
	}
	return q, nil
}

// ListQuizzes returns all known quizzes, newest first.
func (s *Store) ListQuizzes(ctx context.Context) ([]*quiz.Quiz, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, settings_json, total_mark, is_evaluated, created_at
		FROM quizzes ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()

	var quizzes []*quiz.Quiz
	for rows.Next() {
		q, scanErr := scanQuiz(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan quiz: %w", scanErr)
		}
		quizzes = append(quizzes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quizzes: %w", err)
	}
	return quizzes, nil
}

// SetQuizEvaluated flips the quiz evaluation marker.
func (s *Store) SetQuizEvaluated(ctx context.Context, quizID string, state quiz.EvaluationState) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE quizzes SET is_evaluated = ?, updated_at = ? WHERE id = ?
	`, string(state), formatTime(time.Now()), quizID)
	if err != nil {
		return fmt.Errorf("mark quiz %s %s: %w", quizID, state, err)
	}
	return requireAffected(result, "quiz", quizID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuiz(row rowScanner) (*quiz.Quiz, error) {
	var (
		q           quiz.Quiz
		settings    sql.NullString
		isEvaluated string
		createdAt   sql.NullString
	)
	if err := row.Scan(&q.ID, &q.Title, &settings, &q.TotalMark, &isEvaluated, &createdAt); err != nil {
		return nil, err
	}

	decoded, err := quiz.DecodeSettings([]byte(stringValue(settings)))
	if err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	q.Settings = decoded
	q.IsEvaluated = quiz.EvaluationState(isEvaluated)

	created, err := scanTime(createdAt)
	if err != nil {
		return nil, err
	}
	q.CreatedAt = created

	return &q, nil
}
