package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveReport stores (or replaces) a quiz's generated report blob.
func (s *Store) SaveReport(ctx context.Context, quizID string, reportJSON []byte) error {
	if quizID == "" {
		return fmt.Errorf("report requires a quiz id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (quiz_id, report_json, generated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(quiz_id) DO UPDATE SET
			report_json = excluded.report_json,
			generated_at = excluded.generated_at
	`, quizID, string(reportJSON), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save report for quiz %s: %w", quizID, err)
	}
	return nil
}

// GetReport returns the stored report blob and its generation time, or
// nil when no report exists for the quiz.
func (s *Store) GetReport(ctx context.Context, quizID string) ([]byte, time.Time, error) {
	var (
		blob        string
		generatedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT report_json, generated_at FROM reports WHERE quiz_id = ?
	`, quizID).Scan(&blob, &generatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("get report for quiz %s: %w", quizID, err)
	}

	generated, err := scanTime(generatedAt)
	if err != nil {
		return nil, time.Time{}, err
	}
	return []byte(blob), generated, nil
}
