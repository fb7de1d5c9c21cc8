package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"desceval/internal/quiz"
)

// UpsertQuestion stores or replaces a question. Position fixes the order
// QuestionsForQuiz returns rows in.
func (s *Store) UpsertQuestion(ctx context.Context, q *quiz.Question, position int) error {
	if q == nil || q.ID == "" {
		return fmt.Errorf("question requires an id")
	}
	if q.QuizID == "" {
		return fmt.Errorf("question %s requires a quiz id", q.ID)
	}

	options, err := marshalJSON(q.Options)
	if err != nil {
		return fmt.Errorf("encode options for question %s: %w", q.ID, err)
	}
	answers, err := marshalJSON(q.AnswerKeys)
	if err != nil {
		return fmt.Errorf("encode answers for question %s: %w", q.ID, err)
	}
	testCases, err := marshalJSON(q.TestCases)
	if err != nil {
		return fmt.Errorf("encode test cases for question %s: %w", q.ID, err)
	}

	now := formatTime(time.Now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO questions (
			id, quiz_id, type, question, mark, negative_mark,
			options_json, answer_json, expected_answer, guidelines,
			driver_code, test_cases_json, position, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			quiz_id = excluded.quiz_id,
			type = excluded.type,
			question = excluded.question,
			mark = excluded.mark,
			negative_mark = excluded.negative_mark,
			options_json = excluded.options_json,
			answer_json = excluded.answer_json,
			expected_answer = excluded.expected_answer,
			guidelines = excluded.guidelines,
			driver_code = excluded.driver_code,
			test_cases_json = excluded.test_cases_json,
			position = excluded.position,
			updated_at = excluded.updated_at
	`, q.ID, q.QuizID, q.Type, q.Text, q.Mark, nullableFloat(q.NegativeMark),
		nullableString(options), nullableString(answers), nullableString(q.ExpectedAnswer),
		nullableString(q.Guidelines), nullableString(q.DriverCode), nullableString(testCases),
		position, now, now)
	if err != nil {
		return fmt.Errorf("upsert question %s: %w", q.ID, err)
	}
	return nil
}

// QuestionsForQuiz returns a quiz's questions in stored order.
func (s *Store) QuestionsForQuiz(ctx context.Context, quizID string) ([]*quiz.Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, quiz_id, type, question, mark, negative_mark,
			options_json, answer_json, expected_answer, guidelines,
			driver_code, test_cases_json
		FROM questions WHERE quiz_id = ? ORDER BY position, id
	`, quizID)
	if err != nil {
		return nil, fmt.Errorf("load questions for quiz %s: %w", quizID, err)
	}
	defer rows.Close()

	var questions []*quiz.Question
	for rows.Next() {
		q, scanErr := scanQuestion(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan question: %w", scanErr)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return questions, nil
}

// SetGuidelines records generated evaluation guidelines on a question.
func (s *Store) SetGuidelines(ctx context.Context, questionID, guidelines string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE questions SET guidelines = ?, updated_at = ? WHERE id = ?
	`, nullableString(guidelines), formatTime(time.Now()), questionID)
	if err != nil {
		return fmt.Errorf("set guidelines for question %s: %w", questionID, err)
	}
	return requireAffected(result, "question", questionID)
}

func scanQuestion(row rowScanner) (*quiz.Question, error) {
	var (
		q            quiz.Question
		negativeMark sql.NullFloat64
		options      sql.NullString
		answers      sql.NullString
		expected     sql.NullString
		guidelines   sql.NullString
		driverCode   sql.NullString
		testCases    sql.NullString
	)
	if err := row.Scan(&q.ID, &q.QuizID, &q.Type, &q.Text, &q.Mark, &negativeMark,
		&options, &answers, &expected, &guidelines, &driverCode, &testCases); err != nil {
		return nil, err
	}

	q.NegativeMark = floatPtr(negativeMark)
	q.ExpectedAnswer = stringValue(expected)
	q.Guidelines = stringValue(guidelines)
	q.DriverCode = stringValue(driverCode)

	if err := unmarshalJSON(options, &q.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if err := unmarshalJSON(answers, &q.AnswerKeys); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	if err := unmarshalJSON(testCases, &q.TestCases); err != nil {
		return nil, fmt.Errorf("decode test cases: %w", err)
	}

	return &q, nil
}

func marshalJSON(value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	text := string(raw)
	if text == "null" {
		return "", nil
	}
	return text, nil
}

func unmarshalJSON(ns sql.NullString, dest any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), dest)
}
