package testsupport

import (
	"context"
	"fmt"
	"testing"

	"desceval/internal/config"
	"desceval/internal/quiz"
	"desceval/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// SeedQuiz inserts a quiz and its questions in the given order.
func SeedQuiz(t testing.TB, st *store.Store, q *quiz.Quiz, questions ...*quiz.Question) {
	t.Helper()

	if err := st.UpsertQuiz(context.Background(), q); err != nil {
		t.Fatalf("store.UpsertQuiz: %v", err)
	}
	for i, question := range questions {
		if question.QuizID == "" {
			question.QuizID = q.ID
		}
		if err := st.UpsertQuestion(context.Background(), question, i); err != nil {
			t.Fatalf("store.UpsertQuestion %s: %v", question.ID, err)
		}
	}
}

// SeedSubmission inserts one student submission.
func SeedSubmission(t testing.TB, st *store.Store, sub *quiz.Submission) {
	t.Helper()

	if err := st.UpsertSubmission(context.Background(), sub); err != nil {
		t.Fatalf("store.UpsertSubmission: %v", err)
	}
}

// NewQuestion builds a minimal question of the given type for tests.
func NewQuestion(id string, itemType quiz.ItemType, mark float64) *quiz.Question {
	return &quiz.Question{
		ID:   id,
		Type: string(itemType),
		Text: fmt.Sprintf("question %s", id),
		Mark: mark,
	}
}
