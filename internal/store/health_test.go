package store_test

import (
	"context"
	"testing"
	"time"

	"desceval/internal/quiz"
	"desceval/internal/testsupport"
)

func TestCheckHealthReportsSchemaAndCounts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	q := &quiz.Quiz{ID: "quiz-1", Title: "Health", TotalMark: 5, CreatedAt: time.Now()}
	testsupport.SeedQuiz(t, st, q, testsupport.NewQuestion("q1", quiz.TypeMCQ, 5))
	testsupport.SeedSubmission(t, st, &quiz.Submission{
		ID:          "sub-1",
		QuizID:      "quiz-1",
		StudentID:   "student-1",
		SubmittedAt: time.Now(),
	})

	health, err := st.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable {
		t.Fatalf("expected readable database: %#v", health)
	}
	if health.MigrationsApplied == 0 {
		t.Fatal("expected at least one applied migration")
	}
	if len(health.MissingTables) != 0 {
		t.Fatalf("missing tables: %v", health.MissingTables)
	}
	if health.IntegrityCheck != "ok" {
		t.Fatalf("IntegrityCheck = %q", health.IntegrityCheck)
	}
	if health.Quizzes != 1 || health.Submissions != 1 || health.Jobs != 0 {
		t.Fatalf("unexpected counts: %#v", health)
	}
}
