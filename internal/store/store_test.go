package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"desceval/internal/quiz"
	"desceval/internal/store"
	"desceval/internal/testsupport"
)

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	q := &quiz.Quiz{
		ID:          "quiz-1",
		Title:       "Operating Systems Midterm",
		Settings:    quiz.Settings{NegativeMarking: true, MCQPartialMarking: true, CodingPartialMarking: true},
		TotalMark:   40,
		IsEvaluated: quiz.Unevaluated,
	}
	if err := st.UpsertQuiz(ctx, q); err != nil {
		t.Fatalf("UpsertQuiz failed: %v", err)
	}

	fetched, err := st.GetQuiz(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("GetQuiz failed: %v", err)
	}
	if fetched == nil || fetched.Title != "Operating Systems Midterm" {
		t.Fatalf("unexpected fetched quiz: %#v", fetched)
	}
	if !fetched.Settings.NegativeMarking {
		t.Fatal("expected negative marking setting to survive round trip")
	}
	if fetched.IsEvaluated != quiz.Unevaluated {
		t.Fatalf("expected UNEVALUATED, got %s", fetched.IsEvaluated)
	}
}

func TestOpenTwiceIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := testsupport.MustOpenStore(t, cfg)
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second := testsupport.MustOpenStore(t, cfg)
	if err := second.Check(context.Background()); err != nil {
		t.Fatalf("Check failed after reopen: %v", err)
	}
}

func TestGetQuizMissingReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	fetched, err := st.GetQuiz(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetQuiz failed: %v", err)
	}
	if fetched != nil {
		t.Fatalf("expected nil for missing quiz, got %#v", fetched)
	}
}

func TestSetQuizEvaluated(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedQuiz(t, st, &quiz.Quiz{ID: "quiz-1", Title: "Quiz", IsEvaluated: quiz.Unevaluated})

	if err := st.SetQuizEvaluated(ctx, "quiz-1", quiz.Evaluated); err != nil {
		t.Fatalf("SetQuizEvaluated failed: %v", err)
	}
	fetched, err := st.GetQuiz(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("GetQuiz failed: %v", err)
	}
	if fetched.IsEvaluated != quiz.Evaluated {
		t.Fatalf("expected EVALUATED, got %s", fetched.IsEvaluated)
	}

	if err := st.SetQuizEvaluated(ctx, "missing", quiz.Evaluated); err == nil {
		t.Fatal("expected error for missing quiz")
	}
}

func TestQuestionsRoundTripInOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedQuiz(t, st, &quiz.Quiz{ID: "quiz-1", Title: "Quiz"})

	negative := -1.5
	coding := &quiz.Question{
		ID:         "q-coding",
		QuizID:     "quiz-1",
		Type:       string(quiz.TypeCoding),
		Text:       "Reverse a linked list",
		Mark:       10,
		DriverCode: "def main(): ...",
		TestCases: []quiz.TestCase{
			{Input: "1 2 3", Expected: "3 2 1"},
			{Input: "7", Expected: "7"},
		},
	}
	mcq := &quiz.Question{
		ID:           "q-mcq",
		QuizID:       "quiz-1",
		Type:         string(quiz.TypeMCQ),
		Text:         "Pick the schedulable states",
		Mark:         4,
		NegativeMark: &negative,
		Options: []quiz.Option{
			{ID: "a", Text: "READY"},
			{ID: "b", Text: "RUNNING"},
		},
		AnswerKeys: []string{"a", "b"},
	}

	if err := st.UpsertQuestion(ctx, coding, 1); err != nil {
		t.Fatalf("UpsertQuestion failed: %v", err)
	}
	if err := st.UpsertQuestion(ctx, mcq, 0); err != nil {
		t.Fatalf("UpsertQuestion failed: %v", err)
	}

	questions, err := st.QuestionsForQuiz(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("QuestionsForQuiz failed: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
	if questions[0].ID != "q-mcq" || questions[1].ID != "q-coding" {
		t.Fatalf("expected position order, got %s then %s", questions[0].ID, questions[1].ID)
	}
	if questions[0].NegativeMark == nil || *questions[0].NegativeMark != -1.5 {
		t.Fatalf("unexpected negative mark: %#v", questions[0].NegativeMark)
	}
	if len(questions[0].Options) != 2 || questions[0].Options[1].Text != "RUNNING" {
		t.Fatalf("unexpected options: %#v", questions[0].Options)
	}
	if len(questions[1].TestCases) != 2 || questions[1].TestCases[0].Expected != "3 2 1" {
		t.Fatalf("unexpected test cases: %#v", questions[1].TestCases)
	}
	if questions[1].NegativeMark != nil {
		t.Fatalf("expected nil negative mark, got %v", *questions[1].NegativeMark)
	}
}

func TestSetGuidelines(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedQuiz(t, st, &quiz.Quiz{ID: "quiz-1", Title: "Quiz"},
		testsupport.NewQuestion("q-1", quiz.TypeDescriptive, 10))

	if err := st.SetGuidelines(ctx, "q-1", "award marks for clarity"); err != nil {
		t.Fatalf("SetGuidelines failed: %v", err)
	}
	questions, err := st.QuestionsForQuiz(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("QuestionsForQuiz failed: %v", err)
	}
	if questions[0].Guidelines != "award marks for clarity" {
		t.Fatalf("unexpected guidelines: %q", questions[0].Guidelines)
	}

	if err := st.SetGuidelines(ctx, "missing", "x"); err == nil {
		t.Fatal("expected error for missing question")
	}
}

func TestSubmissionLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedQuiz(t, st, &quiz.Quiz{ID: "quiz-1", Title: "Quiz"})

	sub := &quiz.Submission{
		ID:        "sub-1",
		QuizID:    "quiz-1",
		StudentID: "student-1",
		Responses: map[string]*quiz.Response{
			"q-1": {StudentAnswer: []string{"paging"}},
		},
		TotalScore:  10,
		IsEvaluated: quiz.Unevaluated,
		SubmittedAt: time.Now().Add(-time.Hour),
	}
	testsupport.SeedSubmission(t, st, sub)

	pending, err := st.PendingSubmissions(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("PendingSubmissions failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "sub-1" {
		t.Fatalf("expected sub-1 pending, got %#v", pending)
	}
	if resp, ok := pending[0].Response("q-1"); !ok || resp.StudentAnswer[0] != "paging" {
		t.Fatalf("responses did not round trip: %#v", pending[0].Responses)
	}

	score := 8.0
	pending[0].Responses["q-1"].SetScore(score)
	pending[0].Responses["q-1"].Remarks = "solid answer"
	if err := st.SaveEvaluation(ctx, "sub-1", pending[0].Responses, score); err != nil {
		t.Fatalf("SaveEvaluation failed: %v", err)
	}

	fetched, err := st.GetSubmission(ctx, "sub-1")
	if err != nil {
		t.Fatalf("GetSubmission failed: %v", err)
	}
	if fetched.IsEvaluated != quiz.Evaluated {
		t.Fatalf("expected EVALUATED, got %s", fetched.IsEvaluated)
	}
	if fetched.Score == nil || *fetched.Score != 8.0 {
		t.Fatalf("unexpected score: %#v", fetched.Score)
	}
	if resp, _ := fetched.Response("q-1"); resp.Remarks != "solid answer" {
		t.Fatalf("unexpected remarks: %q", resp.Remarks)
	}

	pending, err = st.PendingSubmissions(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("PendingSubmissions failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending submissions, got %d", len(pending))
	}

	total, evaluated, err := st.SubmissionCounts(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("SubmissionCounts failed: %v", err)
	}
	if total != 1 || evaluated != 1 {
		t.Fatalf("expected counts 1/1, got %d/%d", total, evaluated)
	}
}

func TestMarkSubmissionsUnevaluated(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedQuiz(t, st, &quiz.Quiz{ID: "quiz-1", Title: "Quiz"})
	for i := 0; i < 3; i++ {
		testsupport.SeedSubmission(t, st, &quiz.Submission{
			ID:          fmt.Sprintf("sub-%d", i),
			QuizID:      "quiz-1",
			StudentID:   fmt.Sprintf("student-%d", i),
			IsEvaluated: quiz.Evaluated,
		})
	}

	reset, err := st.MarkSubmissionsUnevaluated(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("MarkSubmissionsUnevaluated failed: %v", err)
	}
	if reset != 3 {
		t.Fatalf("expected 3 rows reset, got %d", reset)
	}

	pending, err := st.PendingSubmissions(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("PendingSubmissions failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending submissions, got %d", len(pending))
	}
}

func TestJobLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := store.NewJob("quiz-1", true)
	if job.Status != store.StatusInitializing {
		t.Fatalf("expected INITIALIZING, got %s", job.Status)
	}
	if err := st.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	active, err := st.ActiveJobForQuiz(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("ActiveJobForQuiz failed: %v", err)
	}
	if active == nil || active.ID != job.ID {
		t.Fatalf("expected active job %s, got %#v", job.ID, active)
	}
	if !active.Override {
		t.Fatal("expected override flag to survive round trip")
	}

	if err := st.MarkJobEvaluating(ctx, job.ID, "host.1234.1700000000", 12); err != nil {
		t.Fatalf("MarkJobEvaluating failed: %v", err)
	}
	fetched, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.Status != store.StatusEvaluating {
		t.Fatalf("expected EVALUATING, got %s", fetched.Status)
	}
	if fetched.Worker != "host.1234.1700000000" || fetched.Total != 12 {
		t.Fatalf("unexpected worker/total: %q/%d", fetched.Worker, fetched.Total)
	}
	if fetched.StartedAt == nil {
		t.Fatal("expected started_at to be stamped")
	}

	if err := st.UpdateJobCounts(ctx, job.ID, 10, 1, 1); err != nil {
		t.Fatalf("UpdateJobCounts failed: %v", err)
	}
	fetched, err = st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.Evaluated != 10 || fetched.Failed != 1 || fetched.Skipped != 1 {
		t.Fatalf("unexpected counts: %d/%d/%d", fetched.Evaluated, fetched.Failed, fetched.Skipped)
	}
	if fetched.Pending() != 0 {
		t.Fatalf("expected 0 pending, got %d", fetched.Pending())
	}

	if err := st.FinishJob(ctx, job.ID, store.StatusInitializing, ""); err == nil {
		t.Fatal("expected error finishing with non-terminal status")
	}
	if err := st.FinishJob(ctx, job.ID, store.StatusComplete, ""); err != nil {
		t.Fatalf("FinishJob failed: %v", err)
	}
	fetched, err = st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.Status != store.StatusComplete || fetched.FinishedAt == nil {
		t.Fatalf("expected finished COMPLETE job, got %#v", fetched)
	}

	active, err = st.ActiveJobForQuiz(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("ActiveJobForQuiz failed: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active job after finish, got %#v", active)
	}
}

func TestListJobsNewestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		job := store.NewJob(fmt.Sprintf("quiz-%d", i), false)
		job.EnqueuedAt = base.Add(time.Duration(i) * time.Minute)
		if err := st.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}
	}

	jobs, err := st.ListJobs(ctx, 2)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].QuizID != "quiz-2" || jobs[1].QuizID != "quiz-1" {
		t.Fatalf("expected newest first, got %s then %s", jobs[0].QuizID, jobs[1].QuizID)
	}
}

func TestReportsRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	blob, generatedAt, err := st.GetReport(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if blob != nil || !generatedAt.IsZero() {
		t.Fatalf("expected no report, got %q at %v", blob, generatedAt)
	}

	if err := st.SaveReport(ctx, "quiz-1", []byte(`{"average":7.5}`)); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}
	blob, generatedAt, err = st.GetReport(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if string(blob) != `{"average":7.5}` {
		t.Fatalf("unexpected report blob: %s", blob)
	}
	if generatedAt.IsZero() {
		t.Fatal("expected generation timestamp")
	}

	if err := st.SaveReport(ctx, "quiz-1", []byte(`{"average":8.0}`)); err != nil {
		t.Fatalf("SaveReport replace failed: %v", err)
	}
	blob, _, err = st.GetReport(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if string(blob) != `{"average":8.0}` {
		t.Fatalf("expected replaced blob, got %s", blob)
	}
}
