package report_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"desceval/internal/quiz"
	"desceval/internal/report"
	"desceval/internal/services"
)

func scored(studentID string, total float64, scores map[string]float64) *quiz.Submission {
	responses := make(map[string]*quiz.Response, len(scores))
	var sum float64
	for questionID, score := range scores {
		r := &quiz.Response{}
		r.SetScore(score)
		responses[questionID] = r
		sum += score
	}
	sub := &quiz.Submission{
		QuizID:      "quiz-1",
		StudentID:   studentID,
		Responses:   responses,
		TotalScore:  total,
		IsEvaluated: quiz.Evaluated,
	}
	sub.Score = &sum
	return sub
}

func TestGenerate(t *testing.T) {
	questions := []*quiz.Question{
		{ID: "q1", Text: "<p>First question</p>", Mark: 5},
		{ID: "q2", Text: "Second question", Mark: 5},
	}
	submissions := []*quiz.Submission{
		scored("alice", 10, map[string]float64{"q1": 5, "q2": 5}),   // 100%
		scored("bob", 10, map[string]float64{"q1": 3, "q2": 4}),     // 70%
		scored("chandra", 10, map[string]float64{"q1": 2, "q2": 2}), // 40%
		scored("dev", 10, map[string]float64{"q1": 0, "q2": 1}),     // 10%
	}

	rep, err := report.Generate("quiz-1", questions, submissions, nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if rep.QuizID != "quiz-1" || rep.TotalStudents != 4 {
		t.Fatalf("unexpected header: %+v", rep)
	}
	if rep.TotalScore != 10 {
		t.Fatalf("expected total score 10, got %v", rep.TotalScore)
	}
	if rep.AvgScore != 5.5 || rep.MaxScore != 10 || rep.MinScore != 1 {
		t.Fatalf("unexpected score stats: %+v", rep)
	}

	if len(rep.QuestionStats) != 2 {
		t.Fatalf("expected 2 question stats, got %d", len(rep.QuestionStats))
	}
	q1 := rep.QuestionStats[0]
	// Correct needs at least 3 of 5: alice and bob qualify.
	if q1.QuestionID != "q1" || q1.Correct != 2 || q1.Incorrect != 2 || q1.TotalAttempts != 4 {
		t.Fatalf("unexpected q1 stats: %+v", q1)
	}
	if q1.AvgMarks != 2.5 || q1.MaxMarks != 5 {
		t.Fatalf("unexpected q1 marks: %+v", q1)
	}
	if q1.QuestionText != "<p>First question</p>" {
		t.Fatalf("expected question text preserved, got %q", q1.QuestionText)
	}

	want := report.Distribution{Excellent: 1, Good: 1, Average: 1, Poor: 1}
	if rep.MarkDistribution != want {
		t.Fatalf("unexpected distribution: %+v", rep.MarkDistribution)
	}
	if rep.EvaluatedAt.IsZero() {
		t.Fatal("expected evaluated timestamp")
	}
}

func TestGenerateUsesLargestTotalScore(t *testing.T) {
	questions := []*quiz.Question{{ID: "q1", Text: "Q", Mark: 10}}
	submissions := []*quiz.Submission{
		scored("alice", 10, map[string]float64{"q1": 8}),
		scored("bob", 20, map[string]float64{"q1": 8}),
	}

	rep, err := report.Generate("quiz-1", questions, submissions, nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if rep.TotalScore != 20 {
		t.Fatalf("expected largest total, got %v", rep.TotalScore)
	}
	// alice normalizes to 40%, bob to 40%.
	want := report.Distribution{Average: 2}
	if rep.MarkDistribution != want {
		t.Fatalf("unexpected distribution: %+v", rep.MarkDistribution)
	}
}

func TestGenerateRejectsBadInput(t *testing.T) {
	questions := []*quiz.Question{{ID: "q1", Text: "Q", Mark: 10}}

	if _, err := report.Generate("quiz-1", questions, nil, nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for no submissions, got %v", err)
	}

	unevaluated := &quiz.Submission{QuizID: "quiz-1", StudentID: "alice", TotalScore: 10}
	if _, err := report.Generate("quiz-1", questions, []*quiz.Submission{unevaluated}, nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unevaluated submission, got %v", err)
	}

	zeroTotal := scored("alice", 0, map[string]float64{"q1": 0})
	if _, err := report.Generate("quiz-1", questions, []*quiz.Submission{zeroTotal}, nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for zero total, got %v", err)
	}
}

type fakeSink struct {
	saveCalls   int
	statusCalls int
	failSaves   int
	saved       []byte
	state       quiz.EvaluationState
}

func (f *fakeSink) SaveReport(_ context.Context, quizID string, reportJSON []byte) error {
	f.saveCalls++
	if f.saveCalls <= f.failSaves {
		return errors.New("database is locked")
	}
	f.saved = reportJSON
	return nil
}

func (f *fakeSink) SetQuizEvaluated(_ context.Context, quizID string, state quiz.EvaluationState) error {
	f.statusCalls++
	f.state = state
	return nil
}

func TestSaverRetriesWithBackoff(t *testing.T) {
	sink := &fakeSink{failSaves: 2}
	var slept []time.Duration
	saver := report.NewSaver(sink,
		report.WithMaxRetries(3),
		report.WithSleeper(func(d time.Duration) { slept = append(slept, d) }))

	rep := &report.Report{QuizID: "quiz-1", TotalScore: 10, TotalStudents: 1}
	if err := saver.Save(context.Background(), rep); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if sink.saveCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", sink.saveCalls)
	}
	if len(slept) != 2 || slept[0] != 2*time.Second || slept[1] != 4*time.Second {
		t.Fatalf("unexpected backoff: %v", slept)
	}
	if sink.state != quiz.Evaluated {
		t.Fatalf("expected quiz marked evaluated, got %q", sink.state)
	}
	if len(sink.saved) == 0 {
		t.Fatal("expected report blob saved")
	}
}

func TestSaverGivesUpAfterCeiling(t *testing.T) {
	sink := &fakeSink{failSaves: 10}
	saver := report.NewSaver(sink,
		report.WithMaxRetries(3),
		report.WithSleeper(func(time.Duration) {}))

	err := saver.Save(context.Background(), &report.Report{QuizID: "quiz-1"})
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if sink.saveCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", sink.saveCalls)
	}
	if sink.statusCalls != 0 {
		t.Fatalf("expected quiz status untouched, got %d calls", sink.statusCalls)
	}
}
