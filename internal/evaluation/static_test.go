package evaluation_test

import (
	"testing"

	"desceval/internal/evaluation"
	"desceval/internal/quiz"
)

func TestScoreMCQ(t *testing.T) {
	keys := []string{"opt-a", "opt-c"}

	if got := evaluation.ScoreMCQ([]string{"opt-c", "opt-a"}, keys, 4); got != 4 {
		t.Fatalf("expected full marks regardless of order, got %v", got)
	}
	if got := evaluation.ScoreMCQ([]string{"opt-a"}, keys, 4); got != 0 {
		t.Fatalf("expected zero for missing selection, got %v", got)
	}
	if got := evaluation.ScoreMCQ([]string{"opt-a", "opt-b"}, keys, 4); got != 0 {
		t.Fatalf("expected zero for wrong selection, got %v", got)
	}
	if got := evaluation.ScoreMCQ([]string{"opt-a", "opt-a"}, keys, 4); got != 0 {
		t.Fatalf("expected duplicate selection not to count twice, got %v", got)
	}
	if got := evaluation.ScoreMCQ([]string{"opt-a"}, nil, 4); got != 0 {
		t.Fatalf("expected zero when question has no keys, got %v", got)
	}
}

func TestScoreMCQPartial(t *testing.T) {
	keys := []string{"opt-a", "opt-b", "opt-c", "opt-d"}

	if got := evaluation.ScoreMCQPartial([]string{"opt-a", "opt-b", "opt-c", "opt-d"}, keys, 3); got != 3 {
		t.Fatalf("expected full marks for complete selection, got %v", got)
	}
	if got := evaluation.ScoreMCQPartial([]string{"opt-a", "opt-c", "opt-d"}, keys, 3); got != 2.25 {
		t.Fatalf("expected prorated 2.25, got %v", got)
	}
	if got := evaluation.ScoreMCQPartial([]string{"opt-a"}, keys, 1); got != 0.25 {
		t.Fatalf("expected prorated 0.25, got %v", got)
	}
	if got := evaluation.ScoreMCQPartial([]string{"opt-a", "opt-e"}, keys, 3); got != 0 {
		t.Fatalf("expected zero once any selection is wrong, got %v", got)
	}
	if got := evaluation.ScoreMCQPartial([]string{"opt-a", "opt-a"}, keys, 4); got != 1 {
		t.Fatalf("expected duplicates to dedupe before prorating, got %v", got)
	}
	if got := evaluation.ScoreMCQPartial(nil, keys, 3); got != 0 {
		t.Fatalf("expected zero for empty selection, got %v", got)
	}
}

func TestScoreTrueFalse(t *testing.T) {
	if got := evaluation.ScoreTrueFalse("true", []string{"true"}, 2); got != 2 {
		t.Fatalf("expected full marks for match, got %v", got)
	}
	if got := evaluation.ScoreTrueFalse("false", []string{"true"}, 2); got != 0 {
		t.Fatalf("expected zero for mismatch, got %v", got)
	}
	if got := evaluation.ScoreTrueFalse("true", nil, 2); got != 0 {
		t.Fatalf("expected zero when question has no key, got %v", got)
	}
}

func TestDirectMatch(t *testing.T) {
	if !evaluation.DirectMatch("  The  Eiffel Tower ", "the eiffel tower") {
		t.Fatal("expected case and whitespace insensitive match")
	}
	if evaluation.DirectMatch("eiffel tower", "leaning tower") {
		t.Fatal("expected different answers not to match")
	}
	if evaluation.DirectMatch("", "paris") {
		t.Fatal("expected empty answer not to match")
	}
}

func TestScoreFillBlankStatic(t *testing.T) {
	if got := evaluation.ScoreFillBlankStatic("Oxygen", "oxygen", 2); got != 2 {
		t.Fatalf("expected full marks for normalized match, got %v", got)
	}
	if got := evaluation.ScoreFillBlankStatic("red, green", "red, blue", 2); got != 1 {
		t.Fatalf("expected half marks for one of two blanks, got %v", got)
	}
	if got := evaluation.ScoreFillBlankStatic("colour", "color|colour", 3); got != 3 {
		t.Fatalf("expected alternatives to be accepted, got %v", got)
	}
	if got := evaluation.ScoreFillBlankStatic("mercury", "venus", 2); got != 0 {
		t.Fatalf("expected zero for wrong answer, got %v", got)
	}
	if got := evaluation.ScoreFillBlankStatic("a, b", "a, b, c", 1); got != 0.67 {
		t.Fatalf("expected prorated 0.67, got %v", got)
	}
}

func TestRound2(t *testing.T) {
	if got := evaluation.Round2(2.0 / 3.0); got != 0.67 {
		t.Fatalf("expected 0.67, got %v", got)
	}
	if got := evaluation.Round2(1.5); got != 1.5 {
		t.Fatalf("expected exact values to pass through, got %v", got)
	}
	if got := evaluation.Round2(0.125); got != 0.13 {
		t.Fatalf("expected round half away from zero, got %v", got)
	}
}

func TestNegativeMark(t *testing.T) {
	penalty := -1.5
	q := &quiz.Question{Mark: 4, NegativeMark: &penalty}
	on := quiz.Settings{NegativeMarking: true}
	off := quiz.Settings{NegativeMarking: false}

	if got := evaluation.NegativeMark(q, on, 0, true); got != -1.5 {
		t.Fatalf("expected configured penalty, got %v", got)
	}
	if got := evaluation.NegativeMark(q, on, 2, true); got != 0 {
		t.Fatalf("expected no penalty for positive score, got %v", got)
	}
	if got := evaluation.NegativeMark(q, on, 0, false); got != 0 {
		t.Fatalf("expected no penalty for unanswered item, got %v", got)
	}
	if got := evaluation.NegativeMark(q, off, 0, true); got != 0 {
		t.Fatalf("expected no penalty when negative marking is off, got %v", got)
	}

	fallback := &quiz.Question{Mark: 4}
	if got := evaluation.NegativeMark(fallback, on, 0, true); got != -2 {
		t.Fatalf("expected half-mark fallback penalty, got %v", got)
	}
}
