package evaluation

import (
	"math"

	"desceval/internal/quiz"
	"desceval/internal/textutil"
)

// ScoreMCQ grades a multiple-choice answer all-or-nothing: the selected
// keys must equal the answer keys as sets.
func ScoreMCQ(selected, answerKeys []string, mark float64) float64 {
	want := keySet(answerKeys)
	if len(want) == 0 {
		return 0
	}
	got := keySet(selected)
	if len(got) != len(want) {
		return 0
	}
	for key := range got {
		if _, ok := want[key]; !ok {
			return 0
		}
	}
	return mark
}

// ScoreMCQPartial grades a multiple-choice answer with partial credit:
// any wrong selection scores zero, otherwise the mark is prorated by the
// share of answer keys selected.
func ScoreMCQPartial(selected, answerKeys []string, mark float64) float64 {
	want := keySet(answerKeys)
	if len(want) == 0 {
		return 0
	}
	got := keySet(selected)
	for key := range got {
		if _, ok := want[key]; !ok {
			return 0
		}
	}
	return Round2(mark * float64(len(got)) / float64(len(want)))
}

func keySet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		set[key] = struct{}{}
	}
	return set
}

// ScoreTrueFalse grades a true/false answer by direct equality against
// the first answer key.
func ScoreTrueFalse(answer string, answerKeys []string, mark float64) float64 {
	if len(answerKeys) == 0 {
		return 0
	}
	if answer == answerKeys[0] {
		return mark
	}
	return 0
}

// DirectMatch reports whether a free-text answer equals the expected
// answer after normalization. It is the pre-LLM short circuit for
// descriptive and fill-in-the-blank items.
func DirectMatch(answer, expected string) bool {
	return textutil.Equal(answer, expected)
}

// ScoreFillBlankStatic grades a fill-in-the-blank answer without the
// model. Blanks are comma-separated and compared positionally; within a
// blank, pipe-separated alternatives are all acceptable. The mark is
// prorated by blanks matched.
func ScoreFillBlankStatic(answer, expected string, mark float64) float64 {
	if textutil.Equal(answer, expected) {
		return mark
	}
	wantBlanks := splitBlanks(expected)
	gotBlanks := splitBlanks(answer)
	if len(wantBlanks) == 0 {
		return 0
	}
	correct := 0
	for i, want := range wantBlanks {
		if i >= len(gotBlanks) {
			break
		}
		for _, alternative := range splitAlternatives(want) {
			if textutil.Equal(gotBlanks[i], alternative) {
				correct++
				break
			}
		}
	}
	return Round2(mark * float64(correct) / float64(len(wantBlanks)))
}

// Round2 rounds a score to two decimal places, matching how prorated
// marks are stored.
func Round2(value float64) float64 {
	return math.Round(value*100) / 100
}

// NegativeMark returns the penalty for a non-positive scored item when
// negative marking is enabled, zero otherwise. Empty answers are exempt:
// a blank is not a wrong answer.
func NegativeMark(q *quiz.Question, settings quiz.Settings, score float64, answered bool) float64 {
	if !settings.NegativeMarking || !answered || score > 0 {
		return 0
	}
	return q.NegativeFor()
}

func splitBlanks(value string) []string {
	return splitAndTrim(value, ',')
}

func splitAlternatives(value string) []string {
	return splitAndTrim(value, '|')
}

func splitAndTrim(value string, sep byte) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(value); i++ {
		if i == len(value) || value[i] == sep {
			parts = append(parts, value[start:i])
			start = i + 1
		}
	}
	return parts
}
