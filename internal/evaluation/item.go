package evaluation

import (
	"time"

	"desceval/internal/quiz"
)

// Method records how an item's score was produced.
type Method string

const (
	MethodAuto       Method = "auto"
	MethodExactMatch Method = "exact_match"
	MethodLLM        Method = "llm"
	MethodTestCases  Method = "test_cases"
)

// Item is one question-response pair moving through evaluation.
type Item struct {
	QuestionID string
	Type       quiz.ItemType
	Question   *quiz.Question
	Response   *quiz.Response

	State    quiz.ItemState
	Status   quiz.EvalStatus
	Method   Method
	Attempts int
	Duration time.Duration
	Note     string
}

// advance moves the item forward. States never regress: a terminal item
// keeps its first terminal state.
func (it *Item) advance(state quiz.ItemState) {
	if it.State.IsTerminal() {
		return
	}
	it.State = state
}

// reject terminates the item at validation with a reason.
func (it *Item) reject(note string) {
	it.advance(quiz.StateRejected)
	it.Status = quiz.EvalInvalidInput
	it.Note = note
}

// errored terminates the item after scoring failed for good.
func (it *Item) errored(status quiz.EvalStatus, note string) {
	it.advance(quiz.StateErrored)
	it.Status = status
	it.Note = note
}

// Score returns the item's recorded score, zero when unscored.
func (it *Item) Score() float64 {
	if it.Response == nil || it.Response.Score == nil {
		return 0
	}
	return *it.Response.Score
}

// Outcome is the result of evaluating one submission: the mutated
// submission plus the per-item trail.
type Outcome struct {
	Submission *quiz.Submission
	Items      []*Item

	Scored   int
	Rejected int
	Errored  int
	Skipped  int

	Score      float64
	TotalScore float64
	Elapsed    time.Duration
}

// Failed reports whether any item ended in a terminal failure state.
func (o *Outcome) Failed() bool {
	return o.Rejected > 0 || o.Errored > 0
}

// MarkPersisted flips every scored item to the persisted terminal state.
// Called once the submission row write has succeeded.
func (o *Outcome) MarkPersisted() {
	for _, it := range o.Items {
		if it.State == quiz.StateScored {
			it.State = quiz.StatePersisted
		}
	}
}

// ItemFor returns the item recorded for a question, or nil.
func (o *Outcome) ItemFor(questionID string) *Item {
	for _, it := range o.Items {
		if it.QuestionID == questionID {
			return it
		}
	}
	return nil
}
