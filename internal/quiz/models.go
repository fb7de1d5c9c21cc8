package quiz

import (
	"encoding/json"
	"fmt"
	"time"
)

// Option is one selectable choice on an MCQ or true/false question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// TestCase is one input/expected pair attached to a coding question.
type TestCase struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
}

// Question is one quiz question as loaded from the store. Type is kept
// raw; callers parse it with ParseItemType so rows with unknown types can
// be skipped instead of failing the whole load.
type Question struct {
	ID             string
	QuizID         string
	Type           string
	Text           string
	Mark           float64
	NegativeMark   *float64
	Options        []Option
	AnswerKeys     []string
	ExpectedAnswer string
	Guidelines     string
	DriverCode     string
	TestCases      []TestCase
}

// NegativeFor returns the negative mark applied when a scored item lands
// at or below zero: the question's configured NegativeMark when present,
// otherwise half the question mark, negated.
func (q Question) NegativeFor() float64 {
	if q.NegativeMark != nil {
		return *q.NegativeMark
	}
	return -q.Mark / 2
}

// Response is one student's answer to one question plus the outcome the
// evaluator writes back. Field names match the responses JSON blob stored
// on the submission row.
type Response struct {
	StudentAnswer []string `json:"student_answer"`
	Score         *float64 `json:"score,omitempty"`
	NegativeScore *float64 `json:"negative_score,omitempty"`
	Remarks       string   `json:"remarks,omitempty"`
	Breakdown     string   `json:"breakdown,omitempty"`
}

// Answered reports whether the student supplied any non-empty answer.
func (r *Response) Answered() bool {
	if r == nil {
		return false
	}
	for _, a := range r.StudentAnswer {
		if a != "" {
			return true
		}
	}
	return false
}

// SetScore records a score, replacing any earlier value.
func (r *Response) SetScore(score float64) {
	r.Score = &score
}

// SetNegative records a negative mark, replacing any earlier value.
func (r *Response) SetNegative(score float64) {
	r.NegativeScore = &score
}

// Submission is one student's quiz attempt (a submissions row plus its
// decoded responses blob).
type Submission struct {
	ID          string
	QuizID      string
	StudentID   string
	Responses   map[string]*Response
	Score       *float64
	TotalScore  float64
	Violations  string
	IsEvaluated EvaluationState
	SubmittedAt time.Time
}

// Response returns the response recorded for a question, if any.
func (s *Submission) Response(questionID string) (*Response, bool) {
	if s == nil || s.Responses == nil {
		return nil, false
	}
	r, ok := s.Responses[questionID]
	return r, ok
}

// DecodeResponses parses a responses JSON blob as stored on the
// submission row.
func DecodeResponses(raw []byte) (map[string]*Response, error) {
	if len(raw) == 0 {
		return map[string]*Response{}, nil
	}
	var out map[string]*Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode responses: %w", err)
	}
	if out == nil {
		out = map[string]*Response{}
	}
	return out, nil
}

// EncodeResponses serializes the responses map back into the stored blob.
func EncodeResponses(responses map[string]*Response) ([]byte, error) {
	if responses == nil {
		responses = map[string]*Response{}
	}
	raw, err := json.Marshal(responses)
	if err != nil {
		return nil, fmt.Errorf("encode responses: %w", err)
	}
	return raw, nil
}

// FinalScore sums score plus negative mark across all responses and
// floors the total at zero. Unevaluated responses contribute nothing.
func FinalScore(responses map[string]*Response) float64 {
	var total float64
	for _, r := range responses {
		if r == nil || r.Score == nil {
			continue
		}
		total += *r.Score
		if r.NegativeScore != nil {
			total += *r.NegativeScore
		}
	}
	if total < 0 {
		return 0
	}
	return total
}

// Settings are the per-quiz evaluation switches. Keys match the quiz
// settings JSON.
type Settings struct {
	NegativeMarking      bool `json:"negativeMark"`
	MCQPartialMarking    bool `json:"mcqPartialMark"`
	CodingPartialMarking bool `json:"codePartialMark"`
}

// DefaultSettings returns the switches applied when a quiz carries no
// settings blob: partial marking on, negative marking off.
func DefaultSettings() Settings {
	return Settings{
		NegativeMarking:      false,
		MCQPartialMarking:    true,
		CodingPartialMarking: true,
	}
}

// DecodeSettings parses a quiz settings blob, falling back to defaults
// for absent keys.
func DecodeSettings(raw []byte) (Settings, error) {
	settings := DefaultSettings()
	if len(raw) == 0 {
		return settings, nil
	}
	if err := json.Unmarshal(raw, &settings); err != nil {
		return Settings{}, fmt.Errorf("decode quiz settings: %w", err)
	}
	return settings, nil
}

// Quiz is the quiz row the orchestrator operates on.
type Quiz struct {
	ID          string
	Title       string
	Settings    Settings
	TotalMark   float64
	IsEvaluated EvaluationState
	CreatedAt   time.Time
}
