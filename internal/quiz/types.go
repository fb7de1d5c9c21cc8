package quiz

import "strings"

// ItemType identifies how a question is validated and scored. The set is
// closed: dispatch is always a switch over these values, and unknown raw
// types parse with ok=false so callers can skip the item with a warning
// instead of failing the submission.
type ItemType string

const (
	TypeMCQ         ItemType = "MCQ"
	TypeTrueFalse   ItemType = "TRUE_FALSE"
	TypeFillInBlank ItemType = "FILL_IN_BLANK"
	TypeDescriptive ItemType = "DESCRIPTIVE"
	TypeCoding      ItemType = "CODING"
)

var allItemTypes = []ItemType{
	TypeMCQ,
	TypeTrueFalse,
	TypeFillInBlank,
	TypeDescriptive,
	TypeCoding,
}

var itemTypeSet = func() map[ItemType]struct{} {
	set := make(map[ItemType]struct{}, len(allItemTypes))
	for _, t := range allItemTypes {
		set[t] = struct{}{}
	}
	return set
}()

// AllItemTypes returns the ordered list of known question types.
func AllItemTypes() []ItemType {
	cp := make([]ItemType, len(allItemTypes))
	copy(cp, allItemTypes)
	return cp
}

// ParseItemType converts a raw question type into a known ItemType.
// The value is trimmed and upper-cased before matching, mirroring how
// question rows are authored.
func ParseItemType(value string) (ItemType, bool) {
	normalized := ItemType(strings.ToUpper(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := itemTypeSet[normalized]
	return normalized, ok
}

// ItemState is the lifecycle of a single question-response pair while a
// submission is evaluated.
type ItemState string

const (
	StatePending   ItemState = "PENDING"
	StateValidated ItemState = "VALIDATED"
	StateScored    ItemState = "SCORED"
	StatePersisted ItemState = "PERSISTED"
	StateRejected  ItemState = "REJECTED"
	StateErrored   ItemState = "ERRORED"
)

// IsTerminal reports whether the state ends an item's evaluation.
func (s ItemState) IsTerminal() bool {
	switch s {
	case StatePersisted, StateRejected, StateErrored:
		return true
	default:
		return false
	}
}

// EvalStatus is the HTTP-style status code recorded in response metadata
// for each evaluated item.
type EvalStatus int

const (
	EvalSuccess      EvalStatus = 200
	EvalInvalidInput EvalStatus = 400
	EvalEmptyAnswer  EvalStatus = 422
	EvalLLMError     EvalStatus = 500
	EvalParseError   EvalStatus = 502
)

// Retryable reports whether a status reflects a server-side failure worth
// another attempt. Client-side statuses (invalid input, empty answer) are
// final on first sight.
func (s EvalStatus) Retryable() bool {
	return s == EvalLLMError || s == EvalParseError
}

// EvaluationState tracks whether a quiz or submission row has been
// evaluated. Values match the isEvaluated column.
type EvaluationState string

const (
	Unevaluated EvaluationState = "UNEVALUATED"
	Evaluated   EvaluationState = "EVALUATED"
)
