package services

import (
	"errors"
	"fmt"
	"strings"

	"desceval/internal/quiz"
)

var (
	ErrExternalService = errors.New("external service error")
	ErrValidation      = errors.New("validation error")
	ErrConfiguration   = errors.New("configuration error")
	ErrNotFound        = errors.New("not found")
	ErrTimeout         = errors.New("timeout")
	ErrTransient       = errors.New("transient failure")
)

// Wrap builds an error message that includes phase context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, phase, operation, message string, err error) error {
	detail := buildDetail(phase, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureState maps an evaluation error to the item state the state machine
// records after the item fails. Validation-class markers reject the item;
// everything else is an evaluation error.
func FailureState(err error) quiz.ItemState {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration), errors.Is(err, ErrNotFound):
		return quiz.StateRejected
	default:
		return quiz.StateErrored
	}
}

// FailureEvalStatus maps an evaluation error to the status code recorded in
// the item's response metadata.
func FailureEvalStatus(err error) quiz.EvalStatus {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		return quiz.EvalInvalidInput
	case errors.Is(err, ErrExternalService), errors.Is(err, ErrTimeout):
		return quiz.EvalLLMError
	default:
		return quiz.EvalParseError
	}
}

func buildDetail(phase, operation, message string) string {
	parts := make([]string, 0, 3)
	if phase = strings.TrimSpace(phase); phase != "" {
		parts = append(parts, phase)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
