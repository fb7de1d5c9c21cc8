package services_test

import (
	"errors"
	"strings"
	"testing"

	"desceval/internal/quiz"
	"desceval/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalService, "scoring", "descriptive", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"scoring", "descriptive", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransientMarker(t *testing.T) {
	err := services.Wrap(nil, "persist", "", "write failed", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker for nil marker, got %v", err)
	}
}

func TestFailureStateMapping(t *testing.T) {
	validationErr := services.Wrap(services.ErrValidation, "validate", "answer", "missing answer key", nil)
	if state := services.FailureState(validationErr); state != quiz.StateRejected {
		t.Fatalf("expected rejected for validation error, got %s", state)
	}

	transientErr := services.Wrap(services.ErrTransient, "scoring", "llm", "call failed", errors.New("io"))
	if state := services.FailureState(transientErr); state != quiz.StateErrored {
		t.Fatalf("expected errored for transient error, got %s", state)
	}

	if state := services.FailureState(nil); state != quiz.StateErrored {
		t.Fatalf("expected errored for nil error, got %s", state)
	}
}

func TestFailureEvalStatusMapping(t *testing.T) {
	cases := []struct {
		marker error
		want   quiz.EvalStatus
	}{
		{services.ErrValidation, quiz.EvalInvalidInput},
		{services.ErrNotFound, quiz.EvalInvalidInput},
		{services.ErrExternalService, quiz.EvalLLMError},
		{services.ErrTimeout, quiz.EvalLLMError},
		{services.ErrTransient, quiz.EvalParseError},
	}
	for _, tc := range cases {
		err := services.Wrap(tc.marker, "scoring", "op", "failed", nil)
		if got := services.FailureEvalStatus(err); got != tc.want {
			t.Fatalf("expected %d for %v, got %d", tc.want, tc.marker, got)
		}
	}
}
