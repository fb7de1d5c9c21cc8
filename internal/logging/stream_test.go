package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestStreamHandler_WithAttrs(t *testing.T) {
	hub := NewStreamHub(100)

	base := slog.NewTextHandler(discardWriter{}, nil)
	handler := newStreamHandler(base, hub)

	logger := slog.New(handler).With(slog.String(FieldJobID, "job-42"))

	logger.Info("test message", slog.String("extra", "value"))

	events, _ := hub.Tail(10)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	if events[0].JobID != "job-42" {
		t.Errorf("expected job_id=job-42, got %q", events[0].JobID)
	}
	if events[0].Message != "test message" {
		t.Errorf("expected message='test message', got %q", events[0].Message)
	}
	if events[0].Fields["extra"] != "value" {
		t.Errorf("expected extra field captured, got %v", events[0].Fields)
	}
}

func TestStreamHandler_NestedWithAttrs(t *testing.T) {
	hub := NewStreamHub(100)
	base := slog.NewTextHandler(discardWriter{}, nil)
	handler := newStreamHandler(base, hub)

	logger := slog.New(handler).
		With(slog.String(FieldWorker, "host.77.1700000000")).
		With(slog.String(FieldJobID, "job-99")).
		With(slog.String(FieldQuizID, "quiz-5"))

	logger.Info("batch progress")

	events, _ := hub.Tail(10)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	evt := events[0]
	if evt.JobID != "job-99" {
		t.Errorf("expected job_id=job-99, got %q", evt.JobID)
	}
	if evt.Worker != "host.77.1700000000" {
		t.Errorf("expected worker name, got %q", evt.Worker)
	}
	if evt.QuizID != "quiz-5" {
		t.Errorf("expected quiz_id=quiz-5, got %q", evt.QuizID)
	}
}

func TestStreamHandler_CallSiteOverridesWithAttrs(t *testing.T) {
	hub := NewStreamHub(100)
	base := slog.NewTextHandler(discardWriter{}, nil)
	handler := newStreamHandler(base, hub)

	logger := slog.New(handler).With(slog.String(FieldQuizID, "original"))

	logger.Info("message", slog.String(FieldQuizID, "overridden"))

	events, _ := hub.Tail(10)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	if events[0].QuizID != "overridden" {
		t.Errorf("expected quiz_id='overridden', got %q", events[0].QuizID)
	}
}

func TestStreamHandler_NilHub(t *testing.T) {
	base := slog.NewTextHandler(discardWriter{}, nil)
	handler := newStreamHandler(base, nil)

	if handler != base {
		t.Errorf("expected base handler when hub is nil")
	}
}

func TestStreamHubFetchReturnsEventsAfterSequence(t *testing.T) {
	hub := NewStreamHub(8)
	for i := 0; i < 5; i++ {
		hub.Publish(LogEvent{Message: "event"})
	}

	events, next, err := hub.Fetch(context.Background(), 2, 10, false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events after seq 2, got %d", len(events))
	}
	if next != 5 {
		t.Fatalf("expected next sequence 5, got %d", next)
	}
}

func TestStreamHubBufferRollsOver(t *testing.T) {
	hub := NewStreamHub(3)
	for i := 0; i < 6; i++ {
		hub.Publish(LogEvent{Message: "event"})
	}

	events, _ := hub.Tail(10)
	if len(events) != 3 {
		t.Fatalf("expected buffer capped at 3, got %d", len(events))
	}
	if got := hub.FirstSequence(); got != 4 {
		t.Fatalf("expected oldest buffered sequence 4, got %d", got)
	}
}

func TestStreamHandler_Enabled(t *testing.T) {
	hub := NewStreamHub(100)
	base := slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	handler := newStreamHandler(base, hub)

	if handler.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected INFO to be disabled when base level is WARN")
	}
	if !handler.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("expected WARN to be enabled when base level is WARN")
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
