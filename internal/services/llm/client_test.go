package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"desceval/internal/quiz"
)

func chatContent(content string) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{
				"message": map[string]any{
					"content": content,
				},
			},
		},
	}
}

func TestScoreGradesDescriptiveAnswer(t *testing.T) {
	var userPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Fatalf("unexpected message layout: %#v", req.Messages)
		}
		userPrompt = req.Messages[1].Content
		payload := chatContent(`{"rubric":"## Criteria","breakdown":"## Marks","score":3.5,"reason":"mostly correct"}`)
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIKeys: []string{"test"}, BaseURL: server.URL, Model: "demo-model"})
	result, err := client.Score(context.Background(), ScoreInput{
		Question:       "Explain indexes.",
		StudentAnswer:  "They speed up lookups.",
		ExpectedAnswer: "Indexes speed up lookups at the cost of writes.",
		Guidelines:     "Award 2 for lookup speed, 3 for trade-offs.",
		TotalScore:     5,
	})
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if result.Status != quiz.EvalSuccess {
		t.Fatalf("expected success status, got %v", result.Status)
	}
	if result.Score != 3.5 || result.Reason != "mostly correct" {
		t.Fatalf("unexpected result: %#v", result)
	}
	if !strings.Contains(userPrompt, "<student_ans>\nThey speed up lookups.\n</student_ans>") {
		t.Fatalf("expected tagged student answer in prompt, got %q", userPrompt)
	}
	if !strings.Contains(userPrompt, "Question-specific Guidelines") {
		t.Fatalf("expected guidelines section in prompt, got %q", userPrompt)
	}
}

func TestScoreInvalidInputSkipsModel(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	client := NewClient(Config{APIKeys: []string{"test"}, BaseURL: server.URL, Model: "demo"})
	result, err := client.Score(context.Background(), ScoreInput{
		StudentAnswer: "something",
		TotalScore:    5,
	})
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if result.Status != quiz.EvalInvalidInput || result.Score != 0 {
		t.Fatalf("expected invalid-input result, got %#v", result)
	}
	if calls != 0 {
		t.Fatalf("expected no model calls, got %d", calls)
	}
}

func TestScoreEmptyAnswerSkipsModel(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	client := NewClient(Config{APIKeys: []string{"test"}, BaseURL: server.URL, Model: "demo"})
	result, err := client.Score(context.Background(), ScoreInput{
		StudentAnswer:  "   ",
		ExpectedAnswer: "Paris",
		TotalScore:     1,
	})
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if result.Status != quiz.EvalEmptyAnswer {
		t.Fatalf("expected empty-answer status, got %v", result.Status)
	}
	if calls != 0 {
		t.Fatalf("expected no model calls, got %d", calls)
	}
}

func TestScoreRejectsScoreAboveTotal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := chatContent(`{"rubric":"r","breakdown":"b","score":9,"reason":"generous"}`)
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(Config{APIKeys: []string{"test"}, BaseURL: server.URL, Model: "demo"})
	_, err := client.Score(context.Background(), ScoreInput{
		StudentAnswer:  "answer",
		ExpectedAnswer: "expected",
		TotalScore:     5,
	})
	if err == nil {
		t.Fatal("expected error for score above total")
	}
	if !strings.Contains(err.Error(), "exceeds total") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestScoreAcceptsQuotedNumber(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := chatContent(`{"rubric":"r","breakdown":"b","score":"2.75","reason":"partial"}`)
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(Config{APIKeys: []string{"test"}, BaseURL: server.URL, Model: "demo"})
	result, err := client.Score(context.Background(), ScoreInput{
		StudentAnswer:  "answer",
		ExpectedAnswer: "expected",
		TotalScore:     5,
	})
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if result.Score != 2.75 {
		t.Fatalf("expected score 2.75, got %v", result.Score)
	}
}

func TestScoreFillInBlankCodeFence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := chatContent("```json\n{\"score\":1,\"reason\":\"typo tolerated\"}\n```")
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(Config{APIKeys: []string{"test"}, BaseURL: server.URL, Model: "demo"})
	result, err := client.ScoreFillInBlank(context.Background(), ScoreInput{
		Question:       "The capital of France is ____.",
		StudentAnswer:  "Pariss",
		ExpectedAnswer: "Paris",
		TotalScore:     1,
	})
	if err != nil {
		t.Fatalf("ScoreFillInBlank returned error: %v", err)
	}
	if result.Status != quiz.EvalSuccess || result.Score != 1 {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestGenerateGuidelinesParsesPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := chatContent(`{"guidelines":"## Criteria\n- Definition: 2 marks"}`)
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(Config{APIKeys: []string{"test"}, BaseURL: server.URL, Model: "demo"})
	guidelines, err := client.GenerateGuidelines(context.Background(), "Explain indexes.", "Indexes speed up lookups.", 5)
	if err != nil {
		t.Fatalf("GenerateGuidelines returned error: %v", err)
	}
	if !strings.Contains(guidelines, "Definition: 2 marks") {
		t.Fatalf("unexpected guidelines: %q", guidelines)
	}
}

func TestGenerateGuidelinesFallsBackToRawText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := chatContent("Here are the criteria: definition 2 marks, trade-offs 3 marks.")
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(Config{APIKeys: []string{"test"}, BaseURL: server.URL, Model: "demo"})
	guidelines, err := client.GenerateGuidelines(context.Background(), "Explain indexes.", "Indexes speed up lookups.", 5)
	if err != nil {
		t.Fatalf("GenerateGuidelines returned error: %v", err)
	}
	if !strings.Contains(guidelines, "definition 2 marks") {
		t.Fatalf("expected raw text fallback, got %q", guidelines)
	}
}

func TestClientRotatesAPIKeys(t *testing.T) {
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		payload := chatContent(`{"score":1,"reason":"ok"}`)
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(Config{APIKeys: []string{"key-a", "key-b"}, BaseURL: server.URL, Model: "demo"})
	in := ScoreInput{Question: "q", StudentAnswer: "a", ExpectedAnswer: "e", TotalScore: 1}
	for i := 0; i < 3; i++ {
		if _, err := client.ScoreFillInBlank(context.Background(), in); err != nil {
			t.Fatalf("ScoreFillInBlank returned error: %v", err)
		}
	}
	want := []string{"Bearer key-a", "Bearer key-b", "Bearer key-a"}
	if len(seen) != len(want) {
		t.Fatalf("expected %d calls, got %d", len(want), len(seen))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("call %d used %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestClientRequiresAPIKey(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1", Model: "demo"})
	_, err := client.Score(context.Background(), ScoreInput{
		StudentAnswer:  "a",
		ExpectedAnswer: "e",
		TotalScore:     1,
	})
	if err == nil || !strings.Contains(err.Error(), "api key required") {
		t.Fatalf("expected api key error, got %v", err)
	}
}

func TestClientRetriesOnHTTP429(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
			return
		}
		_ = json.NewEncoder(w).Encode(chatContent(`{"score":1,"reason":"ok"}`))
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(
		Config{APIKeys: []string{"test"}, BaseURL: server.URL, Model: "demo-model"},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
		WithRetryBackoff(0, 10*time.Second),
		WithRetryMaxAttempts(5),
	)
	result, err := client.ScoreFillInBlank(context.Background(), ScoreInput{
		Question:       "q",
		StudentAnswer:  "a",
		ExpectedAnswer: "e",
		TotalScore:     1,
	})
	if err != nil {
		t.Fatalf("ScoreFillInBlank returned error: %v", err)
	}
	if result.Score != 1 {
		t.Fatalf("unexpected result: %#v", result)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("expected single sleep of 1s, got %v", slept)
	}
}

func TestClientRetriesOnEmptyContentThenSucceeds(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		content := ""
		if calls >= 3 {
			content = `{"score":0.5,"reason":"half credit"}`
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"finish_reason": "stop",
					"message": map[string]any{
						"content": content,
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKeys: []string{"test"}, BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(0, 0),
		WithSleeper(func(time.Duration) {}),
		WithRetryMaxAttempts(5),
	)
	result, err := client.ScoreFillInBlank(context.Background(), ScoreInput{
		Question:       "q",
		StudentAnswer:  "a",
		ExpectedAnswer: "e",
		TotalScore:     1,
	})
	if err != nil {
		t.Fatalf("ScoreFillInBlank returned error: %v", err)
	}
	if result.Score != 0.5 {
		t.Fatalf("unexpected result: %#v", result)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatContent(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKeys: []string{"test"}, BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestHealthCheckFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	}))
	defer server.Close()

	client := NewClient(Config{APIKeys: []string{"bad"}, BaseURL: server.URL, Model: "demo"})
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check to fail")
	}
}
