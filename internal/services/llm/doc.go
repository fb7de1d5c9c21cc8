// Package llm provides an OpenAI-compatible chat client for LLM-assisted
// grading.
//
// This package is used by:
//   - Descriptive evaluation: score free-text answers against the expected
//     answer and per-question guidelines
//   - Fill-in-the-blank evaluation: score answers that failed the direct
//     string match
//   - Guidelines generation: build a rubric for descriptive questions that
//     lack one
//
// # Grading Logic
//
// The client sends the question, the student's answer, and the expected
// answer to a configured model with a structured prompt requesting JSON
// output. The response carries the awarded score, a reason, and for
// descriptive answers the rubric and mark breakdown used.
//
// Client-side problems (missing expected answer, empty student answer) are
// returned as statused results without calling the model, so callers can
// record them without burning retries. A parsed score above the question's
// total is treated as a model failure and returned as an error.
//
// # Configuration
//
// Requires at least one API key and a model; base_url and timeout are
// optional. Multiple keys are rotated one per attempt, so a rate-limited
// key does not stall a batch.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.Score: grade a descriptive answer.
// Client.ScoreFillInBlank: grade a fill-in-the-blank answer.
// Client.GenerateGuidelines: build a rubric for a descriptive question.
// Client.HealthCheck: verify API key and model availability.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx errors, empty completions, and
// network timeouts with exponential backoff (base 1s, max 10s, up to 5
// attempts by default). Context cancellation aborts retries immediately.
//
// # Guidelines Fallback
//
// When the model answers a guidelines request but the JSON cannot be
// parsed, the raw text is returned as the guidelines rather than failing:
// an imperfect rubric still beats none.
package llm
