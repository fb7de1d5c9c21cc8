// Package services defines shared utilities consumed by the evaluation
// pipeline and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job, quiz, and worker identifiers for
//     logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent item states (rejected vs errored).
//
// Use these helpers when wiring new evaluation logic so operational
// behaviour (error handling, observability, retries) stays uniform across
// the pipeline.
package services
