// Package quiz defines the shared evaluation domain model: question and
// submission shapes, the closed question-type enum, and the lifecycle
// states an item moves through while a submission is evaluated.
package quiz
