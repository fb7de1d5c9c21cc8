// Package evaluation scores one submission at a time. Each answered
// question becomes an item that moves through a small state machine
// (pending, validated, scored, persisted) with rejected and errored as
// terminal failure states; scoring strategy is picked by question type.
// Item failures stay inside the item: a bad question or an exhausted
// grading retry never aborts the rest of the submission.
package evaluation
