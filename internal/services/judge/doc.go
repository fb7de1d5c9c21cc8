// Package judge provides a client for a Judge0-compatible code execution
// service, used to grade coding answers.
//
// # Grading Logic
//
// The student's code is cleaned (print statements commented out so stray
// output cannot forge markers), concatenated with the question's driver
// code, and submitted for synchronous execution. The driver prints one
// "Test case successful!" or "Test case failed!" line per test case; the
// client counts those lines in stdout to produce passed/total.
//
// # Zero-score Outcomes
//
// Several data problems score zero without being errors: an empty answer,
// an unsupported language, stdout with no markers (code blocked on input
// or looped forever), and a marker count that disagrees with the
// question's test case list. These come back as a zero Result carrying
// the run output, so the score and remarks can still be persisted.
// ErrNoTestCases flags a driver with no markers at all: an invalid
// question, not a gradeable run.
//
// # Supported Languages
//
// python (71), octave (66), java (62). Octave code additionally gets
// semicolons appended to bare statements to suppress value echoing, and a
// throwaway first assignment for the same reason.
package judge
