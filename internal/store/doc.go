// Package store manages durable evaluation state backed by SQLite: quiz
// and question rows, student submissions, job records, and generated
// reports. Redis holds only live coordination state; everything that must
// survive a restart lands here.
package store
