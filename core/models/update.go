package models

import "time"

// VolatileUpdate mutates only the in-process state of a job. Nil fields
// are left untouched; Chunk upserts a single chunk by index.
type VolatileUpdate struct {
	ProgressText *string
	Chunks       []Chunk // replaces the whole chunk set
	Chunk        *Chunk  // upserts one chunk by Index

	AudioConverted       *bool
	PunctuationStarted   *bool
	PunctuationCompleted *bool
	PunctuationCurrent   *int
	PunctuationTotal     *int
	DiarizationStarted   *bool
	DiarizationCompleted *bool
}

// DurableUpdate writes through to the job store. Every durable write
// also refreshes updated_at.
type DurableUpdate struct {
	Status      *JobStatus
	Error       *string
	Result      *JobResult
	Tags        []string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Bool returns a pointer to b, for building updates inline.
func Bool(b bool) *bool { return &b }

// String returns a pointer to s, for building updates inline.
func String(s string) *string { return &s }

// Int returns a pointer to i, for building updates inline.
func Int(i int) *int { return &i }

// Status returns a pointer to s, for building updates inline.
func Status(s JobStatus) *JobStatus { return &s }
