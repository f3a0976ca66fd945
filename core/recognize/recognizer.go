package recognize

import (
	"context"

	"transcribe-orchestrator/core/models"
)

// Result is the output of one recognition call.
type Result struct {
	Text     string
	Segments []models.Segment
	Language string // detected language code
}

// Recognizer converts speech audio into text with timed segments.
// Implementations must be safely constructible fresh in each worker;
// they are not shared between workers.
type Recognizer interface {
	Recognize(ctx context.Context, audioPath, language string) (Result, error)
}

// Factory constructs a fresh Recognizer for a pool worker. It runs once
// per worker lifetime, so heavy model state is loaded per worker, not
// per chunk.
type Factory func() (Recognizer, error)
