package models

// ChunkStatus represents the recognition state of one audio chunk
type ChunkStatus string

const (
	ChunkStatusPending    ChunkStatus = "pending"
	ChunkStatusProcessing ChunkStatus = "processing"
	ChunkStatusCompleted  ChunkStatus = "completed"
	ChunkStatusFailed     ChunkStatus = "failed"
)

// Chunk is a time-bounded slice of a job's audio, recognized
// independently. Index is 1-based and ordering-significant.
type Chunk struct {
	Index    int
	StartMS  int64
	EndMS    int64
	Status   ChunkStatus
	Text     string
	Segments []Segment
}

// VolatileJobState is the in-process-only view of an executing job.
// It is lost on restart; durable status must reflect reality on its own.
type VolatileJobState struct {
	ProgressText string
	Chunks       []Chunk

	AudioConverted       bool
	PunctuationStarted   bool
	PunctuationCompleted bool
	PunctuationCurrent   int
	PunctuationTotal     int
	DiarizationStarted   bool
	DiarizationCompleted bool

	CancelRequested bool
}

// ChunkCounts reports completed and in-flight chunk totals.
func (v *VolatileJobState) ChunkCounts() (completed, processing int) {
	for _, c := range v.Chunks {
		switch c.Status {
		case ChunkStatusCompleted:
			completed++
		case ChunkStatusProcessing:
			processing++
		}
	}
	return completed, processing
}
