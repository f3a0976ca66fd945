package models

import "time"

// Job represents a transcription job submitted to the platform
type Job struct {
	ID        string
	OwnerID   string
	Status    JobStatus
	Config    JobConfig
	File      FileMeta
	Result    JobResult
	Tags      []string
	KeepAudio bool
	Deleted   bool
	Error     string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	// Volatile fields merged in by the coordinator on read. A bare
	// durable snapshot leaves them zero.
	ProgressText       string
	ProgressPercentage float64
	Chunks             []Chunk
}

// JobStatus represents the current status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCanceling  JobStatus = "canceling"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobConfig specifies how the pipeline should process a job
type JobConfig struct {
	ChunkingEnabled     bool
	ChunkDuration       time.Duration
	PunctuationProvider string // empty disables punctuation restoration
	DiarizationEnabled  bool
	MaxSpeakers         int
	Language            string // empty means auto-detect
}

// FileMeta describes the uploaded source audio
type FileMeta struct {
	Name string
	Size int64
	Path string // location of the uploaded bytes on local disk
}

// JobResult holds references to the finished artifacts
type JobResult struct {
	TranscriptRef string
	SegmentsRef   string
	AudioRef      string // set only when the source audio was preserved
}

// Segment is one timed span of recognized speech. Times are seconds
// relative to the start of the full recording.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}
