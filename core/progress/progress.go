package progress

import "transcribe-orchestrator/core/models"

// Stage weights. They always sum to 100; when chunking is disabled the
// chunking and transcription weights are granted as one combined block.
const (
	conversionWeight    = 5.0
	chunkingWeight      = 5.0
	transcriptionWeight = 77.0
	punctuationWeight   = 13.0
)

// Snapshot is the minimal job state needed to estimate progress.
type Snapshot struct {
	Status          models.JobStatus
	ChunkingEnabled bool
	AudioConverted  bool

	ChunkTotal      int
	ChunkCompleted  int
	ChunkProcessing int

	PunctuationStarted   bool
	PunctuationCompleted bool
	PunctuationCurrent   int
	PunctuationTotal     int
}

// Percentage maps a snapshot to a value in [0,100]. The estimate is
// monotonic under forward state transitions; a completed job reports
// exactly 100 regardless of accumulated partial weight.
func Percentage(s Snapshot) float64 {
	if s.Status == models.JobStatusCompleted {
		return 100
	}

	var pct float64
	if s.AudioConverted {
		pct += conversionWeight
	}

	if s.ChunkingEnabled {
		pct += chunkedTranscription(s)
	} else {
		pct += wholeFileTranscription(s)
	}

	pct += punctuation(s)

	if pct > 100 {
		pct = 100
	}
	return pct
}

// chunkedTranscription grants the chunking weight once any chunk left
// pending, and spreads the transcription weight evenly over the chunks.
// An in-flight chunk counts as half done.
func chunkedTranscription(s Snapshot) float64 {
	if s.ChunkTotal == 0 || s.ChunkCompleted+s.ChunkProcessing == 0 {
		return 0
	}

	pct := chunkingWeight
	n := float64(s.ChunkTotal)
	pct += transcriptionWeight * float64(s.ChunkCompleted) / n
	pct += transcriptionWeight * float64(s.ChunkProcessing) / (2 * n)
	return pct
}

// wholeFileTranscription grants the combined chunking+transcription
// weight in full once punctuation has begun (recognition is necessarily
// finished by then), and half of it while recognition is presumed to
// still be running.
func wholeFileTranscription(s Snapshot) float64 {
	combined := chunkingWeight + transcriptionWeight
	if s.PunctuationStarted || s.PunctuationCompleted {
		return combined
	}
	if s.AudioConverted {
		return combined / 2
	}
	return 0
}

func punctuation(s Snapshot) float64 {
	if s.PunctuationCompleted {
		return punctuationWeight
	}
	if s.PunctuationStarted && s.PunctuationTotal > 0 {
		return punctuationWeight * float64(s.PunctuationCurrent) / float64(s.PunctuationTotal)
	}
	return 0
}
