package spec

import (
	"fmt"
	"time"

	"transcribe-orchestrator/core/models"

	"gopkg.in/yaml.v3"
)

// JobSpec represents the YAML job specification submitted with an upload
type JobSpec struct {
	Job JobSpecJob `yaml:"job"`
}

// JobSpecJob represents the job section of the spec
type JobSpecJob struct {
	Language    string             `yaml:"language"`
	Chunking    JobSpecChunking    `yaml:"chunking"`
	Punctuation JobSpecPunctuation `yaml:"punctuation"`
	Diarization JobSpecDiarization `yaml:"diarization"`
	KeepAudio   bool               `yaml:"keep_audio"`
	Tags        []string           `yaml:"tags"`
}

// JobSpecChunking controls splitting long audio into parallel chunks
type JobSpecChunking struct {
	Enabled  bool   `yaml:"enabled"`
	Duration string `yaml:"duration"` // e.g. "7m", "300s"
}

// JobSpecPunctuation selects the punctuation restoration provider
type JobSpecPunctuation struct {
	Provider string `yaml:"provider"` // empty disables restoration
}

// JobSpecDiarization controls speaker identification
type JobSpecDiarization struct {
	Enabled     bool `yaml:"enabled"`
	MaxSpeakers int  `yaml:"max_speakers"`
}

// Parsed is the result of reading a job spec document.
type Parsed struct {
	Config    models.JobConfig
	KeepAudio bool
	Tags      []string
}

// ParseJobSpec parses a YAML job specification into a job configuration.
// An empty document yields the default configuration.
func ParseJobSpec(specYAML string) (*Parsed, error) {
	var spec JobSpec
	if err := yaml.Unmarshal([]byte(specYAML), &spec); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	parsed := &Parsed{
		Config: models.JobConfig{
			ChunkingEnabled:     spec.Job.Chunking.Enabled,
			PunctuationProvider: spec.Job.Punctuation.Provider,
			DiarizationEnabled:  spec.Job.Diarization.Enabled,
			MaxSpeakers:         spec.Job.Diarization.MaxSpeakers,
			Language:            spec.Job.Language,
		},
		KeepAudio: spec.Job.KeepAudio,
		Tags:      spec.Job.Tags,
	}

	if spec.Job.Chunking.Duration != "" {
		d, err := time.ParseDuration(spec.Job.Chunking.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid chunking duration: %w", err)
		}
		parsed.Config.ChunkDuration = d
	}

	// Defaults
	if parsed.Config.ChunkingEnabled && parsed.Config.ChunkDuration == 0 {
		parsed.Config.ChunkDuration = 7 * time.Minute
	}

	return parsed, nil
}
