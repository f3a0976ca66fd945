package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort string

	// Scheduling
	MaxConcurrentJobs int
	ChunkWorkers      int

	// Filesystem
	UploadDir  string
	ResultsDir string

	// Audio toolchain
	FFmpegPath  string
	FFprobePath string

	// Recognition
	RecognitionProvider string // whisper | openai
	WhisperPath         string
	WhisperModelPath    string
	OpenAIModel         string

	// Punctuation
	OpenAIAPIKeys     []string
	PunctuationModels []string

	// Diarization
	DiarizerPath string // empty disables speaker identification

	// Audio preservation
	AudioStore string // local | s3
	AudioDir   string
	S3Bucket   string
	S3Prefix   string

	// Worker hygiene
	WorkerSweepInterval time.Duration
	WorkerKillGrace     time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost/transcribe?sslmode=disable"),
		ServerPort:  getEnv("SERVER_PORT", "8080"),

		MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", 2),
		ChunkWorkers:      getEnvInt("CHUNK_WORKERS", 2),

		UploadDir:  getEnv("UPLOAD_DIR", "/var/lib/transcribe/uploads"),
		ResultsDir: getEnv("RESULTS_DIR", "/var/lib/transcribe/results"),

		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),

		RecognitionProvider: getEnv("RECOGNITION_PROVIDER", "whisper"),
		WhisperPath:         getEnv("WHISPER_PATH", "whisper"),
		WhisperModelPath:    getEnv("WHISPER_MODEL_PATH", ""),
		OpenAIModel:         getEnv("OPENAI_RECOGNITION_MODEL", "whisper-1"),

		OpenAIAPIKeys:     getEnvList("OPENAI_API_KEYS"),
		PunctuationModels: getEnvListDefault("PUNCTUATION_MODELS", []string{"gpt-4o-mini", "gpt-4o"}),

		DiarizerPath: getEnv("DIARIZER_PATH", ""),

		AudioStore: getEnv("AUDIO_STORE", "local"),
		AudioDir:   getEnv("AUDIO_DIR", "/var/lib/transcribe/audio"),
		S3Bucket:   getEnv("S3_BUCKET", ""),
		S3Prefix:   getEnv("S3_PREFIX", "audio/"),

		WorkerSweepInterval: getEnvDuration("WORKER_SWEEP_INTERVAL", time.Minute),
		WorkerKillGrace:     getEnvDuration("WORKER_KILL_GRACE", 5*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Validate checks configuration combinations that cannot work.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	switch c.RecognitionProvider {
	case "whisper":
		if c.WhisperModelPath == "" {
			return fmt.Errorf("WHISPER_MODEL_PATH must be set for the whisper provider")
		}
	case "openai":
		if len(c.OpenAIAPIKeys) == 0 {
			return fmt.Errorf("OPENAI_API_KEYS must be set for the openai provider")
		}
	default:
		return fmt.Errorf("unknown recognition provider %q", c.RecognitionProvider)
	}
	if c.AudioStore == "s3" && c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET must be set when AUDIO_STORE is s3")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvListDefault(key string, defaultValue []string) []string {
	if list := getEnvList(key); list != nil {
		return list
	}
	return defaultValue
}
