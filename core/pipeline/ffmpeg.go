package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Media abstracts the audio toolchain used by the executor and the
// chunk coordinator.
type Media interface {
	// Convert normalizes source audio to mono 16 kHz PCM WAV in outDir
	// and returns the output path.
	Convert(ctx context.Context, inputPath, outDir string) (string, error)
	// Duration reports the playable length of an audio file.
	Duration(ctx context.Context, path string) (time.Duration, error)
	// Slice extracts [start, start+duration) into outPath.
	Slice(ctx context.Context, inputPath string, start, duration time.Duration, outPath string) error
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// FFmpeg implements Media with ffmpeg and ffprobe subprocesses.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	runner      commandRunner
}

// NewFFmpeg creates the production media toolchain.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      &execRunner{},
	}
}

func (f *FFmpeg) Convert(ctx context.Context, inputPath, outDir string) (string, error) {
	outPath := filepath.Join(outDir, "audio-16k-mono.wav")
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}

	res, err := f.runner.Run(ctx, f.ffmpegPath, args...)
	if err != nil {
		return "", fmt.Errorf("ffmpeg conversion failed: %w (%s)", err, strings.TrimSpace(res.Stderr))
	}
	return outPath, nil
}

func (f *FFmpeg) Duration(ctx context.Context, path string) (time.Duration, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	res, err := f.runner.Run(ctx, f.ffprobePath, args...)
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w (%s)", err, strings.TrimSpace(res.Stderr))
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration: %w", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func (f *FFmpeg) Slice(ctx context.Context, inputPath string, start, duration time.Duration, outPath string) error {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(duration),
		"-i", inputPath,
		"-c", "copy",
		outPath,
	}

	res, err := f.runner.Run(ctx, f.ffmpegPath, args...)
	if err != nil {
		return fmt.Errorf("ffmpeg slice failed: %w (%s)", err, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
