package diarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Turn is one contiguous interval attributed to a single speaker.
// Times are seconds from the start of the recording.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Diarizer segments audio by speaker. It is an optional collaborator;
// when absent the diarization stage is simply skipped.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string, maxSpeakers int) ([]Turn, error)
}

// Exec runs an external diarization command that prints a JSON turn
// list on stdout.
type Exec struct {
	BinPath string

	// Register, when set, records the spawned process with the caller
	// so it can be force-terminated, and returns the matching
	// unregister function.
	Register func(proc *os.Process) func()
}

// NewExec creates a subprocess diarizer.
func NewExec(binPath string) *Exec {
	return &Exec{BinPath: binPath}
}

// Diarize runs the diarization worker on one audio file.
func (e *Exec) Diarize(ctx context.Context, audioPath string, maxSpeakers int) ([]Turn, error) {
	args := []string{"--input", audioPath, "--format", "json"}
	if maxSpeakers > 0 {
		args = append(args, "--max-speakers", strconv.Itoa(maxSpeakers))
	}

	cmd := exec.CommandContext(ctx, e.BinPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start diarizer: %w", err)
	}
	if e.Register != nil {
		unregister := e.Register(cmd.Process)
		defer unregister()
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("diarizer exited: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}

	var turns []Turn
	if err := json.Unmarshal(stdout.Bytes(), &turns); err != nil {
		return nil, fmt.Errorf("parse diarizer output: %w", err)
	}
	return turns, nil
}

// Noop reports no speaker turns, leaving segments unlabeled.
type Noop struct{}

func (Noop) Diarize(ctx context.Context, audioPath string, maxSpeakers int) ([]Turn, error) {
	return nil, nil
}
