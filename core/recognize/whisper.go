package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"transcribe-orchestrator/core/models"
)

// Whisper runs whisper.cpp as a child process. Each instance owns its
// own model load, so pool workers construct one Whisper each.
type Whisper struct {
	BinPath   string
	ModelPath string

	// Register, when set, records the spawned process with the caller
	// (for force-termination and orphan sweeps) and returns the matching
	// unregister function.
	Register func(proc *os.Process) func()

	readFile func(name string) ([]byte, error)
}

// NewWhisper creates a whisper.cpp recognizer.
func NewWhisper(binPath, modelPath string) *Whisper {
	return &Whisper{
		BinPath:   binPath,
		ModelPath: modelPath,
		readFile:  os.ReadFile,
	}
}

// whisperOutput mirrors the JSON file whisper.cpp writes with -oj.
type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// Recognize transcribes one audio file. The child process is killed
// when ctx is cancelled.
func (w *Whisper) Recognize(ctx context.Context, audioPath, language string) (Result, error) {
	outBase := strings.TrimSuffix(audioPath, filepath.Ext(audioPath))
	args := []string{
		"-m", w.ModelPath,
		"-f", audioPath,
		"-of", outBase,
		"-oj",
	}
	if lang := strings.TrimSpace(language); lang != "" && !strings.EqualFold(lang, "auto") {
		args = append(args, "-l", lang)
	}

	cmd := exec.CommandContext(ctx, w.BinPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start whisper: %w", err)
	}
	if w.Register != nil {
		unregister := w.Register(cmd.Process)
		defer unregister()
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("whisper exited: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}

	readFile := w.readFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	raw, err := readFile(outBase + ".json")
	if err != nil {
		return Result{}, fmt.Errorf("whisper completed but output is missing: %w", err)
	}

	return parseWhisperOutput(raw)
}

func parseWhisperOutput(raw []byte) (Result, error) {
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("parse whisper output: %w", err)
	}

	res := Result{Language: out.Result.Language}
	parts := make([]string, 0, len(out.Transcription))
	for _, seg := range out.Transcription {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		res.Segments = append(res.Segments, segment(seg.Offsets.From, seg.Offsets.To, text))
	}
	res.Text = strings.Join(parts, " ")
	return res, nil
}

func segment(fromMS, toMS int64, text string) models.Segment {
	return models.Segment{
		Start: float64(fromMS) / 1000,
		End:   float64(toMS) / 1000,
		Text:  text,
	}
}
