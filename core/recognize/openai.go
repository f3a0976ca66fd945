package recognize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"transcribe-orchestrator/core/models"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

const defaultCloudModel = "whisper-1"

// OpenAI recognizes speech through the hosted transcription API. It is
// I/O bound, so there is no child process to register; cancellation
// rides on the request context.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates a cloud recognizer with the given API key.
func NewOpenAI(apiKey, model string) *OpenAI {
	if strings.TrimSpace(model) == "" {
		model = defaultCloudModel
	}
	return &OpenAI{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Recognize transcribes one audio file. The hosted API returns no
// per-segment timings in the plain JSON format, so the transcript comes
// back as a single segment.
func (o *OpenAI) Recognize(ctx context.Context, audioPath, language string) (Result, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return Result{}, err
	}
	defer file.Close()

	params := openai.AudioTranscriptionNewParams{
		File:           file,
		Model:          openai.AudioModel(o.model),
		ResponseFormat: openai.AudioResponseFormatJSON,
	}
	if lang := strings.TrimSpace(language); lang != "" && !strings.EqualFold(lang, "auto") {
		params.Language = param.NewOpt(lang)
	}

	response, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apierr *openai.Error
		if errors.As(err, &apierr) && apierr.StatusCode == 429 {
			return Result{}, &models.QuotaError{Provider: "openai", Model: o.model, Err: err}
		}
		return Result{}, fmt.Errorf("transcription request: %w", err)
	}

	text := strings.TrimSpace(response.Text)
	return Result{
		Text:     text,
		Segments: []models.Segment{{Text: text}},
		Language: language,
	}, nil
}
