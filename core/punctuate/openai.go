package punctuate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"transcribe-orchestrator/core/models"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	defaultMaxChunkChars = 4000
	defaultCallTimeout   = 60 * time.Second
	defaultRetryBudget   = 3 * time.Minute
)

// OpenAIRestorer restores punctuation with a chat completion per
// sub-chunk. Per-call timeouts are retried with exponential backoff
// until the retry budget runs out; quota rejections surface immediately
// as QuotaError so the chain can rotate credentials.
type OpenAIRestorer struct {
	client openai.Client
	model  string

	MaxChunkChars int
	CallTimeout   time.Duration
	RetryBudget   time.Duration
}

// NewOpenAIRestorer creates a restorer bound to one API key and model.
func NewOpenAIRestorer(apiKey, model string) *OpenAIRestorer {
	return &OpenAIRestorer{
		client:        openai.NewClient(option.WithAPIKey(apiKey)),
		model:         model,
		MaxChunkChars: defaultMaxChunkChars,
		CallTimeout:   defaultCallTimeout,
		RetryBudget:   defaultRetryBudget,
	}
}

// Restore punctuates text, sub-chunking long input.
func (r *OpenAIRestorer) Restore(ctx context.Context, text, language string, onProgress ProgressFunc) (string, error) {
	parts := splitText(text, r.maxChunkChars())
	total := len(parts)

	restored := make([]string, 0, total)
	for i, part := range parts {
		if onProgress != nil {
			onProgress(i, total)
		}
		out, err := r.restorePart(ctx, part, language)
		if err != nil {
			return "", err
		}
		restored = append(restored, out)
	}
	if onProgress != nil {
		onProgress(total, total)
	}

	return strings.Join(restored, " "), nil
}

func (r *OpenAIRestorer) restorePart(ctx context.Context, part, language string) (string, error) {
	var out string
	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout())
		defer cancel()

		completion, err := r.client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(r.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(systemPrompt(language)),
				openai.UserMessage(part),
			},
		})
		if err != nil {
			var apierr *openai.Error
			if errors.As(err, &apierr) {
				if apierr.StatusCode == 429 {
					return backoff.Permanent(&models.QuotaError{Provider: "openai", Model: r.model, Err: err})
				}
				if apierr.StatusCode >= 400 && apierr.StatusCode < 500 {
					return backoff.Permanent(err)
				}
			}
			// Timeouts and 5xx are retryable until the budget runs out.
			return err
		}
		if len(completion.Choices) == 0 {
			return backoff.Permanent(errors.New("completion returned no choices"))
		}

		out = strings.TrimSpace(completion.Choices[0].Message.Content)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = r.retryBudget()
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return "", fmt.Errorf("punctuation call: %w", err)
	}
	return out, nil
}

func systemPrompt(language string) string {
	prompt := "Restore punctuation and capitalization in the user's transcript. " +
		"Do not add, remove, or translate any words; return only the corrected text."
	if lang := strings.TrimSpace(language); lang != "" {
		prompt += " The transcript language is " + lang + "."
	}
	return prompt
}

// splitText breaks text into word-aligned sub-chunks of at most max
// characters. A single over-long word becomes its own chunk.
func splitText(text string, max int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}

	var parts []string
	var current strings.Builder
	for _, word := range words {
		if current.Len() > 0 && current.Len()+1+len(word) > max {
			parts = append(parts, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	parts = append(parts, current.String())
	return parts
}

func (r *OpenAIRestorer) maxChunkChars() int {
	if r.MaxChunkChars > 0 {
		return r.MaxChunkChars
	}
	return defaultMaxChunkChars
}

func (r *OpenAIRestorer) callTimeout() time.Duration {
	if r.CallTimeout > 0 {
		return r.CallTimeout
	}
	return defaultCallTimeout
}

func (r *OpenAIRestorer) retryBudget() time.Duration {
	if r.RetryBudget > 0 {
		return r.RetryBudget
	}
	return defaultRetryBudget
}
