package punctuate

import (
	"context"
	"errors"
	"fmt"

	"transcribe-orchestrator/core/models"

	"github.com/sirupsen/logrus"
)

// ProgressFunc reports sub-chunk progress as (current, total). Long
// input is restored in sub-chunks, and callers prorate their own
// progress estimate from these values.
type ProgressFunc func(current, total int)

// Restorer re-inserts punctuation into raw transcript text.
type Restorer interface {
	Restore(ctx context.Context, text, language string, onProgress ProgressFunc) (string, error)
}

// Chain attempts (API key × model) combinations on quota exhaustion:
// keys rotate within the current model, and only when every key has
// failed does the chain advance to the next model. It errors only once
// every combination has failed.
type Chain struct {
	keys   []string
	models []string
	build  func(apiKey, model string) Restorer
	log    *logrus.Entry
}

// NewChain creates a fallback chain over OpenAI restorers. models is the
// priority order; keys is the rotation order.
func NewChain(keys, models []string, log *logrus.Entry) (*Chain, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one API key is required")
	}
	if len(models) == 0 {
		return nil, errors.New("at least one model is required")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Chain{
		keys:   keys,
		models: models,
		build: func(apiKey, model string) Restorer {
			return NewOpenAIRestorer(apiKey, model)
		},
		log: log.WithField("component", "punctuate"),
	}, nil
}

// Restore walks the fallback chain until one combination succeeds.
// Non-quota errors are not retried against other combinations; they
// indicate a problem the next key or model would share.
func (c *Chain) Restore(ctx context.Context, text, language string, onProgress ProgressFunc) (string, error) {
	onProgress = monotonic(onProgress)

	var lastErr error
	for _, model := range c.models {
		for _, key := range c.keys {
			out, err := c.build(key, model).Restore(ctx, text, language, onProgress)
			if err == nil {
				return out, nil
			}
			if !models.IsQuota(err) {
				return "", err
			}
			lastErr = err
			c.log.WithField("model", model).Warn("quota exhausted, rotating credentials")
		}
	}
	return "", fmt.Errorf("punctuation fallback chain exhausted: %w", lastErr)
}

// monotonic suppresses progress callbacks that would move backwards.
// A rotated restorer restarts from its first sub-chunk, and pollers
// must never see the reported progress decrease.
func monotonic(f ProgressFunc) ProgressFunc {
	if f == nil {
		return nil
	}
	best := 0.0
	return func(current, total int) {
		if total <= 0 {
			return
		}
		if ratio := float64(current) / float64(total); ratio >= best {
			best = ratio
			f(current, total)
		}
	}
}
