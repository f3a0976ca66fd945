package punctuate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"transcribe-orchestrator/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRestorer struct {
	err   error
	out   string
	steps [][2]int // (current, total) progress reports before returning
}

func (s *scriptedRestorer) Restore(ctx context.Context, text, language string, onProgress ProgressFunc) (string, error) {
	for _, step := range s.steps {
		if onProgress != nil {
			onProgress(step[0], step[1])
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return s.out, nil
}

func newTestChain(t *testing.T, keys, modelList []string, build func(key, model string) Restorer) *Chain {
	t.Helper()
	chain, err := NewChain(keys, modelList, nil)
	require.NoError(t, err)
	chain.build = build
	return chain
}

func TestChainExhaustionOrder(t *testing.T) {
	keys := []string{"k1", "k2", "k3"}
	modelList := []string{"m1", "m2"}

	var attempts []string
	chain := newTestChain(t, keys, modelList, func(key, model string) Restorer {
		attempts = append(attempts, key+"/"+model)
		return &scriptedRestorer{err: &models.QuotaError{Provider: "openai", Model: model, Err: errors.New("429")}}
	})

	_, err := chain.Restore(context.Background(), "hello world", "en", nil)
	require.Error(t, err)
	assert.True(t, models.IsQuota(err))

	// Exactly keys × models attempts, keys rotating within each model.
	require.Len(t, attempts, len(keys)*len(modelList))
	want := []string{"k1/m1", "k2/m1", "k3/m1", "k1/m2", "k2/m2", "k3/m2"}
	assert.Equal(t, want, attempts)
}

func TestChainStopsOnFirstSuccess(t *testing.T) {
	calls := 0
	chain := newTestChain(t, []string{"k1", "k2"}, []string{"m1"}, func(key, model string) Restorer {
		calls++
		if key == "k1" {
			return &scriptedRestorer{err: &models.QuotaError{Err: errors.New("429")}}
		}
		return &scriptedRestorer{out: "Hello, world."}
	})

	out, err := chain.Restore(context.Background(), "hello world", "en", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world.", out)
	assert.Equal(t, 2, calls)
}

func TestChainPropagatesNonQuotaErrors(t *testing.T) {
	boom := errors.New("bad request")
	calls := 0
	chain := newTestChain(t, []string{"k1", "k2"}, []string{"m1", "m2"}, func(key, model string) Restorer {
		calls++
		return &scriptedRestorer{err: boom}
	})

	_, err := chain.Restore(context.Background(), "hello", "en", nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestChainProgressMonotonicAcrossRotation(t *testing.T) {
	chain := newTestChain(t, []string{"k1", "k2"}, []string{"m1"}, func(key, model string) Restorer {
		if key == "k1" {
			// Quota-fails partway through, after reporting sub-chunk 3 of 4.
			return &scriptedRestorer{
				steps: [][2]int{{0, 4}, {1, 4}, {2, 4}, {3, 4}},
				err:   &models.QuotaError{Provider: "openai", Model: model, Err: errors.New("429")},
			}
		}
		return &scriptedRestorer{
			steps: [][2]int{{0, 4}, {1, 4}, {2, 4}, {3, 4}, {4, 4}},
			out:   "Hello, world.",
		}
	})

	var seen [][2]int
	out, err := chain.Restore(context.Background(), "hello world", "en", func(current, total int) {
		seen = append(seen, [2]int{current, total})
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world.", out)

	// The rotated restorer restarts from scratch, but reported progress
	// never moves backwards.
	last := -1
	for _, p := range seen {
		require.GreaterOrEqual(t, p[0], last)
		last = p[0]
	}
	assert.Equal(t, [][2]int{{0, 4}, {1, 4}, {2, 4}, {3, 4}, {3, 4}, {4, 4}}, seen)
}

func TestSplitTextWordAligned(t *testing.T) {
	words := make([]string, 100)
	for i := range words {
		words[i] = fmt.Sprintf("word%02d", i)
	}
	text := strings.Join(words, " ")

	parts := splitText(text, 70)
	require.Greater(t, len(parts), 1)

	for _, part := range parts {
		assert.LessOrEqual(t, len(part), 70)
	}
	assert.Equal(t, text, strings.Join(parts, " "))
}

func TestSplitTextEmpty(t *testing.T) {
	assert.Equal(t, []string{""}, splitText("   ", 10))
}
