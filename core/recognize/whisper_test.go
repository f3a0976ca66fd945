package recognize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWhisperOutput(t *testing.T) {
	raw := []byte(`{
		"result": {"language": "en"},
		"transcription": [
			{"offsets": {"from": 0, "to": 1500}, "text": " hello there"},
			{"offsets": {"from": 1500, "to": 4200}, "text": " general kenobi "},
			{"offsets": {"from": 4200, "to": 4300}, "text": "  "}
		]
	}`)

	res, err := parseWhisperOutput(raw)
	require.NoError(t, err)

	assert.Equal(t, "en", res.Language)
	assert.Equal(t, "hello there general kenobi", res.Text)

	// Blank segments are dropped; offsets convert to seconds.
	require.Len(t, res.Segments, 2)
	assert.Equal(t, 0.0, res.Segments[0].Start)
	assert.Equal(t, 1.5, res.Segments[0].End)
	assert.Equal(t, 1.5, res.Segments[1].Start)
	assert.Equal(t, 4.2, res.Segments[1].End)
	assert.Equal(t, "general kenobi", res.Segments[1].Text)
}

func TestParseWhisperOutputBadJSON(t *testing.T) {
	_, err := parseWhisperOutput([]byte("not json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse whisper output")
}
