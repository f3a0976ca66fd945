package diarize

import (
	"testing"

	"transcribe-orchestrator/core/models"

	"github.com/stretchr/testify/assert"
)

func TestAssignSpeakersMaximalOverlap(t *testing.T) {
	segments := []models.Segment{
		{Start: 0, End: 10, Text: "hello there"},
		{Start: 10, End: 20, Text: "hi yourself"},
	}
	turns := []Turn{
		{Start: 0, End: 8, Speaker: "SPEAKER_00"},
		{Start: 8, End: 20, Speaker: "SPEAKER_01"},
	}

	got := AssignSpeakers(segments, turns)
	assert.Equal(t, "SPEAKER_00", got[0].Speaker) // 8s vs 2s
	assert.Equal(t, "SPEAKER_01", got[1].Speaker)
}

func TestAssignSpeakersTieKeepsFirstSeen(t *testing.T) {
	segments := []models.Segment{{Start: 0, End: 10, Text: "split evenly"}}
	turns := []Turn{
		{Start: 0, End: 5, Speaker: "SPEAKER_00"},
		{Start: 5, End: 10, Speaker: "SPEAKER_01"},
	}

	got := AssignSpeakers(segments, turns)
	assert.Equal(t, "SPEAKER_00", got[0].Speaker)
}

func TestAssignSpeakersAccumulatesSplitTurns(t *testing.T) {
	// Two short turns by the same speaker outweigh one longer turn.
	segments := []models.Segment{{Start: 0, End: 10, Text: "back and forth"}}
	turns := []Turn{
		{Start: 0, End: 3, Speaker: "SPEAKER_00"},
		{Start: 3, End: 7, Speaker: "SPEAKER_01"},
		{Start: 7, End: 10, Speaker: "SPEAKER_00"},
	}

	got := AssignSpeakers(segments, turns)
	assert.Equal(t, "SPEAKER_00", got[0].Speaker)
}

func TestAssignSpeakersNoTurns(t *testing.T) {
	segments := []models.Segment{{Start: 0, End: 1, Text: "untouched"}}
	got := AssignSpeakers(segments, nil)
	assert.Equal(t, segments, got)
}

func TestAssignSpeakersNoOverlapLeavesUnlabeled(t *testing.T) {
	segments := []models.Segment{{Start: 100, End: 110, Text: "far away"}}
	turns := []Turn{{Start: 0, End: 10, Speaker: "SPEAKER_00"}}

	got := AssignSpeakers(segments, turns)
	assert.Empty(t, got[0].Speaker)
}
