package diarize

import "transcribe-orchestrator/core/models"

// AssignSpeakers labels each recognized segment with the speaker whose
// turns overlap it the most. Ties keep the label seen first in turn
// order. With no turns the segments are returned unchanged.
func AssignSpeakers(segments []models.Segment, turns []Turn) []models.Segment {
	if len(turns) == 0 {
		return segments
	}

	out := make([]models.Segment, len(segments))
	for i, seg := range segments {
		out[i] = seg
		overlaps := make(map[string]float64)
		var order []string

		for _, turn := range turns {
			d := overlap(seg.Start, seg.End, turn.Start, turn.End)
			if d <= 0 {
				continue
			}
			if _, seen := overlaps[turn.Speaker]; !seen {
				order = append(order, turn.Speaker)
			}
			overlaps[turn.Speaker] += d
		}

		best := ""
		bestOverlap := 0.0
		for _, speaker := range order {
			if overlaps[speaker] > bestOverlap {
				best = speaker
				bestOverlap = overlaps[speaker]
			}
		}
		if best != "" {
			out[i].Speaker = best
		}
	}
	return out
}

func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	start := aStart
	if bStart > start {
		start = bStart
	}
	end := aEnd
	if bEnd < end {
		end = bEnd
	}
	return end - start
}
