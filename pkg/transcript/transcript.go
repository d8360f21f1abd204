// Package transcript holds the evaluation-side view of a call: ordered
// speaker-tagged segments, the step evidence resolved by the upstream
// segmentation service, and the call context used by conditional rules.
// Transcripts come from a probabilistic pipeline; nothing here assumes
// they are well formed.
package transcript

import "sort"

// Segment is one contiguous utterance by a single speaker.
type Segment struct {
	Index    int      `json:"index"`
	Speaker  string   `json:"speaker"`
	Text     string   `json:"text"`
	StartSec float64  `json:"start_sec"`
	EndSec   float64  `json:"end_sec"`
	StageIDs []string `json:"stage_ids,omitempty"`
}

// InStage reports whether the segment was tagged with any of the given
// stage ids. An empty filter matches every segment.
func (s *Segment) InStage(stageIDs []string) bool {
	if len(stageIDs) == 0 {
		return true
	}
	for _, want := range stageIDs {
		for _, have := range s.StageIDs {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Transcript is the ordered segment list for one call.
type Transcript struct {
	CallID   string    `json:"call_id"`
	Segments []Segment `json:"segments"`
}

// StepEvidence ties a flow step to the transcript position where the
// segmentation service observed it.
type StepEvidence struct {
	StepID        string  `json:"step_id"`
	SegmentIndex  int     `json:"segment_index"`
	AtSec         float64 `json:"at_sec"`
	QuestionCount int     `json:"question_count,omitempty"`
}

// EvidenceIndex maps step ids to their occurrences, ordered by time.
type EvidenceIndex map[string][]StepEvidence

// First returns the earliest evidence for a step, or false if the step
// was never observed in the call.
func (ei EvidenceIndex) First(stepID string) (StepEvidence, bool) {
	occ := ei[stepID]
	if len(occ) == 0 {
		return StepEvidence{}, false
	}
	best := occ[0]
	for _, e := range occ[1:] {
		if e.AtSec < best.AtSec {
			best = e
		}
	}
	return best, true
}

// QuestionCount sums the question counts across all occurrences of a
// step, optionally only those strictly before a cutoff time.
func (ei EvidenceIndex) QuestionCount(stepID string, beforeSec float64, bounded bool) int {
	total := 0
	for _, e := range ei[stepID] {
		if bounded && e.AtSec >= beforeSec {
			continue
		}
		total += e.QuestionCount
	}
	return total
}

// Occurrences returns all evidence for a step sorted by time.
func (ei EvidenceIndex) Occurrences(stepID string) []StepEvidence {
	occ := append([]StepEvidence(nil), ei[stepID]...)
	sort.Slice(occ, func(i, j int) bool { return occ[i].AtSec < occ[j].AtSec })
	return occ
}

// CallContext carries the derived signals conditional rules test
// against. Sentiment and metadata come from upstream analysis; the
// engine treats them as opaque inputs.
type CallContext struct {
	Sentiment string         `json:"sentiment,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
