package rubric

import (
	"fmt"

	"github.com/voxaudit/engine/pkg/everr"
)

// Input carries the externally produced signals a scoring pass reads:
// raw per-category scores from the behavioral scorer, per-target scores
// for mapped stages/steps, and the set of targets where compliance
// evidence failed (derived from rule results by the orchestrator).
type Input struct {
	CategoryScores map[string]float64 `json:"category_scores"`
	TargetScores   map[string]float64 `json:"target_scores,omitempty"`
	FailedTargets  map[string]bool    `json:"failed_targets,omitempty"`
}

// CategoryScore is the scored outcome of one rubric category.
type CategoryScore struct {
	CategoryID     string  `json:"category_id"`
	Name           string  `json:"name"`
	EffectiveScore float64 `json:"effective_score"`
	Passed         bool    `json:"passed"`
	ForcedFail     bool    `json:"forced_fail,omitempty"`
	Level          string  `json:"level,omitempty"`
}

// Scorecard is the result of scoring one call against one rubric.
type Scorecard struct {
	RubricID     string          `json:"rubric_id"`
	OverallScore float64         `json:"overall_score"`
	Categories   []CategoryScore `json:"categories"`
}

// OverallPassed applies the externally supplied pass policy: every
// category in requiredIDs must have passed and the overall score must
// meet the threshold. The policy itself lives outside this model.
func (s *Scorecard) OverallPassed(requiredIDs []string, threshold float64) bool {
	byID := make(map[string]CategoryScore, len(s.Categories))
	for _, c := range s.Categories {
		byID[c.CategoryID] = c
	}
	for _, id := range requiredIDs {
		c, ok := byID[id]
		if !ok || !c.Passed {
			return false
		}
	}
	return s.OverallScore >= threshold
}

// Score computes the weighted scorecard for one call. The weight-sum
// invariant is re-checked here: a rubric that drifted out of validity
// after publish yields a ConfigurationError, never a misleading score.
func Score(t *Template, in Input) (*Scorecard, error) {
	if err := t.Validate(nil); err != nil {
		if everr.IsValidation(err) {
			ve := err.(*everr.ValidationError)
			return nil, everr.NewConfiguration(ve.Code,
				fmt.Sprintf("rubric %s not scorable: %s", t.ID, ve.Reason))
		}
		return nil, err
	}

	card := &Scorecard{RubricID: t.ID, Categories: make([]CategoryScore, 0, len(t.Categories))}
	for _, cat := range t.Categories {
		effective := effectiveScore(cat, in)
		forced := forcedFail(cat, in)
		card.Categories = append(card.Categories, CategoryScore{
			CategoryID:     cat.ID,
			Name:           cat.Name,
			EffectiveScore: effective,
			Passed:         effective >= cat.PassThreshold && !forced,
			ForcedFail:     forced,
			Level:          ResolveLevel(cat.LevelDefinitions, effective),
		})
		card.OverallScore += effective * cat.Weight / 100
	}
	return card, nil
}

// effectiveScore is the contribution-weighted average of the category's
// mapping scores. Mappings whose targets were never scored drop out of
// the average; a category with no scorable mappings falls back to its
// raw score from the behavioral scorer.
func effectiveScore(cat Category, in Input) float64 {
	sum := 0.0
	weight := 0.0
	for _, mp := range cat.Mappings {
		score, ok := in.TargetScores[mp.TargetID]
		if !ok || mp.ContributionWeight == 0 {
			continue
		}
		sum += score * mp.ContributionWeight
		weight += mp.ContributionWeight
	}
	if weight == 0 {
		return in.CategoryScores[cat.ID]
	}
	return sum / weight
}

func forcedFail(cat Category, in Input) bool {
	for _, mp := range cat.Mappings {
		if mp.Required && in.FailedTargets[mp.TargetID] {
			return true
		}
	}
	return false
}

// ResolveLevel finds the band containing score. Bands are half-open
// [min, max); the band with the highest max is closed at its top so a
// perfect score still resolves.
func ResolveLevel(levels []LevelDefinition, score float64) string {
	if len(levels) == 0 {
		return ""
	}
	topMax := levels[0].MaxScore
	for _, l := range levels[1:] {
		if l.MaxScore > topMax {
			topMax = l.MaxScore
		}
	}
	for _, l := range levels {
		if score >= l.MinScore && (score < l.MaxScore || (l.MaxScore == topMax && score == l.MaxScore)) {
			if l.Label != "" {
				return l.Label
			}
			return l.Name
		}
	}
	return ""
}
