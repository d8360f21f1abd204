// Package rubric models weighted scoring rubrics and computes call
// scores from category inputs. The weight-sum invariant is enforced
// both at publish time and again at scoring time; a rubric whose
// weights do not sum to 100 never produces a score.
package rubric

import (
	"fmt"
	"math"

	"github.com/voxaudit/engine/pkg/everr"
)

// WeightEpsilon is the tolerance on the weights-sum-to-100 invariant.
const WeightEpsilon = 0.01

// TargetType says what a mapping points at.
type TargetType string

const (
	TargetStage TargetType = "stage"
	TargetStep  TargetType = "step"
)

// Template is a versioned scoring rubric for one flow version. At most
// one rubric is active per flow version.
type Template struct {
	ID               string     `json:"id" yaml:"id"`
	PolicyTemplateID string     `json:"policy_template_id,omitempty" yaml:"policy_template_id,omitempty"`
	FlowVersionID    string     `json:"flow_version_id" yaml:"flow_version_id"`
	Name             string     `json:"name" yaml:"name"`
	Description      string     `json:"description,omitempty" yaml:"description,omitempty"`
	VersionNumber    int        `json:"version_number" yaml:"version_number"`
	IsActive         bool       `json:"is_active" yaml:"is_active"`
	Categories       []Category `json:"categories" yaml:"categories"`
}

// Category is one weighted axis of the rubric.
type Category struct {
	ID               string            `json:"id" yaml:"id"`
	Name             string            `json:"name" yaml:"name"`
	Description      string            `json:"description,omitempty" yaml:"description,omitempty"`
	Weight           float64           `json:"weight" yaml:"weight"`
	PassThreshold    float64           `json:"pass_threshold" yaml:"pass_threshold"`
	LevelDefinitions []LevelDefinition `json:"level_definitions,omitempty" yaml:"level_definitions,omitempty"`
	Mappings         []Mapping         `json:"mappings,omitempty" yaml:"mappings,omitempty"`
}

// LevelDefinition maps a numeric score band to a human label. Bands
// are half-open [min, max) except the top band, which is closed; they
// describe, never decide, pass/fail.
type LevelDefinition struct {
	Name        string  `json:"name" yaml:"name"`
	MinScore    float64 `json:"min_score" yaml:"min_score"`
	MaxScore    float64 `json:"max_score" yaml:"max_score"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Label       string  `json:"label,omitempty" yaml:"label,omitempty"`
}

// Mapping ties a category to a stage or step. A required mapping gates
// the category: failed evidence there fails the category outright.
type Mapping struct {
	ID                 string     `json:"id" yaml:"id"`
	TargetType         TargetType `json:"target_type" yaml:"target_type"`
	TargetID           string     `json:"target_id" yaml:"target_id"`
	ContributionWeight float64    `json:"contribution_weight" yaml:"contribution_weight"`
	Required           bool       `json:"required_flag" yaml:"required_flag"`
}

// TargetExistsFunc answers whether a stage/step id exists in the
// owning flow version; nil skips referential checks.
type TargetExistsFunc func(targetType TargetType, targetID string) bool

// Validate enforces the rubric invariants: weights in range and
// summing to 100, thresholds in range, non-negative contribution
// weights, resolvable mapping targets, and non-overlapping level
// bands. Gaps between bands are allowed; a score falling in a gap
// simply resolves to no label.
func (t *Template) Validate(exists TargetExistsFunc) error {
	if len(t.Categories) == 0 {
		return everr.NewValidation(everr.CodeRubricWeightSum, "categories", "rubric has no categories")
	}

	sum := 0.0
	for i, c := range t.Categories {
		if c.Weight < 0 || c.Weight > 100 {
			return everr.NewValidation(everr.CodeRubricWeightSum,
				fmt.Sprintf("categories[%d].weight", i), fmt.Sprintf("weight %.2f outside [0,100]", c.Weight))
		}
		if c.PassThreshold < 0 || c.PassThreshold > 100 {
			return everr.NewValidation(everr.CodeRubricWeightSum,
				fmt.Sprintf("categories[%d].pass_threshold", i), fmt.Sprintf("threshold %.2f outside [0,100]", c.PassThreshold))
		}
		sum += c.Weight

		for j, mp := range c.Mappings {
			if mp.ContributionWeight < 0 {
				return everr.NewValidation(everr.CodeRubricTargetInvalid,
					fmt.Sprintf("categories[%d].mappings[%d].contribution_weight", i, j), "must be >= 0")
			}
			if mp.TargetType != TargetStage && mp.TargetType != TargetStep {
				return everr.NewValidation(everr.CodeRubricTargetInvalid,
					fmt.Sprintf("categories[%d].mappings[%d].target_type", i, j), fmt.Sprintf("unknown target type %q", mp.TargetType))
			}
			if exists != nil && !exists(mp.TargetType, mp.TargetID) {
				return everr.NewValidation(everr.CodeRubricTargetInvalid,
					fmt.Sprintf("categories[%d].mappings[%d].target_id", i, j),
					fmt.Sprintf("%s %q does not exist in the flow version", mp.TargetType, mp.TargetID))
			}
		}
		if err := validateLevels(i, c.LevelDefinitions); err != nil {
			return err
		}
	}

	if math.Abs(sum-100) > WeightEpsilon {
		return everr.NewValidation(everr.CodeRubricWeightSum, "categories",
			fmt.Sprintf("category weights sum to %.2f, must be 100", sum))
	}
	return nil
}

func validateLevels(catIdx int, levels []LevelDefinition) error {
	for i, l := range levels {
		if l.MinScore > l.MaxScore {
			return everr.NewValidation(everr.CodeRubricWeightSum,
				fmt.Sprintf("categories[%d].level_definitions[%d]", catIdx, i),
				fmt.Sprintf("min_score %.2f exceeds max_score %.2f", l.MinScore, l.MaxScore))
		}
		for j, other := range levels[:i] {
			if l.MinScore < other.MaxScore && other.MinScore < l.MaxScore {
				return everr.NewValidation(everr.CodeRubricWeightSum,
					fmt.Sprintf("categories[%d].level_definitions[%d]", catIdx, i),
					fmt.Sprintf("band overlaps level_definitions[%d]", j))
			}
		}
	}
	return nil
}
