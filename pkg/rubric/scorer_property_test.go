//go:build property
// +build property

// Package rubric_test contains property-based tests for the weighted
// scorer: bounds, determinism, and the weight-sum invariant.
package rubric_test

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/voxaudit/engine/pkg/rubric"
)

func buildTemplate(weights []float64) *rubric.Template {
	t := &rubric.Template{ID: "prop-rubric", FlowVersionID: "flow-1", Name: "prop"}
	for i, w := range weights {
		t.Categories = append(t.Categories, rubric.Category{
			ID:            fmt.Sprintf("cat-%d", i),
			Name:          fmt.Sprintf("Category %d", i),
			Weight:        w,
			PassThreshold: 50,
		})
	}
	return t
}

// normalize rescales raw positive weights so they sum to exactly 100.
func normalize(raw []int) []float64 {
	total := 0
	for _, r := range raw {
		total += r
	}
	if total == 0 {
		return nil
	}
	out := make([]float64, len(raw))
	acc := 0.0
	for i, r := range raw[:len(raw)-1] {
		out[i] = float64(r) / float64(total) * 100
		acc += out[i]
	}
	out[len(raw)-1] = 100 - acc
	return out
}

// TestOverallScoreBounded verifies the overall score never leaves the
// envelope of its category scores.
// Property: min(scores) <= overall <= max(scores)
func TestOverallScoreBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Overall score stays within category score bounds", prop.ForAll(
		func(rawWeights []int, rawScores []int) bool {
			n := len(rawWeights)
			if len(rawScores) < n {
				n = len(rawScores)
			}
			if n == 0 {
				return true
			}
			weights := normalize(rawWeights[:n])
			if weights == nil {
				return true
			}

			tmpl := buildTemplate(weights)
			in := rubric.Input{CategoryScores: map[string]float64{}}
			lo, hi := 100.0, 0.0
			for i := 0; i < n; i++ {
				score := float64(rawScores[i] % 101)
				in.CategoryScores[fmt.Sprintf("cat-%d", i)] = score
				if score < lo {
					lo = score
				}
				if score > hi {
					hi = score
				}
			}

			card, err := rubric.Score(tmpl, in)
			if err != nil {
				return false
			}
			const eps = 1e-6
			return card.OverallScore >= lo-eps && card.OverallScore <= hi+eps
		},
		gen.SliceOfN(4, gen.IntRange(1, 100)),
		gen.SliceOfN(4, gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}

// TestScoreDeterminism verifies scoring the same inputs twice yields
// identical scorecards.
func TestScoreDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Scoring is deterministic", prop.ForAll(
		func(a, b, c int) bool {
			tmpl := buildTemplate([]float64{25, 35, 40})
			in := rubric.Input{CategoryScores: map[string]float64{
				"cat-0": float64(a % 101),
				"cat-1": float64(b % 101),
				"cat-2": float64(c % 101),
			}}

			card1, err1 := rubric.Score(tmpl, in)
			card2, err2 := rubric.Score(tmpl, in)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			if card1.OverallScore != card2.OverallScore {
				return false
			}
			for i := range card1.Categories {
				if card1.Categories[i] != card2.Categories[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 1000),
		gen.IntRange(0, 1000),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

// TestBrokenWeightSumNeverScores verifies that any weight vector not
// summing to 100 is rejected both by Validate and by Score.
func TestBrokenWeightSumNeverScores(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Out-of-sum rubrics never produce a score", prop.ForAll(
		func(w1, skew int) bool {
			offset := float64(skew%50) + 1 // at least 1 point off
			weights := []float64{float64(w1 % 50), 0}
			weights[1] = 100 - weights[0] + offset

			tmpl := buildTemplate(weights)
			if tmpl.Validate(nil) == nil {
				return false
			}
			card, err := rubric.Score(tmpl, rubric.Input{CategoryScores: map[string]float64{
				"cat-0": 50, "cat-1": 50,
			}})
			return card == nil && err != nil
		},
		gen.IntRange(0, 1000),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
