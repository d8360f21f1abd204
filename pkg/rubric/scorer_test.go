package rubric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxaudit/engine/pkg/everr"
)

func twoCategoryTemplate() *Template {
	return &Template{
		ID:            "rub-1",
		FlowVersionID: "flow-1",
		Name:          "Standard QA",
		VersionNumber: 1,
		Categories: []Category{
			{ID: "compliance", Name: "Compliance", Weight: 40, PassThreshold: 70},
			{ID: "empathy", Name: "Empathy", Weight: 60, PassThreshold: 60},
		},
	}
}

func TestScore_WeightedOverall(t *testing.T) {
	tmpl := twoCategoryTemplate()
	card, err := Score(tmpl, Input{CategoryScores: map[string]float64{
		"compliance": 80,
		"empathy":    50,
	}})
	require.NoError(t, err)

	// 80*0.40 + 50*0.60 = 62
	assert.InDelta(t, 62.0, card.OverallScore, 1e-9)
	require.Len(t, card.Categories, 2)

	compliance, empathy := card.Categories[0], card.Categories[1]
	assert.True(t, compliance.Passed, "80 >= threshold 70")
	assert.False(t, empathy.Passed, "50 < threshold 60")
	assert.False(t, card.OverallPassed([]string{"compliance", "empathy"}, 60))
	assert.True(t, card.OverallPassed([]string{"compliance"}, 60))
}

func TestValidate_WeightSum(t *testing.T) {
	tmpl := twoCategoryTemplate()
	tmpl.Categories[0].Weight = 45 // 45 + 60 = 105

	err := tmpl.Validate(nil)
	require.Error(t, err)
	assert.True(t, everr.IsValidation(err))
	assert.Equal(t, everr.CodeRubricWeightSum, err.(*everr.ValidationError).Code)

	// Within epsilon is accepted.
	tmpl.Categories[0].Weight = 40.005
	assert.NoError(t, tmpl.Validate(nil))

	// Just past epsilon is not.
	tmpl.Categories[0].Weight = 40.02
	assert.Error(t, tmpl.Validate(nil))
}

func TestValidate_MappingTargets(t *testing.T) {
	tmpl := twoCategoryTemplate()
	tmpl.Categories[0].Mappings = []Mapping{
		{ID: "m1", TargetType: TargetStep, TargetID: "verify", ContributionWeight: 1},
	}

	exists := func(tt TargetType, id string) bool { return tt == TargetStep && id == "verify" }
	require.NoError(t, tmpl.Validate(exists))

	tmpl.Categories[0].Mappings[0].TargetID = "ghost"
	err := tmpl.Validate(exists)
	require.Error(t, err)
	assert.Equal(t, everr.CodeRubricTargetInvalid, err.(*everr.ValidationError).Code)

	tmpl.Categories[0].Mappings[0] = Mapping{ID: "m1", TargetType: "flow", TargetID: "verify"}
	assert.Error(t, tmpl.Validate(nil))
}

func TestValidate_LevelBands(t *testing.T) {
	tmpl := twoCategoryTemplate()

	// Shared boundary is fine: [0,60) and [60,100].
	tmpl.Categories[0].LevelDefinitions = []LevelDefinition{
		{Name: "needs_work", MinScore: 0, MaxScore: 60},
		{Name: "good", MinScore: 60, MaxScore: 100},
	}
	require.NoError(t, tmpl.Validate(nil))

	// Overlap is not.
	tmpl.Categories[0].LevelDefinitions[1].MinScore = 55
	assert.Error(t, tmpl.Validate(nil))

	// Gaps are allowed.
	tmpl.Categories[0].LevelDefinitions = []LevelDefinition{
		{Name: "low", MinScore: 0, MaxScore: 40},
		{Name: "high", MinScore: 70, MaxScore: 100},
	}
	assert.NoError(t, tmpl.Validate(nil))
}

func TestScore_DriftedRubricIsConfigurationError(t *testing.T) {
	tmpl := twoCategoryTemplate()
	tmpl.Categories[1].Weight = 70

	_, err := Score(tmpl, Input{CategoryScores: map[string]float64{"compliance": 80, "empathy": 50}})
	require.Error(t, err)
	assert.True(t, everr.IsConfiguration(err))
}

func TestScore_MappingWeightedEffectiveScore(t *testing.T) {
	tmpl := twoCategoryTemplate()
	tmpl.Categories[0].Mappings = []Mapping{
		{ID: "m1", TargetType: TargetStep, TargetID: "verify", ContributionWeight: 3},
		{ID: "m2", TargetType: TargetStep, TargetID: "disclose", ContributionWeight: 1},
		{ID: "m3", TargetType: TargetStage, TargetID: "closing", ContributionWeight: 2},
	}

	card, err := Score(tmpl, Input{
		CategoryScores: map[string]float64{"compliance": 10, "empathy": 50},
		TargetScores:   map[string]float64{"verify": 90, "disclose": 50},
		// "closing" never scored: drops out of the average.
	})
	require.NoError(t, err)

	// (90*3 + 50*1) / 4 = 80
	assert.InDelta(t, 80.0, card.Categories[0].EffectiveScore, 1e-9)
	assert.True(t, card.Categories[0].Passed)
}

func TestScore_NoScorableMappingsFallsBackToRawScore(t *testing.T) {
	tmpl := twoCategoryTemplate()
	tmpl.Categories[0].Mappings = []Mapping{
		{ID: "m1", TargetType: TargetStep, TargetID: "verify", ContributionWeight: 1},
	}

	card, err := Score(tmpl, Input{CategoryScores: map[string]float64{"compliance": 75, "empathy": 60}})
	require.NoError(t, err)
	assert.InDelta(t, 75.0, card.Categories[0].EffectiveScore, 1e-9)
}

func TestScore_RequiredMappingGatesCategory(t *testing.T) {
	tmpl := twoCategoryTemplate()
	tmpl.Categories[0].Mappings = []Mapping{
		{ID: "m1", TargetType: TargetStep, TargetID: "verify", ContributionWeight: 1, Required: true},
	}

	card, err := Score(tmpl, Input{
		CategoryScores: map[string]float64{"compliance": 80, "empathy": 60},
		TargetScores:   map[string]float64{"verify": 95},
		FailedTargets:  map[string]bool{"verify": true},
	})
	require.NoError(t, err)

	compliance := card.Categories[0]
	assert.True(t, compliance.ForcedFail)
	assert.False(t, compliance.Passed, "score above threshold but required target failed")
	assert.InDelta(t, 95.0, compliance.EffectiveScore, 1e-9, "gating does not rewrite the score")
}

func TestResolveLevel(t *testing.T) {
	levels := []LevelDefinition{
		{Name: "poor", MinScore: 0, MaxScore: 50},
		{Name: "fair", MinScore: 50, MaxScore: 80, Label: "Fair"},
		{Name: "excellent", MinScore: 80, MaxScore: 100},
	}

	assert.Equal(t, "poor", ResolveLevel(levels, 49.9))
	assert.Equal(t, "Fair", ResolveLevel(levels, 50), "lower bound inclusive, label preferred")
	assert.Equal(t, "excellent", ResolveLevel(levels, 80))
	assert.Equal(t, "excellent", ResolveLevel(levels, 100), "top band closed at its max")
	assert.Equal(t, "", ResolveLevel(levels, 120))
	assert.Equal(t, "", ResolveLevel(nil, 50))
}
