package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxaudit/engine/pkg/everr"
)

type stepSet map[string]bool

func (s stepSet) StepExists(id string) bool { return s[id] }

func TestValidateParams_RequiredPhraseDefaults(t *testing.T) {
	raw := json.RawMessage(`{"phrases": ["thank you for calling"]}`)

	params, err := ValidateParams(TypeRequiredPhrase, raw, nil)
	require.NoError(t, err)

	p, ok := params.(PhraseParams)
	require.True(t, ok)
	assert.Equal(t, MatchContains, p.MatchType)
	assert.Equal(t, ScopeCall, p.Scope)
	assert.False(t, p.CaseSensitive)
}

func TestValidateParams_EmptyPhrasesRejected(t *testing.T) {
	_, err := ValidateParams(TypeRequiredPhrase, json.RawMessage(`{"phrases": []}`), nil)
	require.Error(t, err)
	assert.True(t, everr.IsValidation(err))

	ve := err.(*everr.ValidationError)
	assert.Equal(t, "phrases", ve.Field)
}

func TestValidateParams_UnknownFieldRejected(t *testing.T) {
	raw := json.RawMessage(`{"phrases": ["hi"], "mode": "loose"}`)
	_, err := ValidateParams(TypeRequiredPhrase, raw, nil)
	require.Error(t, err)
	assert.True(t, everr.IsValidation(err))
}

func TestValidateParams_InvalidRegexFailsAtSave(t *testing.T) {
	raw := json.RawMessage(`{"phrases": ["([unclosed"], "match_type": "regex"}`)
	_, err := ValidateParams(TypeRequiredPhrase, raw, nil)
	require.Error(t, err)

	ve := err.(*everr.ValidationError)
	assert.Equal(t, "phrases[0]", ve.Field)
	assert.Contains(t, ve.Reason, "invalid regex")
}

func TestValidateParams_ValidRegexAccepted(t *testing.T) {
	raw := json.RawMessage(`{"phrases": ["(?:account|routing) number"], "match_type": "regex"}`)
	_, err := ValidateParams(TypeForbiddenPhrase, raw, nil)
	assert.NoError(t, err)
}

func TestValidateParams_Sequence(t *testing.T) {
	steps := stepSet{"greet": true, "verify": true}

	raw := json.RawMessage(`{"before_step_id": "greet", "after_step_id": "verify"}`)
	_, err := ValidateParams(TypeSequence, raw, steps)
	require.NoError(t, err)

	// Unresolvable step
	raw = json.RawMessage(`{"before_step_id": "greet", "after_step_id": "closing"}`)
	_, err = ValidateParams(TypeSequence, raw, steps)
	require.Error(t, err)
	ve := err.(*everr.ValidationError)
	assert.Equal(t, "after_step_id", ve.Field)

	// Same step twice
	raw = json.RawMessage(`{"before_step_id": "greet", "after_step_id": "greet"}`)
	_, err = ValidateParams(TypeSequence, raw, steps)
	require.Error(t, err)
}

func TestValidateParams_TimingBounds(t *testing.T) {
	raw := json.RawMessage(`{"target": "phrase", "target_id_or_phrase": "recorded line", "within_seconds": 30}`)
	params, err := ValidateParams(TypeTiming, raw, nil)
	require.NoError(t, err)
	assert.Equal(t, RefCallStart, params.(TimingParams).Reference)

	raw = json.RawMessage(`{"target": "phrase", "target_id_or_phrase": "recorded line", "within_seconds": 0}`)
	_, err = ValidateParams(TypeTiming, raw, nil)
	require.Error(t, err)
	assert.Equal(t, "within_seconds", err.(*everr.ValidationError).Field)
}

func TestValidateParams_VerificationCount(t *testing.T) {
	steps := stepSet{"id-check": true}

	raw := json.RawMessage(`{"verification_step_id": "id-check", "required_question_count": 2}`)
	_, err := ValidateParams(TypeVerification, raw, steps)
	require.NoError(t, err)

	raw = json.RawMessage(`{"verification_step_id": "id-check", "required_question_count": 0}`)
	_, err = ValidateParams(TypeVerification, raw, steps)
	require.Error(t, err)
}

func TestValidateParams_Conditional(t *testing.T) {
	raw := json.RawMessage(`{
		"condition": {"type": "sentiment", "operator": "equals", "value": "negative"},
		"required_actions": [{"type": "phrase", "value": "I understand your frustration"}]
	}`)
	_, err := ValidateParams(TypeConditional, raw, nil)
	require.NoError(t, err)

	// Empty action list is not a conditional rule.
	raw = json.RawMessage(`{
		"condition": {"type": "sentiment", "operator": "equals", "value": "negative"},
		"required_actions": []
	}`)
	_, err = ValidateParams(TypeConditional, raw, nil)
	require.Error(t, err)

	// Unknown condition type.
	raw = json.RawMessage(`{
		"condition": {"type": "weather", "operator": "equals", "value": "rainy"},
		"required_actions": [{"type": "phrase", "value": "x"}]
	}`)
	_, err = ValidateParams(TypeConditional, raw, nil)
	require.Error(t, err)
}

func TestValidateParams_UnknownRuleType(t *testing.T) {
	_, err := ValidateParams(RuleType("vibe_rule"), json.RawMessage(`{}`), nil)
	require.Error(t, err)
	assert.Equal(t, everr.CodeRuleTypeUnknown, err.(*everr.ValidationError).Code)
}

func TestValidateRule_Envelope(t *testing.T) {
	rule := &ComplianceRule{
		ID:       "r1",
		Title:    "Greeting required",
		Severity: SeverityMajor,
		RuleType: TypeRequiredPhrase,
		Params:   json.RawMessage(`{"phrases": ["hello"]}`),
	}
	_, err := ValidateRule(rule, nil)
	require.NoError(t, err)

	rule.Severity = "catastrophic"
	_, err = ValidateRule(rule, nil)
	require.Error(t, err)
	assert.Equal(t, "severity", err.(*everr.ValidationError).Field)

	rule.Severity = SeverityMinor
	rule.Title = ""
	_, err = ValidateRule(rule, nil)
	require.Error(t, err)
}

func TestParseParams_RoundTripsAllTypes(t *testing.T) {
	cases := map[RuleType]string{
		TypeRequiredPhrase: `{"phrases": ["a"], "match_type": "exact", "case_sensitive": true, "scope": "stage"}`,
		TypeSequence:       `{"before_step_id": "a", "after_step_id": "b"}`,
		TypeTiming:         `{"target": "step", "target_id_or_phrase": "a", "within_seconds": 10, "reference": "previous_step"}`,
		TypeVerification:   `{"verification_step_id": "a", "required_question_count": 3}`,
		TypeConditional:    `{"condition": {"type": "metadata_flag", "operator": "equals", "value": "vip"}, "required_actions": [{"type": "step", "value": "escalate"}]}`,
	}
	for rt, raw := range cases {
		params, err := ParseParams(rt, json.RawMessage(raw))
		require.NoError(t, err, "type %s", rt)
		require.NotNil(t, params)
	}
}
