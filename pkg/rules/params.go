package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MatchType selects how a phrase is compared against segment text.
type MatchType string

const (
	MatchContains MatchType = "contains"
	MatchExact    MatchType = "exact"
	MatchRegex    MatchType = "regex"
)

// Scope selects how much of the transcript a phrase rule searches.
type Scope string

const (
	ScopeCall  Scope = "call"
	ScopeStage Scope = "stage"
)

// TimingTarget selects what a timing rule measures.
type TimingTarget string

const (
	TimingTargetStep   TimingTarget = "step"
	TimingTargetPhrase TimingTarget = "phrase"
)

// TimingReference selects the zero point a timing rule measures from.
type TimingReference string

const (
	RefCallStart    TimingReference = "call_start"
	RefPreviousStep TimingReference = "previous_step"
)

// ConditionType selects what signal a conditional rule tests.
type ConditionType string

const (
	CondSentiment       ConditionType = "sentiment"
	CondPhraseMentioned ConditionType = "phrase_mentioned"
	CondMetadataFlag    ConditionType = "metadata_flag"
)

// ConditionOperator is the comparison a condition applies.
type ConditionOperator string

const (
	OpEquals   ConditionOperator = "equals"
	OpContains ConditionOperator = "contains"
)

// ActionType selects how a required action is evidenced.
type ActionType string

const (
	ActionStep   ActionType = "step"
	ActionPhrase ActionType = "phrase"
)

// RuleParams is the closed union of per-type parameter shapes. A new
// rule type means a new variant here and an exhaustive-switch failure
// everywhere the union is consumed.
type RuleParams interface {
	isRuleParams()
}

// PhraseParams parameterizes required_phrase and forbidden_phrase.
type PhraseParams struct {
	Phrases       []string  `json:"phrases"`
	MatchType     MatchType `json:"match_type"`
	CaseSensitive bool      `json:"case_sensitive"`
	Scope         Scope     `json:"scope"`
}

func (PhraseParams) isRuleParams() {}

// SequenceParams parameterizes sequence_rule: before must be evidenced
// strictly earlier than after.
type SequenceParams struct {
	BeforeStepID string `json:"before_step_id"`
	AfterStepID  string `json:"after_step_id"`
}

func (SequenceParams) isRuleParams() {}

// TimingParams parameterizes timing_rule.
type TimingParams struct {
	Target           TimingTarget    `json:"target"`
	TargetIDOrPhrase string          `json:"target_id_or_phrase"`
	WithinSeconds    float64         `json:"within_seconds"`
	Reference        TimingReference `json:"reference"`
}

func (TimingParams) isRuleParams() {}

// VerificationParams parameterizes verification_rule.
type VerificationParams struct {
	VerificationStepID       string `json:"verification_step_id"`
	RequiredQuestionCount    int    `json:"required_question_count"`
	MustCompleteBeforeStepID string `json:"must_complete_before_step_id,omitempty"`
}

func (VerificationParams) isRuleParams() {}

// Condition is the trigger of a conditional rule.
type Condition struct {
	Type     ConditionType     `json:"type"`
	Operator ConditionOperator `json:"operator"`
	Value    string            `json:"value"`
}

// Action is one behavior that must be evidenced when a conditional
// rule's condition holds.
type Action struct {
	Type        ActionType `json:"type"`
	Value       string     `json:"value"`
	Description string     `json:"description,omitempty"`
}

// ConditionalParams parameterizes conditional_rule.
type ConditionalParams struct {
	Condition       Condition `json:"condition"`
	RequiredActions []Action  `json:"required_actions"`
}

func (ConditionalParams) isRuleParams() {}

// ParseParams decodes raw params into the typed variant for rt and
// applies the documented defaults (match_type=contains, scope=call,
// reference=call_start). Unknown fields are rejected.
func ParseParams(rt RuleType, raw json.RawMessage) (RuleParams, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	switch rt {
	case TypeRequiredPhrase, TypeForbiddenPhrase:
		var p PhraseParams
		if err := strictDecode(raw, &p); err != nil {
			return nil, err
		}
		if p.MatchType == "" {
			p.MatchType = MatchContains
		}
		if p.Scope == "" {
			p.Scope = ScopeCall
		}
		return p, nil
	case TypeSequence:
		var p SequenceParams
		if err := strictDecode(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeTiming:
		var p TimingParams
		if err := strictDecode(raw, &p); err != nil {
			return nil, err
		}
		if p.Reference == "" {
			p.Reference = RefCallStart
		}
		return p, nil
	case TypeVerification:
		var p VerificationParams
		if err := strictDecode(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeConditional:
		var p ConditionalParams
		if err := strictDecode(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown rule type %q", rt)
	}
}

func strictDecode(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}
