package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/voxaudit/engine/pkg/everr"
)

// StepResolver answers whether a step id exists in the owning flow
// version. A nil resolver skips referential checks (used when the flow
// definition is not loaded, e.g. offline document linting).
type StepResolver interface {
	StepExists(stepID string) bool
}

// ValidateParams checks raw params against the schema for rt, decodes
// them, and runs the semantic checks the schema cannot express (regex
// compilation, step references). Validation is fail-closed: a rule that
// does not pass here must not be persisted or activated.
func ValidateParams(rt RuleType, raw json.RawMessage, resolver StepResolver) (RuleParams, error) {
	if !rt.Valid() {
		return nil, everr.NewValidation(everr.CodeRuleTypeUnknown, "rule_type", fmt.Sprintf("unknown rule type %q", rt))
	}

	schema, err := schemaFor(rt)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, everr.NewValidation(everr.CodeRuleParamsInvalid, "params", fmt.Sprintf("not valid JSON: %v", err))
	}
	if err := schema.Validate(generic); err != nil {
		field, reason := schemaFailure(err)
		return nil, everr.NewValidation(everr.CodeRuleParamsInvalid, field, reason)
	}

	params, err := ParseParams(rt, raw)
	if err != nil {
		return nil, everr.NewValidation(everr.CodeRuleParamsInvalid, "params", err.Error())
	}

	if err := semanticCheck(params, resolver); err != nil {
		return nil, err
	}
	return params, nil
}

// ValidateRule checks the rule envelope plus its params.
func ValidateRule(r *ComplianceRule, resolver StepResolver) (RuleParams, error) {
	if r.Title == "" {
		return nil, everr.NewValidation(everr.CodeRuleParamsInvalid, "title", "must not be empty")
	}
	if !r.Severity.Valid() {
		return nil, everr.NewValidation(everr.CodeRuleParamsInvalid, "severity", fmt.Sprintf("unknown severity %q", r.Severity))
	}
	return ValidateParams(r.RuleType, r.Params, resolver)
}

// semanticCheck enforces invariants outside the schema's reach. Regex
// phrases compile here, at save time, so the matcher never has to
// surface a pattern error during evaluation.
func semanticCheck(params RuleParams, resolver StepResolver) error {
	switch p := params.(type) {
	case PhraseParams:
		if p.MatchType == MatchRegex {
			for i, phrase := range p.Phrases {
				if _, err := regexp.Compile(phrase); err != nil {
					return everr.NewValidation(everr.CodeRuleParamsInvalid,
						fmt.Sprintf("phrases[%d]", i), fmt.Sprintf("invalid regex: %v", err))
				}
			}
		}
	case SequenceParams:
		if p.BeforeStepID == p.AfterStepID {
			return everr.NewValidation(everr.CodeRuleParamsInvalid, "after_step_id", "must differ from before_step_id")
		}
		if err := resolveStep(resolver, "before_step_id", p.BeforeStepID); err != nil {
			return err
		}
		if err := resolveStep(resolver, "after_step_id", p.AfterStepID); err != nil {
			return err
		}
	case TimingParams:
		if p.Target == TimingTargetStep {
			if err := resolveStep(resolver, "target_id_or_phrase", p.TargetIDOrPhrase); err != nil {
				return err
			}
		}
	case VerificationParams:
		if err := resolveStep(resolver, "verification_step_id", p.VerificationStepID); err != nil {
			return err
		}
		if p.MustCompleteBeforeStepID != "" {
			if err := resolveStep(resolver, "must_complete_before_step_id", p.MustCompleteBeforeStepID); err != nil {
				return err
			}
		}
	case ConditionalParams:
		for i, a := range p.RequiredActions {
			if a.Type == ActionStep {
				if err := resolveStep(resolver, fmt.Sprintf("required_actions[%d].value", i), a.Value); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func resolveStep(resolver StepResolver, field, stepID string) error {
	if resolver == nil {
		return nil
	}
	if !resolver.StepExists(stepID) {
		return everr.NewValidation(everr.CodeRuleParamsInvalid, field,
			fmt.Sprintf("step %q does not exist in the flow version", stepID))
	}
	return nil
}

// schemaFailure walks a jsonschema error to its most specific cause and
// returns a field path plus a human-readable reason.
func schemaFailure(err error) (field, reason string) {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return "params", err.Error()
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	field = strings.TrimPrefix(leaf.InstanceLocation, "/")
	field = strings.ReplaceAll(field, "/", ".")
	if field == "" {
		field = "params"
	}
	return field, leaf.Message
}
