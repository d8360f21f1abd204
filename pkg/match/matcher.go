package match

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voxaudit/engine/pkg/rules"
	"github.com/voxaudit/engine/pkg/transcript"
)

// Input bundles everything one rule evaluation reads: the transcript,
// the step evidence resolved by the segmentation service, and the call
// context for conditional rules.
type Input struct {
	Transcript *transcript.Transcript
	Evidence   transcript.EvidenceIndex
	Context    transcript.CallContext
}

// Matcher evaluates rules against transcripts. It holds no per-call
// state; one Matcher serves all goroutines.
type Matcher struct {
	logger *slog.Logger
	cond   *conditionEvaluator
}

// New builds a Matcher, including the CEL environment used by
// conditional rules.
func New() (*Matcher, error) {
	cond, err := newConditionEvaluator()
	if err != nil {
		return nil, fmt.Errorf("condition evaluator: %w", err)
	}
	return &Matcher{
		logger: slog.Default().With("component", "match"),
		cond:   cond,
	}, nil
}

// Evaluate runs one validated rule against one call. It never returns
// an error: transcripts come from a probabilistic upstream pipeline, so
// anything the matcher cannot interpret degrades to a not-applicable
// result with the reason logged.
func (m *Matcher) Evaluate(ctx context.Context, rule *rules.ComplianceRule, in *Input) Result {
	if in == nil || in.Transcript == nil || len(in.Transcript.Segments) == 0 {
		return m.degrade(ctx, rule, "transcript empty or missing")
	}

	params, err := rule.ParsedParams()
	if err != nil {
		// Rules are validated at save time; reaching this means the
		// stored params drifted from their schema.
		return m.degrade(ctx, rule, fmt.Sprintf("stored params unreadable: %v", err))
	}

	switch p := params.(type) {
	case rules.PhraseParams:
		return m.evalPhrase(rule, p, in, rule.RuleType == rules.TypeForbiddenPhrase)
	case rules.SequenceParams:
		return m.evalSequence(rule, p, in)
	case rules.TimingParams:
		return m.evalTiming(ctx, rule, p, in)
	case rules.VerificationParams:
		return m.evalVerification(rule, p, in)
	case rules.ConditionalParams:
		return m.evalConditional(ctx, rule, p, in)
	default:
		return m.degrade(ctx, rule, fmt.Sprintf("no evaluator for rule type %q", rule.RuleType))
	}
}

func (m *Matcher) degrade(ctx context.Context, rule *rules.ComplianceRule, reason string) Result {
	m.logger.WarnContext(ctx, "rule not applicable",
		"rule_id", rule.ID,
		"rule_type", string(rule.RuleType),
		"reason", reason,
	)
	return notApplicable(rule, reason)
}
