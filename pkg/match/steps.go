package match

import (
	"context"
	"fmt"

	"github.com/voxaudit/engine/pkg/rules"
)

// evalSequence checks that before_step_id is evidenced strictly earlier
// than after_step_id. A step with no evidence at all fails the rule:
// absence is not vacuous truth for ordering requirements.
func (m *Matcher) evalSequence(rule *rules.ComplianceRule, p rules.SequenceParams, in *Input) Result {
	before, okBefore := in.Evidence.First(p.BeforeStepID)
	after, okAfter := in.Evidence.First(p.AfterStepID)

	if !okBefore {
		return failed(rule, nil, fmt.Sprintf("step %q never evidenced", p.BeforeStepID))
	}
	if !okAfter {
		return failed(rule, nil, fmt.Sprintf("step %q never evidenced", p.AfterStepID))
	}

	ev := []Evidence{
		{SegmentIndex: before.SegmentIndex, AtSec: before.AtSec},
		{SegmentIndex: after.SegmentIndex, AtSec: after.AtSec},
	}
	if before.AtSec < after.AtSec {
		return passed(rule, ev, "")
	}
	return failed(rule, ev, fmt.Sprintf("step %q at %.1fs does not precede %q at %.1fs",
		p.BeforeStepID, before.AtSec, p.AfterStepID, after.AtSec))
}

// evalTiming checks that the target event happened within
// within_seconds of the reference point. A target that never occurs is
// not applicable, not failed: the rule was never tested.
func (m *Matcher) evalTiming(ctx context.Context, rule *rules.ComplianceRule, p rules.TimingParams, in *Input) Result {
	var targetAt float64
	var ev Evidence

	switch p.Target {
	case rules.TimingTargetStep:
		occ, ok := in.Evidence.First(p.TargetIDOrPhrase)
		if !ok {
			return m.degrade(ctx, rule, fmt.Sprintf("target step %q never evidenced", p.TargetIDOrPhrase))
		}
		targetAt = occ.AtSec
		ev = Evidence{SegmentIndex: occ.SegmentIndex, AtSec: occ.AtSec}
	case rules.TimingTargetPhrase:
		hit, ok := containsPhrase(in.Transcript.Segments, p.TargetIDOrPhrase)
		if !ok {
			return m.degrade(ctx, rule, fmt.Sprintf("target phrase %q never spoken", p.TargetIDOrPhrase))
		}
		targetAt = hit.AtSec
		ev = hit
	default:
		return m.degrade(ctx, rule, fmt.Sprintf("unknown timing target %q", p.Target))
	}

	refAt := 0.0
	if p.Reference == rules.RefPreviousStep {
		prev, ok := latestEvidenceBefore(in, targetAt)
		if !ok {
			return m.degrade(ctx, rule, "no step evidenced before the target to measure from")
		}
		refAt = prev
	}

	elapsed := targetAt - refAt
	if elapsed <= p.WithinSeconds {
		return passed(rule, []Evidence{ev}, "")
	}
	return failed(rule, []Evidence{ev},
		fmt.Sprintf("target at %.1fs, %.1fs after reference, limit %.1fs", targetAt, elapsed, p.WithinSeconds))
}

// latestEvidenceBefore finds the most recent step evidence strictly
// earlier than cutoff, across all steps.
func latestEvidenceBefore(in *Input, cutoff float64) (float64, bool) {
	best := 0.0
	found := false
	for _, occs := range in.Evidence {
		for _, e := range occs {
			if e.AtSec < cutoff && (!found || e.AtSec > best) {
				best = e.AtSec
				found = true
			}
		}
	}
	return best, found
}

// evalVerification checks that the verification step asked enough
// questions, optionally all before a boundary step.
func (m *Matcher) evalVerification(rule *rules.ComplianceRule, p rules.VerificationParams, in *Input) Result {
	occs := in.Evidence.Occurrences(p.VerificationStepID)
	if len(occs) == 0 {
		return failed(rule, nil, fmt.Sprintf("verification step %q never evidenced", p.VerificationStepID))
	}

	cutoff := 0.0
	bounded := false
	if p.MustCompleteBeforeStepID != "" {
		boundary, ok := in.Evidence.First(p.MustCompleteBeforeStepID)
		if !ok {
			return failed(rule, nil, fmt.Sprintf("boundary step %q never evidenced", p.MustCompleteBeforeStepID))
		}
		cutoff = boundary.AtSec
		bounded = true

		for _, occ := range occs {
			if occ.AtSec >= cutoff {
				return failed(rule, []Evidence{{SegmentIndex: occ.SegmentIndex, AtSec: occ.AtSec}},
					fmt.Sprintf("verification evidence at %.1fs is not before %q at %.1fs",
						occ.AtSec, p.MustCompleteBeforeStepID, cutoff))
			}
		}
	}

	count := in.Evidence.QuestionCount(p.VerificationStepID, cutoff, bounded)
	ev := make([]Evidence, 0, len(occs))
	for _, occ := range occs {
		ev = append(ev, Evidence{SegmentIndex: occ.SegmentIndex, AtSec: occ.AtSec})
	}
	if count >= p.RequiredQuestionCount {
		return passed(rule, ev, "")
	}
	return failed(rule, ev, fmt.Sprintf("%d verification questions evidenced, %d required",
		count, p.RequiredQuestionCount))
}
