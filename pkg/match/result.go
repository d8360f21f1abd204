// Package match evaluates validated compliance rules against call
// transcripts. Evaluation is side-effect-free and safe to run in
// parallel across rules and across calls.
package match

import (
	"github.com/voxaudit/engine/pkg/rules"
)

// Outcome is the tri-state result of evaluating one rule. Not
// applicable means the rule was never tested against this call
// (evidence gap, malformed transcript) and must not count toward
// scoring; downstream aggregation keeps it distinct from failed.
type Outcome string

const (
	OutcomePassed        Outcome = "passed"
	OutcomeFailed        Outcome = "failed"
	OutcomeNotApplicable Outcome = "not_applicable"
)

// Evidence points at the transcript material behind an outcome.
type Evidence struct {
	SegmentIndex int     `json:"segment_index"`
	Snippet      string  `json:"snippet,omitempty"`
	AtSec        float64 `json:"at_sec"`
}

// Result is the outcome of one rule against one call.
type Result struct {
	RuleID   string         `json:"rule_id"`
	Outcome  Outcome        `json:"outcome"`
	Passed   bool           `json:"passed"`
	Severity rules.Severity `json:"severity"`
	Evidence []Evidence     `json:"evidence,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// CountsTowardScoring reports whether this result should feed the
// rubric scorer. Evidence gaps do not.
func (r Result) CountsTowardScoring() bool {
	return r.Outcome != OutcomeNotApplicable
}

func passed(rule *rules.ComplianceRule, ev []Evidence, reason string) Result {
	return Result{RuleID: rule.ID, Outcome: OutcomePassed, Passed: true, Severity: rule.Severity, Evidence: ev, Reason: reason}
}

func failed(rule *rules.ComplianceRule, ev []Evidence, reason string) Result {
	return Result{RuleID: rule.ID, Outcome: OutcomeFailed, Severity: rule.Severity, Evidence: ev, Reason: reason}
}

func notApplicable(rule *rules.ComplianceRule, reason string) Result {
	return Result{RuleID: rule.ID, Outcome: OutcomeNotApplicable, Severity: rule.Severity, Reason: reason}
}
