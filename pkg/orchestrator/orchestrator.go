// Package orchestrator runs a full call evaluation: every active rule
// through the matcher, one rubric scoring pass, results persisted.
// Each evaluation is an independent, bounded computation; calls and
// rules within a call run in parallel with no shared mutable state.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/voxaudit/engine/pkg/everr"
	"github.com/voxaudit/engine/pkg/match"
	"github.com/voxaudit/engine/pkg/observability"
	"github.com/voxaudit/engine/pkg/rubric"
	"github.com/voxaudit/engine/pkg/rules"
	"github.com/voxaudit/engine/pkg/transcript"
)

// PolicySource supplies the live rule set and rubric for a template,
// backed by the version manager and rubric storage.
type PolicySource interface {
	ActiveRules(ctx context.Context, templateID string) ([]*rules.ComplianceRule, error)
	ActiveRubric(ctx context.Context, templateID string) (*rubric.Template, error)
}

// Segmenter resolves flow-step evidence from a transcript. It sits in
// front of the upstream speech segmentation service.
type Segmenter interface {
	Resolve(ctx context.Context, t *transcript.Transcript) (transcript.EvidenceIndex, error)
}

// BehaviorScorer supplies the externally produced numeric scores (the
// LLM/behavioral collaborator): raw per-category scores plus per-target
// scores for rubric mappings.
type BehaviorScorer interface {
	Scores(ctx context.Context, callID string) (categoryScores, targetScores map[string]float64, err error)
}

// ResultStore persists finished evaluations.
type ResultStore interface {
	SaveEvaluation(ctx context.Context, ev *Evaluation) error
}

// Summary counts rule outcomes, keeping evidence gaps separate from
// failures so downstream aggregation never conflates the two.
type Summary struct {
	Passed           int                    `json:"passed"`
	Failed           int                    `json:"failed"`
	NotApplicable    int                    `json:"not_applicable"`
	FailedBySeverity map[rules.Severity]int `json:"failed_by_severity,omitempty"`
}

// Evaluation is the persisted result of evaluating one call.
type Evaluation struct {
	CallID           string            `json:"call_id"`
	TemplateID       string            `json:"template_id"`
	RuleResults      []match.Result    `json:"rule_results"`
	Scorecard        *rubric.Scorecard `json:"scorecard,omitempty"`
	Summary          Summary           `json:"summary"`
	FlaggedForReview bool              `json:"flagged_for_review,omitempty"`
	FlagReason       string            `json:"flag_reason,omitempty"`
	EvaluatedAt      time.Time         `json:"evaluated_at"`
}

// Orchestrator wires the collaborators together. One Orchestrator
// serves all calls; it holds no per-call state.
type Orchestrator struct {
	policies PolicySource
	segments Segmenter
	scores   BehaviorScorer
	store    ResultStore
	matcher  *match.Matcher
	obs      *observability.Provider
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithObservability wires the OTel provider.
func WithObservability(p *observability.Provider) Option {
	return func(o *Orchestrator) { o.obs = p }
}

// WithClock overrides the clock for testing.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New builds an Orchestrator.
func New(policies PolicySource, segments Segmenter, scores BehaviorScorer, store ResultStore, opts ...Option) (*Orchestrator, error) {
	matcher, err := match.New()
	if err != nil {
		return nil, fmt.Errorf("build matcher: %w", err)
	}
	o := &Orchestrator{
		policies: policies,
		segments: segments,
		scores:   scores,
		store:    store,
		matcher:  matcher,
		logger:   slog.Default().With("component", "orchestrator"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// EvaluateCall runs every active rule and the rubric scorer over one
// call and persists the result. A configuration problem (invalid
// rubric, no published version) does not emit a misleading score: the
// evaluation is flagged for human review instead.
func (o *Orchestrator) EvaluateCall(ctx context.Context, templateID string, t *transcript.Transcript, cc transcript.CallContext) (ev *Evaluation, err error) {
	if t == nil {
		return nil, fmt.Errorf("evaluate call: transcript is nil")
	}
	if o.obs != nil {
		var finish func(error)
		ctx, finish = o.obs.TrackEvaluation(ctx, "engine.evaluate_call",
			attribute.String("call.id", t.CallID),
			attribute.String("template.id", templateID),
		)
		defer func() { finish(err) }()
	}

	activeRules, err := o.policies.ActiveRules(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("fetch active rules: %w", err)
	}

	evidence, segErr := o.segments.Resolve(ctx, t)
	if segErr != nil {
		// The matcher degrades step-based rules to not-applicable when
		// evidence is missing; phrase rules still run.
		o.logger.WarnContext(ctx, "step evidence unavailable", "call_id", t.CallID, "error", segErr)
		evidence = nil
	}

	in := &match.Input{Transcript: t, Evidence: evidence, Context: cc}
	results := o.evaluateRules(ctx, activeRules, in)

	evaluation := &Evaluation{
		CallID:      t.CallID,
		TemplateID:  templateID,
		RuleResults: results,
		Summary:     summarize(results),
		EvaluatedAt: o.now().UTC(),
	}

	if err := o.scoreCall(ctx, templateID, t.CallID, activeRules, results, evaluation); err != nil {
		return nil, err
	}

	if o.store != nil {
		if err := o.store.SaveEvaluation(ctx, evaluation); err != nil {
			return nil, fmt.Errorf("persist evaluation: %w", err)
		}
	}

	o.logger.InfoContext(ctx, "call evaluated",
		"call_id", t.CallID,
		"template_id", templateID,
		"rules", len(results),
		"failed", evaluation.Summary.Failed,
		"not_applicable", evaluation.Summary.NotApplicable,
		"flagged", evaluation.FlaggedForReview,
	)
	return evaluation, nil
}

// evaluateRules fans rule evaluation out across goroutines. Each rule
// writes its own slot, so the merge needs no locking; results are
// ordered by rule id afterward for stable output.
func (o *Orchestrator) evaluateRules(ctx context.Context, active []*rules.ComplianceRule, in *match.Input) []match.Result {
	toRun := make([]*rules.ComplianceRule, 0, len(active))
	for _, r := range active {
		if r.Active {
			toRun = append(toRun, r)
		}
	}

	results := make([]match.Result, len(toRun))
	var wg sync.WaitGroup
	for i, r := range toRun {
		wg.Add(1)
		go func(slot int, rule *rules.ComplianceRule) {
			defer wg.Done()
			results[slot] = o.matcher.Evaluate(ctx, rule, in)
		}(i, r)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].RuleID < results[j].RuleID })
	return results
}

func (o *Orchestrator) scoreCall(ctx context.Context, templateID, callID string, activeRules []*rules.ComplianceRule, results []match.Result, evaluation *Evaluation) error {
	tmpl, err := o.policies.ActiveRubric(ctx, templateID)
	if err != nil {
		if everr.IsConfiguration(err) {
			evaluation.FlaggedForReview = true
			evaluation.FlagReason = err.Error()
			return nil
		}
		return fmt.Errorf("fetch active rubric: %w", err)
	}
	if tmpl == nil {
		return nil
	}

	categoryScores, targetScores, err := o.scores.Scores(ctx, callID)
	if err != nil {
		return fmt.Errorf("fetch behavior scores: %w", err)
	}

	card, err := rubric.Score(tmpl, rubric.Input{
		CategoryScores: categoryScores,
		TargetScores:   targetScores,
		FailedTargets:  failedTargets(activeRules, results),
	})
	if err != nil {
		if everr.IsConfiguration(err) {
			evaluation.FlaggedForReview = true
			evaluation.FlagReason = err.Error()
			return nil
		}
		return fmt.Errorf("score rubric: %w", err)
	}
	evaluation.Scorecard = card
	return nil
}

// failedTargets maps failed rule results back onto the stages their
// rules apply to and the steps their params reference, feeding the
// required-mapping gate in the scorer. Both target kinds a rubric
// mapping can name must be covered. Not-applicable results never mark
// a target: an untested rule is not a failed one.
func failedTargets(activeRules []*rules.ComplianceRule, results []match.Result) map[string]bool {
	byID := make(map[string]*rules.ComplianceRule, len(activeRules))
	for _, r := range activeRules {
		byID[r.ID] = r
	}
	out := make(map[string]bool)
	for _, res := range results {
		if res.Outcome != match.OutcomeFailed {
			continue
		}
		rule, ok := byID[res.RuleID]
		if !ok {
			continue
		}
		for _, stageID := range rule.AppliesToStages {
			out[stageID] = true
		}
		for _, stepID := range ruleStepIDs(rule) {
			out[stepID] = true
		}
	}
	return out
}

// ruleStepIDs lists the flow steps a rule's params reference. A failed
// step-based rule marks those steps as failed targets the same way
// AppliesToStages marks stage targets.
func ruleStepIDs(rule *rules.ComplianceRule) []string {
	params, err := rule.ParsedParams()
	if err != nil {
		return nil
	}
	switch p := params.(type) {
	case rules.SequenceParams:
		return []string{p.BeforeStepID, p.AfterStepID}
	case rules.TimingParams:
		if p.Target == rules.TimingTargetStep {
			return []string{p.TargetIDOrPhrase}
		}
	case rules.VerificationParams:
		return []string{p.VerificationStepID}
	case rules.ConditionalParams:
		var ids []string
		for _, a := range p.RequiredActions {
			if a.Type == rules.ActionStep {
				ids = append(ids, a.Value)
			}
		}
		return ids
	}
	return nil
}

func summarize(results []match.Result) Summary {
	s := Summary{FailedBySeverity: make(map[rules.Severity]int)}
	for _, r := range results {
		switch r.Outcome {
		case match.OutcomePassed:
			s.Passed++
		case match.OutcomeFailed:
			s.Failed++
			s.FailedBySeverity[r.Severity]++
		case match.OutcomeNotApplicable:
			s.NotApplicable++
		}
	}
	if len(s.FailedBySeverity) == 0 {
		s.FailedBySeverity = nil
	}
	return s
}
