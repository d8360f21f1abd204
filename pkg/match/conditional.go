package match

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"

	"github.com/voxaudit/engine/pkg/rules"
)

// conditionEvaluator compiles conditional-rule triggers into CEL
// programs over a fixed call-context environment.
type conditionEvaluator struct {
	env *cel.Env
}

func newConditionEvaluator() (*conditionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("sentiment", types.StringType),
			decls.NewVariable("transcript_text", types.StringType),
			decls.NewVariable("segments", types.NewListType(types.StringType)),
			decls.NewVariable("metadata", types.NewMapType(types.StringType, types.DynType)),
			decls.NewVariable("value", types.StringType),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	return &conditionEvaluator{env: env}, nil
}

// celSource maps a structured condition to its CEL expression. The
// comparison value is bound as a variable, never spliced into the
// source, so operator semantics cannot be altered by rule content.
func celSource(c rules.Condition) (string, error) {
	switch c.Type {
	case rules.CondSentiment:
		if c.Operator == rules.OpContains {
			return `sentiment.contains(value)`, nil
		}
		return `sentiment == value`, nil
	case rules.CondPhraseMentioned:
		if c.Operator == rules.OpEquals {
			return `segments.exists(s, s == value)`, nil
		}
		return `transcript_text.contains(value)`, nil
	case rules.CondMetadataFlag:
		if c.Operator == rules.OpContains {
			return `value in metadata`, nil
		}
		return `value in metadata && metadata[value] == true`, nil
	default:
		return "", fmt.Errorf("unknown condition type %q", c.Type)
	}
}

// eval decides whether the condition holds for this call. Text inputs
// are case-folded before binding so text conditions match the phrase
// matcher's case-insensitive behavior; metadata keys stay exact.
func (ce *conditionEvaluator) eval(c rules.Condition, in *Input) (bool, error) {
	src, err := celSource(c)
	if err != nil {
		return false, err
	}
	ast, issues := ce.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("condition compile: %w", issues.Err())
	}
	prg, err := ce.env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("condition program: %w", err)
	}

	segs := in.Transcript.Segments
	foldedSegments := make([]string, 0, len(segs))
	var full strings.Builder
	for i := range segs {
		folded := fold.String(strings.TrimSpace(segs[i].Text))
		foldedSegments = append(foldedSegments, folded)
		full.WriteString(folded)
		full.WriteString(" ")
	}

	value := c.Value
	if c.Type != rules.CondMetadataFlag {
		value = fold.String(value)
	}
	metadata := in.Context.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	out, _, err := prg.Eval(map[string]any{
		"sentiment":       fold.String(in.Context.Sentiment),
		"transcript_text": full.String(),
		"segments":        foldedSegments,
		"metadata":        metadata,
		"value":           value,
	})
	if err != nil {
		return false, fmt.Errorf("condition eval: %w", err)
	}
	held, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition produced %T, want bool", out.Value())
	}
	return held, nil
}

// evalConditional applies a conditional rule: when the condition does
// not hold the rule passes vacuously; when it holds every required
// action must be evidenced.
func (m *Matcher) evalConditional(ctx context.Context, rule *rules.ComplianceRule, p rules.ConditionalParams, in *Input) Result {
	held, err := m.cond.eval(p.Condition, in)
	if err != nil {
		return m.degrade(ctx, rule, fmt.Sprintf("condition not evaluable: %v", err))
	}
	if !held {
		return passed(rule, nil, "condition not met")
	}

	ev := make([]Evidence, 0, len(p.RequiredActions))
	for _, action := range p.RequiredActions {
		switch action.Type {
		case rules.ActionStep:
			occ, ok := in.Evidence.First(action.Value)
			if !ok {
				return failed(rule, ev, fmt.Sprintf("required step %q not evidenced", action.Value))
			}
			ev = append(ev, Evidence{SegmentIndex: occ.SegmentIndex, AtSec: occ.AtSec})
		case rules.ActionPhrase:
			hit, ok := containsPhrase(in.Transcript.Segments, action.Value)
			if !ok {
				return failed(rule, ev, fmt.Sprintf("required phrase %q not spoken", action.Value))
			}
			ev = append(ev, hit)
		default:
			return m.degrade(ctx, rule, fmt.Sprintf("unknown action type %q", action.Type))
		}
	}
	return passed(rule, ev, "condition met, all required actions evidenced")
}
