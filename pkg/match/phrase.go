package match

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"

	"github.com/voxaudit/engine/pkg/rules"
	"github.com/voxaudit/engine/pkg/transcript"
)

// fold performs Unicode case folding for case-insensitive comparison.
var fold = cases.Fold()

// evalPhrase covers required_phrase and forbidden_phrase: same search,
// inverted verdict.
func (m *Matcher) evalPhrase(rule *rules.ComplianceRule, p rules.PhraseParams, in *Input, forbidden bool) Result {
	segments := in.Transcript.Segments
	hits := make([]Evidence, 0, 4)

	for i := range segments {
		seg := &segments[i]
		if p.Scope == rules.ScopeStage && !seg.InStage(rule.AppliesToStages) {
			continue
		}
		for _, phrase := range p.Phrases {
			if segmentMatches(seg.Text, phrase, p.MatchType, p.CaseSensitive) {
				hits = append(hits, Evidence{
					SegmentIndex: seg.Index,
					Snippet:      snippet(seg.Text),
					AtSec:        seg.StartSec,
				})
				break
			}
		}
	}

	if forbidden {
		if len(hits) > 0 {
			return failed(rule, hits, "forbidden phrase present")
		}
		return passed(rule, nil, "")
	}
	if len(hits) > 0 {
		return passed(rule, hits, "")
	}
	return failed(rule, nil, "required phrase not found")
}

// segmentMatches applies one phrase to one segment's text. An invalid
// regex is treated as a non-match: patterns are validated at rule-save
// time, so an unparsable pattern here means stored-state drift and the
// rule fails closed rather than erroring.
func segmentMatches(text, phrase string, mt rules.MatchType, caseSensitive bool) bool {
	switch mt {
	case rules.MatchExact:
		lhs := strings.TrimSpace(text)
		if caseSensitive {
			return lhs == phrase
		}
		return fold.String(lhs) == fold.String(phrase)
	case rules.MatchRegex:
		pattern := phrase
		if !caseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(text)
	default: // contains
		if caseSensitive {
			return strings.Contains(text, phrase)
		}
		return strings.Contains(fold.String(text), fold.String(phrase))
	}
}

// containsPhrase is the case-insensitive contains search used by the
// timing and conditional evaluators.
func containsPhrase(segments []transcript.Segment, phrase string) (Evidence, bool) {
	folded := fold.String(phrase)
	for i := range segments {
		if strings.Contains(fold.String(segments[i].Text), folded) {
			return Evidence{
				SegmentIndex: segments[i].Index,
				Snippet:      snippet(segments[i].Text),
				AtSec:        segments[i].StartSec,
			}, true
		}
	}
	return Evidence{}, false
}

const snippetMax = 120

func snippet(text string) string {
	r := []rune(strings.TrimSpace(text))
	if len(r) <= snippetMax {
		return string(r)
	}
	return fmt.Sprintf("%s…", string(r[:snippetMax]))
}
