// Package policyver maintains draft/published policy-rule versions per
// policy template: one mutable draft at a time, exactly one current
// published version, content-hashed immutable history, and a rollback
// path that always goes through a reviewable draft.
package policyver

import (
	"time"

	"github.com/voxaudit/engine/pkg/canonicalize"
)

// State is a version's lifecycle position.
type State string

const (
	StateDraft      State = "draft"
	StatePublished  State = "published"
	StateSuperseded State = "superseded"
)

// RuleRef is one rule entry as persisted in a version's rule set,
// field names matching the wire contract consumed by existing clients.
type RuleRef struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Enabled     bool   `json:"enabled"`
	Critical    bool   `json:"critical"`
	Description string `json:"description,omitempty"`
}

// RuleSet maps category name to its ordered rule list.
type RuleSet map[string][]RuleRef

// Hash returns the deterministic content digest of the rule set:
// SHA-256 over its RFC 8785 canonical JSON form. Recomputing over a
// stored set must always reproduce the persisted hash.
func (rs RuleSet) Hash() (string, error) {
	if rs == nil {
		rs = RuleSet{}
	}
	return canonicalize.Hash(rs)
}

// Clone deep-copies the rule set.
func (rs RuleSet) Clone() RuleSet {
	out := make(RuleSet, len(rs))
	for cat, refs := range rs {
		out[cat] = append([]RuleRef(nil), refs...)
	}
	return out
}

// Version is one policy-rules version. Published and superseded
// versions are immutable; only drafts accept rule edits.
type Version struct {
	ID            string     `json:"id"`
	TemplateID    string     `json:"template_id"`
	VersionNumber int        `json:"version"`
	State         State      `json:"state"`
	Rules         RuleSet    `json:"rules"`
	RulesHash     string     `json:"rules_hash,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CreatedBy     string     `json:"created_by,omitempty"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
}

// Clone deep-copies the version so store callers can't mutate shared
// state through returned pointers.
func (v *Version) Clone() *Version {
	if v == nil {
		return nil
	}
	out := *v
	out.Rules = v.Rules.Clone()
	if v.PublishedAt != nil {
		at := *v.PublishedAt
		out.PublishedAt = &at
	}
	return &out
}
