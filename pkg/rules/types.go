// Package rules defines the typed compliance-rule model: six rule
// kinds, one closed parameter shape per kind, and fail-closed
// validation. The package is pure data plus validation; matching lives
// in pkg/match.
package rules

import (
	"encoding/json"
	"time"
)

// Severity ranks how bad a violation of the rule is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityMajor, SeverityMinor:
		return true
	}
	return false
}

// RuleType discriminates the params union.
type RuleType string

const (
	TypeRequiredPhrase  RuleType = "required_phrase"
	TypeForbiddenPhrase RuleType = "forbidden_phrase"
	TypeSequence        RuleType = "sequence_rule"
	TypeTiming          RuleType = "timing_rule"
	TypeVerification    RuleType = "verification_rule"
	TypeConditional     RuleType = "conditional_rule"
)

// AllRuleTypes lists every rule kind the engine evaluates.
var AllRuleTypes = []RuleType{
	TypeRequiredPhrase,
	TypeForbiddenPhrase,
	TypeSequence,
	TypeTiming,
	TypeVerification,
	TypeConditional,
}

// Valid reports whether rt is a known rule type.
func (rt RuleType) Valid() bool {
	for _, t := range AllRuleTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// ComplianceRule is the persisted rule shape, field names matching the
// wire contract consumed by existing clients.
type ComplianceRule struct {
	ID              string          `json:"id"`
	FlowVersionID   string          `json:"flow_version_id"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Severity        Severity        `json:"severity"`
	RuleType        RuleType        `json:"rule_type"`
	AppliesToStages []string        `json:"applies_to_stages,omitempty"`
	Params          json.RawMessage `json:"params"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ParsedParams decodes the raw params into the typed variant for the
// rule's type, applying defaults. It does not run full validation; use
// ValidateRule before persisting or activating a rule.
func (r *ComplianceRule) ParsedParams() (RuleParams, error) {
	return ParseParams(r.RuleType, r.Params)
}
