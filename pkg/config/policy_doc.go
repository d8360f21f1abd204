package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/voxaudit/engine/pkg/policyver"
	"github.com/voxaudit/engine/pkg/rubric"
	"github.com/voxaudit/engine/pkg/rules"
)

// PolicyDocument is the YAML authoring format for a template's rule
// set and rubric. Documents are validated wholesale before any of
// their content can seed a draft.
type PolicyDocument struct {
	TemplateID    string           `yaml:"template_id" json:"template_id"`
	FlowVersionID string           `yaml:"flow_version_id" json:"flow_version_id"`
	Rules         []DocumentRule   `yaml:"rules" json:"rules"`
	Rubric        *rubric.Template `yaml:"rubric,omitempty" json:"rubric,omitempty"`
}

// DocumentRule is one authored rule plus the rubric category it files
// under in the published rule set.
type DocumentRule struct {
	Category        string         `yaml:"category" json:"category"`
	ID              string         `yaml:"id" json:"id"`
	Title           string         `yaml:"title" json:"title"`
	Description     string         `yaml:"description,omitempty" json:"description,omitempty"`
	Severity        rules.Severity `yaml:"severity" json:"severity"`
	RuleType        rules.RuleType `yaml:"rule_type" json:"rule_type"`
	AppliesToStages []string       `yaml:"applies_to_stages,omitempty" json:"applies_to_stages,omitempty"`
	Params          map[string]any `yaml:"params" json:"params"`
	Critical        bool           `yaml:"critical,omitempty" json:"critical,omitempty"`
	Active          bool           `yaml:"active" json:"active"`
}

// LoadPolicyDocument reads and parses a policy document YAML file.
func LoadPolicyDocument(path string) (*PolicyDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load policy document: %w", err)
	}
	var doc PolicyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy document: %w", err)
	}
	return &doc, nil
}

// Validate runs every rule through schema validation and the rubric
// through its weight checks. The first failure aborts: a document is
// usable only as a whole.
func (d *PolicyDocument) Validate(resolver rules.StepResolver) error {
	if d.TemplateID == "" {
		return fmt.Errorf("template_id is required")
	}
	for i, dr := range d.Rules {
		raw, err := dr.RawParams()
		if err != nil {
			return fmt.Errorf("rules[%d] (%s): %w", i, dr.ID, err)
		}
		r := &rules.ComplianceRule{
			ID:              dr.ID,
			FlowVersionID:   d.FlowVersionID,
			Title:           dr.Title,
			Description:     dr.Description,
			Severity:        dr.Severity,
			RuleType:        dr.RuleType,
			AppliesToStages: dr.AppliesToStages,
			Params:          raw,
			Active:          dr.Active,
		}
		if _, err := rules.ValidateRule(r, resolver); err != nil {
			return fmt.Errorf("rules[%d] (%s): %w", i, dr.ID, err)
		}
	}
	if d.Rubric != nil {
		if err := d.Rubric.Validate(nil); err != nil {
			return fmt.Errorf("rubric: %w", err)
		}
	}
	return nil
}

// RawParams converts the YAML params map to the JSON wire form the
// rule model consumes.
func (dr *DocumentRule) RawParams() (json.RawMessage, error) {
	if dr.Params == nil {
		return json.RawMessage(`{}`), nil
	}
	raw, err := json.Marshal(dr.Params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return raw, nil
}

// RuleSet files the document's rules into the versioned rule-set shape
// keyed by category name, preserving document order within a category.
func (d *PolicyDocument) RuleSet() policyver.RuleSet {
	out := policyver.RuleSet{}
	for _, dr := range d.Rules {
		out[dr.Category] = append(out[dr.Category], policyver.RuleRef{
			ID:          dr.ID,
			Type:        string(dr.RuleType),
			Severity:    string(dr.Severity),
			Enabled:     dr.Active,
			Critical:    dr.Critical,
			Description: dr.Description,
		})
	}
	return out
}
