package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `template_id: tmpl-support
flow_version_id: flow-7
rules:
  - category: greeting
    id: rule-greeting
    title: Open with the standard greeting
    severity: minor
    rule_type: required_phrase
    active: true
    params:
      phrases:
        - thank you for calling
  - category: disclosure
    id: rule-recording
    title: Recording disclosure within 30s
    severity: critical
    rule_type: timing_rule
    critical: true
    active: true
    params:
      target: phrase
      target_id_or_phrase: this call is recorded
      within_seconds: 30
rubric:
  id: rub-support
  flow_version_id: flow-7
  name: Support QA
  categories:
    - id: compliance
      name: Compliance
      weight: 40
      pass_threshold: 70
    - id: empathy
      name: Empathy
      weight: 60
      pass_threshold: 60
`

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadPolicyDocument(t *testing.T) {
	doc, err := LoadPolicyDocument(writeDoc(t, sampleDoc))
	require.NoError(t, err)

	assert.Equal(t, "tmpl-support", doc.TemplateID)
	require.Len(t, doc.Rules, 2)
	assert.Equal(t, "rule-recording", doc.Rules[1].ID)
	assert.Equal(t, 30, doc.Rules[1].Params["within_seconds"])
	require.NotNil(t, doc.Rubric)
	assert.Equal(t, 60.0, doc.Rubric.Categories[1].Weight)

	require.NoError(t, doc.Validate(nil))
}

func TestLoadPolicyDocument_Missing(t *testing.T) {
	_, err := LoadPolicyDocument(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestPolicyDocument_ValidateRejectsBadRule(t *testing.T) {
	doc, err := LoadPolicyDocument(writeDoc(t, sampleDoc))
	require.NoError(t, err)

	doc.Rules[0].Params["phrases"] = []any{}
	err = doc.Validate(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule-greeting")
}

func TestPolicyDocument_ValidateRejectsBadRubric(t *testing.T) {
	doc, err := LoadPolicyDocument(writeDoc(t, sampleDoc))
	require.NoError(t, err)

	doc.Rubric.Categories[0].Weight = 50
	err = doc.Validate(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rubric")
}

func TestPolicyDocument_ValidateRequiresTemplateID(t *testing.T) {
	doc := &PolicyDocument{}
	assert.Error(t, doc.Validate(nil))
}

func TestPolicyDocument_RuleSet(t *testing.T) {
	doc, err := LoadPolicyDocument(writeDoc(t, sampleDoc))
	require.NoError(t, err)

	rs := doc.RuleSet()
	require.Len(t, rs["greeting"], 1)
	require.Len(t, rs["disclosure"], 1)

	rec := rs["disclosure"][0]
	assert.Equal(t, "rule-recording", rec.ID)
	assert.Equal(t, "timing_rule", rec.Type)
	assert.Equal(t, "critical", rec.Severity)
	assert.True(t, rec.Critical)
	assert.True(t, rec.Enabled)
}

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"ENGINE_DB_DRIVER", "ENGINE_DB_DSN", "LOG_LEVEL", "ENGINE_ENV", "OTEL_ENABLED"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Contains(t, cfg.DBDSN, "voxaudit.db")
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.False(t, cfg.OTelEnabled)

	t.Setenv("ENGINE_DB_DRIVER", "postgres")
	t.Setenv("OTEL_ENABLED", "true")
	cfg = Load()
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.True(t, cfg.OTelEnabled)
}
