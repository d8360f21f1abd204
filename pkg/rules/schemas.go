package rules

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Per-type parameter schemas. These are the single source of truth for
// the wire shape; the typed decode in params.go must stay in sync.
var paramSchemas = map[RuleType]string{
	TypeRequiredPhrase:  phraseParamsSchema,
	TypeForbiddenPhrase: phraseParamsSchema,
	TypeSequence: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["before_step_id", "after_step_id"],
		"properties": {
			"before_step_id": {"type": "string", "minLength": 1},
			"after_step_id": {"type": "string", "minLength": 1}
		}
	}`,
	TypeTiming: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["target", "target_id_or_phrase", "within_seconds"],
		"properties": {
			"target": {"enum": ["step", "phrase"]},
			"target_id_or_phrase": {"type": "string", "minLength": 1},
			"within_seconds": {"type": "number", "exclusiveMinimum": 0},
			"reference": {"enum": ["call_start", "previous_step"]}
		}
	}`,
	TypeVerification: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["verification_step_id", "required_question_count"],
		"properties": {
			"verification_step_id": {"type": "string", "minLength": 1},
			"required_question_count": {"type": "integer", "minimum": 1},
			"must_complete_before_step_id": {"type": "string", "minLength": 1}
		}
	}`,
	TypeConditional: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["condition", "required_actions"],
		"properties": {
			"condition": {
				"type": "object",
				"additionalProperties": false,
				"required": ["type", "operator", "value"],
				"properties": {
					"type": {"enum": ["sentiment", "phrase_mentioned", "metadata_flag"]},
					"operator": {"enum": ["equals", "contains"]},
					"value": {"type": "string", "minLength": 1}
				}
			},
			"required_actions": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"additionalProperties": false,
					"required": ["type", "value"],
					"properties": {
						"type": {"enum": ["step", "phrase"]},
						"value": {"type": "string", "minLength": 1},
						"description": {"type": "string"}
					}
				}
			}
		}
	}`,
}

const phraseParamsSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["phrases"],
	"properties": {
		"phrases": {
			"type": "array",
			"minItems": 1,
			"items": {"type": "string", "minLength": 1}
		},
		"match_type": {"enum": ["contains", "exact", "regex"]},
		"case_sensitive": {"type": "boolean"},
		"scope": {"enum": ["call", "stage"]}
	}
}`

var (
	compiledOnce    sync.Once
	compiledSchemas map[RuleType]*jsonschema.Schema
	compileErr      error
)

func schemaFor(rt RuleType) (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		compiledSchemas = make(map[RuleType]*jsonschema.Schema, len(paramSchemas))
		for t, src := range paramSchemas {
			c := jsonschema.NewCompiler()
			c.Draft = jsonschema.Draft2020
			url := fmt.Sprintf("https://voxaudit.schemas.local/rules/%s.schema.json", t)
			if err := c.AddResource(url, strings.NewReader(src)); err != nil {
				compileErr = fmt.Errorf("schema load for %s: %w", t, err)
				return
			}
			s, err := c.Compile(url)
			if err != nil {
				compileErr = fmt.Errorf("schema compile for %s: %w", t, err)
				return
			}
			compiledSchemas[t] = s
		}
	})
	if compileErr != nil {
		return nil, compileErr
	}
	s, ok := compiledSchemas[rt]
	if !ok {
		return nil, fmt.Errorf("no schema for rule type %q", rt)
	}
	return s, nil
}
