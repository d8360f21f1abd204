// Package everr defines the engine's error taxonomy: validation,
// conflict, and configuration errors carry stable machine codes so
// callers (the admin console, the evaluation orchestrator) can branch
// on error class without string matching.
package everr

import (
	"errors"
	"fmt"
)

// Stable error codes, ENGINE/<AREA>/<CODE>.
const (
	CodeRuleParamsInvalid   = "ENGINE/RULES/PARAMS_INVALID"
	CodeRuleTypeUnknown     = "ENGINE/RULES/TYPE_UNKNOWN"
	CodeRubricWeightSum     = "ENGINE/RUBRIC/WEIGHT_SUM"
	CodeRubricTargetInvalid = "ENGINE/RUBRIC/TARGET_INVALID"
	CodeDraftConflict       = "ENGINE/VERSION/DRAFT_CONFLICT"
	CodePublishConflict     = "ENGINE/VERSION/PUBLISH_CONFLICT"
	CodeNoPublishedVersion  = "ENGINE/VERSION/NO_PUBLISHED"
	CodeVersionNotFound     = "ENGINE/VERSION/NOT_FOUND"
)

// Recoverability classes, informational for callers.
const (
	RecoverEdit  = "EDIT"  // operator corrects input and resubmits
	RecoverRetry = "RETRY" // re-fetch current state and retry
	RecoverHuman = "HUMAN" // flag for human review, do not retry blindly
)

// ValidationError reports a rule or rubric that fails its schema or a
// semantic invariant. It names the offending field; nothing is ever
// persisted in a state that would produce one of these on re-read.
type ValidationError struct {
	Code   string `json:"code"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("%s: field %q: %s", e.Code, e.Field, e.Reason)
}

// Recoverability returns RecoverEdit: the operator fixes the input.
func (e *ValidationError) Recoverability() string { return RecoverEdit }

// NewValidation builds a ValidationError for a field.
func NewValidation(code, field, reason string) *ValidationError {
	return &ValidationError{Code: code, Field: field, Reason: reason}
}

// ConflictError reports a lost race on shared version state (draft
// creation or publish). The caller must re-fetch and retry; the engine
// never merges concurrent edits silently.
type ConflictError struct {
	Code     string `json:"code"`
	Resource string `json:"resource"`
	Detail   string `json:"detail"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Resource, e.Detail)
}

func (e *ConflictError) Recoverability() string { return RecoverRetry }

// NewConflict builds a ConflictError for a resource.
func NewConflict(code, resource, detail string) *ConflictError {
	return &ConflictError{Code: code, Resource: resource, Detail: detail}
}

// ConfigurationError reports an attempt to evaluate against invalid
// configuration (rubric weights off, no published version). Evaluation
// aborts for that call; the result must be flagged for review rather
// than scored.
type ConfigurationError struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *ConfigurationError) Recoverability() string { return RecoverHuman }

// NewConfiguration builds a ConfigurationError.
func NewConfiguration(code, detail string) *ConfigurationError {
	return &ConfigurationError{Code: code, Detail: detail}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
