package policyver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voxaudit/engine/pkg/everr"
	"github.com/voxaudit/engine/pkg/rubric"
)

// RubricSource supplies the active rubric for a template so publish
// can enforce the weight-sum invariant. Nil means no rubric gating
// (templates without a scoring rubric).
type RubricSource interface {
	ActiveRubric(ctx context.Context, templateID string) (*rubric.Template, error)
}

// Manager drives the draft → published → superseded lifecycle on top
// of a Store. It owns the conflict/validation error mapping; the store
// only reports sentinel errors.
type Manager struct {
	store   Store
	rubrics RubricSource
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithRubricSource wires the rubric collaborator checked at publish.
func WithRubricSource(rs RubricSource) ManagerOption {
	return func(m *Manager) { m.rubrics = rs }
}

// WithClock overrides the clock for testing.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a Manager over store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		logger: slog.Default().With("component", "policyver"),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateDraft opens the template's single draft. Rules are seeded from
// baseVersionID when given (the rollback path), else from the current
// published version, else empty. A second concurrent creation fails
// with a conflict rather than clobbering the first draft's edits.
func (m *Manager) CreateDraft(ctx context.Context, templateID, baseVersionID, createdBy string) (*Version, error) {
	seed := RuleSet{}
	switch {
	case baseVersionID != "":
		base, err := m.store.GetVersion(ctx, baseVersionID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, everr.NewConfiguration(everr.CodeVersionNotFound,
					fmt.Sprintf("base version %s not found", baseVersionID))
			}
			return nil, err
		}
		if base.TemplateID != templateID {
			return nil, everr.NewConfiguration(everr.CodeVersionNotFound,
				fmt.Sprintf("version %s belongs to template %s, not %s", baseVersionID, base.TemplateID, templateID))
		}
		if base.State == StateDraft {
			return nil, everr.NewConfiguration(everr.CodeVersionNotFound,
				fmt.Sprintf("version %s is a draft and cannot seed another draft", baseVersionID))
		}
		seed = base.Rules.Clone()
	default:
		current, err := m.store.CurrentPublished(ctx, templateID)
		if err == nil {
			seed = current.Rules.Clone()
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	draft := &Version{
		ID:         m.newID(),
		TemplateID: templateID,
		State:      StateDraft,
		Rules:      seed,
		CreatedAt:  m.now().UTC(),
		CreatedBy:  createdBy,
	}
	if err := m.store.InsertDraft(ctx, draft); err != nil {
		if errors.Is(err, ErrDraftExists) {
			return nil, everr.NewConflict(everr.CodeDraftConflict, templateID,
				"template already has an open draft")
		}
		return nil, err
	}
	m.logger.InfoContext(ctx, "draft created",
		"template_id", templateID, "draft_id", draft.ID, "base_version_id", baseVersionID)
	return draft, nil
}

// UpdateDraftRules replaces the open draft's rule set. Published
// history is never touched through this path.
func (m *Manager) UpdateDraftRules(ctx context.Context, draftID string, rules RuleSet) error {
	err := m.store.UpdateDraftRules(ctx, draftID, rules)
	switch {
	case errors.Is(err, ErrNotFound):
		return everr.NewConfiguration(everr.CodeVersionNotFound, fmt.Sprintf("draft %s not found", draftID))
	case errors.Is(err, ErrNotDraft):
		return everr.NewConflict(everr.CodePublishConflict, draftID, "version is no longer a draft")
	}
	return err
}

// Publish atomically promotes the draft to the template's published
// version. The template's active rubric must satisfy the weight-sum
// invariant first; a concurrent publish of the same draft leaves
// exactly one winner.
func (m *Manager) Publish(ctx context.Context, draftID, reason string) (*Version, error) {
	draft, err := m.store.GetVersion(ctx, draftID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, everr.NewConfiguration(everr.CodeVersionNotFound, fmt.Sprintf("draft %s not found", draftID))
		}
		return nil, err
	}

	if m.rubrics != nil {
		tmpl, err := m.rubrics.ActiveRubric(ctx, draft.TemplateID)
		if err != nil {
			return nil, fmt.Errorf("fetch active rubric: %w", err)
		}
		if tmpl != nil {
			if err := tmpl.Validate(nil); err != nil {
				return nil, err
			}
		}
	}

	published, err := m.store.PublishDraft(ctx, draftID, reason, m.now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, ErrPublishRace):
			return nil, everr.NewConflict(everr.CodePublishConflict, draft.TemplateID,
				"a concurrent publish won; re-fetch and retry")
		case errors.Is(err, ErrNotFound):
			return nil, everr.NewConfiguration(everr.CodeVersionNotFound, fmt.Sprintf("draft %s not found", draftID))
		}
		return nil, err
	}
	m.logger.InfoContext(ctx, "version published",
		"template_id", published.TemplateID,
		"version_id", published.ID,
		"version", published.VersionNumber,
		"rules_hash", published.RulesHash,
		"reason", reason,
	)
	return published, nil
}

// Rollback opens a new draft seeded from a prior version's content.
// It never publishes and never mutates history: the operator reviews
// the draft and calls Publish to make it live.
func (m *Manager) Rollback(ctx context.Context, templateID, targetVersionID, reason string) (*Version, error) {
	draft, err := m.CreateDraft(ctx, templateID, targetVersionID, "")
	if err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "rollback draft created",
		"template_id", templateID, "target_version_id", targetVersionID, "draft_id", draft.ID, "reason", reason)
	return draft, nil
}

// CurrentPublished returns the template's live version, or a
// ConfigurationError when none exists: evaluation has nothing to run
// against and the call must be flagged rather than scored.
func (m *Manager) CurrentPublished(ctx context.Context, templateID string) (*Version, error) {
	v, err := m.store.CurrentPublished(ctx, templateID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, everr.NewConfiguration(everr.CodeNoPublishedVersion,
				fmt.Sprintf("template %s has no published version", templateID))
		}
		return nil, err
	}
	return v, nil
}

// VerifyHash recomputes the content hash over a stored version's rule
// set and compares it to the persisted value, the drift/tamper check
// for published history.
func (m *Manager) VerifyHash(ctx context.Context, versionID string) (bool, error) {
	v, err := m.store.GetVersion(ctx, versionID)
	if err != nil {
		return false, err
	}
	recomputed, err := v.Rules.Hash()
	if err != nil {
		return false, err
	}
	return recomputed == v.RulesHash, nil
}
