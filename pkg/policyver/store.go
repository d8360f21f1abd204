package policyver

import (
	"context"
	"errors"
	"time"
)

// Store sentinel errors. The manager maps these onto the caller-facing
// conflict/not-found taxonomy.
var (
	// ErrNotFound means no version with that id (or no version in the
	// requested state) exists.
	ErrNotFound = errors.New("policyver: version not found")
	// ErrDraftExists means the template already has an open draft.
	ErrDraftExists = errors.New("policyver: template already has an open draft")
	// ErrPublishRace means the draft was published (or discarded) by a
	// concurrent caller between read and commit.
	ErrPublishRace = errors.New("policyver: publish lost the race")
	// ErrNotDraft means a mutation was attempted on a non-draft version.
	ErrNotDraft = errors.New("policyver: version is not a draft")
)

// Store persists policy versions. Implementations must make
// PublishDraft atomic with respect to concurrent publishes on the same
// template and InsertDraft atomic with respect to concurrent draft
// creation: the second caller gets ErrPublishRace / ErrDraftExists,
// never a silently merged state.
type Store interface {
	// GetVersion fetches any version by id.
	GetVersion(ctx context.Context, id string) (*Version, error)
	// CurrentPublished fetches the template's published version.
	CurrentPublished(ctx context.Context, templateID string) (*Version, error)
	// OpenDraft fetches the template's open draft.
	OpenDraft(ctx context.Context, templateID string) (*Version, error)
	// InsertDraft stores a new draft, failing with ErrDraftExists if
	// the template already has one.
	InsertDraft(ctx context.Context, v *Version) error
	// UpdateDraftRules replaces an open draft's rule set.
	UpdateDraftRules(ctx context.Context, draftID string, rules RuleSet) error
	// PublishDraft atomically promotes the draft: assigns the next
	// version number, stamps the content hash, demotes the previously
	// published version to superseded, and returns the published
	// version.
	PublishDraft(ctx context.Context, draftID, reason string, at time.Time) (*Version, error)
	// ListVersions returns all of a template's versions, newest first.
	ListVersions(ctx context.Context, templateID string) ([]*Version, error)
}
