package policyver

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used by tests and embedded
// deployments. All operations run under one mutex, which makes the
// publish swap trivially atomic.
type MemoryStore struct {
	mu       sync.Mutex
	versions map[string]*Version // id → version
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: make(map[string]*Version)}
}

func (s *MemoryStore) GetVersion(_ context.Context, id string) (*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return v.Clone(), nil
}

func (s *MemoryStore) CurrentPublished(_ context.Context, templateID string) (*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v := s.findLocked(templateID, StatePublished); v != nil {
		return v.Clone(), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) OpenDraft(_ context.Context, templateID string) (*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v := s.findLocked(templateID, StateDraft); v != nil {
		return v.Clone(), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) InsertDraft(_ context.Context, v *Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findLocked(v.TemplateID, StateDraft) != nil {
		return ErrDraftExists
	}
	draft := v.Clone()
	draft.State = StateDraft
	s.versions[draft.ID] = draft
	return nil
}

func (s *MemoryStore) UpdateDraftRules(_ context.Context, draftID string, rules RuleSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[draftID]
	if !ok {
		return ErrNotFound
	}
	if v.State != StateDraft {
		return ErrNotDraft
	}
	v.Rules = rules.Clone()
	return nil
}

func (s *MemoryStore) PublishDraft(_ context.Context, draftID, reason string, at time.Time) (*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, ok := s.versions[draftID]
	if !ok {
		return nil, ErrNotFound
	}
	if draft.State != StateDraft {
		// A concurrent publish already promoted this draft.
		return nil, ErrPublishRace
	}

	hash, err := draft.Rules.Hash()
	if err != nil {
		return nil, err
	}

	next := 0
	for _, v := range s.versions {
		if v.TemplateID == draft.TemplateID && v.State != StateDraft && v.VersionNumber > next {
			next = v.VersionNumber
		}
	}

	if prev := s.findLocked(draft.TemplateID, StatePublished); prev != nil {
		prev.State = StateSuperseded
	}

	draft.State = StatePublished
	draft.VersionNumber = next + 1
	draft.RulesHash = hash
	draft.Reason = reason
	draft.PublishedAt = &at
	return draft.Clone(), nil
}

func (s *MemoryStore) ListVersions(_ context.Context, templateID string) ([]*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Version
	for _, v := range s.versions {
		if v.TemplateID == templateID {
			out = append(out, v.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VersionNumber != out[j].VersionNumber {
			return out[i].VersionNumber > out[j].VersionNumber
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) findLocked(templateID string, state State) *Version {
	for _, v := range s.versions {
		if v.TemplateID == templateID && v.State == state {
			return v
		}
	}
	return nil
}
