package graph

import (
	"cmp"
	"context"
	"slices"

	"github.com/emergent/loom/internal/store"
)

// Get returns a single version row by id.
func (s *Service) Get(ctx context.Context, versionID string) (store.ObjectVersion, error) {
	return s.store.GetVersion(ctx, versionID)
}

// Resolve returns the live head visible from the branch, or nil when the
// object is absent or deleted there.
func (s *Service) Resolve(ctx context.Context, branchID, canonicalID string) (*store.ObjectVersion, error) {
	return s.lineage.Resolve(ctx, branchID, canonicalID)
}

// ResolveKey returns the live head for a type/key pair visible from the
// branch, or nil.
func (s *Service) ResolveKey(ctx context.Context, branchID, objectType, objectKey string) (*store.ObjectVersion, error) {
	return s.lineage.ResolveByKey(ctx, branchID, objectType, objectKey)
}

// History returns every version of an object newest-first, across all
// branches. The id may be the canonical id or any version id of the chain.
func (s *Service) History(ctx context.Context, id string) ([]store.ObjectVersion, error) {
	canonicalID := id
	rows, err := s.store.ListVersions(ctx, store.VersionFilter{CanonicalID: canonicalID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		v, err := s.store.GetVersion(ctx, id)
		if err != nil {
			return nil, err
		}
		canonicalID = v.CanonicalID
		rows, err = s.store.ListVersions(ctx, store.VersionFilter{CanonicalID: canonicalID})
		if err != nil {
			return nil, err
		}
	}
	slices.Reverse(rows)
	return rows, nil
}

// HeadFilter narrows Heads results. Zero values match everything; Labels
// requires every listed pair to be present.
type HeadFilter struct {
	Type   string
	Key    string
	Labels map[string]string
}

func (f HeadFilter) match(v store.ObjectVersion) bool {
	if f.Type != "" && v.Type != f.Type {
		return false
	}
	if f.Key != "" && v.Key != f.Key {
		return false
	}
	for k, want := range f.Labels {
		if got, ok := v.Labels[k]; !ok || got != want {
			return false
		}
	}
	return true
}

// Heads lists the live objects visible from the branch, ordered by type,
// key, then canonical id.
func (s *Service) Heads(ctx context.Context, branchID string, f HeadFilter) ([]store.ObjectVersion, error) {
	visible, err := s.lineage.VisibleHeads(ctx, branchID)
	if err != nil {
		return nil, err
	}

	out := make([]store.ObjectVersion, 0, len(visible))
	for _, v := range visible {
		if f.match(v) {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b store.ObjectVersion) int {
		if c := cmp.Compare(a.Type, b.Type); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		return cmp.Compare(a.CanonicalID, b.CanonicalID)
	})
	return out, nil
}

// Provenance returns merge edges for a version. Direction "contributors"
// lists the parents recorded when the version was produced by a merge;
// "contributions" lists versions this one fed into.
func (s *Service) Provenance(ctx context.Context, versionID, direction string) ([]store.MergeParent, error) {
	if _, err := s.store.GetVersion(ctx, versionID); err != nil {
		return nil, err
	}
	switch direction {
	case "", "contributors":
		return s.store.MergeParents(ctx, versionID)
	case "contributions":
		return s.store.MergeChildren(ctx, versionID)
	default:
		return nil, store.NewValidation("direction must be contributors or contributions", map[string]string{
			"direction": direction,
		})
	}
}
