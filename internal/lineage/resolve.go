package lineage

import (
	"context"

	"github.com/emergent/loom/internal/store"
)

// Head returns the deciding head of a canonical object on a branch: the
// branch-local head of the nearest ancestor owning any version of it, or
// nil when no ancestor does. The returned row may be a tombstone; callers
// that only want live objects should use Resolve.
func (s *Service) Head(ctx context.Context, branchID, canonicalID string) (*store.ObjectVersion, error) {
	entries, err := s.Ancestors(ctx, branchID)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		head, err := s.store.HeadVersion(ctx, e.AncestorID, canonicalID)
		if err != nil {
			return nil, err
		}
		if head != nil {
			return head, nil
		}
	}
	return nil, nil
}

// Resolve finds the version of a canonical object visible from a branch.
//
// The walk is nearest-first: the first ancestor owning any local version
// of the object decides the outcome. A live head there is the answer; a
// tombstone means the object is deleted from this branch's point of view
// and farther ancestors must not show through.
//
// Absence is not an error. Resolve returns (nil, nil) when no ancestor has
// the object or the nearest owner tombstoned it; errors are reserved for
// unknown branches and storage failures.
func (s *Service) Resolve(ctx context.Context, branchID, canonicalID string) (*store.ObjectVersion, error) {
	head, err := s.Head(ctx, branchID, canonicalID)
	if err != nil || head == nil {
		return nil, err
	}
	if head.Deleted() {
		return nil, nil
	}
	return head, nil
}

// ResolveByKey finds the visible version holding a (type, key) pair, with
// the same nearest-first shadowing rules as Resolve. The nearest branch
// that ever assigned the key decides, so a key freed by a tombstone on a
// child is free even while the parent still uses it.
func (s *Service) ResolveByKey(ctx context.Context, branchID, objectType, objectKey string) (*store.ObjectVersion, error) {
	entries, err := s.Ancestors(ctx, branchID)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		head, err := s.store.HeadByTypeAndKey(ctx, e.AncestorID, objectType, objectKey)
		if err != nil {
			return nil, err
		}
		if head == nil {
			continue
		}
		if head.Deleted() {
			return nil, nil
		}
		return head, nil
	}
	return nil, nil
}

// VisibleHeads returns every live object visible from a branch, keyed by
// canonical id. Each canonical object is claimed by its nearest owning
// ancestor; a tombstone there claims the object without contributing a
// head, shadowing any farther live version.
func (s *Service) VisibleHeads(ctx context.Context, branchID string) (map[string]store.ObjectVersion, error) {
	entries, err := s.Ancestors(ctx, branchID)
	if err != nil {
		return nil, err
	}

	visible := make(map[string]store.ObjectVersion)
	claimed := make(map[string]struct{})
	for _, e := range entries {
		heads, err := s.store.BranchHeads(ctx, e.AncestorID)
		if err != nil {
			return nil, err
		}
		for _, h := range heads {
			if _, taken := claimed[h.CanonicalID]; taken {
				continue
			}
			claimed[h.CanonicalID] = struct{}{}
			if !h.Deleted() {
				visible[h.CanonicalID] = h
			}
		}
	}
	return visible, nil
}
