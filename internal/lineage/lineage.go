package lineage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/ristretto"

	"github.com/emergent/loom/internal/store"
)

// Cache sizing. Closure entries are a few dozen bytes each; even large
// projects hold thousands of branches, not millions.
const (
	cacheNumCounters = 1e5
	cacheMaxCost     = 1 << 22 // 4MB
	cacheBufferItems = 64
)

// Service answers branch ancestry questions: closures, common ancestors,
// and object visibility along the parent chain.
//
// Thread-safety: all methods are safe for concurrent use. The only write,
// CreateBranch, goes through the store's transaction; the cache holds
// immutable closures keyed by branch id.
type Service struct {
	store *store.Store
	cache *ristretto.Cache
}

// New creates a lineage service over the given store.
func New(st *store.Store) (*Service, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheNumCounters,
		MaxCost:     cacheMaxCost,
		BufferItems: cacheBufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("lineage cache: %w", err)
	}
	return &Service{store: st, cache: cache}, nil
}

// Close releases the closure cache.
func (s *Service) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

// CreateBranch validates and creates a branch together with its ancestor
// closure. The caller supplies identity and timestamps; the store enforces
// name uniqueness within the project and parent existence.
func (s *Service) CreateBranch(ctx context.Context, b store.Branch) (store.Branch, error) {
	if strings.TrimSpace(b.Name) == "" {
		return store.Branch{}, store.NewValidation("branch name is required", nil)
	}
	if b.OrgID == "" || b.ProjectID == "" {
		return store.Branch{}, store.NewValidation("org and project are required", map[string]string{
			"name": b.Name,
		})
	}
	if b.ParentBranchID != nil && *b.ParentBranchID == b.ID {
		return store.Branch{}, store.NewValidation("branch cannot be its own parent", map[string]string{
			"branch_id": b.ID,
		})
	}

	if err := s.store.CreateBranch(ctx, b); err != nil {
		return store.Branch{}, err
	}

	slog.Info("branch created",
		"branch_id", b.ID,
		"name", b.Name,
		"parent", parentOrNone(b.ParentBranchID),
	)
	return b, nil
}

// Ancestors returns the branch's closure ordered nearest-first: itself at
// depth 0, then each ancestor up to the root. Results are cached; closures
// never change after creation.
func (s *Service) Ancestors(ctx context.Context, branchID string) ([]store.LineageEntry, error) {
	if cached, ok := s.cache.Get(branchID); ok {
		return cached.([]store.LineageEntry), nil
	}

	entries, err := s.store.Ancestors(ctx, branchID)
	if err != nil {
		return nil, err
	}

	entries, err = s.repairIfIncomplete(ctx, branchID, entries)
	if err != nil {
		return nil, err
	}

	s.cache.Set(branchID, entries, int64(len(entries)))
	return entries, nil
}

// repairIfIncomplete walks parent pointers when the stored closure stops
// short of the root. Databases written before closure rows existed have
// only partial lineage; the walk restores the full chain in memory.
func (s *Service) repairIfIncomplete(ctx context.Context, branchID string, entries []store.LineageEntry) ([]store.LineageEntry, error) {
	last := entries[len(entries)-1]
	b, err := s.store.GetBranch(ctx, last.AncestorID)
	if err != nil {
		return nil, err
	}
	if b.ParentBranchID == nil {
		return entries, nil
	}

	slog.Warn("lineage closure incomplete, walking parent chain",
		"branch_id", branchID,
		"last_known", last.AncestorID,
	)

	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		seen[e.AncestorID] = struct{}{}
	}

	depth := last.Depth
	for b.ParentBranchID != nil {
		parent, err := s.store.GetBranch(ctx, *b.ParentBranchID)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[parent.ID]; dup {
			return nil, fmt.Errorf("lineage cycle at branch %s", parent.ID)
		}
		seen[parent.ID] = struct{}{}
		depth++
		entries = append(entries, store.LineageEntry{
			BranchID:   branchID,
			AncestorID: parent.ID,
			Depth:      depth,
		})
		b = parent
	}
	return entries, nil
}

// AncestorSet returns the closure as a map from ancestor id to depth,
// including the branch itself at depth 0.
func (s *Service) AncestorSet(ctx context.Context, branchID string) (map[string]int, error) {
	entries, err := s.Ancestors(ctx, branchID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]int, len(entries))
	for _, e := range entries {
		set[e.AncestorID] = e.Depth
	}
	return set, nil
}

// IsAncestor reports whether ancestorID appears in branchID's closure.
// A branch is an ancestor of itself.
func (s *Service) IsAncestor(ctx context.Context, ancestorID, branchID string) (bool, error) {
	set, err := s.AncestorSet(ctx, branchID)
	if err != nil {
		return false, err
	}
	_, ok := set[ancestorID]
	return ok, nil
}

// NearestCommonAncestor returns the closest branch shared by both
// closures, preferring the one nearest to target. With single-parent
// lineage the common ancestors form a chain, so nearest-to-target is also
// the deepest; ties cannot occur there, but the id tie-break keeps the
// answer deterministic regardless.
//
// Returns ok=false when the branches share no history at all.
func (s *Service) NearestCommonAncestor(ctx context.Context, targetID, sourceID string) (string, bool, error) {
	targetSet, err := s.AncestorSet(ctx, targetID)
	if err != nil {
		return "", false, err
	}
	sourceSet, err := s.AncestorSet(ctx, sourceID)
	if err != nil {
		return "", false, err
	}

	best := ""
	bestDepth := -1
	for id, depth := range targetSet {
		if _, shared := sourceSet[id]; !shared {
			continue
		}
		if best == "" || depth < bestDepth || (depth == bestDepth && id < best) {
			best = id
			bestDepth = depth
		}
	}
	if best == "" {
		return "", false, nil
	}
	return best, true, nil
}

func parentOrNone(id *string) string {
	if id == nil {
		return "(root)"
	}
	return *id
}
