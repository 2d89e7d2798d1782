package merge

import (
	"context"

	"github.com/emergent/loom/internal/diff"
	"github.com/emergent/loom/internal/store"
)

// classify decides the merge state of one canonical object given the head
// maps of both branches.
func (e *Engine) classify(ctx context.Context, targetBranchID, canonicalID string, targetHeads, sourceHeads map[string]store.ObjectVersion) (ObjectSummary, error) {
	summary := ObjectSummary{CanonicalID: canonicalID}

	tv, hasTarget := targetHeads[canonicalID]
	sv, hasSource := sourceHeads[canonicalID]

	if hasSource {
		summary.Type, summary.Key = sv.Type, sv.Key
		id := sv.ID
		summary.SourceHeadID = &id
	}
	if hasTarget {
		summary.Type, summary.Key = tv.Type, tv.Key
		id := tv.ID
		summary.TargetHeadID = &id
	}

	// Nothing to bring over: the object exists only on the target, or the
	// source deleted it. Deletions do not propagate through merges.
	if !hasSource {
		summary.Status = Unchanged
		return summary, nil
	}

	if !hasTarget {
		// The object itself is new to the target, but its key may be held
		// by a different live object there.
		holder, err := e.lineage.ResolveByKey(ctx, targetBranchID, sv.Type, sv.Key)
		if err != nil {
			return ObjectSummary{}, err
		}
		if holder != nil && holder.CanonicalID != canonicalID {
			summary.Status = Conflict
			summary.Conflicts = []string{"/"}
			summary.Reason = "key is held by a different object on the target branch"
			return summary, nil
		}
		added, err := diff.Trees(nil, sv.Properties)
		if err != nil {
			return ObjectSummary{}, err
		}
		summary.Status = Added
		summary.SourcePaths = added.Paths()
		return summary, nil
	}

	if tv.ContentHash == sv.ContentHash {
		summary.Status = Unchanged
		return summary, nil
	}

	base, targetSince, sourceSince, err := e.resolveBase(ctx, tv, sv)
	if err != nil {
		return ObjectSummary{}, err
	}
	summary.sourceSince = sourceSince

	if base == nil {
		// Unrelated version histories: nothing to measure changes from,
		// so the object fails safe to conflict.
		summary.Status = Conflict
		summary.Reason = "no shared base version"
		summary.TargetPaths = targetSince.Paths()
		summary.SourcePaths = sourceSince.Paths()
		summary.Conflicts = diff.Overlaps(targetSince, sourceSince)
		return summary, nil
	}

	baseID := base.ID
	summary.BaseVersionID = &baseID

	if sourceSince.Empty() {
		// The source head is an ancestor of the target head; the target
		// already carries everything the source has.
		summary.Status = Unchanged
		return summary, nil
	}

	summary.TargetPaths = targetSince.Paths()
	summary.SourcePaths = sourceSince.Paths()

	if conflicts := diff.Overlaps(targetSince, sourceSince); len(conflicts) > 0 {
		summary.Status = Conflict
		summary.Conflicts = conflicts
		return summary, nil
	}

	summary.Status = FastForward
	return summary, nil
}

// resolveBase walks both predecessor chains to their nearest common
// version and composes the change summaries accumulated on each side
// since it. A nil base means the histories never converge.
func (e *Engine) resolveBase(ctx context.Context, targetHead, sourceHead store.ObjectVersion) (*store.ObjectVersion, diff.Summary, diff.Summary, error) {
	targetChain, err := e.store.ChainVersions(ctx, targetHead.ID, 0)
	if err != nil {
		return nil, diff.Summary{}, diff.Summary{}, err
	}
	sourceChain, err := e.store.ChainVersions(ctx, sourceHead.ID, 0)
	if err != nil {
		return nil, diff.Summary{}, diff.Summary{}, err
	}

	inTarget := make(map[string]struct{}, len(targetChain))
	for _, v := range targetChain {
		inTarget[v.ID] = struct{}{}
	}

	// Chains converge at most once: every version has a single
	// predecessor, so the paths coincide from the first shared version
	// down to the root. The first hit from the source side is the nearest
	// common version.
	var base *store.ObjectVersion
	for i := range sourceChain {
		if _, ok := inTarget[sourceChain[i].ID]; ok {
			base = &sourceChain[i]
			break
		}
	}

	baseID := ""
	if base != nil {
		baseID = base.ID
	}
	return base, composeSince(targetChain, baseID), composeSince(sourceChain, baseID), nil
}

// composeSince folds the per-version change summaries newer than the base
// into one summary. The chain is newest-first; hops are composed
// oldest-first so later changes supersede earlier ones.
func composeSince(chain []store.ObjectVersion, baseID string) diff.Summary {
	var hops []diff.Summary
	for _, v := range chain {
		if v.ID == baseID {
			break
		}
		hops = append(hops, v.ChangeSummary)
	}
	var out diff.Summary
	for i := len(hops) - 1; i >= 0; i-- {
		out = out.Compose(hops[i])
	}
	return out
}
