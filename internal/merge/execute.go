package merge

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/emergent/loom/internal/canonical"
	"github.com/emergent/loom/internal/diff"
	"github.com/emergent/loom/internal/events"
	"github.com/emergent/loom/internal/store"
)

// uuidGenerator is the default id source: UUIDv7, matching the graph
// service.
type uuidGenerator struct{}

func (uuidGenerator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// execute writes every added and fast_forward object onto the target
// branch in one transaction, together with provenance edges. Conflicting
// and unchanged objects are skipped; a concurrent write to any touched
// object aborts the whole transaction.
func (e *Engine) execute(ctx context.Context, target, source store.Branch, targetHeads, sourceHeads map[string]store.ObjectVersion, result *Result) error {
	now := e.clock().UTC()

	var inserts []store.MergeInsert
	var parents []store.MergeParent
	inserted := make([]*ObjectSummary, 0, len(result.Objects))

	for i := range result.Objects {
		obj := &result.Objects[i]

		var (
			ins   store.MergeInsert
			edges []store.MergeParent
			err   error
		)
		switch obj.Status {
		case Added:
			ins, edges, err = e.buildAdded(ctx, target.ID, sourceHeads[obj.CanonicalID], now)
		case FastForward:
			baseID := ""
			if obj.BaseVersionID != nil {
				baseID = *obj.BaseVersionID
			}
			ins, edges, err = e.buildFastForward(ctx, target.ID, targetHeads[obj.CanonicalID], sourceHeads[obj.CanonicalID], obj.sourceSince, baseID, now)
		default:
			continue
		}
		if err != nil {
			return err
		}

		inserts = append(inserts, ins)
		parents = append(parents, edges...)
		inserted = append(inserted, obj)
	}

	result.Applied = true
	if len(inserts) == 0 {
		return nil
	}

	written, err := e.store.ApplyMerge(ctx, inserts, parents, nil, now)
	if err != nil {
		return err
	}
	result.AppliedCount = len(written)

	for i, v := range written {
		id := v.ID
		inserted[i].AppliedVersionID = &id
		e.emitApplied(target.ID, source.ID, v, now)
	}
	return nil
}

// buildAdded copies the source head onto the target branch. The new row
// keeps the source's content, hash and labels; its predecessor is the
// source head, so the object's history continues across branches.
func (e *Engine) buildAdded(ctx context.Context, targetBranchID string, sv store.ObjectVersion, now time.Time) (store.MergeInsert, []store.MergeParent, error) {
	expect, err := e.localHead(ctx, targetBranchID, sv.CanonicalID)
	if err != nil {
		return store.MergeInsert{}, nil, err
	}

	newID := e.ids.NewID()
	predecessor := sv.ID
	v := store.ObjectVersion{
		ID:            newID,
		CanonicalID:   sv.CanonicalID,
		BranchID:      targetBranchID,
		Type:          sv.Type,
		Key:           sv.Key,
		Properties:    sv.Properties,
		Labels:        sv.Labels,
		ContentHash:   sv.ContentHash,
		ChangeSummary: diff.Summary{},
		PredecessorID: &predecessor,
		CreatedAt:     now,
		CreatedBy:     e.actor,
	}

	edges := []store.MergeParent{
		{VersionID: newID, ParentVersionID: sv.ID, Role: store.RoleSource, MergedAt: now},
	}
	return store.MergeInsert{Version: v, ExpectHeadID: expect}, edges, nil
}

// buildFastForward applies the source's changed paths over the target
// head. The stored change summary is recomputed against the target head
// so the version chain stays verifiable; labels stay the target's.
func (e *Engine) buildFastForward(ctx context.Context, targetBranchID string, tv, sv store.ObjectVersion, sourceSince diff.Summary, baseID string, now time.Time) (store.MergeInsert, []store.MergeParent, error) {
	expect, err := e.localHead(ctx, targetBranchID, tv.CanonicalID)
	if err != nil {
		return store.MergeInsert{}, nil, err
	}

	merged, err := diff.Apply(tv.Properties, sv.Properties, sourceSince)
	if err != nil {
		return store.MergeInsert{}, nil, err
	}
	summary, err := diff.Trees(tv.Properties, merged)
	if err != nil {
		return store.MergeInsert{}, nil, err
	}
	hash, err := canonical.ObjectHash(merged)
	if err != nil {
		return store.MergeInsert{}, nil, err
	}

	newID := e.ids.NewID()
	predecessor := tv.ID
	v := store.ObjectVersion{
		ID:            newID,
		CanonicalID:   tv.CanonicalID,
		BranchID:      targetBranchID,
		Type:          tv.Type,
		Key:           tv.Key,
		Properties:    merged,
		Labels:        tv.Labels,
		ContentHash:   hash,
		ChangeSummary: summary,
		PredecessorID: &predecessor,
		CreatedAt:     now,
		CreatedBy:     e.actor,
	}

	edges := provenanceEdges(newID, tv.ID, sv.ID, baseID, now)
	return store.MergeInsert{Version: v, ExpectHeadID: expect}, edges, nil
}

// localHead returns the optimistic-concurrency expectation for a merge
// write: the target branch's own row for the canonical object (live or
// tombstone), nil when the branch has none and the visible head is
// inherited.
func (e *Engine) localHead(ctx context.Context, branchID, canonicalID string) (*string, error) {
	local, err := e.store.HeadVersion(ctx, branchID, canonicalID)
	if err != nil {
		return nil, err
	}
	if local == nil {
		return nil, nil
	}
	id := local.ID
	return &id, nil
}

// provenanceEdges orders a fast-forward's parents target, source, then
// base, dropping duplicate parent versions. The base is often the target
// head itself (the target did not change since the branch point), which
// collapses the edges to two.
func provenanceEdges(versionID, targetHeadID, sourceHeadID, baseID string, now time.Time) []store.MergeParent {
	var edges []store.MergeParent
	seen := make(map[string]bool, 3)
	add := func(parentID string, role store.ProvenanceRole) {
		if parentID == "" || seen[parentID] {
			return
		}
		seen[parentID] = true
		edges = append(edges, store.MergeParent{
			VersionID:       versionID,
			ParentVersionID: parentID,
			Role:            role,
			MergedAt:        now,
		})
	}
	add(targetHeadID, store.RoleTarget)
	add(sourceHeadID, store.RoleSource)
	add(baseID, store.RoleBase)
	return edges
}

func (e *Engine) emitApplied(targetBranchID, sourceBranchID string, v store.ObjectVersion, now time.Time) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(events.Event{
		Type:           events.MergeExecuted,
		BranchID:       targetBranchID,
		SourceBranchID: sourceBranchID,
		ObjectID:       v.ID,
		CanonicalID:    v.CanonicalID,
		ObjectType:     v.Type,
		Paths:          v.ChangeSummary.Paths(),
		At:             now,
	})
}
