package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/emergent/loom/internal/canonical"
	"github.com/emergent/loom/internal/diff"
	"github.com/emergent/loom/internal/events"
	"github.com/emergent/loom/internal/store"
)

// WriteRequest describes a new object. Key must be unique among live
// objects of the same type visible on the branch.
type WriteRequest struct {
	OrgID      string
	ProjectID  string
	BranchID   string
	Type       string
	Key        string
	Properties map[string]any
	Labels     map[string]string
}

// PatchRequest describes an update to an existing object. Delta follows
// merge-patch semantics: values replace, nulls delete, nested maps merge
// recursively. ObjectID must name the version the caller read; a moved
// head is a conflict.
type PatchRequest struct {
	BranchID string
	ObjectID string
	Delta    map[string]any
	Labels   map[string]string

	// ReplaceLabels swaps the whole label set instead of overlaying.
	ReplaceLabels bool
}

// Write creates version 1 of a new object on the branch. The version id
// doubles as the object's canonical id for the rest of its life.
func (s *Service) Write(ctx context.Context, req WriteRequest) (store.ObjectVersion, error) {
	if req.BranchID == "" || strings.TrimSpace(req.Type) == "" || strings.TrimSpace(req.Key) == "" {
		return store.ObjectVersion{}, store.NewValidation("branch, type and key are required", nil)
	}
	if _, err := s.checkBranch(ctx, req.BranchID, req.OrgID, req.ProjectID); err != nil {
		return store.ObjectVersion{}, err
	}

	release, err := s.locks.Acquire(ctx, upsertLockName(req.BranchID, req.Type, req.Key))
	if err != nil {
		return store.ObjectVersion{}, err
	}
	defer release()

	existing, err := s.lineage.ResolveByKey(ctx, req.BranchID, req.Type, req.Key)
	if err != nil {
		return store.ObjectVersion{}, err
	}
	if existing != nil {
		return store.ObjectVersion{}, store.NewConflict("object key already in use", map[string]string{
			"type":        req.Type,
			"key":         req.Key,
			"existing_id": existing.ID,
		})
	}

	props := req.Properties
	if props == nil {
		props = map[string]any{}
	}
	if err := s.validateProperties(req.Type, props); err != nil {
		return store.ObjectVersion{}, err
	}

	stored, overflows, err := diff.Truncate(props, s.valueLimit)
	if err != nil {
		return store.ObjectVersion{}, err
	}
	summary, err := diff.Trees(nil, stored)
	if err != nil {
		return store.ObjectVersion{}, err
	}
	hash, err := canonical.ObjectHash(stored)
	if err != nil {
		return store.ObjectVersion{}, err
	}

	id := s.ids.NewID()
	now := s.clock().UTC()
	v := store.ObjectVersion{
		ID:            id,
		CanonicalID:   id,
		BranchID:      req.BranchID,
		Type:          req.Type,
		Key:           req.Key,
		Properties:    stored,
		Labels:        req.Labels,
		ContentHash:   hash,
		ChangeSummary: summary,
		CreatedAt:     now,
		CreatedBy:     s.actor,
	}

	created, err := s.store.AppendVersion(ctx, v, nil, overflows)
	if err != nil {
		return store.ObjectVersion{}, err
	}

	slog.Info("object created",
		"object_id", created.ID,
		"branch_id", created.BranchID,
		"type", created.Type,
		"key", created.Key,
	)
	s.emit(events.Event{
		Type:        events.ObjectWritten,
		BranchID:    created.BranchID,
		ObjectID:    created.ID,
		CanonicalID: created.CanonicalID,
		ObjectType:  created.Type,
		Paths:       created.ChangeSummary.Paths(),
		At:          created.CreatedAt,
	})
	return created, nil
}

// Patch appends a new version carrying the merged properties. When the
// visible head lives on an ancestor branch the new version is written to
// the requesting branch, leaving the ancestor untouched.
func (s *Service) Patch(ctx context.Context, req PatchRequest) (store.ObjectVersion, error) {
	if req.BranchID == "" || req.ObjectID == "" {
		return store.ObjectVersion{}, store.NewValidation("branch and object id are required", nil)
	}
	if _, err := s.store.GetBranch(ctx, req.BranchID); err != nil {
		return store.ObjectVersion{}, err
	}
	referenced, err := s.store.GetVersion(ctx, req.ObjectID)
	if err != nil {
		return store.ObjectVersion{}, err
	}

	release, err := s.locks.Acquire(ctx, objectLockName(referenced.CanonicalID))
	if err != nil {
		return store.ObjectVersion{}, err
	}
	defer release()

	// Re-resolve under the lock; another writer may have advanced the head.
	head, err := s.lineage.Resolve(ctx, req.BranchID, referenced.CanonicalID)
	if err != nil {
		return store.ObjectVersion{}, err
	}
	if head == nil {
		return store.ObjectVersion{}, store.NewNotFound("object", req.ObjectID)
	}
	if head.ID != req.ObjectID {
		return store.ObjectVersion{}, store.NewConflict("object head moved since read", map[string]string{
			"expected": req.ObjectID,
			"actual":   head.ID,
		})
	}

	merged, err := mergePatch(head.Properties, req.Delta)
	if err != nil {
		return store.ObjectVersion{}, store.NewValidation("delta could not be applied", map[string]string{
			"error": err.Error(),
		})
	}
	effective, err := s.rehydrate(ctx, merged)
	if err != nil {
		return store.ObjectVersion{}, err
	}
	if err := s.validateProperties(head.Type, effective); err != nil {
		return store.ObjectVersion{}, err
	}

	stored, overflows, err := diff.Truncate(effective, s.valueLimit)
	if err != nil {
		return store.ObjectVersion{}, err
	}
	summary, err := diff.Trees(head.Properties, stored)
	if err != nil {
		return store.ObjectVersion{}, err
	}
	labels, labelsChanged := mergeLabels(head.Labels, req.Labels, req.ReplaceLabels)
	if summary.Empty() && !labelsChanged {
		slog.Debug("patch is a no-op", "object_id", head.ID, "branch_id", req.BranchID)
		return *head, nil
	}

	hash, err := canonical.ObjectHash(stored)
	if err != nil {
		return store.ObjectVersion{}, err
	}

	now := s.clock().UTC()
	predecessor := head.ID
	v := store.ObjectVersion{
		ID:            s.ids.NewID(),
		CanonicalID:   head.CanonicalID,
		BranchID:      req.BranchID,
		Type:          head.Type,
		Key:           head.Key,
		Properties:    stored,
		Labels:        labels,
		ContentHash:   hash,
		ChangeSummary: summary,
		PredecessorID: &predecessor,
		CreatedAt:     now,
		CreatedBy:     s.actor,
	}

	created, err := s.store.AppendVersion(ctx, v, localHeadID(head, req.BranchID), overflows)
	if err != nil {
		return store.ObjectVersion{}, err
	}

	slog.Info("object patched",
		"object_id", created.ID,
		"canonical_id", created.CanonicalID,
		"branch_id", created.BranchID,
		"version", created.Version,
		"paths", len(created.ChangeSummary.Paths()),
	)
	s.emit(events.Event{
		Type:        events.ObjectWritten,
		BranchID:    created.BranchID,
		ObjectID:    created.ID,
		CanonicalID: created.CanonicalID,
		ObjectType:  created.Type,
		Paths:       created.ChangeSummary.Paths(),
		At:          created.CreatedAt,
	})
	return created, nil
}

// SoftDelete appends a tombstone version. Properties are retained on the
// tombstone row for restore, but the content hash and change summary treat
// the deleted object as an empty tree.
func (s *Service) SoftDelete(ctx context.Context, branchID, objectID string) (store.ObjectVersion, error) {
	head, release, err := s.lockVisibleHead(ctx, branchID, objectID)
	if err != nil {
		return store.ObjectVersion{}, err
	}
	defer release()

	if head.Deleted() {
		return store.ObjectVersion{}, store.NewValidation("object already deleted", map[string]string{
			"object_id": objectID,
		})
	}

	summary, err := diff.Trees(head.Properties, nil)
	if err != nil {
		return store.ObjectVersion{}, err
	}
	hash, err := canonical.ObjectHash(nil)
	if err != nil {
		return store.ObjectVersion{}, err
	}

	now := s.clock().UTC()
	predecessor := head.ID
	v := store.ObjectVersion{
		ID:            s.ids.NewID(),
		CanonicalID:   head.CanonicalID,
		BranchID:      branchID,
		Type:          head.Type,
		Key:           head.Key,
		Properties:    head.Properties,
		Labels:        head.Labels,
		ContentHash:   hash,
		ChangeSummary: summary,
		PredecessorID: &predecessor,
		DeletedAt:     &now,
		CreatedAt:     now,
		CreatedBy:     s.actor,
	}

	created, err := s.store.AppendVersion(ctx, v, localHeadID(head, branchID), nil)
	if err != nil {
		return store.ObjectVersion{}, err
	}

	slog.Info("object deleted",
		"object_id", created.ID,
		"canonical_id", created.CanonicalID,
		"branch_id", branchID,
	)
	s.emit(events.Event{
		Type:        events.ObjectDeleted,
		BranchID:    created.BranchID,
		ObjectID:    created.ID,
		CanonicalID: created.CanonicalID,
		ObjectType:  created.Type,
		Paths:       created.ChangeSummary.Paths(),
		At:          created.CreatedAt,
	})
	return created, nil
}

// Restore appends a live version from a tombstone, bringing back the
// retained properties. objectID must name the tombstone itself.
func (s *Service) Restore(ctx context.Context, branchID, objectID string) (store.ObjectVersion, error) {
	head, release, err := s.lockVisibleHead(ctx, branchID, objectID)
	if err != nil {
		return store.ObjectVersion{}, err
	}
	defer release()

	if !head.Deleted() {
		return store.ObjectVersion{}, store.NewValidation("object is not deleted", map[string]string{
			"object_id": objectID,
		})
	}

	summary, err := diff.Trees(nil, head.Properties)
	if err != nil {
		return store.ObjectVersion{}, err
	}
	hash, err := canonical.ObjectHash(head.Properties)
	if err != nil {
		return store.ObjectVersion{}, err
	}

	now := s.clock().UTC()
	predecessor := head.ID
	v := store.ObjectVersion{
		ID:            s.ids.NewID(),
		CanonicalID:   head.CanonicalID,
		BranchID:      branchID,
		Type:          head.Type,
		Key:           head.Key,
		Properties:    head.Properties,
		Labels:        head.Labels,
		ContentHash:   hash,
		ChangeSummary: summary,
		PredecessorID: &predecessor,
		CreatedAt:     now,
		CreatedBy:     s.actor,
	}

	created, err := s.store.AppendVersion(ctx, v, localHeadID(head, branchID), nil)
	if err != nil {
		return store.ObjectVersion{}, err
	}

	slog.Info("object restored",
		"object_id", created.ID,
		"canonical_id", created.CanonicalID,
		"branch_id", branchID,
	)
	s.emit(events.Event{
		Type:        events.ObjectRestored,
		BranchID:    created.BranchID,
		ObjectID:    created.ID,
		CanonicalID: created.CanonicalID,
		ObjectType:  created.Type,
		Paths:       created.ChangeSummary.Paths(),
		At:          created.CreatedAt,
	})
	return created, nil
}

// lockVisibleHead validates the branch and object, takes the canonical
// lock, and returns the branch-visible head (tombstones included). The
// head must still be the version the caller named.
func (s *Service) lockVisibleHead(ctx context.Context, branchID, objectID string) (*store.ObjectVersion, func(), error) {
	if branchID == "" || objectID == "" {
		return nil, nil, store.NewValidation("branch and object id are required", nil)
	}
	if _, err := s.store.GetBranch(ctx, branchID); err != nil {
		return nil, nil, err
	}
	referenced, err := s.store.GetVersion(ctx, objectID)
	if err != nil {
		return nil, nil, err
	}

	release, err := s.locks.Acquire(ctx, objectLockName(referenced.CanonicalID))
	if err != nil {
		return nil, nil, err
	}

	head, err := s.lineage.Head(ctx, branchID, referenced.CanonicalID)
	if err != nil {
		release()
		return nil, nil, err
	}
	if head == nil {
		release()
		return nil, nil, store.NewNotFound("object", objectID)
	}
	if head.ID != objectID {
		release()
		return nil, nil, store.NewConflict("object head moved since read", map[string]string{
			"expected": objectID,
			"actual":   head.ID,
		})
	}
	return head, release, nil
}

// localHeadID returns the optimistic-concurrency check for AppendVersion:
// the head's id when it already lives on the writing branch, nil when it
// is inherited from an ancestor and the branch has no row yet.
func localHeadID(head *store.ObjectVersion, branchID string) *string {
	if head.BranchID != branchID {
		return nil
	}
	id := head.ID
	return &id
}

// mergePatch applies an RFC 7386 merge patch expressed as a map. Nulls
// delete keys, nested maps merge, everything else replaces.
func mergePatch(current, delta map[string]any) (map[string]any, error) {
	if len(delta) == 0 {
		return diff.CopyTree(current), nil
	}
	docBytes, err := canonical.MarshalCanonical(current)
	if err != nil {
		return nil, err
	}
	patchBytes, err := canonical.MarshalCanonical(delta)
	if err != nil {
		return nil, err
	}
	mergedBytes, err := jsonpatch.MergePatch(docBytes, patchBytes)
	if err != nil {
		return nil, fmt.Errorf("merge patch: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(mergedBytes))
	dec.UseNumber()
	var merged map[string]any
	if err := dec.Decode(&merged); err != nil {
		return nil, fmt.Errorf("decode merged properties: %w", err)
	}
	return merged, nil
}

// mergeLabels combines the head's labels with the requested ones. A nil
// request leaves labels untouched unless replace is set, which swaps the
// whole set (nil clears it).
func mergeLabels(current, requested map[string]string, replace bool) (map[string]string, bool) {
	if replace {
		return requested, !maps.Equal(current, requested)
	}
	if requested == nil {
		return current, false
	}
	out := make(map[string]string, len(current)+len(requested))
	maps.Copy(out, current)
	maps.Copy(out, requested)
	return out, !maps.Equal(out, current)
}

// rehydrate swaps overflow digest nodes back for their stored values so
// schema validation sees what the caller originally wrote. Returns the
// input unchanged when no digest nodes are present.
func (s *Service) rehydrate(ctx context.Context, tree map[string]any) (map[string]any, error) {
	if s.registry == nil {
		return tree, nil
	}
	out, changed, err := s.rehydrateMap(ctx, tree)
	if err != nil {
		return nil, err
	}
	if !changed {
		return tree, nil
	}
	return out, nil
}

func (s *Service) rehydrateMap(ctx context.Context, tree map[string]any) (map[string]any, bool, error) {
	out := tree
	changed := false
	set := func(k string, v any) {
		if !changed {
			out = make(map[string]any, len(tree))
			maps.Copy(out, tree)
			changed = true
		}
		out[k] = v
	}
	for k, v := range tree {
		// Digest nodes are single-key maps; check before descending.
		if digest, ok := diff.IsOverflowNode(v); ok {
			data, err := s.store.GetOverflow(ctx, digest)
			if err != nil {
				return nil, false, err
			}
			set(k, string(data))
			continue
		}
		switch t := v.(type) {
		case map[string]any:
			sub, subChanged, err := s.rehydrateMap(ctx, t)
			if err != nil {
				return nil, false, err
			}
			if subChanged {
				set(k, sub)
			}
		case []any:
			sub, subChanged, err := s.rehydrateSlice(ctx, t)
			if err != nil {
				return nil, false, err
			}
			if subChanged {
				set(k, sub)
			}
		}
	}
	return out, changed, nil
}

func (s *Service) rehydrateSlice(ctx context.Context, arr []any) ([]any, bool, error) {
	out := arr
	changed := false
	set := func(i int, v any) {
		if !changed {
			out = make([]any, len(arr))
			copy(out, arr)
			changed = true
		}
		out[i] = v
	}
	for i, v := range arr {
		if digest, ok := diff.IsOverflowNode(v); ok {
			data, err := s.store.GetOverflow(ctx, digest)
			if err != nil {
				return nil, false, err
			}
			set(i, string(data))
			continue
		}
		switch t := v.(type) {
		case map[string]any:
			sub, subChanged, err := s.rehydrateMap(ctx, t)
			if err != nil {
				return nil, false, err
			}
			if subChanged {
				set(i, sub)
			}
		case []any:
			sub, subChanged, err := s.rehydrateSlice(ctx, t)
			if err != nil {
				return nil, false, err
			}
			if subChanged {
				set(i, sub)
			}
		}
	}
	return out, changed, nil
}
