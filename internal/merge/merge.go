package merge

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/emergent/loom/internal/diff"
	"github.com/emergent/loom/internal/events"
	"github.com/emergent/loom/internal/lineage"
	"github.com/emergent/loom/internal/store"
)

// DefaultObjectLimit bounds how many per-object summaries a merge result
// reports. Classification and execute always cover the whole union of
// visible objects; the limit trims only the detail list, with Truncated
// flagging the cut.
const DefaultObjectLimit = 500

// Classification is the per-object merge outcome.
type Classification string

const (
	Added       Classification = "added"
	FastForward Classification = "fast_forward"
	Conflict    Classification = "conflict"
	Unchanged   Classification = "unchanged"
)

// IDGenerator mints version ids for merge-written rows.
type IDGenerator interface {
	NewID() string
}

// Engine classifies and applies merges between two branches of the same
// project.
type Engine struct {
	store   *store.Store
	lineage *lineage.Service
	bus     *events.Bus
	clock   func() time.Time
	ids     IDGenerator
	actor   string
	limit   int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock used for merged-version timestamps.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) { e.clock = fn }
}

// WithIDGenerator overrides the version id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithBus sets the event bus notified after an executed merge commits.
func WithBus(b *events.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithActor sets the identity recorded as created_by on merged versions.
func WithActor(name string) Option {
	return func(e *Engine) { e.actor = name }
}

// WithObjectLimit sets the default enumeration bound.
func WithObjectLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.limit = n
		}
	}
}

// New creates a merge engine over the given store and lineage resolver.
func New(st *store.Store, lin *lineage.Service, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		lineage: lin,
		clock:   time.Now,
		ids:     uuidGenerator{},
		actor:   "merge",
		limit:   DefaultObjectLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request describes a merge. Execute false is a dry run: classify and
// report, write nothing.
type Request struct {
	TargetBranchID string
	SourceBranchID string
	Execute        bool

	// Limit overrides the engine's reporting bound; <= 0 keeps it.
	Limit int
}

// ObjectSummary is the per-object slice of a merge result.
type ObjectSummary struct {
	CanonicalID string         `json:"canonical_id"`
	Type        string         `json:"type"`
	Key         string         `json:"key"`
	Status      Classification `json:"status"`

	TargetHeadID  *string `json:"target_head_id,omitempty"`
	SourceHeadID  *string `json:"source_head_id,omitempty"`
	BaseVersionID *string `json:"base_version_id,omitempty"`

	// SourcePaths and TargetPaths are the change paths of each side since
	// the shared base; Conflicts is their overlap.
	SourcePaths []string `json:"source_paths,omitempty"`
	TargetPaths []string `json:"target_paths,omitempty"`
	Conflicts   []string `json:"conflicts,omitempty"`

	// Reason explains conflicts that are not path overlaps.
	Reason string `json:"reason,omitempty"`

	// AppliedVersionID is set after execute for added and fast_forward
	// objects.
	AppliedVersionID *string `json:"applied_version_id,omitempty"`

	// sourceSince carries the composed source-side summary from
	// classification to execute, which needs the full added/removed/changed
	// split to apply the paths.
	sourceSince diff.Summary
}

// Result is the outcome of one merge run.
type Result struct {
	TargetBranchID string  `json:"target_branch_id"`
	SourceBranchID string  `json:"source_branch_id"`
	BaseBranchID   *string `json:"base_branch_id,omitempty"`
	DryRun         bool    `json:"dry_run"`

	// TotalObjects counts the whole union of visible heads, even when the
	// reported object list was truncated.
	TotalObjects     int  `json:"total_objects"`
	UnchangedCount   int  `json:"unchanged_count"`
	AddedCount       int  `json:"added_count"`
	FastForwardCount int  `json:"fast_forward_count"`
	ConflictCount    int  `json:"conflict_count"`
	Truncated        bool `json:"truncated"`
	Limit            int  `json:"limit"`

	Objects []ObjectSummary `json:"objects"`

	Applied      bool `json:"applied"`
	AppliedCount int  `json:"applied_count,omitempty"`
}

// HasConflicts reports whether any object classified as conflict.
func (r *Result) HasConflicts() bool {
	return r.ConflictCount > 0
}

// Run classifies every object visible on either branch and, when
// requested, applies the qualifying ones to the target. Conflicts never
// abort the run; they are returned as data.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	if req.TargetBranchID == "" || req.SourceBranchID == "" {
		return nil, store.NewValidation("target and source branches are required", nil)
	}
	if req.TargetBranchID == req.SourceBranchID {
		return nil, store.NewValidation("cannot merge a branch into itself", map[string]string{
			"branch_id": req.TargetBranchID,
		})
	}

	target, err := e.store.GetBranch(ctx, req.TargetBranchID)
	if err != nil {
		return nil, err
	}
	source, err := e.store.GetBranch(ctx, req.SourceBranchID)
	if err != nil {
		return nil, err
	}
	if target.OrgID != source.OrgID || target.ProjectID != source.ProjectID {
		return nil, store.NewValidation("branches belong to different projects", map[string]string{
			"target": target.ID,
			"source": source.ID,
		})
	}

	limit := e.limit
	if req.Limit > 0 {
		limit = req.Limit
	}

	result := &Result{
		TargetBranchID: target.ID,
		SourceBranchID: source.ID,
		DryRun:         !req.Execute,
		Limit:          limit,
	}
	if baseID, ok, err := e.lineage.NearestCommonAncestor(ctx, target.ID, source.ID); err != nil {
		return nil, err
	} else if ok {
		result.BaseBranchID = &baseID
	}

	targetHeads, err := e.lineage.VisibleHeads(ctx, target.ID)
	if err != nil {
		return nil, err
	}
	sourceHeads, err := e.lineage.VisibleHeads(ctx, source.ID)
	if err != nil {
		return nil, err
	}

	union := unionCanonicals(targetHeads, sourceHeads)
	result.TotalObjects = len(union)

	for _, canonicalID := range union {
		summary, err := e.classify(ctx, target.ID, canonicalID, targetHeads, sourceHeads)
		if err != nil {
			return nil, err
		}
		switch summary.Status {
		case Added:
			result.AddedCount++
		case FastForward:
			result.FastForwardCount++
		case Conflict:
			result.ConflictCount++
		case Unchanged:
			result.UnchangedCount++
		}
		result.Objects = append(result.Objects, summary)
	}

	sortObjects(result.Objects)

	if req.Execute {
		if err := e.execute(ctx, target, source, targetHeads, sourceHeads, result); err != nil {
			return nil, err
		}
	}

	// Trim the detail list only after classification and any execute: the
	// counts and the applied writes always cover every object, so a merge
	// is never partially applied.
	if len(result.Objects) > limit {
		result.Objects = result.Objects[:limit]
		result.Truncated = true
	}

	slog.Info("merge finished",
		"target", target.ID,
		"source", source.ID,
		"dry_run", result.DryRun,
		"total", result.TotalObjects,
		"added", result.AddedCount,
		"fast_forward", result.FastForwardCount,
		"conflict", result.ConflictCount,
		"unchanged", result.UnchangedCount,
		"applied", result.AppliedCount,
	)
	return result, nil
}

// unionCanonicals returns the sorted union of canonical ids present in
// either head map. Sorting makes truncation and output deterministic.
func unionCanonicals(a, b map[string]store.ObjectVersion) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for id := range a {
		set[id] = struct{}{}
	}
	for id := range b {
		set[id] = struct{}{}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// sortObjects orders summaries for review: conflicts first, then
// fast-forwards, additions, and unchanged, each group by canonical id.
func sortObjects(objects []ObjectSummary) {
	rank := map[Classification]int{
		Conflict:    0,
		FastForward: 1,
		Added:       2,
		Unchanged:   3,
	}
	slices.SortFunc(objects, func(a, b ObjectSummary) int {
		if ra, rb := rank[a.Status], rank[b.Status]; ra != rb {
			return ra - rb
		}
		if a.CanonicalID < b.CanonicalID {
			return -1
		}
		if a.CanonicalID > b.CanonicalID {
			return 1
		}
		return 0
	})
}
