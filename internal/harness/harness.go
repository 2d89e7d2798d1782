package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/emergent/loom/internal/graph"
	"github.com/emergent/loom/internal/lineage"
	"github.com/emergent/loom/internal/merge"
	"github.com/emergent/loom/internal/store"
	"github.com/emergent/loom/internal/testutil"
)

// scenarioEpoch is the fixed clock start for scenario runs. Timestamps
// never appear in traces, but a fixed epoch keeps stored rows identical
// across runs too.
var scenarioEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness drives one scenario against a fresh stack. It maps the
// scenario's branch names and object refs to the ids the store generated.
type Harness struct {
	store   *store.Store
	lineage *lineage.Service
	graph   *graph.Service
	merge   *merge.Engine

	org      string
	project  string
	branches map[string]string // scenario branch name -> branch id
	refs     map[string]string // scenario ref -> canonical id
}

// Run executes a scenario in a fresh in-memory database and returns the
// accumulated result. Expect and assertion mismatches are collected in
// the result; the returned error is reserved for scenario bugs and
// infrastructure failures.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory store: %w", err)
	}
	defer st.Close()

	lin, err := lineage.New(st)
	if err != nil {
		return nil, fmt.Errorf("failed to build lineage resolver: %w", err)
	}
	defer lin.Close()

	clock := testutil.NewClock(scenarioEpoch, time.Second)
	ids := testutil.NewIDSequence("v")

	h := &Harness{
		store:   st,
		lineage: lin,
		graph: graph.New(st, lin,
			graph.WithClock(clock.Now),
			graph.WithIDGenerator(ids),
			graph.WithActor("harness"),
		),
		merge: merge.New(st, lin,
			merge.WithClock(clock.Now),
			merge.WithIDGenerator(ids),
			merge.WithActor("harness"),
		),
		org:      scenario.Org,
		project:  scenario.Project,
		branches: make(map[string]string),
		refs:     make(map[string]string),
	}
	if h.org == "" {
		h.org = "test-org"
	}
	if h.project == "" {
		h.project = "test-project"
	}

	ctx := context.Background()
	result := NewResult()

	step := 0
	for _, s := range scenario.Setup {
		step++
		if err := h.executeStep(ctx, step, "setup", s, result); err != nil {
			return nil, fmt.Errorf("setup step %d (%s): %w", step, s.Op, err)
		}
	}
	for _, s := range scenario.Flow {
		step++
		if err := h.executeStep(ctx, step, "flow", s, result); err != nil {
			return nil, fmt.Errorf("flow step %d (%s): %w", step, s.Op, err)
		}
	}

	actx := &AssertionContext{
		Ctx:      ctx,
		Graph:    h.graph,
		Store:    st,
		Branches: h.branches,
		Refs:     h.refs,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// executeStep runs one step, validates its expectations, and appends a
// trace event. Domain errors (store error codes) are matched against
// expect_error; anything else aborts the run.
func (h *Harness) executeStep(ctx context.Context, n int, phase string, s Step, result *Result) error {
	ev := TraceEvent{Step: n, Phase: phase, Op: s.Op}

	var err error
	switch s.Op {
	case OpBranch:
		err = h.runBranch(ctx, s, &ev)
	case OpWrite:
		err = h.runWrite(ctx, s, &ev)
	case OpPatch:
		err = h.runPatch(ctx, s, &ev)
	case OpDelete:
		err = h.runDelete(ctx, s, &ev)
	case OpRestore:
		err = h.runRestore(ctx, s, &ev)
	case OpMerge:
		err = h.runMerge(ctx, n, phase, s, result, &ev)
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}

	code := ""
	if err != nil {
		var se *store.Error
		if !errors.As(err, &se) {
			return err
		}
		code = string(se.Code)
	}

	if phase == "setup" && err != nil {
		return err
	}

	switch {
	case s.ExpectError != "" && code == "":
		result.AddError(fmt.Sprintf("%s step %d (%s): expected error %s, got success", phase, n, s.Op, s.ExpectError))
	case s.ExpectError != "" && code != s.ExpectError:
		result.AddError(fmt.Sprintf("%s step %d (%s): expected error %s, got %s: %v", phase, n, s.Op, s.ExpectError, code, err))
	case s.ExpectError == "" && err != nil:
		result.AddError(fmt.Sprintf("%s step %d (%s): %v", phase, n, s.Op, err))
	}

	ev.Outcome = "ok"
	if code != "" {
		ev.Outcome = code
	}
	result.AddTrace(ev)
	return nil
}

func (h *Harness) runBranch(ctx context.Context, s Step, ev *TraceEvent) error {
	ev.Branch = s.Branch

	parentID := ""
	if s.Parent != "" {
		id, err := h.branchID(s.Parent)
		if err != nil {
			return err
		}
		parentID = id
	}

	b, err := h.graph.CreateBranch(ctx, graph.BranchRequest{
		OrgID:          h.org,
		ProjectID:      h.project,
		Name:           s.Branch,
		ParentBranchID: parentID,
		IsDefault:      s.Default,
	})
	if err != nil {
		return err
	}
	h.branches[s.Branch] = b.ID
	return nil
}

func (h *Harness) runWrite(ctx context.Context, s Step, ev *TraceEvent) error {
	ref := s.Ref
	if ref == "" {
		ref = s.Key
	}
	ev.Branch, ev.Ref = s.Branch, ref

	branchID, err := h.branchID(s.Branch)
	if err != nil {
		return err
	}
	props, err := normalizeTree(s.Props)
	if err != nil {
		return err
	}

	v, err := h.graph.Write(ctx, graph.WriteRequest{
		OrgID:      h.org,
		ProjectID:  h.project,
		BranchID:   branchID,
		Type:       s.Type,
		Key:        s.Key,
		Properties: props,
		Labels:     s.Labels,
	})
	if err != nil {
		return err
	}
	h.refs[ref] = v.CanonicalID
	ev.Version = v.Version
	ev.Paths = v.ChangeSummary.Paths()
	return nil
}

func (h *Harness) runPatch(ctx context.Context, s Step, ev *TraceEvent) error {
	ev.Branch, ev.Ref = s.Branch, s.Ref

	branchID, canonicalID, err := h.objectScope(s.Branch, s.Ref)
	if err != nil {
		return err
	}
	delta, err := normalizeTree(s.Delta)
	if err != nil {
		return err
	}

	head, err := h.graph.Resolve(ctx, branchID, canonicalID)
	if err != nil {
		return err
	}
	if head == nil {
		return store.NewNotFound("object", s.Ref)
	}

	v, err := h.graph.Patch(ctx, graph.PatchRequest{
		BranchID: branchID,
		ObjectID: head.ID,
		Delta:    delta,
		Labels:   s.Labels,
	})
	if err != nil {
		return err
	}
	ev.Version = v.Version
	ev.Paths = v.ChangeSummary.Paths()
	return nil
}

func (h *Harness) runDelete(ctx context.Context, s Step, ev *TraceEvent) error {
	ev.Branch, ev.Ref = s.Branch, s.Ref

	branchID, canonicalID, err := h.objectScope(s.Branch, s.Ref)
	if err != nil {
		return err
	}
	head, err := h.graph.Resolve(ctx, branchID, canonicalID)
	if err != nil {
		return err
	}
	if head == nil {
		return store.NewNotFound("object", s.Ref)
	}

	v, err := h.graph.SoftDelete(ctx, branchID, head.ID)
	if err != nil {
		return err
	}
	ev.Version = v.Version
	ev.Paths = v.ChangeSummary.Paths()
	return nil
}

func (h *Harness) runRestore(ctx context.Context, s Step, ev *TraceEvent) error {
	ev.Branch, ev.Ref = s.Branch, s.Ref

	branchID, canonicalID, err := h.objectScope(s.Branch, s.Ref)
	if err != nil {
		return err
	}

	// Restore targets the tombstone, which Resolve hides; Head keeps it.
	head, err := h.lineage.Head(ctx, branchID, canonicalID)
	if err != nil {
		return err
	}
	if head == nil {
		return store.NewNotFound("object", s.Ref)
	}

	v, err := h.graph.Restore(ctx, branchID, head.ID)
	if err != nil {
		return err
	}
	ev.Version = v.Version
	ev.Paths = v.ChangeSummary.Paths()
	return nil
}

func (h *Harness) runMerge(ctx context.Context, n int, phase string, s Step, result *Result, ev *TraceEvent) error {
	ev.Target, ev.Source = s.Target, s.Source

	targetID, err := h.branchID(s.Target)
	if err != nil {
		return err
	}
	sourceID, err := h.branchID(s.Source)
	if err != nil {
		return err
	}

	res, err := h.merge.Run(ctx, merge.Request{
		TargetBranchID: targetID,
		SourceBranchID: sourceID,
		Execute:        s.Execute,
	})
	if err != nil {
		return err
	}

	ev.Counts = map[string]int{
		"added":        res.AddedCount,
		"fast_forward": res.FastForwardCount,
		"conflict":     res.ConflictCount,
		"unchanged":    res.UnchangedCount,
	}
	if res.Applied {
		ev.Counts["applied"] = res.AppliedCount
	}

	if s.Expect != nil {
		checks := []struct {
			name string
			want int
			got  int
		}{
			{"added", s.Expect.Added, res.AddedCount},
			{"fast_forward", s.Expect.FastForward, res.FastForwardCount},
			{"conflict", s.Expect.Conflict, res.ConflictCount},
			{"unchanged", s.Expect.Unchanged, res.UnchangedCount},
		}
		for _, c := range checks {
			if c.want != c.got {
				result.AddError(fmt.Sprintf("%s step %d (merge %s<-%s): expected %s=%d, got %d",
					phase, n, s.Target, s.Source, c.name, c.want, c.got))
			}
		}
	}
	return nil
}

// branchID maps a scenario branch name to its generated id.
func (h *Harness) branchID(name string) (string, error) {
	id, ok := h.branches[name]
	if !ok {
		return "", fmt.Errorf("unknown branch %q (no branch step created it)", name)
	}
	return id, nil
}

// objectScope maps a branch name and object ref to their generated ids.
func (h *Harness) objectScope(branch, ref string) (branchID, canonicalID string, err error) {
	branchID, err = h.branchID(branch)
	if err != nil {
		return "", "", err
	}
	canonicalID, ok := h.refs[ref]
	if !ok {
		return "", "", fmt.Errorf("unknown ref %q (no write step created it)", ref)
	}
	return branchID, canonicalID, nil
}

// normalizeTree re-decodes a YAML-parsed tree through JSON with UseNumber
// so property values take the same shape the store reads back. Nulls are
// preserved for merge-patch deletes.
func normalizeTree(in map[string]any) (map[string]any, error) {
	if in == nil {
		return nil, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encoding step tree: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding step tree: %w", err)
	}
	return out, nil
}
