package harness

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/emergent/loom/internal/canonical"
	"github.com/emergent/loom/internal/graph"
	"github.com/emergent/loom/internal/store"
)

// AssertionContext carries the live services and the scenario's name
// mappings into assertion evaluation.
type AssertionContext struct {
	Ctx      context.Context
	Graph    *graph.Service
	Store    *store.Store
	Branches map[string]string
	Refs     map[string]string
}

// AssertionError describes one failed assertion with enough context to
// debug it without re-running the scenario.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  actual:   %s\n", e.Actual)
	fmt.Fprintf(&buf, "\ntrace:\n")
	for _, ev := range e.Trace {
		loc := ev.Branch
		if ev.Op == OpMerge {
			loc = ev.Target + "<-" + ev.Source
		}
		if ev.Ref != "" {
			loc += "/" + ev.Ref
		}
		fmt.Fprintf(&buf, "  [%d] %s %s %s\n", ev.Step, ev.Op, loc, ev.Outcome)
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failures as
// messages. The trace from the result is attached to each failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(&a, actx, result.Trace); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluateAssertion(a *Assertion, actx *AssertionContext, trace []TraceEvent) error {
	switch a.Type {
	case AssertHeadState:
		return assertHeadState(a, actx, trace)
	case AssertHeadAbsent:
		return assertHeadAbsent(a, actx, trace)
	case AssertVersionCount:
		return assertVersionCount(a, actx, trace)
	case AssertProvenanceCount:
		return assertProvenanceCount(a, actx, trace)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// resolveHead returns the ref's live head visible on the branch, nil when
// absent or tombstoned.
func resolveHead(a *Assertion, actx *AssertionContext) (*store.ObjectVersion, error) {
	branchID, ok := actx.Branches[a.Branch]
	if !ok {
		return nil, fmt.Errorf("unknown branch %q", a.Branch)
	}
	canonicalID, ok := actx.Refs[a.Ref]
	if !ok {
		return nil, fmt.Errorf("unknown ref %q", a.Ref)
	}
	return actx.Graph.Resolve(actx.Ctx, branchID, canonicalID)
}

func assertHeadState(a *Assertion, actx *AssertionContext, trace []TraceEvent) error {
	head, err := resolveHead(a, actx)
	if err != nil {
		return err
	}
	if head == nil {
		return &AssertionError{
			Type:     AssertHeadState,
			Expected: fmt.Sprintf("visible head for %s on branch %s", a.Ref, a.Branch),
			Actual:   "no visible head",
			Trace:    trace,
		}
	}
	if a.Version != 0 && head.Version != a.Version {
		return &AssertionError{
			Type:     AssertHeadState,
			Expected: fmt.Sprintf("%s on branch %s at version %d", a.Ref, a.Branch, a.Version),
			Actual:   fmt.Sprintf("version %d", head.Version),
			Trace:    trace,
		}
	}
	if a.Props != nil && !matchTree(head.Properties, a.Props) {
		return &AssertionError{
			Type:     AssertHeadState,
			Expected: fmt.Sprintf("properties containing %s", canonical.MustMarshalCanonical(a.Props)),
			Actual:   string(canonical.MustMarshalCanonical(head.Properties)),
			Trace:    trace,
		}
	}
	for k, want := range a.Labels {
		if got, ok := head.Labels[k]; !ok || got != want {
			return &AssertionError{
				Type:     AssertHeadState,
				Expected: fmt.Sprintf("label %s=%s", k, want),
				Actual:   fmt.Sprintf("labels %v", head.Labels),
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertHeadAbsent(a *Assertion, actx *AssertionContext, trace []TraceEvent) error {
	head, err := resolveHead(a, actx)
	if err != nil {
		return err
	}
	if head != nil {
		return &AssertionError{
			Type:     AssertHeadAbsent,
			Expected: fmt.Sprintf("no visible head for %s on branch %s", a.Ref, a.Branch),
			Actual:   fmt.Sprintf("head %s at version %d", head.ID, head.Version),
			Trace:    trace,
		}
	}
	return nil
}

func assertVersionCount(a *Assertion, actx *AssertionContext, trace []TraceEvent) error {
	canonicalID, ok := actx.Refs[a.Ref]
	if !ok {
		return fmt.Errorf("unknown ref %q", a.Ref)
	}
	rows, err := actx.Store.ListVersions(actx.Ctx, store.VersionFilter{CanonicalID: canonicalID})
	if err != nil {
		return err
	}
	if len(rows) != a.Count {
		return &AssertionError{
			Type:     AssertVersionCount,
			Expected: fmt.Sprintf("%d stored versions of %s", a.Count, a.Ref),
			Actual:   fmt.Sprintf("%d versions", len(rows)),
			Trace:    trace,
		}
	}
	return nil
}

func assertProvenanceCount(a *Assertion, actx *AssertionContext, trace []TraceEvent) error {
	head, err := resolveHead(a, actx)
	if err != nil {
		return err
	}
	if head == nil {
		return &AssertionError{
			Type:     AssertProvenanceCount,
			Expected: fmt.Sprintf("visible head for %s on branch %s", a.Ref, a.Branch),
			Actual:   "no visible head",
			Trace:    trace,
		}
	}
	edges, err := actx.Store.MergeParents(actx.Ctx, head.ID)
	if err != nil {
		return err
	}
	if len(edges) != a.Count {
		return &AssertionError{
			Type:     AssertProvenanceCount,
			Expected: fmt.Sprintf("%d provenance edges on head of %s", a.Count, a.Ref),
			Actual:   fmt.Sprintf("%d edges", len(edges)),
			Trace:    trace,
		}
	}
	return nil
}

// matchTree reports whether actual contains expected as a subset. Maps
// match key by key recursively; an expected null requires the key to be
// absent or null. Leaves compare by canonical JSON rendering, so YAML
// integers match the store's json.Number values.
func matchTree(actual, expected any) bool {
	if expected == nil {
		return actual == nil
	}
	expMap, expOK := expected.(map[string]any)
	if expOK {
		actMap, actOK := actual.(map[string]any)
		if !actOK {
			return false
		}
		for k, expVal := range expMap {
			actVal, present := actMap[k]
			if expVal == nil {
				if present && actVal != nil {
					return false
				}
				continue
			}
			if !present || !matchTree(actVal, expVal) {
				return false
			}
		}
		return true
	}

	ab, err := canonical.MarshalCanonical(actual)
	if err != nil {
		return false
	}
	eb, err := canonical.MarshalCanonical(expected)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, eb)
}
