package harness

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchTree(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		expected any
		want     bool
	}{
		{"equal strings", "a", "a", true},
		{"different strings", "a", "b", false},
		{"both nil", nil, nil, true},
		{"yaml int vs stored number", map[string]any{"n": json.Number("3")}, map[string]any{"n": 3}, true},
		{"subset match", map[string]any{"a": "x", "b": "y"}, map[string]any{"a": "x"}, true},
		{"missing key", map[string]any{"a": "x"}, map[string]any{"b": "y"}, false},
		{"nested subset", map[string]any{"outer": map[string]any{"a": "x", "b": "y"}}, map[string]any{"outer": map[string]any{"b": "y"}}, true},
		{"nested mismatch", map[string]any{"outer": map[string]any{"a": "x"}}, map[string]any{"outer": map[string]any{"a": "y"}}, false},
		{"null expects absent", map[string]any{"a": "x"}, map[string]any{"gone": nil}, true},
		{"null matches null", map[string]any{"gone": nil}, map[string]any{"gone": nil}, true},
		{"null rejects value", map[string]any{"gone": "still here"}, map[string]any{"gone": nil}, false},
		{"arrays equal", []any{"a", "b"}, []any{"a", "b"}, true},
		{"array order matters", []any{"a", "b"}, []any{"b", "a"}, false},
		{"array numbers normalize", []any{json.Number("1"), json.Number("2")}, []any{1, 2}, true},
		{"scalar vs map", "a", map[string]any{"a": "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchTree(tt.actual, tt.expected))
		})
	}
}

func TestAssertionErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertHeadState,
		Expected: "k1 on branch main at version 2",
		Actual:   "version 1",
		Trace: []TraceEvent{
			{Step: 1, Phase: "setup", Op: OpBranch, Branch: "main", Outcome: "ok"},
			{Step: 2, Phase: "flow", Op: OpWrite, Branch: "main", Ref: "k1", Outcome: "ok"},
			{Step: 3, Phase: "flow", Op: OpMerge, Target: "main", Source: "feature", Outcome: "ok"},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "assertion failed: head_state")
	assert.Contains(t, msg, "expected: k1 on branch main at version 2")
	assert.Contains(t, msg, "actual:   version 1")
	assert.Contains(t, msg, "[2] write main/k1 ok")
	assert.Contains(t, msg, "[3] merge main<-feature ok")
}

func TestAssertionFailures(t *testing.T) {
	scenario := docScenario("assert-fails")
	scenario.Flow = []Step{
		{Op: OpPatch, Branch: "main", Ref: "k1", Delta: map[string]any{"title": "B"}},
	}
	scenario.Assertions = []Assertion{
		{Type: AssertHeadState, Branch: "main", Ref: "k1", Version: 9},
		{Type: AssertHeadState, Branch: "main", Ref: "k1", Props: map[string]any{"title": "Z"}},
		{Type: AssertHeadAbsent, Branch: "main", Ref: "k1"},
		{Type: AssertVersionCount, Ref: "k1", Count: 7},
		{Type: AssertProvenanceCount, Branch: "main", Ref: "k1", Count: 1},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)

	assert.Contains(t, result.Errors[0], "assertions[0]")
	assert.Contains(t, result.Errors[0], "at version 9")
	assert.Contains(t, result.Errors[0], "actual:   version 2")
	assert.Contains(t, result.Errors[1], `properties containing {"title":"Z"}`)
	assert.Contains(t, result.Errors[1], `{"title":"B"}`)
	assert.Contains(t, result.Errors[2], "no visible head for k1 on branch main")
	assert.Contains(t, result.Errors[3], "7 stored versions of k1")
	assert.Contains(t, result.Errors[3], "2 versions")
	assert.Contains(t, result.Errors[4], "1 provenance edges on head of k1")
	assert.Contains(t, result.Errors[4], "0 edges")
}

func TestAssertionAgainstUnknownNames(t *testing.T) {
	scenario := docScenario("unknown-names")
	scenario.Flow = []Step{
		{Op: OpPatch, Branch: "main", Ref: "k1", Delta: map[string]any{"title": "B"}},
	}
	scenario.Assertions = []Assertion{
		{Type: AssertHeadState, Branch: "nope", Ref: "k1"},
		{Type: AssertVersionCount, Ref: "missing", Count: 1},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], `unknown branch "nope"`)
	assert.Contains(t, result.Errors[1], `unknown ref "missing"`)
}
