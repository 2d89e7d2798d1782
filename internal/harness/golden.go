package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/emergent/loom/internal/canonical"
)

// TraceSnapshot is the golden-file rendering of a scenario's trace.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts the snapshot to a plain tree for canonical JSON
// serialization, dropping zero-valued optional fields.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"step":    ev.Step,
			"phase":   ev.Phase,
			"op":      ev.Op,
			"outcome": ev.Outcome,
		}
		if ev.Branch != "" {
			m["branch"] = ev.Branch
		}
		if ev.Ref != "" {
			m["ref"] = ev.Ref
		}
		if ev.Target != "" {
			m["target"] = ev.Target
		}
		if ev.Source != "" {
			m["source"] = ev.Source
		}
		if ev.Version > 0 {
			m["version"] = ev.Version
		}
		if len(ev.Paths) > 0 {
			paths := make([]any, len(ev.Paths))
			for j, p := range ev.Paths {
				paths[j] = p
			}
			m["paths"] = paths
		}
		if len(ev.Counts) > 0 {
			counts := make(map[string]any, len(ev.Counts))
			for k, v := range ev.Counts {
				counts[k] = v
			}
			m["counts"] = counts
		}
		traceList[i] = m
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden. Regenerate golden files with
// go test ./internal/harness -update. The returned error covers scenario
// execution only; trace mismatches fail through t.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already-obtained result's trace against the
// named golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
	}
	data, err := canonical.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
