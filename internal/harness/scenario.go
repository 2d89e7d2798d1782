package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Step operations.
const (
	OpBranch  = "branch"
	OpWrite   = "write"
	OpPatch   = "patch"
	OpDelete  = "delete"
	OpRestore = "restore"
	OpMerge   = "merge"
)

// Assertion types.
const (
	AssertHeadState       = "head_state"
	AssertHeadAbsent      = "head_absent"
	AssertVersionCount    = "version_count"
	AssertProvenanceCount = "provenance_count"
)

// Scenario defines one end-to-end run against a fresh store.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario demonstrates.
	Description string `yaml:"description"`

	// Org and Project scope every branch the scenario creates. They
	// default to "test-org" and "test-project".
	Org     string `yaml:"org,omitempty"`
	Project string `yaml:"project,omitempty"`

	// Setup steps establish initial state and must succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow steps are the behavior under test. Steps may expect errors.
	Flow []Step `yaml:"flow"`

	// Assertions validate heads, version counts and provenance after the
	// flow completes.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation against the stack. Op selects the operation; the
// remaining fields apply per op as documented on each.
type Step struct {
	Op string `yaml:"op"`

	// Branch is the new branch's name for op=branch, otherwise the acting
	// branch.
	Branch string `yaml:"branch,omitempty"`

	// Parent optionally forks op=branch from an existing branch.
	Parent string `yaml:"parent,omitempty"`

	// Default marks op=branch as the project default.
	Default bool `yaml:"default,omitempty"`

	// Type and Key identify a new object for op=write.
	Type string `yaml:"type,omitempty"`
	Key  string `yaml:"key,omitempty"`

	// Ref is the symbolic handle later steps and assertions use for the
	// object. Defaults to Key on op=write; required on patch, delete and
	// restore.
	Ref string `yaml:"ref,omitempty"`

	// Props are the initial properties for op=write.
	Props map[string]any `yaml:"props,omitempty"`

	// Delta is the merge patch for op=patch. Nulls delete fields.
	Delta map[string]any `yaml:"delta,omitempty"`

	// Labels overlay the object's labels on write and patch.
	Labels map[string]string `yaml:"labels,omitempty"`

	// Target and Source name the branches for op=merge.
	Target string `yaml:"target,omitempty"`
	Source string `yaml:"source,omitempty"`

	// Execute applies the merge instead of dry-running it.
	Execute bool `yaml:"execute,omitempty"`

	// Expect checks the merge's classification counts.
	Expect *MergeExpect `yaml:"expect,omitempty"`

	// ExpectError requires the step to fail with this store error code
	// (NOT_FOUND, CONFLICT or VALIDATION_FAILED). Flow only.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// MergeExpect pins a merge step's per-classification counts.
type MergeExpect struct {
	Added       int `yaml:"added"`
	FastForward int `yaml:"fast_forward"`
	Conflict    int `yaml:"conflict"`
	Unchanged   int `yaml:"unchanged"`
}

// Assertion validates state after the flow completes.
type Assertion struct {
	// Type selects the assertion: head_state, head_absent, version_count
	// or provenance_count.
	Type string `yaml:"type"`

	// Branch scopes head_state, head_absent and provenance_count.
	Branch string `yaml:"branch,omitempty"`

	// Ref names the object under test.
	Ref string `yaml:"ref,omitempty"`

	// Version pins the head's branch-local version (head_state; 0 skips).
	Version int `yaml:"version,omitempty"`

	// Props is a subset match against the head's properties (head_state).
	Props map[string]any `yaml:"props,omitempty"`

	// Labels is a subset match against the head's labels (head_state).
	Labels map[string]string `yaml:"labels,omitempty"`

	// Count is the expected total for version_count and provenance_count.
	Count int `yaml:"count,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly instead of silently skipping checks.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields before any step runs.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if err := validateStep(&step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.ExpectError != "" {
			return fmt.Errorf("setup[%d]: expect_error is not allowed in setup", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(&step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(&a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

// validateStep checks the per-op required fields.
func validateStep(s *Step) error {
	switch s.Op {
	case OpBranch:
		if s.Branch == "" {
			return fmt.Errorf("branch name is required for op=branch")
		}
	case OpWrite:
		if s.Branch == "" || s.Type == "" || s.Key == "" {
			return fmt.Errorf("branch, type and key are required for op=write")
		}
	case OpPatch:
		if s.Branch == "" || s.Ref == "" {
			return fmt.Errorf("branch and ref are required for op=patch")
		}
	case OpDelete, OpRestore:
		if s.Branch == "" || s.Ref == "" {
			return fmt.Errorf("branch and ref are required for op=%s", s.Op)
		}
	case OpMerge:
		if s.Target == "" || s.Source == "" {
			return fmt.Errorf("target and source are required for op=merge")
		}
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
	return nil
}

// validateAssertion checks the per-type required fields.
func validateAssertion(a *Assertion) error {
	switch a.Type {
	case AssertHeadState:
		if a.Branch == "" || a.Ref == "" {
			return fmt.Errorf("branch and ref are required for head_state")
		}
	case AssertHeadAbsent:
		if a.Branch == "" || a.Ref == "" {
			return fmt.Errorf("branch and ref are required for head_absent")
		}
	case AssertVersionCount:
		if a.Ref == "" {
			return fmt.Errorf("ref is required for version_count")
		}
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for version_count")
		}
	case AssertProvenanceCount:
		if a.Branch == "" || a.Ref == "" {
			return fmt.Errorf("branch and ref are required for provenance_count")
		}
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for provenance_count")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
