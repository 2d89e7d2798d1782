package harness

// TraceEvent records one executed scenario step. Events carry scenario
// names (branch, ref) rather than generated ids so traces stay readable
// and golden files stay stable.
type TraceEvent struct {
	Step    int    `json:"step"`
	Phase   string `json:"phase"` // "setup" or "flow"
	Op      string `json:"op"`
	Branch  string `json:"branch,omitempty"`
	Ref     string `json:"ref,omitempty"`
	Target  string `json:"target,omitempty"`
	Source  string `json:"source,omitempty"`
	Outcome string `json:"outcome"` // "ok" or a store error code

	// Version and Paths describe the row a write-family op produced.
	Version int      `json:"version,omitempty"`
	Paths   []string `json:"paths,omitempty"`

	// Counts carries a merge's per-classification totals.
	Counts map[string]int `json:"counts,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace lists all executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds expect and assertion failures. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result to accumulate into.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// AddTrace appends one step event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
