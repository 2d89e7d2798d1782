package graph

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/emergent/loom/internal/canonical"
	"github.com/emergent/loom/internal/diff"
	"github.com/emergent/loom/internal/store"
)

// Issue codes reported by VerifyChains.
const (
	IssueContentHash        = "content_hash"
	IssueChangeSummary      = "change_summary"
	IssueMissingPredecessor = "missing_predecessor"
	IssueVersionSequence    = "version_sequence"
	IssueLineage            = "lineage"
	IssueMissingOverflow    = "missing_overflow"
)

// VerifyIssue describes one integrity violation found in the store.
type VerifyIssue struct {
	Code        string `json:"code"`
	BranchID    string `json:"branch_id,omitempty"`
	CanonicalID string `json:"canonical_id,omitempty"`
	VersionID   string `json:"version_id,omitempty"`
	Message     string `json:"message"`
}

// VerifyReport summarizes a full-store integrity audit.
type VerifyReport struct {
	Versions int           `json:"versions"`
	Branches int           `json:"branches"`
	Issues   []VerifyIssue `json:"issues"`
}

// Clean reports whether the audit found no issues.
func (r VerifyReport) Clean() bool {
	return len(r.Issues) == 0
}

// VerifyChains audits the whole store: recomputes content hashes and
// change summaries from stored properties, checks predecessor pointers
// and per-branch version counters, confirms overflow rows exist for every
// digest node, and rebuilds each branch's lineage closure from parent
// pointers. Corruption is reported as data, never as an error.
func (s *Service) VerifyChains(ctx context.Context) (VerifyReport, error) {
	var report VerifyReport

	versions, err := s.store.ListVersions(ctx, store.VersionFilter{})
	if err != nil {
		return report, err
	}
	report.Versions = len(versions)

	byID := make(map[string]store.ObjectVersion, len(versions))
	for _, v := range versions {
		byID[v.ID] = v
	}

	type chainKey struct{ branch, canonical string }
	counters := make(map[chainKey][]int)

	for _, v := range versions {
		report.Issues = append(report.Issues, s.verifyVersion(ctx, v, byID)...)
		k := chainKey{v.BranchID, v.CanonicalID}
		counters[k] = append(counters[k], v.Version)
	}

	// Version counters must run 1, 2, 3... per branch and canonical id.
	// ListVersions returns insertion order, so the collected slice is
	// already the order the counters were assigned in.
	for k, seen := range counters {
		for i, n := range seen {
			if n != i+1 {
				report.Issues = append(report.Issues, VerifyIssue{
					Code:        IssueVersionSequence,
					BranchID:    k.branch,
					CanonicalID: k.canonical,
					Message:     fmt.Sprintf("version counters are not consecutive: found %d at position %d", n, i+1),
				})
				break
			}
		}
	}

	branchIssues, branchCount, err := s.verifyLineage(ctx)
	if err != nil {
		return report, err
	}
	report.Branches = branchCount
	report.Issues = append(report.Issues, branchIssues...)

	sortIssues(report.Issues)
	slog.Info("verification finished",
		"versions", report.Versions,
		"branches", report.Branches,
		"issues", len(report.Issues),
	)
	return report, nil
}

// verifyVersion checks a single row: recomputed hash, recomputed summary
// against the predecessor, and overflow references.
func (s *Service) verifyVersion(ctx context.Context, v store.ObjectVersion, byID map[string]store.ObjectVersion) []VerifyIssue {
	var issues []VerifyIssue
	tag := func(code, msg string) {
		issues = append(issues, VerifyIssue{
			Code:        code,
			BranchID:    v.BranchID,
			CanonicalID: v.CanonicalID,
			VersionID:   v.ID,
			Message:     msg,
		})
	}

	hash, err := canonical.ObjectHash(effectiveProperties(v))
	if err != nil {
		tag(IssueContentHash, fmt.Sprintf("properties could not be hashed: %v", err))
	} else if hash != v.ContentHash {
		tag(IssueContentHash, fmt.Sprintf("stored hash %s, recomputed %s", v.ContentHash, hash))
	}

	var predProps map[string]any
	if v.PredecessorID != nil {
		pred, ok := byID[*v.PredecessorID]
		if !ok {
			tag(IssueMissingPredecessor, fmt.Sprintf("predecessor %s does not exist", *v.PredecessorID))
		} else {
			predProps = effectiveProperties(pred)
		}
	}
	want, err := diff.Trees(predProps, effectiveProperties(v))
	if err != nil {
		tag(IssueChangeSummary, fmt.Sprintf("summary could not be recomputed: %v", err))
	} else if !summariesEqual(want, v.ChangeSummary) {
		tag(IssueChangeSummary, "stored change summary does not match recomputed diff")
	}

	for _, digest := range overflowDigests(v.Properties) {
		ok, err := s.store.HasOverflow(ctx, digest)
		if err != nil {
			tag(IssueMissingOverflow, fmt.Sprintf("overflow lookup failed: %v", err))
			continue
		}
		if !ok {
			tag(IssueMissingOverflow, fmt.Sprintf("overflow value %s is missing", digest))
		}
	}

	return issues
}

// verifyLineage rebuilds every branch's ancestor chain from parent
// pointers and compares it to the stored closure.
func (s *Service) verifyLineage(ctx context.Context) ([]VerifyIssue, int, error) {
	branches, err := s.store.AllBranches(ctx)
	if err != nil {
		return nil, 0, err
	}
	byID := make(map[string]store.Branch, len(branches))
	for _, b := range branches {
		byID[b.ID] = b
	}

	var issues []VerifyIssue
	for _, b := range branches {
		expected := []string{b.ID}
		seen := map[string]bool{b.ID: true}
		cur := b
		for cur.ParentBranchID != nil {
			parentID := *cur.ParentBranchID
			if seen[parentID] {
				issues = append(issues, VerifyIssue{
					Code:     IssueLineage,
					BranchID: b.ID,
					Message:  fmt.Sprintf("parent chain cycles through %s", parentID),
				})
				expected = nil
				break
			}
			parent, ok := byID[parentID]
			if !ok {
				issues = append(issues, VerifyIssue{
					Code:     IssueLineage,
					BranchID: b.ID,
					Message:  fmt.Sprintf("parent branch %s does not exist", parentID),
				})
				expected = nil
				break
			}
			seen[parentID] = true
			expected = append(expected, parentID)
			cur = parent
		}
		if expected == nil {
			continue
		}

		entries, err := s.store.Ancestors(ctx, b.ID)
		if err != nil {
			return nil, 0, err
		}
		stored := make([]string, len(entries))
		for i, e := range entries {
			if e.Depth != i {
				stored = nil
				break
			}
			stored[i] = e.AncestorID
		}
		if !slices.Equal(stored, expected) {
			issues = append(issues, VerifyIssue{
				Code:     IssueLineage,
				BranchID: b.ID,
				Message:  "stored closure does not match parent chain",
			})
		}
	}
	return issues, len(branches), nil
}

// effectiveProperties returns what hashing and diffing see: the stored
// tree for live versions, the empty tree for tombstones.
func effectiveProperties(v store.ObjectVersion) map[string]any {
	if v.Deleted() {
		return nil
	}
	return v.Properties
}

func summariesEqual(a, b diff.Summary) bool {
	return slices.Equal(sortedCopy(a.Added), sortedCopy(b.Added)) &&
		slices.Equal(sortedCopy(a.Removed), sortedCopy(b.Removed)) &&
		slices.Equal(sortedCopy(a.Changed), sortedCopy(b.Changed))
}

func sortedCopy(paths []string) []string {
	out := slices.Clone(paths)
	slices.Sort(out)
	return out
}

// overflowDigests collects digest references from a stored property tree.
func overflowDigests(tree map[string]any) []string {
	var digests []string
	var walk func(v any)
	walk = func(v any) {
		if digest, ok := diff.IsOverflowNode(v); ok {
			digests = append(digests, digest)
			return
		}
		switch t := v.(type) {
		case map[string]any:
			for _, child := range t {
				walk(child)
			}
		case []any:
			for _, child := range t {
				walk(child)
			}
		}
	}
	walk(tree)
	return digests
}

// sortIssues orders issues for stable output: by code, then branch, then
// version id.
func sortIssues(issues []VerifyIssue) {
	slices.SortFunc(issues, func(a, b VerifyIssue) int {
		if a.Code != b.Code {
			if a.Code < b.Code {
				return -1
			}
			return 1
		}
		if a.BranchID != b.BranchID {
			if a.BranchID < b.BranchID {
				return -1
			}
			return 1
		}
		if a.VersionID < b.VersionID {
			return -1
		}
		if a.VersionID > b.VersionID {
			return 1
		}
		return 0
	})
}
