package store

import (
	"time"

	"github.com/emergent/loom/internal/diff"
)

// Branch is a named line of work within a project. A branch with no parent
// is a root; everything else inherits visibility from its parent chain.
type Branch struct {
	ID             string
	OrgID          string
	ProjectID      string
	Name           string
	ParentBranchID *string
	IsDefault      bool
	CreatedAt      time.Time
}

// LineageEntry is one row of the branch ancestor closure. Depth 0 is the
// branch itself; depth 1 its parent, and so on.
type LineageEntry struct {
	BranchID   string
	AncestorID string
	Depth      int
}

// ObjectVersion is one immutable row of an object's version chain.
//
// Seq is assigned by the store at insert and orders all versions globally.
// Version is a branch-local counter starting at 1 for the first row of a
// canonical object on a branch. PredecessorID points at the version this
// row was derived from, which may live on a different branch for rows
// written by merges or for edits of inherited objects.
type ObjectVersion struct {
	Seq           int64
	ID            string
	CanonicalID   string
	BranchID      string
	Type          string
	Key           string
	Version       int
	Properties    map[string]any
	Labels        map[string]string
	ContentHash   string
	ChangeSummary diff.Summary
	PredecessorID *string
	DeletedAt     *time.Time
	CreatedAt     time.Time
	CreatedBy     string
}

// Deleted reports whether the version is a tombstone.
func (v ObjectVersion) Deleted() bool {
	return v.DeletedAt != nil
}

// ProvenanceRole names the part a parent version played in a merge.
type ProvenanceRole string

const (
	// RoleTarget is the target branch head the merge wrote over.
	RoleTarget ProvenanceRole = "target"

	// RoleSource is the source branch head the merge consumed.
	RoleSource ProvenanceRole = "source"

	// RoleBase is the shared base version, when one was resolved.
	RoleBase ProvenanceRole = "base"
)

// MergeParent is one provenance edge from a merge-written version to a
// version that fed it.
type MergeParent struct {
	ID              int64
	VersionID       string
	ParentVersionID string
	Role            ProvenanceRole
	MergedAt        time.Time
}

// MergeInsert is one version write inside a merge transaction, paired with
// the branch-local head the writer observed during classification. The
// store re-checks the expectation inside the transaction and aborts the
// whole merge when any head moved.
type MergeInsert struct {
	Version      ObjectVersion
	ExpectHeadID *string
}
