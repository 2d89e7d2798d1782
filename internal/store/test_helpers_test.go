package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/emergent/loom/internal/canonical"
	"github.com/emergent/loom/internal/diff"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new on-disk store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestBranch inserts a branch with minimal required fields.
func createTestBranch(t *testing.T, s *Store, id, name string, parentID *string) Branch {
	t.Helper()
	b := Branch{
		ID:             id,
		OrgID:          "org-1",
		ProjectID:      "proj-1",
		Name:           name,
		ParentBranchID: parentID,
		CreatedAt:      testTime,
	}
	if err := s.CreateBranch(context.Background(), b); err != nil {
		t.Fatalf("CreateBranch(%s) failed: %v", name, err)
	}
	return b
}

// testVersion builds a version row ready for AppendVersion. The change
// summary defaults to an initial-write diff against the empty tree.
func testVersion(id, canonicalID, branchID string, props map[string]any) ObjectVersion {
	summary, err := diff.Trees(nil, props)
	if err != nil {
		panic(err)
	}
	return ObjectVersion{
		ID:            id,
		CanonicalID:   canonicalID,
		BranchID:      branchID,
		Type:          "document",
		Key:           canonicalID,
		Properties:    props,
		ContentHash:   canonical.MustObjectHash(props),
		ChangeSummary: summary,
		CreatedAt:     testTime,
		CreatedBy:     "tester",
	}
}

// appendTestVersion appends and fails the test on error.
func appendTestVersion(t *testing.T, s *Store, v ObjectVersion, expectHeadID *string) ObjectVersion {
	t.Helper()
	out, err := s.AppendVersion(context.Background(), v, expectHeadID, nil)
	if err != nil {
		t.Fatalf("AppendVersion(%s) failed: %v", v.ID, err)
	}
	return out
}

func strPtr(s string) *string {
	return &s
}
