package store

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/emergent/loom/internal/diff"
)

func TestAppendVersion_AssignsSeqAndVersion(t *testing.T) {
	s := createTestStore(t)
	createTestBranch(t, s, "br-main", "main", nil)

	v1 := appendTestVersion(t, s, testVersion("ver-1", "doc-1", "br-main", map[string]any{"title": "A"}), nil)
	if v1.Seq == 0 {
		t.Error("Seq not assigned")
	}
	if v1.Version != 1 {
		t.Errorf("Version = %d, expected 1", v1.Version)
	}

	v2 := testVersion("ver-2", "doc-1", "br-main", map[string]any{"title": "B"})
	v2.PredecessorID = strPtr("ver-1")
	v2 = appendTestVersion(t, s, v2, strPtr("ver-1"))
	if v2.Version != 2 {
		t.Errorf("Version = %d, expected 2", v2.Version)
	}
	if v2.Seq <= v1.Seq {
		t.Errorf("Seq = %d, expected > %d", v2.Seq, v1.Seq)
	}
}

func TestAppendVersion_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	createTestBranch(t, s, "br-main", "main", nil)

	v := testVersion("ver-1", "doc-1", "br-main", map[string]any{
		"title": "A",
		"meta":  map[string]any{"count": int64(3)},
	})
	v.Labels = map[string]string{"team": "docs"}
	appendTestVersion(t, s, v, nil)

	got, err := s.GetVersion(context.Background(), "ver-1")
	if err != nil {
		t.Fatalf("GetVersion() failed: %v", err)
	}

	// Numbers come back as json.Number to preserve precision.
	wantProps := map[string]any{
		"title": "A",
		"meta":  map[string]any{"count": json.Number("3")},
	}
	if !reflect.DeepEqual(got.Properties, wantProps) {
		t.Errorf("Properties = %#v, expected %#v", got.Properties, wantProps)
	}
	if !reflect.DeepEqual(got.Labels, map[string]string{"team": "docs"}) {
		t.Errorf("Labels = %#v", got.Labels)
	}
	if !reflect.DeepEqual(got.ChangeSummary, v.ChangeSummary) {
		t.Errorf("ChangeSummary = %+v, expected %+v", got.ChangeSummary, v.ChangeSummary)
	}
	if got.ContentHash != v.ContentHash {
		t.Errorf("ContentHash = %q, expected %q", got.ContentHash, v.ContentHash)
	}
	if got.Deleted() {
		t.Error("Deleted() = true for live version")
	}
	if !got.CreatedAt.Equal(testTime) {
		t.Errorf("CreatedAt = %v, expected %v", got.CreatedAt, testTime)
	}
	if got.CreatedBy != "tester" {
		t.Errorf("CreatedBy = %q", got.CreatedBy)
	}
}

func TestAppendVersion_HeadMovedConflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestBranch(t, s, "br-main", "main", nil)

	appendTestVersion(t, s, testVersion("ver-1", "doc-1", "br-main", map[string]any{"title": "A"}), nil)
	v2 := testVersion("ver-2", "doc-1", "br-main", map[string]any{"title": "B"})
	v2.PredecessorID = strPtr("ver-1")
	appendTestVersion(t, s, v2, strPtr("ver-1"))

	// A writer that still believes ver-1 is the head must fail.
	stale := testVersion("ver-3", "doc-1", "br-main", map[string]any{"title": "C"})
	stale.PredecessorID = strPtr("ver-1")
	_, err := s.AppendVersion(ctx, stale, strPtr("ver-1"), nil)
	if !IsConflict(err) {
		t.Fatalf("expected CONFLICT error, got %v", err)
	}

	// Nothing must have been written.
	if _, err := s.GetVersion(ctx, "ver-3"); !IsNotFound(err) {
		t.Errorf("stale version leaked: %v", err)
	}
}

func TestAppendVersion_ExpectAbsentConflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestBranch(t, s, "br-main", "main", nil)

	appendTestVersion(t, s, testVersion("ver-1", "doc-1", "br-main", map[string]any{"title": "A"}), nil)

	// Creating again with no expected head must conflict.
	_, err := s.AppendVersion(ctx, testVersion("ver-2", "doc-1", "br-main", map[string]any{"title": "B"}), nil, nil)
	if !IsConflict(err) {
		t.Fatalf("expected CONFLICT error, got %v", err)
	}
}

func TestAppendVersion_ExpectedHeadMissing(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestBranch(t, s, "br-main", "main", nil)

	_, err := s.AppendVersion(ctx, testVersion("ver-1", "doc-1", "br-main", map[string]any{"title": "A"}), strPtr("ver-0"), nil)
	if !IsConflict(err) {
		t.Fatalf("expected CONFLICT error, got %v", err)
	}
}

func TestHeadVersion(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestBranch(t, s, "br-main", "main", nil)
	createTestBranch(t, s, "br-feat", "feature", strPtr("br-main"))

	head, err := s.HeadVersion(ctx, "br-main", "doc-1")
	if err != nil {
		t.Fatalf("HeadVersion() failed: %v", err)
	}
	if head != nil {
		t.Fatalf("expected nil head, got %+v", head)
	}

	appendTestVersion(t, s, testVersion("ver-1", "doc-1", "br-main", map[string]any{"title": "A"}), nil)
	v2 := testVersion("ver-2", "doc-1", "br-main", map[string]any{"title": "B"})
	v2.PredecessorID = strPtr("ver-1")
	appendTestVersion(t, s, v2, strPtr("ver-1"))

	head, err = s.HeadVersion(ctx, "br-main", "doc-1")
	if err != nil {
		t.Fatalf("HeadVersion() failed: %v", err)
	}
	if head == nil || head.ID != "ver-2" {
		t.Fatalf("head = %+v, expected ver-2", head)
	}

	// Heads are branch-local; the child branch has no row of its own.
	head, err = s.HeadVersion(ctx, "br-feat", "doc-1")
	if err != nil {
		t.Fatalf("HeadVersion() failed: %v", err)
	}
	if head != nil {
		t.Errorf("expected nil head on child branch, got %+v", head)
	}
}

func TestHeadVersion_TombstoneIsHead(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestBranch(t, s, "br-main", "main", nil)

	appendTestVersion(t, s, testVersion("ver-1", "doc-1", "br-main", map[string]any{"title": "A"}), nil)

	tomb := testVersion("ver-2", "doc-1", "br-main", map[string]any{"title": "A"})
	tomb.PredecessorID = strPtr("ver-1")
	deletedAt := testTime.Add(time.Minute)
	tomb.DeletedAt = &deletedAt
	appendTestVersion(t, s, tomb, strPtr("ver-1"))

	head, err := s.HeadVersion(ctx, "br-main", "doc-1")
	if err != nil {
		t.Fatalf("HeadVersion() failed: %v", err)
	}
	if head == nil || !head.Deleted() {
		t.Fatalf("expected tombstone head, got %+v", head)
	}
}

func TestHeadByTypeAndKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestBranch(t, s, "br-main", "main", nil)

	head, err := s.HeadByTypeAndKey(ctx, "br-main", "document", "doc-1")
	if err != nil {
		t.Fatalf("HeadByTypeAndKey() failed: %v", err)
	}
	if head != nil {
		t.Fatalf("expected nil, got %+v", head)
	}

	appendTestVersion(t, s, testVersion("ver-1", "doc-1", "br-main", map[string]any{"title": "A"}), nil)

	head, err = s.HeadByTypeAndKey(ctx, "br-main", "document", "doc-1")
	if err != nil {
		t.Fatalf("HeadByTypeAndKey() failed: %v", err)
	}
	if head == nil || head.ID != "ver-1" {
		t.Fatalf("head = %+v, expected ver-1", head)
	}

	// Different type, same key resolves nothing.
	head, err = s.HeadByTypeAndKey(ctx, "br-main", "note", "doc-1")
	if err != nil {
		t.Fatalf("HeadByTypeAndKey() failed: %v", err)
	}
	if head != nil {
		t.Errorf("expected nil for other type, got %+v", head)
	}
}

func TestBranchHeads(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestBranch(t, s, "br-main", "main", nil)

	appendTestVersion(t, s, testVersion("ver-b1", "doc-b", "br-main", map[string]any{"title": "B1"}), nil)
	appendTestVersion(t, s, testVersion("ver-a1", "doc-a", "br-main", map[string]any{"title": "A1"}), nil)
	v := testVersion("ver-b2", "doc-b", "br-main", map[string]any{"title": "B2"})
	v.PredecessorID = strPtr("ver-b1")
	appendTestVersion(t, s, v, strPtr("ver-b1"))

	heads, err := s.BranchHeads(ctx, "br-main")
	if err != nil {
		t.Fatalf("BranchHeads() failed: %v", err)
	}
	if len(heads) != 2 {
		t.Fatalf("got %d heads, expected 2", len(heads))
	}
	// Ordered by canonical id.
	if heads[0].ID != "ver-a1" || heads[1].ID != "ver-b2" {
		t.Errorf("heads = [%s, %s], expected [ver-a1, ver-b2]", heads[0].ID, heads[1].ID)
	}
}

func TestBranchHeads_Empty(t *testing.T) {
	s := createTestStore(t)
	createTestBranch(t, s, "br-main", "main", nil)

	heads, err := s.BranchHeads(context.Background(), "br-main")
	if err != nil {
		t.Fatalf("BranchHeads() failed: %v", err)
	}
	if heads == nil {
		t.Error("expected empty slice, got nil")
	}
	if len(heads) != 0 {
		t.Errorf("expected no heads, got %d", len(heads))
	}
}

func TestChainVersions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestBranch(t, s, "br-main", "main", nil)
	createTestBranch(t, s, "br-feat", "feature", strPtr("br-main"))

	appendTestVersion(t, s, testVersion("ver-1", "doc-1", "br-main", map[string]any{"title": "A"}), nil)

	// An edit of the inherited object lands on the child branch but keeps
	// the cross-branch predecessor link.
	v2 := testVersion("ver-2", "doc-1", "br-feat", map[string]any{"title": "B"})
	v2.PredecessorID = strPtr("ver-1")
	appendTestVersion(t, s, v2, nil)

	v3 := testVersion("ver-3", "doc-1", "br-feat", map[string]any{"title": "C"})
	v3.PredecessorID = strPtr("ver-2")
	appendTestVersion(t, s, v3, strPtr("ver-2"))

	chain, err := s.ChainVersions(ctx, "ver-3", 0)
	if err != nil {
		t.Fatalf("ChainVersions() failed: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("got %d versions, expected 3", len(chain))
	}
	ids := []string{chain[0].ID, chain[1].ID, chain[2].ID}
	if ids[0] != "ver-3" || ids[1] != "ver-2" || ids[2] != "ver-1" {
		t.Errorf("chain = %v, expected [ver-3 ver-2 ver-1]", ids)
	}

	// Limit cuts the walk short.
	chain, err = s.ChainVersions(ctx, "ver-3", 2)
	if err != nil {
		t.Fatalf("ChainVersions() failed: %v", err)
	}
	if len(chain) != 2 {
		t.Errorf("got %d versions with limit 2", len(chain))
	}
}

func TestChainVersions_UnknownStart(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ChainVersions(context.Background(), "ver-missing", 0)
	if !IsNotFound(err) {
		t.Fatalf("expected NOT_FOUND error, got %v", err)
	}
}

func TestListVersions_Filter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestBranch(t, s, "br-main", "main", nil)
	createTestBranch(t, s, "br-feat", "feature", strPtr("br-main"))

	appendTestVersion(t, s, testVersion("ver-1", "doc-1", "br-main", map[string]any{"n": int64(1)}), nil)
	v2 := testVersion("ver-2", "doc-1", "br-main", map[string]any{"n": int64(2)})
	v2.PredecessorID = strPtr("ver-1")
	appendTestVersion(t, s, v2, strPtr("ver-1"))
	appendTestVersion(t, s, testVersion("ver-3", "doc-2", "br-feat", map[string]any{"n": int64(3)}), nil)

	got, err := s.ListVersions(ctx, VersionFilter{BranchID: "br-main"})
	if err != nil {
		t.Fatalf("ListVersions() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d versions, expected 2", len(got))
	}
	if got[0].ID != "ver-1" || got[1].ID != "ver-2" {
		t.Errorf("order = [%s, %s], expected seq order", got[0].ID, got[1].ID)
	}

	got, err = s.ListVersions(ctx, VersionFilter{CanonicalID: "doc-2"})
	if err != nil {
		t.Fatalf("ListVersions() failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "ver-3" {
		t.Errorf("canonical filter returned %+v", got)
	}

	got, err = s.ListVersions(ctx, VersionFilter{AfterSeq: got[0].Seq})
	if err != nil {
		t.Fatalf("ListVersions() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("AfterSeq filter returned %d rows", len(got))
	}

	got, err = s.ListVersions(ctx, VersionFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListVersions() failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Limit filter returned %d rows", len(got))
	}
}

func TestListVersions_EmptyResult(t *testing.T) {
	s := createTestStore(t)

	got, err := s.ListVersions(context.Background(), VersionFilter{BranchID: "br-none"})
	if err != nil {
		t.Fatalf("ListVersions() failed: %v", err)
	}
	if got == nil {
		t.Error("expected empty slice, got nil")
	}
}

func TestVersionOrderingIsDeterministic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestBranch(t, s, "br-main", "main", nil)

	appendTestVersion(t, s, testVersion("ver-1", "doc-1", "br-main", map[string]any{"n": int64(1)}), nil)
	v := testVersion("ver-2", "doc-1", "br-main", map[string]any{"n": int64(2)})
	v.PredecessorID = strPtr("ver-1")
	appendTestVersion(t, s, v, strPtr("ver-1"))

	first, err := s.ListVersions(ctx, VersionFilter{})
	if err != nil {
		t.Fatalf("ListVersions() failed: %v", err)
	}
	second, err := s.ListVersions(ctx, VersionFilter{})
	if err != nil {
		t.Fatalf("ListVersions() failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("repeated listings differ")
	}
}

func TestChangeSummaryRoundTrip(t *testing.T) {
	s := createTestStore(t)
	createTestBranch(t, s, "br-main", "main", nil)

	v := testVersion("ver-1", "doc-1", "br-main", map[string]any{"title": "B"})
	v.ChangeSummary = diff.Summary{
		Added:   []string{"/body"},
		Removed: []string{"/old"},
		Changed: []string{"/title"},
	}
	appendTestVersion(t, s, v, nil)

	got, err := s.GetVersion(context.Background(), "ver-1")
	if err != nil {
		t.Fatalf("GetVersion() failed: %v", err)
	}
	if !reflect.DeepEqual(got.ChangeSummary, v.ChangeSummary) {
		t.Errorf("ChangeSummary = %+v", got.ChangeSummary)
	}
}
