package store

import (
	"context"
	"fmt"
	"strings"
)

// VersionFilter selects version rows for listing. Zero-valued fields are
// ignored; all set fields combine with AND. Results are ordered by seq
// ascending so callers can page with AfterSeq.
type VersionFilter struct {
	BranchID    string
	CanonicalID string
	Type        string
	Key         string

	// AfterSeq restricts results to rows with seq strictly greater.
	AfterSeq int64

	// Limit bounds the result size; <= 0 means no limit.
	Limit int
}

// ListVersions returns version rows matching the filter in insertion
// order. Used by chain verification and the CLI; head resolution goes
// through HeadVersion and BranchHeads instead.
func (s *Store) ListVersions(ctx context.Context, f VersionFilter) ([]ObjectVersion, error) {
	var conds []string
	var args []any

	if f.BranchID != "" {
		conds = append(conds, "branch_id = ?")
		args = append(args, f.BranchID)
	}
	if f.CanonicalID != "" {
		conds = append(conds, "canonical_id = ?")
		args = append(args, f.CanonicalID)
	}
	if f.Type != "" {
		conds = append(conds, "object_type = ?")
		args = append(args, f.Type)
	}
	if f.Key != "" {
		conds = append(conds, "object_key = ?")
		args = append(args, f.Key)
	}
	if f.AfterSeq > 0 {
		conds = append(conds, "seq > ?")
		args = append(args, f.AfterSeq)
	}

	query := "SELECT " + versionColumns + " FROM object_versions"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []ObjectVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}

	// Return empty slice instead of nil
	if versions == nil {
		versions = []ObjectVersion{}
	}

	return versions, nil
}
