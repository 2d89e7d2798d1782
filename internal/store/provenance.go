package store

import (
	"context"
	"database/sql"
	"fmt"
)

// insertMergeParentsTx writes provenance edges inside a merge transaction.
// ON CONFLICT DO NOTHING collapses duplicate parents: when the base of a
// fast-forward IS the target head, the target and base edges share a
// parent id and only the first insert (ordered target, source, base by the
// caller) survives.
func insertMergeParentsTx(ctx context.Context, tx *sql.Tx, parents []MergeParent) error {
	for _, p := range parents {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO merge_provenance
			(version_id, parent_version_id, role, merged_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(version_id, parent_version_id) DO NOTHING
		`,
			p.VersionID,
			p.ParentVersionID,
			string(p.Role),
			p.MergedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert merge parent: %w", err)
		}
	}
	return nil
}

// MergeParents returns the provenance edges of a merge-written version
// (backward trace). Answers: "which versions fed this one?"
// Results ordered by insertion, which the merge engine fixes as target,
// source, then base.
func (s *Store) MergeParents(ctx context.Context, versionID string) ([]MergeParent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version_id, parent_version_id, role, merged_at
		FROM merge_provenance
		WHERE version_id = ?
		ORDER BY id ASC
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("query merge parents: %w", err)
	}
	defer rows.Close()

	return collectMergeParents(rows)
}

// MergeChildren returns the provenance edges in which a version served as
// a parent (forward trace). Answers: "which merges consumed this version?"
// Results ordered by insertion.
func (s *Store) MergeChildren(ctx context.Context, parentVersionID string) ([]MergeParent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version_id, parent_version_id, role, merged_at
		FROM merge_provenance
		WHERE parent_version_id = ?
		ORDER BY id ASC
	`, parentVersionID)
	if err != nil {
		return nil, fmt.Errorf("query merge children: %w", err)
	}
	defer rows.Close()

	return collectMergeParents(rows)
}

func collectMergeParents(rows *sql.Rows) ([]MergeParent, error) {
	var edges []MergeParent
	for rows.Next() {
		var e MergeParent
		var role string
		if err := rows.Scan(&e.ID, &e.VersionID, &e.ParentVersionID, &role, &e.MergedAt); err != nil {
			return nil, fmt.Errorf("scan merge parent: %w", err)
		}
		e.Role = ProvenanceRole(role)
		edges = append(edges, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate merge parents: %w", err)
	}

	// Return empty slice instead of nil
	if edges == nil {
		edges = []MergeParent{}
	}

	return edges, nil
}
