package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/emergent/loom/internal/diff"
)

// versionColumns is the canonical select list for object_versions. Scan
// order must match scanVersion.
const versionColumns = `seq, id, canonical_id, branch_id, object_type, object_key,
	version, properties, labels, content_hash, change_summary,
	predecessor_id, deleted_at, created_at, created_by`

// AppendVersion inserts one immutable version row.
//
// expectHeadID is the branch-local head the caller observed before
// deciding to write: nil means no row may exist yet for the canonical
// object on this branch, non-nil means that exact row must still be the
// branch-local head. The check runs inside the transaction, so a head that
// moved since the caller resolved it fails with a CONFLICT error instead
// of silently forking the chain.
//
// The store assigns Seq and the branch-local Version counter; the returned
// copy carries both. Displaced overflow values, if any, are written in the
// same transaction.
func (s *Store) AppendVersion(ctx context.Context, v ObjectVersion, expectHeadID *string, overflows []diff.OverflowValue) (ObjectVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ObjectVersion{}, fmt.Errorf("append version: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := s.insertVersionTx(ctx, tx, &v, expectHeadID); err != nil {
		return ObjectVersion{}, err
	}

	if err := insertOverflowsTx(ctx, tx, s.enc, overflows, v.CreatedAt); err != nil {
		return ObjectVersion{}, err
	}

	if err := tx.Commit(); err != nil {
		return ObjectVersion{}, fmt.Errorf("append version: commit: %w", err)
	}

	return v, nil
}

// ApplyMerge writes every version a merge produced, their provenance
// edges, and any displaced overflow values in a single transaction. Each
// insert re-checks the branch-local head recorded at classification time;
// any moved head aborts the whole merge with a CONFLICT error so a
// concurrent write cannot be half-merged over.
//
// Returns the inserted versions with assigned Seq and Version counters, in
// input order.
func (s *Store) ApplyMerge(ctx context.Context, inserts []MergeInsert, parents []MergeParent, overflows []diff.OverflowValue, mergedAt time.Time) ([]ObjectVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("apply merge: begin tx: %w", err)
	}
	defer tx.Rollback()

	written := make([]ObjectVersion, 0, len(inserts))
	for _, ins := range inserts {
		v := ins.Version
		if err := s.insertVersionTx(ctx, tx, &v, ins.ExpectHeadID); err != nil {
			return nil, err
		}
		written = append(written, v)
	}

	if err := insertMergeParentsTx(ctx, tx, parents); err != nil {
		return nil, err
	}

	if err := insertOverflowsTx(ctx, tx, s.enc, overflows, mergedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("apply merge: commit: %w", err)
	}

	return written, nil
}

// insertVersionTx performs the head expectation check, assigns the
// branch-local version counter, and inserts the row. Mutates v with the
// assigned Seq and Version.
func (s *Store) insertVersionTx(ctx context.Context, tx *sql.Tx, v *ObjectVersion, expectHeadID *string) error {
	propsJSON, err := marshalProperties(v.Properties)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	labelsJSON, err := marshalLabels(v.Labels)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	summaryJSON, err := marshalSummary(v.ChangeSummary)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	// Re-check the branch-local head inside the transaction.
	var headID string
	var headVersion int
	err = tx.QueryRowContext(ctx, `
		SELECT id, version FROM object_versions
		WHERE branch_id = ? AND canonical_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, v.BranchID, v.CanonicalID).Scan(&headID, &headVersion)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if expectHeadID != nil {
			return NewConflict("version head no longer exists", map[string]string{
				"canonical_id": v.CanonicalID,
				"branch_id":    v.BranchID,
				"expected":     *expectHeadID,
			})
		}
		v.Version = 1
	case err != nil:
		return fmt.Errorf("insert version: head check: %w", err)
	default:
		if expectHeadID == nil || *expectHeadID != headID {
			expected := "(none)"
			if expectHeadID != nil {
				expected = *expectHeadID
			}
			return NewConflict("version head moved", map[string]string{
				"canonical_id": v.CanonicalID,
				"branch_id":    v.BranchID,
				"expected":     expected,
				"actual":       headID,
			})
		}
		v.Version = headVersion + 1
	}

	var labels any
	if labelsJSON != "" {
		labels = labelsJSON
	}
	var deletedAt any
	if v.DeletedAt != nil {
		deletedAt = v.DeletedAt.UTC()
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO object_versions
		(id, canonical_id, branch_id, object_type, object_key, version,
		 properties, labels, content_hash, change_summary, predecessor_id,
		 deleted_at, created_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		v.ID,
		v.CanonicalID,
		v.BranchID,
		v.Type,
		v.Key,
		v.Version,
		propsJSON,
		labels,
		v.ContentHash,
		summaryJSON,
		v.PredecessorID,
		deletedAt,
		v.CreatedAt.UTC(),
		v.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert version: last insert id: %w", err)
	}
	v.Seq = seq

	return nil
}

// GetVersion retrieves a single version by its id.
// Returns a NOT_FOUND error if it does not exist.
func (s *Store) GetVersion(ctx context.Context, id string) (ObjectVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM object_versions
		WHERE id = ?
	`, id)

	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ObjectVersion{}, NewNotFound("version", id)
	}
	if err != nil {
		return ObjectVersion{}, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

// HeadVersion returns the branch-local head of a canonical object: the row
// with the greatest seq on that branch, tombstones included. Returns
// (nil, nil) when the branch has no row for the object at all; inherited
// visibility is the lineage layer's concern, not the store's.
func (s *Store) HeadVersion(ctx context.Context, branchID, canonicalID string) (*ObjectVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM object_versions
		WHERE branch_id = ? AND canonical_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, branchID, canonicalID)

	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("head version: %w", err)
	}
	return &v, nil
}

// HeadByTypeAndKey returns the branch-local head row for whichever
// canonical object most recently held the (type, key) pair on the branch.
// Returns (nil, nil) when no row matches. The row may be a tombstone,
// which means the key is free for reuse.
func (s *Store) HeadByTypeAndKey(ctx context.Context, branchID, objectType, objectKey string) (*ObjectVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM object_versions
		WHERE branch_id = ? AND object_type = ? AND object_key = ?
		ORDER BY seq DESC
		LIMIT 1
	`, branchID, objectType, objectKey)

	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("head by type and key: %w", err)
	}
	return &v, nil
}

// BranchHeads returns the branch-local head of every canonical object that
// has at least one row on the branch, tombstones included, ordered by
// canonical id for deterministic iteration.
func (s *Store) BranchHeads(ctx context.Context, branchID string) ([]ObjectVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM object_versions
		WHERE branch_id = ?
		  AND seq IN (
			SELECT MAX(seq) FROM object_versions
			WHERE branch_id = ?
			GROUP BY canonical_id
		  )
		ORDER BY canonical_id COLLATE BINARY ASC
	`, branchID, branchID)
	if err != nil {
		return nil, fmt.Errorf("query branch heads: %w", err)
	}
	defer rows.Close()

	var heads []ObjectVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan branch head: %w", err)
		}
		heads = append(heads, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branch heads: %w", err)
	}

	// Return empty slice instead of nil
	if heads == nil {
		heads = []ObjectVersion{}
	}

	return heads, nil
}

// ChainVersions walks the predecessor chain starting at the given version,
// newest first. limit bounds the walk; limit <= 0 walks the whole chain.
// Returns a NOT_FOUND error when the starting version does not exist or
// the chain references a missing predecessor.
func (s *Store) ChainVersions(ctx context.Context, headID string, limit int) ([]ObjectVersion, error) {
	var chain []ObjectVersion
	seen := make(map[string]struct{})

	id := headID
	for {
		if limit > 0 && len(chain) >= limit {
			break
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("chain versions: cycle detected at %s", id)
		}
		seen[id] = struct{}{}

		v, err := s.GetVersion(ctx, id)
		if err != nil {
			return nil, err
		}
		chain = append(chain, v)

		if v.PredecessorID == nil {
			break
		}
		id = *v.PredecessorID
	}

	return chain, nil
}

// scanVersion scans a row into an ObjectVersion struct.
func scanVersion(row scanner) (ObjectVersion, error) {
	var v ObjectVersion
	var propsJSON, summaryJSON string
	var labelsJSON, predecessor sql.NullString
	var deletedAt sql.NullTime

	if err := row.Scan(
		&v.Seq, &v.ID, &v.CanonicalID, &v.BranchID, &v.Type, &v.Key,
		&v.Version, &propsJSON, &labelsJSON, &v.ContentHash, &summaryJSON,
		&predecessor, &deletedAt, &v.CreatedAt, &v.CreatedBy,
	); err != nil {
		return ObjectVersion{}, err
	}

	props, err := unmarshalProperties(propsJSON)
	if err != nil {
		return ObjectVersion{}, err
	}
	v.Properties = props

	if labelsJSON.Valid {
		labels, err := unmarshalLabels(labelsJSON.String)
		if err != nil {
			return ObjectVersion{}, err
		}
		v.Labels = labels
	}

	summary, err := unmarshalSummary(summaryJSON)
	if err != nil {
		return ObjectVersion{}, err
	}
	v.ChangeSummary = summary

	if predecessor.Valid {
		v.PredecessorID = &predecessor.String
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		v.DeletedAt = &t
	}

	return v, nil
}
