package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateBranch inserts a branch and its full lineage closure in one
// transaction. The closure is the parent's closure shifted one level down,
// plus the branch itself at depth 0, so ancestor resolution never has to
// walk parent pointers at read time.
//
// Returns a CONFLICT error when the (org, project, name) triple is taken
// and a NOT_FOUND error when the parent branch does not exist.
func (s *Store) CreateBranch(ctx context.Context, b Branch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create branch: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	// Name uniqueness surfaces as a typed conflict rather than a raw
	// constraint error.
	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM branches
		WHERE org_id = ? AND project_id = ? AND name = ?
	`, b.OrgID, b.ProjectID, b.Name).Scan(&existing)
	switch {
	case err == nil:
		return NewConflict("branch name already in use", map[string]string{
			"name":     b.Name,
			"existing": existing,
		})
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("create branch: check name: %w", err)
	}

	if b.ParentBranchID != nil {
		var parentExists int
		err = tx.QueryRowContext(ctx, `
			SELECT 1 FROM branches WHERE id = ?
		`, *b.ParentBranchID).Scan(&parentExists)
		if errors.Is(err, sql.ErrNoRows) {
			return NewNotFound("branch", *b.ParentBranchID)
		}
		if err != nil {
			return fmt.Errorf("create branch: check parent: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO branches
		(id, org_id, project_id, name, parent_branch_id, is_default, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID,
		b.OrgID,
		b.ProjectID,
		b.Name,
		b.ParentBranchID,
		b.IsDefault,
		b.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create branch: insert: %w", err)
	}

	// Self row at depth 0.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO branch_lineage (branch_id, ancestor_id, depth)
		VALUES (?, ?, 0)
	`, b.ID, b.ID)
	if err != nil {
		return fmt.Errorf("create branch: insert self lineage: %w", err)
	}

	// Parent's closure shifted by one.
	if b.ParentBranchID != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO branch_lineage (branch_id, ancestor_id, depth)
			SELECT ?, ancestor_id, depth + 1
			FROM branch_lineage
			WHERE branch_id = ?
		`, b.ID, *b.ParentBranchID)
		if err != nil {
			return fmt.Errorf("create branch: insert parent lineage: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create branch: commit: %w", err)
	}

	return nil
}

// GetBranch retrieves a branch by ID.
// Returns a NOT_FOUND error if it does not exist.
func (s *Store) GetBranch(ctx context.Context, id string) (Branch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, project_id, name, parent_branch_id, is_default, created_at
		FROM branches
		WHERE id = ?
	`, id)

	b, err := scanBranch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Branch{}, NewNotFound("branch", id)
	}
	if err != nil {
		return Branch{}, fmt.Errorf("get branch: %w", err)
	}
	return b, nil
}

// GetBranchByName retrieves a branch by its (org, project, name) triple.
// Returns a NOT_FOUND error if it does not exist.
func (s *Store) GetBranchByName(ctx context.Context, orgID, projectID, name string) (Branch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, project_id, name, parent_branch_id, is_default, created_at
		FROM branches
		WHERE org_id = ? AND project_id = ? AND name = ?
	`, orgID, projectID, name)

	b, err := scanBranch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Branch{}, NewNotFound("branch", name)
	}
	if err != nil {
		return Branch{}, fmt.Errorf("get branch by name: %w", err)
	}
	return b, nil
}

// ListBranches returns all branches of a project with deterministic
// ordering by creation, then id.
func (s *Store) ListBranches(ctx context.Context, orgID, projectID string) ([]Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, project_id, name, parent_branch_id, is_default, created_at
		FROM branches
		WHERE org_id = ? AND project_id = ?
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`, orgID, projectID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	var branches []Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		branches = append(branches, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branches: %w", err)
	}

	// Return empty slice instead of nil
	if branches == nil {
		branches = []Branch{}
	}

	return branches, nil
}

// AllBranches returns every branch in the store ordered by creation, then
// id. Used by chain verification, which audits across projects.
func (s *Store) AllBranches(ctx context.Context) ([]Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, project_id, name, parent_branch_id, is_default, created_at
		FROM branches
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list all branches: %w", err)
	}
	defer rows.Close()

	var branches []Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		branches = append(branches, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branches: %w", err)
	}

	if branches == nil {
		branches = []Branch{}
	}

	return branches, nil
}

// Ancestors returns the lineage closure of a branch ordered nearest-first:
// the branch itself at depth 0, then its parent, and so on up to the root.
// Returns a NOT_FOUND error when the branch does not exist.
func (s *Store) Ancestors(ctx context.Context, branchID string) ([]LineageEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT branch_id, ancestor_id, depth
		FROM branch_lineage
		WHERE branch_id = ?
		ORDER BY depth ASC
	`, branchID)
	if err != nil {
		return nil, fmt.Errorf("query ancestors: %w", err)
	}
	defer rows.Close()

	var entries []LineageEntry
	for rows.Next() {
		var e LineageEntry
		if err := rows.Scan(&e.BranchID, &e.AncestorID, &e.Depth); err != nil {
			return nil, fmt.Errorf("scan lineage entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lineage: %w", err)
	}

	// Every existing branch has at least its depth-0 self row.
	if len(entries) == 0 {
		return nil, NewNotFound("branch", branchID)
	}

	return entries, nil
}

// scanner abstracts sql.Row and sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

// scanBranch scans a row into a Branch struct.
func scanBranch(row scanner) (Branch, error) {
	var b Branch
	var parent sql.NullString
	if err := row.Scan(
		&b.ID, &b.OrgID, &b.ProjectID, &b.Name, &parent, &b.IsDefault, &b.CreatedAt,
	); err != nil {
		return Branch{}, err
	}
	if parent.Valid {
		b.ParentBranchID = &parent.String
	}
	return b, nil
}
