package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/emergent/loom/internal/graph"
	"github.com/emergent/loom/internal/store"
)

// BranchView is the CLI projection of a branch.
type BranchView struct {
	ID             string    `json:"id"`
	OrgID          string    `json:"org_id"`
	ProjectID      string    `json:"project_id"`
	Name           string    `json:"name"`
	ParentBranchID *string   `json:"parent_branch_id,omitempty"`
	IsDefault      bool      `json:"is_default"`
	CreatedAt      time.Time `json:"created_at"`
}

func newBranchView(b store.Branch) BranchView {
	return BranchView{
		ID:             b.ID,
		OrgID:          b.OrgID,
		ProjectID:      b.ProjectID,
		Name:           b.Name,
		ParentBranchID: b.ParentBranchID,
		IsDefault:      b.IsDefault,
		CreatedAt:      b.CreatedAt,
	}
}

// NewBranchCommand creates the branch command group.
func NewBranchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Create and inspect branches",
	}
	cmd.AddCommand(newBranchCreateCommand(rootOpts))
	cmd.AddCommand(newBranchListCommand(rootOpts))
	return cmd
}

// BranchCreateOptions holds flags for branch create.
type BranchCreateOptions struct {
	*RootOptions
	Name      string
	Parent    string
	OrgID     string
	ProjectID string
	IsDefault bool
}

func newBranchCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BranchCreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a branch",
		Long: `Create a branch, optionally forked from a parent.

A branch with no parent is a root. Child branches see every object
visible on their ancestors until they shadow it with their own writes.
Branch names are unique within a project.

Examples:
  loom branch create --db ./loom.db --org acme --project web --name main
  loom branch create --db ./loom.db --org acme --project web --name feature --parent <main-id>`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBranchCreate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "branch name (required)")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&opts.OrgID, "org", "", "organization id (required)")
	_ = cmd.MarkFlagRequired("org")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id (required)")
	_ = cmd.MarkFlagRequired("project")
	cmd.Flags().StringVar(&opts.Parent, "parent", "", "parent branch id")
	cmd.Flags().BoolVar(&opts.IsDefault, "default", false, "mark as the project default branch")

	return cmd
}

func runBranchCreate(opts *BranchCreateOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	env, err := openEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	created, err := env.graph.CreateBranch(ctx, graph.BranchRequest{
		OrgID:          opts.OrgID,
		ProjectID:      opts.ProjectID,
		Name:           opts.Name,
		ParentBranchID: opts.Parent,
		IsDefault:      opts.IsDefault,
	})
	if err != nil {
		return renderError(formatter, err)
	}

	if opts.Format == "json" {
		return formatter.Success(newBranchView(created))
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Created branch %s\n", created.Name)
	fmt.Fprintf(w, "  ID:      %s\n", created.ID)
	if created.ParentBranchID != nil {
		fmt.Fprintf(w, "  Parent:  %s\n", *created.ParentBranchID)
	}
	fmt.Fprintf(w, "  Project: %s/%s\n", created.OrgID, created.ProjectID)
	return nil
}

// BranchListOptions holds flags for branch list.
type BranchListOptions struct {
	*RootOptions
	OrgID     string
	ProjectID string
}

func newBranchListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BranchListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List branches in a project",
		Long: `List the branches of a project, oldest first. The default branch
is marked with an asterisk in text output.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBranchList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.OrgID, "org", "", "organization id (required)")
	_ = cmd.MarkFlagRequired("org")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id (required)")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func runBranchList(opts *BranchListOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	env, err := openEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	branches, err := env.store.ListBranches(ctx, opts.OrgID, opts.ProjectID)
	if err != nil {
		return renderError(formatter, err)
	}

	if opts.Format == "json" {
		views := make([]BranchView, len(branches))
		for i, b := range branches {
			views[i] = newBranchView(b)
		}
		return formatter.Success(views)
	}

	w := cmd.OutOrStdout()
	if len(branches) == 0 {
		fmt.Fprintln(w, "No branches found.")
		return nil
	}
	for _, b := range branches {
		marker := " "
		if b.IsDefault {
			marker = "*"
		}
		parent := "-"
		if b.ParentBranchID != nil {
			parent = *b.ParentBranchID
		}
		fmt.Fprintf(w, "%s %-20s %s  parent=%s\n", marker, b.Name, b.ID, parent)
	}
	return nil
}
