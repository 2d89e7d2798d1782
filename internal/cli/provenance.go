package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/emergent/loom/internal/store"
)

// ProvenanceOptions holds flags for the provenance command.
type ProvenanceOptions struct {
	*RootOptions
	VersionID string
	Direction string
}

// ProvenanceEdgeView is one merge ancestry edge in CLI output.
type ProvenanceEdgeView struct {
	VersionID       string    `json:"version_id"`
	ParentVersionID string    `json:"parent_version_id"`
	Role            string    `json:"role"`
	MergedAt        time.Time `json:"merged_at"`
}

// NewProvenanceCommand creates the provenance command.
func NewProvenanceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProvenanceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "provenance",
		Short: "Query merge ancestry for a version",
		Long: `Query the provenance edges recorded when merges wrote versions.

Direction "contributors" (the default) lists the parent versions a
merge combined to produce the named version: its target head, source
head and shared base. Direction "contributions" lists the merge-written
versions the named version fed into.

Versions written by plain edits have no provenance edges.

Examples:
  loom provenance --db ./loom.db --version <id>
  loom provenance --db ./loom.db --version <id> --direction contributions`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvenance(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.VersionID, "version", "", "version id (required)")
	_ = cmd.MarkFlagRequired("version")
	cmd.Flags().StringVar(&opts.Direction, "direction", "contributors", "contributors|contributions")

	return cmd
}

func runProvenance(opts *ProvenanceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	env, err := openEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	edges, err := env.graph.Provenance(ctx, opts.VersionID, opts.Direction)
	if err != nil {
		return renderError(formatter, err)
	}

	if opts.Format == "json" {
		views := make([]ProvenanceEdgeView, len(edges))
		for i, e := range edges {
			views[i] = newEdgeView(e)
		}
		return formatter.Success(views)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Provenance for %s (%s)\n", opts.VersionID, opts.Direction)
	if len(edges) == 0 {
		fmt.Fprintln(w, "  (no merge edges)")
		return nil
	}
	for _, e := range edges {
		fmt.Fprintf(w, "  %s -[%s]-> %s  at %s\n",
			e.ParentVersionID, e.Role, e.VersionID, e.MergedAt.Format(time.RFC3339))
	}
	return nil
}

func newEdgeView(e store.MergeParent) ProvenanceEdgeView {
	return ProvenanceEdgeView{
		VersionID:       e.VersionID,
		ParentVersionID: e.ParentVersionID,
		Role:            string(e.Role),
		MergedAt:        e.MergedAt,
	}
}
