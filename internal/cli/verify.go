package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/emergent/loom/internal/graph"
)

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Audit store integrity",
		Long: `Audit the whole store.

Recomputes content hashes and change summaries for every version,
checks predecessor pointers, per-branch version counters and overflow
references, and rebuilds each branch's lineage closure from parent
pointers. Issues are reported as data.

Exits 0 when the store is clean and 1 when any issue is found.

Example:
  loom verify --db ./loom.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, cmd)
		},
	}
	return cmd
}

func runVerify(opts *RootOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	env, err := openEnv(opts)
	if err != nil {
		return err
	}
	defer env.Close()

	report, err := env.graph.VerifyChains(ctx)
	if err != nil {
		return renderError(formatter, err)
	}

	if opts.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		outputVerifyText(cmd.OutOrStdout(), report)
	}

	if !report.Clean() {
		return NewExitError(ExitFailure, fmt.Sprintf("verification found %d issue(s)", len(report.Issues)))
	}
	return nil
}

// outputVerifyText renders a verification report as text.
func outputVerifyText(w io.Writer, report graph.VerifyReport) {
	if report.Clean() {
		fmt.Fprintf(w, "✓ Store is consistent (%d versions, %d branches)\n", report.Versions, report.Branches)
		return
	}

	fmt.Fprintf(w, "✗ Found %d issue(s) across %d versions, %d branches\n",
		len(report.Issues), report.Versions, report.Branches)
	fmt.Fprintln(w)
	for _, issue := range report.Issues {
		fmt.Fprintf(w, "  [%s] %s\n", issue.Code, issue.Message)
		switch {
		case issue.VersionID != "":
			fmt.Fprintf(w, "        version %s on branch %s\n", issue.VersionID, issue.BranchID)
		case issue.BranchID != "":
			fmt.Fprintf(w, "        branch %s\n", issue.BranchID)
		}
	}
}
