package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emergent/loom/internal/merge"
)

// MergeOptions holds flags for the merge command.
type MergeOptions struct {
	*RootOptions
	Target         string
	Source         string
	Execute        bool
	Limit          int
	FailOnConflict bool
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MergeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Classify or apply a branch merge",
		Long: `Merge a source branch into a target branch.

Without --execute the command is a dry run: every object visible on
either branch is classified (added, fast_forward, conflict, unchanged)
and nothing is written. With --execute the added and fast-forward
objects are applied to the target in one transaction. Conflicts never
abort the run; they are reported per object for the caller to resolve.

Examples:
  loom merge --db ./loom.db --target <id> --source <id>
  loom merge --db ./loom.db --target <id> --source <id> --execute
  loom merge --db ./loom.db --target <id> --source <id> --execute --fail-on-conflict`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Target, "target", "", "target branch id (required)")
	_ = cmd.MarkFlagRequired("target")
	cmd.Flags().StringVar(&opts.Source, "source", "", "source branch id (required)")
	_ = cmd.MarkFlagRequired("source")
	cmd.Flags().BoolVar(&opts.Execute, "execute", false, "apply qualifying objects instead of dry-running")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "cap reported objects (0 uses the engine default)")
	cmd.Flags().BoolVar(&opts.FailOnConflict, "fail-on-conflict", false, "exit 1 when any object classifies as conflict")

	return cmd
}

func runMerge(opts *MergeOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	env, err := openEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	result, err := env.merge.Run(ctx, merge.Request{
		TargetBranchID: opts.Target,
		SourceBranchID: opts.Source,
		Execute:        opts.Execute,
		Limit:          opts.Limit,
	})
	if err != nil {
		return renderError(formatter, err)
	}

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		outputMergeText(cmd.OutOrStdout(), result, opts.Verbose)
	}

	if opts.FailOnConflict && result.HasConflicts() {
		return NewExitError(ExitFailure, fmt.Sprintf("merge has %d conflicting object(s)", result.ConflictCount))
	}
	return nil
}

// outputMergeText renders the merge result as sectioned text. Unchanged
// objects are listed only in verbose mode.
func outputMergeText(w io.Writer, result *merge.Result, verbose bool) {
	mode := "dry run"
	if !result.DryRun {
		mode = "executed"
	}
	fmt.Fprintf(w, "Merge %s -> %s (%s)\n", result.SourceBranchID, result.TargetBranchID, mode)
	if result.BaseBranchID != nil {
		fmt.Fprintf(w, "Common ancestor branch: %s\n", *result.BaseBranchID)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Objects ===")
	listed := 0
	for _, obj := range result.Objects {
		if obj.Status == merge.Unchanged && !verbose {
			continue
		}
		listed++
		fmt.Fprintf(w, "  [%s] %s/%s\n", obj.Status, obj.Type, obj.Key)
		if len(obj.Conflicts) > 0 {
			fmt.Fprintf(w, "       conflicts: %s\n", strings.Join(obj.Conflicts, " "))
		}
		if obj.Reason != "" {
			fmt.Fprintf(w, "       reason: %s\n", obj.Reason)
		}
		if verbose {
			if len(obj.SourcePaths) > 0 {
				fmt.Fprintf(w, "       source: %s\n", strings.Join(obj.SourcePaths, " "))
			}
			if len(obj.TargetPaths) > 0 {
				fmt.Fprintf(w, "       target: %s\n", strings.Join(obj.TargetPaths, " "))
			}
		}
		if obj.AppliedVersionID != nil {
			fmt.Fprintf(w, "       applied: %s\n", *obj.AppliedVersionID)
		}
	}
	if listed == 0 {
		fmt.Fprintln(w, "  (nothing to merge)")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total:        %d\n", result.TotalObjects)
	fmt.Fprintf(w, "  Added:        %d\n", result.AddedCount)
	fmt.Fprintf(w, "  Fast-forward: %d\n", result.FastForwardCount)
	fmt.Fprintf(w, "  Conflict:     %d\n", result.ConflictCount)
	fmt.Fprintf(w, "  Unchanged:    %d\n", result.UnchangedCount)
	if result.Truncated {
		fmt.Fprintf(w, "  Truncated at: %d\n", result.Limit)
	}
	if result.Applied {
		fmt.Fprintf(w, "  Applied:      %d\n", result.AppliedCount)
	}
}
