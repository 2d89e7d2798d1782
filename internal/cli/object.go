package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/emergent/loom/internal/canonical"
	"github.com/emergent/loom/internal/diff"
	"github.com/emergent/loom/internal/graph"
	"github.com/emergent/loom/internal/store"
)

// VersionView is the CLI projection of a stored object version.
type VersionView struct {
	ID            string            `json:"id"`
	CanonicalID   string            `json:"canonical_id"`
	BranchID      string            `json:"branch_id"`
	Type          string            `json:"type"`
	Key           string            `json:"key"`
	Version       int               `json:"version"`
	Properties    map[string]any    `json:"properties"`
	Labels        map[string]string `json:"labels,omitempty"`
	ContentHash   string            `json:"content_hash"`
	ChangeSummary diff.Summary      `json:"change_summary"`
	PredecessorID *string           `json:"predecessor_id,omitempty"`
	DeletedAt     *time.Time        `json:"deleted_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	CreatedBy     string            `json:"created_by,omitempty"`
}

func newVersionView(v store.ObjectVersion) VersionView {
	return VersionView{
		ID:            v.ID,
		CanonicalID:   v.CanonicalID,
		BranchID:      v.BranchID,
		Type:          v.Type,
		Key:           v.Key,
		Version:       v.Version,
		Properties:    v.Properties,
		Labels:        v.Labels,
		ContentHash:   v.ContentHash,
		ChangeSummary: v.ChangeSummary,
		PredecessorID: v.PredecessorID,
		DeletedAt:     v.DeletedAt,
		CreatedAt:     v.CreatedAt,
		CreatedBy:     v.CreatedBy,
	}
}

// NewObjectCommand creates the object command group.
func NewObjectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "object",
		Short: "Write and read versioned objects",
	}
	cmd.AddCommand(newObjectWriteCommand(rootOpts))
	cmd.AddCommand(newObjectPatchCommand(rootOpts))
	cmd.AddCommand(newObjectDeleteCommand(rootOpts))
	cmd.AddCommand(newObjectRestoreCommand(rootOpts))
	cmd.AddCommand(newObjectGetCommand(rootOpts))
	cmd.AddCommand(newObjectHistoryCommand(rootOpts))
	cmd.AddCommand(newObjectListCommand(rootOpts))
	return cmd
}

// ObjectWriteOptions holds flags for object write.
type ObjectWriteOptions struct {
	*RootOptions
	Branch    string
	Type      string
	Key       string
	Props     string
	Labels    []string
	OrgID     string
	ProjectID string
}

func newObjectWriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ObjectWriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Create a new object",
		Long: `Create version 1 of a new object on a branch.

The type/key pair must not collide with a live object visible on the
branch, including objects inherited from ancestor branches. The version
id doubles as the object's canonical id for the rest of its life.

Example:
  loom object write --db ./loom.db --branch <id> --type document --key intro \
    --props '{"title":"Intro","body":"..."}' --label team=docs`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runObjectWrite(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Branch, "branch", "", "branch id (required)")
	_ = cmd.MarkFlagRequired("branch")
	cmd.Flags().StringVar(&opts.Type, "type", "", "object type (required)")
	_ = cmd.MarkFlagRequired("type")
	cmd.Flags().StringVar(&opts.Key, "key", "", "object key, unique per type on the branch (required)")
	_ = cmd.MarkFlagRequired("key")
	cmd.Flags().StringVar(&opts.Props, "props", "{}", "properties as JSON")
	cmd.Flags().StringArrayVar(&opts.Labels, "label", nil, "label as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.OrgID, "org", "", "organization id to scope-check the branch")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id to scope-check the branch")

	return cmd
}

func runObjectWrite(opts *ObjectWriteOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	props, err := parseJSONMap("--props", opts.Props)
	if err != nil {
		return err
	}
	labels, err := parseLabels(opts.Labels)
	if err != nil {
		return err
	}

	env, err := openEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	created, err := env.graph.Write(ctx, graph.WriteRequest{
		OrgID:      opts.OrgID,
		ProjectID:  opts.ProjectID,
		BranchID:   opts.Branch,
		Type:       opts.Type,
		Key:        opts.Key,
		Properties: props,
		Labels:     labels,
	})
	if err != nil {
		return renderError(formatter, err)
	}
	return outputVersion(formatter, cmd.OutOrStdout(), created)
}

// ObjectPatchOptions holds flags for object patch.
type ObjectPatchOptions struct {
	*RootOptions
	Branch        string
	Delta         string
	Labels        []string
	ReplaceLabels bool
}

func newObjectPatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ObjectPatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "patch <object-id>",
		Short: "Apply a merge-patch delta to an object",
		Long: `Append a new version to an object's chain.

The object id must be the version the caller last read; when another
writer advanced the head in between the patch is rejected with a
conflict. The delta follows merge-patch semantics: values replace,
null deletes a key, nested objects merge recursively.

Patching an object inherited from an ancestor branch writes the new
version to the requesting branch, shadowing the ancestor copy. A patch
that changes nothing appends no version and returns the current head.

Example:
  loom object patch <version-id> --db ./loom.db --branch <id> --delta '{"body":"new text"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runObjectPatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Branch, "branch", "", "branch id (required)")
	_ = cmd.MarkFlagRequired("branch")
	cmd.Flags().StringVar(&opts.Delta, "delta", "{}", "merge-patch delta as JSON")
	cmd.Flags().StringArrayVar(&opts.Labels, "label", nil, "label as key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.ReplaceLabels, "replace-labels", false, "replace the whole label set instead of overlaying")

	return cmd
}

func runObjectPatch(opts *ObjectPatchOptions, objectID string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	delta, err := parseJSONMap("--delta", opts.Delta)
	if err != nil {
		return err
	}
	labels, err := parseLabels(opts.Labels)
	if err != nil {
		return err
	}

	env, err := openEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	patched, err := env.graph.Patch(ctx, graph.PatchRequest{
		BranchID:      opts.Branch,
		ObjectID:      objectID,
		Delta:         delta,
		Labels:        labels,
		ReplaceLabels: opts.ReplaceLabels,
	})
	if err != nil {
		return renderError(formatter, err)
	}
	return outputVersion(formatter, cmd.OutOrStdout(), patched)
}

// ObjectRefOptions holds flags shared by delete and restore.
type ObjectRefOptions struct {
	*RootOptions
	Branch string
}

func newObjectDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ObjectRefOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete <object-id>",
		Short: "Soft-delete an object",
		Long: `Append a tombstone version to an object's chain.

The tombstone retains the head's properties for restore, but the object
resolves as absent on the branch and its descendants from then on.
Deleting an object inherited from an ancestor shadows it only on the
requesting branch.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runObjectDelete(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Branch, "branch", "", "branch id (required)")
	_ = cmd.MarkFlagRequired("branch")

	return cmd
}

func runObjectDelete(opts *ObjectRefOptions, objectID string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	env, err := openEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	tombstone, err := env.graph.SoftDelete(ctx, opts.Branch, objectID)
	if err != nil {
		return renderError(formatter, err)
	}
	return outputVersion(formatter, cmd.OutOrStdout(), tombstone)
}

func newObjectRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ObjectRefOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "restore <tombstone-id>",
		Short: "Restore a soft-deleted object",
		Long: `Append a live version from a tombstone, bringing back the
properties the tombstone retained. The id must name the tombstone
itself, which is the branch-visible head of a deleted object.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runObjectRestore(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Branch, "branch", "", "branch id (required)")
	_ = cmd.MarkFlagRequired("branch")

	return cmd
}

func runObjectRestore(opts *ObjectRefOptions, objectID string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	env, err := openEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	restored, err := env.graph.Restore(ctx, opts.Branch, objectID)
	if err != nil {
		return renderError(formatter, err)
	}
	return outputVersion(formatter, cmd.OutOrStdout(), restored)
}

func newObjectGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ObjectRefOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch a version row or a branch-visible head",
		Long: `Fetch an object version.

Without --branch the exact version row named by the id is returned.
With --branch the id may name any version of the object and the live
head visible from that branch is resolved; a deleted or unknown object
reports not found.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runObjectGet(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Branch, "branch", "", "resolve the head visible from this branch")

	return cmd
}

func runObjectGet(opts *ObjectRefOptions, id string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	env, err := openEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	referenced, err := env.graph.Get(ctx, id)
	if err != nil {
		return renderError(formatter, err)
	}
	if opts.Branch == "" {
		return outputVersion(formatter, cmd.OutOrStdout(), referenced)
	}

	head, err := env.graph.Resolve(ctx, opts.Branch, referenced.CanonicalID)
	if err != nil {
		return renderError(formatter, err)
	}
	if head == nil {
		return renderError(formatter, store.NewNotFound("object", id))
	}
	return outputVersion(formatter, cmd.OutOrStdout(), *head)
}

func newObjectHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "List every version of an object",
		Long: `List an object's full version chain newest-first, across all
branches. The id may be the canonical id or any version id.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runObjectHistory(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runObjectHistory(opts *RootOptions, id string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	env, err := openEnv(opts)
	if err != nil {
		return err
	}
	defer env.Close()

	versions, err := env.graph.History(ctx, id)
	if err != nil {
		return renderError(formatter, err)
	}

	if opts.Format == "json" {
		views := make([]VersionView, len(versions))
		for i, v := range versions {
			views[i] = newVersionView(v)
		}
		return formatter.Success(views)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "History for %s (%d versions, newest first)\n", versions[0].CanonicalID, len(versions))
	for _, v := range versions {
		marker := ""
		if v.Deleted() {
			marker = "  [deleted]"
		}
		fmt.Fprintf(w, "  v%d  %s  branch=%s  %s%s\n",
			v.Version, v.ID, v.BranchID, v.CreatedAt.Format(time.RFC3339), marker)
	}
	return nil
}

// ObjectListOptions holds flags for object list.
type ObjectListOptions struct {
	*RootOptions
	Branch string
	Type   string
	Key    string
	Labels []string
}

func newObjectListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ObjectListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the live objects visible from a branch",
		Long: `List the live heads visible from a branch, including objects
inherited from ancestors that the branch has not shadowed. Filters
narrow by type, key and labels; all given label pairs must match.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runObjectList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Branch, "branch", "", "branch id (required)")
	_ = cmd.MarkFlagRequired("branch")
	cmd.Flags().StringVar(&opts.Type, "type", "", "filter by object type")
	cmd.Flags().StringVar(&opts.Key, "key", "", "filter by object key")
	cmd.Flags().StringArrayVar(&opts.Labels, "label", nil, "filter by label key=value (repeatable)")

	return cmd
}

func runObjectList(opts *ObjectListOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	labels, err := parseLabels(opts.Labels)
	if err != nil {
		return err
	}

	env, err := openEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	heads, err := env.graph.Heads(ctx, opts.Branch, graph.HeadFilter{
		Type:   opts.Type,
		Key:    opts.Key,
		Labels: labels,
	})
	if err != nil {
		return renderError(formatter, err)
	}

	if opts.Format == "json" {
		views := make([]VersionView, len(heads))
		for i, v := range heads {
			views[i] = newVersionView(v)
		}
		return formatter.Success(views)
	}

	w := cmd.OutOrStdout()
	if len(heads) == 0 {
		fmt.Fprintln(w, "No objects visible.")
		return nil
	}
	for _, v := range heads {
		fmt.Fprintf(w, "  %-12s %-20s v%d  %s\n", v.Type, v.Key, v.Version, v.ID)
	}
	return nil
}

// outputVersion renders one version in the configured format.
func outputVersion(f *OutputFormatter, w io.Writer, v store.ObjectVersion) error {
	if f.Format == "json" {
		return f.Success(newVersionView(v))
	}
	printVersion(w, v)
	return nil
}

// printVersion writes the text rendering of a single version.
func printVersion(w io.Writer, v store.ObjectVersion) {
	status := "live"
	if v.Deleted() {
		status = "deleted"
	}
	fmt.Fprintf(w, "%s/%s  v%d  %s\n", v.Type, v.Key, v.Version, status)
	fmt.Fprintf(w, "  ID:         %s\n", v.ID)
	fmt.Fprintf(w, "  Canonical:  %s\n", v.CanonicalID)
	fmt.Fprintf(w, "  Branch:     %s\n", v.BranchID)
	fmt.Fprintf(w, "  Hash:       %s\n", v.ContentHash)
	if v.PredecessorID != nil {
		fmt.Fprintf(w, "  Supersedes: %s\n", *v.PredecessorID)
	}
	if paths := v.ChangeSummary.Paths(); len(paths) > 0 {
		fmt.Fprintf(w, "  Paths:      %s\n", strings.Join(paths, " "))
	}
	if len(v.Labels) > 0 {
		fmt.Fprintf(w, "  Labels:     %s\n", formatLabels(v.Labels))
	}
	fmt.Fprintf(w, "  Properties: %s\n", canonical.MustMarshalCanonical(v.Properties))
	created := v.CreatedAt.Format(time.RFC3339)
	if v.CreatedBy != "" {
		created += " by " + v.CreatedBy
	}
	fmt.Fprintf(w, "  Created:    %s\n", created)
}

// formatLabels renders labels as sorted key=value pairs.
func formatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + labels[k]
	}
	return strings.Join(parts, " ")
}
