package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/emergent/loom/internal/graph"
	"github.com/emergent/loom/internal/lineage"
	"github.com/emergent/loom/internal/merge"
	"github.com/emergent/loom/internal/schema"
	"github.com/emergent/loom/internal/store"
)

// appEnv bundles the opened store and the services built over it. Every
// command opens its own environment and closes it when done.
type appEnv struct {
	store   *store.Store
	lineage *lineage.Service
	graph   *graph.Service
	merge   *merge.Engine
}

// openEnv opens the database and wires the service stack. When --schemas
// is set the CUE registry is loaded and property validation runs on every
// write; without it all property trees are accepted.
func openEnv(opts *RootOptions) (*appEnv, error) {
	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	lin, err := lineage.New(st)
	if err != nil {
		_ = st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build lineage resolver", err)
	}

	graphOpts := []graph.Option{graph.WithActor(cliActor())}
	if opts.Schemas != "" {
		reg, err := schema.LoadDir(opts.Schemas)
		if err != nil {
			lin.Close()
			_ = st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to load schemas", err)
		}
		slog.Debug("schema registry loaded", "dir", opts.Schemas, "types", reg.Types())
		graphOpts = append(graphOpts, graph.WithRegistry(reg))
	}

	return &appEnv{
		store:   st,
		lineage: lin,
		graph:   graph.New(st, lin, graphOpts...),
		merge:   merge.New(st, lin, merge.WithActor(cliActor())),
	}, nil
}

// Close releases the environment. Close errors are logged, not returned;
// the command has produced its output by the time this runs.
func (e *appEnv) Close() {
	e.lineage.Close()
	if err := e.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// cliActor resolves the identity recorded as created_by on versions
// written by this process.
func cliActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

// parseJSONMap decodes a JSON object flag value. Numbers decode as
// json.Number, matching the property tree convention everywhere else.
func parseJSONMap(flag, value string) (map[string]any, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(value)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid %s JSON", flag), err)
	}
	return m, nil
}

// parseLabels converts repeated key=value flags to a label map.
func parseLabels(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	labels := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid label %q: expected key=value", p))
		}
		labels[k] = v
	}
	return labels, nil
}
