package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// runCLI executes the root command with the given args and returns its
// stdout output.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	if args == nil {
		// A nil slice makes cobra fall back to os.Args, which under go
		// test are the -test.* flags.
		args = []string{}
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// newTestDB returns a path for a fresh database under the test's temp dir.
func newTestDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "loom.db")
}

// createBranch creates a branch through the CLI and returns its id.
func createBranch(t *testing.T, db, org, project, name, parent string) string {
	t.Helper()
	args := []string{"--db", db, "--format", "json", "branch", "create",
		"--org", org, "--project", project, "--name", name}
	if parent != "" {
		args = append(args, "--parent", parent)
	}
	out, err := runCLI(t, args...)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   BranchView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp.Data.ID
}

// writeObject creates an object through the CLI and returns the created
// version.
func writeObject(t *testing.T, db, branch, objType, key, props string) VersionView {
	t.Helper()
	out, err := runCLI(t, "--db", db, "--format", "json", "object", "write",
		"--branch", branch, "--type", objType, "--key", key, "--props", props)
	require.NoError(t, err)
	return decodeVersion(t, out)
}

// patchObject patches an object through the CLI and returns the new
// version.
func patchObject(t *testing.T, db, branch, objectID, delta string) VersionView {
	t.Helper()
	out, err := runCLI(t, "--db", db, "--format", "json", "object", "patch", objectID,
		"--branch", branch, "--delta", delta)
	require.NoError(t, err)
	return decodeVersion(t, out)
}

// decodeVersion unwraps a VersionView from a JSON response envelope.
func decodeVersion(t *testing.T, out string) VersionView {
	t.Helper()
	var resp struct {
		Status string      `json:"status"`
		Data   VersionView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

// decodeErrorResponse unwraps the error envelope from JSON output.
func decodeErrorResponse(t *testing.T, out string) CLIError {
	t.Helper()
	var resp struct {
		Status string    `json:"status"`
		Error  *CLIError `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	return *resp.Error
}
