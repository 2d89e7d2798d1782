package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectWriteAndGet(t *testing.T) {
	db := newTestDB(t)
	branch := createBranch(t, db, "acme", "web", "main", "")

	created := writeObject(t, db, branch, "document", "readme",
		`{"title": "Hello", "words": 2}`)
	assert.Equal(t, created.ID, created.CanonicalID)
	assert.Equal(t, 1, created.Version)
	assert.Equal(t, "Hello", created.Properties["title"])
	assert.Nil(t, created.PredecessorID)
	assert.Contains(t, created.ChangeSummary.Added, "/title")
	assert.Contains(t, created.ChangeSummary.Added, "/words")

	out, err := runCLI(t, "--db", db, "--format", "json", "object", "get", created.ID)
	require.NoError(t, err)
	got := decodeVersion(t, out)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.ContentHash, got.ContentHash)
}

func TestObjectWriteText(t *testing.T) {
	db := newTestDB(t)
	branch := createBranch(t, db, "acme", "web", "main", "")

	out, err := runCLI(t, "--db", db, "object", "write",
		"--branch", branch, "--type", "document", "--key", "readme",
		"--props", `{"title": "Hello"}`,
		"--label", "env=prod")
	require.NoError(t, err)
	assert.Contains(t, out, "document/readme  v1  live")
	assert.Contains(t, out, "Paths:")
	assert.Contains(t, out, "/title")
	assert.Contains(t, out, "env=prod")
}

func TestObjectWriteInvalidProps(t *testing.T) {
	db := newTestDB(t)
	branch := createBranch(t, db, "acme", "web", "main", "")

	_, err := runCLI(t, "--db", db, "object", "write",
		"--branch", branch, "--type", "document", "--key", "readme",
		"--props", `{broken`)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--props")
}

func TestObjectWriteDuplicateKey(t *testing.T) {
	db := newTestDB(t)
	branch := createBranch(t, db, "acme", "web", "main", "")
	writeObject(t, db, branch, "document", "readme", `{"title": "one"}`)

	out, err := runCLI(t, "--db", db, "--format", "json", "object", "write",
		"--branch", branch, "--type", "document", "--key", "readme",
		"--props", `{"title": "two"}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	cliErr := decodeErrorResponse(t, out)
	assert.Equal(t, "CONFLICT", cliErr.Code)
}

func TestObjectWriteMissingFlags(t *testing.T) {
	_, err := runCLI(t, "--db", newTestDB(t), "object", "write", "--type", "document")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestObjectPatch(t *testing.T) {
	db := newTestDB(t)
	branch := createBranch(t, db, "acme", "web", "main", "")
	v1 := writeObject(t, db, branch, "document", "readme",
		`{"title": "Hello", "status": "draft"}`)

	v2 := patchObject(t, db, branch, v1.ID, `{"status": "published", "author": "casey"}`)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, v1.CanonicalID, v2.CanonicalID)
	require.NotNil(t, v2.PredecessorID)
	assert.Equal(t, v1.ID, *v2.PredecessorID)
	assert.Equal(t, "published", v2.Properties["status"])
	assert.Equal(t, "Hello", v2.Properties["title"], "untouched fields carry forward")
	assert.Contains(t, v2.ChangeSummary.Changed, "/status")
	assert.Contains(t, v2.ChangeSummary.Added, "/author")
}

func TestObjectPatchNullDeletesField(t *testing.T) {
	db := newTestDB(t)
	branch := createBranch(t, db, "acme", "web", "main", "")
	v1 := writeObject(t, db, branch, "document", "readme",
		`{"title": "Hello", "draft": true}`)

	v2 := patchObject(t, db, branch, v1.ID, `{"draft": null}`)
	assert.NotContains(t, v2.Properties, "draft")
	assert.Contains(t, v2.ChangeSummary.Removed, "/draft")
}

func TestObjectPatchStaleHead(t *testing.T) {
	db := newTestDB(t)
	branch := createBranch(t, db, "acme", "web", "main", "")
	v1 := writeObject(t, db, branch, "document", "readme", `{"title": "Hello"}`)
	patchObject(t, db, branch, v1.ID, `{"title": "Updated"}`)

	// v1 is no longer the head; a patch against it must be rejected.
	out, err := runCLI(t, "--db", db, "--format", "json", "object", "patch", v1.ID,
		"--branch", branch, "--delta", `{"title": "Stale"}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	cliErr := decodeErrorResponse(t, out)
	assert.Equal(t, "CONFLICT", cliErr.Code)
	assert.Contains(t, cliErr.Message, "head moved")
}

func TestObjectPatchLabelsOnly(t *testing.T) {
	db := newTestDB(t)
	branch := createBranch(t, db, "acme", "web", "main", "")
	v1 := writeObject(t, db, branch, "document", "readme", `{"title": "Hello"}`)

	out, err := runCLI(t, "--db", db, "--format", "json", "object", "patch", v1.ID,
		"--branch", branch, "--label", "env=prod")
	require.NoError(t, err)
	v2 := decodeVersion(t, out)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, "prod", v2.Labels["env"])
	assert.Empty(t, v2.ChangeSummary.Paths(), "label-only patch leaves the tree untouched")
}

func TestObjectDeleteAndRestore(t *testing.T) {
	db := newTestDB(t)
	branch := createBranch(t, db, "acme", "web", "main", "")
	v1 := writeObject(t, db, branch, "document", "readme", `{"title": "Hello"}`)

	out, err := runCLI(t, "--db", db, "--format", "json", "object", "delete", v1.ID,
		"--branch", branch)
	require.NoError(t, err)
	tombstone := decodeVersion(t, out)
	assert.Equal(t, 2, tombstone.Version)
	require.NotNil(t, tombstone.DeletedAt)
	assert.Equal(t, "Hello", tombstone.Properties["title"], "tombstone keeps properties for restore")

	// The tombstone shadows the object on the branch.
	out, err = runCLI(t, "--db", db, "--format", "json", "object", "get", tombstone.CanonicalID,
		"--branch", branch)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "NOT_FOUND", decodeErrorResponse(t, out).Code)

	// Direct id lookup still works.
	out, err = runCLI(t, "--db", db, "--format", "json", "object", "get", tombstone.ID)
	require.NoError(t, err)
	direct := decodeVersion(t, out)
	assert.NotNil(t, direct.DeletedAt)

	out, err = runCLI(t, "--db", db, "--format", "json", "object", "restore", tombstone.ID,
		"--branch", branch)
	require.NoError(t, err)
	restored := decodeVersion(t, out)
	assert.Equal(t, 3, restored.Version)
	assert.Nil(t, restored.DeletedAt)
	assert.Equal(t, "Hello", restored.Properties["title"])

	out, err = runCLI(t, "--db", db, "--format", "json", "object", "get", restored.CanonicalID,
		"--branch", branch)
	require.NoError(t, err)
	assert.Equal(t, restored.ID, decodeVersion(t, out).ID)
}

func TestObjectGetUnknown(t *testing.T) {
	db := newTestDB(t)
	createBranch(t, db, "acme", "web", "main", "")

	out, err := runCLI(t, "--db", db, "--format", "json", "object", "get", "no-such-id")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "NOT_FOUND", decodeErrorResponse(t, out).Code)
}

func TestObjectGetFromChildBranch(t *testing.T) {
	db := newTestDB(t)
	main := createBranch(t, db, "acme", "web", "main", "")
	feature := createBranch(t, db, "acme", "web", "feature", main)
	v1 := writeObject(t, db, main, "document", "readme", `{"title": "Hello"}`)

	// The child sees the parent's head through lineage.
	out, err := runCLI(t, "--db", db, "--format", "json", "object", "get", v1.ID,
		"--branch", feature)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, decodeVersion(t, out).ID)
}

func TestObjectHistory(t *testing.T) {
	db := newTestDB(t)
	branch := createBranch(t, db, "acme", "web", "main", "")
	v1 := writeObject(t, db, branch, "document", "readme", `{"n": 1}`)
	v2 := patchObject(t, db, branch, v1.ID, `{"n": 2}`)
	v3 := patchObject(t, db, branch, v2.ID, `{"n": 3}`)

	out, err := runCLI(t, "--db", db, "--format", "json", "object", "history", v3.ID)
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   []VersionView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 3)
	assert.Equal(t, v3.ID, resp.Data[0].ID, "newest first")
	assert.Equal(t, v2.ID, resp.Data[1].ID)
	assert.Equal(t, v1.ID, resp.Data[2].ID)

	text, err := runCLI(t, "--db", db, "object", "history", v3.ID)
	require.NoError(t, err)
	assert.Contains(t, text, "3 versions")
	assert.Contains(t, text, "v3")
}

func TestObjectList(t *testing.T) {
	db := newTestDB(t)
	branch := createBranch(t, db, "acme", "web", "main", "")
	writeObject(t, db, branch, "document", "readme", `{"title": "a"}`)
	writeObject(t, db, branch, "document", "guide", `{"title": "b"}`)
	writeObject(t, db, branch, "task", "deploy", `{"done": false}`)

	out, err := runCLI(t, "--db", db, "--format", "json", "object", "list",
		"--branch", branch, "--type", "document")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   []VersionView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	for _, v := range resp.Data {
		assert.Equal(t, "document", v.Type)
	}
}

func TestObjectListLabelFilter(t *testing.T) {
	db := newTestDB(t)
	branch := createBranch(t, db, "acme", "web", "main", "")

	_, err := runCLI(t, "--db", db, "--format", "json", "object", "write",
		"--branch", branch, "--type", "document", "--key", "readme",
		"--props", `{"title": "a"}`, "--label", "env=prod")
	require.NoError(t, err)
	writeObject(t, db, branch, "document", "guide", `{"title": "b"}`)

	out, err := runCLI(t, "--db", db, "--format", "json", "object", "list",
		"--branch", branch, "--label", "env=prod")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   []VersionView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "readme", resp.Data[0].Key)
}

func TestObjectListTextEmpty(t *testing.T) {
	db := newTestDB(t)
	branch := createBranch(t, db, "acme", "web", "main", "")

	out, err := runCLI(t, "--db", db, "object", "list", "--branch", branch)
	require.NoError(t, err)
	assert.Contains(t, out, "No objects visible.")
}

func TestObjectWriteSchemaValidation(t *testing.T) {
	schemaDir := t.TempDir()
	schemaFile := filepath.Join(schemaDir, "document.cue")
	require.NoError(t, os.WriteFile(schemaFile, []byte(`
schema: document: {
	title: string
	body?: string
}
`), 0o644))

	db := newTestDB(t)
	branch := createBranch(t, db, "acme", "web", "main", "")

	// A conforming write passes.
	out, err := runCLI(t, "--db", db, "--schemas", schemaDir, "--format", "json",
		"object", "write", "--branch", branch, "--type", "document", "--key", "ok",
		"--props", `{"title": "Hello"}`)
	require.NoError(t, err)
	decodeVersion(t, out)

	// A write missing the required field is rejected.
	out, err = runCLI(t, "--db", db, "--schemas", schemaDir, "--format", "json",
		"object", "write", "--branch", branch, "--type", "document", "--key", "bad",
		"--props", `{"body": "no title"}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	cliErr := decodeErrorResponse(t, out)
	assert.Equal(t, "VALIDATION_FAILED", cliErr.Code)

	// Types without a schema are unconstrained.
	_, err = runCLI(t, "--db", db, "--schemas", schemaDir, "--format", "json",
		"object", "write", "--branch", branch, "--type", "note", "--key", "free",
		"--props", `{"anything": true}`)
	require.NoError(t, err)
}
