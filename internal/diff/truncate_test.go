package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateUnderLimitReturnsSameTree(t *testing.T) {
	tree := map[string]any{"body": "short", "meta": map[string]any{"a": int64(1)}}

	out, overflows, err := Truncate(tree, 64)
	require.NoError(t, err)
	assert.Empty(t, overflows)
	assert.Equal(t, tree, out)
}

func TestTruncateDisabled(t *testing.T) {
	tree := map[string]any{"body": strings.Repeat("x", 1024)}

	out, overflows, err := Truncate(tree, 0)
	require.NoError(t, err)
	assert.Empty(t, overflows)
	assert.Equal(t, tree, out)
}

func TestTruncateReplacesOversizedString(t *testing.T) {
	big := strings.Repeat("x", 100)
	tree := map[string]any{"body": big, "title": "A"}

	out, overflows, err := Truncate(tree, 64)
	require.NoError(t, err)
	require.Len(t, overflows, 1)

	assert.Equal(t, []byte(big), overflows[0].Data)
	assert.Equal(t, 100, overflows[0].Size)
	assert.Len(t, overflows[0].Digest, 64)

	digest, ok := IsOverflowNode(out["body"])
	require.True(t, ok)
	assert.Equal(t, overflows[0].Digest, digest)

	node := out["body"].(map[string]any)["$overflow"].(map[string]any)
	assert.Equal(t, int64(100), node["size"])
	assert.Equal(t, strings.Repeat("x", 32), node["prefix"])

	assert.Equal(t, "A", out["title"])
	assert.Equal(t, big, tree["body"])
}

func TestTruncateNestedAndArray(t *testing.T) {
	big := strings.Repeat("y", 80)
	tree := map[string]any{
		"meta": map[string]any{"note": big},
		"list": []any{"small", big},
	}

	out, overflows, err := Truncate(tree, 64)
	require.NoError(t, err)
	require.Len(t, overflows, 2)
	assert.Equal(t, overflows[0].Digest, overflows[1].Digest)

	_, ok := IsOverflowNode(out["meta"].(map[string]any)["note"])
	assert.True(t, ok)
	_, ok = IsOverflowNode(out["list"].([]any)[1])
	assert.True(t, ok)
	assert.Equal(t, "small", out["list"].([]any)[0])
}

func TestTruncateIsDeterministic(t *testing.T) {
	big := strings.Repeat("z", 80)
	a, _, err := Truncate(map[string]any{"body": big}, 64)
	require.NoError(t, err)
	b, _, err := Truncate(map[string]any{"body": big}, 64)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTruncatePrefixKeepsRunesIntact(t *testing.T) {
	big := strings.Repeat("é", 60)

	out, overflows, err := Truncate(map[string]any{"body": big}, 64)
	require.NoError(t, err)
	require.Len(t, overflows, 1)

	node := out["body"].(map[string]any)["$overflow"].(map[string]any)
	prefix := node["prefix"].(string)
	assert.Equal(t, strings.Repeat("é", 32), prefix)
}

func TestIsOverflowNodeRejectsLookalikes(t *testing.T) {
	_, ok := IsOverflowNode("plain")
	assert.False(t, ok)

	_, ok = IsOverflowNode(map[string]any{"$overflow": "not a map"})
	assert.False(t, ok)

	_, ok = IsOverflowNode(map[string]any{
		"$overflow": map[string]any{"digest": "d"},
		"extra":     true,
	})
	assert.False(t, ok)
}
