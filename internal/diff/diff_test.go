package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrees(t *testing.T) {
	tests := []struct {
		name string
		old  map[string]any
		new  map[string]any
		want Summary
	}{
		{
			name: "both empty",
			old:  map[string]any{},
			new:  map[string]any{},
			want: Summary{},
		},
		{
			name: "nil is empty",
			old:  nil,
			new:  map[string]any{"title": "A"},
			want: Summary{Added: []string{"/title"}},
		},
		{
			name: "top level added",
			old:  map[string]any{"title": "A"},
			new:  map[string]any{"title": "A", "body": "x"},
			want: Summary{Added: []string{"/body"}},
		},
		{
			name: "top level removed",
			old:  map[string]any{"title": "A", "body": "x"},
			new:  map[string]any{"title": "A"},
			want: Summary{Removed: []string{"/body"}},
		},
		{
			name: "top level changed",
			old:  map[string]any{"title": "A"},
			new:  map[string]any{"title": "B"},
			want: Summary{Changed: []string{"/title"}},
		},
		{
			name: "nested recursion",
			old:  map[string]any{"meta": map[string]any{"a": int64(1), "b": int64(2)}},
			new:  map[string]any{"meta": map[string]any{"a": int64(1), "c": int64(3)}},
			want: Summary{
				Added:   []string{"/meta/c"},
				Removed: []string{"/meta/b"},
			},
		},
		{
			name: "object replaced by scalar records the node",
			old:  map[string]any{"meta": map[string]any{"a": int64(1)}},
			new:  map[string]any{"meta": "flat"},
			want: Summary{Changed: []string{"/meta"}},
		},
		{
			name: "scalar replaced by object records the node",
			old:  map[string]any{"meta": "flat"},
			new:  map[string]any{"meta": map[string]any{"a": int64(1)}},
			want: Summary{Changed: []string{"/meta"}},
		},
		{
			name: "arrays are leaves",
			old:  map[string]any{"tags": []any{"a", "b"}},
			new:  map[string]any{"tags": []any{"a", "c"}},
			want: Summary{Changed: []string{"/tags"}},
		},
		{
			name: "equal arrays are not changed",
			old:  map[string]any{"tags": []any{"a", "b"}},
			new:  map[string]any{"tags": []any{"a", "b"}},
			want: Summary{},
		},
		{
			name: "numeric forms compare canonically",
			old:  map[string]any{"count": int64(2)},
			new:  map[string]any{"count": float64(2)},
			want: Summary{},
		},
		{
			name: "keys with slash and tilde are escaped",
			old:  map[string]any{},
			new:  map[string]any{"a/b": int64(1), "c~d": int64(2)},
			want: Summary{Added: []string{"/a~1b", "/c~0d"}},
		},
		{
			name: "equal empty objects",
			old:  map[string]any{"meta": map[string]any{}},
			new:  map[string]any{"meta": map[string]any{}},
			want: Summary{},
		},
		{
			name: "multiple classes sorted",
			old:  map[string]any{"b": int64(1), "c": int64(2), "a": int64(3)},
			new:  map[string]any{"b": int64(9), "d": int64(4), "a": int64(3)},
			want: Summary{
				Added:   []string{"/d"},
				Removed: []string{"/c"},
				Changed: []string{"/b"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Trees(tt.old, tt.new)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTreesIdentityIsEmpty(t *testing.T) {
	tree := map[string]any{
		"title": "A",
		"meta":  map[string]any{"tags": []any{"x", "y"}, "n": int64(7)},
	}
	got, err := Trees(tree, tree)
	require.NoError(t, err)
	assert.True(t, got.Empty())
}

func TestTreesRejectsUnsupportedLeaf(t *testing.T) {
	_, err := Trees(
		map[string]any{"ch": "ok"},
		map[string]any{"ch": make(chan int)},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/ch")
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a    Summary
		b    Summary
		want []string
	}{
		{
			name: "disjoint paths",
			a:    Summary{Changed: []string{"/title"}},
			b:    Summary{Added: []string{"/body"}},
			want: nil,
		},
		{
			name: "same path",
			a:    Summary{Changed: []string{"/title"}},
			b:    Summary{Changed: []string{"/title"}},
			want: []string{"/title"},
		},
		{
			name: "ancestor and descendant",
			a:    Summary{Changed: []string{"/meta"}},
			b:    Summary{Changed: []string{"/meta/tags"}},
			want: []string{"/meta", "/meta/tags"},
		},
		{
			name: "descendant and ancestor",
			a:    Summary{Removed: []string{"/meta/tags"}},
			b:    Summary{Changed: []string{"/meta"}},
			want: []string{"/meta", "/meta/tags"},
		},
		{
			name: "sibling prefix is not an ancestor",
			a:    Summary{Changed: []string{"/a"}},
			b:    Summary{Changed: []string{"/ab"}},
			want: nil,
		},
		{
			name: "classes do not matter",
			a:    Summary{Added: []string{"/x"}},
			b:    Summary{Removed: []string{"/x"}},
			want: []string{"/x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlaps(tt.a, tt.b))
		})
	}
}

func TestCompose(t *testing.T) {
	tests := []struct {
		name  string
		first Summary
		next  Summary
		want  Summary
	}{
		{
			name:  "added then removed cancels",
			first: Summary{Added: []string{"/body"}},
			next:  Summary{Removed: []string{"/body"}},
			want:  Summary{},
		},
		{
			name:  "removed then added becomes changed",
			first: Summary{Removed: []string{"/body"}},
			next:  Summary{Added: []string{"/body"}},
			want:  Summary{Changed: []string{"/body"}},
		},
		{
			name:  "added then changed stays added",
			first: Summary{Added: []string{"/body"}},
			next:  Summary{Changed: []string{"/body"}},
			want:  Summary{Added: []string{"/body"}},
		},
		{
			name:  "changed then removed becomes removed",
			first: Summary{Changed: []string{"/title"}},
			next:  Summary{Removed: []string{"/title"}},
			want:  Summary{Removed: []string{"/title"}},
		},
		{
			name:  "independent paths accumulate",
			first: Summary{Added: []string{"/a"}},
			next:  Summary{Changed: []string{"/b"}, Removed: []string{"/c"}},
			want: Summary{
				Added:   []string{"/a"},
				Removed: []string{"/c"},
				Changed: []string{"/b"},
			},
		},
		{
			name:  "compose with empty is identity",
			first: Summary{Changed: []string{"/title"}},
			next:  Summary{},
			want:  Summary{Changed: []string{"/title"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.first.Compose(tt.next))
		})
	}
}

func TestPointerSegments(t *testing.T) {
	assert.Equal(t, "a~1b~0c", EscapeSegment("a/b~c"))
	assert.Equal(t, "a/b~c", UnescapeSegment("a~1b~0c"))
	assert.Equal(t, []string{"meta", "a/b"}, SplitPointer("/meta/a~1b"))
	assert.Nil(t, SplitPointer(""))
}
