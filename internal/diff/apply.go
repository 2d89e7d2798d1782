package diff

import "fmt"

// Apply replays a summary onto a target tree using values taken from the
// source tree. Added and changed paths copy the source's value at that
// path; removed paths are deleted from the target. Neither input is
// mutated; the result is a fresh tree sharing no containers with target.
//
// This is the fast-forward write: target is the target branch head's
// properties, source the source branch head's, and s the source side's
// composed changes since the shared base.
func Apply(target, source map[string]any, s Summary) (map[string]any, error) {
	out, ok := copyValue(target).(map[string]any)
	if !ok || out == nil {
		out = make(map[string]any)
	}

	for _, class := range [][]string{s.Added, s.Changed} {
		for _, path := range class {
			val, found := Lookup(source, path)
			if !found {
				return nil, fmt.Errorf("apply: source has no value at %s", path)
			}
			setPath(out, SplitPointer(path), copyValue(val))
		}
	}
	for _, path := range s.Removed {
		removePath(out, SplitPointer(path))
	}
	return out, nil
}

// Lookup resolves an RFC 6901 pointer against a tree. It returns false
// when any segment is missing or crosses a non-object node.
func Lookup(tree map[string]any, path string) (any, bool) {
	segs := SplitPointer(path)
	if len(segs) == 0 {
		return tree, true
	}
	cur := tree
	for i, seg := range segs {
		val, ok := cur[seg]
		if !ok {
			return nil, false
		}
		if i == len(segs)-1 {
			return val, true
		}
		next, ok := val.(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

// setPath writes val at the segment path, creating intermediate objects as
// needed. An intermediate node that is not an object is replaced, since
// the caller is copying a subtree whose shape the source side owns.
func setPath(tree map[string]any, segs []string, val any) {
	cur := tree
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = val
}

// removePath deletes the node at the segment path. Missing intermediates
// mean there is nothing to remove. Containers emptied by the removal are
// kept; an empty object is still a value.
func removePath(tree map[string]any, segs []string) {
	cur := tree
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, segs[len(segs)-1])
}

// copyValue deep-copies the object spine of a JSON tree. Arrays are copied
// as slices; scalar leaves are shared, which is safe because trees are
// treated as immutable once stored.
func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// CopyTree deep-copies a property tree. Callers that hand trees across
// goroutine or cache boundaries copy first.
func CopyTree(tree map[string]any) map[string]any {
	if tree == nil {
		return nil
	}
	return copyValue(tree).(map[string]any)
}
