package diff

import (
	"unicode/utf8"

	"github.com/emergent/loom/internal/canonical"
)

// overflowKey marks a scalar that was swapped out for a digest node. The
// key is reserved: an object holding exactly this key round-trips through
// IsOverflowNode, so property trees should not use it themselves.
const overflowKey = "$overflow"

// prefixRunes is how much of a truncated string stays inline for display.
const prefixRunes = 32

// OverflowValue is a verbatim scalar displaced by truncation, keyed by its
// content digest. The store persists these alongside the version that
// references them.
type OverflowValue struct {
	Digest string
	Size   int
	Data   []byte
}

// Truncate replaces string leaves larger than limit bytes with digest
// nodes and returns the displaced values. The input is not mutated; when
// nothing exceeds the limit the original tree is returned as-is with a nil
// slice. A limit of zero or below disables truncation.
//
// Truncation runs before hashing and diffing, so two versions carrying the
// same oversized value produce the same digest node and compare equal.
func Truncate(tree map[string]any, limit int) (map[string]any, []OverflowValue, error) {
	if limit <= 0 {
		return tree, nil, nil
	}
	var overflows []OverflowValue
	out, changed := truncateMap(tree, limit, &overflows)
	if !changed {
		return tree, nil, nil
	}
	return out, overflows, nil
}

func truncateMap(tree map[string]any, limit int, overflows *[]OverflowValue) (map[string]any, bool) {
	out := tree
	changed := false
	ensure := func() {
		if !changed {
			out = make(map[string]any, len(tree))
			for k, v := range tree {
				out[k] = v
			}
			changed = true
		}
	}
	for k, v := range tree {
		switch t := v.(type) {
		case string:
			if len(t) <= limit {
				continue
			}
			ensure()
			out[k] = newOverflowNode(t, overflows)
		case map[string]any:
			sub, subChanged := truncateMap(t, limit, overflows)
			if subChanged {
				ensure()
				out[k] = sub
			}
		case []any:
			sub, subChanged := truncateSlice(t, limit, overflows)
			if subChanged {
				ensure()
				out[k] = sub
			}
		}
	}
	return out, changed
}

func truncateSlice(arr []any, limit int, overflows *[]OverflowValue) ([]any, bool) {
	out := arr
	changed := false
	ensure := func() {
		if !changed {
			out = make([]any, len(arr))
			copy(out, arr)
			changed = true
		}
	}
	for i, v := range arr {
		switch t := v.(type) {
		case string:
			if len(t) <= limit {
				continue
			}
			ensure()
			out[i] = newOverflowNode(t, overflows)
		case map[string]any:
			sub, subChanged := truncateMap(t, limit, overflows)
			if subChanged {
				ensure()
				out[i] = sub
			}
		case []any:
			sub, subChanged := truncateSlice(t, limit, overflows)
			if subChanged {
				ensure()
				out[i] = sub
			}
		}
	}
	return out, changed
}

func newOverflowNode(s string, overflows *[]OverflowValue) map[string]any {
	data := []byte(s)
	digest := canonical.ValueDigest(data)
	*overflows = append(*overflows, OverflowValue{
		Digest: digest,
		Size:   len(data),
		Data:   data,
	})
	return map[string]any{
		overflowKey: map[string]any{
			"digest": digest,
			"size":   int64(len(data)),
			"prefix": runePrefix(s, prefixRunes),
		},
	}
}

// IsOverflowNode reports whether v is a digest node left by Truncate and,
// if so, returns the digest of the displaced value.
func IsOverflowNode(v any) (digest string, ok bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	body, ok := m[overflowKey].(map[string]any)
	if !ok {
		return "", false
	}
	digest, ok = body["digest"].(string)
	return digest, ok
}

// runePrefix returns the first n runes of s without splitting a rune.
func runePrefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
