package diff

import (
	"fmt"
	"slices"
	"strings"

	"github.com/emergent/loom/internal/canonical"
)

// Summary is the structured difference between two property trees. Each
// slice holds RFC 6901 pointers, sorted, with no path appearing in more
// than one class.
type Summary struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Changed []string `json:"changed,omitempty"`
}

// Empty reports whether the summary records no differences. Writes whose
// summary is empty are no-ops and produce no new version.
func (s Summary) Empty() bool {
	return len(s.Added) == 0 && len(s.Removed) == 0 && len(s.Changed) == 0
}

// Paths returns every path in the summary regardless of class, sorted.
func (s Summary) Paths() []string {
	out := make([]string, 0, len(s.Added)+len(s.Removed)+len(s.Changed))
	out = append(out, s.Added...)
	out = append(out, s.Removed...)
	out = append(out, s.Changed...)
	slices.Sort(out)
	return out
}

// Trees diffs two property trees and returns the paths that differ. A nil
// map is treated as an empty tree, so Trees(nil, props) describes an
// initial write and Trees(props, nil) a deletion.
//
// The walk recurses only where both sides hold an object. A node present
// on one side only is recorded as added or removed at that node; a node
// whose value differs (including an object on one side and a scalar or
// array on the other) is recorded as changed. Leaf equality is decided on
// canonical form, so 2 and 2.0 compare equal.
func Trees(old, new map[string]any) (Summary, error) {
	var s Summary
	if err := walk(old, new, "", &s); err != nil {
		return Summary{}, err
	}
	slices.Sort(s.Added)
	slices.Sort(s.Removed)
	slices.Sort(s.Changed)
	return s, nil
}

func walk(old, new map[string]any, prefix string, s *Summary) error {
	keys := make([]string, 0, len(old)+len(new))
	for k := range old {
		keys = append(keys, k)
	}
	for k := range new {
		if _, ok := old[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	for _, k := range keys {
		path := prefix + "/" + EscapeSegment(k)
		ov, inOld := old[k]
		nv, inNew := new[k]
		switch {
		case !inOld:
			s.Added = append(s.Added, path)
		case !inNew:
			s.Removed = append(s.Removed, path)
		default:
			om, oIsMap := ov.(map[string]any)
			nm, nIsMap := nv.(map[string]any)
			if oIsMap && nIsMap {
				if err := walk(om, nm, path, s); err != nil {
					return err
				}
				continue
			}
			eq, err := leafEqual(ov, nv)
			if err != nil {
				return fmt.Errorf("diff at %s: %w", path, err)
			}
			if !eq {
				s.Changed = append(s.Changed, path)
			}
		}
	}
	return nil
}

func leafEqual(a, b any) (bool, error) {
	ab, err := canonical.MarshalCanonical(a)
	if err != nil {
		return false, err
	}
	bb, err := canonical.MarshalCanonical(b)
	if err != nil {
		return false, err
	}
	return string(ab) == string(bb), nil
}

// Overlaps returns the paths at which two summaries could interact: a path
// from one that equals a path from the other, or is an ancestor or
// descendant of it. The result is sorted and deduplicated; a non-empty
// result classifies a merge candidate as a conflict.
func Overlaps(a, b Summary) []string {
	ap := a.Paths()
	bp := b.Paths()
	seen := make(map[string]struct{})
	var out []string
	for _, p := range ap {
		for _, q := range bp {
			if !pathsTouch(p, q) {
				continue
			}
			for _, hit := range []string{p, q} {
				if _, dup := seen[hit]; !dup {
					seen[hit] = struct{}{}
					out = append(out, hit)
				}
			}
		}
	}
	slices.Sort(out)
	return out
}

// pathsTouch reports whether p and q name the same node or one names a
// node inside the subtree rooted at the other. "/a" touches "/a/b" but
// not "/ab".
func pathsTouch(p, q string) bool {
	if p == q {
		return true
	}
	return strings.HasPrefix(q, p+"/") || strings.HasPrefix(p, q+"/")
}

// Compose folds a later summary onto s, producing the net difference
// against s's original base. Version chains store one summary per hop;
// composing the hops from base to head yields the side's changes since
// the base without re-reading intermediate versions.
//
// A path added and later removed cancels out. A path removed and later
// re-added is reported as changed, since the value now present cannot be
// assumed equal to the base's.
func (s Summary) Compose(next Summary) Summary {
	added := toSet(s.Added)
	removed := toSet(s.Removed)
	changed := toSet(s.Changed)

	for _, p := range next.Added {
		if _, ok := removed[p]; ok {
			delete(removed, p)
			changed[p] = struct{}{}
			continue
		}
		added[p] = struct{}{}
	}
	for _, p := range next.Changed {
		if _, ok := added[p]; ok {
			continue
		}
		changed[p] = struct{}{}
	}
	for _, p := range next.Removed {
		if _, ok := added[p]; ok {
			delete(added, p)
			continue
		}
		delete(changed, p)
		removed[p] = struct{}{}
	}

	return Summary{
		Added:   fromSet(added),
		Removed: fromSet(removed),
		Changed: fromSet(changed),
	}
}

func toSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}

func fromSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// EscapeSegment encodes one object key as an RFC 6901 reference token.
func EscapeSegment(key string) string {
	key = strings.ReplaceAll(key, "~", "~0")
	return strings.ReplaceAll(key, "/", "~1")
}

// UnescapeSegment decodes one RFC 6901 reference token back to the key.
func UnescapeSegment(token string) string {
	token = strings.ReplaceAll(token, "~1", "/")
	return strings.ReplaceAll(token, "~0", "~")
}

// SplitPointer breaks an RFC 6901 pointer into decoded segments. The empty
// pointer addresses the whole tree and yields no segments.
func SplitPointer(path string) []string {
	if path == "" {
		return nil
	}
	raw := strings.Split(strings.TrimPrefix(path, "/"), "/")
	out := make([]string, len(raw))
	for i, seg := range raw {
		out[i] = UnescapeSegment(seg)
	}
	return out
}
