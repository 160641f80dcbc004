package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mediclo/mediclo/internal/errs"
)

// leaf is one persisted value of the SQL backends. Objects are never stored;
// they are implied by the paths of their leaves. Arrays are stored whole.
type leaf struct {
	path  string
	value any
}

func isNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}

// normalize converts v to its JSON-decoded form and prunes nil values and
// empty objects. A nil result means "nothing to store".
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", errs.ErrInvalidInput)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", errs.ErrInvalidInput)
	}
	return prune(out), nil
}

func prune(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		for k, child := range t {
			p := prune(child)
			if p == nil {
				delete(t, k)
				continue
			}
			t[k] = p
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []any:
		if len(t) == 0 {
			return nil
		}
		return t
	default:
		return v
	}
}

// flatten returns the leaves of a normalized value rooted at base, sorted by path.
func flatten(base string, v any) []leaf {
	var out []leaf
	var walk func(p string, node any)
	walk = func(p string, node any) {
		m, ok := node.(map[string]any)
		if !ok {
			out = append(out, leaf{path: p, value: node})
			return
		}
		for k, child := range m {
			walk(Join(p, k), child)
		}
	}
	if v != nil {
		walk(base, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

// assemble rebuilds the subtree at base from its leaves. ok is false when
// rows holds nothing at or below base.
func assemble(base string, rows []leaf) (any, bool) {
	if len(rows) == 0 {
		return nil, false
	}
	root := map[string]any{}
	for _, r := range rows {
		if r.path == base {
			return r.value, true
		}
		rel := r.path
		if base != "" {
			rel = strings.TrimPrefix(r.path, base+"/")
		}
		segs := split(rel)
		node := root
		for _, s := range segs[:len(segs)-1] {
			next, ok := node[s].(map[string]any)
			if !ok {
				next = map[string]any{}
				node[s] = next
			}
			node = next
		}
		node[segs[len(segs)-1]] = r.value
	}
	return root, true
}

// ancestors lists every proper ancestor of path, shortest first.
func ancestors(path string) []string {
	segs := split(path)
	out := make([]string, 0, len(segs))
	for i := 1; i < len(segs); i++ {
		out = append(out, strings.Join(segs[:i], "/"))
	}
	return out
}

// subtreePattern is the LIKE pattern matching every descendant of path.
func subtreePattern(path string) string {
	if path == "" {
		return "%"
	}
	return likeEscape(path) + "/%"
}

func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// queryKey extracts the direct child key of base from a leaf path of the form
// base/{key}/{child}. ok is false for deeper or shallower paths.
func queryKey(base, child, path string) (string, bool) {
	rel := path
	if base != "" {
		if !strings.HasPrefix(path, base+"/") {
			return "", false
		}
		rel = path[len(base)+1:]
	}
	key, ok := strings.CutSuffix(rel, "/"+Clean(child))
	if !ok || key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}

// lookup walks a decoded subtree along a relative path.
func lookup(v any, rel string) (any, bool) {
	node := v
	for _, s := range split(rel) {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[s]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("counter holds non-integer %v: %w", n, errs.ErrConflict)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("counter holds %T: %w", v, errs.ErrConflict)
	}
}

// sortedFields returns the field names of an Update in deterministic order.
func sortedFields(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
