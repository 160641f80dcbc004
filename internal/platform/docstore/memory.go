package docstore

import (
	"context"
	"reflect"
	"sync"
)

// MemoryStore is a thread-safe in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	root map[string]any
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{root: map[string]any{}}
}

func (m *MemoryStore) Get(_ context.Context, path string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := lookup(m.root, path)
	if !ok || v == nil {
		return nil, notFound(path)
	}
	if mv, isMap := v.(map[string]any); isMap && len(mv) == 0 {
		return nil, notFound(path)
	}
	return deepCopy(v), nil
}

func (m *MemoryStore) Set(_ context.Context, path string, value any) error {
	v, err := normalize(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(path, v)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, path string, fields map[string]any) error {
	normalized := make(map[string]any, len(fields))
	for k, f := range fields {
		v, err := normalize(f)
		if err != nil {
			return err
		}
		normalized[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range sortedFields(normalized) {
		m.setLocked(Join(path, k), normalized[k])
	}
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(path, nil)
	return nil
}

func (m *MemoryStore) QueryEqual(_ context.Context, path, child string, value any) (map[string]any, error) {
	want, err := normalize(value)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := map[string]any{}
	node, ok := lookup(m.root, path)
	if !ok {
		return out, nil
	}
	children, ok := node.(map[string]any)
	if !ok {
		return out, nil
	}
	for k, c := range children {
		got, ok := lookup(c, child)
		if ok && reflect.DeepEqual(got, want) {
			out[k] = deepCopy(c)
		}
	}
	return out, nil
}

func (m *MemoryStore) Increment(_ context.Context, path string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, _ := lookup(m.root, path)
	n, err := toInt64(cur)
	if err != nil {
		return 0, err
	}
	n += delta
	m.setLocked(path, float64(n))
	return n, nil
}

// setLocked writes v at path, creating intermediate objects and pruning
// objects left empty. Callers hold m.mu.
func (m *MemoryStore) setLocked(path string, v any) {
	segs := split(path)
	if len(segs) == 0 {
		if mv, ok := v.(map[string]any); ok {
			m.root = mv
		} else {
			m.root = map[string]any{}
		}
		return
	}

	chain := []map[string]any{m.root}
	node := m.root
	for _, s := range segs[:len(segs)-1] {
		next, ok := node[s].(map[string]any)
		if !ok {
			if v == nil {
				return
			}
			next = map[string]any{}
			node[s] = next
		}
		chain = append(chain, next)
		node = next
	}

	last := segs[len(segs)-1]
	if v == nil {
		delete(node, last)
	} else {
		node[last] = v
	}

	for i := len(chain) - 1; i > 0; i-- {
		if len(chain[i]) > 0 {
			break
		}
		delete(chain[i-1], segs[i-1])
	}
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, c := range t {
			out[k] = deepCopy(c)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, c := range t {
			out[i] = deepCopy(c)
		}
		return out
	default:
		return v
	}
}
