// Package docstore provides a hierarchical JSON document store addressed by
// slash-separated paths ("patients/{tenantId}/{patientId}"). It mirrors the
// contract of a realtime document database: full-subtree reads, subtree
// replacement, multi-field updates, equality queries on a named child field
// and atomic counters.
//
// Three backends are provided: MemoryStore for tests and development,
// PGStore on PostgreSQL (pgx) and SQLiteStore on an embedded SQLite file
// (sqlx + modernc.org/sqlite). The SQL backends persist one row per leaf
// value, keyed by its full path.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mediclo/mediclo/internal/errs"
)

// Store is the document store contract used by every domain package.
type Store interface {
	// Get returns the decoded subtree at path, or errs.ErrNotFound.
	Get(ctx context.Context, path string) (any, error)
	// Set replaces the subtree at path. A nil or empty value removes it.
	Set(ctx context.Context, path string, value any) error
	// Update sets each field (a child key or relative sub-path) under path in
	// one atomic step. Nil field values remove the child.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Remove deletes the subtree at path. Removing a missing path is not an error.
	Remove(ctx context.Context, path string) error
	// QueryEqual returns the children of path whose child field equals value.
	// Comparison is JSON type sensitive. An empty result is not an error.
	QueryEqual(ctx context.Context, path, child string, value any) (map[string]any, error)
	// Increment atomically adds delta to the integer at path (missing = 0)
	// and returns the new value.
	Increment(ctx context.Context, path string, delta int64) (int64, error)
}

// Join builds a store path from segments. Segments are used verbatim; escape
// user supplied keys with EscapeKey first.
func Join(segments ...string) string {
	return Clean(strings.Join(segments, "/"))
}

// Clean trims leading/trailing slashes and collapses empty segments.
func Clean(path string) string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

func split(path string) []string {
	p := Clean(path)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

const forbiddenKeyChars = "%./#$[]"

// EscapeKey makes an arbitrary string safe to use as a single path segment.
func EscapeKey(key string) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		if strings.IndexByte(forbiddenKeyChars, c) >= 0 {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// UnescapeKey reverses EscapeKey.
func UnescapeKey(key string) string {
	if !strings.Contains(key, "%") {
		return key
	}
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		if key[i] == '%' && i+2 < len(key) {
			if c, err := strconv.ParseUint(key[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(c))
				i += 2
				continue
			}
		}
		b.WriteByte(key[i])
	}
	return b.String()
}

// GetInto reads the subtree at path and decodes it into dst.
func GetInto(ctx context.Context, s Store, path string, dst any) error {
	v, err := s.Get(ctx, path)
	if err != nil {
		return err
	}
	return Decode(v, dst)
}

// Decode converts a decoded subtree into a typed value.
func Decode(v any, dst any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode subtree: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode subtree: %w", err)
	}
	return nil
}

// Children returns the subtree at path as a map, treating a missing node as
// empty. Non-object nodes yield an empty map.
func Children(ctx context.Context, s Store, path string) (map[string]any, error) {
	v, err := s.Get(ctx, path)
	if err != nil {
		if isNotFound(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]any{}, nil
	}
	return m, nil
}

func notFound(path string) error {
	return fmt.Errorf("path %q: %w", path, errs.ErrNotFound)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, errs.ErrStoreUnavailable)
}
