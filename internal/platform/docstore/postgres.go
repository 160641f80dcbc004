package docstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgConn is satisfied by *pgxpool.Pool and by pgxmock pools.
type pgConn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGStore keeps the tree in the doc_leaves table of a PostgreSQL database.
type PGStore struct{ pool pgConn }

// NewPGStore wraps a pgx pool. The doc_leaves table is created by migrations.
func NewPGStore(pool pgConn) *PGStore { return &PGStore{pool: pool} }

const (
	pgSelectSubtree  = `SELECT path, value FROM doc_leaves WHERE path = $1 OR path LIKE $2 ESCAPE '\'`
	pgDeleteSubtree  = `DELETE FROM doc_leaves WHERE path = $1 OR path LIKE $2 ESCAPE '\'`
	pgDeleteAncestor = `DELETE FROM doc_leaves WHERE path = ANY($1)`
	pgInsertLeaf     = `INSERT INTO doc_leaves (path, value) VALUES ($1, $2::jsonb)`
	pgSelectMatches  = `SELECT path FROM doc_leaves WHERE path LIKE $1 ESCAPE '\' AND value = $2::jsonb`
	pgIncrement      = `INSERT INTO doc_leaves (path, value) VALUES ($1, to_jsonb($2::bigint))
		ON CONFLICT (path) DO UPDATE SET value = to_jsonb((doc_leaves.value #>> '{}')::bigint + $2::bigint)
		RETURNING (value #>> '{}')::bigint`
)

func (s *PGStore) Get(ctx context.Context, path string) (any, error) {
	path = Clean(path)
	rows, err := s.pool.Query(ctx, pgSelectSubtree, path, subtreePattern(path))
	if err != nil {
		return nil, unavailable("select subtree", err)
	}
	defer rows.Close()

	var leaves []leaf
	for rows.Next() {
		var p string
		var raw []byte
		if err := rows.Scan(&p, &raw); err != nil {
			return nil, unavailable("scan leaf", err)
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, unavailable("decode leaf "+p, err)
		}
		leaves = append(leaves, leaf{path: p, value: v})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("select subtree", err)
	}

	v, ok := assemble(path, leaves)
	if !ok {
		return nil, notFound(path)
	}
	return v, nil
}

func (s *PGStore) Set(ctx context.Context, path string, value any) error {
	v, err := normalize(value)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return pgWrite(ctx, tx, Clean(path), v)
	})
}

func (s *PGStore) Update(ctx context.Context, path string, fields map[string]any) error {
	normalized := make(map[string]any, len(fields))
	for k, f := range fields {
		v, err := normalize(f)
		if err != nil {
			return err
		}
		normalized[k] = v
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, k := range sortedFields(normalized) {
			if err := pgWrite(ctx, tx, Join(path, k), normalized[k]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PGStore) Remove(ctx context.Context, path string) error {
	path = Clean(path)
	if _, err := s.pool.Exec(ctx, pgDeleteSubtree, path, subtreePattern(path)); err != nil {
		return unavailable("delete subtree", err)
	}
	return nil
}

func (s *PGStore) QueryEqual(ctx context.Context, path, child string, value any) (map[string]any, error) {
	want, err := normalize(value)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if want == nil {
		return out, nil
	}
	raw, err := json.Marshal(want)
	if err != nil {
		return nil, fmt.Errorf("encode query value: %w", err)
	}

	path = Clean(path)
	rows, err := s.pool.Query(ctx, pgSelectMatches, subtreePattern(path)+"/"+likeEscape(Clean(child)), string(raw))
	if err != nil {
		return nil, unavailable("query equal", err)
	}
	var keys []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, unavailable("scan match", err)
		}
		if k, ok := queryKey(path, child, p); ok {
			keys = append(keys, k)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, unavailable("query equal", err)
	}

	for _, k := range keys {
		v, err := s.Get(ctx, Join(path, k))
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (s *PGStore) Increment(ctx context.Context, path string, delta int64) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, pgIncrement, Clean(path), delta).Scan(&n); err != nil {
		return 0, unavailable("increment", err)
	}
	return n, nil
}

func (s *PGStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// pgWrite replaces the subtree at path with v inside a transaction. Leaves
// stored at ancestors are dropped since an object now lives below them.
func pgWrite(ctx context.Context, tx execer, path string, v any) error {
	if _, err := tx.Exec(ctx, pgDeleteSubtree, path, subtreePattern(path)); err != nil {
		return unavailable("delete subtree", err)
	}
	if v == nil {
		return nil
	}
	if anc := ancestors(path); len(anc) > 0 {
		if _, err := tx.Exec(ctx, pgDeleteAncestor, anc); err != nil {
			return unavailable("delete ancestors", err)
		}
	}
	for _, l := range flatten(path, v) {
		raw, err := json.Marshal(l.value)
		if err != nil {
			return fmt.Errorf("encode leaf %s: %w", l.path, err)
		}
		if _, err := tx.Exec(ctx, pgInsertLeaf, l.path, string(raw)); err != nil {
			return unavailable("insert leaf", err)
		}
	}
	return nil
}
