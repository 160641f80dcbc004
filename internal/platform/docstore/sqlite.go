package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the tree in an embedded SQLite database file.
type SQLiteStore struct{ db *sqlx.DB }

const sqliteSchema = `CREATE TABLE IF NOT EXISTS doc_leaves (
	path  TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// OpenSQLite opens (or creates) the database at dsn and ensures the schema.
// Use ":memory:" for a throwaway store.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, unavailable("open sqlite", err)
	}
	// SQLite serializes writers; a single connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, unavailable("create schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// sqliteSubtree matches path and every descendant. LIKE folds ASCII case in
// SQLite, so descendants are selected as the byte range [path+"/", path+"0")
// on the primary key instead.
const sqliteSubtree = `(path = ? OR ? = '' OR (path >= ? AND path < ?))`

func subtreeArgs(path string) []any {
	return []any{path, path, path + "/", path + "0"}
}

type leafRow struct {
	Path  string `db:"path"`
	Value string `db:"value"`
}

func (s *SQLiteStore) Get(ctx context.Context, path string) (any, error) {
	path = Clean(path)
	var rows []leafRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT path, value FROM doc_leaves WHERE `+sqliteSubtree, subtreeArgs(path)...)
	if err != nil {
		return nil, unavailable("select subtree", err)
	}
	leaves := make([]leaf, 0, len(rows))
	for _, r := range rows {
		var v any
		if err := json.Unmarshal([]byte(r.Value), &v); err != nil {
			return nil, unavailable("decode leaf "+r.Path, err)
		}
		leaves = append(leaves, leaf{path: r.Path, value: v})
	}
	v, ok := assemble(path, leaves)
	if !ok {
		return nil, notFound(path)
	}
	return v, nil
}

func (s *SQLiteStore) Set(ctx context.Context, path string, value any) error {
	v, err := normalize(value)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return sqliteWrite(ctx, tx, Clean(path), v)
	})
}

func (s *SQLiteStore) Update(ctx context.Context, path string, fields map[string]any) error {
	normalized := make(map[string]any, len(fields))
	for k, f := range fields {
		v, err := normalize(f)
		if err != nil {
			return err
		}
		normalized[k] = v
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, k := range sortedFields(normalized) {
			if err := sqliteWrite(ctx, tx, Join(path, k), normalized[k]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Remove(ctx context.Context, path string) error {
	path = Clean(path)
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM doc_leaves WHERE `+sqliteSubtree, subtreeArgs(path)...)
	if err != nil {
		return unavailable("delete subtree", err)
	}
	return nil
}

func (s *SQLiteStore) QueryEqual(ctx context.Context, path, child string, value any) (map[string]any, error) {
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
	var paths []string
	// queryKey below keeps only base/{key}/{child} leaves.
	err = s.db.SelectContext(ctx, &paths,
		`SELECT path FROM doc_leaves WHERE (? = '' OR (path >= ? AND path < ?)) AND value = ?`,
		path, path+"/", path+"0", string(raw))
	if err != nil {
		return nil, unavailable("query equal", err)
	}
	for _, p := range paths {
		k, ok := queryKey(path, child, p)
		if !ok {
			continue
		}
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

func (s *SQLiteStore) Increment(ctx context.Context, path string, delta int64) (int64, error) {
	path = Clean(path)
	var n int64
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var raw string
		err := tx.GetContext(ctx, &raw, `SELECT value FROM doc_leaves WHERE path = ?`, path)
		var cur any
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return unavailable("read counter", err)
		default:
			if err := json.Unmarshal([]byte(raw), &cur); err != nil {
				return unavailable("decode counter", err)
			}
		}
		base, err := toInt64(cur)
		if err != nil {
			return err
		}
		n = base + delta
		_, err = tx.ExecContext(ctx,
			`INSERT INTO doc_leaves (path, value) VALUES (?, ?)
			 ON CONFLICT(path) DO UPDATE SET value = excluded.value`,
			path, fmt.Sprintf("%d", n))
		if err != nil {
			return unavailable("write counter", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return unavailable("begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

func sqliteWrite(ctx context.Context, tx *sqlx.Tx, path string, v any) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM doc_leaves WHERE `+sqliteSubtree, subtreeArgs(path)...)
	if err != nil {
		return unavailable("delete subtree", err)
	}
	if v == nil {
		return nil
	}
	if anc := ancestors(path); len(anc) > 0 {
		query, args, err := sqlx.In(`DELETE FROM doc_leaves WHERE path IN (?)`, anc)
		if err != nil {
			return fmt.Errorf("build ancestor delete: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return unavailable("delete ancestors", err)
		}
	}
	for _, l := range flatten(path, v) {
		raw, err := json.Marshal(l.value)
		if err != nil {
			return fmt.Errorf("encode leaf %s: %w", l.path, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO doc_leaves (path, value) VALUES (?, ?)`, l.path, string(raw)); err != nil {
			return unavailable("insert leaf", err)
		}
	}
	return nil
}
