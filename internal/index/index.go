// Package index provides an optional SQLite FTS5 index over record bodies,
// used by the candidate prefilter as its semantic similarity backend. When no
// index is available the prefilter falls back to lexical overlap.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/rcliao/memgov/internal/model"
	"github.com/rcliao/memgov/internal/textutil"
)

// Match is one search hit with a similarity score in [0,1].
type Match struct {
	ID    string
	Score float64
}

// Index is a rebuildable full-text index over the record corpus.
type Index struct {
	db *sql.DB
}

// Open opens or creates an index database at the given path.
func Open(dbPath string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	x := &Index{db: db}
	if err := x.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate index: %w", err)
	}
	return x, nil
}

func (x *Index) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id   TEXT PRIMARY KEY,
		body TEXT NOT NULL
	);
	CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
		body,
		content=records,
		content_rowid=rowid
	);
	`
	if _, err := x.db.Exec(schema); err != nil {
		return err
	}
	x.db.Exec(`CREATE TRIGGER IF NOT EXISTS records_ai AFTER INSERT ON records BEGIN
		INSERT INTO records_fts(rowid, body) VALUES (new.rowid, new.body);
	END`)
	x.db.Exec(`CREATE TRIGGER IF NOT EXISTS records_ad AFTER DELETE ON records BEGIN
		INSERT INTO records_fts(records_fts, rowid, body) VALUES ('delete', old.rowid, old.body);
	END`)
	return nil
}

// Rebuild replaces the index contents with the given records.
func (x *Index) Rebuild(ctx context.Context, records []*model.Record) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records (id, body) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, textutil.Normalize(r.Body)); err != nil {
			return fmt.Errorf("index record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Search returns the records best matching the query text, scored in [0,1].
func (x *Index) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 20
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := x.db.QueryContext(ctx, `
		SELECT r.id, bm25(records_fts) AS rank
		FROM records_fts
		JOIN records r ON r.rowid = records_fts.rowid
		WHERE records_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		var rank float64
		if err := rows.Scan(&m.ID, &rank); err != nil {
			return nil, err
		}
		// bm25 ranks are <= 0 with better matches more negative.
		m.Score = textutil.Clamp(-rank / (1 - rank))
		out = append(out, m)
	}
	return out, rows.Err()
}

// ftsQuery builds an OR query over the quoted tokens of the text.
func ftsQuery(text string) string {
	seen := map[string]bool{}
	var terms []string
	for _, tok := range strings.Fields(textutil.Normalize(text)) {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		terms = append(terms, `"`+tok+`"`)
	}
	return strings.Join(terms, " OR ")
}

// Close closes the index database.
func (x *Index) Close() error { return x.db.Close() }
