// Package repo implements the SQLite backed history store
package repo

import (
	"context"
	"database/sql"
	"sync"

	// registers the sqlite3 driver
	_ "github.com/mattn/go-sqlite3"

	perr "agpm/internal/platform/errors"
	"agpm/internal/services/history/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS pull_requests (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	number INTEGER NOT NULL,
	title  TEXT    NOT NULL,
	merged INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_pull_requests_number ON pull_requests(number);
`

// SQLite is the history store over a single database file.
// A store level mutex serializes writers; the sqlite driver alone
// is not enough once two goroutines race an upsert
type SQLite struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens or creates the database file and applies the schema
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "history open %s", path)
	}
	db.SetMaxOpenConns(1)
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle and ensures the schema
func New(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "history schema")
	}
	return &SQLite{db: db}, nil
}

// Insert records a pull request, idempotent per number.
// An existing row picks up a changed title; merged only ever flips false to true
func (s *SQLite) Insert(ctx context.Context, number int, title string, merged bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDB, "history begin")
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id        int64
		oldTitle  string
		oldMerged int
	)
	row := tx.QueryRowContext(ctx,
		`SELECT id, title, merged FROM pull_requests WHERE number = ? LIMIT 1`, number)
	switch err := row.Scan(&id, &oldTitle, &oldMerged); err {
	case sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pull_requests(number, title, merged) VALUES(?, ?, ?)`,
			number, title, boolInt(merged)); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeDB, "history insert #%d", number)
		}
	case nil:
		newMerged := oldMerged
		if merged {
			newMerged = 1
		}
		if oldTitle != title || newMerged != oldMerged {
			if _, err := tx.ExecContext(ctx,
				`UPDATE pull_requests SET title = ?, merged = ? WHERE id = ?`,
				title, newMerged, id); err != nil {
				return perr.Wrapf(err, perr.ErrorCodeDB, "history update #%d", number)
			}
		}
	default:
		return perr.Wrapf(err, perr.ErrorCodeDB, "history lookup #%d", number)
	}

	if err := tx.Commit(); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDB, "history commit")
	}
	return nil
}

// MarkMerged flips the merged flag for a number; a miss is not an error
func (s *SQLite) MarkMerged(ctx context.Context, number int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE pull_requests SET merged = 1 WHERE number = ?`, number); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDB, "history mark merged #%d", number)
	}
	return nil
}

// List returns every record ordered by insertion
func (s *SQLite) List(ctx context.Context) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, number, title, merged FROM pull_requests ORDER BY id`)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "history list")
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Record
	for rows.Next() {
		var (
			r      domain.Record
			merged int
		)
		if err := rows.Scan(&r.ID, &r.Number, &r.Title, &merged); err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeDB, "history scan")
		}
		r.Merged = merged != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "history rows")
	}
	return out, nil
}

// Close releases the underlying handle
func (s *SQLite) Close() error { return s.db.Close() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
