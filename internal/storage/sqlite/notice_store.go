// Package sqlite provides a single-file notice store backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ajou-notice/noticepoller/internal/notice"
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=10000",
	"PRAGMA synchronous=NORMAL",
}

// NoticeStore persists notices in a SQLite database file.
type NoticeStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path.
func Open(ctx context.Context, path string) (*NoticeStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database.path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single connection serializes the poller and retention writers
	db.SetMaxOpenConns(1)

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &NoticeStore{db: db}, nil
}

// Migrate creates the notices table and its date index when missing.
func (s *NoticeStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS notices (
	id       INTEGER PRIMARY KEY,
	title    TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	writer   TEXT NOT NULL,
	date     TEXT NOT NULL,
	link     TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS notices_date_idx ON notices (date)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate notices: %w", err)
		}
	}
	return nil
}

// Exists reports whether a notice with id is stored.
func (s *NoticeStore) Exists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM notices WHERE id = ?)`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check notice %d: %w", id, err)
	}
	return ok, nil
}

// Insert writes n. A primary key conflict yields notice.ErrDuplicateKey.
func (s *NoticeStore) Insert(ctx context.Context, n notice.Notice) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notices (id, title, category, writer, date, link) VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.Title, n.Category, n.Writer, n.Date, n.Link,
	)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("insert notice %d: %w", n.ID, notice.ErrDuplicateKey)
		}
		return fmt.Errorf("insert notice %d: %w", n.ID, err)
	}
	return nil
}

// ListByDate returns the notices posted on date, newest id first.
func (s *NoticeStore) ListByDate(ctx context.Context, date string) ([]notice.Notice, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, category, writer, date, link
FROM notices
WHERE date = ?
ORDER BY id DESC`, date)
	if err != nil {
		return nil, fmt.Errorf("list notices for %s: %w", date, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]notice.Notice, 0)
	for rows.Next() {
		var n notice.Notice
		if err := rows.Scan(&n.ID, &n.Title, &n.Category, &n.Writer, &n.Date, &n.Link); err != nil {
			return nil, fmt.Errorf("scan notice: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notices: %w", err)
	}
	return out, nil
}

// DeleteByDate removes the notices posted on date.
func (s *NoticeStore) DeleteByDate(ctx context.Context, date string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notices WHERE date = ?`, date)
	if err != nil {
		return 0, fmt.Errorf("delete notices for %s: %w", date, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Ping checks the database handle.
func (s *NoticeStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *NoticeStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func isConstraint(err error) bool {
	var sqliteErr *msqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
