// Package postgres provides the Postgres-backed notice store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ajou-notice/noticepoller/internal/notice"
)

const uniqueViolation = "23505"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for notice rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// NoticeStore persists notices into a single Postgres table keyed by id.
type NoticeStore struct {
	pool  pool
	table string
}

// NewNoticeStore connects a pgx pool using cfg.
func NewNoticeStore(ctx context.Context, cfg Config) (*NoticeStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &NoticeStore{pool: p, table: table}, nil
}

// NewNoticeStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewNoticeStoreWithPool(p pool, table string) (*NoticeStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &NoticeStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "notices"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Migrate creates the notice table and its date index when missing.
func (s *NoticeStore) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id       BIGINT PRIMARY KEY,
	title    TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	writer   TEXT NOT NULL,
	date     TEXT NOT NULL,
	link     TEXT NOT NULL
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_date_idx ON %s (date)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.table, err)
		}
	}
	return nil
}

// Exists reports whether a notice with id is stored.
func (s *NoticeStore) Exists(ctx context.Context, id int64) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, s.table)
	var ok bool
	if err := s.pool.QueryRow(ctx, query, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("check notice %d: %w", id, err)
	}
	return ok, nil
}

// Insert writes n. A primary key conflict yields notice.ErrDuplicateKey.
func (s *NoticeStore) Insert(ctx context.Context, n notice.Notice) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, title, category, writer, date, link)
VALUES ($1, $2, $3, $4, $5, $6)`, s.table)
	_, err := s.pool.Exec(ctx, query, n.ID, n.Title, n.Category, n.Writer, n.Date, n.Link)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert notice %d: %w", n.ID, notice.ErrDuplicateKey)
		}
		return fmt.Errorf("insert notice %d: %w", n.ID, err)
	}
	return nil
}

// ListByDate returns the notices posted on date, newest id first.
func (s *NoticeStore) ListByDate(ctx context.Context, date string) ([]notice.Notice, error) {
	query := fmt.Sprintf(`
SELECT id, title, category, writer, date, link
FROM %s
WHERE date = $1
ORDER BY id DESC`, s.table)
	rows, err := s.pool.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("list notices for %s: %w", date, err)
	}
	defer rows.Close()

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
	query := fmt.Sprintf(`DELETE FROM %s WHERE date = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, date)
	if err != nil {
		return 0, fmt.Errorf("delete notices for %s: %w", date, err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks connectivity.
func (s *NoticeStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *NoticeStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
