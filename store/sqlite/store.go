package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register the "sqlite" driver

	"github.com/pressline/conveyor/dlq"
	"github.com/pressline/conveyor/job"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ job.Store = (*Store)(nil)
	_ dlq.Store = (*Store)(nil)
)

// Store is a SQLite implementation of store.Store using raw SQL over
// database/sql. SQLite allows one writer at a time, so the pool is
// capped at a single connection; WAL keeps readers unblocked.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New opens a SQLite database at the given path. Use ":memory:" for an
// in-memory database.
func New(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA synchronous = NORMAL`,
		`PRAGMA foreign_keys = ON`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("conveyor/sqlite: %s: %w", pragma, err)
		}
	}

	s := &Store{
		db:     db,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate applies all pending schema migrations in order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conveyor_migrations (
			name TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: create migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM conveyor_migrations WHERE name = ?)`,
			m.name,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("conveyor/sqlite: check migration %s: %w", m.name, err)
		}
		if applied {
			continue
		}

		if _, err := s.db.ExecContext(ctx, m.stmt); err != nil {
			return fmt.Errorf("conveyor/sqlite: execute migration %s: %w", m.name, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO conveyor_migrations (name, applied_at) VALUES (?, ?)`,
			m.name, time.Now().UTC().UnixNano(),
		); err != nil {
			return fmt.Errorf("conveyor/sqlite: record migration %s: %w", m.name, err)
		}

		s.logger.Info("applied migration", slog.String("name", m.name))
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ── helpers ──────────────────────────────────────────────────────

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a SQLite error is a unique constraint violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Timestamps are stored as integer Unix nanoseconds; zero nanoseconds
// never occurs in practice because every job carries real clock values.

func toNS(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNS(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func toNullNS(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixNano(), Valid: true}
}

func fromNullNS(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := fromNS(ns.Int64)
	return &t
}
