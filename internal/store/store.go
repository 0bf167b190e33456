// Package store persists connections, file records, sync logs, folder
// mappings, and sync leases. It runs on SQLite (default, pure Go) or
// PostgreSQL through database/sql, with the schema managed by goose.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	// PostgreSQL driver registered as "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the sole gateway to the database. All methods are safe for
// concurrent use; each write autocommits unless documented otherwise.
type Store struct {
	db      *sql.DB
	driver  string
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open connects to the database, runs pending migrations, and returns a
// ready Store. For SQLite, dsn is a file path; for PostgreSQL it is a
// connection URL.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		db  *sql.DB
		err error
	)

	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		db, err = openSQLite(dsn)
	case DriverPostgres:
		db, err = sql.Open(DriverPostgres, dsn)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}

	if err != nil {
		return nil, fmt.Errorf("store: opening %s database: %w", driver, err)
	}

	if err := runMigrations(ctx, db, driver, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("store initialized", slog.String("driver", driver))

	return &Store{
		db:      db,
		driver:  driver,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// openSQLite applies pragmas through the DSN so they hold for every pooled
// connection. WAL with synchronous=FULL keeps each autocommitted write durable.
func openSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, err
	}

	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	return db, nil
}

// runMigrations applies all pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, driver string, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: creating migration sub-filesystem: %w", err)
	}

	dialect := goose.DialectSQLite3
	if driver == DriverPostgres {
		dialect = goose.DialectPostgres
	}

	provider, err := goose.NewProvider(dialect, db, subFS)
	if err != nil {
		return fmt.Errorf("store: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SetNowFunc overrides the clock. Tests use it for deterministic timestamps.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.nowFunc = fn
}

// q rewrites "?" placeholders to "$n" for PostgreSQL. Queries in this
// package never contain literal question marks.
func (s *Store) q(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var b strings.Builder

	b.Grow(len(query) + 8)

	n := 0

	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))

			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}

// nanos converts a time to Unix nanoseconds; the zero time maps to NULL.
func nanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

// fromNanos is the inverse of nanos.
func fromNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}

	return time.Unix(0, n.Int64).UTC()
}

// nullString maps "" to NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullStringPtr maps nil to NULL.
func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}

	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}

	s := ns.String

	return &s
}
