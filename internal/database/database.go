// FilePath: server/meterhub/internal/database/database.go
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	nuts "github.com/vaudience/go-nuts"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its base FS and dialect in package globals.
var migrateMu sync.Mutex

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// DB is an interface that both PostgreSQL and SQLite connections implement
type DB interface {
	Close() error
	Ping(ctx context.Context) error
	GetDB() *sqlx.DB
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PostgresDB represents a PostgreSQL database connection
type PostgresDB struct {
	db *sqlx.DB
}

// SQLiteDB represents an embedded SQLite database
type SQLiteDB struct {
	db *sqlx.DB
}

// NewPostgresDB connects to PostgreSQL and applies pending migrations
func NewPostgresDB(cfg config.PostgresConfig) (DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)
	return OpenPostgres(dsn)
}

// OpenPostgres connects to PostgreSQL with a ready-made DSN or URL
func OpenPostgres(dsn string) (DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error connecting to PostgreSQL: %w", err)
	}
	if err := Migrate(db, "postgres"); err != nil {
		db.Close()
		return nil, err
	}

	nuts.L.Infof("[PostgresDB] Connected and migrated")
	return &PostgresDB{db: db}, nil
}

// NewSQLiteDB opens (or creates) a SQLite database at path and applies
// pending migrations. Use ":memory:" for an in-memory database.
func NewSQLiteDB(path string) (DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("error creating sqlite directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening SQLite: %w", err)
	}
	// every connection to ":memory:" is a separate database
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("error applying %q: %w", pragma, err)
		}
	}
	if err := Migrate(db, "sqlite3"); err != nil {
		db.Close()
		return nil, err
	}

	nuts.L.Infof("[SQLiteDB] Opened %s", path)
	return &SQLiteDB{db: db}, nil
}

// Migrate runs all embedded migrations for the given goose dialect.
func Migrate(db *sqlx.DB, dialect string) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("error setting goose dialect: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return fmt.Errorf("error running migrations: %w", err)
	}
	return nil
}

// Implementation of DB interface for PostgresDB
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresDB) GetDB() *sqlx.DB {
	return p.db
}

// Implementation of DB interface for SQLiteDB
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteDB) GetDB() *sqlx.DB {
	return s.db
}
