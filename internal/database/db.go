package database

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Option adjusts connection settings
type Option func(*sql.DB)

// WithMaxConnections caps open connections. Values below 1 are ignored.
func WithMaxConnections(n int) Option {
	return func(db *sql.DB) {
		if n < 1 {
			return
		}
		db.SetMaxOpenConns(n)
		if n < 5 {
			db.SetMaxIdleConns(n)
		}
	}
}

// NewDB opens the sqlite database at dbPath, creating its directory
func NewDB(dbPath string, opts ...Option) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn, err := buildSQLiteDSN(dbPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	for _, opt := range opts {
		opt(db)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

func buildSQLiteDSN(dbPath string) (string, error) {
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve database path: %w", err)
	}

	// SQLite file URIs want forward slashes
	absPath = strings.ReplaceAll(absPath, "\\", "/")

	pragmas := []string{
		"foreign_keys(ON)",
		"busy_timeout(5000)",
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
	}
	return "file:" + absPath + "?_pragma=" + strings.Join(pragmas, "&_pragma="), nil
}

// Migrate applies every pending migration in order, each in its own transaction
func (db *DB) Migrate() error {
	applied, err := db.appliedMigrations()
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := db.runInTx(migration.Version, migration.Up,
			"INSERT INTO migrations (version, applied_at) VALUES (?, datetime('now'))"); err != nil {
			return err
		}
		log.Printf("[Database] Applied migration: %s", migration.Version)
	}

	return nil
}

// Rollback reverts the most recently applied migration and returns its
// version. It returns "" when nothing is applied.
func (db *DB) Rollback() (string, error) {
	applied, err := db.appliedMigrations()
	if err != nil {
		return "", err
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		migration := migrations[i]
		if !applied[migration.Version] {
			continue
		}
		if strings.TrimSpace(migration.Down) == "" {
			return "", fmt.Errorf("migration %s cannot be reverted", migration.Version)
		}
		if err := db.runInTx(migration.Version, migration.Down,
			"DELETE FROM migrations WHERE version = ?"); err != nil {
			return "", err
		}
		log.Printf("[Database] Reverted migration: %s", migration.Version)
		return migration.Version, nil
	}

	return "", nil
}

// PendingMigrations returns versions that have not been applied yet
func (db *DB) PendingMigrations() ([]string, error) {
	applied, err := db.appliedMigrations()
	if err != nil {
		return nil, err
	}

	pending := []string{}
	for _, migration := range migrations {
		if !applied[migration.Version] {
			pending = append(pending, migration.Version)
		}
	}
	return pending, nil
}

// runInTx executes script and then the bookkeeping statement for version
func (db *DB) runInTx(version, script, bookkeeping string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec(script); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to execute migration %s: %w", version, err)
	}

	if _, err := tx.Exec(bookkeeping, version); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration %s: %w", version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", version, err)
	}
	return nil
}

func (db *DB) appliedMigrations() (map[string]bool, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL
		)
	`); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.Query("SELECT version FROM migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}
