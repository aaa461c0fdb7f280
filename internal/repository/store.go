package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when an entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicateLog is returned when a delivery log already exists
	// for a (campaign, recipient) pair. Callers treat it as "already
	// handled", not a failure: the unique index is the idempotency
	// backstop for concurrent dispatch attempts.
	ErrDuplicateLog = errors.New("delivery log already exists for campaign and recipient")
)

// Store wraps the SQLite database shared by the repositories
type Store struct {
	*sql.DB
}

// Open opens (and creates if needed) the database at path
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		path += "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Store{db}, nil
}

// Migrate applies the schema
func (s *Store) Migrate() error {
	migrations := []string{
		migrationTemplates,
		migrationRecipients,
		migrationCampaigns,
		migrationDeliveryLogs,
		migrationSchedulerLocks,
	}

	for _, m := range migrations {
		if _, err := s.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a unique constraint error
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
