// Package store provides storage backends for ReplayPipe.
//
// This file implements an SQLite-backed replay store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	"github.com/BTreeMap/ReplayPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements ReplayStore.
var _ ReplayStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(strings.TrimPrefix(strings.SplitN(dsn, "?", 2)[0], "file:"))
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	slog.Debug("SQLite database opened")

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// GetReplay retrieves a cached replay by identifier.
func (s *SQLiteStore) GetReplay(ctx context.Context, replayID string) (*models.ParsedReplay, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT format_text, battle_text1, battle_text2 FROM psreplays WHERE replayid = ?`, replayID)
	replay, err := scanReplayRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore GetReplay not found", "replay_id", replayID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetReplay failed", "error", err, "replay_id", replayID)
		return nil, fmt.Errorf("failed to query replay %s: %w", replayID, err)
	}
	slog.Debug("SQLiteStore GetReplay found", "replay_id", replayID, "turns", len(replay.TurnsA))
	return &replay, nil
}

// SaveReplay inserts a replay inside an explicit transaction.
func (s *SQLiteStore) SaveReplay(ctx context.Context, replayID string, replay models.ParsedReplay) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("SQLiteStore SaveReplay begin failed", "error", err, "replay_id", replayID)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO psreplays (replayid, format_text, battle_text1, battle_text2) VALUES (?, ?, ?, ?)`,
		replayID, replay.FormatText, JoinTurns(replay.TurnsA), JoinTurns(replay.TurnsB))
	if err != nil {
		slog.Error("SQLiteStore SaveReplay insert failed", "error", err, "replay_id", replayID)
		return fmt.Errorf("failed to insert replay %s: %w", replayID, err)
	}
	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore SaveReplay commit failed", "error", err, "replay_id", replayID)
		return fmt.Errorf("failed to commit replay %s: %w", replayID, err)
	}
	slog.Debug("SQLiteStore SaveReplay succeeded", "replay_id", replayID, "turns", len(replay.TurnsA))
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
