// Package store provides storage backends for ReplayPipe.
//
// This file implements a PostgreSQL-backed replay store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/ReplayPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements ReplayStore.
var _ ReplayStore = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	slog.Debug("Postgres database opened")

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return newPostgresStoreWithDB(db), nil
}

// newPostgresStoreWithDB wraps an already opened and migrated connection pool.
func newPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetReplay retrieves a cached replay by identifier.
func (s *PostgresStore) GetReplay(ctx context.Context, replayID string) (*models.ParsedReplay, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT format_text, battle_text1, battle_text2 FROM psreplays WHERE replayid = $1`, replayID)
	replay, err := scanReplayRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore GetReplay not found", "replay_id", replayID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetReplay failed", "error", err, "replay_id", replayID)
		return nil, fmt.Errorf("failed to query replay %s: %w", replayID, err)
	}
	slog.Debug("PostgresStore GetReplay found", "replay_id", replayID, "turns", len(replay.TurnsA))
	return &replay, nil
}

// SaveReplay inserts a replay inside an explicit transaction.
func (s *PostgresStore) SaveReplay(ctx context.Context, replayID string, replay models.ParsedReplay) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("PostgresStore SaveReplay begin failed", "error", err, "replay_id", replayID)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO psreplays (replayid, format_text, battle_text1, battle_text2) VALUES ($1, $2, $3, $4)`,
		replayID, replay.FormatText, JoinTurns(replay.TurnsA), JoinTurns(replay.TurnsB))
	if err != nil {
		slog.Error("PostgresStore SaveReplay insert failed", "error", err, "replay_id", replayID)
		return fmt.Errorf("failed to insert replay %s: %w", replayID, err)
	}
	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore SaveReplay commit failed", "error", err, "replay_id", replayID)
		return fmt.Errorf("failed to commit replay %s: %w", replayID, err)
	}
	slog.Debug("PostgresStore SaveReplay succeeded", "replay_id", replayID, "turns", len(replay.TurnsA))
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	} else {
		slog.Debug("PostgreSQL database connection closed successfully")
	}
	return err
}
