// Package store provides storage backends for ReplayPipe.
//
// Parsed replays are cached durably so a replay is scraped at most once. An in-memory
// store is available for tests and for running without a database.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/ReplayPipe/internal/models"
)

// ReplayStore persists parsed replays keyed by replay identifier.
type ReplayStore interface {
	// GetReplay returns the cached replay, or nil without error when it is absent.
	GetReplay(ctx context.Context, replayID string) (*models.ParsedReplay, error)
	// SaveReplay writes a replay as a single row. Writing an existing replayID is a
	// caller error reported by the backend; callers read before they write.
	SaveReplay(ctx context.Context, replayID string, replay models.ParsedReplay) error
	// Close releases the underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string // database connection string or file path
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports "postgres" for PostgreSQL URLs or key/value DSNs and
// "sqlite3" for everything else (file paths, file: URIs).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// NewStore picks a backend from the configured DSN. Without a DSN an in-memory
// store is returned.
func NewStore(opts ...Option) (ReplayStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Debug("NewStore: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(cfg.DSN) {
	case "postgres":
		slog.Debug("NewStore: using PostgreSQL store")
		return NewPostgresStore(opts...)
	default:
		slog.Debug("NewStore: using SQLite store", "db_path", cfg.DSN)
		return NewSQLiteStore(opts...)
	}
}

// InMemoryStore is a simple in-memory replay store.
type InMemoryStore struct {
	mu      sync.RWMutex
	replays map[string]models.ParsedReplay
}

// Compile-time check that InMemoryStore implements ReplayStore.
var _ ReplayStore = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{replays: make(map[string]models.ParsedReplay)}
}

func (s *InMemoryStore) GetReplay(ctx context.Context, replayID string) (*models.ParsedReplay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.replays[replayID]
	if !ok {
		return nil, nil
	}
	out := copyReplay(r)
	return &out, nil
}

func (s *InMemoryStore) SaveReplay(ctx context.Context, replayID string, replay models.ParsedReplay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.replays[replayID]; exists {
		return fmt.Errorf("replay %s already stored", replayID)
	}
	s.replays[replayID] = copyReplay(replay)
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

func copyReplay(r models.ParsedReplay) models.ParsedReplay {
	return models.ParsedReplay{
		FormatText: r.FormatText,
		TurnsA:     append([]string(nil), r.TurnsA...),
		TurnsB:     append([]string(nil), r.TurnsB...),
	}
}
