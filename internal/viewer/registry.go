package viewer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/ReplayPipe/internal/models"
)

// DefaultIdleTimeout freezes a session after 14 minutes without interaction.
const DefaultIdleTimeout = 14 * time.Minute

// ExpiryHandler is called once, outside the registry lock, after a session froze.
type ExpiryHandler func(s *Session)

// Opts holds configuration for a Registry.
type Opts struct {
	IdleTimeout time.Duration
	OnExpire    ExpiryHandler
}

// Option configures a Registry.
type Option func(*Opts)

// WithIdleTimeout overrides DefaultIdleTimeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.IdleTimeout = d
	}
}

// WithExpiryHandler registers the callback run when a session goes idle.
func WithExpiryHandler(fn ExpiryHandler) Option {
	return func(o *Opts) {
		o.OnExpire = fn
	}
}

// registryEntry tracks a live session and its idle timer.
type registryEntry struct {
	session   *Session
	timer     *time.Timer
	expiresAt time.Time
}

// Registry owns the live sessions and their idle timers.
type Registry struct {
	idle     time.Duration
	onExpire ExpiryHandler

	mu      sync.RWMutex
	entries map[string]*registryEntry
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	cfg := Opts{IdleTimeout: DefaultIdleTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	slog.Debug("Creating viewer Registry", "idle_timeout", cfg.IdleTimeout)
	return &Registry{
		idle:     cfg.IdleTimeout,
		onExpire: cfg.OnExpire,
		entries:  make(map[string]*registryEntry),
	}
}

// Create starts a new session and its idle timer.
func (r *Registry) Create(ownerID string, meta models.ReplayMeta, replay models.ParsedReplay, theme models.Theme) *Session {
	id := uuid.NewString()
	s := NewSession(id, ownerID, meta, replay, theme)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = &registryEntry{
		session:   s,
		timer:     time.AfterFunc(r.idle, func() { r.expire(id) }),
		expiresAt: time.Now().Add(r.idle),
	}
	slog.Debug("viewer Registry Create", "session_id", id, "owner_id", ownerID, "active", len(r.entries))
	return s
}

// Get returns a live session.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return entry.session, true
}

// Touch restarts the idle timer of a session. It reports false for unknown or
// already expired sessions.
func (r *Registry) Touch(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return false
	}
	entry.timer.Reset(r.idle)
	entry.expiresAt = time.Now().Add(r.idle)
	slog.Debug("viewer Registry Touch", "session_id", id, "expires_at", entry.expiresAt)
	return true
}

// Remaining returns how long a session has until it freezes.
func (r *Registry) Remaining(id string) (time.Duration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok {
		return 0, false
	}
	remaining := time.Until(entry.expiresAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) expire(id string) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	entry.session.Freeze()
	slog.Info("viewer session expired", "session_id", id, "owner_id", entry.session.OwnerID)
	if r.onExpire != nil {
		r.onExpire(entry.session)
	}
}

// Stop cancels all idle timers and freezes every live session without running
// the expiry handler.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	slog.Debug("viewer Registry stopping", "count", len(r.entries))
	for id, entry := range r.entries {
		entry.timer.Stop()
		entry.session.Freeze()
		delete(r.entries, id)
	}
	slog.Info("viewer Registry stopped")
}
