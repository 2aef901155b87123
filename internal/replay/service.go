// Package replay loads replays for the bot: it validates the link, fetches the
// metadata, serves stored replays and otherwise scrapes, parses and stores them.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ReplayPipe/internal/battlelog"
	"github.com/BTreeMap/ReplayPipe/internal/models"
	"github.com/BTreeMap/ReplayPipe/internal/scraper"
	"github.com/BTreeMap/ReplayPipe/internal/showdown"
	"github.com/BTreeMap/ReplayPipe/internal/store"
	"github.com/BTreeMap/ReplayPipe/internal/taskcache"
)

// DefaultCacheTTL is how long a finished scrape is shared with repeat requests.
const DefaultCacheTTL = 100 * time.Second

// Opts holds configuration for a Service.
type Opts struct {
	CacheTTL time.Duration
}

// Option configures a Service.
type Option func(*Opts)

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(d time.Duration) Option {
	return func(o *Opts) {
		o.CacheTTL = d
	}
}

// Request is a validated replay request with its metadata. Cached is set when the
// replay was already in the store.
type Request struct {
	URL      string
	ReplayID string
	Meta     models.ReplayMeta
	Cached   *models.ParsedReplay
}

// Service coordinates the store, the metadata client and the scraper.
type Service struct {
	store   store.ReplayStore
	meta    showdown.MetadataFetcher
	scraper scraper.Scraper
	tasks   *taskcache.Cache[string, models.ParsedReplay]
}

// NewService creates a Service.
func NewService(st store.ReplayStore, meta showdown.MetadataFetcher, sc scraper.Scraper, opts ...Option) *Service {
	cfg := Opts{CacheTTL: DefaultCacheTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Creating replay Service", "cache_ttl", cfg.CacheTTL)
	return &Service{
		store:   st,
		meta:    meta,
		scraper: sc,
		tasks:   taskcache.New[string, models.ParsedReplay](cfg.CacheTTL),
	}
}

// Prepare validates rawURL, fetches its metadata and looks the replay up in the
// store. Nothing is cached when it fails.
func (s *Service) Prepare(ctx context.Context, rawURL string) (*Request, error) {
	replayURL, err := showdown.NormalizeReplayURL(rawURL)
	if err != nil {
		slog.Debug("replay Prepare rejected url", "url", rawURL, "error", err)
		return nil, err
	}
	replayID, err := store.ReplayID(replayURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidReplayURL, err)
	}

	meta, err := s.meta.FetchMetadata(ctx, replayURL)
	if err != nil {
		return nil, err
	}

	req := &Request{URL: replayURL, ReplayID: replayID, Meta: meta}
	cached, err := s.store.GetReplay(ctx, replayID)
	if err != nil {
		// The store is only a cache; a read failure falls back to scraping.
		slog.Error("replay Prepare store lookup failed", "replay_id", replayID, "error", err)
		return req, nil
	}
	if cached != nil {
		if err := cached.Validate(); err != nil {
			slog.Warn("replay Prepare ignoring malformed stored replay", "replay_id", replayID, "error", err)
			return req, nil
		}
		req.Cached = cached
	}
	slog.Debug("replay Prepare", "replay_id", replayID, "cached", req.Cached != nil)
	return req, nil
}

// Load returns the stored replay when there is one and scrapes otherwise.
func (s *Service) Load(ctx context.Context, req *Request) (models.ParsedReplay, error) {
	if req.Cached != nil {
		return *req.Cached, nil
	}
	return s.Scrape(ctx, req.URL)
}

// Scrape fetches and parses replayURL. Concurrent and repeated calls for the same
// URL share one scrape; only successful scrapes are stored. Cancelling ctx stops
// this caller from waiting but not the scrape itself.
func (s *Service) Scrape(ctx context.Context, replayURL string) (models.ParsedReplay, error) {
	replayID, err := store.ReplayID(replayURL)
	if err != nil {
		return models.ParsedReplay{}, fmt.Errorf("%w: %v", models.ErrInvalidReplayURL, err)
	}
	task := s.tasks.Invoke(ctx, replayURL, s.produce(replayURL, replayID))
	return task.Wait(ctx)
}

func (s *Service) produce(replayURL, replayID string) taskcache.Producer[models.ParsedReplay] {
	return func(ctx context.Context) (models.ParsedReplay, error) {
		slog.Info("replay scraping", "url", replayURL)
		doc, err := s.scraper.Scrape(ctx, replayURL)
		if err != nil {
			return models.ParsedReplay{}, err
		}
		replay, err := ParseDocument(doc)
		if err != nil {
			slog.Error("replay parse failed", "url", replayURL, "error", err)
			return models.ParsedReplay{}, fmt.Errorf("%w: %w", models.ErrScrapeFailed, err)
		}
		if err := s.store.SaveReplay(ctx, replayID, replay); err != nil {
			slog.Error("replay save failed", "replay_id", replayID, "error", err)
		}
		slog.Info("replay scraped", "replay_id", replayID, "total_turns", replay.TotalTurns())
		return replay, nil
	}
}

// Close forgets all shared scrapes.
func (s *Service) Close() {
	s.tasks.Stop()
}

// ParseDocument turns the two captured logs into a ParsedReplay. The format text
// comes from viewpoint A. When the viewpoints disagree on the number of turns the
// shorter one is padded with empty turns.
func ParseDocument(doc models.RawReplayDocument) (models.ParsedReplay, error) {
	formatText, bodyA := battlelog.Normalize(doc.ViewpointA)
	_, bodyB := battlelog.Normalize(doc.ViewpointB)
	if bodyA == "" || bodyB == "" {
		return models.ParsedReplay{}, fmt.Errorf("%w: battle history missing", models.ErrEmptyReplay)
	}

	replay := models.ParsedReplay{
		FormatText: formatText,
		TurnsA:     battlelog.SplitTurns(bodyA),
		TurnsB:     battlelog.SplitTurns(bodyB),
	}
	if len(replay.TurnsA) != len(replay.TurnsB) {
		slog.Warn("replay viewpoints disagree on turn count, padding", "turns_a", len(replay.TurnsA), "turns_b", len(replay.TurnsB))
		replay.TurnsA, replay.TurnsB = pad(replay.TurnsA, len(replay.TurnsB)), pad(replay.TurnsB, len(replay.TurnsA))
	}
	return replay, replay.Validate()
}

func pad(turns []string, n int) []string {
	for len(turns) < n {
		turns = append(turns, "")
	}
	return turns
}
