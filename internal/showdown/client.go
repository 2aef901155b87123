// Package showdown talks to the public Pokémon Showdown replay server.
package showdown

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BTreeMap/ReplayPipe/internal/models"
)

// ReplayURLPrefix is the only accepted replay origin.
const ReplayURLPrefix = "https://replay.pokemonshowdown.com/"

// DefaultRequestTimeout bounds a metadata request when the caller sets no deadline.
const DefaultRequestTimeout = 15 * time.Second

// rawSuffixes are the alternate representations users paste instead of the page.
var rawSuffixes = []string{".json", ".log"}

// NormalizeReplayURL validates a user supplied replay link and returns the
// canonical page URL with any .json or .log suffix removed.
func NormalizeReplayURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, ReplayURLPrefix) {
		return "", fmt.Errorf("%w: must start with %s", models.ErrInvalidReplayURL, ReplayURLPrefix)
	}
	for _, suffix := range rawSuffixes {
		if strings.HasSuffix(raw, suffix) {
			raw = strings.TrimSuffix(raw, suffix)
			break
		}
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalidReplayURL, err)
	}
	if strings.Trim(parsed.Path, "/") == "" {
		return "", fmt.Errorf("%w: missing replay id", models.ErrInvalidReplayURL)
	}
	return raw, nil
}

// MetadataFetcher retrieves the metadata document of a replay.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, replayURL string) (models.ReplayMeta, error)
}

// metadataDocument mirrors <replay>.json. Only the fields ReplayPipe reads are listed.
type metadataDocument struct {
	Players    []string `json:"players"`
	Format     string   `json:"format"`
	Views      int      `json:"views"`
	UploadTime int64    `json:"uploadtime"`
	Rating     int      `json:"rating"`
}

// Client fetches replay metadata over HTTP.
type Client struct {
	client *http.Client
}

// Compile-time check that Client implements MetadataFetcher.
var _ MetadataFetcher = (*Client)(nil)

// NewClient creates a metadata client. A nil httpClient gets a client with
// DefaultRequestTimeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &Client{client: httpClient}
}

// FetchMetadata GETs <replayURL>.json. Transport failures, non-200 answers and
// malformed documents all wrap models.ErrUpstreamUnavailable.
func (c *Client) FetchMetadata(ctx context.Context, replayURL string) (models.ReplayMeta, error) {
	slog.Debug("showdown FetchMetadata", "url", replayURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, replayURL+".json", nil)
	if err != nil {
		return models.ReplayMeta{}, fmt.Errorf("%w: %v", models.ErrInvalidReplayURL, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Warn("showdown metadata request failed", "url", replayURL, "error", err)
		return models.ReplayMeta{}, fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("showdown metadata request rejected", "url", replayURL, "status", resp.StatusCode)
		return models.ReplayMeta{}, fmt.Errorf("%w: metadata returned %s", models.ErrUpstreamUnavailable, resp.Status)
	}

	var doc metadataDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		slog.Error("showdown metadata decode failed", "url", replayURL, "error", err)
		return models.ReplayMeta{}, fmt.Errorf("%w: decode metadata: %v", models.ErrUpstreamUnavailable, err)
	}
	if len(doc.Players) != 2 {
		return models.ReplayMeta{}, fmt.Errorf("%w: expected 2 players, got %d", models.ErrUpstreamUnavailable, len(doc.Players))
	}

	meta := models.ReplayMeta{
		URL:        replayURL,
		Players:    [2]string{doc.Players[0], doc.Players[1]},
		Format:     doc.Format,
		Views:      doc.Views,
		UploadTime: doc.UploadTime,
		Rating:     doc.Rating,
	}
	slog.Debug("showdown FetchMetadata succeeded", "url", replayURL, "p1", meta.P1(), "p2", meta.P2(), "format", meta.Format)
	return meta, nil
}
