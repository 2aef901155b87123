// Package scraper drives a headless Chrome to capture rendered replay battle logs.
//
// The replay page only renders its log after JavaScript playback, so the browser
// skips to the end of the battle, reads the log panel, switches the viewpoint and
// reads the panel again.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/BTreeMap/ReplayPipe/internal/models"
)

const (
	// DefaultTimeout bounds one whole scrape, from navigation to the second read.
	DefaultTimeout = 30 * time.Second
	// DefaultSettleDelay gives the log panel time to re-render after a click.
	DefaultSettleDelay = 500 * time.Millisecond
)

// Selectors for the replay page controls.
const (
	skipToEndButton = `//button[contains(., "Skip to end")]`
	viewpointButton = `//button[contains(translate(., "V", "v"), "viewpoint")]`
	battleLogPanel  = `[role="log"]`
)

// Scraper captures both viewpoint logs of a replay.
type Scraper interface {
	Scrape(ctx context.Context, replayURL string) (models.RawReplayDocument, error)
}

// Opts holds configuration for a Browser.
type Opts struct {
	RemoteURL   string        // DevTools websocket URL of an existing Chrome; empty starts a local one
	Timeout     time.Duration // per scrape
	SettleDelay time.Duration // wait after each click
	ExecPath    string        // local Chrome binary, optional
}

// Option configures a Browser.
type Option func(*Opts)

// WithRemoteURL connects to an already running Chrome instead of launching one.
func WithRemoteURL(u string) Option {
	return func(o *Opts) {
		o.RemoteURL = u
	}
}

// WithTimeout sets the per-scrape deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithSettleDelay sets how long to wait after clicking a page control.
func WithSettleDelay(d time.Duration) Option {
	return func(o *Opts) {
		o.SettleDelay = d
	}
}

// WithExecPath sets the Chrome binary used when no remote URL is configured.
func WithExecPath(path string) Option {
	return func(o *Opts) {
		o.ExecPath = path
	}
}

// Browser is a long-lived Chrome connection. Every Scrape opens its own tab.
type Browser struct {
	opts          Opts
	browserCtx    context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc
}

// Compile-time check that Browser implements Scraper.
var _ Scraper = (*Browser)(nil)

// NewBrowser starts (or connects to) Chrome and verifies the connection.
func NewBrowser(opts ...Option) (*Browser, error) {
	cfg := Opts{Timeout: DefaultTimeout, SettleDelay: DefaultSettleDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}

	var (
		allocCtx    context.Context
		cancelAlloc context.CancelFunc
	)
	if cfg.RemoteURL != "" {
		slog.Debug("scraper connecting to remote Chrome", "url", cfg.RemoteURL)
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		slog.Debug("scraper launching local headless Chrome", "exec_path", cfg.ExecPath)
		execOpts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.NoSandbox, chromedp.DisableGPU)
		if cfg.ExecPath != "" {
			execOpts = append(execOpts, chromedp.ExecPath(cfg.ExecPath))
		}
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(context.Background(), execOpts...)
	}

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(chromeLogf(slog.LevelDebug)),
		chromedp.WithErrorf(chromeLogf(slog.LevelWarn)),
	)
	// The first Run on a fresh context starts the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		slog.Error("scraper failed to start browser", "error", err)
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	slog.Info("scraper browser ready", "remote", cfg.RemoteURL != "", "timeout", cfg.Timeout)

	return &Browser{
		opts:          cfg,
		browserCtx:    browserCtx,
		cancelAlloc:   cancelAlloc,
		cancelBrowser: cancelBrowser,
	}, nil
}

// Scrape captures the battle log from player 1's and then player 2's viewpoint.
// A scrape that outlives the configured timeout fails with models.ErrScrapeTimeout;
// every other failure wraps models.ErrScrapeFailed.
func (b *Browser) Scrape(ctx context.Context, replayURL string) (models.RawReplayDocument, error) {
	slog.Debug("scraper Scrape", "url", replayURL)
	start := time.Now()

	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.opts.Timeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	var doc models.RawReplayDocument
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(replayURL),
		chromedp.WaitVisible(skipToEndButton, chromedp.BySearch),
		chromedp.Click(skipToEndButton, chromedp.BySearch),
		chromedp.Sleep(b.opts.SettleDelay),
		chromedp.WaitReady(battleLogPanel, chromedp.ByQuery),
		chromedp.InnerHTML(battleLogPanel, &doc.ViewpointA, chromedp.ByQuery),
		chromedp.Click(viewpointButton, chromedp.BySearch),
		chromedp.Sleep(b.opts.SettleDelay),
		chromedp.InnerHTML(battleLogPanel, &doc.ViewpointB, chromedp.ByQuery),
	)
	if err == nil && (strings.TrimSpace(doc.ViewpointA) == "" || strings.TrimSpace(doc.ViewpointB) == "") {
		err = errors.New("battle log panel was empty")
	}
	if err != nil {
		err = classifyError(tabCtx, err)
		slog.Error("scraper Scrape failed", "url", replayURL, "error", err, "elapsed", time.Since(start))
		return models.RawReplayDocument{}, err
	}

	slog.Debug("scraper Scrape succeeded", "url", replayURL, "bytes_a", len(doc.ViewpointA),
		"bytes_b", len(doc.ViewpointB), "elapsed", time.Since(start))
	return doc, nil
}

// classifyError maps a chromedp failure onto the scrape error taxonomy. Element
// waits never fail on their own, they block until the context ends, so a missing
// control surfaces as a deadline.
func classifyError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrScrapeTimeout, err)
	}
	return fmt.Errorf("%w: %v", models.ErrScrapeFailed, err)
}

// Close shuts the browser down, or disconnects from a remote one.
func (b *Browser) Close() error {
	slog.Debug("scraper closing browser")
	b.cancelBrowser()
	b.cancelAlloc()
	slog.Info("scraper browser closed")
	return nil
}

func chromeLogf(level slog.Level) func(string, ...interface{}) {
	return func(format string, args ...interface{}) {
		slog.Log(context.Background(), level, "chromedp: "+fmt.Sprintf(format, args...))
	}
}
