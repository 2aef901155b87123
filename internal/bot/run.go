package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/ReplayPipe/internal/replay"
	"github.com/BTreeMap/ReplayPipe/internal/scraper"
	"github.com/BTreeMap/ReplayPipe/internal/showdown"
	"github.com/BTreeMap/ReplayPipe/internal/store"
)

// Run builds the store, the browser, the replay service and the bot, then serves
// until ctx is cancelled.
func Run(ctx context.Context, storeOpts []store.Option, scraperOpts []scraper.Option, replayOpts []replay.Option, botOpts []Option) error {
	slog.Debug("bot Run invoked", "store_opts", len(storeOpts), "scraper_opts", len(scraperOpts),
		"replay_opts", len(replayOpts), "bot_opts", len(botOpts))

	st, err := store.NewStore(storeOpts...)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()
	slog.Debug("Replay store initialized")

	browser, err := scraper.NewBrowser(scraperOpts...)
	if err != nil {
		slog.Error("Failed to initialize browser", "error", err)
		return fmt.Errorf("failed to initialize browser: %w", err)
	}
	defer browser.Close()

	svc := replay.NewService(st, showdown.NewClient(nil), browser, replayOpts...)
	defer svc.Close()

	b, err := New(svc, botOpts...)
	if err != nil {
		slog.Error("Failed to create bot", "error", err)
		return err
	}
	if err := b.Start(); err != nil {
		return err
	}
	slog.Info("ReplayPipe running; waiting for shutdown signal")

	<-ctx.Done()
	slog.Info("Shutdown signal received, stopping ReplayPipe")
	return b.Stop()
}
