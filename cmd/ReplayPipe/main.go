package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/ReplayPipe/internal/bot"
	"github.com/BTreeMap/ReplayPipe/internal/lockfile"
	"github.com/BTreeMap/ReplayPipe/internal/replay"
	"github.com/BTreeMap/ReplayPipe/internal/scraper"
	"github.com/BTreeMap/ReplayPipe/internal/store"
	"github.com/BTreeMap/ReplayPipe/internal/util"
	"github.com/BTreeMap/ReplayPipe/internal/viewer"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ReplayPipe state data
	DefaultStateDir = "/var/lib/replaypipe"
	// DefaultDBFileName is the default SQLite replay cache filename
	DefaultDBFileName = "replaypipe.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		os.Exit(1)
	}

	// Build module options
	storeOpts := buildStoreOptions(flags)
	scraperOpts := buildScraperOptions(flags)
	replayOpts := buildReplayOptions(flags)
	botOpts := buildBotOptions(flags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	slog.Info("Bootstrapping ReplayPipe with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "scraper", len(scraperOpts), "replay", len(replayOpts), "bot", len(botOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "chrome_url_set", *flags.chromeURL != "")
	runErr := bot.Run(ctx, storeOpts, scraperOpts, replayOpts, botOpts)
	stop()
	lock.Release()
	if runErr != nil {
		slog.Error("ReplayPipe failed to run", "error", runErr)
		os.Exit(1)
	}
	slog.Info("ReplayPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	DiscordToken   string
	GuildID        string
	LogChannelID   string
	DatabaseURL    string
	StateDir       string
	ChromeURL      string
	ChromePath     string
	ScrapeTimeout  time.Duration
	CacheTTL       time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	InviteQR       bool
}

// Flags holds command line flag values
type Flags struct {
	token          *string
	guildID        *string
	logChannelID   *string
	stateDir       *string
	dbDSN          *string
	chromeURL      *string
	chromePath     *string
	scrapeTimeout  *time.Duration
	cacheTTL       *time.Duration
	idleTimeout    *time.Duration
	requestTimeout *time.Duration
	inviteQR       *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DiscordToken:   os.Getenv("DISCORD_TOKEN"),
		GuildID:        os.Getenv("GUILD_ID"),
		LogChannelID:   os.Getenv("LOG_CHANNEL_ID"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StateDir:       os.Getenv("REPLAYPIPE_STATE_DIR"),
		ChromeURL:      os.Getenv("CHROME_URL"),
		ChromePath:     os.Getenv("CHROME_PATH"),
		ScrapeTimeout:  util.ParseDurationEnv("SCRAPE_TIMEOUT", scraper.DefaultTimeout),
		CacheTTL:       util.ParseDurationEnv("CACHE_TTL", replay.DefaultCacheTTL),
		IdleTimeout:    util.ParseDurationEnv("VIEWER_IDLE_TIMEOUT", viewer.DefaultIdleTimeout),
		RequestTimeout: util.ParseDurationEnv("REQUEST_TIMEOUT", bot.DefaultRequestTimeout),
		InviteQR:       util.ParseBoolEnv("INVITE_QR", false),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No REPLAYPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("REPLAYPIPE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DISCORD_TOKEN_SET", config.DiscordToken != "",
		"GUILD_ID", config.GuildID,
		"LOG_CHANNEL_ID", config.LogChannelID,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"REPLAYPIPE_STATE_DIR", config.StateDir,
		"CHROME_URL_SET", config.ChromeURL != "",
		"SCRAPE_TIMEOUT", config.ScrapeTimeout,
		"CACHE_TTL", config.CacheTTL,
		"VIEWER_IDLE_TIMEOUT", config.IdleTimeout,
		"REQUEST_TIMEOUT", config.RequestTimeout,
		"INVITE_QR", config.InviteQR)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		token:          flag.String("token", config.DiscordToken, "Discord bot token (overrides $DISCORD_TOKEN)"),
		guildID:        flag.String("guild-id", config.GuildID, "register slash commands in this guild only (overrides $GUILD_ID)"),
		logChannelID:   flag.String("log-channel", config.LogChannelID, "channel for unexpected error reports (overrides $LOG_CHANNEL_ID)"),
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for ReplayPipe data (overrides $REPLAYPIPE_STATE_DIR)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "replay cache DSN, SQLite path or Postgres URL (overrides $DATABASE_URL)"),
		chromeURL:      flag.String("chrome-url", config.ChromeURL, "DevTools websocket URL of a running Chrome (overrides $CHROME_URL)"),
		chromePath:     flag.String("chrome-path", config.ChromePath, "Chrome binary for a local headless browser (overrides $CHROME_PATH)"),
		scrapeTimeout:  flag.Duration("scrape-timeout", config.ScrapeTimeout, "deadline for one replay scrape (overrides $SCRAPE_TIMEOUT)"),
		cacheTTL:       flag.Duration("cache-ttl", config.CacheTTL, "how long finished scrapes are shared (overrides $CACHE_TTL)"),
		idleTimeout:    flag.Duration("idle-timeout", config.IdleTimeout, "viewer controls freeze after this idle time (overrides $VIEWER_IDLE_TIMEOUT)"),
		requestTimeout: flag.Duration("request-timeout", config.RequestTimeout, "deadline for one /replay command (overrides $REQUEST_TIMEOUT)"),
		inviteQR:       flag.Bool("invite-qr", config.InviteQR, "print the bot invite link as a QR code (overrides $INVITE_QR)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"tokenSet", *flags.token != "",
		"guildID", *flags.guildID,
		"logChannelID", *flags.logChannelID,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"chromeURLSet", *flags.chromeURL != "",
		"scrapeTimeout", *flags.scrapeTimeout,
		"cacheTTL", *flags.cacheTTL,
		"idleTimeout", *flags.idleTimeout,
		"requestTimeout", *flags.requestTimeout,
		"inviteQR", *flags.inviteQR)

	rebaseDefaultDSN(config, flags)
	return flags
}

// rebaseDefaultDSN moves the default SQLite path into a state directory given on
// the command line. An explicit DSN is left alone.
func rebaseDefaultDSN(config Config, flags Flags) {
	defaultDSN := filepath.Join(config.StateDir, DefaultDBFileName)
	if *flags.dbDSN == defaultDSN && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}
}

// ensureDirectoriesExist creates the state directory and, for a file-based DSN,
// the directory holding the database file
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	if *flags.dbDSN != "" && store.DetectDSNType(*flags.dbDSN) != "postgres" {
		dirs = append(dirs, filepath.Dir(*flags.dbDSN))
	}
	for _, dir := range dirs {
		slog.Debug("Ensuring directory exists", "dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildScraperOptions constructs headless browser options
func buildScraperOptions(flags Flags) []scraper.Option {
	var scraperOpts []scraper.Option
	if *flags.chromeURL != "" {
		scraperOpts = append(scraperOpts, scraper.WithRemoteURL(*flags.chromeURL))
	}
	if *flags.chromePath != "" {
		scraperOpts = append(scraperOpts, scraper.WithExecPath(*flags.chromePath))
	}
	if *flags.scrapeTimeout > 0 {
		scraperOpts = append(scraperOpts, scraper.WithTimeout(*flags.scrapeTimeout))
	}
	return scraperOpts
}

// buildReplayOptions constructs replay service options
func buildReplayOptions(flags Flags) []replay.Option {
	var replayOpts []replay.Option
	if *flags.cacheTTL > 0 {
		replayOpts = append(replayOpts, replay.WithCacheTTL(*flags.cacheTTL))
	}
	return replayOpts
}

// buildBotOptions constructs Discord bot options
func buildBotOptions(flags Flags) []bot.Option {
	var botOpts []bot.Option
	if *flags.token != "" {
		botOpts = append(botOpts, bot.WithToken(*flags.token))
	}
	if *flags.guildID != "" {
		botOpts = append(botOpts, bot.WithGuildID(*flags.guildID))
	}
	if *flags.logChannelID != "" {
		botOpts = append(botOpts, bot.WithLogChannel(*flags.logChannelID))
	}
	if *flags.idleTimeout > 0 {
		botOpts = append(botOpts, bot.WithIdleTimeout(*flags.idleTimeout))
	}
	if *flags.requestTimeout > 0 {
		botOpts = append(botOpts, bot.WithRequestTimeout(*flags.requestTimeout))
	}
	if *flags.inviteQR {
		botOpts = append(botOpts, bot.WithInviteQR(os.Stdout))
	}
	return botOpts
}
