package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MSMikl/fish-store/internal/bot"
	"github.com/MSMikl/fish-store/internal/channel"
	"github.com/MSMikl/fish-store/internal/commerce"
	"github.com/MSMikl/fish-store/internal/session"
)

// Default configuration constants
const (
	// DefaultSessionDSN is the default SQLite session database location.
	DefaultSessionDSN = "/var/lib/fish-store/sessions.db"
)

// Config holds environment configuration
type Config struct {
	TelegramToken   string
	ClientID        string
	StoreBaseURL    string
	SessionDSN      string
	RefreshInterval time.Duration
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
		TelegramToken:   os.Getenv("TG_TOKEN"),
		ClientID:        os.Getenv("CLIENT_ID"),
		StoreBaseURL:    os.Getenv("STORE_BASE_URL"),
		SessionDSN:      os.Getenv("SESSION_DSN"),
		RefreshInterval: commerce.DefaultRefreshInterval,
	}
	if config.SessionDSN == "" {
		config.SessionDSN = DefaultSessionDSN
		slog.Debug("No SESSION_DSN set, using default", "default_dsn", config.SessionDSN)
	}
	if raw := os.Getenv("TOKEN_REFRESH_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			config.RefreshInterval = d
		} else {
			slog.Warn("Invalid TOKEN_REFRESH_INTERVAL, using default", "value", raw)
		}
	}
	return config
}

func main() {
	initializeLogger()
	config := loadEnvironmentConfig()

	sessionDSN := flag.String("session-dsn", config.SessionDSN, "session store DSN (redis://, postgres://, or a SQLite file path)")
	baseURL := flag.String("store-base-url", config.StoreBaseURL, "commerce API base URL")
	refreshInterval := flag.Duration("token-refresh-interval", config.RefreshInterval, "auth token refresh interval")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := session.OpenStore(*sessionDSN)
	if err != nil {
		slog.Error("Failed to open session store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	api, err := commerce.NewClient(
		commerce.WithBaseURL(*baseURL),
		commerce.WithClientID(config.ClientID),
	)
	if err != nil {
		slog.Error("Failed to create commerce client", "error", err)
		os.Exit(1)
	}
	refresher := commerce.NewRefresher(api, *refreshInterval)
	go refresher.Run(ctx)

	tg, err := channel.NewTelegram(channel.WithToken(config.TelegramToken))
	if err != nil {
		slog.Error("Failed to create telegram channel", "error", err)
		os.Exit(1)
	}
	if err := tg.Start(ctx); err != nil {
		slog.Error("Failed to start telegram channel", "error", err)
		os.Exit(1)
	}
	defer tg.Stop()

	slog.Info("Bootstrapping fish-store bot", "session_dsn", *sessionDSN)
	dispatcher := bot.NewDispatcher(store, bot.NewMachine(api, tg), tg)
	dispatcher.Run(ctx)
	slog.Info("fish-store bot exited")
}
