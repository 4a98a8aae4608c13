// Command bot runs the Telegram archive bot: share an X/Twitter link,
// answer a few prompts, and the thread is saved to the database.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/nats-io/nats.go"

	"github.com/hexalog/xarchive/engine/archive"
	"github.com/hexalog/xarchive/engine/bot"
	"github.com/hexalog/xarchive/engine/embed"
	"github.com/hexalog/xarchive/engine/fetcher"
	"github.com/hexalog/xarchive/engine/store"
	"github.com/hexalog/xarchive/engine/vision"
)

// Config holds all environment-based configuration.
type Config struct {
	BotToken     string
	DatabaseURL  string
	EmbedURL     string
	EmbedModel   string
	VisionAPIKey string
	NATSURL      string
	AllowedUsers []int64
	MaxImages    int
}

func loadConfig() (Config, error) {
	cfg := Config{
		BotToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		EmbedURL:     envOr("EMBED_URL", "http://localhost:11434"),
		EmbedModel:   envOr("EMBED_MODEL", embed.DefaultModel),
		VisionAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		NATSURL:      os.Getenv("NATS_URL"),
		MaxImages:    archive.DefaultMaxImages,
	}
	if cfg.BotToken == "" {
		return cfg, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if v := os.Getenv("MAX_IMAGES_TO_EXTRACT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxImages = n
		}
	}
	for _, part := range strings.Split(os.Getenv("ALLOWED_TELEGRAM_USERS"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("ALLOWED_TELEGRAM_USERS: bad user id %q", part)
		}
		cfg.AllowedUsers = append(cfg.AllowedUsers, id)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("bad configuration", "err", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("bot exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("database connect: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("database migrate: %w", err)
	}

	embedder := embed.NewClient(cfg.EmbedURL, cfg.EmbedModel)

	var describer archive.ImageDescriber
	if cfg.VisionAPIKey != "" {
		d, err := vision.New(vision.Options{APIKey: cfg.VisionAPIKey, Logger: logger})
		if err != nil {
			return fmt.Errorf("vision: %w", err)
		}
		describer = d
		logger.Info("image extraction enabled", "model", vision.DefaultModel)
	} else {
		logger.Info("image extraction disabled: no ANTHROPIC_API_KEY")
	}

	var events archive.EventPublisher
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		events = archive.NewNATSPublisher(nc)
		logger.Info("publishing saved-post events", "subject", archive.SavedSubject)
	}

	archiver, err := archive.New(archive.Options{
		Store:     db,
		Embedder:  embedder,
		Describer: describer,
		Events:    events,
		MaxImages: cfg.MaxImages,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("telegram connect: %w", err)
	}
	logger.Info("bot authorized", "username", api.Self.UserName)

	b, err := bot.New(bot.Options{
		API:          api,
		Fetcher:      fetcher.NewClient(fetcher.Options{Logger: logger}),
		Archiver:     archiver,
		DB:           db,
		Embedder:     embedder,
		AllowedUsers: cfg.AllowedUsers,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	updates := api.GetUpdatesChan(updateCfg)

	go func() {
		<-ctx.Done()
		api.StopReceivingUpdates()
	}()

	logger.Info("bot is running")
	if err := b.Run(ctx, updates); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("bot stopped")
	return nil
}
