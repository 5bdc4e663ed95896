package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/scholarstream/mailrelay/internal/auth"
	"github.com/scholarstream/mailrelay/internal/config"
	"github.com/scholarstream/mailrelay/internal/credential"
	"github.com/scholarstream/mailrelay/internal/database"
	"github.com/scholarstream/mailrelay/internal/ledger"
	"github.com/scholarstream/mailrelay/internal/pipeline"
	"github.com/scholarstream/mailrelay/internal/provider"
	"github.com/scholarstream/mailrelay/internal/ratelimit"
	"github.com/scholarstream/mailrelay/internal/relay"
	"github.com/scholarstream/mailrelay/internal/store/postgres"
	"github.com/scholarstream/mailrelay/internal/vault"
	"github.com/scholarstream/mailrelay/internal/web"
	"github.com/scholarstream/mailrelay/internal/web/handlers"
	"github.com/scholarstream/mailrelay/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(setupLogger(cfg.LogLevel, cfg.LogFormat))

	// Database
	db, err := postgres.NewDB(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Migrations
	if err := database.RunMigrations(migrations.FS, cfg.DatabaseURL); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Stores
	userStore := postgres.NewUserStore(db)
	tokenStore := postgres.NewAPITokenStore(db)
	connectionStore := postgres.NewConnectionStore(db)
	recordStore := postgres.NewProcessedMessageStore(db)
	markerStore := postgres.NewBootstrapMarkerStore(db)

	// Vault
	tokenVault, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		slog.Error("failed to initialize vault", "error", err)
		os.Exit(1)
	}

	// Services
	authService := auth.NewService(userStore, tokenStore)
	credentialManager := credential.NewManager(connectionStore, tokenVault, cfg.GoogleClientID, cfg.GoogleClientSecret)
	ledgerService := ledger.NewService(recordStore, markerStore)
	gmailClient := provider.NewGmailClient()
	relayClient := relay.NewClient(cfg.WebhookURL, time.Duration(cfg.WebhookTimeoutSeconds)*time.Second)
	pipelineService := pipeline.NewService(connectionStore, credentialManager, gmailClient, relayClient, ledgerService, pipeline.Options{
		ListMaxResults: int64(cfg.ListMaxResults),
		MaxPerTick:     cfg.MaxMessagesPerTick,
	})

	// Rate limiter
	limiter := ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Handlers
	syncHandler := handlers.NewSyncHandler(pipelineService)
	connectionHandler := handlers.NewConnectionHandler(connectionStore, tokenVault)
	messageHandler := handlers.NewMessageHandler(recordStore)
	tokenHandler := handlers.NewTokenHandler(authService)

	// Router
	router := web.NewRouter(web.RouterDeps{
		SyncHandler:       syncHandler,
		ConnectionHandler: connectionHandler,
		MessageHandler:    messageHandler,
		TokenHandler:      tokenHandler,
		AuthService:       authService,
		Limiter:           limiter,
		DB:                db,
	})

	// Expired token cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if err := tokenStore.DeleteExpiredAPITokens(context.Background()); err != nil {
				slog.Error("failed to clean up expired api tokens", "error", err)
			}
		}
	}()

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("mailrelay starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func setupLogger(level, format string) *slog.Logger {
	logLevel := parseLevel(level)

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevel,
		TimeFormat: time.DateTime,
	}))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
