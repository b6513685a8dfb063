package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/calshare/internal/cleanup"
	"github.com/dukerupert/calshare/internal/config"
	"github.com/dukerupert/calshare/internal/database"
	"github.com/dukerupert/calshare/internal/email"
	"github.com/dukerupert/calshare/internal/logging"
	"github.com/dukerupert/calshare/internal/server"
)

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	emailClient := email.NewClient(cfg.PostmarkToken, cfg.FromEmail)
	if !emailClient.Configured() {
		logger.Warn("postmark not configured, sign-in links will be logged")
	}

	srv := server.New(db, emailClient, server.Config{
		BaseURL:         cfg.BaseURL,
		TokenSecret:     []byte(cfg.TokenSecret),
		LinkTTL:         cfg.LinkTTL,
		SessionTTL:      cfg.SessionTTL,
		AllowedOrigins:  cfg.AllowedOrigins,
		OriginHosts:     cfg.OriginHosts(),
		RateLimitPerMin: cfg.RateLimitPerMin,
		TrustProxy:      cfg.TrustProxy,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := cleanup.NewScheduler(srv.MagicLinkStore(), srv.SessionStore(), cfg.CleanupInterval,
		logger.With("component", "cleanup"),
		cleanup.WithLimiter(srv.RateLimiter()),
		cleanup.WithMetrics(srv.Metrics()),
	)
	scheduler.Start(ctx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("calshared listening", "addr", httpServer.Addr, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	scheduler.Stop()
}
