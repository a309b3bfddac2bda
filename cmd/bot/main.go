// WisperBot - paired voice-story exchange bot
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wisper-social/wisperbot/internal/config"
	"github.com/wisper-social/wisperbot/internal/domain"
	"github.com/wisper-social/wisperbot/internal/engine"
	"github.com/wisper-social/wisperbot/internal/gateway"
	"github.com/wisper-social/wisperbot/internal/ops"
	"github.com/wisper-social/wisperbot/internal/pairing"
	"github.com/wisper-social/wisperbot/internal/scheduler"
	"github.com/wisper-social/wisperbot/internal/session"
	"github.com/wisper-social/wisperbot/internal/store"
	"github.com/wisper-social/wisperbot/internal/transcribe"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting WisperBot", "gateway", cfg.GatewayURL, "interval", cfg.Interval)

	var startingStatus domain.Status
	if cfg.StartingStatus != "" {
		startingStatus, err = domain.ParseStatus(cfg.StartingStatus)
		if err != nil {
			slog.Error("Invalid STARTING_STATUS", "error", err)
			os.Exit(1)
		}
	}

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	dir, err := pairing.Load(cfg.PairsPath)
	if err != nil {
		slog.Error("Failed to load pairing directory", "path", cfg.PairsPath, "error", err)
		os.Exit(1)
	}
	slog.Info("Pairing directory loaded", "pairs", dir.Len())

	var trans transcribe.Transcriber = transcribe.Noop{}
	if cfg.Transcribe {
		trans = transcribe.NewHTTPClient(cfg.TranscribeURL, cfg.TranscribeAPIKey, cfg.TranscribeModel)
		slog.Info("Transcription enabled", "model", cfg.TranscribeModel)
	}

	client := gateway.NewClient(cfg.GatewayURL, cfg.GatewayToken)
	msgr := gateway.NewReliable(client, cfg.SendRetryDelay)

	reg := session.NewRegistry(repo, dir, cfg.StartDate)
	sched := scheduler.New(repo, msgr, reg, cfg.GraceWindow)
	eng := engine.New(reg, sched, msgr, trans, repo, engine.Options{
		MediaDir:       cfg.MediaDir,
		TutorialDir:    cfg.TutorialDir,
		ContentDir:     cfg.ContentDir,
		Interval:       cfg.Interval,
		StartingStatus: startingStatus,
	})

	// Timer firings run on the owning chat's worker, never concurrently
	// with its inbound handling.
	sched.SetDispatcher(eng.Dispatch)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Sessions first, then pending sends: reconciliation needs the
	// registry populated to tell resident sessions from departed ones.
	if err := reg.RehydrateAll(ctx); err != nil {
		slog.Error("Failed to rehydrate sessions", "error", err)
		os.Exit(1)
	}
	if err := sched.ReconcileOnStartup(ctx); err != nil {
		slog.Error("Failed to reconcile scheduled sends", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	// Ops server.
	opsHandler := ops.NewHandler(repo, reg, dir, cfg.PairsPath)
	srv := &http.Server{
		Addr:         ":" + cfg.OpsPort,
		Handler:      opsHandler.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		slog.Info("Ops server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Ops server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Gateway connection and conversation loop.
	go client.Run(ctx)
	go eng.Run(ctx, client.Updates())

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Ops server forced to shutdown", "error", err)
	}

	slog.Info("WisperBot stopped")
}
