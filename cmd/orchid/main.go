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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	orchidhttp "github.com/leventea/orchid/internal/adapter/http"
	"github.com/leventea/orchid/internal/adapter/localfs"
	orchidnats "github.com/leventea/orchid/internal/adapter/nats"
	"github.com/leventea/orchid/internal/adapter/natskv"
	orchidotel "github.com/leventea/orchid/internal/adapter/otel"
	"github.com/leventea/orchid/internal/adapter/ristretto"
	"github.com/leventea/orchid/internal/adapter/tiered"
	"github.com/leventea/orchid/internal/config"
	"github.com/leventea/orchid/internal/domain/correction"
	"github.com/leventea/orchid/internal/domain/guard"
	"github.com/leventea/orchid/internal/git"
	"github.com/leventea/orchid/internal/logger"
	"github.com/leventea/orchid/internal/middleware"
	"github.com/leventea/orchid/internal/port/cache"
	"github.com/leventea/orchid/internal/resilience"
	"github.com/leventea/orchid/internal/service"
	"github.com/leventea/orchid/internal/storage"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"storage_dir", cfg.Storage.Dir,
		"guard_mode", cfg.Guard.Mode,
	)

	ctx := context.Background()

	// --- Infrastructure ---

	backend, err := localfs.New(cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	store := storage.NewSafeStore(backend)
	store.CleanupTemp("")

	queue, err := orchidnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	var waveCache cache.Cache
	l1, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	waveCache = l1
	if cfg.Cache.RemoteBucket != "" {
		kv, err := queue.KeyValue(ctx, cfg.Cache.RemoteBucket)
		if err != nil {
			return fmt.Errorf("remote cache: %w", err)
		}
		waveCache = tiered.New(l1, natskv.New(kv), time.Minute)
	}

	var metrics service.Metrics
	if cfg.Telemetry.Enabled {
		m, err := orchidotel.NewMetrics()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		metrics = m
	}

	// --- Session policy ---

	sessionGuard := guard.New(guard.Policy{
		Mode:             guard.Mode(cfg.Guard.Mode),
		MaxDepth:         cfg.Guard.MaxDepth,
		MaxParallel:      cfg.Guard.MaxParallel,
		RunawayThreshold: cfg.Guard.RunawayThreshold,
		RunawayPhrases:   cfg.Guard.RunawayPhrases,
	})
	corrections := correction.NewManager(correction.Config{
		MaxPerTask:   cfg.Correction.MaxPerTask,
		MaxTotal:     cfg.Correction.MaxTotal,
		EscalateTier: cfg.Correction.EscalateTier,
	})

	// --- Services ---

	// A dead queue should fail dispatch fast, not stall plan advancement.
	breaker := resilience.NewBreaker(cfg.NATS.BreakerMaxFailures,
		time.Duration(cfg.NATS.BreakerCooldownSeconds)*time.Second)
	dispatcher := resilience.NewDispatcher(queue, breaker)

	orchestrator := service.NewOrchestratorService(
		store, dispatcher, sessionGuard, corrections, waveCache, metrics,
		cfg.Orchestrator, cfg.Correction)
	if err := orchestrator.Load(ctx); err != nil {
		return fmt.Errorf("load plans: %w", err)
	}

	gitPool := git.NewPool(cfg.Streams.GitMaxConcurrent)
	worktrees := git.NewWorktrees(cfg.Streams.RepoDir, gitPool)
	streams := service.NewStreamService(store, worktrees, cfg.Streams.WorktreeDir)
	if err := streams.Load(ctx); err != nil {
		return fmt.Errorf("load streams: %w", err)
	}

	// Worker results flow back in over the queue.
	cancelResults, err := queue.SubscribeResults(ctx, orchestrator.HandleResult)
	if err != nil {
		return fmt.Errorf("result subscriber: %w", err)
	}
	defer cancelResults()

	// --- HTTP ---

	handlers := &orchidhttp.Handlers{
		Orchestrator: orchestrator,
		Streams:      streams,
	}

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(orchidhttp.SecurityHeaders)
	r.Use(orchidhttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(limiter.Handler)
	if cfg.Telemetry.Enabled {
		r.Use(orchidotel.HTTPMiddleware(cfg.Logging.Service))
	}

	orchidhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
