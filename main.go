package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"prpulse/internal/analytics"
	"prpulse/internal/cache"
	"prpulse/internal/config"
	"prpulse/internal/engine"
	"prpulse/internal/fetch"
	"prpulse/internal/github"
	"prpulse/internal/handlers"
	"prpulse/internal/logger"
	"prpulse/internal/rdb"
	"prpulse/internal/worker"
)

func main() {
	configPath := flag.String("config_path", envOr("CONFIG_PATH", config.DefaultPath), "path to the team configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(&cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.GitHubToken == "" {
		log.Warn("GITHUB_TOKEN not set, using unauthenticated API (60 req/hr limit)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Cache
	store := cache.New(cfg.Cache.TTL, cache.WithClassifier(engine.Namespace), cache.WithLogger(log))

	// GitHub client
	ghClient, err := github.NewClient(github.OptionsFromConfig(cfg), log)
	if err != nil {
		return err
	}

	// Fetch pool
	pool := worker.New(cfg.Fetch.Concurrency, log)
	pool.Start()
	defer pool.Stop()

	orch := fetch.New(ghClient, store, pool, fetch.OptionsFromConfig(cfg), log)
	eng := engine.New(cfg, store, orch, ghClient, log)

	// Analytics
	ph := analytics.New(cfg.PostHogAPIKey, log)
	defer ph.Close()

	// HTTP router
	h := handlers.New(eng, ph, log)
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.AccessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.HTTP.Timeout))
	r.Use(middleware.Compress(5))

	// Redis is optional; without it the API is unthrottled.
	if cfg.RedisURL != "" {
		limiter, err := rdb.New(ctx, cfg.RedisURL, log)
		if err != nil {
			return err
		}
		defer limiter.Close()
		r.Use(limiter.RateLimit(rdb.Quota{Max: cfg.HTTP.RateLimit, Window: time.Minute}))
	}
	r.Mount("/", h.Routes())

	go pruneLoop(ctx, store, cfg.Cache, log)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("prpulse listening",
			zap.String("addr", "http://"+srv.Addr),
			zap.String("organization", cfg.Organization),
			zap.Strings("teams", cfg.TeamNames()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", zap.Error(err))
			return err
		}
	}
	return nil
}

// pruneLoop drops entries that expired longer than the stale grace ago.
func pruneLoop(ctx context.Context, store *cache.Store, cfg config.Cache, log *zap.Logger) {
	if cfg.PruneEvery <= 0 {
		return
	}
	t := time.NewTicker(cfg.PruneEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := store.Prune(cfg.StaleGrace); n > 0 {
				log.Debug("pruned cache entries", zap.Int("removed", n))
			}
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
