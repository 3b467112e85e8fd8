// snapshot computes team metrics once and writes them as JSON to stdout.
// It needs no running server:
//
//	go run ./cmd/snapshot -team Backend -start 2025-01-01 -end 2025-01-31
//	go run ./cmd/snapshot            # every team plus the global ranking
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"prpulse/internal/cache"
	"prpulse/internal/config"
	"prpulse/internal/engine"
	"prpulse/internal/fetch"
	"prpulse/internal/github"
	"prpulse/internal/logger"
	"prpulse/internal/metrics"
	"prpulse/internal/worker"
)

func main() {
	var (
		configPath = flag.String("config_path", config.DefaultPath, "path to the team configuration file")
		team       = flag.String("team", "", "team to compute; empty compares every team")
		start      = flag.String("start", "", "range start, YYYY-MM-DD")
		end        = flag.String("end", "", "range end, YYYY-MM-DD")
	)
	flag.Parse()

	if err := run(*configPath, *team, *start, *end); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, team, start, end string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// Logs go to stderr; stdout carries only the snapshot.
	log, err := logger.New(&cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	var filter *metrics.DateRange
	if start != "" || end != "" {
		dr, err := metrics.ParseDateRange(start, end)
		if err != nil {
			return err
		}
		filter = &dr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := cache.New(cfg.Cache.TTL, cache.WithClassifier(engine.Namespace), cache.WithLogger(log))
	ghClient, err := github.NewClient(github.OptionsFromConfig(cfg), log)
	if err != nil {
		return err
	}
	pool := worker.New(cfg.Fetch.Concurrency, log)
	pool.Start()
	defer pool.Stop()

	orch := fetch.New(ghClient, store, pool, fetch.OptionsFromConfig(cfg), log)
	eng := engine.New(cfg, store, orch, ghClient, log)

	var out any
	if team != "" {
		snap, err := eng.TeamMetrics(ctx, team, filter)
		if err != nil {
			return err
		}
		if w := snap.Partial(); w != nil {
			log.Warn("snapshot is partial", zap.Error(w))
		}
		out = snap
	} else {
		global, err := eng.Compare(ctx, filter)
		if err != nil {
			return err
		}
		out = global
	}

	rl := ghClient.RateLimit()
	log.Info("snapshot computed",
		zap.String("team", team),
		zap.Int("rate_remaining", rl.Remaining),
		zap.Int("cache_entries", eng.CacheStats().Entries))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
