// Package main wires together the harvest service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"streamharvest/internal/api"
	"streamharvest/internal/clock/system"
	"streamharvest/internal/config"
	"streamharvest/internal/fetcher/forum"
	"streamharvest/internal/fetcher/headless"
	"streamharvest/internal/harvest"
	"streamharvest/internal/logging"
	"streamharvest/internal/orchestrator"
	"streamharvest/internal/orphan"
	"streamharvest/internal/parser"
	"streamharvest/internal/providers/imdb"
	"streamharvest/internal/providers/tmdb"
	"streamharvest/internal/resolver"
	"streamharvest/internal/scheduler"
	redisstore "streamharvest/internal/store/redis"
	"streamharvest/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := redisstore.New(ctx, redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Fatal("redis connect failed", zap.Error(err))
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("redis close failed", zap.Error(closeErr))
		}
	}()

	clock := system.New()
	titleParser := parser.New()

	var renderer forum.Renderer
	if cfg.Headless.Enabled {
		chromeRenderer, err := headless.New(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Source.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless renderer init failed", zap.Error(err))
		} else {
			renderer = chromeRenderer
		}
	}
	fetcher, err := forum.New(forum.Config{
		BaseURL:   cfg.Source.BaseURL,
		UserAgent: cfg.Source.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	}, renderer, logger.Named("fetcher"))
	if err != nil {
		logger.Fatal("fetcher init failed", zap.Error(err))
	}

	retry := harvest.NewExponentialRetryPolicy(cfg.HTTP.MaxRetries, cfg.BackoffInitial(), cfg.BackoffMax())
	primary := tmdb.New(tmdb.Config{
		APIKey:  cfg.TMDB.APIKey,
		Timeout: cfg.FetchTimeout(),
	}, retry, logger.Named("tmdb"))
	secondary := imdb.New(imdb.Config{
		Timeout: cfg.FetchTimeout(),
	}, retry, logger.Named("imdb"))

	resolve := resolver.New(resolver.Config{Hints: cfg.Hints}, store, primary, secondary, logger.Named("resolver"))
	ledger := orphan.New(store, titleParser, cfg.Hints, clock, logger.Named("orphan"))
	w := worker.New(fetcher, titleParser, resolve, ledger, store, clock, logger.Named("worker"))

	sched := scheduler.New(scheduler.Config{
		Slots:     cfg.Crawler.Concurrency,
		QueueHigh: cfg.Crawler.QueueDepth,
	}, logger.Named("scheduler"))
	defer sched.Close()

	orch := orchestrator.New(orchestrator.Config{
		DiscoverInterval:  time.Duration(cfg.Crawler.DiscoverIntervalMin) * time.Minute,
		RevisitInterval:   time.Duration(cfg.Crawler.RevisitIntervalMin) * time.Minute,
		ReconcileInterval: time.Duration(cfg.Crawler.ReconcileIntervalMin) * time.Minute,
		Staleness:         time.Duration(cfg.Crawler.StalenessHours) * time.Hour,
		MaxPages:          cfg.Crawler.MaxPages,
	}, fetcher, sched, w, ledger, store, clock, logger.Named("orchestrator"))

	apiServer := api.NewServer(store, api.Config{}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("orchestrator started")
		orch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	sched.Drain()
	logger.Info("shutdown complete")
}
