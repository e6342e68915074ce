package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mozilla-services/merino/internal/analytics"
	"github.com/mozilla-services/merino/internal/geo"
	"github.com/mozilla-services/merino/internal/providers"
	"github.com/mozilla-services/merino/internal/web"
	"github.com/mozilla-services/merino/pkg/config"
	"github.com/mozilla-services/merino/pkg/health"
	"github.com/mozilla-services/merino/pkg/kafka"
	"github.com/mozilla-services/merino/pkg/logger"
	"github.com/mozilla-services/merino/pkg/metrics"
	"github.com/mozilla-services/merino/pkg/middleware"
	pkgredis "github.com/mozilla-services/merino/pkg/redis"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting merino", "port", cfg.Server.Port, "providers", len(cfg.Providers))

	m := metrics.New(prometheus.DefaultRegisterer)
	var metricsShutdown func(context.Context) error
	if cfg.Metrics.Enabled {
		metricsShutdown = metrics.StartServer(cfg.Metrics.Port)
	}

	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, shared caching disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		slog.Info("redis cache tier enabled", "addr", cfg.Redis.Addr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var collector *analytics.Collector
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.SuggestTopic)
		defer producer.Close()
		collector = analytics.NewCollector(producer, 10000)
		collector.Start(ctx)
		defer collector.Close()
		slog.Info("suggest telemetry enabled", "topic", cfg.Kafka.SuggestTopic)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	registry, err := providers.NewRegistry(ctx, providers.Deps{
		Config:     cfg,
		Metrics:    m,
		Redis:      redisClient,
		HTTPClient: httpClient,
	})
	if err != nil {
		slog.Error("failed to build provider tree", "error", err)
		os.Exit(1)
	}
	defer registry.Close()
	slog.Info("provider tree built")

	requests, err := web.NewRequestBuilder(cfg.Suggest, geo.NewStatic(cfg.Location))
	if err != nil {
		slog.Error("failed to build request builder", "error", err)
		os.Exit(1)
	}

	checker := health.NewChecker()
	checker.Register("providers", func(ctx context.Context) health.ComponentHealth {
		if len(registry.Providers()) > 0 {
			return health.ComponentHealth{Status: health.StatusUp}
		}
		return health.ComponentHealth{Status: health.StatusDown, Message: "no providers"}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	h := web.New(registry, requests, collector, m)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/suggest", h.Suggest)
	mux.HandleFunc("GET /api/v1/providers", h.Providers)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// SIGHUP re-reads the config and swaps in a rebuilt provider forest. A
	// failed reload keeps the previous forest serving.
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			slog.Info("reload signal received", "config", *configPath)
			newCfg, err := config.Load(*configPath)
			if err != nil {
				slog.Error("reload failed: bad config", "error", err)
				continue
			}
			if err := registry.Reload(ctx, newCfg); err != nil {
				slog.Error("reload failed: provider tree not replaced", "error", err)
			}
		}
	}()

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if metricsShutdown != nil {
			if err := metricsShutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
	}()

	slog.Info("merino listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("merino stopped")
}
