package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/marcs89/Instagram-Message-Router/pkg/alert"
	"github.com/marcs89/Instagram-Message-Router/pkg/assign"
	"github.com/marcs89/Instagram-Message-Router/pkg/classify"
	"github.com/marcs89/Instagram-Message-Router/pkg/config"
	"github.com/marcs89/Instagram-Message-Router/pkg/dedup"
	"github.com/marcs89/Instagram-Message-Router/pkg/handlers"
	"github.com/marcs89/Instagram-Message-Router/pkg/intake"
	"github.com/marcs89/Instagram-Message-Router/pkg/metrics"
	"github.com/marcs89/Instagram-Message-Router/pkg/outbound"
	"github.com/marcs89/Instagram-Message-Router/pkg/redisclient"
	"github.com/marcs89/Instagram-Message-Router/pkg/server"
	"github.com/marcs89/Instagram-Message-Router/pkg/store"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Setup logger
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.Info("Starting message intake and routing engine")

	if cfg.AppSecret == "" {
		logger.Fatal("META_APP_SECRET is not set")
	}
	if cfg.VerifyToken == "" {
		logger.Fatal("WEBHOOK_VERIFY_TOKEN is not set")
	}

	routing, err := config.LoadRouting(cfg.RoutingConfigPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load routing config")
	}

	// Initialize metrics
	m := metrics.NewMetrics()

	// Connect to Redis for dedup claims
	redisConfig := redisclient.DefaultConnectionConfig()
	redisConfig.URL = cfg.RedisURL

	redis, err := redisclient.NewClient(redisConfig, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	claimer := dedup.NewRedisClaimer(redis.Redis(), cfg.DedupRetention(), logger)

	// Conversation store: Postgres when configured, in-memory otherwise
	var st store.Store
	if cfg.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pg, err := store.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			cancel()
			logger.WithError(err).Fatal("Failed to connect to Postgres")
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			cancel()
			logger.WithError(err).Fatal("Failed to ensure Postgres schema")
		}
		cancel()
		defer pg.Close()
		st = pg
		logger.Info("Using Postgres conversation store")
	} else {
		st = store.NewMemory()
		logger.Warn("POSTGRES_DSN not set, using in-memory conversation store")
	}

	// Operator alerts: AMQP queue when configured, structured log otherwise
	var notifier alert.Notifier
	if cfg.AlertAMQPURL != "" {
		amqpNotifier, err := alert.NewAMQPNotifier(cfg.AlertAMQPURL, cfg.AlertQueue, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to AMQP broker")
		}
		defer amqpNotifier.Close()
		notifier = amqpNotifier
	} else {
		notifier = alert.NewLogNotifier(logger)
	}

	classifier := classify.New(routing, cfg.MaxTextLen)
	assigner := assign.NewAssigner(routing)
	sender := outbound.NewInstagramSender(cfg.GraphAPIBaseURL, cfg.AccessToken, logger)

	pipeline := intake.NewPipeline(claimer, classifier, assigner, st, sender, notifier, m, logger, cfg.ReopenGrace())
	handler := handlers.NewHandler(pipeline, cfg, logger, m)
	srv := server.NewHTTPServer(cfg, handler, logger)

	go func() {
		logger.WithField("port", cfg.Port).Info("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shutdown HTTP server gracefully")
	}

	logger.Info("Shutdown complete")
}
