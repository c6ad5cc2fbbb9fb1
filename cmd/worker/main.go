package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/relaylabs/envelope/internal/archive"
	"github.com/relaylabs/envelope/internal/bus"
	"github.com/relaylabs/envelope/internal/channels"
	"github.com/relaylabs/envelope/internal/config"
	"github.com/relaylabs/envelope/internal/envelope"
	"github.com/relaylabs/envelope/internal/jobs"
	"github.com/relaylabs/envelope/internal/layer"
	"github.com/relaylabs/envelope/internal/messages"
	"github.com/relaylabs/envelope/internal/registry"
	"github.com/relaylabs/envelope/internal/storage"
	"github.com/relaylabs/envelope/internal/subscription"
	"github.com/relaylabs/envelope/internal/telemetry"
)

func main() {
	// Load .env file if present (development convenience).
	_ = godotenv.Load()             // cmd/worker/.env
	_ = godotenv.Load("../.env")    // running from cmd/worker/ -> project root .env
	_ = godotenv.Load("../../.env") // running from a built binary one level deeper

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)
	logger := slog.Default()
	logger.Info("starting envelope worker", "env", cfg.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connection persistence (critical) ---
	pg, err := storage.NewPostgresClient(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	// --- Deferred job pipeline backend (critical) ---
	queue, err := jobs.NewQueue(cfg.NATSURL, cfg.JobQueueTTLSeconds, cfg.JobQueueTimeoutSeconds, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	if err := queue.EnsureStream(ctx); err != nil {
		logger.Error("failed to ensure NATS stream", "error", err)
		os.Exit(1)
	}

	// --- Channel layer backend (needed to deliver job replies/fan-out) ---
	var channelLayer layer.ChannelLayer
	switch cfg.LayerBackend {
	case "redis":
		redisClient, err := layer.NewRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		channelLayer = redisClient
	default:
		channelLayer = layer.NewMemory(logger)
	}

	// --- Lifecycle telemetry sink (optional, non-critical) ---
	var chClient *telemetry.Client
	if cfg.TelemetryEnabled() {
		chClient, err = telemetry.New(ctx, cfg.ClickHouseURL, logger)
		if err != nil {
			logger.Warn("ClickHouse telemetry initialization failed; lifecycle events will not be recorded", "error", err)
			chClient = nil
		} else {
			defer chClient.Close()
		}
	}

	// --- App-state payload archive (optional, non-critical) ---
	archiveStore, err := archive.New(ctx, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.ArchiveBucket, cfg.S3UseSSL, cfg.S3SkipBucketVerification)
	if err != nil {
		logger.Warn("S3 archive initialization failed; oversized app-state payloads will not be archived", "error", err)
		archiveStore = nil
	}

	// --- Message registry ---
	builder := registry.NewBuilder()
	messages.Register(builder)
	subscription.Register(builder)
	catalog := builder.Freeze()

	// --- Event bus ---
	eventBus := bus.New(logger, cfg.WorkerConcurrency)
	defer eventBus.Close()

	if chClient != nil {
		telemetry.Subscribe(eventBus, chClient, logger)
	}

	// --- Channel resolver: the "user" self channel is the only built-in
	// channel type; applications embedding the fabric extend this. ---
	resolve := channels.NewUserResolver(channelLayer, envelope.TextTransport{})
	resolver := jobs.ChannelResolverFunc(resolve)

	env := jobs.NewWorkerEnv(channelLayer, envelope.TextTransport{}, envelope.RouteWebsocketSend, eventBus, resolver, archiveStore, cfg.AppStateInlineLimit, cfg.AppStateMaxEntries, logger)

	w := jobs.NewWorker(queue, catalog, pg, eventBus, env, logger)

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- w.Run(ctx)
	}()

	logger.Info("worker ready, consuming jobs from NATS")

	// --- Wait for shutdown signal ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal, draining...", "signal", sig)
	case err := <-runErrCh:
		if err != nil && err != context.Canceled {
			logger.Error("worker run loop exited", "error", err)
		}
	}

	cancel()
	time.Sleep(200 * time.Millisecond) // let in-flight handlers observe ctx cancellation
	logger.Info("envelope worker stopped")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}
