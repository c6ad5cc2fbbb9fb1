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

	"github.com/relaylabs/envelope/internal/bus"
	"github.com/relaylabs/envelope/internal/config"
	"github.com/relaylabs/envelope/internal/dispatch"
	"github.com/relaylabs/envelope/internal/envelope"
	"github.com/relaylabs/envelope/internal/httpapi"
	"github.com/relaylabs/envelope/internal/httpapi/middleware"
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
	_ = godotenv.Load()             // cmd/gateway/.env
	_ = godotenv.Load("../.env")    // running from cmd/gateway/ -> project root .env
	_ = godotenv.Load("../../.env") // running from a built binary one level deeper

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)
	logger := slog.Default()
	logger.Info("starting envelope gateway", "port", cfg.APIPort, "env", cfg.Environment)

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

	// --- Channel layer backend ---
	var channelLayer layer.ChannelLayer
	var redisClient *layer.Redis
	switch cfg.LayerBackend {
	case "redis":
		redisClient, err = layer.NewRedis(ctx, cfg.RedisURL, logger)
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

	// Note: the app-state payload archive (S3) is only consulted by the
	// deferred job pipeline's RunJob implementations (cmd/worker), not by
	// the gateway's HTTP/WS surface.

	// --- Message registry ---
	builder := registry.NewBuilder()
	messages.Register(builder)
	subscription.Register(builder)
	catalog := builder.Freeze()

	// --- Event bus ---
	eventBus := bus.New(logger, cfg.WorkerConcurrency)
	defer eventBus.Close()

	housekeeping := jobs.NewHousekeeping(pg, time.Duration(cfg.ConnectionUpdateIntervalSeconds)*time.Second, logger)
	housekeeping.Subscribe(eventBus)

	if chClient != nil {
		telemetry.Subscribe(eventBus, chClient, logger)
	}

	// --- Dispatcher ---
	dispatcher := dispatch.New(eventBus, queue, logger)

	// --- HTTP surface ---
	transport := envelope.TextTransport{}
	auth := middleware.NewAuth(cfg.ClerkSecretKey, cfg.AllowUnauthenticated)

	healthHandler := httpapi.NewHealthHandler(pg.Ping, queue.Ping, pingOrNil(redisClient), pingOrNilTelemetry(chClient))
	wsHandler := httpapi.NewWSHandler(channelLayer, transport, catalog, dispatcher, eventBus, logger, []string{"*"})

	router := httpapi.NewRouter(httpapi.RouterConfig{
		AllowedOrigins: []string{"*"},
		Auth:           auth,
		Health:         healthHandler,
		WS:             wsHandler,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	// --- Graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("envelope gateway stopped")
}

// pingOrNil adapts an optional *layer.Redis to the httpapi.PingFunc shape,
// reporting the service as unconfigured rather than failed when absent.
func pingOrNil(r *layer.Redis) httpapi.PingFunc {
	if r == nil {
		return nil
	}
	return r.Ping
}

func pingOrNilTelemetry(c *telemetry.Client) httpapi.PingFunc {
	if c == nil {
		return nil
	}
	return c.Ping
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
