package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/kickhook/internal/actions"
	"github.com/tjfontaine/kickhook/internal/bot"
	"github.com/tjfontaine/kickhook/internal/config"
	"github.com/tjfontaine/kickhook/internal/dispatch"
	"github.com/tjfontaine/kickhook/internal/events"
	"github.com/tjfontaine/kickhook/internal/handlers"
	"github.com/tjfontaine/kickhook/internal/ingress"
	"github.com/tjfontaine/kickhook/internal/keyword"
	"github.com/tjfontaine/kickhook/internal/points"
	"github.com/tjfontaine/kickhook/internal/points/memory"
	"github.com/tjfontaine/kickhook/internal/points/redis"
	"github.com/tjfontaine/kickhook/internal/points/sqlite"
	"github.com/tjfontaine/kickhook/internal/server"
	"github.com/tjfontaine/kickhook/internal/telemetry"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so that deferred cleanup always runs.
func run() int {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.Setup(telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize tracer", slog.String("error", err.Error()))
		return 1
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	if cfg.Webhook.VerifySignatures {
		logger.Warn("webhook.verify_signatures is enabled but signature verification is not implemented; requests are not verified")
	}

	ledger, err := openLedger(context.Background(), cfg.Storage)
	if err != nil {
		logger.Error("failed to open points ledger", slog.String("error", err.Error()))
		return 1
	}
	if ledger != nil {
		defer ledger.Close()
	}

	deps := handlers.Deps{
		Logger:            logger,
		Bot:               newBot(cfg.Bot, logger),
		Ledger:            ledger,
		Actions:           actions.Load(cfg.Actions.Raw(), logger),
		ProcessingEnabled: cfg.Webhook.ProcessingEnabled,
	}
	if fwd := keyword.New(keyword.Config{
		Trigger: cfg.Keyword.Trigger,
		URL:     cfg.Keyword.URL,
		Timeout: cfg.Keyword.Timeout,
		Headers: cfg.Keyword.Headers,
	}); fwd != nil {
		deps.Keyword = fwd
	}
	h := handlers.New(deps)

	dispatcher := dispatch.New(logger)
	h.Register(dispatcher)

	in := ingress.New(ingress.Config{Path: cfg.Server.WebhookPath, Logger: logger},
		events.NewParser(events.NewRegistry(), logger), dispatcher, h)

	srv := server.New(server.Config{
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.Server.RequestTimeout,
		ServiceName:    cfg.Telemetry.ServiceName,
	}, logger)
	in.Routes(srv.Router)

	logger.Info("webhook pipeline ready",
		slog.String("path", in.Path()),
		slog.Int("handlers", dispatcher.Count()),
		slog.Bool("processing_enabled", cfg.Webhook.ProcessingEnabled),
		slog.String("storage", cfg.Storage.Type))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if code, shutdown := waitForStop(errCh, sigChan, logger); !shutdown {
		return code
	}

	logger.Info("Shutdown signal received, stopping server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}
	if err := waitForBackground(shutdownCtx, in); err != nil {
		logger.Warn("background processing still running at shutdown", slog.String("error", err.Error()))
	}

	logger.Info("Shutdown complete")
	return 0
}

// waitForStop blocks until the server exits on its own or a signal arrives.
// shutdown is true when the server is still running and must be stopped.
func waitForStop(errCh <-chan error, sigChan <-chan os.Signal, logger *slog.Logger) (code int, shutdown bool) {
	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
			return 1, false
		}
		return 0, false
	case <-sigChan:
		return 0, true
	}
}

func newBot(cfg config.BotConfig, logger *slog.Logger) handlers.Bot {
	if cfg.BaseURL == "" {
		logger.Info("no bot endpoint configured, chat output is logged only")
		return bot.NewLog(logger)
	}
	return bot.NewHTTP(bot.Config{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout}, logger)
}

// openLedger returns nil for storage type none.
func openLedger(ctx context.Context, cfg config.StorageConfig) (points.Ledger, error) {
	switch cfg.Type {
	case config.StorageMemory:
		return memory.New(), nil
	case config.StorageSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		l, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return l, nil
	case config.StorageRedis:
		l, err := redis.New(ctx, redis.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, nil
	}
}

func waitForBackground(ctx context.Context, in *ingress.Ingress) error {
	done := make(chan struct{})
	go func() {
		in.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("timed out waiting for background work")
	}
}
