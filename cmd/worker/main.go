package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"channelsync/internal/api"
	"channelsync/internal/app"
	"channelsync/internal/config"
	"channelsync/internal/database"
	"channelsync/internal/logging"
	"channelsync/internal/metrics"
	"channelsync/internal/notify"
	"channelsync/internal/scheduler"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("bootstrap")
		return err
	}
	defer (func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	})()
	a.Subscribe()

	metrics.Register()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Queue.Start(gctx)
		return nil
	})

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(cfg.Scheduler, a.DB, a.Dispatcher, logging.Component(&logger, "scheduler"))
		g.Go(func() error { return sched.Start(gctx) })
	}

	if cfg.Backup.Enabled {
		backup := database.NewBackupService(a.DB, cfg.Backup, logging.Component(&logger, "backup"))
		g.Go(func() error {
			backup.Start(gctx)
			return nil
		})
	}

	notifier, err := notify.NewTelegram(cfg.Notify, logging.Component(&logger, "notify"))
	if err != nil {
		logger.Warn().Err(err).Msg("telegram notifications disabled")
	}
	if notifier != nil {
		notifier.Attach(a.Events)
		g.Go(func() error {
			notifier.Run(gctx)
			return nil
		})
	}

	if cfg.Monitoring.PrometheusEnabled {
		g.Go(func() error { return serveMetrics(gctx, cfg.Monitoring.PrometheusPort, &logger) })
	}

	if cfg.API.Enabled && cfg.API.HTTP.Enabled {
		server := api.NewHTTPServer(cfg.API, api.Deps{
			Dispatcher: a.Dispatcher,
			Store:      a.DB,
			Checks:     a.Checks(),
			Metrics:    metrics.Handler(),
		}, logging.Component(&logger, "api"))
		g.Go(func() error {
			if err := server.Start(); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	logger.Info().
		Str("owner", a.OwnerID).
		Str("lock_backend", cfg.Lock.Backend).
		Bool("scheduler", cfg.Scheduler.Enabled).
		Bool("api", cfg.API.Enabled).
		Msg("Worker started")

	err = g.Wait()
	logger.Info().Msg("Worker stopped")
	return err
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "worker-main").Logger()

	return cfg, logger, closer, nil
}

func serveMetrics(ctx context.Context, port int, logger *zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Int("port", port).Msg("metrics server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
