package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/api"
	"github.com/lalithlochan/herald/internal/app"
	"github.com/lalithlochan/herald/internal/config"
	"github.com/lalithlochan/herald/internal/observ"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, "herald")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting herald",
		zap.Int("port", cfg.Port),
		zap.String("timezone", cfg.Timezone.String()),
		zap.Bool("redis_enabled", cfg.RedisEnabled),
		zap.Bool("dry_run", cfg.DryRun),
	)

	ctx := context.Background()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Scheduled triggers arrive on the queue. The consumer stops with consumerCtx.
	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	consumerDone := make(chan struct{})
	consumer, err := a.Consumer(ctx)
	switch {
	case err != nil:
		logger.Warn("sqs consumer unavailable, queued triggers will not run", zap.Error(err))
		close(consumerDone)
	case consumer == nil:
		logger.Info("no trigger queue configured, jobs run only through the API")
		close(consumerDone)
	default:
		go func() {
			defer close(consumerDone)
			consumer.Start(consumerCtx)
		}()
		logger.Info("trigger consumer started")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(a.Handler(), a.RateLimiter(), logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 11 * time.Minute, // synchronous job runs
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		consumerCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		// A job started from the queue finishes its in-flight attempts.
		select {
		case <-consumerDone:
		case <-ctx.Done():
			logger.Warn("trigger consumer did not stop in time")
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
