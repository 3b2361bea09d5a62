package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	api "silence-trimmer/internal/api"
	"silence-trimmer/internal/config"
	"silence-trimmer/internal/logging"
	"silence-trimmer/internal/media"
	"silence-trimmer/internal/models"
	"silence-trimmer/internal/preview"
	"silence-trimmer/internal/ratelimit"
	"silence-trimmer/internal/scheduler"
	"silence-trimmer/internal/storage"
	"silence-trimmer/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "trim-api:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	logger = logger.With(slog.String("env", cfg.Env))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	locator, err := storage.NewLocator(cfg.WorkDir)
	if err != nil {
		return err
	}
	if err := locator.Lock(); err != nil {
		return err
	}
	defer locator.Unlock()

	engine := media.New(cfg)
	opts := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithEvictHook(func(job models.Job) {
			if err := locator.Remove(job.ID); err != nil {
				logger.Warn("remove job files", logging.JobID(job.ID), slog.Any("error", err))
			}
		}),
	}

	if cfg.PostgresDSN != "" {
		st, err := store.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.RunMigrations(ctx); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		opts = append(opts, scheduler.WithRecorder(st))
		logger.Info("audit trail enabled")
	}

	publisher, err := storage.NewS3Publisher(ctx, cfg)
	if err != nil {
		return err
	}
	if publisher != nil {
		opts = append(opts, scheduler.WithPublisher(publisher))
		logger.Info("publishing outputs to s3", slog.String("bucket", cfg.S3Bucket))
	}

	var limiter api.Limiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		limiter = ratelimit.NewTokenBucket(client, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
		logger.Info("upload rate limit enabled", slog.Int("capacity", cfg.RateLimitCapacity), slog.Float64("refill_per_sec", cfg.RateLimitRefill))
	}

	sched := scheduler.New(cfg, engine, locator, opts...)
	defer sched.Close()

	server := api.New(cfg, sched, locator, engine, limiter, preview.NewRenderer(engine, cfg.ThumbnailWidth), logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go sweep(ctx, sched, cfg.SweepInterval, cfg.SweepMaxAge)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", slog.String("addr", httpServer.Addr), slog.Int("max_concurrent", cfg.MaxConcurrent))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	return nil
}

// sweep evicts old terminal jobs until ctx ends.
func sweep(ctx context.Context, sched *scheduler.Scheduler, every, maxAge time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sched.Sweep(maxAge)
		}
	}
}
