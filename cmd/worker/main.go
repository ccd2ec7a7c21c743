package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"snapattend/internal/config"
	"snapattend/internal/logger"
	"snapattend/internal/metrics"
	"snapattend/internal/queue"
	"snapattend/internal/store"
)

// Worker consumes attendance.recorded messages and keeps the live session rosters in Redis.
func main() {
	cfg := config.Load()
	zl, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if cfg.QueueBackend == "memory" {
		zl.Fatal("worker needs QUEUE_BACKEND=redis; the in-memory queue is private to the api process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		zl.Warn("redis not reachable yet; consumer will retry", zap.String("addr", cfg.RedisAddr))
	}

	m := metrics.New()
	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	q.OnDrop(func(raw string, err error) {
		zl.Warn("dropping undecodable message", zap.Int("bytes", len(raw)), zap.Error(err))
	})
	roster := queue.NewRoster(redisClient.Client)

	g, gctx := errgroup.WithContext(ctx)
	messages, err := q.Consume(gctx)
	if err != nil {
		zl.Fatal("queue consume init failed", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		zl.Info("worker started, waiting for messages", zap.String("queue", cfg.QueueKey))
		for msg := range messages {
			ev, err := queue.DecodeRecorded(msg)
			if err != nil {
				zl.Warn("skipping message", zap.String("type", msg.Type), zap.Error(err))
				continue
			}
			err = roster.Add(gctx, ev)
			m.ObserveRoster(err == nil)
			if err != nil {
				zl.Error("roster update failed", zap.String("record_id", ev.RecordID), zap.Error(err))
				continue
			}
			zl.Debug("roster updated", zap.String("session_id", ev.SessionID), zap.String("student_id", ev.StudentID))
		}
		zl.Info("worker stopped")
		return nil
	})

	if err := g.Wait(); err != nil {
		zl.Error("worker exited", zap.Error(err))
	}
}
