package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"snapattend/internal/attendance"
	"snapattend/internal/auth"
	"snapattend/internal/config"
	"snapattend/internal/handler"
	"snapattend/internal/httpmiddleware"
	"snapattend/internal/identity"
	"snapattend/internal/logger"
	"snapattend/internal/metrics"
	"snapattend/internal/queue"
	"snapattend/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	zl, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := runHTTP(cfg, zl); err != nil {
		zl.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		zl.Warn("redis not reachable; cooldowns, rate limits and the live roster may degrade", zap.String("addr", cfg.RedisAddr))
	}

	m := metrics.New()

	opts := []attendance.Option{attendance.WithObserver(m), attendance.WithLogger(zl)}
	// The roster worker only reads the Redis queue; in memory mode nothing would consume events.
	if cfg.QueueBackend != "memory" {
		q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
		opts = append(opts, attendance.WithListener(queue.NewNotifier(q, zl)))
	}
	att := attendance.NewService(attendance.NewRepository(db.Client), cfg.SessionTTL, opts...)

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return err
	}
	// QUEUE_BACKEND=memory is the Redis-free dev mode.
	var cooldowns auth.CooldownStore = auth.NewRedisCooldownStore(redisClient.Client)
	if cfg.QueueBackend == "memory" {
		cooldowns = auth.NewMemoryCooldownStore()
	}
	sessions := auth.NewSessions(verifier, cooldowns, auth.SessionConfig{
		Issuer:         cfg.JWTIssuer,
		SigningKey:     cfg.JWTSigningKey,
		AccessTTL:      cfg.AccessTTL,
		LogoutCooldown: cfg.LogoutCooldown,
	}, zl)

	var limiter httpmiddleware.Limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin)
	}

	deps := handler.Deps{
		Attendance: att,
		Sessions:   sessions,
		Observer:   m,
		DB:         db,
		Logger:     zl,
	}
	if cfg.QueueBackend != "memory" {
		deps.Roster = queue.NewRoster(redisClient.Client)
		deps.Redis = redisClient
	}
	r := handler.NewRouter(handler.RouterConfig{
		JWTSigningKey:  cfg.JWTSigningKey,
		JWTIssuer:      cfg.JWTIssuer,
		AllowedOrigins: cfg.AllowedOrigins,
		Limiter:        limiter,
		Metrics:        m,
		Logger:         zl,
	}, handler.New(deps))

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zl.Info("api listening", zap.String("addr", srv.Addr), zap.String("db_driver", db.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zl.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newVerifier(ctx context.Context, cfg config.App) (identity.Verifier, error) {
	switch cfg.IdentityProvider {
	case "firebase":
		return identity.NewFirebaseVerifier(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsFile)
	case "shared", "":
		if cfg.Production() && cfg.IdentitySharedSecret == "dev-identity-secret-change" {
			return nil, errors.New("IDENTITY_SHARED_SECRET must be set in production")
		}
		return identity.NewSharedSecretVerifier(cfg.IdentitySharedSecret), nil
	default:
		return nil, fmt.Errorf("unknown IDENTITY_PROVIDER %q", cfg.IdentityProvider)
	}
}
