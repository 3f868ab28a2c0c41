package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"semaphore/provisioning/internal/auth"
	"semaphore/provisioning/internal/config"
	provisioninggrpc "semaphore/provisioning/internal/grpc"
	internalhttp "semaphore/provisioning/internal/http"
	"semaphore/provisioning/internal/idempotency"
	"semaphore/provisioning/internal/jobs"
	"semaphore/provisioning/internal/logging"
	"semaphore/provisioning/internal/metrics"
	"semaphore/provisioning/internal/provisioning"
	"semaphore/provisioning/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := repository.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(cfg.JWTPublicKey, cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return err
	}

	registry := metrics.New(prometheus.DefaultRegisterer)
	deps := provisioning.Deps{
		Accounts:   store,
		Profiles:   store,
		Metrics:    registry,
		Logger:     logger,
		BcryptCost: cfg.BcryptCost,
	}

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return err
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		deps.Replays = idempotency.NewStore(redisClient, cfg.IdempotencyTTL)
	} else {
		logger.Info("REDIS_ADDR not set, idempotency keys are ignored")
	}

	server := internalhttp.NewServer(provisioning.New(deps), verifier, prometheus.DefaultGatherer, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer, healthServer, err := provisioninggrpc.NewServer(cfg.ServiceAuthToken)
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	jobs.StartOrphanSweepJob(ctx, cfg, store, registry, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("provisioning http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("provisioning grpc listening", zap.String("addr", cfg.GRPCAddr))
		return grpcServer.Serve(listener)
	})
	g.Go(func() error {
		<-gctx.Done()
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown error", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})
	return g.Wait()
}
