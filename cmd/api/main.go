package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chromaknit/chromaknit/internal/api"
	"github.com/chromaknit/chromaknit/internal/config"
	"github.com/chromaknit/chromaknit/internal/palette"
	"github.com/chromaknit/chromaknit/internal/queue"
	"github.com/chromaknit/chromaknit/internal/ratelimit"
	"github.com/chromaknit/chromaknit/internal/storage"
	"github.com/chromaknit/chromaknit/internal/store"
	"github.com/chromaknit/chromaknit/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "chromaknit-api",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	cancel()
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint:       cfg.Storage.Endpoint,
		Access:         cfg.Storage.AccessKey,
		Secret:         cfg.Storage.SecretKey,
		Bucket:         cfg.Storage.Bucket,
		UseSSL:         cfg.Storage.UseSSL,
		MaxObjectBytes: cfg.API.MaxUploadBytes,
	})
	if err != nil {
		logger.Fatalf("storage client setup failed: %v", err)
	}
	bucketCtx, cancelBucket := context.WithTimeout(context.Background(), 10*time.Second)
	if err := storageClient.EnsureBucket(bucketCtx); err != nil {
		logger.Printf("bucket check failed, presigned uploads may not work: %v", err)
	}
	cancelBucket()

	jobStore, closeStore := newJobStore(logger, cfg.Database.DSN)
	defer closeStore()

	app := api.NewServer(logger, queueClient, jobStore, storageClient, api.Options{
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		Quantize: palette.Options{
			Colors:        palette.DefaultColors,
			Seed:          cfg.Quantize.Seed,
			Restarts:      cfg.Quantize.Restarts,
			MaxIterations: cfg.Quantize.MaxIterations,
		},
		RateLimiter: newRateLimiter(logger, cfg),
		Tracer:      otel.Tracer("chromaknit/api"),
	})

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}

// newJobStore prefers Postgres and falls back to the in-memory store so the
// API still comes up in local development without a database.
func newJobStore(logger *log.Logger, dsn string) (store.JobStore, func()) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pg, err := store.NewPostgresJobStore(ctx, dsn)
	if err != nil {
		logger.Printf("postgres unavailable, using in-memory job store: %v", err)
		return store.NewMemoryJobStore(), func() {}
	}

	logger.Printf("using postgres job store")
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Printf("postgres close error: %v", err)
		}
	}
}

func newRateLimiter(logger *log.Logger, cfg config.Config) api.RateLimiter {
	if cfg.API.RateLimitRPM <= 0 {
		logger.Printf("rate limiting disabled")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	limiter, err := ratelimit.NewRedisTokenBucket(rdb, cfg.API.RateLimitRPM, time.Minute, "chromaknit:ratelimit")
	if err != nil {
		logger.Printf("rate limiter setup failed, running without limits: %v", err)
		return nil
	}
	return limiter
}
