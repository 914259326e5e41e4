package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/safar/go-order-engine/internal/apperr"
	"github.com/safar/go-order-engine/internal/config"
	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/logging"
	"github.com/safar/go-order-engine/internal/metrics"
	"github.com/safar/go-order-engine/internal/orders"
	"github.com/safar/go-order-engine/internal/pricing"
	"github.com/safar/go-order-engine/internal/queue"
	"github.com/safar/go-order-engine/internal/requestctx"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, "worker")
	if err != nil {
		log.Fatalf("Init logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker stopped", zap.Error(err))
	}
	logger.Info("worker stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, redelivered jobs will not be skipped", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewDBStatsCollector(db, "orders"))
	m := metrics.New(reg, "worker")

	svc, err := orders.NewService(orders.ServiceDeps{
		DB:         db,
		Calculator: pricing.NewCalculator(cfg.Pricing),
		Metrics:    m,
	})
	if err != nil {
		return err
	}

	deadLetter := queue.NewStoreDeadLetter(db)
	pool := queue.NewPool(cfg.Queue, placeOrderHandler(svc),
		queue.WithDeadLetter(deadLetter),
		queue.WithDeduper(queue.NewRedisDeduper(rdb, cfg.Redis.DoneTTL)),
		queue.WithMetrics(m),
		queue.WithLogger(logger),
	)

	consumer, err := queue.NewKafkaConsumer(cfg.Kafka, deadLetter, logger, cfg.Kafka.OrderTopic)
	if err != nil {
		return err
	}
	defer consumer.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.Server.MetricsPort,
		Handler:           metrics.Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker starting",
		zap.String("topic", cfg.Kafka.OrderTopic),
		zap.String("group", cfg.Kafka.ConsumerGroup),
		zap.Int("workers", cfg.Queue.Workers),
	)
	return consumer.Run(ctx, pool)
}

func placeOrderHandler(svc *orders.Service) queue.Handler {
	return func(ctx context.Context, job queue.Job) error {
		var cmd orders.PlaceOrderCommand
		if err := json.Unmarshal(job.Payload, &cmd); err != nil {
			return apperr.Validation("payload", "undecodable order command: %v", err)
		}
		ctx = requestctx.WithActor(ctx, requestctx.SystemActor)

		result, err := svc.PlaceOrder(ctx, cmd)
		if err != nil {
			return err
		}

		requestctx.Logger(ctx).Info("order job completed",
			zap.Int("orders", len(result.Orders)),
			zap.String("payment_group_id", result.PaymentGroupID),
		)
		return nil
	}
}
