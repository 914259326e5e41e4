package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/safar/go-order-engine/internal/config"
	"github.com/safar/go-order-engine/internal/consolidation"
	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/httpapi"
	"github.com/safar/go-order-engine/internal/logging"
	"github.com/safar/go-order-engine/internal/metrics"
	"github.com/safar/go-order-engine/internal/orders"
	"github.com/safar/go-order-engine/internal/pricing"
	"github.com/safar/go-order-engine/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, "api")
	if err != nil {
		log.Fatalf("Init logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewDBStatsCollector(db, "orders"))
	m := metrics.New(reg, "api")

	svc, err := orders.NewService(orders.ServiceDeps{
		DB:         db,
		Calculator: pricing.NewCalculator(cfg.Pricing),
		Metrics:    m,
	})
	if err != nil {
		return err
	}

	producer, err := queue.NewKafkaProducer(cfg.Kafka)
	if err != nil {
		return err
	}
	defer producer.Close()

	router, err := httpapi.NewRouter(httpapi.Deps{
		Orders:     svc,
		Groups:     consolidation.NewService(db, m),
		Catalog:    httpapi.NewStoreCatalog(db),
		Jobs:       producer,
		OrderTopic: cfg.Kafka.OrderTopic,
		Metrics:    m,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	mux := chi.NewRouter()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.Mount("/", router)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
