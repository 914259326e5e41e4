// Package httpapi exposes the order engine over HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/safar/go-order-engine/internal/consolidation"
	"github.com/safar/go-order-engine/internal/metrics"
	"github.com/safar/go-order-engine/internal/models"
	"github.com/safar/go-order-engine/internal/orders"
	"github.com/safar/go-order-engine/internal/pricing"
	"github.com/safar/go-order-engine/internal/queue"
	"github.com/safar/go-order-engine/internal/store"
)

// OrderService is the subset of orders.Service the handlers call.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd orders.PlaceOrderCommand) (*orders.PlaceOrderResult, error)
	Cancel(ctx context.Context, orderID int64) (*models.Order, error)
	UpdateStatus(ctx context.Context, cmd orders.StatusCommand) (*models.Order, bool, error)
	BulkUpdateStatus(ctx context.Context, cmd orders.BulkStatusCommand) (*orders.BulkStatusResult, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrders(ctx context.Context, filter store.OrderFilter, cursor string, limit int) (*store.CursorPage, error)
	CountByStatus(ctx context.Context, filter store.OrderFilter) (map[models.OrderStatus]int64, error)
	History(ctx context.Context, orderID int64) ([]models.StatusEvent, error)
	Quote(ctx context.Context, cmd orders.QuoteCommand) (*pricing.Breakdown, error)
}

type GroupViewer interface {
	GroupView(ctx context.Context, groupID string) (*consolidation.View, error)
}

// Catalog serves the read-only listings that go straight to the store.
type Catalog interface {
	ListProducts(ctx context.Context, page, pageSize int) (*store.OffsetPage, error)
	ListFailedJobs(ctx context.Context, limit int) ([]models.FailedJob, error)
}

type Deps struct {
	Orders     OrderService
	Groups     GroupViewer
	Catalog    Catalog
	Jobs       queue.Enqueuer
	OrderTopic string
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

type server struct {
	orders  OrderService
	groups  GroupViewer
	catalog Catalog
	jobs    queue.Enqueuer
	topic   string
}

func NewRouter(deps Deps) (http.Handler, error) {
	if deps.Orders == nil || deps.Groups == nil || deps.Catalog == nil {
		return nil, errors.New("httpapi: orders, groups and catalog are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	s := &server{
		orders:  deps.Orders,
		groups:  deps.Groups,
		catalog: deps.Catalog,
		jobs:    deps.Jobs,
		topic:   deps.OrderTopic,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger, deps.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(actorFromHeader)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", s.handleEnqueueOrder)
		r.Get("/", s.handleListOrders)
		r.Get("/status-counts", s.handleStatusCounts)
		r.Post("/status", s.handleBulkStatus)

		r.Route("/{orderID}", func(r chi.Router) {
			r.Get("/", s.handleGetOrder)
			r.Get("/history", s.handleHistory)
			r.Post("/cancel", s.handleCancel)
			r.Post("/status", s.handleStatus)
		})
	})

	r.Get("/payment-groups/{groupID}", s.handleGroupView)
	r.Post("/quote", s.handleQuote)
	r.Get("/products", s.handleListProducts)
	r.Get("/failed-jobs", s.handleFailedJobs)

	return r, nil
}

type storeCatalog struct {
	db *sql.DB
}

// NewStoreCatalog reads listings directly from Postgres.
func NewStoreCatalog(db *sql.DB) Catalog {
	return &storeCatalog{db: db}
}

func (c *storeCatalog) ListProducts(ctx context.Context, page, pageSize int) (*store.OffsetPage, error) {
	return store.ListProducts(ctx, c.db, page, pageSize)
}

func (c *storeCatalog) ListFailedJobs(ctx context.Context, limit int) ([]models.FailedJob, error) {
	return store.ListFailedJobs(ctx, c.db, limit)
}
