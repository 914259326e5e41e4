package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/safar/go-order-engine/internal/apperr"
	"github.com/safar/go-order-engine/internal/models"
	"github.com/safar/go-order-engine/internal/orders"
	"github.com/safar/go-order-engine/internal/requestctx"
	"github.com/safar/go-order-engine/internal/store"
)

const maxBodyBytes = 1 << 20

// handleEnqueueOrder validates the command and hands it to the worker
// queue. The order itself is created asynchronously.
func (s *server) handleEnqueueOrder(w http.ResponseWriter, r *http.Request) {
	var cmd orders.PlaceOrderCommand
	if !decodeBody(w, r, &cmd) {
		return
	}
	if err := cmd.Validate(); err != nil {
		respondAppError(w, r, err)
		return
	}
	if s.jobs == nil {
		respondError(w, http.StatusServiceUnavailable, "Order intake is not available.")
		return
	}

	jobID, err := s.jobs.Enqueue(r.Context(), s.topic, cmd)
	if err != nil {
		requestctx.Logger(r.Context()).Error("failed to enqueue order", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "Order intake is temporarily unavailable. Please retry.")
		return
	}

	requestctx.Logger(r.Context()).Info("order job enqueued",
		zap.String("job_id", jobID),
		zap.Int64("user_id", cmd.UserID),
		zap.Int("parcels", len(cmd.Parcels)),
	)
	respondJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "queued"})
}

func (s *server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	page, err := s.orders.ListOrders(r.Context(), filter, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (s *server) handleStatusCounts(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}

	counts, err := s.orders.CountByStatus(r.Context(), filter)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, counts)
}

func (s *server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	order, err := s.orders.GetOrder(r.Context(), id)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	events, err := s.orders.History(r.Context(), id)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	order, err := s.orders.Cancel(r.Context(), id)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	var cmd orders.StatusCommand
	if !decodeBody(w, r, &cmd) {
		return
	}
	cmd.OrderID = id

	order, changed, err := s.orders.UpdateStatus(r.Context(), cmd)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"order": order, "changed": changed})
}

func (s *server) handleBulkStatus(w http.ResponseWriter, r *http.Request) {
	var cmd orders.BulkStatusCommand
	if !decodeBody(w, r, &cmd) {
		return
	}

	result, err := s.orders.BulkUpdateStatus(r.Context(), cmd)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *server) handleGroupView(w http.ResponseWriter, r *http.Request) {
	groupID := strings.TrimSpace(chi.URLParam(r, "groupID"))
	if groupID == "" {
		respondError(w, http.StatusBadRequest, "Invalid payment group ID")
		return
	}

	view, err := s.groups.GroupView(r.Context(), groupID)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var cmd orders.QuoteCommand
	if !decodeBody(w, r, &cmd) {
		return
	}

	breakdown, err := s.orders.Quote(r.Context(), cmd)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, breakdown)
}

func (s *server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	result, err := s.catalog.ListProducts(r.Context(), page, pageSize)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *server) handleFailedJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	jobs, err := s.catalog.ListFailedJobs(r.Context(), limit)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, jobs)
}

func parseFilter(w http.ResponseWriter, r *http.Request) (store.OrderFilter, bool) {
	var filter store.OrderFilter
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid user ID")
			return filter, false
		}
		filter.UserID = id
	}
	filter.Status = models.OrderStatus(r.URL.Query().Get("status"))
	return filter, true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func respondAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := apperr.PublicMessage(err)
	if status >= http.StatusInternalServerError {
		requestctx.Logger(r.Context()).Error("request failed", zap.Error(err))
	} else {
		requestctx.Logger(r.Context()).Debug("request rejected", zap.Error(err))
	}
	respondError(w, status, message)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("error encoding JSON response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
