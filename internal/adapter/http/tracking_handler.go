package http

import (
	"net/http"
	"time"

	"github.com/YelzhanWeb/printforge/internal/adapter/logger"
	"github.com/YelzhanWeb/printforge/internal/domain"
	"github.com/YelzhanWeb/printforge/internal/interfaces"
)

type TrackingHandler struct {
	service interfaces.TrackingService
	logger  logger.Logger
}

func NewTrackingHandler(service interfaces.TrackingService, logger logger.Logger) *TrackingHandler {
	return &TrackingHandler{
		service: service,
		logger:  logger,
	}
}

type historyEntry struct {
	Axis      domain.Axis `json:"axis"`
	Value     string      `json:"value"`
	ChangedBy string      `json:"changedBy"`
	ChangedAt time.Time   `json:"changedAt"`
	Notes     *string     `json:"notes,omitempty"`
}

type workerStatus struct {
	WorkerName      string              `json:"workerName"`
	Engine          string              `json:"engine"`
	PoolSize        int                 `json:"poolSize"`
	Status          domain.WorkerStatus `json:"status"`
	OrdersProcessed int                 `json:"ordersProcessed"`
	LastSeen        time.Time           `json:"lastSeen"`
}

func (h *TrackingHandler) Register(mux *http.ServeMux, auth func(http.Handler) http.Handler) {
	mux.Handle("GET /custom-orders/{id}/history", auth(http.HandlerFunc(h.GetOrderHistory)))
	mux.Handle("GET /workers/status", auth(http.HandlerFunc(h.GetWorkersStatus)))
}

func (h *TrackingHandler) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		respondError(w, "authentication required", http.StatusUnauthorized, nil)
		return
	}

	history, err := h.service.GetOrderHistory(r.Context(), id, r.PathValue("id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := make([]historyEntry, len(history))
	for i, log := range history {
		resp[i] = historyEntry{
			Axis:      log.Axis,
			Value:     log.Value,
			ChangedBy: log.ChangedBy,
			ChangedAt: log.ChangedAt,
			Notes:     log.Notes,
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *TrackingHandler) GetWorkersStatus(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("request_received", "Workers status requested", RequestIDFrom(r.Context()), nil)

	workers, err := h.service.GetWorkersStatus(r.Context())
	if err != nil {
		h.logger.Error("db_query_failed", "Failed to load workers", RequestIDFrom(r.Context()), nil, err)
		respondServiceError(w, err)
		return
	}

	resp := make([]workerStatus, len(workers))
	for i, worker := range workers {
		resp[i] = workerStatus{
			WorkerName:      worker.WorkerName,
			Engine:          worker.Engine,
			PoolSize:        worker.PoolSize,
			Status:          worker.Status,
			OrdersProcessed: worker.OrdersProcessed,
			LastSeen:        worker.LastSeen,
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
