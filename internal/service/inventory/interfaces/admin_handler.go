// internal/service/inventory/interfaces/admin_handler.go
package interfaces

import (
	"context"
	"net/http"
	"strconv"

	"nexus-inventory/internal/service/inventory/application"
	"nexus-inventory/internal/service/inventory/domain"
)

// SweeperJobs 是 worker 对运维暴露的手动任务
type SweeperJobs interface {
	TriggerReconcile(ctx context.Context) (application.ReconcileReport, error)
	TriggerSweep(ctx context.Context) (application.CompensationReport, error)
	Discrepancies(ctx context.Context, sku string, limit int) ([]domain.StockDiscrepancyDetected, error)
}

// AdminHandler 是 inventory-worker 的 HTTP 入口
type AdminHandler struct {
	jobs    SweeperJobs
	metrics http.Handler
}

func NewAdminHandler(jobs SweeperJobs, metrics http.Handler) *AdminHandler {
	return &AdminHandler{jobs: jobs, metrics: metrics}
}

func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics)
	}
	mux.HandleFunc("POST /admin/reconcile", traced("http.TriggerReconcile", h.reconcileHandler))
	mux.HandleFunc("POST /admin/sweep", traced("http.TriggerSweep", h.sweepHandler))
	mux.HandleFunc("GET /admin/discrepancies", traced("http.ListDiscrepancies", h.discrepanciesHandler))
}

func (h *AdminHandler) reconcileHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.jobs.TriggerReconcile(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *AdminHandler) sweepHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.jobs.TriggerSweep(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *AdminHandler) discrepanciesHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.jobs.Discrepancies(r.Context(), r.URL.Query().Get("sku"), limit)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if events == nil {
		events = []domain.StockDiscrepancyDetected{}
	}
	writeJSON(w, http.StatusOK, events)
}
