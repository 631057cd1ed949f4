// internal/service/inventory/interfaces/http_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"nexus-inventory/internal/pkg/logger"
	"nexus-inventory/internal/service/inventory/application"
	"nexus-inventory/internal/service/inventory/domain"
)

const serviceName = "inventory-service"

// ReservationUseCases 是 application.ReservationService 对外提供的用例
type ReservationUseCases interface {
	Reserve(ctx context.Context, req application.ReserveRequest) (domain.ReserveResult, error)
	BatchReserve(ctx context.Context, req application.BatchReserveRequest) (domain.BatchReserveResult, error)
	Release(ctx context.Context, req application.HoldRequest) (domain.ReleaseResult, error)
	Commit(ctx context.Context, req application.HoldRequest) (domain.CommitResult, error)
	GetStock(ctx context.Context, sku string) (application.StockResponse, error)
	ListReservations(ctx context.Context, orderID string) ([]domain.Hold, error)
	SeedStock(ctx context.Context, req application.SeedStockRequest) (application.SeedStockResponse, error)
}

// InventoryHandler 封装了 inventory 服务的 HTTP 处理器
type InventoryHandler struct {
	service ReservationUseCases
	metrics http.Handler
	feed    http.Handler
}

// NewInventoryHandler 创建 HTTP 处理器。metrics / feed 为 nil 时不注册对应路由
func NewInventoryHandler(service ReservationUseCases, metrics, feed http.Handler) *InventoryHandler {
	return &InventoryHandler{service: service, metrics: metrics, feed: feed}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *InventoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics)
	}
	if h.feed != nil {
		mux.Handle("GET /ws/stock", h.feed)
	}
	mux.HandleFunc("POST /reserve", traced("http.Reserve", h.reserveHandler))
	mux.HandleFunc("POST /reserve/batch", traced("http.BatchReserve", h.batchReserveHandler))
	mux.HandleFunc("POST /release", traced("http.Release", h.releaseHandler))
	mux.HandleFunc("POST /commit", traced("http.Commit", h.commitHandler))
	mux.HandleFunc("GET /stock", traced("http.GetStock", h.stockHandler))
	mux.HandleFunc("GET /reservations", traced("http.ListReservations", h.reservationsHandler))
	mux.HandleFunc("POST /admin/stock", traced("http.SeedStock", h.seedStockHandler))
}

func (h *InventoryHandler) reserveHandler(w http.ResponseWriter, r *http.Request) {
	var req application.ReserveRequest
	if !decode(w, r, &req) {
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("sku", req.SKU),
	)

	res, err := h.service.Reserve(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, reserveStatus(res.Reason), res)
}

func (h *InventoryHandler) batchReserveHandler(w http.ResponseWriter, r *http.Request) {
	var req application.BatchReserveRequest
	if !decode(w, r, &req) {
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.Int("items", len(req.Items)),
	)

	res, err := h.service.BatchReserve(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	status := http.StatusOK
	for _, item := range res.Items {
		if item.Reason != domain.ReasonNone {
			status = reserveStatus(item.Reason)
			break
		}
	}
	writeJSON(w, status, res)
}

func (h *InventoryHandler) releaseHandler(w http.ResponseWriter, r *http.Request) {
	var req application.HoldRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.service.Release(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *InventoryHandler) commitHandler(w http.ResponseWriter, r *http.Request) {
	var req application.HoldRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.service.Commit(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *InventoryHandler) stockHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.GetStock(r.Context(), r.URL.Query().Get("sku"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *InventoryHandler) reservationsHandler(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("orderId")
	holds, err := h.service.ListReservations(r.Context(), orderID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if holds == nil {
		holds = []domain.Hold{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orderId": orderID, "reservations": holds})
}

func (h *InventoryHandler) seedStockHandler(w http.ResponseWriter, r *http.Request) {
	var req application.SeedStockRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.service.SeedStock(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// reserveStatus 售罄和重复预占返回 409，调用方可以直接读取 body 中的可用库存
func reserveStatus(reason domain.FailureReason) int {
	switch reason {
	case domain.ReasonNone:
		return http.StatusOK
	case domain.ReasonPolicyRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusConflict
	}
}

// traced 从请求头中恢复上游的追踪上下文，并为每个请求开启一个 server span
func traced(spanName string, next http.HandlerFunc) http.HandlerFunc {
	tracer := otel.Tracer(serviceName)
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		next(w, r.WithContext(ctx))
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// writeError 把领域错误映射成 HTTP 状态码
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrVariantNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, application.ErrJobInProgress):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrStoreUnavailable):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "inventory store unavailable, try again"})
	default:
		logger.Ctx(ctx).Error().Err(err).Msg("Unhandled error in inventory handler")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
