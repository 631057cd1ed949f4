// internal/service/inventory/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nexus-inventory/internal/pkg/logger"
	"nexus-inventory/internal/service/inventory/domain"
)

// Settings 是预占相关的可调参数
type Settings struct {
	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

// ReservationService 编排预占、确认、释放用例。
// 原子性由 ReservationEngine 保证，这里只负责校验、策略、可观测性和销售写库。
type ReservationService struct {
	engine     domain.ReservationEngine
	ledger     domain.StockLedger
	store      domain.ReservationStore
	reconciler domain.StockReconciler
	variants   domain.VariantRepository
	sales      *SaleRecorder
	policy     *Policy
	observers  domain.StockObservers
	metrics    MetricsRecorder
	tracer     trace.Tracer
	settings   Settings
	now        func() time.Time
}

func NewReservationService(engine domain.ReservationEngine, ledger domain.StockLedger, store domain.ReservationStore, reconciler domain.StockReconciler, variants domain.VariantRepository, sales *SaleRecorder, policy *Policy, observers domain.StockObservers, metrics MetricsRecorder, tracer trace.Tracer, settings Settings) *ReservationService {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &ReservationService{
		engine: engine, ledger: ledger, store: store, reconciler: reconciler,
		variants: variants, sales: sales, policy: policy, observers: observers,
		metrics: metrics, tracer: tracer, settings: settings, now: time.Now,
	}
}

// resolveTTL 0 表示使用默认值，超过上限视为非法参数
func (s *ReservationService) resolveTTL(requested time.Duration) (time.Duration, error) {
	switch {
	case requested < 0:
		return 0, fmt.Errorf("%w: negative ttl %s", domain.ErrInvalidArgument, requested)
	case requested == 0:
		return s.settings.DefaultTTL, nil
	case s.settings.MaxTTL > 0 && requested > s.settings.MaxTTL:
		return 0, fmt.Errorf("%w: ttl %s exceeds maximum %s", domain.ErrInvalidArgument, requested, s.settings.MaxTTL)
	default:
		return requested, nil
	}
}

func (s *ReservationService) notify(ctx context.Context, sku, orderID string, stock int64, state domain.ReservationState) {
	s.observers.StockChanged(ctx, domain.StockChanged{
		SKU: sku, Stock: stock, OrderID: orderID, State: state, At: s.now().UTC(),
	})
}

func (s *ReservationService) fail(span trace.Span, op string, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	s.metrics.ReservationOutcome(op, outcomeError)
}

// Reserve 为订单预占一个 SKU。售罄或重复预占是正常结果，通过 Reason 返回
func (s *ReservationService) Reserve(ctx context.Context, req ReserveRequest) (domain.ReserveResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.Reserve", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("sku", req.SKU),
		attribute.Int64("qty", req.Quantity),
	))
	defer span.End()

	result := domain.ReserveResult{OrderID: req.OrderID, SKU: req.SKU, Requested: req.Quantity}
	ttl, err := s.resolveTTL(ttlFromSeconds(req.TTLSeconds))
	if err != nil {
		s.fail(span, "reserve", err, "invalid ttl")
		return result, err
	}

	allowed, err := s.policy.Allow(req.OrderID, req.SKU, req.Quantity)
	if err != nil {
		s.fail(span, "reserve", err, "policy evaluation failed")
		return result, err
	}
	if !allowed {
		stock, err := s.ledger.GetStock(ctx, req.SKU)
		if err != nil {
			s.fail(span, "reserve", err, "failed to read stock")
			return result, err
		}
		result.Stock = stock
		result.Reason = domain.ReasonPolicyRejected
		s.metrics.ReservationOutcome("reserve", outcomeRejected)
		logger.Ctx(ctx).Info().Str("order_id", req.OrderID).Str("sku", req.SKU).Int64("qty", req.Quantity).
			Str("policy", s.policy.String()).Msg("Reservation rejected by policy")
		return result, nil
	}

	result, err = s.engine.Reserve(ctx, req.OrderID, req.SKU, req.Quantity, ttl)
	if err != nil {
		s.fail(span, "reserve", err, "reserve failed")
		logger.Ctx(ctx).Error().Err(err).Str("order_id", req.OrderID).Str("sku", req.SKU).Msg("Failed to reserve stock")
		return result, err
	}

	s.metrics.ReservationOutcome("reserve", reserveOutcome(result.Reason))
	span.SetAttributes(attribute.Bool("reserved", result.Reserved), attribute.Int64("stock", result.Stock))
	if !result.Reserved {
		logger.Ctx(ctx).Info().Str("order_id", req.OrderID).Str("sku", req.SKU).
			Int64("requested", req.Quantity).Int64("available", result.Stock).
			Str("reason", string(result.Reason)).Msg("Reservation not granted")
		return result, nil
	}

	s.notify(ctx, req.SKU, req.OrderID, result.Stock, domain.StateReserved)
	logger.Ctx(ctx).Info().Str("order_id", req.OrderID).Str("sku", req.SKU).
		Int64("qty", req.Quantity).Int64("stock", result.Stock).Dur("ttl", ttl).Msg("Stock reserved")
	return result, nil
}

// BatchReserve 一次预占订单的全部 SKU，任何一个失败都不会留下部分预占
func (s *ReservationService) BatchReserve(ctx context.Context, req BatchReserveRequest) (domain.BatchReserveResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.BatchReserve", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.Int("items", len(req.Items)),
	))
	defer span.End()

	result := domain.BatchReserveResult{OrderID: req.OrderID}
	ttl, err := s.resolveTTL(ttlFromSeconds(req.TTLSeconds))
	if err != nil {
		s.fail(span, "batch_reserve", err, "invalid ttl")
		return result, err
	}

	rejected, err := s.checkPolicy(ctx, req)
	if err != nil {
		s.fail(span, "batch_reserve", err, "policy evaluation failed")
		return result, err
	}
	if rejected != nil {
		s.metrics.ReservationOutcome("batch_reserve", outcomeRejected)
		return *rejected, nil
	}

	result, err = s.engine.BatchReserve(ctx, req.OrderID, req.Items, ttl)
	if err != nil {
		s.fail(span, "batch_reserve", err, "batch reserve failed")
		logger.Ctx(ctx).Error().Err(err).Str("order_id", req.OrderID).Msg("Failed to batch reserve stock")
		return result, err
	}
	span.SetAttributes(attribute.Bool("all_reserved", result.AllReserved))

	if !result.AllReserved {
		outcome := outcomeInsufficient
		for _, item := range result.Items {
			if item.Reason == domain.ReasonAlreadyReserved {
				outcome = outcomeDuplicate
			}
		}
		s.metrics.ReservationOutcome("batch_reserve", outcome)
		logger.Ctx(ctx).Info().Str("order_id", req.OrderID).Interface("items", result.Items).Msg("Batch reservation not granted")
		return result, nil
	}

	s.metrics.ReservationOutcome("batch_reserve", outcomeReserved)
	for _, item := range result.Items {
		s.notify(ctx, item.SKU, req.OrderID, item.Available, domain.StateReserved)
	}
	logger.Ctx(ctx).Info().Str("order_id", req.OrderID).Int("items", len(result.Items)).Dur("ttl", ttl).Msg("Batch stock reserved")
	return result, nil
}

// checkPolicy 任何一行被策略拒绝时返回整批的拒绝结果
func (s *ReservationService) checkPolicy(ctx context.Context, req BatchReserveRequest) (*domain.BatchReserveResult, error) {
	if s.policy == nil {
		return nil, nil
	}
	items := make([]domain.BatchItemResult, len(req.Items))
	anyRejected := false
	for i, item := range req.Items {
		allowed, err := s.policy.Allow(req.OrderID, item.SKU, item.Quantity)
		if err != nil {
			return nil, err
		}
		items[i] = domain.BatchItemResult{SKU: item.SKU, Requested: item.Quantity}
		if !allowed {
			items[i].Reason = domain.ReasonPolicyRejected
			anyRejected = true
		}
	}
	if !anyRejected {
		return nil, nil
	}
	for i := range items {
		stock, err := s.ledger.GetStock(ctx, items[i].SKU)
		if err != nil {
			return nil, err
		}
		items[i].Available = stock
	}
	return &domain.BatchReserveResult{OrderID: req.OrderID, Items: items}, nil
}

// Release 释放预占，重复调用是安全的
func (s *ReservationService) Release(ctx context.Context, req HoldRequest) (domain.ReleaseResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.Release", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("sku", req.SKU),
	))
	defer span.End()

	result, err := s.engine.Release(ctx, req.OrderID, req.SKU)
	if err != nil {
		s.fail(span, "release", err, "release failed")
		logger.Ctx(ctx).Error().Err(err).Str("order_id", req.OrderID).Str("sku", req.SKU).Msg("Failed to release stock")
		return result, err
	}
	if !result.Released {
		s.metrics.ReservationOutcome("release", outcomeNotFound)
		logger.Ctx(ctx).Debug().Str("order_id", req.OrderID).Str("sku", req.SKU).Msg("Nothing to release")
		return result, nil
	}

	s.metrics.ReservationOutcome("release", outcomeReleased)
	s.notify(ctx, req.SKU, req.OrderID, result.Stock, domain.StateReleased)
	logger.Ctx(ctx).Info().Str("order_id", req.OrderID).Str("sku", req.SKU).
		Int64("qty", result.Quantity).Int64("stock", result.Stock).Msg("Reservation released")
	return result, nil
}

// Commit 把预占转为销售。确认成功后同步写库，写库失败不影响确认结果，由 worker 重试
func (s *ReservationService) Commit(ctx context.Context, req HoldRequest) (domain.CommitResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.Commit", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("sku", req.SKU),
	))
	defer span.End()

	saleID := uuid.NewString()
	result, err := s.engine.Commit(ctx, req.OrderID, req.SKU, saleID)
	if err != nil {
		s.fail(span, "commit", err, "commit failed")
		logger.Ctx(ctx).Error().Err(err).Str("order_id", req.OrderID).Str("sku", req.SKU).Msg("Failed to commit reservation")
		return result, err
	}
	if !result.Committed {
		s.metrics.ReservationOutcome("commit", outcomeNotFound)
		logger.Ctx(ctx).Info().Str("order_id", req.OrderID).Str("sku", req.SKU).
			Msg("No active reservation to commit, treating as already committed or expired")
		return result, nil
	}

	s.metrics.ReservationOutcome("commit", outcomeCommitted)
	s.notify(ctx, req.SKU, req.OrderID, result.Stock, domain.StateCommitted)
	logger.Ctx(ctx).Info().Str("order_id", req.OrderID).Str("sku", req.SKU).
		Int64("qty", result.Quantity).Str("sale_id", saleID).Msg("Reservation committed")

	if s.sales != nil {
		sale := domain.Sale{
			SaleID: saleID, OrderID: req.OrderID, SKU: req.SKU,
			Quantity: result.Quantity, CommittedAt: s.now().UTC(),
		}
		if _, err := s.sales.Persist(ctx, sale); err != nil {
			span.RecordError(err, trace.WithAttributes(attribute.Bool("sale.pending", true)))
			logger.Ctx(ctx).Error().Err(err).Str("order_id", req.OrderID).Str("sku", req.SKU).
				Str("sale_id", saleID).Int64("qty", result.Quantity).
				Msg("Committed sale not yet persisted, left in pending queue")
		}
	}
	return result, nil
}

// BatchRelease 释放订单下的多个 SKU，各 SKU 互不影响
func (s *ReservationService) BatchRelease(ctx context.Context, req OrderRequest) (BatchOutcome, error) {
	return s.forEachSKU(ctx, "app.BatchRelease", req, func(ctx context.Context, sku string) domain.ItemOutcome {
		res, err := s.Release(ctx, HoldRequest{OrderID: req.OrderID, SKU: sku})
		return domain.ItemOutcome{SKU: sku, Done: res.Released, Quantity: res.Quantity, Stock: res.Stock, Err: err}
	})
}

// BatchCommit 确认订单下的多个 SKU，各 SKU 互不影响
func (s *ReservationService) BatchCommit(ctx context.Context, req OrderRequest) (BatchOutcome, error) {
	return s.forEachSKU(ctx, "app.BatchCommit", req, func(ctx context.Context, sku string) domain.ItemOutcome {
		res, err := s.Commit(ctx, HoldRequest{OrderID: req.OrderID, SKU: sku})
		return domain.ItemOutcome{SKU: sku, Done: res.Committed, Quantity: res.Quantity, Stock: res.Stock, Err: err}
	})
}

func (s *ReservationService) forEachSKU(ctx context.Context, spanName string, req OrderRequest, fn func(context.Context, string) domain.ItemOutcome) (BatchOutcome, error) {
	ctx, span := s.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.Int("items", len(req.SKUs)),
	))
	defer span.End()

	out := BatchOutcome{OrderID: req.OrderID, Items: make([]domain.ItemOutcome, 0, len(req.SKUs))}
	if req.OrderID == "" || len(req.SKUs) == 0 {
		err := fmt.Errorf("%w: order id and skus are required", domain.ErrInvalidArgument)
		span.RecordError(err)
		return out, err
	}

	var errs []error
	for _, sku := range req.SKUs {
		item := fn(ctx, sku)
		if item.Err != nil {
			item.Error = item.Err.Error()
			errs = append(errs, fmt.Errorf("sku %s: %w", sku, item.Err))
		}
		out.Items = append(out.Items, item)
	}
	err := errors.Join(errs...)
	if err != nil {
		span.SetStatus(codes.Error, "some items failed")
	}
	return out, err
}

// HandlePaymentEvent 根据支付结果确认或释放订单的预占
func (s *ReservationService) HandlePaymentEvent(ctx context.Context, event *domain.PaymentEvent) (BatchOutcome, error) {
	if err := event.Validate(); err != nil {
		return BatchOutcome{OrderID: event.OrderID}, err
	}
	req := OrderRequest{OrderID: event.OrderID, SKUs: event.SKUs}
	if event.Type == domain.PaymentSucceeded {
		return s.BatchCommit(ctx, req)
	}
	return s.BatchRelease(ctx, req)
}

// GetStock 返回快存储中的可用库存
func (s *ReservationService) GetStock(ctx context.Context, sku string) (StockResponse, error) {
	stock, err := s.ledger.GetStock(ctx, sku)
	if err != nil {
		return StockResponse{SKU: sku}, err
	}
	return StockResponse{SKU: sku, Stock: stock}, nil
}

// ListReservations 返回订单下仍然有效的预占
func (s *ReservationService) ListReservations(ctx context.Context, orderID string) ([]domain.Hold, error) {
	return s.store.ListByOrder(ctx, orderID)
}

// SeedStock 写入数据库库存，并按当前预占和未同步销售重新计算可用库存
func (s *ReservationService) SeedStock(ctx context.Context, req SeedStockRequest) (SeedStockResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.SeedStock", trace.WithAttributes(
		attribute.String("sku", req.SKU),
		attribute.Int64("qty", req.Quantity),
	))
	defer span.End()

	resp := SeedStockResponse{SKU: req.SKU}
	if req.SKU == "" || req.Quantity < 0 {
		err := fmt.Errorf("%w: sku=%q qty=%d", domain.ErrInvalidArgument, req.SKU, req.Quantity)
		span.RecordError(err)
		return resp, err
	}
	// 同步标记必须在写库之前取得，之后确认的销售会从 req.Quantity 中扣掉
	marks, err := s.reconciler.SyncMarks(ctx, []string{req.SKU})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read sync marks")
		return resp, err
	}
	if err := s.variants.SetStock(ctx, req.SKU, req.Quantity); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write variant stock")
		return resp, err
	}
	out, err := s.reconciler.Reconcile(ctx, req.SKU, req.Quantity, marks[req.SKU])
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to sync fast store")
		return resp, err
	}

	s.notify(ctx, req.SKU, "", out.New, domain.StateCorrected)
	logger.Ctx(ctx).Info().Str("sku", req.SKU).Int64("persisted", req.Quantity).
		Int64("available", out.New).Int64("held", out.Held).Int64("unsynced", out.Unsynced).Msg("Stock seeded")

	resp.Persisted = req.Quantity
	resp.Available = out.New
	resp.Held = out.Held
	resp.Unsynced = out.Unsynced
	return resp, nil
}
