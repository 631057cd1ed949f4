// internal/service/inventory/application/sweeper.go
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

// 分布式锁的名字，多个 worker 实例之间互斥
const (
	expirySweepJob = "inventory-expiry-sweep"
	reconcileJob   = "inventory-reconcile"
	salesFlushJob  = "inventory-sales-flush"
)

// ErrJobInProgress 表示同名任务正在其他 worker 上执行
var ErrJobInProgress = errors.New("job is already running on another worker")

type SweeperSettings struct {
	ExpiryInterval     time.Duration
	ReconcileInterval  time.Duration
	SalesFlushInterval time.Duration
	BatchSize          int
	LockTTL            time.Duration
}

// CompensationReport 是一轮过期补偿的统计
type CompensationReport struct {
	Scanned     int   `json:"scanned"`
	Compensated int   `json:"compensated"`
	Restored    int64 `json:"restored"`
	Alive       int   `json:"alive"`
	AlreadyDone int   `json:"alreadyDone"`
	Failed      int   `json:"failed"`
}

// ReconcileReport 是一轮对账的统计
type ReconcileReport struct {
	RunID         string      `json:"runId"`
	Checked       int         `json:"checked"`
	Discrepancies int         `json:"discrepancies"`
	Failed        int         `json:"failed"`
	Sales         FlushReport `json:"sales"`
}

// Sweeper 负责两件后台任务：归还过期预占的库存，以及以数据库为准修正缓存库存
type Sweeper struct {
	index      domain.ExpiryIndex
	reconciler domain.StockReconciler
	variants   domain.VariantRepository
	audits     domain.AuditRepository
	publisher  domain.DiscrepancyPublisher
	sales      *SaleRecorder
	locker     domain.Locker
	observers  domain.StockObservers
	metrics    MetricsRecorder
	tracer     trace.Tracer
	settings   SweeperSettings
	now        func() time.Time
}

func NewSweeper(index domain.ExpiryIndex, reconciler domain.StockReconciler, variants domain.VariantRepository, audits domain.AuditRepository, publisher domain.DiscrepancyPublisher, sales *SaleRecorder, locker domain.Locker, observers domain.StockObservers, metrics MetricsRecorder, tracer trace.Tracer, settings SweeperSettings) *Sweeper {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = 200
	}
	if settings.LockTTL <= 0 {
		settings.LockTTL = 5 * time.Minute
	}
	return &Sweeper{
		index: index, reconciler: reconciler, variants: variants, audits: audits,
		publisher: publisher, sales: sales, locker: locker, observers: observers,
		metrics: metrics, tracer: tracer, settings: settings, now: time.Now,
	}
}

// CompensateExpired 归还所有已过期但尚未补偿的预占。
// 每条记录的归还由脚本原子完成，多个 Sweeper 并发执行也只会归还一次。
func (s *Sweeper) CompensateExpired(ctx context.Context) (CompensationReport, error) {
	ctx, span := s.tracer.Start(ctx, "sweeper.CompensateExpired")
	defer span.End()

	var report CompensationReport
	limit := int64(s.settings.BatchSize)
	now := s.now()
	// 仍然存活或补偿失败的记录留在索引里，offset 跳过它们继续往后扫
	var offset int64
	for {
		holds, err := s.index.DueHolds(ctx, now, offset, limit)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to load due holds")
			return report, err
		}
		if len(holds) == 0 {
			break
		}

		for _, hold := range holds {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Scanned++
			out, err := s.index.CompensateExpired(ctx, hold)
			if err != nil {
				report.Failed++
				span.RecordError(err)
				logger.Ctx(ctx).Error().Err(err).Str("order_id", hold.OrderID).Str("sku", hold.SKU).
					Int64("qty", hold.Quantity).Msg("Failed to compensate expired reservation")
				if errors.Is(err, domain.ErrStoreUnavailable) {
					return report, err
				}
				offset++
				continue
			}

			switch {
			case out.Alive:
				report.Alive++
				offset++
			case out.Restored > 0:
				report.Compensated++
				report.Restored += out.Restored
				s.metrics.ExpiredCompensated(out.Restored)
				s.observers.StockChanged(ctx, domain.StockChanged{
					SKU: hold.SKU, Stock: out.Stock, OrderID: hold.OrderID,
					State: domain.StateExpired, At: s.now().UTC(),
				})
				logger.Ctx(ctx).Info().Str("order_id", hold.OrderID).Str("sku", hold.SKU).
					Int64("restored", out.Restored).Int64("stock", out.Stock).
					Time("expired_at", hold.ExpiresAt).Msg("Expired reservation compensated")
			default:
				report.AlreadyDone++
			}
		}
	}

	span.SetAttributes(
		attribute.Int("scanned", report.Scanned),
		attribute.Int("compensated", report.Compensated),
		attribute.Int64("restored", report.Restored),
	)
	if report.Scanned > 0 {
		logger.Ctx(ctx).Info().Interface("report", report).Msg("Expiry sweep finished")
	}
	return report, nil
}

// Reconcile 先把待持久化的销售写入数据库，再逐个 SKU 以数据库为准修正缓存。
// 差异只记录和上报，不会中断对账。
func (s *Sweeper) Reconcile(ctx context.Context) (ReconcileReport, error) {
	report := ReconcileReport{RunID: uuid.NewString()}
	ctx, span := s.tracer.Start(ctx, "sweeper.Reconcile", trace.WithAttributes(attribute.String("run.id", report.RunID)))
	defer span.End()

	if s.sales != nil {
		flushed, err := s.sales.FlushPending(ctx)
		report.Sales = flushed
		if err != nil {
			// 没写进数据库的销售仍计入 unsynced，对账结果依然正确
			logger.Ctx(ctx).Warn().Err(err).Str("run_id", report.RunID).Msg("Some pending sales could not be flushed before reconciliation")
		}
	}

	var errs []error
	err := s.variants.ForEachBatch(ctx, s.settings.BatchSize, func(batch []domain.ProductVariant) error {
		skus := make([]string, 0, len(batch))
		for _, variant := range batch {
			skus = append(skus, variant.SKU)
		}
		// 先取同步标记再重读库存，读库之后才确认写库的销售由脚本扣掉
		marks, err := s.reconciler.SyncMarks(ctx, skus)
		if err != nil {
			return err
		}
		stocks, err := s.variants.StocksBySKU(ctx, skus)
		if err != nil {
			return fmt.Errorf("read persisted stock: %w", err)
		}

		for _, sku := range skus {
			if err := ctx.Err(); err != nil {
				return err
			}
			persisted, ok := stocks[sku]
			if !ok {
				// 批次读出之后被删除
				continue
			}
			report.Checked++
			out, err := s.reconciler.Reconcile(ctx, sku, persisted, marks[sku])
			if err != nil {
				report.Failed++
				if errors.Is(err, domain.ErrStoreUnavailable) {
					return err
				}
				errs = append(errs, fmt.Errorf("sku %s: %w", sku, err))
				continue
			}
			if out.Changed() {
				report.Discrepancies++
				s.recordDiscrepancy(ctx, report.RunID, out)
			}
		}
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}

	span.SetAttributes(
		attribute.Int("checked", report.Checked),
		attribute.Int("discrepancies", report.Discrepancies),
	)
	logger.Ctx(ctx).Info().Str("run_id", report.RunID).Int("checked", report.Checked).
		Int("discrepancies", report.Discrepancies).Int("failed", report.Failed).
		Int("sales_flushed", report.Sales.Persisted).Msg("Stock reconciliation finished")

	if joined := errors.Join(errs...); joined != nil {
		span.RecordError(joined)
		span.SetStatus(codes.Error, "reconciliation incomplete")
		return report, joined
	}
	return report, nil
}

// recordDiscrepancy 记录、审计并发布一次缓存修正。审计或发布失败只记日志
func (s *Sweeper) recordDiscrepancy(ctx context.Context, runID string, out domain.ReconcileOutcome) {
	event := domain.StockDiscrepancyDetected{
		EventID:    uuid.NewString(),
		RunID:      runID,
		SKU:        out.SKU,
		Old:        out.Old,
		New:        out.New,
		Delta:      out.Delta(),
		Persisted:  out.Persisted,
		Held:       out.Held,
		Unsynced:   out.Unsynced,
		DetectedAt: s.now().UTC(),
	}

	logger.Ctx(ctx).Warn().Str("run_id", runID).Str("sku", out.SKU).
		Int64("old", out.Old).Int64("new", out.New).Int64("delta", event.Delta).
		Int64("persisted", out.Persisted).Int64("held", out.Held).Int64("unsynced", out.Unsynced).
		Int64("synced_after_read", out.SyncedAfterRead).Msg("Stock discrepancy corrected")

	s.metrics.DiscrepancyDetected()
	s.observers.StockChanged(ctx, domain.StockChanged{
		SKU: out.SKU, Stock: out.New, State: domain.StateCorrected, At: event.DetectedAt,
	})

	if s.audits != nil {
		if err := s.audits.SaveDiscrepancy(ctx, event); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("sku", out.SKU).Str("event_id", event.EventID).Msg("Failed to save discrepancy audit")
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishDiscrepancy(ctx, event); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("sku", out.SKU).Str("event_id", event.EventID).Msg("Failed to publish discrepancy event")
		}
	}
}

// Discrepancies 返回最近的对账差异，sku 为空时返回全部
func (s *Sweeper) Discrepancies(ctx context.Context, sku string, limit int) ([]domain.StockDiscrepancyDetected, error) {
	if s.audits == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.audits.ListDiscrepancies(ctx, sku, limit)
}

// TriggerReconcile 由运维接口调用，立即执行一次对账
func (s *Sweeper) TriggerReconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	err := s.withLock(ctx, reconcileJob, func(ctx context.Context) error {
		var err error
		report, err = s.Reconcile(ctx)
		return err
	})
	return report, err
}

// TriggerSweep 由运维接口调用，立即执行一次过期补偿
func (s *Sweeper) TriggerSweep(ctx context.Context) (CompensationReport, error) {
	var report CompensationReport
	err := s.withLock(ctx, expirySweepJob, func(ctx context.Context) error {
		var err error
		report, err = s.CompensateExpired(ctx)
		return err
	})
	return report, err
}

// withLock 拿不到锁时返回 ErrJobInProgress，不执行 fn
func (s *Sweeper) withLock(ctx context.Context, job string, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	release, acquired, err := s.locker.TryAcquire(ctx, job, s.settings.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire %s lock: %w", job, err)
	}
	if !acquired {
		return ErrJobInProgress
	}
	defer func() {
		// ctx 可能已经取消，释放锁用独立的 context
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("job", job).Msg("Failed to release job lock")
		}
	}()
	return fn(ctx)
}

// Run 启动三个定时任务，直到 ctx 被取消
func (s *Sweeper) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().
		Dur("expiry_interval", s.settings.ExpiryInterval).
		Dur("reconcile_interval", s.settings.ReconcileInterval).
		Dur("sales_flush_interval", s.settings.SalesFlushInterval).
		Msg("Inventory sweeper started")

	expiry := newTicker(s.settings.ExpiryInterval)
	defer expiry.Stop()
	reconcile := newTicker(s.settings.ReconcileInterval)
	defer reconcile.Stop()
	flush := newTicker(s.settings.SalesFlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("Inventory sweeper stopped")
			return nil
		case <-expiry.C:
			s.runJob(ctx, expirySweepJob, func(ctx context.Context) error {
				_, err := s.CompensateExpired(ctx)
				return err
			})
		case <-reconcile.C:
			s.runJob(ctx, reconcileJob, func(ctx context.Context) error {
				_, err := s.Reconcile(ctx)
				return err
			})
		case <-flush.C:
			if s.sales == nil {
				continue
			}
			s.runJob(ctx, salesFlushJob, func(ctx context.Context) error {
				_, err := s.sales.FlushPending(ctx)
				return err
			})
		}
	}
}

func (s *Sweeper) runJob(ctx context.Context, job string, fn func(ctx context.Context) error) {
	err := s.withLock(ctx, job, fn)
	switch {
	case err == nil:
	case errors.Is(err, ErrJobInProgress):
		logger.Ctx(ctx).Debug().Str("job", job).Msg("Job is running elsewhere, skipping this tick")
	case errors.Is(err, context.Canceled):
	default:
		logger.Ctx(ctx).Error().Err(err).Str("job", job).Msg("Background job failed")
	}
}

// newTicker 对未配置的任务返回一个永不触发的 ticker
func newTicker(interval time.Duration) *time.Ticker {
	if interval <= 0 {
		t := time.NewTicker(time.Hour)
		t.Stop()
		return t
	}
	return time.NewTicker(interval)
}
