package application

import (
	"context"
	"errors"

	"nexus-inventory/internal/pkg/logger"
	"nexus-inventory/internal/service/inventory/domain"
)

// SaleRecorder 把快存储中已确认的销售写入记录库。
// 写库成功后才从待持久化队列中移除，失败的销售留在队列中等待下一次 FlushPending。
type SaleRecorder struct {
	queue    domain.SaleQueue
	variants domain.VariantRepository
	metrics  MetricsRecorder
}

func NewSaleRecorder(queue domain.SaleQueue, variants domain.VariantRepository, metrics MetricsRecorder) *SaleRecorder {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &SaleRecorder{queue: queue, variants: variants, metrics: metrics}
}

// FlushReport 是一次批量写库的结果
type FlushReport struct {
	Pending   int `json:"pending"`
	Persisted int `json:"persisted"`
	Duplicate int `json:"duplicate"`
	Failed    int `json:"failed"`
}

// Persist 写入一笔销售并确认。同一 saleID 多次调用只会扣减一次数据库库存
func (r *SaleRecorder) Persist(ctx context.Context, sale domain.Sale) (applied bool, err error) {
	applied, err = r.variants.RecordSale(ctx, sale)
	if err != nil {
		return false, err
	}
	if _, err := r.queue.AckSale(ctx, sale); err != nil {
		// 数据库已经扣减，下次 flush 会得到 applied=false 并重新确认
		return applied, err
	}
	return applied, nil
}

// FlushPending 重试所有待持久化的销售
func (r *SaleRecorder) FlushPending(ctx context.Context) (FlushReport, error) {
	var report FlushReport
	sales, err := r.queue.PendingSales(ctx)
	if err != nil {
		return report, err
	}
	report.Pending = len(sales)

	var errs []error
	for _, sale := range sales {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		applied, err := r.Persist(ctx, sale)
		if err != nil {
			report.Failed++
			errs = append(errs, err)
			logger.Ctx(ctx).Error().Err(err).
				Str("sale_id", sale.SaleID).
				Str("order_id", sale.OrderID).
				Str("sku", sale.SKU).
				Int64("qty", sale.Quantity).
				Msg("Failed to persist committed sale, will retry")
			continue
		}
		if applied {
			report.Persisted++
		} else {
			report.Duplicate++
		}
	}
	r.metrics.PendingSales(report.Failed)

	if report.Pending > 0 {
		logger.Ctx(ctx).Info().
			Int("pending", report.Pending).
			Int("persisted", report.Persisted).
			Int("duplicate", report.Duplicate).
			Int("failed", report.Failed).
			Msg("Flushed pending sales")
	}
	return report, errors.Join(errs...)
}
