package infrastructure

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"nexus-inventory/internal/pkg/logger"
	"nexus-inventory/internal/pkg/mq"
	"nexus-inventory/internal/service/inventory/domain"
)

// DiscrepancyProducerAdapter 把对账差异发布到 Kafka，供审计和告警系统订阅
type DiscrepancyProducerAdapter struct {
	writer *kafka.Writer
}

func NewDiscrepancyProducerAdapter(writer *kafka.Writer) *DiscrepancyProducerAdapter {
	return &DiscrepancyProducerAdapter{writer: writer}
}

func (p *DiscrepancyProducerAdapter) PublishDiscrepancy(ctx context.Context, event domain.StockDiscrepancyDetected) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("sku", event.SKU).Msg("Failed to marshal stock discrepancy event")
		return err
	}

	if err := mq.ProduceMessage(ctx, p.writer, []byte(event.SKU), eventBytes); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("sku", event.SKU).Msg("Failed to produce stock discrepancy event")
		return err
	}
	return nil
}
