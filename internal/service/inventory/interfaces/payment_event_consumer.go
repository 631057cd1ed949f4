// internal/service/inventory/interfaces/payment_event_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nexus-inventory/internal/pkg/logger"
	"nexus-inventory/internal/pkg/mq"
	"nexus-inventory/internal/service/inventory/application"
	"nexus-inventory/internal/service/inventory/domain"
)

// PaymentEventHandler 由 application.ReservationService 实现
type PaymentEventHandler interface {
	HandlePaymentEvent(ctx context.Context, event *domain.PaymentEvent) (application.BatchOutcome, error)
}

// PaymentEventConsumer 是一个驱动适配器，它监听支付结果并确认或释放订单的预占。
// 处理失败的消息交给 FailureHandler 转入死信队列，确认和释放都是幂等的，重放死信是安全的。
// 只有处理成功或死信写入成功之后才提交 offset；两者都失败时退避后重新处理同一条消息。
type PaymentEventConsumer struct {
	reader         mq.MessageReader
	topic          string
	handler        PaymentEventHandler
	failureHandler *mq.FailureHandler
	retryBackoff   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

const maxRetryBackoff = 30 * time.Second

func NewPaymentEventConsumer(reader mq.MessageReader, topic string, handler PaymentEventHandler, failureHandler *mq.FailureHandler) *PaymentEventConsumer {
	return &PaymentEventConsumer{
		reader:         reader,
		topic:          topic,
		handler:        handler,
		failureHandler: failureHandler,
		retryBackoff:   time.Second,
	}
}

// Start 开始监听 Kafka 主题，立即返回
func (a *PaymentEventConsumer) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("✅ Payment event consumer started.")
		for {
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("🛑 Payment event consumer shutting down.")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Str("topic", a.topic).Msg("Could not fetch message, retrying")
				select {
				case <-time.After(time.Second): // 避免快速失败循环
				case <-ctx.Done():
					return
				}
				continue
			}

			if !a.handle(ctx, msg) {
				logger.Ctx(ctx).Info().Str("topic", a.topic).Int64("offset", msg.Offset).
					Msg("🛑 Payment event consumer shutting down before message was handled.")
				return
			}

			// 处理成功或已移交死信队列，提交 offset
			if err := a.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to commit messages")
			}
		}
	}()
	return nil
}

// handle 处理一条消息直到成功或写入死信队列。ctx 结束时返回 false，此时不能提交 offset
func (a *PaymentEventConsumer) handle(ctx context.Context, msg kafka.Message) bool {
	msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
	backoff := a.retryBackoff
	for attempt := 1; ; attempt++ {
		err := a.processMessage(msgCtx, msg)
		if err == nil {
			return true
		}
		dltErr := a.failureHandler.Handle(msgCtx, msg, err)
		if dltErr == nil {
			return true
		}
		logger.Ctx(msgCtx).Error().Err(dltErr).AnErr("cause", err).
			Str("topic", msg.Topic).Int("partition", msg.Partition).Int64("offset", msg.Offset).
			Int("attempt", attempt).Dur("backoff", backoff).
			Msg("Message neither applied nor dead-lettered, retrying without committing")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}
		if backoff *= 2; backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
}

// Stop 优雅地停止消费者
func (a *PaymentEventConsumer) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if err := a.reader.Close(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("topic", a.topic).Msg("Failed to close kafka reader")
	}
	logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("✅ Payment event consumer stopped.")
}

// processMessage 反序列化消息并调用应用服务
func (a *PaymentEventConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	ctx, span := otel.Tracer(serviceName).Start(ctx, "consumer.PaymentEvent", trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		))
	defer span.End()

	var event domain.PaymentEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed payment event")
		return fmt.Errorf("%w: malformed payment event: %v", domain.ErrInvalidArgument, err)
	}
	span.SetAttributes(
		attribute.String("order.id", event.OrderID),
		attribute.String("payment.event", string(event.Type)),
	)

	out, err := a.handler.HandlePaymentEvent(ctx, &event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to apply payment event")
		logger.Ctx(ctx).Error().Err(err).Str("event_id", event.EventID).Str("order_id", event.OrderID).
			Str("type", string(event.Type)).Msg("Failed to apply payment event")
		return err
	}

	done := 0
	for _, item := range out.Items {
		if item.Done {
			done++
		}
	}
	logger.Ctx(ctx).Info().Str("event_id", event.EventID).Str("order_id", event.OrderID).
		Str("type", string(event.Type)).Int("items", len(out.Items)).Int("applied", done).
		Msg("Payment event applied")
	return nil
}
