// internal/pkg/mq/failure_handler.go
package mq

import (
	"context"

	"github.com/segmentio/kafka-go"

	"nexus-inventory/internal/pkg/logger"
)

// MessageWriter 是 *kafka.Writer 满足的写接口
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// MessageReader 是 *kafka.Reader 满足的消费接口，offset 由调用方手动提交
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// FailureHandler 把处理失败的消息转发到死信队列，原消息的 offset 照常提交
type FailureHandler struct {
	dlt MessageWriter
}

func NewFailureHandler(dlt MessageWriter) *FailureHandler {
	return &FailureHandler{dlt: dlt}
}

// Handle 写死信失败时只记录日志，返回 error 供调用方决定是否停止提交 offset
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) error {
	dead := DeadLetter(msg, cause)
	InjectTraceContext(ctx, &dead.Headers)

	if err := h.dlt.WriteMessages(ctx, dead); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("topic", msg.Topic).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			AnErr("cause", cause).
			Msg("Failed to forward message to dead letter topic")
		return err
	}
	logger.Ctx(ctx).Warn().
		Str("topic", msg.Topic).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Err(cause).
		Msg("Message forwarded to dead letter topic")
	return nil
}
