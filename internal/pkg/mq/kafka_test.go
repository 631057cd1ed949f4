package mq

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func headerValue(headers []kafka.Header, key string) string {
	c := KafkaHeaderCarrier(headers)
	return c.Get(key)
}

func TestDeadLetterKeepsOriginalAndAddsContext(t *testing.T) {
	msg := kafka.Message{
		Topic:     "payment-events",
		Partition: 2,
		Offset:    42,
		Key:       []byte("O1"),
		Value:     []byte(`{"orderId":"O1"}`),
		Headers:   []kafka.Header{{Key: "traceparent", Value: []byte("x")}},
	}
	dead := DeadLetter(msg, errors.New("redis down"))

	assert.Equal(t, msg.Key, dead.Key)
	assert.Equal(t, msg.Value, dead.Value)
	assert.Empty(t, dead.Topic, "the writer decides the DLT topic")
	assert.Equal(t, "x", headerValue(dead.Headers, "traceparent"))
	assert.Equal(t, "payment-events", headerValue(dead.Headers, HeaderOriginalTopic))
	assert.Equal(t, "2", headerValue(dead.Headers, HeaderOriginalPartition))
	assert.Equal(t, "42", headerValue(dead.Headers, HeaderOriginalOffset))
	assert.Equal(t, "*errors.errorString", headerValue(dead.Headers, HeaderExceptionFqcn))
	assert.Equal(t, "redis down", headerValue(dead.Headers, HeaderExceptionMessage))
}

func TestHeaderCarrierSetReplaces(t *testing.T) {
	var c KafkaHeaderCarrier
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("a", "3")

	assert.Len(t, c, 2)
	assert.Equal(t, "3", c.Get("a"))
	assert.Equal(t, []string{"a", "b"}, c.Keys())
	assert.Equal(t, "", c.Get("missing"))
}

func TestTraceContextRoundTrip(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	// 测试中显式使用 W3C propagator，不依赖全局设置
	prop := propagation.TraceContext{}
	var headers []kafka.Header
	carrier := KafkaHeaderCarrier(headers)
	prop.Inject(ctx, &carrier)
	require.NotEmpty(t, carrier.Get("traceparent"))

	extracted := trace.SpanContextFromContext(prop.Extract(context.Background(), &carrier))
	assert.Equal(t, traceID, extracted.TraceID())
	assert.True(t, extracted.IsRemote())
}

type failingWriter struct{ err error }

func (w failingWriter) WriteMessages(context.Context, ...kafka.Message) error { return w.err }

func TestFailureHandlerReportsWriteError(t *testing.T) {
	h := NewFailureHandler(failingWriter{err: errors.New("broker unavailable")})
	err := h.Handle(context.Background(), kafka.Message{Topic: "payment-events"}, errors.New("boom"))
	assert.EqualError(t, err, "broker unavailable")

	h = NewFailureHandler(failingWriter{})
	assert.NoError(t, h.Handle(context.Background(), kafka.Message{Topic: "payment-events"}, errors.New("boom")))
}
