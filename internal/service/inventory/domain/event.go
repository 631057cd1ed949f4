// internal/service/inventory/domain/event.go
package domain

import (
	"fmt"
	"time"
)

// PaymentEventType 是支付网关 / 订单服务发来的事件类型
type PaymentEventType string

const (
	PaymentSucceeded PaymentEventType = "payment_succeeded"
	PaymentFailed    PaymentEventType = "payment_failed"
	OrderCancelled   PaymentEventType = "order_cancelled"
)

// PaymentEvent 驱动预占的确认或释放
type PaymentEvent struct {
	EventID    string           `json:"eventId"`
	TraceID    string           `json:"traceId,omitempty"`
	Type       PaymentEventType `json:"type"`
	OrderID    string           `json:"orderId"`
	SKUs       []string         `json:"skus"`
	OccurredAt time.Time        `json:"occurredAt"`
}

// Validate 校验事件的必填字段，未知类型同样视为非法
func (e *PaymentEvent) Validate() error {
	if e.OrderID == "" || len(e.SKUs) == 0 {
		return fmt.Errorf("%w: payment event %s missing orderId or skus", ErrInvalidArgument, e.EventID)
	}
	switch e.Type {
	case PaymentSucceeded, PaymentFailed, OrderCancelled:
		return nil
	default:
		return fmt.Errorf("%w: unknown payment event type %q", ErrInvalidArgument, e.Type)
	}
}

// StockDiscrepancyDetected 在对账发现缓存与数据库不一致时发布，供审计使用
type StockDiscrepancyDetected struct {
	EventID    string    `json:"eventId"`
	RunID      string    `json:"runId"`
	SKU        string    `json:"sku"`
	Old        int64     `json:"old"`
	New        int64     `json:"new"`
	Delta      int64     `json:"delta"`
	Persisted  int64     `json:"persisted"`
	Held       int64     `json:"held"`
	Unsynced   int64     `json:"unsynced"`
	DetectedAt time.Time `json:"detectedAt"`
}

// StockChanged 是推送给监控（Prometheus / websocket）的库存变化
type StockChanged struct {
	SKU     string           `json:"sku"`
	Stock   int64            `json:"stock"`
	OrderID string           `json:"orderId,omitempty"`
	State   ReservationState `json:"state"`
	At      time.Time        `json:"at"`
}
