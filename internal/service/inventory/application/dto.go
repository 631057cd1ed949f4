// internal/service/inventory/application/dto.go
package application

import (
	"math"
	"time"

	"nexus-inventory/internal/service/inventory/domain"
)

// ReserveRequest 是单个 SKU 预占用例的输入。TTLSeconds 为 0 时使用默认 TTL
type ReserveRequest struct {
	OrderID    string `json:"orderId"`
	SKU        string `json:"sku"`
	Quantity   int64  `json:"qty"`
	TTLSeconds int64  `json:"ttlSeconds,omitempty"`
}

// BatchReserveRequest 是一个订单多个 SKU 的预占请求，要么全部成功，要么全部不生效
type BatchReserveRequest struct {
	OrderID    string               `json:"orderId"`
	Items      []domain.ReserveItem `json:"items"`
	TTLSeconds int64                `json:"ttlSeconds,omitempty"`
}

// HoldRequest 用于释放或确认单个 SKU 的预占
type HoldRequest struct {
	OrderID string `json:"orderId"`
	SKU     string `json:"sku"`
}

// OrderRequest 用于批量释放或确认一个订单下的多个 SKU
type OrderRequest struct {
	OrderID string   `json:"orderId"`
	SKUs    []string `json:"skus"`
}

// BatchOutcome 是批量释放 / 确认的输出
type BatchOutcome struct {
	OrderID string               `json:"orderId"`
	Items   []domain.ItemOutcome `json:"items"`
}

// SeedStockRequest 由运营人员初始化或盘点后重置某个 SKU 的库存
type SeedStockRequest struct {
	SKU      string `json:"sku"`
	Quantity int64  `json:"qty"`
}

// SeedStockResponse 返回写入后的数据库库存和快存储中的可用库存
type SeedStockResponse struct {
	SKU       string `json:"sku"`
	Persisted int64  `json:"persisted"`
	Available int64  `json:"available"`
	Held      int64  `json:"held"`
	Unsynced  int64  `json:"unsynced"`
}

// StockResponse 是查询库存的输出
type StockResponse struct {
	SKU   string `json:"sku"`
	Stock int64  `json:"stock"`
}

// ttlFromSeconds 超出 time.Duration 范围时取边界值，不能回绕成一个很短的合法 TTL
func ttlFromSeconds(seconds int64) time.Duration {
	const maxSeconds = math.MaxInt64 / int64(time.Second)
	switch {
	case seconds > maxSeconds:
		return math.MaxInt64
	case seconds < -maxSeconds:
		return math.MinInt64
	}
	return time.Duration(seconds) * time.Second
}
