// internal/service/inventory/domain/repository.go
package domain

import (
	"context"
	"time"
)

// StockLedger 是按 SKU 存放的可用库存计数器（快存储中的镜像）。
// 它位于领域层，但由基础设施层实现。
type StockLedger interface {
	// GetStock 返回当前可用库存，未知 SKU 返回 0
	GetStock(ctx context.Context, sku string) (int64, error)
	// SetStock 绝对赋值，用于初始化和对账
	SetStock(ctx context.Context, sku string, qty int64) error
	// AdjustStock 原子增减，结果小于 0 时返回 ErrNegativeStock 且不做修改
	AdjustStock(ctx context.Context, sku string, delta int64) (int64, error)
}

// ReservationStore 保存带 TTL 的 (orderId, sku) 预占记录，本身不修改库存。
type ReservationStore interface {
	Put(ctx context.Context, orderID, sku string, qty int64, ttl time.Duration) error
	Get(ctx context.Context, orderID, sku string) (qty int64, found bool, err error)
	Remove(ctx context.Context, orderID, sku string) (bool, error)
	ListByOrder(ctx context.Context, orderID string) ([]Hold, error)
}

// ReservationEngine 在账本和预占记录之上提供原子的 reserve / commit / release。
// 同一 SKU 上的所有操作必须相互串行。
type ReservationEngine interface {
	Reserve(ctx context.Context, orderID, sku string, qty int64, ttl time.Duration) (ReserveResult, error)
	BatchReserve(ctx context.Context, orderID string, items []ReserveItem, ttl time.Duration) (BatchReserveResult, error)
	Release(ctx context.Context, orderID, sku string) (ReleaseResult, error)
	// Commit 删除预占但不修改账本，同时把 saleID 对应的销售放入待持久化队列
	Commit(ctx context.Context, orderID, sku, saleID string) (CommitResult, error)
}

// ExpiryIndex 是预占的二级索引，用于发现“已过期但未归还库存”的预占
type ExpiryIndex interface {
	// DueHolds 按到期时间顺序跳过前 offset 条，最多返回 limit 条
	DueHolds(ctx context.Context, now time.Time, offset, limit int64) ([]TrackedHold, error)
	CompensateExpired(ctx context.Context, hold TrackedHold) (CompensationOutcome, error)
}

// SaleQueue 是已确认、待写入数据库的销售队列
type SaleQueue interface {
	PendingSales(ctx context.Context) ([]Sale, error)
	AckSale(ctx context.Context, sale Sale) (bool, error)
}

// StockReconciler 以数据库为准修正快存储中的库存镜像
// 数据库库存的读取和缓存的修正不是原子的，读取之前先取 SyncMarks，
// 修正时据此扣除读取之后才落库的销售。
type StockReconciler interface {
	SyncMarks(ctx context.Context, skus []string) (map[string]int64, error)
	Reconcile(ctx context.Context, sku string, persisted, syncMark int64) (ReconcileOutcome, error)
}

// ProductVariant 是持久化存储中的商品规格库存
type ProductVariant struct {
	SKU       string
	ProductID string
	Stock     int64
	UpdatedAt time.Time
}

// VariantRepository 是持久化存储（记录库）中按 SKU 读写库存的接口
type VariantRepository interface {
	FindBySKU(ctx context.Context, sku string) (*ProductVariant, error)
	// SetStock 写入绝对库存，SKU 不存在时创建
	SetStock(ctx context.Context, sku string, qty int64) error
	// StocksBySKU 批量读取当前库存，不存在的 SKU 不出现在结果中
	StocksBySKU(ctx context.Context, skus []string) (map[string]int64, error)
	// ForEachBatch 分页遍历全部规格，fn 返回错误时中止
	ForEachBatch(ctx context.Context, batchSize int, fn func(batch []ProductVariant) error) error
	// RecordSale 在一个事务中写入销售流水并扣减库存；saleID 重复时返回 applied=false
	RecordSale(ctx context.Context, sale Sale) (applied bool, err error)
}

// AuditRepository 保存对账差异，供人工审计
type AuditRepository interface {
	SaveDiscrepancy(ctx context.Context, event StockDiscrepancyDetected) error
	ListDiscrepancies(ctx context.Context, sku string, limit int) ([]StockDiscrepancyDetected, error)
}

// DiscrepancyPublisher 把对账差异发布给外部（Kafka）
type DiscrepancyPublisher interface {
	PublishDiscrepancy(ctx context.Context, event StockDiscrepancyDetected) error
}

// StockObserver 接收库存变化通知，实现方不得阻塞调用方
type StockObserver interface {
	StockChanged(ctx context.Context, change StockChanged)
}

// StockObservers 把通知分发给多个观察者
type StockObservers []StockObserver

func (o StockObservers) StockChanged(ctx context.Context, change StockChanged) {
	for _, observer := range o {
		observer.StockChanged(ctx, change)
	}
}

// Locker 是跨进程的任务锁，保证同一时刻只有一个 Sweeper 实例执行某项任务。
// 拿不到锁时返回 acquired=false 且 err=nil。
type Locker interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}
