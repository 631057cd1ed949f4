package infrastructure

import (
	"time"
)

// ProductVariantModel 对应数据库中的 product_variants 表，是库存的权威数据
type ProductVariantModel struct {
	ID        uint   `gorm:"primaryKey"`
	SKU       string `gorm:"column:sku;size:64;uniqueIndex"`
	ProductID string `gorm:"size:64;index"`
	Stock     int64  `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 指定 GORM 应该使用的表名
func (ProductVariantModel) TableName() string {
	return "product_variants"
}

// StockMovementModel 对应 stock_movements 表。
// 每笔已确认的销售写入一行，sale_id 唯一，保证重复写入不会重复扣减。
type StockMovementModel struct {
	ID          uint   `gorm:"primaryKey"`
	SaleID      string `gorm:"size:64;uniqueIndex"`
	OrderID     string `gorm:"size:64;index"`
	SKU         string `gorm:"column:sku;size:64;index"`
	Quantity    int64
	CommittedAt time.Time
	CreatedAt   time.Time
}

// TableName 指定 GORM 应该使用的表名
func (StockMovementModel) TableName() string {
	return "stock_movements"
}

// ReconciliationAuditModel 对应 stock_reconciliation_audits 表，记录每一次对账修正
type ReconciliationAuditModel struct {
	ID         uint   `gorm:"primaryKey"`
	EventID    string `gorm:"size:64;uniqueIndex"`
	RunID      string `gorm:"size:64;index"`
	SKU        string `gorm:"column:sku;size:64;index"`
	OldStock   int64
	NewStock   int64
	Delta      int64
	Persisted  int64
	Held       int64
	Unsynced   int64
	DetectedAt time.Time
}

// TableName 指定 GORM 应该使用的表名
func (ReconciliationAuditModel) TableName() string {
	return "stock_reconciliation_audits"
}
