package infrastructure

import (
	"context"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nexus-inventory/internal/service/inventory/domain"
)

const mysqlDuplicateEntry = 1062

// GormVariantRepository 是 VariantRepository 的 GORM 实现
type GormVariantRepository struct {
	db *gorm.DB
}

// NewGormVariantRepository 创建一个新的 GORM 仓储实例
func NewGormVariantRepository(db *gorm.DB) *GormVariantRepository {
	return &GormVariantRepository{db: db}
}

// FindBySKU 按 SKU 查询规格库存
func (r *GormVariantRepository) FindBySKU(ctx context.Context, sku string) (*domain.ProductVariant, error) {
	var model ProductVariantModel
	err := r.db.WithContext(ctx).Where("sku = ?", sku).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrVariantNotFound
		}
		return nil, domain.NewStoreError("find variant", errors.Wrapf(err, "sku %s", sku))
	}
	return ToDomainVariant(&model), nil
}

// SetStock 写入绝对库存，SKU 不存在时插入
func (r *GormVariantRepository) SetStock(ctx context.Context, sku string, qty int64) error {
	model := ProductVariantModel{SKU: sku, Stock: qty}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sku"}},
		DoUpdates: clause.AssignmentColumns([]string{"stock", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return domain.NewStoreError("set variant stock", errors.Wrapf(err, "sku %s", sku))
	}
	return nil
}

// StocksBySKU 一次查询读取多个 SKU 的当前库存
func (r *GormVariantRepository) StocksBySKU(ctx context.Context, skus []string) (map[string]int64, error) {
	stocks := make(map[string]int64, len(skus))
	if len(skus) == 0 {
		return stocks, nil
	}
	var models []ProductVariantModel
	err := r.db.WithContext(ctx).Select("sku", "stock").Where("sku IN ?", skus).Find(&models).Error
	if err != nil {
		return nil, domain.NewStoreError("load variant stocks", errors.Wrapf(err, "%d skus", len(skus)))
	}
	for _, m := range models {
		stocks[m.SKU] = m.Stock
	}
	return stocks, nil
}

// ForEachBatch 按主键分页遍历全部规格，FindInBatches 内部按主键排序
func (r *GormVariantRepository) ForEachBatch(ctx context.Context, batchSize int, fn func(batch []domain.ProductVariant) error) error {
	var models []ProductVariantModel
	var fnErr error
	result := r.db.WithContext(ctx).FindInBatches(&models, batchSize, func(tx *gorm.DB, _ int) error {
		batch := make([]domain.ProductVariant, 0, len(models))
		for i := range models {
			batch = append(batch, *ToDomainVariant(&models[i]))
		}
		if err := fn(batch); err != nil {
			fnErr = err
			return err
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	if result.Error != nil {
		return domain.NewStoreError("scan variants", errors.Wrap(result.Error, "find in batches"))
	}
	return nil
}

// RecordSale 在一个事务内写入销售流水并扣减库存。
// sale_id 已存在说明这笔销售已经写过，返回 applied=false。
func (r *GormVariantRepository) RecordSale(ctx context.Context, sale domain.Sale) (bool, error) {
	errAlreadyApplied := errors.New("sale already applied")

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(FromDomainSale(sale)).Error; err != nil {
			if isDuplicateKey(err) {
				return errAlreadyApplied
			}
			return errors.Wrapf(err, "insert movement for sale %s", sale.SaleID)
		}

		res := tx.Model(&ProductVariantModel{}).
			Where("sku = ?", sale.SKU).
			Update("stock", gorm.Expr("stock - ?", sale.Quantity))
		if res.Error != nil {
			return errors.Wrapf(res.Error, "decrement stock for sku %s", sale.SKU)
		}
		if res.RowsAffected == 0 {
			return domain.ErrVariantNotFound
		}
		return nil
	})

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errAlreadyApplied):
		return false, nil
	case errors.Is(err, domain.ErrVariantNotFound):
		return false, errors.Wrapf(err, "sale %s sku %s", sale.SaleID, sale.SKU)
	default:
		return false, domain.NewStoreError("record sale", err)
	}
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *gomysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

// GormAuditRepository 是 AuditRepository 的 GORM 实现
type GormAuditRepository struct {
	db *gorm.DB
}

func NewGormAuditRepository(db *gorm.DB) *GormAuditRepository {
	return &GormAuditRepository{db: db}
}

// SaveDiscrepancy 写入一条对账审计记录，同一事件重复写入时忽略
func (r *GormAuditRepository) SaveDiscrepancy(ctx context.Context, event domain.StockDiscrepancyDetected) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(FromDomainDiscrepancy(event)).Error
	if err != nil {
		return domain.NewStoreError("save discrepancy", errors.Wrapf(err, "sku %s", event.SKU))
	}
	return nil
}

// ListDiscrepancies 按时间倒序返回某个 SKU 的对账记录，sku 为空时返回全部
func (r *GormAuditRepository) ListDiscrepancies(ctx context.Context, sku string, limit int) ([]domain.StockDiscrepancyDetected, error) {
	q := r.db.WithContext(ctx).Order("detected_at desc, id desc").Limit(limit)
	if sku != "" {
		q = q.Where("sku = ?", sku)
	}
	var models []ReconciliationAuditModel
	if err := q.Find(&models).Error; err != nil {
		return nil, domain.NewStoreError("list discrepancies", err)
	}
	out := make([]domain.StockDiscrepancyDetected, 0, len(models))
	for i := range models {
		out = append(out, ToDomainDiscrepancy(&models[i]))
	}
	return out, nil
}
