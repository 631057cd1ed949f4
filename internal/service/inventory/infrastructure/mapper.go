package infrastructure

import (
	"nexus-inventory/internal/service/inventory/domain"
)

// ToDomainVariant 将数据库模型转换为领域模型
func ToDomainVariant(model *ProductVariantModel) *domain.ProductVariant {
	if model == nil {
		return nil
	}
	return &domain.ProductVariant{
		SKU:       model.SKU,
		ProductID: model.ProductID,
		Stock:     model.Stock,
		UpdatedAt: model.UpdatedAt,
	}
}

// FromDomainSale 将一笔销售转换为库存流水
func FromDomainSale(sale domain.Sale) *StockMovementModel {
	return &StockMovementModel{
		SaleID:      sale.SaleID,
		OrderID:     sale.OrderID,
		SKU:         sale.SKU,
		Quantity:    sale.Quantity,
		CommittedAt: sale.CommittedAt,
	}
}

// FromDomainDiscrepancy 将对账差异转换为审计记录
func FromDomainDiscrepancy(event domain.StockDiscrepancyDetected) *ReconciliationAuditModel {
	return &ReconciliationAuditModel{
		EventID:    event.EventID,
		RunID:      event.RunID,
		SKU:        event.SKU,
		OldStock:   event.Old,
		NewStock:   event.New,
		Delta:      event.Delta,
		Persisted:  event.Persisted,
		Held:       event.Held,
		Unsynced:   event.Unsynced,
		DetectedAt: event.DetectedAt,
	}
}

// ToDomainDiscrepancy 将审计记录转换回领域事件
func ToDomainDiscrepancy(model *ReconciliationAuditModel) domain.StockDiscrepancyDetected {
	return domain.StockDiscrepancyDetected{
		EventID:    model.EventID,
		RunID:      model.RunID,
		SKU:        model.SKU,
		Old:        model.OldStock,
		New:        model.NewStock,
		Delta:      model.Delta,
		Persisted:  model.Persisted,
		Held:       model.Held,
		Unsynced:   model.Unsynced,
		DetectedAt: model.DetectedAt,
	}
}
