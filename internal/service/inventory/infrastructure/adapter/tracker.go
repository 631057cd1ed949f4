package adapter

import (
	"encoding/json"
	"fmt"
	"time"

	"nexus-inventory/internal/service/inventory/domain"
)

// newTrackedHold 构造索引记录。时间统一截断到毫秒，与 zset 分数保持一致。
func newTrackedHold(orderID, sku string, qty int64, now time.Time, ttl time.Duration) domain.TrackedHold {
	now = now.UTC().Truncate(time.Millisecond)
	return domain.TrackedHold{
		Key:       reservationKey(orderID, sku),
		OrderID:   orderID,
		SKU:       sku,
		Quantity:  qty,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func encodeTrackedHold(h domain.TrackedHold) (string, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tracked hold %s: %w", h.Key, err)
	}
	return string(data), nil
}

func decodeTrackedHold(key, raw string) (domain.TrackedHold, error) {
	var h domain.TrackedHold
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return h, fmt.Errorf("corrupted tracker entry for %s: %w", key, err)
	}
	h.Key = key
	return h, nil
}

func decodeSale(saleID, raw string) (domain.Sale, error) {
	var sale domain.Sale
	if err := json.Unmarshal([]byte(raw), &sale); err != nil {
		return sale, fmt.Errorf("corrupted pending sale %s: %w", saleID, err)
	}
	sale.SaleID = saleID
	return sale, nil
}
