package adapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"nexus-inventory/internal/pkg/redis"
	"nexus-inventory/internal/service/inventory/domain"
)

// RedisStockLedger 是 domain.StockLedger 的 Redis 实现，每个 SKU 一个整数 key。
type RedisStockLedger struct {
	redisClient *redis.Client
}

// NewRedisStockLedger 创建账本适配器，脚本需要事先通过 LoadScripts 加载。
func NewRedisStockLedger(redisClient *redis.Client) *RedisStockLedger {
	return &RedisStockLedger{redisClient: redisClient}
}

func (l *RedisStockLedger) GetStock(ctx context.Context, sku string) (int64, error) {
	if sku == "" {
		return 0, fmt.Errorf("%w: empty sku", domain.ErrInvalidArgument)
	}
	val, err := l.redisClient.GetClient().Get(ctx, stockKey(sku)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, storeError("get stock", err)
	}
	stock, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupted stock value %q for sku %s: %w", val, sku, err)
	}
	return stock, nil
}

func (l *RedisStockLedger) SetStock(ctx context.Context, sku string, qty int64) error {
	if sku == "" || qty < 0 {
		return fmt.Errorf("%w: sku=%q qty=%d", domain.ErrInvalidArgument, sku, qty)
	}
	if err := l.redisClient.GetClient().Set(ctx, stockKey(sku), qty, 0).Err(); err != nil {
		return storeError("set stock", err)
	}
	return nil
}

func (l *RedisStockLedger) AdjustStock(ctx context.Context, sku string, delta int64) (int64, error) {
	if sku == "" {
		return 0, fmt.Errorf("%w: empty sku", domain.ErrInvalidArgument)
	}
	result, err := l.redisClient.RunScript(ctx, adjustScriptName, []string{stockKey(sku)}, delta)
	if err != nil {
		return 0, storeError("adjust stock", err)
	}
	values, err := int64s(result, 2)
	if err != nil {
		return 0, err
	}
	if values[0] == 0 {
		return values[1], fmt.Errorf("%w: sku %s has %d, delta %d", domain.ErrNegativeStock, sku, values[1], delta)
	}
	return values[1], nil
}
