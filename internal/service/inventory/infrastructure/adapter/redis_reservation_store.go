package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"nexus-inventory/internal/pkg/redis"
	"nexus-inventory/internal/service/inventory/domain"
)

// RedisReservationStore 是 domain.ReservationStore 的 Redis 实现。
// 它只维护预占记录和索引，不修改账本，调用方需要自己调整库存。
type RedisReservationStore struct {
	redisClient *redis.Client
	now         func() time.Time
}

func NewRedisReservationStore(redisClient *redis.Client, opts ...Option) *RedisReservationStore {
	return &RedisReservationStore{redisClient: redisClient, now: newSettings(opts).now}
}

// Put 写入一条新的预占，已存在时返回 ErrReservationExists
func (s *RedisReservationStore) Put(ctx context.Context, orderID, sku string, qty int64, ttl time.Duration) error {
	if orderID == "" || sku == "" || qty <= 0 || ttl <= 0 {
		return fmt.Errorf("%w: order=%q sku=%q qty=%d ttl=%s", domain.ErrInvalidArgument, orderID, sku, qty, ttl)
	}
	hold := newTrackedHold(orderID, sku, qty, s.now(), ttl)
	entry, err := encodeTrackedHold(hold)
	if err != nil {
		return err
	}

	keys := []string{hold.Key, trackerKey, expiryIndexKey, heldKey(sku), orderHoldsKey(orderID)}
	result, err := s.redisClient.RunScript(ctx, putHoldScriptName, keys,
		qty, ttl.Milliseconds(), hold.ExpiresAt.UnixMilli(), entry)
	if err != nil {
		return storeError("put reservation", err)
	}
	if code, ok := result.(int64); ok && code == 0 {
		return fmt.Errorf("%w: order %s sku %s", domain.ErrReservationExists, orderID, sku)
	}
	return nil
}

func (s *RedisReservationStore) Get(ctx context.Context, orderID, sku string) (int64, bool, error) {
	val, err := s.redisClient.GetClient().Get(ctx, reservationKey(orderID, sku)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storeError("get reservation", err)
	}
	qty, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupted reservation value %q: %w", val, err)
	}
	return qty, true, nil
}

// Remove 删除一条仍然有效的预占，返回是否真的删除了
func (s *RedisReservationStore) Remove(ctx context.Context, orderID, sku string) (bool, error) {
	keys := []string{reservationKey(orderID, sku), trackerKey, expiryIndexKey, heldKey(sku), orderHoldsKey(orderID)}
	result, err := s.redisClient.RunScript(ctx, removeHoldScriptName, keys)
	if err != nil {
		return false, storeError("remove reservation", err)
	}
	code, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result type from Lua script: %T", result)
	}
	return code == 1, nil
}

// ListByOrder 列出订单下仍然有效的预占，只读取该订单的预占集合。
// 集合成员以索引中的 orderId 为准再过滤一次。
func (s *RedisReservationStore) ListByOrder(ctx context.Context, orderID string) ([]domain.Hold, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: empty order id", domain.ErrInvalidArgument)
	}
	rdb := s.redisClient.GetClient()

	keys, err := rdb.SMembers(ctx, orderHoldsKey(orderID)).Result()
	if err != nil {
		return nil, storeError("load order holds", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	entries, err := rdb.HMGet(ctx, trackerKey, keys...).Result()
	if err != nil {
		return nil, storeError("load tracker entries", err)
	}

	type pending struct {
		hold domain.TrackedHold
		pttl interface{ Val() time.Duration }
	}
	pipe := rdb.Pipeline()
	var live []pending
	for i, key := range keys {
		raw, ok := entries[i].(string)
		if !ok {
			continue
		}
		h, err := decodeTrackedHold(key, raw)
		if err != nil || h.OrderID != orderID {
			continue
		}
		live = append(live, pending{hold: h, pttl: pipe.PTTL(ctx, key)})
	}
	if len(live) == 0 {
		return nil, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, storeError("load reservation ttl", err)
	}

	holds := make([]domain.Hold, 0, len(live))
	for _, p := range live {
		// 负值表示 key 已过期，等待 Sweeper 补偿
		remaining := p.pttl.Val()
		if remaining <= 0 {
			continue
		}
		holds = append(holds, domain.Hold{
			OrderID:   p.hold.OrderID,
			SKU:       p.hold.SKU,
			Quantity:  p.hold.Quantity,
			CreatedAt: p.hold.CreatedAt,
			TTL:       p.hold.ExpiresAt.Sub(p.hold.CreatedAt),
			Remaining: remaining,
		})
	}
	sort.Slice(holds, func(i, j int) bool { return holds[i].SKU < holds[j].SKU })
	return holds, nil
}
