package adapter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"nexus-inventory/internal/pkg/redis"
	"nexus-inventory/internal/service/inventory/domain"

	goredis "github.com/redis/go-redis/v9"
)

// RedisReservationEngine 用 Lua 脚本实现预占的原子操作。
// 同时实现了 domain.ReservationEngine、domain.ExpiryIndex、domain.SaleQueue 和 domain.StockReconciler，
// 这些操作共享同一组 key，必须在同一个 redis 上执行。
type RedisReservationEngine struct {
	redisClient *redis.Client
	now         func() time.Time
}

// NewRedisReservationEngine 创建预占引擎，并在创建时加载所有需要的 Lua 脚本。
func NewRedisReservationEngine(redisClient *redis.Client, opts ...Option) (*RedisReservationEngine, error) {
	if err := LoadScripts(redisClient); err != nil {
		return nil, err
	}
	return &RedisReservationEngine{
		redisClient: redisClient,
		now:         newSettings(opts).now,
	}, nil
}

func validateHold(orderID, sku string, qty int64, ttl time.Duration) error {
	if orderID == "" || sku == "" || qty <= 0 || ttl <= 0 {
		return fmt.Errorf("%w: order=%q sku=%q qty=%d ttl=%s", domain.ErrInvalidArgument, orderID, sku, qty, ttl)
	}
	return nil
}

func (e *RedisReservationEngine) Reserve(ctx context.Context, orderID, sku string, qty int64, ttl time.Duration) (domain.ReserveResult, error) {
	res := domain.ReserveResult{OrderID: orderID, SKU: sku, Requested: qty}
	if err := validateHold(orderID, sku, qty, ttl); err != nil {
		return res, err
	}

	hold := newTrackedHold(orderID, sku, qty, e.now(), ttl)
	entry, err := encodeTrackedHold(hold)
	if err != nil {
		return res, err
	}

	keys := []string{stockKey(sku), heldKey(sku), hold.Key, trackerKey, expiryIndexKey, orderHoldsKey(orderID)}
	result, err := e.redisClient.RunScript(ctx, reserveScriptName, keys,
		qty, ttl.Milliseconds(), hold.ExpiresAt.UnixMilli(), entry)
	if err != nil {
		return res, storeError("reserve", err)
	}
	values, err := int64s(result, 2)
	if err != nil {
		return res, err
	}

	res.Stock = values[1]
	switch values[0] {
	case 1:
		res.Reserved = true
		res.ExpiresAt = hold.ExpiresAt
	case 0:
		res.Reason = domain.ReasonInsufficientStock
	case -1:
		res.Reason = domain.ReasonAlreadyReserved
	default:
		return res, fmt.Errorf("unknown result code from reserve script: %d", values[0])
	}
	return res, nil
}

// BatchReserve 在一个脚本内先检查全部 SKU 再统一扣减，任何一个失败则全部不生效
func (e *RedisReservationEngine) BatchReserve(ctx context.Context, orderID string, items []domain.ReserveItem, ttl time.Duration) (domain.BatchReserveResult, error) {
	res := domain.BatchReserveResult{OrderID: orderID}
	if orderID == "" || len(items) == 0 || ttl <= 0 {
		return res, fmt.Errorf("%w: batch reserve needs an order id, items and a positive ttl", domain.ErrInvalidArgument)
	}

	now := e.now()
	seen := make(map[string]struct{}, len(items))
	keys := make([]string, 0, 3+3*len(items))
	keys = append(keys, trackerKey, expiryIndexKey, orderHoldsKey(orderID))
	var expiresAt time.Time
	args := make([]interface{}, 0, 2+2*len(items))
	var entryArgs []interface{}
	for _, item := range items {
		if err := validateHold(orderID, item.SKU, item.Quantity, ttl); err != nil {
			return res, err
		}
		if _, dup := seen[item.SKU]; dup {
			return res, fmt.Errorf("%w: duplicate sku %s in batch", domain.ErrInvalidArgument, item.SKU)
		}
		seen[item.SKU] = struct{}{}

		hold := newTrackedHold(orderID, item.SKU, item.Quantity, now, ttl)
		entry, err := encodeTrackedHold(hold)
		if err != nil {
			return res, err
		}
		expiresAt = hold.ExpiresAt
		keys = append(keys, stockKey(item.SKU), heldKey(item.SKU), hold.Key)
		entryArgs = append(entryArgs, item.Quantity, entry)
	}
	args = append(args, ttl.Milliseconds(), expiresAt.UnixMilli())
	args = append(args, entryArgs...)

	result, err := e.redisClient.RunScript(ctx, batchReserveScriptName, keys, args...)
	if err != nil {
		return res, storeError("batch reserve", err)
	}
	values, err := int64s(result, 1+2*len(items))
	if err != nil {
		return res, err
	}

	res.AllReserved = values[0] == 1
	res.Items = make([]domain.BatchItemResult, len(items))
	for i, item := range items {
		status, stock := values[1+2*i], values[2+2*i]
		line := domain.BatchItemResult{SKU: item.SKU, Requested: item.Quantity, Available: stock}
		switch status {
		case 1:
			line.Reserved = res.AllReserved
		case 0:
			line.Reason = domain.ReasonInsufficientStock
		case -1:
			line.Reason = domain.ReasonAlreadyReserved
		default:
			return res, fmt.Errorf("unknown result code from batch reserve script: %d", status)
		}
		res.Items[i] = line
	}
	if res.AllReserved {
		res.ExpiresAt = expiresAt
	}
	return res, nil
}

// Release 归还预占的库存。预占不存在时 Released=false，属于幂等的空操作
func (e *RedisReservationEngine) Release(ctx context.Context, orderID, sku string) (domain.ReleaseResult, error) {
	res := domain.ReleaseResult{OrderID: orderID, SKU: sku}
	if orderID == "" || sku == "" {
		return res, fmt.Errorf("%w: order=%q sku=%q", domain.ErrInvalidArgument, orderID, sku)
	}

	keys := []string{stockKey(sku), heldKey(sku), reservationKey(orderID, sku), trackerKey, expiryIndexKey, orderHoldsKey(orderID)}
	result, err := e.redisClient.RunScript(ctx, releaseScriptName, keys)
	if err != nil {
		return res, storeError("release", err)
	}
	values, err := int64s(result, 3)
	if err != nil {
		return res, err
	}
	res.Released = values[0] == 1
	res.Quantity = values[1]
	res.Stock = values[2]
	return res, nil
}

// Commit 把预占转为销售：删除预占，账本不变，并把销售放入待持久化队列
func (e *RedisReservationEngine) Commit(ctx context.Context, orderID, sku, saleID string) (domain.CommitResult, error) {
	res := domain.CommitResult{OrderID: orderID, SKU: sku}
	if orderID == "" || sku == "" || saleID == "" {
		return res, fmt.Errorf("%w: order=%q sku=%q sale=%q", domain.ErrInvalidArgument, orderID, sku, saleID)
	}

	keys := []string{
		stockKey(sku), heldKey(sku), reservationKey(orderID, sku), trackerKey, expiryIndexKey,
		orderHoldsKey(orderID), unsyncedKey(sku), pendingSalesKey,
	}
	committedAt := e.now().UTC().Format(time.RFC3339Nano)
	result, err := e.redisClient.RunScript(ctx, commitScriptName, keys, saleID, orderID, sku, committedAt)
	if err != nil {
		return res, storeError("commit", err)
	}
	values, err := int64s(result, 3)
	if err != nil {
		return res, err
	}
	res.Committed = values[0] == 1
	res.Quantity = values[1]
	res.Stock = values[2]
	if res.Committed {
		res.SaleID = saleID
	}
	return res, nil
}

// DueHolds 返回到期时间不晚于 now 的索引记录，按到期时间排序，跳过前 offset 条。
// 索引中找不到对应记录的成员直接清理掉。
func (e *RedisReservationEngine) DueHolds(ctx context.Context, now time.Time, offset, limit int64) ([]domain.TrackedHold, error) {
	rdb := e.redisClient.GetClient()
	members, err := rdb.ZRangeByScore(ctx, expiryIndexKey, &goredis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now.UnixMilli(), 10),
		Offset: offset,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, storeError("load due holds", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	entries, err := rdb.HMGet(ctx, trackerKey, members...).Result()
	if err != nil {
		return nil, storeError("load tracker entries", err)
	}

	holds := make([]domain.TrackedHold, 0, len(members))
	var orphans []interface{}
	for i, key := range members {
		raw, ok := entries[i].(string)
		if !ok {
			orphans = append(orphans, key)
			continue
		}
		h, err := decodeTrackedHold(key, raw)
		if err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	if len(orphans) > 0 {
		if err := rdb.ZRem(ctx, expiryIndexKey, orphans...).Err(); err != nil {
			return nil, storeError("drop orphan index members", err)
		}
	}
	return holds, nil
}

// CompensateExpired 归还一条已过期预占的库存。并发调用时只有一次会真正归还。
func (e *RedisReservationEngine) CompensateExpired(ctx context.Context, hold domain.TrackedHold) (domain.CompensationOutcome, error) {
	keys := []string{stockKey(hold.SKU), heldKey(hold.SKU), hold.Key, trackerKey, expiryIndexKey, orderHoldsKey(hold.OrderID)}
	result, err := e.redisClient.RunScript(ctx, compensateScriptName, keys)
	if err != nil {
		return domain.CompensationOutcome{}, storeError("compensate expired hold", err)
	}
	values, err := int64s(result, 3)
	if err != nil {
		return domain.CompensationOutcome{}, err
	}
	return domain.CompensationOutcome{
		Alive:    values[0] == -1,
		Restored: values[1],
		Stock:    values[2],
	}, nil
}

// PendingSales 返回所有尚未写入数据库的销售，按确认时间排序
func (e *RedisReservationEngine) PendingSales(ctx context.Context) ([]domain.Sale, error) {
	raw, err := e.redisClient.GetClient().HGetAll(ctx, pendingSalesKey).Result()
	if err != nil {
		return nil, storeError("load pending sales", err)
	}
	sales := make([]domain.Sale, 0, len(raw))
	for saleID, value := range raw {
		sale, err := decodeSale(saleID, value)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	sort.Slice(sales, func(i, j int) bool {
		if sales[i].CommittedAt.Equal(sales[j].CommittedAt) {
			return sales[i].SaleID < sales[j].SaleID
		}
		return sales[i].CommittedAt.Before(sales[j].CommittedAt)
	})
	return sales, nil
}

// AckSale 在销售写入数据库后移出待持久化队列。重复确认返回 false
func (e *RedisReservationEngine) AckSale(ctx context.Context, sale domain.Sale) (bool, error) {
	keys := []string{pendingSalesKey, unsyncedKey(sale.SKU), syncedKey(sale.SKU)}
	result, err := e.redisClient.RunScript(ctx, ackSaleScriptName, keys, sale.SaleID, sale.Quantity)
	if err != nil {
		return false, storeError("ack sale", err)
	}
	code, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result type from Lua script: %T", result)
	}
	return code == 1, nil
}

// SyncMarks 返回每个 SKU 已写入数据库的销售累计量。必须在读取数据库库存之前调用
func (e *RedisReservationEngine) SyncMarks(ctx context.Context, skus []string) (map[string]int64, error) {
	marks := make(map[string]int64, len(skus))
	if len(skus) == 0 {
		return marks, nil
	}
	keys := make([]string, len(skus))
	for i, sku := range skus {
		keys[i] = syncedKey(sku)
	}
	values, err := e.redisClient.GetClient().MGet(ctx, keys...).Result()
	if err != nil {
		return nil, storeError("load sync marks", err)
	}
	for i, sku := range skus {
		raw, ok := values[i].(string)
		if !ok {
			marks[sku] = 0
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupted synced counter %q for sku %s: %w", raw, sku, err)
		}
		marks[sku] = n
	}
	return marks, nil
}

// Reconcile 以数据库库存为准，扣除仍被预占、尚未同步以及读取数据库之后才落库的销售后覆盖缓存。
// syncMark 是读取 persisted 之前由 SyncMarks 取得的累计量。
func (e *RedisReservationEngine) Reconcile(ctx context.Context, sku string, persisted, syncMark int64) (domain.ReconcileOutcome, error) {
	out := domain.ReconcileOutcome{SKU: sku, Persisted: persisted}
	if sku == "" {
		return out, fmt.Errorf("%w: empty sku", domain.ErrInvalidArgument)
	}
	keys := []string{stockKey(sku), heldKey(sku), unsyncedKey(sku), syncedKey(sku)}
	result, err := e.redisClient.RunScript(ctx, reconcileScriptName, keys, persisted, syncMark)
	if err != nil {
		return out, storeError("reconcile", err)
	}
	values, err := int64s(result, 5)
	if err != nil {
		return out, err
	}
	out.Old, out.New, out.Held, out.Unsynced, out.SyncedAfterRead = values[0], values[1], values[2], values[3], values[4]
	return out, nil
}
