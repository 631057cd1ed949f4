package adapter

import (
	"fmt"

	"nexus-inventory/internal/pkg/redis"
)

const (
	reserveScriptName      = "inventory_reserve"
	batchReserveScriptName = "inventory_batch_reserve"
	releaseScriptName      = "inventory_release"
	commitScriptName       = "inventory_commit"
	compensateScriptName   = "inventory_compensate"
	ackSaleScriptName      = "inventory_ack_sale"
	reconcileScriptName    = "inventory_reconcile"
	adjustScriptName       = "inventory_adjust"
	putHoldScriptName      = "inventory_put_hold"
	removeHoldScriptName   = "inventory_remove_hold"
)

// compensateStaleLua 归还一条“key 已过期、但索引仍在”的预占。
// reserve / release / commit 在操作同一个 (orderId, sku) 之前都会先调用它，
// 保证重新预占不会覆盖一条尚未补偿的索引记录。
const compensateStaleLua = `
local function compensate_stale(res_key, tracker_key, expiry_key, stock_key, held_key, order_key)
    if redis.call('exists', res_key) == 1 then
        return 0
    end
    local entry = redis.call('hget', tracker_key, res_key)
    if not entry then
        return 0
    end
    local qty = tonumber(cjson.decode(entry)['qty'])
    redis.call('incrby', stock_key, qty)
    redis.call('decrby', held_key, qty)
    redis.call('hdel', tracker_key, res_key)
    redis.call('zrem', expiry_key, res_key)
    redis.call('srem', order_key, res_key)
    return qty
end
`

// KEYS[1] 库存 KEYS[2] 预占总量 KEYS[3] 预占 key KEYS[4] 索引 hash KEYS[5] 过期 zset KEYS[6] 订单预占集合
// ARGV[1] 数量 ARGV[2] ttl 毫秒 ARGV[3] 过期时间戳毫秒 ARGV[4] 索引记录 JSON
// 返回 {1, 剩余库存} | {0, 可用库存} | {-1, 可用库存}（已存在预占）
const reserveLua = compensateStaleLua + `
compensate_stale(KEYS[3], KEYS[4], KEYS[5], KEYS[1], KEYS[2], KEYS[6])

local stock = tonumber(redis.call('get', KEYS[1]) or '0')
if redis.call('exists', KEYS[3]) == 1 then
    return {-1, stock}
end

local qty = tonumber(ARGV[1])
if stock < qty then
    return {0, stock}
end

local remaining = redis.call('decrby', KEYS[1], qty)
redis.call('incrby', KEYS[2], qty)
redis.call('set', KEYS[3], qty, 'PX', ARGV[2])
redis.call('hset', KEYS[4], KEYS[3], ARGV[4])
redis.call('zadd', KEYS[5], ARGV[3], KEYS[3])
redis.call('sadd', KEYS[6], KEYS[3])
return {1, remaining}
`

// KEYS[1] 索引 hash KEYS[2] 过期 zset KEYS[3] 订单预占集合，之后每个 SKU 依次三个 key：库存、预占总量、预占 key
// ARGV[1] ttl 毫秒 ARGV[2] 过期时间戳毫秒，之后每个 SKU 依次两个参数：数量、索引记录 JSON
// 返回 {全部成功?, 状态1, 库存1, 状态2, 库存2, ...}，状态含义同 reserve
const batchReserveLua = compensateStaleLua + `
local n = (#KEYS - 3) / 3

for i = 1, n do
    local k = 3 + (i - 1) * 3
    compensate_stale(KEYS[k + 3], KEYS[1], KEYS[2], KEYS[k + 1], KEYS[k + 2], KEYS[3])
end

-- 第一阶段：只检查，不修改
local result = {1}
for i = 1, n do
    local k = 3 + (i - 1) * 3
    local qty = tonumber(ARGV[2 + (i - 1) * 2 + 1])
    local stock = tonumber(redis.call('get', KEYS[k + 1]) or '0')
    local status = 1
    if redis.call('exists', KEYS[k + 3]) == 1 then
        status = -1
    elseif stock < qty then
        status = 0
    end
    if status ~= 1 then
        result[1] = 0
    end
    table.insert(result, status)
    table.insert(result, stock)
end
if result[1] == 0 then
    return result
end

-- 第二阶段：全部通过后统一扣减
for i = 1, n do
    local k = 3 + (i - 1) * 3
    local a = 2 + (i - 1) * 2
    local qty = tonumber(ARGV[a + 1])
    local remaining = redis.call('decrby', KEYS[k + 1], qty)
    redis.call('incrby', KEYS[k + 2], qty)
    redis.call('set', KEYS[k + 3], qty, 'PX', ARGV[1])
    redis.call('hset', KEYS[1], KEYS[k + 3], ARGV[a + 2])
    redis.call('zadd', KEYS[2], ARGV[2], KEYS[k + 3])
    redis.call('sadd', KEYS[3], KEYS[k + 3])
    result[2 * i + 1] = remaining
end
return result
`

// KEYS 同 reserve。返回 {1, 数量, 新库存} | {0, 0, 当前库存}
const releaseLua = compensateStaleLua + `
local qty = redis.call('get', KEYS[3])
if not qty then
    compensate_stale(KEYS[3], KEYS[4], KEYS[5], KEYS[1], KEYS[2], KEYS[6])
    return {0, 0, tonumber(redis.call('get', KEYS[1]) or '0')}
end

qty = tonumber(qty)
redis.call('del', KEYS[3])
redis.call('hdel', KEYS[4], KEYS[3])
redis.call('zrem', KEYS[5], KEYS[3])
redis.call('srem', KEYS[6], KEYS[3])
redis.call('decrby', KEYS[2], qty)
local stock = redis.call('incrby', KEYS[1], qty)
return {1, qty, stock}
`

// KEYS[1..6] 同 reserve，KEYS[7] 未同步销售数量 KEYS[8] 待持久化销售 hash
// ARGV[1] saleId ARGV[2] orderId ARGV[3] sku ARGV[4] 确认时间
// 确认不修改库存：扣减在预占时已经发生。返回 {1, 数量, 当前库存} | {0, 0, 当前库存}
const commitLua = compensateStaleLua + `
local qty = redis.call('get', KEYS[3])
if not qty then
    compensate_stale(KEYS[3], KEYS[4], KEYS[5], KEYS[1], KEYS[2], KEYS[6])
    return {0, 0, tonumber(redis.call('get', KEYS[1]) or '0')}
end

qty = tonumber(qty)
redis.call('del', KEYS[3])
redis.call('hdel', KEYS[4], KEYS[3])
redis.call('zrem', KEYS[5], KEYS[3])
redis.call('srem', KEYS[6], KEYS[3])
redis.call('decrby', KEYS[2], qty)
redis.call('incrby', KEYS[7], qty)
redis.call('hset', KEYS[8], ARGV[1], cjson.encode({
    saleId = ARGV[1], orderId = ARGV[2], sku = ARGV[3], qty = qty, committedAt = ARGV[4]
}))
return {1, qty, tonumber(redis.call('get', KEYS[1]) or '0')}
`

// KEYS 同 reserve。返回 {-1, 0, 0} 仍存活 | {0, 0, 库存} 已被补偿 | {1, 归还数量, 新库存}
const compensateLua = compensateStaleLua + `
if redis.call('exists', KEYS[3]) == 1 then
    return {-1, 0, 0}
end
if not redis.call('hget', KEYS[4], KEYS[3]) then
    redis.call('zrem', KEYS[5], KEYS[3])
    redis.call('srem', KEYS[6], KEYS[3])
    return {0, 0, tonumber(redis.call('get', KEYS[1]) or '0')}
end
local qty = compensate_stale(KEYS[3], KEYS[4], KEYS[5], KEYS[1], KEYS[2], KEYS[6])
return {1, qty, tonumber(redis.call('get', KEYS[1]) or '0')}
`

// KEYS[1] 待持久化销售 hash KEYS[2] 未同步数量 KEYS[3] 已同步累计量  ARGV[1] saleId ARGV[2] 数量
const ackSaleLua = `
if redis.call('hdel', KEYS[1], ARGV[1]) == 1 then
    redis.call('decrby', KEYS[2], ARGV[2])
    redis.call('incrby', KEYS[3], ARGV[2])
    return 1
end
return 0
`

// KEYS[1] 库存 KEYS[2] 预占总量 KEYS[3] 未同步数量 KEYS[4] 已同步累计量
// ARGV[1] 数据库库存 ARGV[2] 读取数据库之前的已同步累计量
// 读取之后落库的销售已经从未同步数量中移除，但不在读到的数据库库存里，需要再扣一次。
// 期望值 = 数据库库存 - 预占总量 - 未同步销售 - 读取后落库的销售，返回 {旧值, 新值, 预占总量, 未同步, 读取后落库}
const reconcileLua = `
local persisted = tonumber(ARGV[1])
local held = tonumber(redis.call('get', KEYS[2]) or '0')
local unsynced = tonumber(redis.call('get', KEYS[3]) or '0')
local synced = tonumber(redis.call('get', KEYS[4]) or '0') - tonumber(ARGV[2])
if synced < 0 then
    synced = 0
end
local current = redis.call('get', KEYS[1])
local old = tonumber(current or '0')

local expected = persisted - held - unsynced - synced
if expected < 0 then
    expected = 0
end
if (not current) or old ~= expected then
    redis.call('set', KEYS[1], expected)
end
return {old, expected, held, unsynced, synced}
`

// KEYS[1] 库存  ARGV[1] 增量。返回 {1, 新值} | {0, 当前值}（结果会小于 0）
const adjustLua = `
local current = tonumber(redis.call('get', KEYS[1]) or '0')
local delta = tonumber(ARGV[1])
if current + delta < 0 then
    return {0, current}
end
return {1, redis.call('incrby', KEYS[1], delta)}
`

// KEYS[1] 预占 key KEYS[2] 索引 hash KEYS[3] 过期 zset KEYS[4] 预占总量 KEYS[5] 订单预占集合
// ARGV 同 reserve。只记录预占，不修改库存
const putHoldLua = `
if redis.call('exists', KEYS[1]) == 1 then
    return 0
end
redis.call('set', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('hset', KEYS[2], KEYS[1], ARGV[4])
redis.call('zadd', KEYS[3], ARGV[3], KEYS[1])
redis.call('incrby', KEYS[4], ARGV[1])
redis.call('sadd', KEYS[5], KEYS[1])
return 1
`

// KEYS 同 putHold。key 已过期时不动索引，留给 Sweeper 补偿
const removeHoldLua = `
if redis.call('del', KEYS[1]) == 0 then
    return 0
end
local entry = redis.call('hget', KEYS[2], KEYS[1])
if entry then
    redis.call('decrby', KEYS[4], tonumber(cjson.decode(entry)['qty']))
    redis.call('hdel', KEYS[2], KEYS[1])
    redis.call('zrem', KEYS[3], KEYS[1])
end
redis.call('srem', KEYS[5], KEYS[1])
return 1
`

// LoadScripts 在服务初始化时加载全部脚本，任一失败都视为致命错误
func LoadScripts(client *redis.Client) error {
	scripts := map[string]string{
		reserveScriptName:      reserveLua,
		batchReserveScriptName: batchReserveLua,
		releaseScriptName:      releaseLua,
		commitScriptName:       commitLua,
		compensateScriptName:   compensateLua,
		ackSaleScriptName:      ackSaleLua,
		reconcileScriptName:    reconcileLua,
		adjustScriptName:       adjustLua,
		putHoldScriptName:      putHoldLua,
		removeHoldScriptName:   removeHoldLua,
	}
	for name, src := range scripts {
		if err := client.LoadScriptFromContent(name, src); err != nil {
			return fmt.Errorf("failed to load critical inventory script: %w", err)
		}
	}
	return nil
}

// int64s 把脚本返回的 Lua table 转成 []int64
func int64s(result interface{}, want int) ([]int64, error) {
	values, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected result type from Lua script: %T", result)
	}
	if want > 0 && len(values) != want {
		return nil, fmt.Errorf("unexpected result length from Lua script: got %d, want %d", len(values), want)
	}
	out := make([]int64, len(values))
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected element type %T at %d from Lua script", v, i)
		}
		out[i] = n
	}
	return out, nil
}
