package adapter

import "fmt"

// 快存储中的 key 布局。stock:sku:{sku} 与 reservation:{orderId}:{sku} 需要与历史数据保持兼容。
// 所有脚本都是多 key 的，部署在单机或 sentinel 模式的 redis 上。
const (
	trackerKey      = "reservation:tracker"
	expiryIndexKey  = "reservation:expiry"
	pendingSalesKey = "stock:sales:pending"
)

func stockKey(sku string) string {
	return "stock:sku:" + sku
}

// heldKey 记录该 SKU 上仍被索引跟踪的预占总量（含已过期未补偿的）
func heldKey(sku string) string {
	return "stock:held:sku:" + sku
}

// unsyncedKey 记录该 SKU 已确认但尚未写入数据库的销售数量
func unsyncedKey(sku string) string {
	return "stock:unsynced:sku:" + sku
}

// syncedKey 是该 SKU 已写入数据库的销售累计量，只增不减。
// 对账用它判断读取数据库之后又有多少销售落库。
func syncedKey(sku string) string {
	return "stock:synced:sku:" + sku
}

func reservationKey(orderID, sku string) string {
	return fmt.Sprintf("reservation:%s:%s", orderID, sku)
}

// orderHoldsKey 是订单下全部预占 key 的集合，由脚本与预占 key 一起维护
func orderHoldsKey(orderID string) string {
	return "order:holds:" + orderID
}
