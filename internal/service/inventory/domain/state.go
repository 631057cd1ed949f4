// internal/service/inventory/domain/state.go
package domain

// ReservationState 定义了 (orderId, sku) 预占的生命周期状态
// NONE -> RESERVED -> COMMITTED | RELEASED | EXPIRED
type ReservationState string

const (
	StateNone      ReservationState = "NONE"
	StateReserved  ReservationState = "RESERVED"
	StateCommitted ReservationState = "COMMITTED" // 支付成功，库存正式售出
	StateReleased  ReservationState = "RELEASED"  // 取消或支付失败，库存已归还
	StateExpired   ReservationState = "EXPIRED"   // TTL 到期，由 Sweeper 归还库存
	StateCorrected ReservationState = "CORRECTED" // 对账修正，不属于某个订单
)
