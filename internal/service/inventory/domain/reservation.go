// internal/service/inventory/domain/reservation.go
package domain

import (
	"fmt"
	"time"
)

// FailureReason 说明一次预占为什么没有成功。预占失败是正常的业务结果（售罄），不是错误。
type FailureReason string

const (
	ReasonNone              FailureReason = ""
	ReasonInsufficientStock FailureReason = "INSUFFICIENT_STOCK"
	ReasonAlreadyReserved   FailureReason = "ALREADY_RESERVED"
	ReasonPolicyRejected    FailureReason = "POLICY_REJECTED"
)

// Hold 是一条仍然有效的预占记录
type Hold struct {
	OrderID   string        `json:"orderId"`
	SKU       string        `json:"sku"`
	Quantity  int64         `json:"quantity"`
	CreatedAt time.Time     `json:"createdAt"`
	TTL       time.Duration `json:"ttl"`
	Remaining time.Duration `json:"remaining"`
}

// TrackedHold 是预占索引中的一条记录。key 过期后它依然存在，直到被 Sweeper 补偿。
type TrackedHold struct {
	Key       string    `json:"-"`
	OrderID   string    `json:"orderId"`
	SKU       string    `json:"sku"`
	Quantity  int64     `json:"qty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ReserveItem 是批量预占中的一行
type ReserveItem struct {
	SKU      string `json:"sku"`
	Quantity int64  `json:"qty"`
}

// ReserveResult 是单个 SKU 的预占结果。
// 成功时 Stock 为剩余库存，失败时 Stock 为当前可用库存。
type ReserveResult struct {
	Reserved  bool          `json:"reserved"`
	OrderID   string        `json:"orderId"`
	SKU       string        `json:"sku"`
	Requested int64         `json:"requested"`
	Stock     int64         `json:"stock"`
	Reason    FailureReason `json:"reason,omitempty"`
	ExpiresAt time.Time     `json:"expiresAt,omitempty"`
}

// Err 把失败结果转换成 error，方便 checkout 流程直接返回给用户
func (r ReserveResult) Err() error {
	switch r.Reason {
	case ReasonNone:
		return nil
	case ReasonInsufficientStock:
		return &InsufficientStockError{SKU: r.SKU, Available: r.Stock, Requested: r.Requested}
	case ReasonAlreadyReserved:
		return fmt.Errorf("%w: order %s sku %s", ErrReservationExists, r.OrderID, r.SKU)
	default:
		return fmt.Errorf("%w: order %s sku %s", ErrPolicyRejected, r.OrderID, r.SKU)
	}
}

// BatchItemResult 是批量预占中单个 SKU 的检查结果
type BatchItemResult struct {
	SKU       string        `json:"sku"`
	Reserved  bool          `json:"reserved"`
	Available int64         `json:"available"`
	Requested int64         `json:"requested"`
	Reason    FailureReason `json:"reason,omitempty"`
}

// BatchReserveResult 要么全部成功，要么全部不生效
type BatchReserveResult struct {
	AllReserved bool              `json:"allReserved"`
	OrderID     string            `json:"orderId"`
	Items       []BatchItemResult `json:"items"`
	ExpiresAt   time.Time         `json:"expiresAt,omitempty"`
}

// ReleaseResult 中 Released=false 表示预占不存在，属于幂等的空操作
type ReleaseResult struct {
	Released bool   `json:"released"`
	OrderID  string `json:"orderId"`
	SKU      string `json:"sku"`
	Quantity int64  `json:"quantity"`
	Stock    int64  `json:"stock"`
}

// CommitResult 中 Committed=false 表示预占不存在（重复的支付回调或已过期）
type CommitResult struct {
	Committed bool   `json:"committed"`
	OrderID   string `json:"orderId"`
	SKU       string `json:"sku"`
	Quantity  int64  `json:"quantity"`
	Stock     int64  `json:"stock"`
	SaleID    string `json:"saleId,omitempty"`
}

// ItemOutcome 是批量释放 / 确认中单个 SKU 的结果，各 SKU 互不影响
type ItemOutcome struct {
	SKU      string `json:"sku"`
	Done     bool   `json:"done"`
	Quantity int64  `json:"quantity"`
	Stock    int64  `json:"stock"`
	Err      error  `json:"-"`
	Error    string `json:"error,omitempty"`
}

// Sale 是已确认但尚未写入持久化存储的销售
type Sale struct {
	SaleID      string    `json:"saleId"`
	OrderID     string    `json:"orderId"`
	SKU         string    `json:"sku"`
	Quantity    int64     `json:"qty"`
	CommittedAt time.Time `json:"committedAt"`
}

// CompensationOutcome 是对一条到期预占执行补偿的结果
type CompensationOutcome struct {
	// Alive 表示 key 仍然存在（TTL 被延长或时钟偏差），本轮跳过
	Alive bool
	// Restored 是归还到账本的数量，0 表示已被其他进程补偿过
	Restored int64
	Stock    int64
}

// ReconcileOutcome 是单个 SKU 的对账结果
type ReconcileOutcome struct {
	SKU       string
	Persisted int64
	Held      int64
	Unsynced  int64
	// SyncedAfterRead 是读取数据库库存之后才落库的销售，Persisted 中还没有扣除
	SyncedAfterRead int64
	Old             int64
	New             int64
}

// Delta 是修正量，正数表示缓存中的库存偏少
func (o ReconcileOutcome) Delta() int64 {
	return o.New - o.Old
}

// Changed 表示缓存值被覆盖
func (o ReconcileOutcome) Changed() bool {
	return o.Old != o.New
}
