package application

import "nexus-inventory/internal/service/inventory/domain"

// MetricsRecorder 由基础设施层的 Prometheus 指标实现
type MetricsRecorder interface {
	ReservationOutcome(op, outcome string)
	ExpiredCompensated(units int64)
	DiscrepancyDetected()
	PendingSales(n int)
}

type nopMetrics struct{}

func (nopMetrics) ReservationOutcome(string, string) {}
func (nopMetrics) ExpiredCompensated(int64)          {}
func (nopMetrics) DiscrepancyDetected()              {}
func (nopMetrics) PendingSales(int)                  {}

// 指标里的 outcome 标签
const (
	outcomeReserved     = "reserved"
	outcomeReleased     = "released"
	outcomeCommitted    = "committed"
	outcomeNotFound     = "not_found"
	outcomeError        = "error"
	outcomeInsufficient = "insufficient_stock"
	outcomeDuplicate    = "already_reserved"
	outcomeRejected     = "policy_rejected"
)

func reserveOutcome(reason domain.FailureReason) string {
	switch reason {
	case domain.ReasonNone:
		return outcomeReserved
	case domain.ReasonInsufficientStock:
		return outcomeInsufficient
	case domain.ReasonAlreadyReserved:
		return outcomeDuplicate
	default:
		return outcomeRejected
	}
}
