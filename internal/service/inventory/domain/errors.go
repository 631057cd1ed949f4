// internal/service/inventory/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrStoreUnavailable    = errors.New("inventory store unavailable")
	ErrReservationExists   = errors.New("reservation already exists")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrNegativeStock       = errors.New("stock cannot become negative")
	ErrVariantNotFound     = errors.New("product variant not found")
	ErrPolicyRejected      = errors.New("reservation rejected by policy")
)

// InsufficientStockError 在需要以 error 形式传递售罄结果时使用，例如返回给 HTTP 调用方
type InsufficientStockError struct {
	SKU       string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", e.SKU, e.Available, e.Requested)
}

// StoreError 包装了 redis / mysql 的底层错误，errors.Is(err, ErrStoreUnavailable) 为 true
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrStoreUnavailable, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// NewStoreError 创建 StoreError，err 为 nil 时返回 nil
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
