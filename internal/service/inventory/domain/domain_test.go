package domain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveResultErr(t *testing.T) {
	assert.NoError(t, ReserveResult{Reserved: true}.Err())

	err := ReserveResult{SKU: "SKU-2", Requested: 5, Stock: 2, Reason: ReasonInsufficientStock}.Err()
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "insufficient stock for SKU-2: available 2, requested 5", err.Error())

	assert.ErrorIs(t, ReserveResult{Reason: ReasonAlreadyReserved}.Err(), ErrReservationExists)
	assert.ErrorIs(t, ReserveResult{Reason: ReasonPolicyRejected}.Err(), ErrPolicyRejected)
}

func TestStoreError(t *testing.T) {
	assert.NoError(t, NewStoreError("reserve", nil))

	cause := errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
	err := NewStoreError("reserve", cause)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "reserve: inventory store unavailable")
}

func TestPaymentEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   PaymentEvent
		wantErr bool
	}{
		{"succeeded", PaymentEvent{Type: PaymentSucceeded, OrderID: "O1", SKUs: []string{"A"}}, false},
		{"cancelled", PaymentEvent{Type: OrderCancelled, OrderID: "O1", SKUs: []string{"A"}}, false},
		{"missing order", PaymentEvent{Type: PaymentFailed, SKUs: []string{"A"}}, true},
		{"missing skus", PaymentEvent{Type: PaymentFailed, OrderID: "O1"}, true},
		{"unknown type", PaymentEvent{Type: "refunded", OrderID: "O1", SKUs: []string{"A"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestReconcileOutcome(t *testing.T) {
	out := ReconcileOutcome{Old: 5, New: 8}
	assert.True(t, out.Changed())
	assert.Equal(t, int64(3), out.Delta())
	assert.False(t, ReconcileOutcome{Old: 4, New: 4}.Changed())
}

type observerFunc func(StockChanged)

func (f observerFunc) StockChanged(_ context.Context, c StockChanged) { f(c) }

func TestStockObserversFanOut(t *testing.T) {
	var a, b []StockChanged
	observers := StockObservers{
		observerFunc(func(c StockChanged) { a = append(a, c) }),
		observerFunc(func(c StockChanged) { b = append(b, c) }),
	}
	observers.StockChanged(context.Background(), StockChanged{SKU: "A", Stock: 1})
	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}
