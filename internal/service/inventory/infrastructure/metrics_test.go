package infrastructure

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"nexus-inventory/internal/service/inventory/domain"
)

func TestMetricsObserveStockAndOutcomes(t *testing.T) {
	m := NewMetrics()

	m.StockChanged(context.Background(), domain.StockChanged{SKU: "SKU-1", Stock: 7})
	m.ReservationOutcome("reserve", "reserved")
	m.ReservationOutcome("reserve", "reserved")
	m.ReservationOutcome("reserve", "insufficient_stock")
	m.ExpiredCompensated(3)
	m.DiscrepancyDetected()
	m.PendingSales(4)

	assert.Equal(t, 7.0, testutil.ToFloat64(m.StockLevel.WithLabelValues("SKU-1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReservationsTotal.WithLabelValues("reserve", "reserved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReservationsTotal.WithLabelValues("reserve", "insufficient_stock")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ExpiredCompensations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconcileDiscrepancies))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.PendingSalesGauge))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `inventory_stock_level{sku="SKU-1"} 7`)
}
