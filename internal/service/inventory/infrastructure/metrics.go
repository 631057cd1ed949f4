package infrastructure

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nexus-inventory/internal/service/inventory/domain"
)

// Metrics 汇总库存服务的 Prometheus 指标，同时作为 StockObserver 更新库存水位
type Metrics struct {
	registry *prometheus.Registry

	StockLevel             *prometheus.GaugeVec
	ReservationsTotal      *prometheus.CounterVec
	ExpiredCompensations   prometheus.Counter
	ReconcileDiscrepancies prometheus.Counter
	PendingSalesGauge      prometheus.Gauge
}

// NewMetrics 使用独立的 registry，测试中可以创建多个实例
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		StockLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "inventory_stock_level",
			Help: "Available stock per SKU as last observed in the fast store",
		}, []string{"sku"}),
		ReservationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_reservations_total",
			Help: "Reservation operations by operation and outcome",
		}, []string{"op", "outcome"}),
		ExpiredCompensations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_expired_compensations_total",
			Help: "Units of stock returned to the ledger from expired holds",
		}),
		ReconcileDiscrepancies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_reconcile_discrepancies_total",
			Help: "SKUs whose fast-store stock was corrected by reconciliation",
		}),
		PendingSalesGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inventory_pending_sales",
			Help: "Committed sales not yet written to the record store",
		}),
	}
	registry.MustRegister(m.StockLevel, m.ReservationsTotal, m.ExpiredCompensations,
		m.ReconcileDiscrepancies, m.PendingSalesGauge)
	return m
}

// Handler 暴露 /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) StockChanged(_ context.Context, change domain.StockChanged) {
	m.StockLevel.WithLabelValues(change.SKU).Set(float64(change.Stock))
}

func (m *Metrics) ReservationOutcome(op, outcome string) {
	m.ReservationsTotal.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) ExpiredCompensated(units int64) {
	m.ExpiredCompensations.Add(float64(units))
}

func (m *Metrics) DiscrepancyDetected() {
	m.ReconcileDiscrepancies.Inc()
}

func (m *Metrics) PendingSales(n int) {
	m.PendingSalesGauge.Set(float64(n))
}
