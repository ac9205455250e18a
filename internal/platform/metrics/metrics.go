package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the service. Services receive it
// via options and treat a nil receiver field as "metrics disabled".
type Metrics struct {
	RecordsCreated  prometheus.Counter
	GradesFinalized prometheus.Counter
	Purchases       prometheus.Counter
	PurchaseVolume  prometheus.Counter
	QueueDepth      prometheus.Gauge
	ActiveListings  prometheus.Gauge
}

// New creates all metrics and registers them on the given registerer. Tests
// pass a fresh prometheus.NewRegistry to avoid default-registry collisions.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cardvault_records_created_total",
			Help: "Total number of records minted in the registry.",
		}),
		GradesFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cardvault_grades_finalized_total",
			Help: "Total number of certification requests finalized.",
		}),
		Purchases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cardvault_purchases_total",
			Help: "Total number of completed purchases.",
		}),
		PurchaseVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cardvault_purchase_volume_atomic_units",
			Help: "Cumulative purchase volume in currency atomic units.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cardvault_admission_queue_depth",
			Help: "Number of certification requests currently pending.",
		}),
		ActiveListings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cardvault_active_listings",
			Help: "Number of records currently listed on the exchange.",
		}),
	}
	reg.MustRegister(
		m.RecordsCreated,
		m.GradesFinalized,
		m.Purchases,
		m.PurchaseVolume,
		m.QueueDepth,
		m.ActiveListings,
	)
	return m
}
