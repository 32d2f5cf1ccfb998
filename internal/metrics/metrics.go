package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reservation"

// Release reasons for units returned to inventory.
const (
	ReasonDecreased = "decreased"
	ReasonRemoved   = "removed"
	ReasonExpired   = "expired"
)

type Metrics struct {
	ReserveTotal    *prometheus.CounterVec
	ReserveDuration prometheus.Histogram
	UnitsHeld       prometheus.Counter
	UnitsReleased   *prometheus.CounterVec
	SweepRows       *prometheus.CounterVec
	FinalizeTotal   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ReserveTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reserve_total",
			Help:      "Checkout reservation attempts by outcome.",
		}, []string{"outcome"}),
		ReserveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reserve_duration_seconds",
			Help:      "Time spent reconciling a cart against its reservations.",
			Buckets:   prometheus.DefBuckets,
		}),
		UnitsHeld: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_held_total",
			Help:      "Inventory units taken by reservations.",
		}),
		UnitsReleased: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_released_total",
			Help:      "Inventory units returned by reservations, by reason.",
		}, []string{"reason"}),
		SweepRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_rows_total",
			Help:      "Expired reservation rows visited by the sweeper, by result.",
		}, []string{"result"}),
		FinalizeTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalize_total",
			Help:      "Payment finalizations by result.",
		}, []string{"result"}),
	}
}

// NewNop returns metrics registered on a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
