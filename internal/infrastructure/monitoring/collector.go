package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"voxlobby/internal/core/ports"
)

// Collector exposes coordinator metrics. The reserved-slots gauge tracks the
// directory's participant counts, not live transport membership; the gap
// between the two is the known drift surface.
type Collector struct {
	roomsActive     prometheus.Gauge
	reservedSlots   prometheus.Gauge
	joinsTotal      prometheus.Counter
	leavesTotal     prometheus.Counter
	reclaimsTotal   prometheus.Counter
	transactRetries *prometheus.CounterVec
	joinDuration    prometheus.Histogram
}

func NewCollector() *Collector {
	return &Collector{
		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voxlobby_rooms_active",
			Help: "Number of rooms currently listed in the directory",
		}),

		reservedSlots: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voxlobby_reserved_slots",
			Help: "Sum of participant counts across ephemeral rooms",
		}),

		joinsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voxlobby_session_joins_total",
			Help: "Total number of successfully joined sessions",
		}),

		leavesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voxlobby_session_leaves_total",
			Help: "Total number of voluntarily left sessions",
		}),

		reclaimsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voxlobby_rooms_reclaimed_total",
			Help: "Total number of stale empty rooms deleted by the sweep",
		}),

		transactRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voxlobby_store_transact_retries_total",
			Help: "Compare-and-swap conflicts retried by the directory store",
		}, []string{"path"}),

		joinDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxlobby_session_join_duration_seconds",
			Help:    "Time from join request to connected, including credential fetch",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}

var _ ports.Metrics = (*Collector)(nil)

func (c *Collector) RecordJoin(d time.Duration) {
	c.joinsTotal.Inc()
	c.joinDuration.Observe(d.Seconds())
}

func (c *Collector) RecordLeave() {
	c.leavesTotal.Inc()
}

func (c *Collector) RecordReclaim() {
	c.reclaimsTotal.Inc()
}

func (c *Collector) RecordTransactRetry(path string) {
	c.transactRetries.WithLabelValues(path).Inc()
}

func (c *Collector) ObserveDirectory(rooms, reservedSlots int) {
	c.roomsActive.Set(float64(rooms))
	c.reservedSlots.Set(float64(reservedSlots))
}
