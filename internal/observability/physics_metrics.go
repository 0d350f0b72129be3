package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Advance paths.
const (
	PathCanonical   = "canonical"
	PathSpeculative = "speculative"
)

// Pose query results.
const (
	ResultRendered = "rendered"
	ResultStale    = "stale"
	ResultError    = "error"
)

// PhysicsCollector exposes replay-cache metrics. It satisfies the metrics
// recorder interfaces of the state store and the windowed advancer.
type PhysicsCollector struct {
	gatherer prometheus.Gatherer

	AdvanceDuration *prometheus.HistogramVec
	StepsTotal      *prometheus.CounterVec
	ImpulsesTotal   *prometheus.CounterVec
	Cursor          *prometheus.GaugeVec
	SnapshotBytes   *prometheus.GaugeVec
	SnapshotSeconds *prometheus.HistogramVec
	Queries         *prometheus.CounterVec
	CatchUpSteps    prometheus.Histogram
}

// NewPhysicsCollector registers physics metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewPhysicsCollector(reg prometheus.Registerer) (*PhysicsCollector, error) {
	reg, gatherer := gathererFor(reg)

	advance, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "physics_advance_duration_seconds",
		Help:    "Wall time spent stepping a state, labeled by canonical or speculative path.",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	}, []string{"path"}), "physics_advance_duration_seconds")
	if err != nil {
		return nil, err
	}
	steps, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "physics_steps_total",
		Help: "Fixed simulation steps executed, labeled by path.",
	}, []string{"path"}), "physics_steps_total")
	if err != nil {
		return nil, err
	}
	impulses, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "physics_impulses_applied_total",
		Help: "Impulses applied while stepping, labeled by path.",
	}, []string{"path"}), "physics_impulses_applied_total")
	if err != nil {
		return nil, err
	}
	cursor, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "physics_canonical_cursor",
		Help: "Step cursor of each room's canonical state.",
	}, []string{"room"}), "physics_canonical_cursor")
	if err != nil {
		return nil, err
	}
	snapBytes, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "physics_snapshot_bytes",
		Help: "Size of the most recently encoded or installed snapshot per room.",
	}, []string{"room"}), "physics_snapshot_bytes")
	if err != nil {
		return nil, err
	}
	snapSeconds, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "physics_snapshot_duration_seconds",
		Help:    "Snapshot encode and decode latency.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
	}, []string{"op"}), "physics_snapshot_duration_seconds")
	if err != nil {
		return nil, err
	}
	queries, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "physics_pose_queries_total",
		Help: "Pose queries, labeled by result (rendered, stale, error).",
	}, []string{"result"}), "physics_pose_queries_total")
	if err != nil {
		return nil, err
	}
	catchUp, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "physics_catch_up_steps",
		Help:    "Canonical steps executed per pose query.",
		Buckets: []float64{0, 1, 5, 10, 30, 60, 120, 300, 600},
	}), "physics_catch_up_steps")
	if err != nil {
		return nil, err
	}

	return &PhysicsCollector{
		gatherer:        gatherer,
		AdvanceDuration: advance,
		StepsTotal:      steps,
		ImpulsesTotal:   impulses,
		Cursor:          cursor,
		SnapshotBytes:   snapBytes,
		SnapshotSeconds: snapSeconds,
		Queries:         queries,
		CatchUpSteps:    catchUp,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *PhysicsCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveAdvance records one stepping run.
func (c *PhysicsCollector) ObserveAdvance(path string, steps, impulses int, d time.Duration) {
	if c == nil {
		return
	}
	c.AdvanceDuration.WithLabelValues(path).Observe(d.Seconds())
	c.StepsTotal.WithLabelValues(path).Add(float64(steps))
	c.ImpulsesTotal.WithLabelValues(path).Add(float64(impulses))
}

// SetCursor publishes a room's canonical cursor.
func (c *PhysicsCollector) SetCursor(room string, cursor uint32) {
	if c == nil {
		return
	}
	c.Cursor.WithLabelValues(room).Set(float64(cursor))
}

// ObserveSnapshot records an encode or decode of size bytes.
func (c *PhysicsCollector) ObserveSnapshot(room, op string, size int, d time.Duration) {
	if c == nil {
		return
	}
	c.SnapshotSeconds.WithLabelValues(op).Observe(d.Seconds())
	c.SnapshotBytes.WithLabelValues(room).Set(float64(size))
}

// ObserveQuery records the outcome of one pose query.
func (c *PhysicsCollector) ObserveQuery(result string, catchUp uint32) {
	if c == nil {
		return
	}
	c.Queries.WithLabelValues(result).Inc()
	if result == ResultRendered {
		c.CatchUpSteps.Observe(float64(catchUp))
	}
}

// ForgetRoom drops the per-room series of a closed room.
func (c *PhysicsCollector) ForgetRoom(room string) {
	if c == nil {
		return
	}
	c.Cursor.DeleteLabelValues(room)
	c.SnapshotBytes.DeleteLabelValues(room)
}

