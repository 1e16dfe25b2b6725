// ABOUTME: Prometheus collectors for the order queue and the sync orchestrator
// ABOUTME: Collectors are registered on an injected registry, never the global one
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submission outcomes.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeRejected  = "rejected"
	OutcomeNetwork   = "network"
	OutcomeInternal  = "internal"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	SubmissionsTotal  *prometheus.CounterVec
	DrainDuration     prometheus.Histogram
	DrainSkippedTotal prometheus.Counter
	QueueDepth        *prometheus.GaugeVec
	SyncTablesTotal   *prometheus.CounterVec
	SyncDuration      prometheus.Histogram
	LastSyncTimestamp prometheus.Gauge
	Online            prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SubmissionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vendas_order_submissions_total",
			Help: "Order submissions to the gateway by outcome.",
		}, []string{"outcome"}),
		DrainDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vendas_queue_drain_duration_seconds",
			Help:    "Duration of queue drain passes.",
			Buckets: prometheus.DefBuckets,
		}),
		DrainSkippedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "vendas_queue_drain_skipped_total",
			Help: "Drain calls skipped because a pass was already running.",
		}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vendas_queue_orders",
			Help: "Pending orders on the device by status.",
		}, []string{"status"}),
		SyncTablesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vendas_sync_tables_total",
			Help: "Reference tables synced by table and result.",
		}, []string{"table", "result"}),
		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vendas_sync_duration_seconds",
			Help:    "Duration of full reference syncs.",
			Buckets: prometheus.DefBuckets,
		}),
		LastSyncTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Name: "vendas_sync_last_success_timestamp_seconds",
			Help: "Unix time of the last fully successful reference sync.",
		}),
		Online: f.NewGauge(prometheus.GaugeOpts{
			Name: "vendas_gateway_online",
			Help: "1 when the gateway was last reported reachable.",
		}),
	}
}

func (m *Metrics) ObserveSubmission(outcome string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveDrain(d time.Duration) {
	if m == nil {
		return
	}
	m.DrainDuration.Observe(d.Seconds())
}

func (m *Metrics) DrainSkipped() {
	if m == nil {
		return
	}
	m.DrainSkippedTotal.Inc()
}

// SetQueueDepth publishes per-status counts.
func (m *Metrics) SetQueueDepth(counts map[string]int) {
	if m == nil {
		return
	}
	for status, n := range counts {
		m.QueueDepth.WithLabelValues(status).Set(float64(n))
	}
}

func (m *Metrics) ObserveSyncTable(table string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.SyncTablesTotal.WithLabelValues(table, result).Inc()
}

func (m *Metrics) ObserveSync(d time.Duration, completedAt *time.Time) {
	if m == nil {
		return
	}
	m.SyncDuration.Observe(d.Seconds())
	if completedAt != nil {
		m.LastSyncTimestamp.Set(float64(completedAt.Unix()))
	}
}

func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.Online.Set(1)
	} else {
		m.Online.Set(0)
	}
}
