package docsync

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	WritesTotal     *prometheus.CounterVec
	SkippedTotal    prometheus.Counter
	CoalescedTotal  prometheus.Counter
	RejectedTotal   *prometheus.CounterVec
	RemoteApplies   prometheus.Counter
	DroppedChanges  *prometheus.CounterVec
	ActiveDocuments prometheus.Gauge
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			WritesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "docsync_writes_total",
				Help: "Total number of record writes issued to the store",
			}, []string{"result"}),
			SkippedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "docsync_saves_skipped_total",
				Help: "Total number of save requests skipped as no-ops",
			}),
			CoalescedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "docsync_saves_coalesced_total",
				Help: "Total number of save requests folded into a pending batch",
			}),
			RejectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "docsync_reconcile_rejected_total",
				Help: "Total number of records rejected by reconciliation",
			}, []string{"reason"}),
			RemoteApplies: promauto.NewCounter(prometheus.CounterOpts{
				Name: "docsync_remote_applies_total",
				Help: "Total number of cache updates applied to a canvas",
			}),
			DroppedChanges: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "docsync_dropped_changes_total",
				Help: "Total number of canvas changes dropped by the bridge",
			}, []string{"reason"}),
			ActiveDocuments: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "docsync_active_documents",
				Help: "Current number of open document sessions",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) RecordWrite(err error) {
	if m == nil || m.WritesTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.WritesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordSkipped() {
	if m == nil || m.SkippedTotal == nil {
		return
	}
	m.SkippedTotal.Inc()
}

func (m *Metrics) RecordCoalesced() {
	if m == nil || m.CoalescedTotal == nil {
		return
	}
	m.CoalescedTotal.Inc()
}

func (m *Metrics) RecordRejected(reason string) {
	if m == nil || m.RejectedTotal == nil {
		return
	}
	m.RejectedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordRemoteApply() {
	if m == nil || m.RemoteApplies == nil {
		return
	}
	m.RemoteApplies.Inc()
}

func (m *Metrics) RecordDropped(reason string) {
	if m == nil || m.DroppedChanges == nil {
		return
	}
	m.DroppedChanges.WithLabelValues(reason).Inc()
}

func (m *Metrics) DocumentOpened() {
	if m == nil || m.ActiveDocuments == nil {
		return
	}
	m.ActiveDocuments.Inc()
}

func (m *Metrics) DocumentClosed() {
	if m == nil || m.ActiveDocuments == nil {
		return
	}
	m.ActiveDocuments.Dec()
}
