package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	PackagesCreated prometheus.Counter
	Scans           *prometheus.CounterVec
	ScanConflicts   prometheus.Counter
	ScanDuration    prometheus.Histogram
	TamperReports   *prometheus.CounterVec
	Verifications   *prometheus.CounterVec
	AuditWrites     *prometheus.CounterVec
	AuditDropped    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PackagesCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: "veriseal",
			Name:      "packages_created_total",
			Help:      "Packages registered.",
		}),
		Scans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veriseal",
			Name:      "checkpoint_scans_total",
			Help:      "Committed checkpoint scans by decision and tamper check.",
		}, []string{"decision", "tamper_check"}),
		ScanConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "veriseal",
			Name:      "checkpoint_scan_conflicts_total",
			Help:      "Scan commits that lost a compare-and-set race and were re-evaluated.",
		}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "veriseal",
			Name:      "checkpoint_scan_duration_seconds",
			Help:      "Time to evaluate and commit a checkpoint scan.",
			Buckets:   prometheus.DefBuckets,
		}),
		TamperReports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veriseal",
			Name:      "tamper_reports_total",
			Help:      "Accepted tamper reports by kind.",
		}, []string{"kind"}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veriseal",
			Name:      "verifications_total",
			Help:      "Receiver verification attempts by result.",
		}, []string{"result"}),
		AuditWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veriseal",
			Name:      "audit_writes_total",
			Help:      "Audit sink writes by result.",
		}, []string{"result"}),
		AuditDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "veriseal",
			Name:      "audit_dropped_total",
			Help:      "Audit records dropped because the queue was full.",
		}),
	}
}
