package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	decisionsCounter *prometheus.CounterVec
	mastersCreated   prometheus.Counter
	entriesAppended  prometheus.Counter
	clustersAbsorbed prometheus.Counter
	entriesExported  prometheus.Counter
	explainDuration  prometheus.Histogram
	pathsFound       prometheus.Histogram
)

func init() {
	decisionsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "author_merge_decisions_total",
			Help: "Reviewer decisions by decision value and outcome.",
		},
		[]string{"decision", "outcome"},
	)
	mastersCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "author_merge_master_identities_created_total",
		Help: "Total number of master identities created by approvals.",
	})
	entriesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "author_merge_ledger_entries_appended_total",
		Help: "Total number of audit ledger entries appended.",
	})
	clustersAbsorbed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "author_merge_clusters_absorbed_total",
		Help: "Approvals that joined two existing master identities.",
	})
	entriesExported = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "author_merge_ledger_entries_exported_total",
		Help: "Total number of ledger entries written to the archive.",
	})
	explainDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "author_merge_explain_duration_seconds",
		Help:    "Duration of relatedness explanations.",
		Buckets: prometheus.DefBuckets,
	})
	pathsFound = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "author_merge_connecting_paths_found",
		Help:    "Number of connecting paths returned per explanation.",
		Buckets: []float64{0, 1, 2, 3, 4, 5},
	})
	prometheus.MustRegister(decisionsCounter, mastersCreated, entriesAppended, clustersAbsorbed,
		entriesExported, explainDuration, pathsFound)
}
