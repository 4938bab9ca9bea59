package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	IngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "doppa_ingested_features_total",
		Help: "Total number of buildings yielded by ingestion",
	}, []string{"source"})
	SkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "doppa_skipped_records_total",
		Help: "Total number of source records skipped during ingestion",
	}, []string{"source", "reason"})
	ClassifiedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "doppa_classified_features_total",
		Help: "Buildings by conflation class",
	}, []string{"source", "class"})
	MergedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "doppa_merged_features_total",
		Help: "Canonical buildings by provenance",
	}, []string{"provenance"})
	MergeDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "doppa_merge_dropped_total",
		Help: "Records dropped during merge for unreadable geometry",
	})
	PartitionsWrittenTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "doppa_partitions_written_total",
		Help: "Partition files written",
	}, []string{"dataset", "region"})
	StageDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "doppa_stage_duration_seconds",
		Help:    "Pipeline stage duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
	}, []string{"stage"})
	ProcessCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "doppa_sampler_process_cpu_percent",
		Help: "Process CPU usage of the latest benchmark sample",
	})
	ProcessRSSBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "doppa_sampler_rss_bytes",
		Help: "Resident set size of the latest benchmark sample",
	})
)

func init() {
	prometheus.MustRegister(IngestedTotal)
	prometheus.MustRegister(SkippedTotal)
	prometheus.MustRegister(ClassifiedTotal)
	prometheus.MustRegister(MergedTotal)
	prometheus.MustRegister(MergeDroppedTotal)
	prometheus.MustRegister(PartitionsWrittenTotal)
	prometheus.MustRegister(StageDurationSeconds)
	prometheus.MustRegister(ProcessCPUPercent)
	prometheus.MustRegister(ProcessRSSBytes)
}
