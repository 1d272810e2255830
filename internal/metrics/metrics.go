// Package metrics exports audit results as Prometheus metrics. A run fills
// the registry once and writes it to a file in the textfile collector format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/storeaudit/storeaudit/internal/audit"
)

// Registry is the Prometheus registry for all storeaudit metrics. Process
// and runtime collectors are left out: they describe the short-lived CLI,
// not the cluster.
var Registry = prometheus.NewRegistry()

// AuditMetrics holds the metrics populated by one audit run. It implements
// audit.Recorder.
type AuditMetrics struct {
	// Resource gauges (labeled by resource)
	ResourceObjects      *prometheus.GaugeVec
	ResourceBytes        *prometheus.GaugeVec // labels: resource, method
	ResourcePhysicalKeys *prometheus.GaugeVec

	// Storage endpoint gauges (labeled by endpoint)
	EndpointDBSize        *prometheus.GaugeVec
	EndpointDBSizeInUse   *prometheus.GaugeVec
	EndpointFragmentation *prometheus.GaugeVec

	ForensicRows        *prometheus.CounterVec   // labels: outcome
	MeasurementDuration *prometheus.HistogramVec // labels: method

	// Run info (value is always 1)
	RunInfo *prometheus.GaugeVec // labels: mode, run_id, version
}

var _ audit.Recorder = (*AuditMetrics)(nil)

// InitMetrics registers all metrics on Registry and records the run info.
func InitMetrics(runID, mode, version string) *AuditMetrics {
	m := &AuditMetrics{
		ResourceObjects: promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "storeaudit_resource_objects",
			Help: "Objects stored per resource kind, as reported by the control plane",
		}, []string{"resource"}),
		ResourceBytes: promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "storeaudit_resource_bytes",
			Help: "Measured footprint per resource kind in bytes (method=exact|estimated)",
		}, []string{"resource", "method"}),
		ResourcePhysicalKeys: promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "storeaudit_resource_physical_keys",
			Help: "Keys found in the store under the resource kind's prefix",
		}, []string{"resource"}),

		EndpointDBSize: promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "storeaudit_endpoint_db_size_bytes",
			Help: "Physical database size of a storage endpoint",
		}, []string{"endpoint"}),
		EndpointDBSizeInUse: promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "storeaudit_endpoint_db_size_in_use_bytes",
			Help: "Logically used database size of a storage endpoint",
		}, []string{"endpoint"}),
		EndpointFragmentation: promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "storeaudit_endpoint_fragmentation_percent",
			Help: "Share of the physical database size that is free space (absent when undefined)",
		}, []string{"endpoint"}),

		ForensicRows: promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
			Name: "storeaudit_forensic_rows_total",
			Help: "Forensic scan rows by outcome (measured, skipped, unresolved, failed)",
		}, []string{"outcome"}),
		MeasurementDuration: promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storeaudit_measurement_duration_seconds",
			Help:    "Duration of a single size measurement",
			Buckets: prometheus.ExponentialBuckets(0.05, 4, 8),
		}, []string{"method"}),

		RunInfo: promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "storeaudit_run_info",
			Help: "Audit run information (value is always 1)",
		}, []string{"mode", "run_id", "version"}),
	}

	m.RunInfo.WithLabelValues(mode, runID, version).Set(1)

	return m
}

// RecordCounts implements audit.Recorder.
func (m *AuditMetrics) RecordCounts(counts []audit.ResourceCount) {
	for _, rc := range counts {
		m.ResourceObjects.WithLabelValues(rc.Kind).Set(float64(rc.Count))
	}
}

// RecordEndpoints implements audit.Recorder.
func (m *AuditMetrics) RecordEndpoints(endpoints []audit.Fragmentation) {
	for _, ep := range endpoints {
		m.EndpointDBSize.WithLabelValues(ep.Endpoint).Set(float64(ep.PhysicalBytes))
		m.EndpointDBSizeInUse.WithLabelValues(ep.Endpoint).Set(float64(ep.UsedBytes))
		if ep.Defined {
			m.EndpointFragmentation.WithLabelValues(ep.Endpoint).Set(float64(ep.Percent))
		}
	}
}

// RecordMeasurement implements audit.Recorder.
func (m *AuditMetrics) RecordMeasurement(kind string, sm audit.SizeMeasurement, took time.Duration) {
	method := string(sm.Method)
	m.ResourceBytes.WithLabelValues(kind, method).Set(float64(sm.Bytes))
	m.MeasurementDuration.WithLabelValues(method).Observe(took.Seconds())
}

// RecordForensicRow implements audit.Recorder.
func (m *AuditMetrics) RecordForensicRow(row audit.ForensicRow) {
	m.ForensicRows.WithLabelValues(row.Outcome()).Inc()
	if row.KeysKnown {
		m.ResourcePhysicalKeys.WithLabelValues(row.Kind).Set(float64(row.PhysicalKeys))
	}
}

// WriteTextfile writes the registry to path in the text exposition format
// read by the node exporter's textfile collector. The file is replaced
// atomically.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}
