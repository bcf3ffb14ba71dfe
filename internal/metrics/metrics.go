package metrics

import (
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Metrics holds process-wide transcoder counters for Prometheus export
type Metrics struct {
	startTime time.Time

	// Run metrics
	runsStarted   atomic.Int64
	runsSucceeded atomic.Int64
	runsFailed    atomic.Int64
	runsSkipped   atomic.Int64
	runsActive    atomic.Int64

	// Partition metrics
	partitionsTotal  atomic.Int64
	partitionsFailed atomic.Int64

	// Mapping metrics
	rowsRead      atomic.Int64
	recordsMapped atomic.Int64
	mappingErrors atomic.Int64

	// Submission metrics
	batchesSubmitted atomic.Int64
	recordsSubmitted atomic.Int64
	exportBytes      atomic.Int64

	// Reduce metrics
	spillFiles     atomic.Int64
	spillBytes     atomic.Int64
	reducedRecords atomic.Int64

	// HTTP request metrics
	httpRequestsTotal   atomic.Int64
	httpRequestsSuccess atomic.Int64
	httpRequestsError   atomic.Int64

	// HTTP latency histogram buckets (microseconds)
	// Buckets: 1ms, 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, +Inf
	httpLatencyBuckets [10]atomic.Int64
	httpLatencySum     atomic.Int64
	httpLatencyCount   atomic.Int64

	logger zerolog.Logger
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			startTime: time.Now(),
		}
	})
	return instance
}

// Init initializes the metrics with a logger
func Init(logger zerolog.Logger) *Metrics {
	m := Get()
	m.logger = logger.With().Str("component", "metrics").Logger()
	m.logger.Info().Msg("Metrics collector initialized")
	return m
}

// Run Metrics
func (m *Metrics) IncRunsStarted() {
	m.runsStarted.Add(1)
	m.runsActive.Add(1)
}
func (m *Metrics) IncRunsSucceeded() {
	m.runsSucceeded.Add(1)
	m.runsActive.Add(-1)
}
func (m *Metrics) IncRunsFailed() {
	m.runsFailed.Add(1)
	m.runsActive.Add(-1)
}
func (m *Metrics) IncRunsSkipped() { m.runsSkipped.Add(1) }

// Partition Metrics
func (m *Metrics) IncPartitions()       { m.partitionsTotal.Add(1) }
func (m *Metrics) IncPartitionsFailed() { m.partitionsFailed.Add(1) }

// Mapping Metrics
func (m *Metrics) AddRowsRead(n int64)      { m.rowsRead.Add(n) }
func (m *Metrics) AddRecordsMapped(n int64) { m.recordsMapped.Add(n) }
func (m *Metrics) IncMappingErrors()        { m.mappingErrors.Add(1) }

// Submission Metrics
func (m *Metrics) IncBatchesSubmitted()        { m.batchesSubmitted.Add(1) }
func (m *Metrics) AddRecordsSubmitted(n int64) { m.recordsSubmitted.Add(n) }
func (m *Metrics) AddExportBytes(n int64)      { m.exportBytes.Add(n) }

// Reduce Metrics
func (m *Metrics) IncSpillFiles()            { m.spillFiles.Add(1) }
func (m *Metrics) AddSpillBytes(n int64)     { m.spillBytes.Add(n) }
func (m *Metrics) AddReducedRecords(n int64) { m.reducedRecords.Add(n) }

// HTTP Metrics
func (m *Metrics) IncHTTPRequests() { m.httpRequestsTotal.Add(1) }
func (m *Metrics) IncHTTPSuccess()  { m.httpRequestsSuccess.Add(1) }
func (m *Metrics) IncHTTPError()    { m.httpRequestsError.Add(1) }

// RecordHTTPLatency records HTTP request latency in microseconds
func (m *Metrics) RecordHTTPLatency(durationMicros int64) {
	m.httpLatencySum.Add(durationMicros)
	m.httpLatencyCount.Add(1)
	m.httpLatencyBuckets[latencyBucket(durationMicros)].Add(1)
}

var latencyBounds = [...]int64{1000, 5000, 10000, 25000, 50000, 100000, 250000, 500000, 1000000}

func latencyBucket(micros int64) int {
	for i, bound := range latencyBounds {
		if micros <= bound {
			return i
		}
	}
	return len(latencyBounds)
}

// Snapshot returns all metrics as a map (for JSON endpoint)
func (m *Metrics) Snapshot() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return map[string]interface{}{
		// Process info
		"uptime_seconds": time.Since(m.startTime).Seconds(),
		"goroutines":     runtime.NumGoroutine(),
		"go_version":     runtime.Version(),
		"num_cpu":        runtime.NumCPU(),

		// Memory (Go runtime)
		"memory_alloc_bytes":      memStats.Alloc,
		"memory_sys_bytes":        memStats.Sys,
		"memory_heap_alloc_bytes": memStats.HeapAlloc,
		"gc_cycles":               memStats.NumGC,

		// Runs
		"runs_started_total":   m.runsStarted.Load(),
		"runs_succeeded_total": m.runsSucceeded.Load(),
		"runs_failed_total":    m.runsFailed.Load(),
		"runs_skipped_total":   m.runsSkipped.Load(),
		"runs_active":          m.runsActive.Load(),

		// Partitions
		"partitions_total":        m.partitionsTotal.Load(),
		"partitions_failed_total": m.partitionsFailed.Load(),

		// Mapping
		"rows_read_total":      m.rowsRead.Load(),
		"records_mapped_total": m.recordsMapped.Load(),
		"mapping_errors_total": m.mappingErrors.Load(),

		// Submission
		"batches_submitted_total": m.batchesSubmitted.Load(),
		"records_submitted_total": m.recordsSubmitted.Load(),
		"export_bytes_total":      m.exportBytes.Load(),

		// Reduce
		"spill_files_total":     m.spillFiles.Load(),
		"spill_bytes_total":     m.spillBytes.Load(),
		"reduced_records_total": m.reducedRecords.Load(),

		// HTTP
		"http_requests_total":   m.httpRequestsTotal.Load(),
		"http_requests_success": m.httpRequestsSuccess.Load(),
		"http_requests_error":   m.httpRequestsError.Load(),
		"http_latency_sum_us":   m.httpLatencySum.Load(),
		"http_latency_count":    m.httpLatencyCount.Load(),
	}
}

type promMetric struct {
	name  string
	help  string
	kind  string
	value func(m *Metrics) float64
}

func counter(v *atomic.Int64) func(*Metrics) float64 {
	return func(*Metrics) float64 { return float64(v.Load()) }
}

// PrometheusFormat returns metrics in Prometheus text exposition format
func (m *Metrics) PrometheusFormat() string {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	series := []promMetric{
		{"transcoder_uptime_seconds", "Time since the transcoder started", "gauge",
			func(m *Metrics) float64 { return time.Since(m.startTime).Seconds() }},
		{"transcoder_goroutines", "Number of goroutines", "gauge",
			func(*Metrics) float64 { return float64(runtime.NumGoroutine()) }},
		{"transcoder_memory_alloc_bytes", "Current allocated memory", "gauge",
			func(*Metrics) float64 { return float64(memStats.Alloc) }},
		{"transcoder_gc_cycles_total", "Total number of GC cycles", "counter",
			func(*Metrics) float64 { return float64(memStats.NumGC) }},

		{"transcoder_runs_started_total", "Pipeline runs started", "counter", counter(&m.runsStarted)},
		{"transcoder_runs_succeeded_total", "Pipeline runs that completed", "counter", counter(&m.runsSucceeded)},
		{"transcoder_runs_failed_total", "Pipeline runs that failed", "counter", counter(&m.runsFailed)},
		{"transcoder_runs_skipped_total", "Scheduled runs skipped because a run was active", "counter", counter(&m.runsSkipped)},
		{"transcoder_runs_active", "Pipeline runs in progress", "gauge", counter(&m.runsActive)},

		{"transcoder_partitions_total", "Partitions processed", "counter", counter(&m.partitionsTotal)},
		{"transcoder_partitions_failed_total", "Partitions aborted by an error", "counter", counter(&m.partitionsFailed)},

		{"transcoder_rows_read_total", "Source rows read", "counter", counter(&m.rowsRead)},
		{"transcoder_records_mapped_total", "Rows mapped into records", "counter", counter(&m.recordsMapped)},
		{"transcoder_mapping_errors_total", "Rows that failed to map", "counter", counter(&m.mappingErrors)},

		{"transcoder_batches_submitted_total", "Record batches handed to the submitter", "counter", counter(&m.batchesSubmitted)},
		{"transcoder_records_submitted_total", "Records handed to the submitter", "counter", counter(&m.recordsSubmitted)},
		{"transcoder_export_bytes_total", "Bytes written by the export sink", "counter", counter(&m.exportBytes)},

		{"transcoder_spill_files_total", "Reduce spill files written", "counter", counter(&m.spillFiles)},
		{"transcoder_spill_bytes_total", "Reduce spill bytes written", "counter", counter(&m.spillBytes)},
		{"transcoder_reduced_records_total", "Records produced by the reducer", "counter", counter(&m.reducedRecords)},

		{"transcoder_http_requests_total", "Total HTTP requests", "counter", counter(&m.httpRequestsTotal)},
		{"transcoder_http_requests_success_total", "Successful HTTP requests", "counter", counter(&m.httpRequestsSuccess)},
		{"transcoder_http_requests_error_total", "Failed HTTP requests", "counter", counter(&m.httpRequestsError)},
	}

	var b []byte
	for _, s := range series {
		b = appendHeader(b, s.name, s.help, s.kind)
		b = appendMetric(b, s.name, s.value(m))
	}

	// HTTP latency histogram
	b = appendHeader(b, "transcoder_http_latency_seconds", "HTTP request latency", "histogram")
	bucketLabels := []string{"0.001", "0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "1", "+Inf"}
	var cumulative int64
	for i, label := range bucketLabels {
		cumulative += m.httpLatencyBuckets[i].Load()
		b = appendMetricWithLabel(b, "transcoder_http_latency_seconds_bucket", "le", label, float64(cumulative))
	}
	b = appendMetric(b, "transcoder_http_latency_seconds_sum", float64(m.httpLatencySum.Load())/1000000.0)
	b = appendMetric(b, "transcoder_http_latency_seconds_count", float64(m.httpLatencyCount.Load()))

	return string(b)
}

// Helper functions for Prometheus format
func appendHeader(b []byte, name, help, kind string) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, "\n# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, kind...)
	return append(b, '\n')
}

func appendMetric(b []byte, name string, value float64) []byte {
	b = append(b, name...)
	b = append(b, ' ')
	b = strconv.AppendFloat(b, value, 'f', -1, 64)
	return append(b, '\n')
}

func appendMetricWithLabel(b []byte, name, labelName, labelValue string, value float64) []byte {
	b = append(b, name...)
	b = append(b, '{')
	b = append(b, labelName...)
	b = append(b, '=', '"')
	b = append(b, labelValue...)
	b = append(b, '"', '}', ' ')
	b = strconv.AppendFloat(b, value, 'f', -1, 64)
	return append(b, '\n')
}
