package metrics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLatencyBucket(t *testing.T) {
	assert.Equal(t, 0, latencyBucket(500))
	assert.Equal(t, 0, latencyBucket(1000))
	assert.Equal(t, 1, latencyBucket(1001))
	assert.Equal(t, 8, latencyBucket(1000000))
	assert.Equal(t, 9, latencyBucket(5000000))
}

func TestRunCountersTrackActive(t *testing.T) {
	m := &Metrics{}
	m.IncRunsStarted()
	m.IncRunsStarted()
	m.IncRunsSucceeded()
	assert.Equal(t, int64(1), m.runsActive.Load())
	m.IncRunsFailed()
	assert.Equal(t, int64(0), m.runsActive.Load())
	assert.Equal(t, int64(2), m.runsStarted.Load())
}

func TestSnapshot(t *testing.T) {
	m := &Metrics{}
	m.AddRowsRead(10)
	m.AddRecordsMapped(9)
	m.IncMappingErrors()
	m.AddSpillBytes(1024)

	snap := m.Snapshot()
	assert.Equal(t, int64(10), snap["rows_read_total"])
	assert.Equal(t, int64(9), snap["records_mapped_total"])
	assert.Equal(t, int64(1), snap["mapping_errors_total"])
	assert.Equal(t, int64(1024), snap["spill_bytes_total"])
}

func TestPrometheusFormat(t *testing.T) {
	m := &Metrics{}
	m.AddRecordsSubmitted(250)
	m.RecordHTTPLatency(2000)
	m.RecordHTTPLatency(2000000)

	out := m.PrometheusFormat()
	assert.Contains(t, out, "# TYPE transcoder_records_submitted_total counter\n")
	assert.Contains(t, out, "transcoder_records_submitted_total 250\n")
	assert.Contains(t, out, `transcoder_http_latency_seconds_bucket{le="0.001"} 0`)
	assert.Contains(t, out, `transcoder_http_latency_seconds_bucket{le="0.005"} 1`)
	assert.Contains(t, out, `transcoder_http_latency_seconds_bucket{le="+Inf"} 2`)
	assert.Contains(t, out, "transcoder_http_latency_seconds_sum 2.002\n")

	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		assert.Len(t, strings.Fields(line), 2, line)
	}
}
