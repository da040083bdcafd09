package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewMetrics(registry)
	require.NoError(t, err)

	m.RecordFetch("7", OutcomeHTTPStatus)
	m.RecordFetch("7", OutcomeHTTPStatus)
	m.RecordFetch("2", OutcomeSuccess)
	m.RecordBackoff("overload")
	m.SetStreamActive(true)

	assert.InDelta(t, 2, testutil.ToFloat64(m.fetchesTotal.WithLabelValues("7", OutcomeHTTPStatus)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.fetchesTotal.WithLabelValues("2", OutcomeSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.backoffsSetTotal.WithLabelValues("overload")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.streamActive), 0)

	_, err = NewMetrics(registry)
	assert.Error(t, err, "duplicate registration must fail")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordFetch("1", OutcomeSuccess)
		m.RecordFetchDuration(OutcomeSuccess, 0.1)
		m.RecordCacheLookup("fresh")
		m.RecordCampaign("complete")
		m.RecordStreamFrame()
		m.SetStreamActive(false)
		m.RecordBackoff("connection")
	})
}
