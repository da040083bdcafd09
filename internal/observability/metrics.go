package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Fetch outcome labels.
const (
	OutcomeSuccess    = "success"
	OutcomeBackoff    = "backoff"
	OutcomeTimeout    = "timeout"
	OutcomeConnection = "connection"
	OutcomeHTTPStatus = "http_status"
	OutcomeMalformed  = "malformed"
	OutcomeDetector   = "detector_error"
)

// Metrics contains the Prometheus collectors for frame acquisition.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	fetchesTotal      *prometheus.CounterVec
	fetchDuration     *prometheus.HistogramVec
	cacheLookups      *prometheus.CounterVec
	campaignsTotal    *prometheus.CounterVec
	streamFramesTotal prometheus.Counter
	streamActive      prometheus.Gauge
	backoffsSetTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers the gateway metrics on registry.
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		fetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "camgate_fetches_total",
				Help: "Snapshot fetch attempts by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "camgate_fetch_duration_seconds",
				Help:    "Time spent on snapshot requests that reached the head-end",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 9),
			},
			[]string{"outcome"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "camgate_cache_lookups_total",
				Help: "Frame cache lookups by result (fresh, stale, miss)",
			},
			[]string{"result"},
		),
		campaignsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "camgate_campaigns_total",
				Help: "Multi-channel fetch campaigns by result (complete, superseded)",
			},
			[]string{"result"},
		),
		streamFramesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "camgate_stream_frames_total",
				Help: "Frames demuxed from the main MJPEG stream",
			},
		),
		streamActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "camgate_stream_active",
				Help: "1 while the main stream reader is running",
			},
		),
		backoffsSetTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "camgate_backoffs_total",
				Help: "Per-channel backoffs applied by reason",
			},
			[]string{"reason"},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements the Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.fetchesTotal.Describe(ch)
	m.fetchDuration.Describe(ch)
	m.cacheLookups.Describe(ch)
	m.campaignsTotal.Describe(ch)
	m.streamFramesTotal.Describe(ch)
	m.streamActive.Describe(ch)
	m.backoffsSetTotal.Describe(ch)
}

// Collect implements the Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.fetchesTotal.Collect(ch)
	m.fetchDuration.Collect(ch)
	m.cacheLookups.Collect(ch)
	m.campaignsTotal.Collect(ch)
	m.streamFramesTotal.Collect(ch)
	m.streamActive.Collect(ch)
	m.backoffsSetTotal.Collect(ch)
}

// RecordFetch counts one fetch outcome for a channel.
func (m *Metrics) RecordFetch(channel, outcome string) {
	if m == nil {
		return
	}
	m.fetchesTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordFetchDuration observes a request duration in seconds.
func (m *Metrics) RecordFetchDuration(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordCacheLookup counts a cache lookup result.
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordCampaign counts a finished campaign.
func (m *Metrics) RecordCampaign(result string) {
	if m == nil {
		return
	}
	m.campaignsTotal.WithLabelValues(result).Inc()
}

// RecordStreamFrame counts a demuxed main stream frame.
func (m *Metrics) RecordStreamFrame() {
	if m == nil {
		return
	}
	m.streamFramesTotal.Inc()
}

// SetStreamActive sets the stream activity gauge.
func (m *Metrics) SetStreamActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.streamActive.Set(1)
	} else {
		m.streamActive.Set(0)
	}
}

// RecordBackoff counts a backoff being applied.
func (m *Metrics) RecordBackoff(reason string) {
	if m == nil {
		return
	}
	m.backoffsSetTotal.WithLabelValues(reason).Inc()
}
