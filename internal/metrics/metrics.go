package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Gate counters
	FramesSeen     atomic.Uint64
	FramesAccepted atomic.Uint64
	FramesRejected atomic.Uint64
	FramesDropped  atomic.Uint64 // accepted but not uploaded (busy or closed)
	SourceErrors   atomic.Uint64

	EncodeErrors atomic.Uint64

	// HTTP upload counters
	UploadsStarted   atomic.Uint64
	UploadsSucceeded atomic.Uint64
	UploadsFailed    atomic.Uint64 // transport failures
	UploadsRejected  atomic.Uint64 // non-2xx responses
	UploadBytes      atomic.Uint64

	// MQTT
	MQTTPublished atomic.Uint64
	MQTTErrors    atomic.Uint64

	// Gauges
	UploadsInFlight  atomic.Int64
	UploadLatencyMs  atomic.Uint64 // latency of the last completed upload
	IntervalSeconds  atomic.Uint64
	LastUploadUnixMs atomic.Uint64

	// Send outcomes of every transport, by transport name and outcome.
	TransportResults *prometheus.CounterVec

	registry *prometheus.Registry
}

// Transport outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

type gaugeDef struct {
	name  string
	help  string
	value func() float64
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		TransportResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livecam_transport_results_total",
			Help: "Frames handed to each transport, by outcome",
		}, []string{"transport", "outcome"}),
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	defs := []gaugeDef{
		{"livecam_frames_seen_total", "Frames delivered by the source", u64(&m.FramesSeen)},
		{"livecam_frames_accepted_total", "Frames accepted by the gate", u64(&m.FramesAccepted)},
		{"livecam_frames_rejected_total", "Frames rejected by the gate", u64(&m.FramesRejected)},
		{"livecam_frames_dropped_total", "Accepted frames dropped before upload", u64(&m.FramesDropped)},
		{"livecam_source_errors_total", "Frame source read errors", u64(&m.SourceErrors)},
		{"livecam_encode_errors_total", "JPEG encode failures", u64(&m.EncodeErrors)},
		{"livecam_uploads_started_total", "HTTP uploads started", u64(&m.UploadsStarted)},
		{"livecam_uploads_succeeded_total", "HTTP uploads completed with a 2xx status", u64(&m.UploadsSucceeded)},
		{"livecam_uploads_failed_total", "HTTP uploads failed at the transport level", u64(&m.UploadsFailed)},
		{"livecam_uploads_rejected_total", "HTTP uploads answered with a non-2xx status", u64(&m.UploadsRejected)},
		{"livecam_upload_bytes_total", "JPEG bytes sent in HTTP uploads", u64(&m.UploadBytes)},
		{"livecam_mqtt_published_total", "Frames published over MQTT", u64(&m.MQTTPublished)},
		{"livecam_mqtt_errors_total", "MQTT publish errors", u64(&m.MQTTErrors)},
		{"livecam_uploads_in_flight", "HTTP uploads currently in flight", func() float64 { return float64(m.UploadsInFlight.Load()) }},
		{"livecam_upload_latency_ms", "Latency of the last completed upload in milliseconds", u64(&m.UploadLatencyMs)},
		{"livecam_interval_seconds", "Current minimum interval between uploads", u64(&m.IntervalSeconds)},
		{"livecam_last_upload_timestamp_ms", "Unix time of the last successful upload in milliseconds", u64(&m.LastUploadUnixMs)},
	}

	for _, d := range defs {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: d.name, Help: d.help},
			d.value,
		))
	}
	m.registry.MustRegister(m.TransportResults)
}

// ObserveTransport counts one send outcome for the named transport.
func (m *Metrics) ObserveTransport(transport, outcome string) {
	m.TransportResults.WithLabelValues(transport, outcome).Inc()
}

func u64(v *atomic.Uint64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

// ObserveUpload records the latency of a finished upload
func (m *Metrics) ObserveUpload(d time.Duration, ok bool) {
	m.UploadLatencyMs.Store(uint64(d.Milliseconds()))
	if ok {
		m.LastUploadUnixMs.Store(uint64(time.Now().UnixMilli()))
	}
}

// Snapshot is a JSON-friendly copy of the counters
type Snapshot struct {
	FramesSeen       uint64 `json:"frames_seen"`
	FramesAccepted   uint64 `json:"frames_accepted"`
	FramesRejected   uint64 `json:"frames_rejected"`
	FramesDropped    uint64 `json:"frames_dropped"`
	EncodeErrors     uint64 `json:"encode_errors"`
	UploadsStarted   uint64 `json:"uploads_started"`
	UploadsSucceeded uint64 `json:"uploads_succeeded"`
	UploadsFailed    uint64 `json:"uploads_failed"`
	UploadsRejected  uint64 `json:"uploads_rejected"`
	UploadsInFlight  int64  `json:"uploads_in_flight"`
	UploadLatencyMs  uint64 `json:"upload_latency_ms"`
	MQTTPublished    uint64 `json:"mqtt_published"`
	MQTTErrors       uint64 `json:"mqtt_errors"`
}

// Snapshot returns the current counter values
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		FramesSeen:       m.FramesSeen.Load(),
		FramesAccepted:   m.FramesAccepted.Load(),
		FramesRejected:   m.FramesRejected.Load(),
		FramesDropped:    m.FramesDropped.Load(),
		EncodeErrors:     m.EncodeErrors.Load(),
		UploadsStarted:   m.UploadsStarted.Load(),
		UploadsSucceeded: m.UploadsSucceeded.Load(),
		UploadsFailed:    m.UploadsFailed.Load(),
		UploadsRejected:  m.UploadsRejected.Load(),
		UploadsInFlight:  m.UploadsInFlight.Load(),
		UploadLatencyMs:  m.UploadLatencyMs.Load(),
		MQTTPublished:    m.MQTTPublished.Load(),
		MQTTErrors:       m.MQTTErrors.Load(),
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server returns an HTTP server exposing /metrics on addr
func (m *Metrics) Server(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
