package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice capture service
type Metrics struct {
	// Capture session metrics
	SessionsStarted prometheus.Counter
	SessionActive   prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Segment metrics
	SegmentsFinalized prometheus.Counter
	SegmentsDiscarded prometheus.Counter
	SegmentSize       prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDropped   prometheus.Counter
	TranscriptionDuration  prometheus.Histogram

	// Transcript metrics
	TranscriptAppends prometheus.Counter
	TranscriptLength  prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics on the default
// registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics on the given registerer. Tests pass a
// private registry to avoid duplicate registration across cases.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Capture session metrics
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "vcs_capture_sessions_started_total",
			Help: "Total number of capture sessions opened",
		}),
		SessionActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vcs_capture_session_active",
			Help: "Whether a capture session is currently open (0 or 1)",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vcs_capture_session_duration_seconds",
			Help:    "Duration of capture sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),

		// Segment metrics
		SegmentsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "vcs_segments_finalized_total",
			Help: "Total number of audio segments finalized for transcription",
		}),
		SegmentsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "vcs_segments_discarded_total",
			Help: "Total number of captures discarded as below-threshold noise",
		}),
		SegmentSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vcs_segment_size_bytes",
			Help:    "Size of finalized audio segments in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "vcs_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "vcs_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "vcs_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "vcs_transcription_dropped_total",
			Help: "Total number of segments dropped because a request was in flight",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vcs_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// Transcript metrics
		TranscriptAppends: factory.NewCounter(prometheus.CounterOpts{
			Name: "vcs_transcript_appends_total",
			Help: "Total number of phrases appended to the transcript",
		}),
		TranscriptLength: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vcs_transcript_length_chars",
			Help: "Current length of the accumulated transcript in characters",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vcs_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vcs_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vcs_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionStarted marks a capture session as opened
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.SessionActive.Set(1)
}

// RecordSessionStopped marks the capture session as closed and records its duration
func (m *Metrics) RecordSessionStopped(durationSeconds float64) {
	m.SessionActive.Set(0)
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSegmentFinalized records a finalized audio segment
func (m *Metrics) RecordSegmentFinalized(sizeBytes int) {
	m.SegmentsFinalized.Inc()
	m.SegmentSize.Observe(float64(sizeBytes))
}

// RecordSegmentDiscarded records a below-threshold capture discard
func (m *Metrics) RecordSegmentDiscarded() {
	m.SegmentsDiscarded.Inc()
}

// RecordTranscriptionRequest increments the transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionDropped records a segment dropped by the in-flight guard
func (m *Metrics) RecordTranscriptionDropped() {
	m.TranscriptionDropped.Inc()
}

// RecordTranscriptAppend records a phrase appended to the transcript
func (m *Metrics) RecordTranscriptAppend(transcriptLength int) {
	m.TranscriptAppends.Inc()
	m.TranscriptLength.Set(float64(transcriptLength))
}

// ResetTranscriptLength zeroes the transcript length gauge
func (m *Metrics) ResetTranscriptLength() {
	m.TranscriptLength.Set(0)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
