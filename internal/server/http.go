package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/voice-capture-service/internal/capture"
	"github.com/skypro1111/voice-capture-service/internal/config"
	"github.com/skypro1111/voice-capture-service/internal/metrics"
	"github.com/skypro1111/voice-capture-service/internal/pipeline"
	"github.com/skypro1111/voice-capture-service/internal/transcription"
)

// HTTPServer provides the HTTP API for recording control and monitoring
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	pipeline *pipeline.Pipeline
	ctrl     *capture.Controller
	client   *transcription.Client
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, p *pipeline.Pipeline, ctrl *capture.Controller,
	client *transcription.Client, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		pipeline:  p,
		ctrl:      ctrl,
		client:    client,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Recording lifecycle endpoints
	mux.HandleFunc("/v1/recording/start", h.withMetrics("/v1/recording/start", h.handleStart))
	mux.HandleFunc("/v1/recording/stop", h.withMetrics("/v1/recording/stop", h.handleStop))
	mux.HandleFunc("/v1/recording/reset", h.withMetrics("/v1/recording/reset", h.handleReset))
	mux.HandleFunc("/v1/recording/status", h.withMetrics("/v1/recording/status", h.handleStatus))
	mux.HandleFunc("/v1/recording/transcript", h.withMetrics("/v1/recording/transcript", h.handleTranscript))

	// Status push over WebSocket. The upgrade needs the raw response writer,
	// so this route skips the metrics wrapper.
	mux.HandleFunc("/v1/recording/events", h.handleEvents)

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the configured route handler
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// writeJSON writes a JSON response with the given status code
func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// handleStart implements POST /v1/recording/start
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	err := h.pipeline.Start(r.Context())
	if err != nil {
		h.writeJSON(w, startErrorStatus(err), map[string]interface{}{
			"error":  err.Error(),
			"status": h.pipeline.Snapshot(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, h.pipeline.Snapshot())
}

// startErrorStatus maps capture acquisition failures to HTTP status codes
func startErrorStatus(err error) int {
	switch {
	case errors.Is(err, capture.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, capture.ErrNoDevice):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// handleStop implements POST /v1/recording/stop
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.pipeline.Stop(); err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":  err.Error(),
			"status": h.pipeline.Snapshot(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, h.pipeline.Snapshot())
}

// handleReset implements POST /v1/recording/reset
func (h *HTTPServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.pipeline.Reset()
	h.writeJSON(w, http.StatusOK, h.pipeline.Snapshot())
}

// handleStatus implements GET /v1/recording/status
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, h.pipeline.Snapshot())
}

// handleTranscript implements GET /v1/recording/transcript
func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st := h.pipeline.Snapshot()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transcript": st.Transcript,
		"timestamp":  time.Now().UTC(),
	})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	captureStats := h.ctrl.GetStats()
	transcriptionStats := h.client.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "voice-capture-service",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"capture": map[string]interface{}{
				"status":             "running",
				"supported":          captureStats.Supported,
				"listening":          captureStats.Listening,
				"sessions_started":   captureStats.SessionsStarted,
				"segments_finalized": captureStats.SegmentsFinalized,
				"segments_discarded": captureStats.SegmentsDiscarded,
			},
			"transcription": map[string]interface{}{
				"status":         "running",
				"total_requests": transcriptionStats.TotalRequests,
				"success_rate":   transcriptionStats.SuccessRate,
				"in_flight":      transcriptionStats.InFlight,
			},
		},
	}

	h.writeJSON(w, http.StatusOK, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"port":    h.config.HTTP.Port,
			"address": h.config.HTTP.Address,
		},
		"capture": map[string]interface{}{
			"backend":           h.config.Capture.Backend,
			"sample_rate":       h.config.Capture.SampleRate,
			"channels":          h.config.Capture.Channels,
			"frames_per_buffer": h.config.Capture.FramesPerBuffer,
			"min_segment_bytes": h.config.Capture.MinSegmentBytes,
			"echo_cancellation": h.config.Capture.EchoCancellation,
			"noise_suppression": h.config.Capture.NoiseSuppression,
			"auto_gain_control": h.config.Capture.AutoGainControl,
		},
		"transcription": map[string]interface{}{
			"endpoint": h.config.Transcription.Endpoint,
			"timeout":  h.config.Transcription.Timeout,
			// Note: API key is intentionally omitted for security
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	h.writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":        uptime.String(),
		"timestamp":     time.Now().UTC(),
		"capture":       h.ctrl.GetStats(),
		"transcription": h.client.GetStats(),
		"recording":     h.pipeline.Snapshot(),
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Voice Capture Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                          "API documentation",
			"POST /v1/recording/start":       "Open a capture session",
			"POST /v1/recording/stop":        "Finalize the session and transcribe",
			"POST /v1/recording/reset":       "Clear the accumulated transcript",
			"GET /v1/recording/status":       "Current recording status",
			"GET /v1/recording/transcript":   "Accumulated transcript text",
			"GET /v1/recording/events":       "Status updates over WebSocket",
			"GET /health":                    "Service health check",
			"GET /config":                    "Get service configuration",
			"GET /stats":                     "Get service statistics",
			"GET /metrics":                   "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}
