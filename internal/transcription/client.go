package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/voice-capture-service/internal/audio"
)

// ErrBusy is returned when a submission arrives while another request is in
// flight. The segment is dropped, not queued; the caller re-records instead.
var ErrBusy = errors.New("transcription already in flight")

// Client submits finalized audio segments to the remote transcription API.
// At most one request is in flight at a time.
type Client struct {
	config     Config
	httpClient *http.Client

	inFlight atomic.Bool

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	droppedRequests uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains transcription client configuration
type Config struct {
	Endpoint  string
	APIKey    string        // optional bearer token
	Timeout   time.Duration // zero means no timeout on the call
	UserAgent string
}

// Response represents the transcription API response body. Only the text
// field is contractual; anything else the endpoint returns is ignored.
type Response struct {
	Text string `json:"text"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	DroppedRequests uint64        `json:"dropped_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	InFlight        bool          `json:"in_flight"`
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.UserAgent == "" {
		config.UserAgent = "Voice-Capture-Service/1.0"
	}

	httpClient := &http.Client{
		// Timeout stays zero when unset: the call runs without a deadline.
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
	}, nil
}

// Transcribe submits one segment and returns the trimmed transcript text.
// If another submission is in flight the segment is dropped and ErrBusy is
// returned. There is no retry: a failed transcription surfaces once and the
// caller must re-record. The in-flight guard is released on every path.
func (c *Client) Transcribe(ctx context.Context, segment *audio.Segment) (string, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.incrementDroppedRequests()
		return "", ErrBusy
	}
	defer c.inFlight.Store(false)

	startTime := time.Now()
	c.incrementTotalRequests()

	text, err := c.doRequest(ctx, segment)
	if err != nil {
		c.incrementFailedRequests()
		return "", err
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(time.Since(startTime))

	return text, nil
}

// InFlight reports whether a submission is currently outstanding.
func (c *Client) InFlight() bool {
	return c.inFlight.Load()
}

// doRequest performs a single HTTP request to the transcription API
func (c *Client) doRequest(ctx context.Context, segment *audio.Segment) (string, error) {
	body, contentType, err := c.createMultipartRequest(segment)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var transcriptionResp Response
	if err := json.Unmarshal(respBody, &transcriptionResp); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return strings.TrimSpace(transcriptionResp.Text), nil
}

// createMultipartRequest creates a multipart/form-data request body carrying
// the segment bytes as the "audio" field with a filename derived from the
// segment's encoding.
func (c *Client) createMultipartRequest(segment *audio.Segment) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("audio", segment.Filename())
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(segment.Bytes()); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementDroppedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.droppedRequests++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		DroppedRequests: c.droppedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
		InFlight:        c.inFlight.Load(),
	}
}
