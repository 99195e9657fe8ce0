package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/voice-capture-service/internal/audio"
)

// DefaultMinSegmentBytes is the threshold below which a finalized capture is
// treated as noise and discarded instead of being transcribed.
const DefaultMinSegmentBytes = 1000

// Config contains capture controller configuration
type Config struct {
	MinSegmentBytes int
	Options         AcquireOptions
}

// Event reports an asynchronous session termination caused by a device
// fault. Explicit stops do not produce events; their outcome is returned
// from Stop directly.
type Event struct {
	SessionID string
	Err       error
}

// session represents one open microphone acquisition. It is created on
// successful device acquisition, consumed on finalize, and never reused.
type session struct {
	id        string
	encoding  audio.Encoding
	stream    Stream
	buffer    *audio.SegmentBuffer
	startedAt time.Time

	// closed once the chunk channel is closed and every queued chunk has
	// been appended to the buffer
	drained chan struct{}
}

// Controller owns the microphone device handle and the recording session
// lifecycle: Idle -> Listening -> Finalizing -> Idle. At most one session is
// open at any time.
type Controller struct {
	device    Device
	cfg       Config
	logger    *slog.Logger
	supported bool

	mu      sync.Mutex
	session *session

	events chan Event

	// Statistics
	sessionsStarted   uint64
	segmentsFinalized uint64
	segmentsDiscarded uint64
}

// Stats represents controller statistics for monitoring
type Stats struct {
	Supported         bool   `json:"supported"`
	Listening         bool   `json:"listening"`
	SessionsStarted   uint64 `json:"sessions_started"`
	SegmentsFinalized uint64 `json:"segments_finalized"`
	SegmentsDiscarded uint64 `json:"segments_discarded"`
}

// NewController creates a capture controller bound to a device. The device's
// capability answer is taken once here and treated as static afterwards.
func NewController(device Device, cfg Config, logger *slog.Logger) *Controller {
	if cfg.MinSegmentBytes <= 0 {
		cfg.MinSegmentBytes = DefaultMinSegmentBytes
	}

	return &Controller{
		device:    device,
		cfg:       cfg,
		logger:    logger,
		supported: device.Supported(),
		events:    make(chan Event, 4),
	}
}

// Supported reports whether audio capture is available on this host.
func (c *Controller) Supported() bool {
	return c.supported
}

// Listening reports whether a capture session is currently open.
func (c *Controller) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Events delivers asynchronous device-failure notifications. The channel is
// never closed; receivers select on it for the controller's lifetime.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Start acquires the default microphone, negotiates an encoding, and opens a
// new capture session. It is a no-op when a session is already open. Every
// failure leaves the controller fully idle and wraps one of the sentinel
// errors in this package.
func (c *Controller) Start(ctx context.Context) error {
	if !c.supported {
		return ErrUnsupported
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		// Already listening; a second start must not open a second
		// device handle.
		return nil
	}

	enc, ok := c.device.Negotiate(audio.PreferredEncodings())
	if !ok {
		// No candidate matched; fall through with the generic container
		// and let the device decide what it emits.
		enc = audio.EncodingWebM
	}

	stream, err := c.device.Acquire(ctx, enc, c.cfg.Options)
	if err != nil {
		return fmt.Errorf("acquire microphone: %w", err)
	}

	sess := &session{
		id:        uuid.NewString(),
		encoding:  enc,
		stream:    stream,
		buffer:    audio.NewSegmentBuffer(),
		startedAt: time.Now(),
		drained:   make(chan struct{}),
	}
	c.session = sess
	c.sessionsStarted++

	go c.consume(sess)

	c.logger.Info("Capture session started",
		slog.String("session_id", sess.id),
		slog.String("encoding", string(sess.encoding)),
	)

	return nil
}

// Stop finalizes the active session: the device handle is released, chunks
// already queued for delivery are drained into the buffer, and the
// accumulated bytes are assembled into one segment. A capture at or below
// the minimum byte threshold is discarded as noise and Stop returns
// (nil, nil), as it does when no session is active.
func (c *Controller) Stop() (*audio.Segment, error) {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	if sess == nil {
		return nil, nil
	}

	// Release the device handle first; nothing below may prevent it.
	closeErr := sess.stream.Close()
	<-sess.drained

	if closeErr != nil {
		c.logger.Warn("Error releasing capture stream",
			slog.String("session_id", sess.id),
			slog.String("error", closeErr.Error()),
		)
	}

	duration := time.Since(sess.startedAt)

	if sess.buffer.Len() <= c.cfg.MinSegmentBytes {
		c.mu.Lock()
		c.segmentsDiscarded++
		c.mu.Unlock()

		c.logger.Info("Capture below minimum size, discarded as noise",
			slog.String("session_id", sess.id),
			slog.Int("bytes", sess.buffer.Len()),
			slog.Int("min_bytes", c.cfg.MinSegmentBytes),
			slog.Duration("duration", duration),
		)
		return nil, nil
	}

	raw, err := sess.buffer.Assemble()
	if err != nil {
		return nil, fmt.Errorf("assemble capture buffer: %w", err)
	}

	payload, err := sess.stream.Assemble(raw)
	if err != nil {
		return nil, fmt.Errorf("finalize segment: %w", err)
	}

	segment := audio.NewSegment(payload, sess.encoding)

	c.mu.Lock()
	c.segmentsFinalized++
	c.mu.Unlock()

	c.logger.Info("Capture session finalized",
		slog.String("session_id", sess.id),
		slog.String("encoding", string(segment.Encoding())),
		slog.Int("segment_bytes", segment.Size()),
		slog.Duration("duration", duration),
	)

	return segment, nil
}

// consume appends delivered chunks to the session buffer until the stream's
// chunk channel closes, then reports a device fault if the stream ended on
// its own rather than through Stop.
func (c *Controller) consume(sess *session) {
	for chunk := range sess.stream.Chunks() {
		sess.buffer.Append(chunk)
	}
	close(sess.drained)

	err := sess.stream.Err()
	if err == nil {
		return
	}

	c.mu.Lock()
	current := c.session == sess
	if current {
		c.session = nil
	}
	c.mu.Unlock()

	if !current {
		// Stop already took ownership of the session; it observes the
		// drained buffer and finishes the finalize path itself.
		return
	}

	// The stream failed while listening. Its Close is idempotent, so
	// releasing here cannot double-free the handle.
	_ = sess.stream.Close()

	c.logger.Error("Capture device failed mid-session",
		slog.String("session_id", sess.id),
		slog.String("error", err.Error()),
	)

	select {
	case c.events <- Event{SessionID: sess.id, Err: err}:
	default:
		c.logger.Warn("Dropping capture event, subscriber not draining",
			slog.String("session_id", sess.id),
		)
	}
}

// GetStats returns current controller statistics
func (c *Controller) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Supported:         c.supported,
		Listening:         c.session != nil,
		SessionsStarted:   c.sessionsStarted,
		SegmentsFinalized: c.segmentsFinalized,
		SegmentsDiscarded: c.segmentsDiscarded,
	}
}
