package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/voice-capture-service/internal/audio"
	"github.com/skypro1111/voice-capture-service/internal/capture"
	"github.com/skypro1111/voice-capture-service/internal/metrics"
	"github.com/skypro1111/voice-capture-service/internal/transcription"
)

// Interim status strings surfaced while a recording or transcription is
// outstanding. Consumers render them verbatim.
const (
	InterimListening    = "Listening..."
	InterimTranscribing = "Transcribing..."
)

// User-facing error messages. The exact wording is contractual; consumers
// match on it.
const (
	msgPermissionDenied    = "microphone permission denied"
	msgNoDevice            = "no microphone found"
	msgRecordingFailed     = "failed to start recording"
	msgRecordingError      = "recording error"
	msgTranscriptionFailed = "Failed to transcribe audio"
)

// Transcriber converts one finalized segment to text. At most one conversion
// is in flight; an overlapping call returns transcription.ErrBusy.
type Transcriber interface {
	Transcribe(ctx context.Context, segment *audio.Segment) (string, error)
	InFlight() bool
}

// Status is a point-in-time snapshot of the pipeline visible to API
// consumers.
type Status struct {
	Transcript       string `json:"transcript"`
	Interim          string `json:"interim,omitempty"`
	Listening        bool   `json:"listening"`
	Transcribing     bool   `json:"transcribing"`
	Supported        bool   `json:"supported"`
	PermissionDenied bool   `json:"permission_denied"`
	LastError        string `json:"last_error,omitempty"`
}

// Pipeline connects the capture controller to the transcription client and
// owns the accumulated transcript. All state transitions funnel through it,
// and every transition is published to subscribers.
type Pipeline struct {
	ctrl        *capture.Controller
	transcriber Transcriber
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu               sync.Mutex
	transcript       string
	interim          string
	transcribing     bool
	permissionDenied bool
	lastError        string
	startedAt        time.Time

	subs    map[uint64]chan Status
	nextSub uint64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a pipeline and starts watching the controller for asynchronous
// device failures. Metrics may be nil.
func New(ctrl *capture.Controller, transcriber Transcriber, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	p := &Pipeline{
		ctrl:        ctrl,
		transcriber: transcriber,
		metrics:     m,
		logger:      logger,
		subs:        make(map[uint64]chan Status),
		done:        make(chan struct{}),
	}

	p.wg.Add(1)
	go p.watchDevice()

	return p
}

// Supported reports whether audio capture is available on this host.
func (p *Pipeline) Supported() bool {
	return p.ctrl.Supported()
}

// Start opens a capture session. Starting clears the previous error so a
// fresh attempt is not haunted by an old failure. When a session is already
// open this is a no-op.
func (p *Pipeline) Start(ctx context.Context) error {
	err := p.ctrl.Start(ctx)

	p.mu.Lock()
	switch {
	case err == nil:
		p.interim = InterimListening
		p.lastError = ""
		p.permissionDenied = false
		p.startedAt = time.Now()
	case errors.Is(err, capture.ErrUnsupported):
		// Capture is structurally unavailable; there is no error state to
		// record because the consumer never offers the control.
	case errors.Is(err, capture.ErrPermissionDenied):
		p.permissionDenied = true
		p.lastError = msgPermissionDenied
	case errors.Is(err, capture.ErrNoDevice):
		p.lastError = msgNoDevice
	default:
		p.lastError = msgRecordingFailed
	}
	p.mu.Unlock()

	if err == nil && p.metrics != nil {
		p.metrics.RecordSessionStarted()
	}

	p.publish()
	return err
}

// Stop finalizes the active session and, when the capture survives the noise
// threshold, submits the segment for transcription in the background. Stop
// never blocks on the transcription endpoint.
func (p *Pipeline) Stop() error {
	wasListening := p.ctrl.Listening()

	segment, err := p.ctrl.Stop()

	if wasListening && p.metrics != nil {
		p.mu.Lock()
		started := p.startedAt
		p.mu.Unlock()
		p.metrics.RecordSessionStopped(time.Since(started).Seconds())
	}

	if err != nil {
		p.mu.Lock()
		p.interim = ""
		p.lastError = msgRecordingError
		p.mu.Unlock()
		p.publish()
		return err
	}

	if segment == nil {
		// Either nothing was recorded or the capture was discarded as
		// noise. Both end quietly.
		if wasListening && p.metrics != nil {
			p.metrics.RecordSegmentDiscarded()
		}
		p.mu.Lock()
		p.interim = ""
		p.mu.Unlock()
		p.publish()
		return nil
	}

	if p.metrics != nil {
		p.metrics.RecordSegmentFinalized(segment.Size())
	}

	p.mu.Lock()
	p.interim = InterimTranscribing
	p.transcribing = true
	p.mu.Unlock()
	p.publish()

	p.wg.Add(1)
	go p.transcribe(segment)

	return nil
}

// Reset clears the accumulated transcript, the interim status, and the last
// error. It never touches an active capture session or an in-flight
// transcription.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.transcript = ""
	p.interim = ""
	p.lastError = ""
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.ResetTranscriptLength()
	}

	p.publish()
}

// Snapshot returns the current pipeline status.
func (p *Pipeline) Snapshot() Status {
	p.mu.Lock()
	st := Status{
		Transcript:       p.transcript,
		Interim:          p.interim,
		Transcribing:     p.transcribing,
		PermissionDenied: p.permissionDenied,
		LastError:        p.lastError,
	}
	p.mu.Unlock()

	st.Listening = p.ctrl.Listening()
	st.Supported = p.ctrl.Supported()
	return st
}

// Subscribe registers a status listener. Every state transition delivers a
// snapshot on the returned channel; a slow listener misses updates rather
// than blocking the pipeline. The cancel function releases the subscription.
func (p *Pipeline) Subscribe() (<-chan Status, func()) {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	ch := make(chan Status, 8)
	p.subs[id] = ch
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		if _, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(ch)
		}
		p.mu.Unlock()
	}

	return ch, cancel
}

// Close stops the device watcher, releases any open capture session, and
// waits for background work to finish. In-flight transcriptions complete
// before Close returns.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_, _ = p.ctrl.Stop()
	})
	p.wg.Wait()

	p.mu.Lock()
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
	p.mu.Unlock()
}

// transcribe runs one background transcription and folds the outcome into
// the transcript state.
func (p *Pipeline) transcribe(segment *audio.Segment) {
	defer p.wg.Done()

	if p.metrics != nil {
		p.metrics.RecordTranscriptionRequest()
	}

	startTime := time.Now()
	text, err := p.transcriber.Transcribe(context.Background(), segment)
	elapsed := time.Since(startTime)

	if errors.Is(err, transcription.ErrBusy) {
		// Another segment is already being transcribed. This one is
		// dropped; the outstanding request owns the interim status and
		// clears it when it completes.
		if p.metrics != nil {
			p.metrics.RecordTranscriptionDropped()
		}
		p.logger.Warn("Segment dropped, transcription already in flight",
			slog.Int("segment_bytes", segment.Size()),
		)
		return
	}

	p.mu.Lock()
	p.interim = ""
	p.transcribing = false

	switch {
	case err != nil:
		// The transcript is left untouched. There is no retry; the user
		// re-records instead.
		p.lastError = msgTranscriptionFailed
	case text != "":
		if p.transcript == "" {
			p.transcript = text
		} else {
			p.transcript += " " + text
		}
		p.lastError = ""
	default:
		// The endpoint heard nothing. Not an error, nothing to append.
	}
	transcriptLen := len(p.transcript)
	p.mu.Unlock()

	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordTranscriptionFailure(elapsed.Seconds())
		}
		p.logger.Error("Transcription failed",
			slog.Int("segment_bytes", segment.Size()),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
	} else {
		if p.metrics != nil {
			p.metrics.RecordTranscriptionSuccess(elapsed.Seconds())
			if text != "" {
				p.metrics.RecordTranscriptAppend(transcriptLen)
			}
		}
		p.logger.Info("Transcription completed",
			slog.Int("segment_bytes", segment.Size()),
			slog.Int("text_chars", len(text)),
			slog.Duration("elapsed", elapsed),
		)
	}

	p.publish()
}

// watchDevice consumes asynchronous device-failure events from the
// controller. A device fault ends the session without a segment; the
// interim status is cleared and the fault is surfaced as the last error.
func (p *Pipeline) watchDevice() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case ev := <-p.ctrl.Events():
			p.mu.Lock()
			p.interim = ""
			p.lastError = msgRecordingError
			p.mu.Unlock()

			if p.metrics != nil {
				p.metrics.RecordSessionStopped(time.Since(p.sessionStart()).Seconds())
			}

			p.logger.Warn("Capture session ended by device failure",
				slog.String("session_id", ev.SessionID),
				slog.String("error", ev.Err.Error()),
			)

			p.publish()
		}
	}
}

func (p *Pipeline) sessionStart() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// publish fans the current snapshot out to all subscribers without blocking.
func (p *Pipeline) publish() {
	st := p.Snapshot()

	p.mu.Lock()
	for _, ch := range p.subs {
		select {
		case ch <- st:
		default:
		}
	}
	p.mu.Unlock()
}
