package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/voice-capture-service/internal/audio"
	"github.com/skypro1111/voice-capture-service/internal/capture"
	"github.com/skypro1111/voice-capture-service/internal/metrics"
	"github.com/skypro1111/voice-capture-service/internal/transcription"
)

type fakeStream struct {
	chunks chan []byte

	closeOnce sync.Once
	closed    atomic.Bool

	mu  sync.Mutex
	err error
}

func newFakeStream() *fakeStream {
	return &fakeStream{chunks: make(chan []byte, 64)}
}

func (f *fakeStream) push(chunk []byte) {
	f.chunks <- chunk
}

func (f *fakeStream) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.chunks) })
}

func (f *fakeStream) Chunks() <-chan []byte {
	return f.chunks
}

func (f *fakeStream) Assemble(raw []byte) ([]byte, error) {
	return raw, nil
}

func (f *fakeStream) Close() error {
	f.closed.Store(true)
	f.closeOnce.Do(func() { close(f.chunks) })
	return nil
}

func (f *fakeStream) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

type fakeDevice struct {
	supported  bool
	acquireErr error

	mu      sync.Mutex
	streams []*fakeStream
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{supported: true}
}

func (d *fakeDevice) Supported() bool {
	return d.supported
}

func (d *fakeDevice) Negotiate(preferred []audio.Encoding) (audio.Encoding, bool) {
	if len(preferred) == 0 {
		return "", false
	}
	return preferred[0], true
}

func (d *fakeDevice) Acquire(ctx context.Context, enc audio.Encoding, opts capture.AcquireOptions) (capture.Stream, error) {
	if d.acquireErr != nil {
		return nil, d.acquireErr
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	s := newFakeStream()
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) lastStream() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

type transcribeResult struct {
	text string
	err  error
}

// fakeTranscriber mimics the real client's single in-flight guard so drop
// semantics can be exercised without a network.
type fakeTranscriber struct {
	inFlight atomic.Bool
	dropped  atomic.Int32
	block    chan struct{}

	mu      sync.Mutex
	results []transcribeResult
	calls   int
}

func (f *fakeTranscriber) enqueue(text string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, transcribeResult{text: text, err: err})
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, segment *audio.Segment) (string, error) {
	if !f.inFlight.CompareAndSwap(false, true) {
		f.dropped.Add(1)
		return "", transcription.ErrBusy
	}
	defer f.inFlight.Store(false)

	f.mu.Lock()
	f.calls++
	var res transcribeResult
	if len(f.results) > 0 {
		res = f.results[0]
		f.results = f.results[1:]
	}
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}

	return res.text, res.err
}

func (f *fakeTranscriber) InFlight() bool {
	return f.inFlight.Load()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T, device *fakeDevice, tr *fakeTranscriber) *Pipeline {
	t.Helper()

	ctrl := capture.NewController(device, capture.Config{MinSegmentBytes: 1000}, testLogger())
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	p := New(ctrl, tr, m, testLogger())
	t.Cleanup(p.Close)
	return p
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// recordCycle runs one start/capture/stop round pushing totalBytes of audio.
func recordCycle(t *testing.T, p *Pipeline, device *fakeDevice, totalBytes int) {
	t.Helper()

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	device.lastStream().push(make([]byte, totalBytes))
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestTranscriptAccumulatesAcrossRecordings(t *testing.T) {
	device := newFakeDevice()
	tr := &fakeTranscriber{}
	p := newTestPipeline(t, device, tr)

	tr.enqueue("hello world", nil)
	recordCycle(t, p, device, 2000)
	waitFor(t, func() bool { return p.Snapshot().Transcript == "hello world" },
		"Timed out waiting for first transcript")

	tr.enqueue("it works", nil)
	recordCycle(t, p, device, 2000)
	waitFor(t, func() bool { return p.Snapshot().Transcript == "hello world it works" },
		"Timed out waiting for accumulated transcript")

	st := p.Snapshot()
	if st.Interim != "" {
		t.Errorf("Expected interim cleared, got %q", st.Interim)
	}
	if st.Transcribing {
		t.Error("Expected transcribing flag cleared")
	}
	if st.LastError != "" {
		t.Errorf("Expected no error, got %q", st.LastError)
	}
}

func TestBelowThresholdSkipsTranscription(t *testing.T) {
	device := newFakeDevice()
	tr := &fakeTranscriber{}
	p := newTestPipeline(t, device, tr)

	recordCycle(t, p, device, 500)

	// Give any stray background submission a moment to surface
	time.Sleep(50 * time.Millisecond)

	if tr.callCount() != 0 {
		t.Errorf("Expected no transcription for a below-threshold capture, got %d calls", tr.callCount())
	}

	st := p.Snapshot()
	if st.Transcript != "" || st.Interim != "" || st.LastError != "" {
		t.Errorf("Expected clean state after discard, got %+v", st)
	}
}

func TestTranscriptionFailureLeavesTranscriptUntouched(t *testing.T) {
	device := newFakeDevice()
	tr := &fakeTranscriber{}
	p := newTestPipeline(t, device, tr)

	tr.enqueue("hello", nil)
	recordCycle(t, p, device, 2000)
	waitFor(t, func() bool { return p.Snapshot().Transcript == "hello" },
		"Timed out waiting for first transcript")

	tr.enqueue("", errors.New("endpoint exploded"))
	recordCycle(t, p, device, 2000)
	waitFor(t, func() bool { return p.Snapshot().LastError != "" },
		"Timed out waiting for transcription error")

	st := p.Snapshot()
	if st.Transcript != "hello" {
		t.Errorf("Expected transcript untouched after failure, got %q", st.Transcript)
	}
	if st.LastError != "Failed to transcribe audio" {
		t.Errorf("Unexpected error message: %q", st.LastError)
	}
	if st.Transcribing || st.Interim != "" {
		t.Error("Expected transcription state cleared after failure")
	}

	// No retry happened behind the scenes
	if tr.callCount() != 2 {
		t.Errorf("Expected exactly 2 transcription calls, got %d", tr.callCount())
	}

	// A fresh recording succeeds and clears the error
	tr.enqueue("again", nil)
	recordCycle(t, p, device, 2000)
	waitFor(t, func() bool { return p.Snapshot().Transcript == "hello again" },
		"Timed out waiting for recovery transcript")
	if st := p.Snapshot(); st.LastError != "" {
		t.Errorf("Expected error cleared after success, got %q", st.LastError)
	}
}

func TestBlankTranscriptionAppendsNothing(t *testing.T) {
	device := newFakeDevice()
	tr := &fakeTranscriber{}
	p := newTestPipeline(t, device, tr)

	tr.enqueue("hello", nil)
	recordCycle(t, p, device, 2000)
	waitFor(t, func() bool { return p.Snapshot().Transcript == "hello" },
		"Timed out waiting for first transcript")

	tr.enqueue("", nil)
	recordCycle(t, p, device, 2000)
	waitFor(t, func() bool { return !p.Snapshot().Transcribing },
		"Timed out waiting for blank transcription to finish")

	st := p.Snapshot()
	if st.Transcript != "hello" {
		t.Errorf("Expected blank result to append nothing, got %q", st.Transcript)
	}
	if st.LastError != "" {
		t.Errorf("Expected no error for a blank result, got %q", st.LastError)
	}
}

func TestInterimStatusLifecycle(t *testing.T) {
	device := newFakeDevice()
	tr := &fakeTranscriber{block: make(chan struct{})}
	p := newTestPipeline(t, device, tr)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if st := p.Snapshot(); st.Interim != InterimListening || !st.Listening {
		t.Errorf("Expected listening interim, got %+v", st)
	}

	device.lastStream().push(make([]byte, 2000))
	tr.enqueue("text", nil)
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	st := p.Snapshot()
	if st.Interim != InterimTranscribing || !st.Transcribing {
		t.Errorf("Expected transcribing interim, got %+v", st)
	}
	if st.Listening {
		t.Error("Expected listening cleared after stop")
	}

	close(tr.block)
	waitFor(t, func() bool { return p.Snapshot().Interim == "" },
		"Timed out waiting for interim to clear")
}

func TestStartFailureMessages(t *testing.T) {
	tests := []struct {
		name             string
		acquireErr       error
		wantMessage      string
		permissionDenied bool
	}{
		{"permission denied", capture.ErrPermissionDenied, "microphone permission denied", true},
		{"no device", capture.ErrNoDevice, "no microphone found", false},
		{"generic failure", capture.ErrRecordingFailed, "failed to start recording", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := newFakeDevice()
			device.acquireErr = tt.acquireErr
			p := newTestPipeline(t, device, &fakeTranscriber{})

			if err := p.Start(context.Background()); !errors.Is(err, tt.acquireErr) {
				t.Errorf("Expected %v, got %v", tt.acquireErr, err)
			}

			st := p.Snapshot()
			if st.LastError != tt.wantMessage {
				t.Errorf("Expected error %q, got %q", tt.wantMessage, st.LastError)
			}
			if st.PermissionDenied != tt.permissionDenied {
				t.Errorf("Expected permission_denied=%v, got %v", tt.permissionDenied, st.PermissionDenied)
			}
			if st.Listening {
				t.Error("Expected pipeline idle after failed start")
			}
		})
	}
}

func TestStartClearsPreviousError(t *testing.T) {
	device := newFakeDevice()
	device.acquireErr = capture.ErrNoDevice
	p := newTestPipeline(t, device, &fakeTranscriber{})

	_ = p.Start(context.Background())
	if st := p.Snapshot(); st.LastError == "" {
		t.Fatal("Expected an error after failed start")
	}

	device.acquireErr = nil
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if st := p.Snapshot(); st.LastError != "" {
		t.Errorf("Expected error cleared on fresh start, got %q", st.LastError)
	}
}

func TestResetLeavesActiveSessionAlone(t *testing.T) {
	device := newFakeDevice()
	tr := &fakeTranscriber{}
	p := newTestPipeline(t, device, tr)

	tr.enqueue("hello", nil)
	recordCycle(t, p, device, 2000)
	waitFor(t, func() bool { return p.Snapshot().Transcript == "hello" },
		"Timed out waiting for transcript")

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	p.Reset()

	st := p.Snapshot()
	if st.Transcript != "" {
		t.Errorf("Expected transcript cleared, got %q", st.Transcript)
	}
	if !st.Listening {
		t.Error("Expected reset to leave the capture session running")
	}

	// The still-open session keeps working after the reset
	device.lastStream().push(make([]byte, 2000))
	tr.enqueue("fresh", nil)
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitFor(t, func() bool { return p.Snapshot().Transcript == "fresh" },
		"Timed out waiting for post-reset transcript")
}

func TestOverlappingSegmentDropped(t *testing.T) {
	device := newFakeDevice()
	tr := &fakeTranscriber{block: make(chan struct{})}
	p := newTestPipeline(t, device, tr)

	tr.enqueue("first", nil)
	recordCycle(t, p, device, 2000)
	waitFor(t, tr.InFlight, "Timed out waiting for first submission")

	// A second segment finalized while the first is outstanding is dropped
	tr.enqueue("second", nil)
	recordCycle(t, p, device, 2000)
	waitFor(t, func() bool { return tr.dropped.Load() == 1 },
		"Timed out waiting for overlapping segment to be dropped")

	close(tr.block)
	waitFor(t, func() bool { return p.Snapshot().Transcript != "" },
		"Timed out waiting for transcript")

	time.Sleep(50 * time.Millisecond)
	if st := p.Snapshot(); st.Transcript != "first" {
		t.Errorf("Expected only the first segment transcribed, got %q", st.Transcript)
	}
	if st := p.Snapshot(); st.LastError != "" {
		t.Errorf("Expected a dropped segment to surface no error, got %q", st.LastError)
	}
}

func TestDeviceFailureSurfacesError(t *testing.T) {
	device := newFakeDevice()
	p := newTestPipeline(t, device, &fakeTranscriber{})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	device.lastStream().fail(errors.New("device unplugged"))

	waitFor(t, func() bool { return p.Snapshot().LastError != "" },
		"Timed out waiting for device failure to surface")

	st := p.Snapshot()
	if st.Listening {
		t.Error("Expected pipeline idle after device failure")
	}
	if st.Interim != "" {
		t.Errorf("Expected interim cleared, got %q", st.Interim)
	}
}

func TestSubscribeDeliversTransitions(t *testing.T) {
	device := newFakeDevice()
	tr := &fakeTranscriber{}
	p := newTestPipeline(t, device, tr)

	updates, cancel := p.Subscribe()
	defer cancel()

	tr.enqueue("hello", nil)
	recordCycle(t, p, device, 2000)

	sawListening := false
	sawTranscript := false
	deadline := time.After(2 * time.Second)
	for !sawTranscript {
		select {
		case st := <-updates:
			if st.Interim == InterimListening {
				sawListening = true
			}
			if st.Transcript == "hello" {
				sawTranscript = true
			}
		case <-deadline:
			t.Fatal("Timed out waiting for subscription updates")
		}
	}

	if !sawListening {
		t.Error("Expected a listening transition to be published")
	}
}

func TestUnsupportedHost(t *testing.T) {
	device := newFakeDevice()
	device.supported = false
	p := newTestPipeline(t, device, &fakeTranscriber{})

	if p.Supported() {
		t.Error("Expected unsupported host")
	}

	err := p.Start(context.Background())
	if !errors.Is(err, capture.ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
	if st := p.Snapshot(); st.LastError != "" {
		t.Errorf("Expected no recorded error on unsupported host, got %q", st.LastError)
	}
}
