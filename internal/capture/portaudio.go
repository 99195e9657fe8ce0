package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/skypro1111/voice-capture-service/internal/audio"
)

// PortAudioDevice captures from the default system microphone through the
// PortAudio library. It produces raw PCM-16 chunks and assembles them into a
// WAV container at finalize time, so the only encoding it negotiates is WAV.
type PortAudioDevice struct {
	sampleRate      int
	channels        int
	framesPerBuffer int
	logger          *slog.Logger

	initOnce sync.Once
	initErr  error
}

// NewPortAudioDevice creates a PortAudio-backed capture device.
func NewPortAudioDevice(sampleRate, channels, framesPerBuffer int, logger *slog.Logger) *PortAudioDevice {
	return &PortAudioDevice{
		sampleRate:      sampleRate,
		channels:        channels,
		framesPerBuffer: framesPerBuffer,
		logger:          logger,
	}
}

// Supported initializes the PortAudio runtime on first call and reports
// whether the host audio stack is usable. The result never changes
// afterwards.
func (d *PortAudioDevice) Supported() bool {
	d.initOnce.Do(func() {
		d.initErr = portaudio.Initialize()
		if d.initErr != nil {
			d.logger.Warn("PortAudio initialization failed, capture unsupported",
				slog.String("error", d.initErr.Error()),
			)
		}
	})
	return d.initErr == nil
}

// Negotiate picks the first candidate this backend can produce. PortAudio
// delivers raw PCM, so WAV is the only offer it accepts.
func (d *PortAudioDevice) Negotiate(preferred []audio.Encoding) (audio.Encoding, bool) {
	for _, enc := range preferred {
		if enc == audio.EncodingWAV {
			return enc, true
		}
	}
	return "", false
}

// Acquire opens the default input device and starts the capture stream.
func (d *PortAudioDevice) Acquire(ctx context.Context, enc audio.Encoding, opts AcquireOptions) (Stream, error) {
	if !d.Supported() {
		return nil, ErrUnsupported
	}

	if enc != audio.EncodingWAV {
		return nil, fmt.Errorf("%w: encoding %q not producible by this backend", ErrRecordingFailed, enc)
	}

	if _, err := portaudio.DefaultInputDevice(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, err)
	}

	frames := make([]int16, d.framesPerBuffer*d.channels)
	pa, err := portaudio.OpenDefaultStream(d.channels, 0, float64(d.sampleRate), d.framesPerBuffer, frames)
	if err != nil {
		return nil, classifyAcquireError(err)
	}

	if err := pa.Start(); err != nil {
		_ = pa.Close()
		return nil, classifyAcquireError(err)
	}

	// PortAudio has no per-stream toggles for these; the hints are left to
	// the host audio stack and recorded for diagnosis.
	d.logger.Debug("Capture stream acquired",
		slog.Int("sample_rate", d.sampleRate),
		slog.Int("channels", d.channels),
		slog.Int("frames_per_buffer", d.framesPerBuffer),
		slog.Bool("echo_cancellation", opts.EchoCancellation),
		slog.Bool("noise_suppression", opts.NoiseSuppression),
		slog.Bool("auto_gain_control", opts.AutoGainControl),
	)

	s := &portAudioStream{
		pa:         pa,
		frames:     frames,
		sampleRate: d.sampleRate,
		channels:   d.channels,
		chunks:     make(chan []byte, 32),
		quit:       make(chan struct{}),
	}

	go s.run()

	return s, nil
}

// classifyAcquireError maps a PortAudio failure onto the capture error
// taxonomy by inspecting the host error text.
func classifyAcquireError(err error) error {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "access denied"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, err)
	case strings.Contains(msg, "no device") || strings.Contains(msg, "invalid device") ||
		strings.Contains(msg, "device unavailable"):
		return fmt.Errorf("%w: %s", ErrNoDevice, err)
	default:
		return fmt.Errorf("%w: %s", ErrRecordingFailed, err)
	}
}

// portAudioStream is one exclusive PortAudio acquisition.
type portAudioStream struct {
	pa         *portaudio.Stream
	frames     []int16
	sampleRate int
	channels   int

	chunks chan []byte
	quit   chan struct{}

	closeOnce sync.Once
	closeErr  error

	mu  sync.Mutex
	err error
}

// run reads hardware buffers and forwards them as copied PCM chunks until
// the stream is closed or the device fails.
func (s *portAudioStream) run() {
	defer close(s.chunks)

	for {
		select {
		case <-s.quit:
			return
		default:
		}

		if err := s.pa.Read(); err != nil {
			select {
			case <-s.quit:
				// Read failures during shutdown are expected.
				return
			default:
			}
			s.setErr(fmt.Errorf("%w: %s", ErrRecordingFailed, err))
			return
		}

		chunk := audio.Int16ToBytes(s.frames)

		select {
		case s.chunks <- chunk:
		case <-s.quit:
			return
		}
	}
}

func (s *portAudioStream) Chunks() <-chan []byte {
	return s.chunks
}

// Assemble wraps the accumulated PCM bytes into a WAV container.
func (s *portAudioStream) Assemble(raw []byte) ([]byte, error) {
	return audio.EncodePCM16WAV(raw, s.sampleRate, s.channels)
}

// Close stops capture and releases the device handle. Chunks already queued
// for delivery remain readable until the chunk channel closes.
func (s *portAudioStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)

		if err := s.pa.Stop(); err != nil {
			s.closeErr = fmt.Errorf("stop capture stream: %w", err)
		}
		if err := s.pa.Close(); err != nil && s.closeErr == nil {
			s.closeErr = fmt.Errorf("close capture stream: %w", err)
		}
	})
	return s.closeErr
}

func (s *portAudioStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *portAudioStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
