package capture

import (
	"context"

	"github.com/skypro1111/voice-capture-service/internal/audio"
)

// AcquireOptions carries the processing hints requested from the host when
// acquiring a microphone stream. Backends that cannot honor a hint ignore it.
type AcquireOptions struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Device is the host-environment boundary for audio capture. Implementations
// wrap a platform audio API; tests substitute scripted fakes.
type Device interface {
	// Supported reports whether the host exposes audio capture at all.
	// The answer is evaluated once and treated as static for the device's
	// lifetime.
	Supported() bool

	// Negotiate returns the first encoding from the ordered candidate list
	// that the device can produce. ok is false when none match.
	Negotiate(preferred []audio.Encoding) (enc audio.Encoding, ok bool)

	// Acquire requests exclusive access to the default microphone and
	// starts chunk delivery in the negotiated encoding. Failures wrap
	// ErrPermissionDenied, ErrNoDevice, or ErrRecordingFailed.
	Acquire(ctx context.Context, enc audio.Encoding, opts AcquireOptions) (Stream, error)
}

// Stream is one exclusive microphone acquisition. It is owned by a single
// capture session and never reused.
type Stream interface {
	// Chunks delivers encoded audio chunks in capture order. The channel
	// is closed after Close has been called and all chunks queued before
	// the close have been delivered, or when the device fails mid-stream.
	Chunks() <-chan []byte

	// Assemble converts the concatenated chunk bytes into the final
	// container payload for the stream's encoding.
	Assemble(raw []byte) ([]byte, error)

	// Close releases the underlying device handle and flushes pending
	// chunks. Safe to call more than once.
	Close() error

	// Err returns the terminal device error, if the stream ended because
	// of one rather than an explicit Close.
	Err() error
}
