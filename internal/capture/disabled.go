package capture

import (
	"context"

	"github.com/skypro1111/voice-capture-service/internal/audio"
)

// DisabledDevice is the capture backend for hosts without an audio stack.
// It reports capture as unsupported so the feature stays hidden.
type DisabledDevice struct{}

// NewDisabledDevice creates a device that never supports capture.
func NewDisabledDevice() *DisabledDevice {
	return &DisabledDevice{}
}

func (d *DisabledDevice) Supported() bool {
	return false
}

func (d *DisabledDevice) Negotiate(preferred []audio.Encoding) (audio.Encoding, bool) {
	return "", false
}

func (d *DisabledDevice) Acquire(ctx context.Context, enc audio.Encoding, opts AcquireOptions) (Stream, error) {
	return nil, ErrUnsupported
}
