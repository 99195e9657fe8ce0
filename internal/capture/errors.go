package capture

import "errors"

// Capture error taxonomy. Every failure the controller reports wraps one of
// these sentinels so callers can classify outcomes with errors.Is.
var (
	// ErrUnsupported means the host has no audio capture capability.
	// Not retryable; the feature should be hidden.
	ErrUnsupported = errors.New("audio capture not supported")

	// ErrPermissionDenied means the host or user denied microphone access.
	// Retryable once permission is granted.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrNoDevice means no capture device was found.
	ErrNoDevice = errors.New("no microphone found")

	// ErrRecordingFailed is the generic capture-layer fault.
	ErrRecordingFailed = errors.New("failed to start recording")
)
