// Package capture manages microphone acquisition and the recording session
// lifecycle. It owns the device handle for the duration of one session,
// accumulates delivered chunks, and finalizes each session into at most one
// audio segment.
package capture
