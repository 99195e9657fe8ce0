// Package pipeline connects audio capture to transcription and owns the
// accumulated transcript. It is the single writer of user-visible state:
// transcript text, interim status, and error messages.
package pipeline
