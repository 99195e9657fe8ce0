// Package transcription implements the HTTP client for the transcription API.
// It submits one finalized audio segment at a time as multipart form data
// and parses the returned transcript text.
package transcription
