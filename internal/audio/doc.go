// Package audio provides encoding identifiers, per-session chunk
// accumulation, and WAV container assembly for finalized segments.
package audio
