package audio

import (
	"fmt"
	"time"
)

// Segment is one finalized audio payload representing a single
// start-to-stop recording. Immutable once constructed.
type Segment struct {
	data     []byte
	encoding Encoding
	created  time.Time
}

// NewSegment constructs a finalized segment from an assembled payload.
func NewSegment(data []byte, encoding Encoding) *Segment {
	return &Segment{
		data:     data,
		encoding: encoding,
		created:  time.Now(),
	}
}

// Bytes returns the segment payload.
func (s *Segment) Bytes() []byte {
	return s.data
}

// Encoding returns the segment's encoding identifier.
func (s *Segment) Encoding() Encoding {
	return s.encoding
}

// Size returns the payload size in bytes.
func (s *Segment) Size() int {
	return len(s.data)
}

// Filename returns the upload filename for the segment, derived from its
// encoding identifier.
func (s *Segment) Filename() string {
	return "audio." + s.encoding.Ext()
}

// SegmentBuffer accumulates encoded chunks for one capture session and
// assembles them exactly once. It is owned by a single session goroutine
// between Append calls; Assemble consumes the buffer so a second assembly
// of the same session is a structural impossibility for the caller.
type SegmentBuffer struct {
	chunks    [][]byte
	size      int
	assembled bool
}

// NewSegmentBuffer creates an empty segment buffer.
func NewSegmentBuffer() *SegmentBuffer {
	return &SegmentBuffer{}
}

// Append adds a chunk to the buffer, preserving arrival order. Zero-length
// chunks are dropped silently; the capture layer produces them routinely
// and they carry no audio.
func (b *SegmentBuffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)
}

// Len returns the total number of accumulated bytes.
func (b *SegmentBuffer) Len() int {
	return b.size
}

// Chunks returns the number of accumulated chunks.
func (b *SegmentBuffer) Chunks() int {
	return len(b.chunks)
}

// Assemble concatenates the accumulated chunks into one payload and
// invalidates the buffer. Calling it a second time is a logic error and
// returns an error rather than a duplicate payload.
func (b *SegmentBuffer) Assemble() ([]byte, error) {
	if b.assembled {
		return nil, fmt.Errorf("segment buffer already assembled")
	}
	b.assembled = true

	data := make([]byte, 0, b.size)
	for _, chunk := range b.chunks {
		data = append(data, chunk...)
	}
	b.chunks = nil

	return data, nil
}
