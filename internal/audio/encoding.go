package audio

// Encoding identifies the container/codec of captured audio.
type Encoding string

const (
	EncodingWAV  Encoding = "wav"
	EncodingMP4  Encoding = "mp4"
	EncodingOGG  Encoding = "ogg"
	EncodingWebM Encoding = "webm"
)

// PreferredEncodings returns the ordered preference list used when
// negotiating an encoding with a capture backend: lossless first, then a
// common compressed container, then the generic fallback.
func PreferredEncodings() []Encoding {
	return []Encoding{EncodingWAV, EncodingOGG, EncodingWebM}
}

// Ext returns the filename extension for the encoding. Unrecognized
// encodings map to "webm".
func (e Encoding) Ext() string {
	switch e {
	case EncodingWAV, EncodingMP4, EncodingOGG, EncodingWebM:
		return string(e)
	default:
		return string(EncodingWebM)
	}
}
