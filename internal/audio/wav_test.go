package audio

import (
	"bytes"
	"math"
	"testing"

	"github.com/go-audio/wav"
)

func TestEncodePCM16WAV(t *testing.T) {
	samples := make([]int16, 1600) // 100ms at 16kHz
	for i := range samples {
		samples[i] = int16(1000 * math.Sin(float64(i)*0.1))
	}
	pcm := Int16ToBytes(samples)

	data, err := EncodePCM16WAV(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("EncodePCM16WAV failed: %v", err)
	}

	if len(data) != 44+len(pcm) {
		t.Errorf("Expected %d bytes, got %d", 44+len(pcm), len(data))
	}

	// Verify the container with an independent decoder
	decoder := wav.NewDecoder(bytes.NewReader(data))
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		t.Fatal("Decoder rejected the encoded WAV payload")
	}
	if decoder.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", decoder.SampleRate)
	}
	if decoder.NumChans != 1 {
		t.Errorf("Expected mono, got %d channels", decoder.NumChans)
	}
	if decoder.BitDepth != 16 {
		t.Errorf("Expected 16-bit depth, got %d", decoder.BitDepth)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer failed: %v", err)
	}
	if len(buf.Data) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(buf.Data))
	}
	for i, s := range samples {
		if int(s) != buf.Data[i] {
			t.Fatalf("Sample %d mismatch: expected %d, got %d", i, s, buf.Data[i])
		}
	}
}

func TestEncodePCM16WAVErrors(t *testing.T) {
	tests := []struct {
		name       string
		pcm        []byte
		sampleRate int
		channels   int
	}{
		{"empty data", nil, 16000, 1},
		{"odd length", []byte{0x01}, 16000, 1},
		{"zero sample rate", []byte{0x01, 0x02}, 0, 1},
		{"negative sample rate", []byte{0x01, 0x02}, -8000, 1},
		{"zero channels", []byte{0x01, 0x02}, 16000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodePCM16WAV(tt.pcm, tt.sampleRate, tt.channels); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestGetWAVDuration(t *testing.T) {
	pcm := make([]byte, 32000) // 1 second of 16-bit mono at 16kHz
	data, err := EncodePCM16WAV(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("EncodePCM16WAV failed: %v", err)
	}

	duration, err := GetWAVDuration(data)
	if err != nil {
		t.Fatalf("GetWAVDuration failed: %v", err)
	}
	if math.Abs(duration-1.0) > 0.001 {
		t.Errorf("Expected ~1.0s duration, got %f", duration)
	}
}

func TestGetWAVDurationInvalid(t *testing.T) {
	if _, err := GetWAVDuration([]byte("too short")); err == nil {
		t.Error("Expected error for truncated data")
	}

	bogus := make([]byte, 64)
	copy(bogus, "JUNK")
	if _, err := GetWAVDuration(bogus); err == nil {
		t.Error("Expected error for non-WAV data")
	}
}

func TestInt16ToBytes(t *testing.T) {
	data := Int16ToBytes([]int16{0x0102, -1})

	expected := []byte{0x02, 0x01, 0xFF, 0xFF}
	if !bytes.Equal(data, expected) {
		t.Errorf("Expected little-endian %v, got %v", expected, data)
	}
}
