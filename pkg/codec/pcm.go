// Package codec converts between normalized floating-point sample buffers,
// 16-bit signed little-endian PCM, and the base64 text encoding used on the
// realtime agent channel.
//
// All functions are stateless and safe for concurrent use.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedPCM is returned when a byte sequence cannot be interpreted as
// 16-bit PCM: empty input or an odd byte count (a truncated sample).
var ErrMalformedPCM = errors.New("codec: malformed PCM data")

// EncodePCM converts normalized float samples (range [-1, 1]) into 16-bit
// signed little-endian PCM. Out-of-range samples are clamped. The conversion
// is reversible via [DecodePCM] within one quantization step (1/32768).
func EncodePCM(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM converts 16-bit signed little-endian PCM back into normalized
// float samples. Returns [ErrMalformedPCM] on empty input or an odd byte
// count.
func DecodePCM(pcm []byte) ([]float32, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedPCM)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrMalformedPCM, len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(v) / 32768
	}
	return out, nil
}

// EncodeBase64 wraps raw bytes in the transport-safe text encoding used for
// media chunks on the agent channel.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 reverses [EncodeBase64].
func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("codec: base64 decode: %w", err)
	}
	return data, nil
}

// Buffer is a decoded audio chunk ready for playback scheduling.
type Buffer struct {
	// Samples are normalized mono samples in [-1, 1].
	Samples []float32

	// SampleRate in Hz (e.g., 24000 for agent output).
	SampleRate int
}

// Duration returns the playback duration of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// DecodeAudio interprets data as 16-bit signed little-endian PCM at the given
// sample rate and returns a playable [Buffer]. Returns [ErrMalformedPCM] on
// malformed or truncated input and an error for a non-positive sample rate.
func DecodeAudio(data []byte, sampleRate int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("codec: invalid sample rate %d", sampleRate)
	}
	samples, err := DecodePCM(data)
	if err != nil {
		return nil, err
	}
	return &Buffer{Samples: samples, SampleRate: sampleRate}, nil
}

// Level computes the RMS volume of a sample buffer, used for input level
// visualisation. Returns 0 for an empty buffer.
func Level(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
