// Package capture defines the interfaces and types for camera and microphone
// capture within Sightline.
//
// The central abstraction is [Source], a live camera/microphone binding that
// delivers continuous microphone frames and on-demand camera snapshots. The
// Source exclusively owns the underlying hardware (or remote-client) tracks;
// the session manager only borrows them for sampling and never releases them
// itself.
//
// This package lives under pkg/ because external code (alternative capture
// adapters) is expected to implement [Source].
package capture

import (
	"context"
	"errors"
	"time"
)

// ErrNoFrame is returned by [Source.SampleImage] when the camera has not yet
// produced a usable frame. Sampling ticks that hit this error are dropped,
// never queued.
var ErrNoFrame = errors.New("capture: no camera frame available")

// Facing identifies which camera the source is bound to.
type Facing int

const (
	// FacingBack is the environment-facing camera, the default for scene
	// narration and walking assistance.
	FacingBack Facing = iota

	// FacingFront is the user-facing camera.
	FacingFront
)

// String returns the human-readable name of the facing direction.
func (f Facing) String() string {
	switch f {
	case FacingBack:
		return "back"
	case FacingFront:
		return "front"
	default:
		return "unknown"
	}
}

// Frame is one microphone buffer captured from the source.
type Frame struct {
	// Samples are normalized mono samples in [-1, 1].
	Samples []float32

	// SampleRate in Hz (16000 for agent input).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Source represents a live camera/microphone binding.
//
// A Source remains valid until [Source.Close] is called. The Audio channel is
// closed automatically when the source terminates.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Audio returns the read-only channel delivering microphone frames as
	// they are captured. The channel is closed when the source is closed or
	// the underlying tracks end.
	Audio() <-chan Frame

	// SampleImage returns the current camera frame as a downscaled JPEG.
	// Returns [ErrNoFrame] while the camera has no usable frame yet.
	SampleImage(ctx context.Context) ([]byte, error)

	// Facing reports which camera the source is currently bound to.
	Facing() Facing

	// SetFacing switches the source to the given camera. Implementations may
	// return an error if the device has no camera in that direction.
	SetFacing(f Facing) error

	// Close releases every underlying track. It is safe to call Close more
	// than once; subsequent calls are no-ops and return nil.
	Close() error
}
