// Package mock provides a scripted test double for the capture package.
package mock

import (
	"context"
	"sync"

	"github.com/sightlinehq/sightline/pkg/capture"
)

// Source is a mock implementation of capture.Source.
// Callers should pre-populate AudioCh, then close it to signal the end of the
// microphone stream.
type Source struct {
	mu sync.Mutex

	// AudioCh is the channel returned by Audio(). Callers own this channel.
	AudioCh chan capture.Frame

	// Image is returned by SampleImage when ImageErr is nil.
	Image []byte

	// ImageErr, if non-nil, is returned by every SampleImage call
	// (set to capture.ErrNoFrame to simulate a camera that is not ready).
	ImageErr error

	// SetFacingErr, if non-nil, is returned by every SetFacing call.
	SetFacingErr error

	facing capture.Facing

	// SampleCalls is the number of times SampleImage was called.
	SampleCalls int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Audio returns AudioCh.
func (s *Source) Audio() <-chan capture.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AudioCh
}

// SampleImage records the call and returns Image, ImageErr.
func (s *Source) SampleImage(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SampleCalls++
	if s.ImageErr != nil {
		return nil, s.ImageErr
	}
	cp := make([]byte, len(s.Image))
	copy(cp, s.Image)
	return cp, nil
}

// Facing returns the current facing direction.
func (s *Source) Facing() capture.Facing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.facing
}

// SetFacing records the new direction and returns SetFacingErr.
func (s *Source) SetFacing(f capture.Facing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetFacingErr != nil {
		return s.SetFacingErr
	}
	s.facing = f
	return nil
}

// Close records the call.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

// Samples returns the number of SampleImage calls. Thread-safe.
func (s *Source) Samples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SampleCalls
}

// SetImageErr updates ImageErr. Thread-safe; useful to flip a mock camera
// from not-ready to ready mid-test.
func (s *Source) SetImageErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ImageErr = err
}

// Closes returns the number of Close calls. Thread-safe.
func (s *Source) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Ensure Source implements capture.Source at compile time.
var _ capture.Source = (*Source)(nil)
