// Package feedback synthesises short audio and haptic cues for session
// events: connect, disconnect, error, and mode switch.
//
// Cues are deliberately non-verbal so they never collide with the agent's
// spoken output. Hardware access goes through the narrow [ToneOutput] and
// [HapticOutput] interfaces; tone buffers are synthesised lazily on first
// use and cached.
package feedback

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/sightlinehq/sightline/pkg/codec"
)

// ToneOutput plays a synthesised PCM buffer on the local output device.
type ToneOutput interface {
	PlayTone(buf *codec.Buffer) error
}

// HapticOutput triggers a vibration pulse of the given duration. Devices
// without a vibration motor should return nil and do nothing.
type HapticOutput interface {
	Pulse(d time.Duration) error
}

// Cue identifies one feedback event.
type Cue int

const (
	// CueConnected plays when a session opens.
	CueConnected Cue = iota

	// CueDisconnected plays when a session closes cleanly.
	CueDisconnected

	// CueError plays when a session fails. Deliberately low and long so it
	// cannot be mistaken for a status chirp.
	CueError

	// CueModeSwitch plays when the user changes operating mode.
	CueModeSwitch
)

// String returns the human-readable cue name.
func (c Cue) String() string {
	switch c {
	case CueConnected:
		return "connected"
	case CueDisconnected:
		return "disconnected"
	case CueError:
		return "error"
	case CueModeSwitch:
		return "mode_switch"
	default:
		return "unknown"
	}
}

// toneSpec describes how a cue sounds and feels.
type toneSpec struct {
	freq  float64
	dur   time.Duration
	pulse time.Duration
}

var cueSpecs = map[Cue]toneSpec{
	CueConnected:    {freq: 880, dur: 120 * time.Millisecond, pulse: 30 * time.Millisecond},
	CueDisconnected: {freq: 440, dur: 120 * time.Millisecond},
	CueError:        {freq: 220, dur: 250 * time.Millisecond, pulse: 80 * time.Millisecond},
	CueModeSwitch:   {freq: 660, dur: 80 * time.Millisecond},
}

// outputRate is the sample rate of synthesised cue tones.
const outputRate = 24000

// amplitude keeps cues well below agent speech volume.
const amplitude = 0.3

// Tone synthesises a sine tone of the given frequency and duration with a
// short linear fade at both ends to avoid clicks.
func Tone(freq float64, dur time.Duration, sampleRate int) *codec.Buffer {
	n := int(dur.Seconds() * float64(sampleRate))
	samples := make([]float32, n)

	fade := sampleRate / 100 // 10ms
	if fade > n/2 {
		fade = n / 2
	}

	for i := range samples {
		v := amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		switch {
		case i < fade:
			v *= float64(i) / float64(fade)
		case i >= n-fade:
			v *= float64(n-1-i) / float64(fade)
		}
		samples[i] = float32(v)
	}
	return &codec.Buffer{Samples: samples, SampleRate: sampleRate}
}

// Synthesizer plays feedback cues. Safe for concurrent use.
type Synthesizer struct {
	tones   ToneOutput
	haptics HapticOutput

	mu    sync.Mutex
	cache map[Cue]*codec.Buffer
}

// New creates a Synthesizer delivering cues to the given outputs. Either
// output may be nil, in which case that half of the cue is skipped.
func New(tones ToneOutput, haptics HapticOutput) *Synthesizer {
	return &Synthesizer{
		tones:   tones,
		haptics: haptics,
		cache:   make(map[Cue]*codec.Buffer),
	}
}

// Play delivers the cue. Best-effort: output failures are logged, never
// surfaced, since feedback must not disturb the session itself.
func (s *Synthesizer) Play(cue Cue) {
	spec, ok := cueSpecs[cue]
	if !ok {
		return
	}

	if s.tones != nil {
		if err := s.tones.PlayTone(s.tone(cue, spec)); err != nil {
			slog.Warn("feedback tone failed", "cue", cue.String(), "err", err)
		}
	}
	if s.haptics != nil && spec.pulse > 0 {
		if err := s.haptics.Pulse(spec.pulse); err != nil {
			slog.Warn("feedback pulse failed", "cue", cue.String(), "err", err)
		}
	}
}

// tone returns the cached buffer for cue, synthesising it on first use.
func (s *Synthesizer) tone(cue Cue, spec toneSpec) *codec.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.cache[cue]
	if !ok {
		buf = Tone(spec.freq, spec.dur, outputRate)
		s.cache[cue] = buf
	}
	return buf
}
