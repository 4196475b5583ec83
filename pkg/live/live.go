// Package live defines the Provider interface for realtime multimodal agent
// backends.
//
// A live provider wraps a bidirectional streaming AI service that accepts
// microphone audio and camera frames and returns synthesised spoken audio in
// a single, stateful session. The central abstraction is SessionHandle: a
// multiplexed channel that carries agent audio, transcripts, and interruption
// signals concurrently. Sessions are long-lived (seconds to minutes) and are
// torn down as a unit.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
)

// ErrMissingAPIKey is returned by Connect when no credential is configured.
// The absence of a credential is fatal to the connection attempt and is never
// retried.
var ErrMissingAPIKey = errors.New("live: no API key configured")

// ErrSessionClosed is returned by send operations on a closed session.
var ErrSessionClosed = errors.New("live: session closed")

// EventType classifies inbound events delivered on a session's Events channel.
type EventType int

const (
	// EventAudio carries a raw PCM audio chunk synthesised by the agent.
	EventAudio EventType = iota

	// EventInterrupted signals that the agent's response was cut off because
	// the user started speaking over it. All queued agent audio should be
	// discarded, not allowed to finish.
	EventInterrupted

	// EventTranscript carries a text transcription, either of the user's
	// speech or of the agent's spoken output.
	EventTranscript

	// EventTurnComplete signals that the agent finished its current response.
	EventTurnComplete
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventAudio:
		return "AUDIO"
	case EventInterrupted:
		return "INTERRUPTED"
	case EventTranscript:
		return "TRANSCRIPT"
	case EventTurnComplete:
		return "TURN_COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// TranscriptSource identifies who produced a transcript event.
type TranscriptSource int

const (
	// SourceUser marks a transcription of the user's speech.
	SourceUser TranscriptSource = iota

	// SourceAgent marks a transcription of the agent's spoken output.
	SourceAgent
)

// Event is one inbound message decoded from the agent channel.
type Event struct {
	// Type discriminates which of the remaining fields are meaningful.
	Type EventType

	// Audio is the raw PCM chunk for EventAudio.
	Audio []byte

	// SampleRate is the sample rate in Hz of Audio.
	SampleRate int

	// Text is the transcription text for EventTranscript.
	Text string

	// Source identifies the speaker for EventTranscript.
	Source TranscriptSource
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Instruction is the system-level prompt attached to the session. Mode
	// switches replace it for future sessions and are additionally forwarded
	// inline on an open session via SendText.
	Instruction string

	// Voice selects the prebuilt output voice for synthesised speech.
	Voice string
}

// Capabilities describes static properties of a live provider.
type Capabilities struct {
	// MaxSessionDurationMs is the hard upper bound on session lifetime in
	// milliseconds, as imposed by the provider. Zero means no documented limit.
	MaxSessionDurationMs int

	// Voices lists the prebuilt voice names available for this provider.
	Voices []string
}

// SessionHandle represents an open realtime session. It is an interface so
// that test code can supply mock implementations without a live connection.
//
// Send methods are fire-and-forget from the caller's perspective: they
// dispatch without waiting for acknowledgment and must return quickly. The
// Events channel is closed when the session ends or a mid-stream error
// occurs; after it closes, call Err to check whether the session ended
// cleanly. All methods must be safe for concurrent use.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a raw PCM microphone chunk (16 kHz, s16le, mono) to
	// the agent. Returns [ErrSessionClosed] after Close.
	SendAudio(pcm []byte) error

	// SendFrame delivers a JPEG-encoded camera frame to the agent.
	// Returns [ErrSessionClosed] after Close.
	SendFrame(jpeg []byte) error

	// SendText forwards an arbitrary text payload inline on the open channel.
	// Used for mode-switch notifications and object-search requests.
	SendText(text string) error

	// Events returns the read-only channel on which decoded inbound events
	// arrive, in arrival order. Consumers must drain it promptly to prevent
	// backpressure from stalling the provider's receive loop.
	Events() <-chan Event

	// Err returns the error that caused the Events channel to close
	// prematurely, or nil if the session ended cleanly.
	Err() error

	// Close terminates the session, releases all resources, and closes the
	// Events channel. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime multimodal agent backend.
//
// Implementations must be safe for concurrent use, although the application
// opens at most one session at a time.
type Provider interface {
	// Connect establishes a new session with the given configuration. The
	// returned SessionHandle is ready to accept media immediately.
	//
	// Returns an error if the session cannot be established (missing
	// credential, rejected handshake, or ctx already cancelled). The caller
	// owns the SessionHandle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() Capabilities
}
