// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and feed controlled live sessions.
// Use Session to drive the inbound event stream and inspect which methods
// were invoked by the session manager.
//
// Example:
//
//	sess := &mock.Session{EventsCh: make(chan live.Event, 8)}
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/sightlinehq/sightline/pkg/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect
	// returns a new default Session with a buffered events channel.
	Session live.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectGate, if non-nil, blocks Connect after recording the call until
	// the channel is closed or ctx is cancelled. Lets tests hold the open
	// handshake in flight.
	ConnectGate chan struct{}

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call, waits on ConnectGate when one is set, and returns
// Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	gate := p.ConnectGate
	connectErr := p.ConnectErr
	sess := p.Session
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if connectErr != nil {
		return nil, connectErr
	}
	if sess != nil {
		return sess, nil
	}
	return &Session{EventsCh: make(chan live.Event, 64)}, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Calls returns a copy of the recorded Connect calls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// Session is a mock implementation of live.SessionHandle.
// Callers should pre-populate EventsCh, then close it to signal
// end-of-session.
type Session struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events(). Callers own this channel.
	EventsCh chan live.Event

	// --- Configurable errors ---

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendFrameErr, if non-nil, is returned by every SendFrame call.
	SendFrameErr error

	// SendTextErr, if non-nil, is returned by every SendText call.
	SendTextErr error

	// ErrVal is returned by Err.
	ErrVal error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// AudioChunks records a copy of every chunk passed to SendAudio.
	AudioChunks [][]byte

	// Frames records a copy of every frame passed to SendFrame.
	Frames [][]byte

	// Texts records every string passed to SendText.
	Texts []string

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.AudioChunks = append(s.AudioChunks, cp)
	return s.SendAudioErr
}

// SendFrame records the call and returns SendFrameErr.
func (s *Session) SendFrame(jpeg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(jpeg))
	copy(cp, jpeg)
	s.Frames = append(s.Frames, cp)
	return s.SendFrameErr
}

// SendText records the call and returns SendTextErr.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Texts = append(s.Texts, text)
	return s.SendTextErr
}

// Events returns EventsCh.
func (s *Session) Events() <-chan live.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EventsCh
}

// Err returns ErrVal.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrVal
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// SentAudio returns a copy of the recorded audio chunks. Thread-safe.
func (s *Session) SentAudio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.AudioChunks))
	copy(out, s.AudioChunks)
	return out
}

// SentFrames returns a copy of the recorded frames. Thread-safe.
func (s *Session) SentFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.Frames))
	copy(out, s.Frames)
	return out
}

// SentTexts returns a copy of the recorded text payloads. Thread-safe.
func (s *Session) SentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Texts))
	copy(out, s.Texts)
	return out
}

// Closes returns the number of Close calls. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Ensure Session implements live.SessionHandle at compile time.
var _ live.SessionHandle = (*Session)(nil)
