// Package session implements the realtime media-streaming session manager,
// the core of Sightline.
//
// A [Manager] owns at most one live connection to the remote agent at a time.
// On connect it wires three loops: microphone frames from the capture source
// are encoded and sent continuously, camera frames are sampled on a fixed
// cadence, and inbound agent events are decoded into scheduled playback.
// Teardown is a single path shared by explicit disconnect, transport errors,
// and the capture source ending: every loop is cancelled, the live session
// closed, and all queued playback discarded.
//
// The Manager never reconnects on its own. Mid-session failures surface
// through the down callback; reconnection policy belongs to the caller.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sightlinehq/sightline/internal/observe"
	"github.com/sightlinehq/sightline/internal/player"
	"github.com/sightlinehq/sightline/pkg/capture"
	"github.com/sightlinehq/sightline/pkg/codec"
	"github.com/sightlinehq/sightline/pkg/live"
)

// ErrSessionActive is returned by Connect when a session is already
// connecting or connected. At most one session exists at any time.
var ErrSessionActive = errors.New("session: a session is already active")

// ErrConnectAborted is returned by Connect when Disconnect arrived while the
// open handshake was still in flight. The attempt is torn down before any
// media streams; nothing is left acquired.
var ErrConnectAborted = errors.New("session: connect aborted by disconnect")

// errStreamEnded signals inside the loop group that the session is over
// without a transport fault: the capture source or the agent stream ended.
var errStreamEnded = errors.New("session: stream ended")

// ConnectionError wraps a failure to establish a session: missing credential,
// rejected handshake, or an unusable capture source. Fatal to the attempt and
// never retried by the Manager.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "session: connect: " + e.Err.Error() }

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError wraps a mid-session failure. The session is torn down
// identically to an explicit disconnect before this error is surfaced.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "session: transport: " + e.Err.Error() }

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error { return e.Err }

// State describes the session lifecycle position.
type State int

const (
	// StateIdle means no session exists.
	StateIdle State = iota

	// StateConnecting means the open handshake is in flight.
	StateConnecting

	// StateConnected means the session is streaming.
	StateConnected
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// defaultFrameInterval is the camera sampling cadence (2 Hz).
const defaultFrameInterval = 500 * time.Millisecond

// Option is a functional option for configuring a [Manager].
type Option func(*Manager)

// WithVoice selects the agent's output voice. Empty uses the provider default.
func WithVoice(voice string) Option {
	return func(m *Manager) {
		m.voice = voice
	}
}

// WithFrameInterval overrides the camera sampling cadence. Useful in tests to
// keep suite execution fast.
func WithFrameInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.frameInterval = d
	}
}

// WithLevelFunc registers a callback invoked with the RMS level of every
// captured microphone frame, for UI visualisation. The callback runs on the
// microphone loop and must not block.
func WithLevelFunc(fn func(level float64)) Option {
	return func(m *Manager) {
		m.onLevel = fn
	}
}

// WithTranscriptFunc registers a callback invoked for every transcript event
// from the agent. The callback runs on the event loop and must not block.
func WithTranscriptFunc(fn func(src live.TranscriptSource, text string)) Option {
	return func(m *Manager) {
		m.onTranscript = fn
	}
}

// WithDownFunc registers a callback invoked exactly once per session when it
// ends, with nil for a clean end (disconnect, source ended) or a
// [*TransportError] for a mid-session failure.
func WithDownFunc(fn func(err error)) Option {
	return func(m *Manager) {
		m.onDown = fn
	}
}

// WithMetrics wires an [observe.Metrics] instance. When nil (the default) no
// metrics are recorded.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) {
		m.metrics = met
	}
}

// Manager owns the single realtime session. It is safe for concurrent use.
type Manager struct {
	provider  live.Provider
	scheduler *player.Scheduler

	voice         string
	frameInterval time.Duration
	onLevel       func(float64)
	onTranscript  func(live.TranscriptSource, string)
	onDown        func(error)
	metrics       *observe.Metrics

	mu     sync.Mutex
	state  State
	doomed bool
	sess   live.SessionHandle
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Manager streaming through provider and scheduling inbound
// audio on scheduler. Options are applied in order.
func New(provider live.Provider, scheduler *player.Scheduler, opts ...Option) *Manager {
	m := &Manager{
		provider:      provider,
		scheduler:     scheduler,
		frameInterval: defaultFrameInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens a session to the agent with the given instruction and starts
// the streaming loops against src. The Manager borrows src for the lifetime
// of the session but never closes it; the caller owns the capture hardware.
//
// Returns [ErrSessionActive] if a session is already connecting or connected,
// [ErrConnectAborted] if Disconnect fired while the handshake was in flight,
// or a [*ConnectionError] if the open handshake fails. On a failed or aborted
// handshake nothing is left acquired: the capture source is never read and
// any half-opened live session is closed before Connect returns.
func (m *Manager) Connect(ctx context.Context, src capture.Source, instruction string) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrSessionActive
	}
	m.state = StateConnecting
	m.mu.Unlock()

	start := time.Now()
	sess, err := m.provider.Connect(ctx, live.SessionConfig{
		Instruction: instruction,
		Voice:       m.voice,
	})
	if err != nil {
		m.mu.Lock()
		aborted := m.doomed
		m.doomed = false
		m.state = StateIdle
		m.mu.Unlock()
		if aborted {
			return ErrConnectAborted
		}
		return &ConnectionError{Err: err}
	}
	if m.metrics != nil {
		m.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())
	}

	// The loops outlive ctx: the caller's context governs only the handshake,
	// while the session runs until Disconnect or a stream fault.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	m.mu.Lock()
	if m.doomed {
		// Disconnect fired mid-handshake. The session must not come up.
		m.doomed = false
		m.state = StateIdle
		m.mu.Unlock()
		cancel()
		_ = sess.Close()
		slog.Info("session handshake aborted, disconnect arrived during connect")
		return ErrConnectAborted
	}
	m.sess = sess
	m.cancel = cancel
	m.done = done
	m.state = StateConnected
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, 1)
	}

	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error { return m.micLoop(gctx, src, sess) })
	g.Go(func() error { return m.videoLoop(gctx, src, sess) })
	g.Go(func() error { return m.eventLoop(gctx, sess) })

	go func() {
		err := g.Wait()
		cancel()
		m.finish(err, sess, done)
	}()

	slog.Info("session connected", "state", StateConnected.String())
	return nil
}

// micLoop forwards captured microphone frames to the agent, reporting the RMS
// level of each frame through the level callback.
func (m *Manager) micLoop(ctx context.Context, src capture.Source, sess live.SessionHandle) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-src.Audio():
			if !ok {
				return errStreamEnded
			}
			if m.onLevel != nil {
				m.onLevel(codec.Level(frame.Samples))
			}
			if err := sess.SendAudio(codec.EncodePCM(frame.Samples)); err != nil {
				if errors.Is(err, live.ErrSessionClosed) {
					return errStreamEnded
				}
				return fmt.Errorf("send audio: %w", err)
			}
			if m.metrics != nil {
				m.metrics.RecordChunk(ctx, "audio", "out")
			}
		}
	}
}

// videoLoop samples the camera on a fixed cadence and forwards each frame.
// Ticks where the camera has no usable frame yet are dropped, never queued.
func (m *Manager) videoLoop(ctx context.Context, src capture.Source, sess live.SessionHandle) error {
	ticker := time.NewTicker(m.frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			img, err := src.SampleImage(ctx)
			switch {
			case errors.Is(err, capture.ErrNoFrame):
				continue
			case errors.Is(err, context.Canceled):
				return nil
			case err != nil:
				slog.Warn("camera sample failed", "err", err)
				continue
			}
			if err := sess.SendFrame(img); err != nil {
				if errors.Is(err, live.ErrSessionClosed) {
					return errStreamEnded
				}
				return fmt.Errorf("send frame: %w", err)
			}
			if m.metrics != nil {
				m.metrics.RecordChunk(ctx, "image", "out")
			}
		}
	}
}

// eventLoop decodes inbound agent events. Audio chunks are scheduled for
// gapless playback; a malformed chunk is logged and dropped without ending
// the session. An interruption signal discards all queued playback.
func (m *Manager) eventLoop(ctx context.Context, sess live.SessionHandle) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sess.Events():
			if !ok {
				if err := sess.Err(); err != nil {
					return err
				}
				return errStreamEnded
			}
			switch ev.Type {
			case live.EventAudio:
				buf, err := codec.DecodeAudio(ev.Audio, ev.SampleRate)
				if err != nil {
					slog.Warn("dropping malformed audio chunk", "err", err, "bytes", len(ev.Audio))
					if m.metrics != nil {
						m.metrics.DecodeErrors.Add(ctx, 1)
					}
					continue
				}
				m.scheduler.Schedule(buf)
				if m.metrics != nil {
					m.metrics.RecordChunk(ctx, "audio", "in")
					m.metrics.PlaybackLead.Record(ctx, m.scheduler.Lead().Seconds())
				}
			case live.EventInterrupted:
				m.scheduler.Interrupt()
				if m.metrics != nil {
					m.metrics.Interruptions.Add(ctx, 1)
				}
				slog.Debug("agent interrupted, queued audio discarded")
			case live.EventTranscript:
				if m.onTranscript != nil {
					m.onTranscript(ev.Source, ev.Text)
				}
			case live.EventTurnComplete:
				slog.Debug("agent turn complete")
			}
		}
	}
}

// finish is the single teardown path. It closes the live session, discards
// all queued playback, resets state, notifies the down callback, and finally
// closes done to release Disconnect waiters.
func (m *Manager) finish(loopErr error, sess live.SessionHandle, done chan struct{}) {
	_ = sess.Close()
	m.scheduler.Interrupt()

	m.mu.Lock()
	m.state = StateIdle
	m.sess = nil
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	var out error
	if loopErr != nil && !errors.Is(loopErr, errStreamEnded) && !errors.Is(loopErr, context.Canceled) {
		out = &TransportError{Err: loopErr}
		slog.Error("session failed", "err", loopErr)
	} else {
		slog.Info("session closed")
	}

	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(context.Background(), -1)
		if out != nil {
			m.metrics.SessionErrors.Add(context.Background(), 1)
		}
	}
	if m.onDown != nil {
		m.onDown(out)
	}
	close(done)
}

// SendText forwards an arbitrary text payload inline on the open session.
// Used for mode-switch notifications and object-search requests. A no-op
// returning nil when no session is open.
func (m *Manager) SendText(text string) error {
	m.mu.Lock()
	var sess live.SessionHandle
	if m.state == StateConnected {
		sess = m.sess
	}
	m.mu.Unlock()

	if sess == nil {
		return nil
	}
	if err := sess.SendText(text); err != nil {
		if errors.Is(err, live.ErrSessionClosed) {
			return nil
		}
		return fmt.Errorf("session: send text: %w", err)
	}
	return nil
}

// Disconnect tears the session down and waits for teardown to complete.
// Idempotent: calling it twice, or with no session ever opened, is a no-op.
//
// Calling Disconnect while the handshake is still in flight marks the attempt
// doomed instead: the streaming loops have not started yet, so there is
// nothing to cancel, and Connect tears the half-opened session down and
// returns [ErrConnectAborted] the moment the handshake resolves.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateConnecting {
		m.doomed = true
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
