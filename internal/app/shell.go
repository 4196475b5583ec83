// Package app wires the Sightline subsystems into the user-facing shell.
//
// The Shell coordinates user intent (start/stop, mode switch, flip camera,
// object search) by calling into the session manager, and holds the
// UI-visible state: connected flag, live transcript, and spoken
// announcements. It enforces the single-session invariant with a connecting
// flag so that a second start cannot race the first one's handshake.
//
// The Shell reacts to session lifecycle through callbacks registered on the
// session manager at wiring time (see cmd/sightline): HandleSessionDown,
// HandleTranscript, and HandleLevel.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sightlinehq/sightline/internal/archive"
	"github.com/sightlinehq/sightline/internal/feedback"
	"github.com/sightlinehq/sightline/internal/mode"
	"github.com/sightlinehq/sightline/internal/session"
	"github.com/sightlinehq/sightline/pkg/capture"
	"github.com/sightlinehq/sightline/pkg/live"
)

// ErrBusy is returned by Start when a session is already starting or active.
var ErrBusy = errors.New("app: session already starting or active")

// maxTranscript caps the in-memory transcript ring.
const maxTranscript = 200

// Session is the slice of the session manager the Shell drives.
// *session.Manager satisfies it.
type Session interface {
	Connect(ctx context.Context, src capture.Source, instruction string) error
	SendText(text string) error
	Disconnect()
	State() session.State
}

// TranscriptEntry is one UI-visible transcript line.
type TranscriptEntry struct {
	Speaker archive.Speaker
	Text    string
}

// Notifier receives UI-facing shell events for forwarding to a client
// frontend. Implementations must not block.
type Notifier interface {
	// NotifyState is invoked whenever the connected flag or the selected
	// mode changes.
	NotifyState(connected bool, m mode.Mode)

	// NotifyTranscript is invoked for every new transcript line.
	NotifyTranscript(e TranscriptEntry)

	// NotifyAnnouncement is invoked for every screen-reader announcement.
	NotifyAnnouncement(text string)
}

// Option is a functional option for configuring a [Shell].
type Option func(*Shell)

// WithFeedback wires the cue synthesizer. When nil, cues are skipped.
func WithFeedback(s *feedback.Synthesizer) Option {
	return func(sh *Shell) { sh.synth = s }
}

// WithArchive wires the transcript archive. Defaults to [archive.Noop].
func WithArchive(store archive.Store) Option {
	return func(sh *Shell) { sh.store = store }
}

// WithNotifier wires a [Notifier] receiving UI-facing shell events.
func WithNotifier(n Notifier) Option {
	return func(sh *Shell) { sh.notifier = n }
}

// WithMode sets the starting operating mode. Defaults to [mode.Default].
func WithMode(id mode.ID) Option {
	return func(sh *Shell) {
		if m, ok := mode.Lookup(id); ok {
			sh.mode = m
		}
	}
}

// Shell coordinates user intent against the session manager.
// All exported methods are safe for concurrent use.
type Shell struct {
	sessions Session
	src      capture.Source
	synth    *feedback.Synthesizer
	store    archive.Store
	notifier Notifier

	mu            sync.Mutex
	connecting    bool
	connected     bool
	suspended     bool
	sessionID     string
	mode          mode.Mode
	level         float64
	transcript    []TranscriptEntry
	announcements []string
}

// New creates a Shell driving sessions with media from src.
func New(sessions Session, src capture.Source, opts ...Option) *Shell {
	sh := &Shell{
		sessions: sessions,
		src:      src,
		store:    archive.Noop{},
	}
	sh.mode, _ = mode.Lookup(mode.Default)
	for _, opt := range opts {
		opt(sh)
	}
	return sh
}

// Start opens a session in the current mode. Returns [ErrBusy] if a session
// is already starting or active; the connecting flag closes the race window
// between two concurrent starts before the first handshake resolves.
//
// A Stop or Suspend arriving while the handshake is in flight aborts the
// attempt: the session manager tears the half-opened session down and Start
// returns nil with nothing running, exactly as if the user had stopped an
// open session.
func (sh *Shell) Start(ctx context.Context) error {
	sh.mu.Lock()
	if sh.connecting || sh.connected {
		sh.mu.Unlock()
		return ErrBusy
	}
	sh.connecting = true
	sh.suspended = false
	instruction := sh.mode.Instruction
	sh.mu.Unlock()

	err := sh.sessions.Connect(ctx, sh.src, instruction)

	sh.mu.Lock()
	sh.connecting = false
	if err != nil {
		suspended := sh.suspended
		sh.mu.Unlock()
		if errors.Is(err, session.ErrConnectAborted) {
			sh.notifyState()
			sh.play(feedback.CueDisconnected)
			if !suspended {
				sh.announce("Session ended.")
			}
			return nil
		}
		sh.play(feedback.CueError)
		sh.announce("Could not connect. " + userFacing(err))
		return fmt.Errorf("app: start: %w", err)
	}
	sh.connected = true
	sh.sessionID = uuid.NewString()
	sid := sh.sessionID
	label := sh.mode.Label
	modeID := string(sh.mode.ID)
	sh.mu.Unlock()

	if aerr := sh.store.BeginSession(ctx, sid, modeID); aerr != nil {
		slog.Warn("archive begin failed", "err", aerr)
	}
	sh.notifyState()
	sh.play(feedback.CueConnected)
	sh.announce("Connected. " + label + " is on.")
	return nil
}

// Stop closes the session. Safe to call when nothing is running.
func (sh *Shell) Stop() {
	sh.mu.Lock()
	running := sh.connecting || sh.connected
	sh.mu.Unlock()
	if !running {
		return
	}
	sh.sessions.Disconnect()
}

// Suspend stops the session because the app went to the background. The
// camera and microphone must never stay open while the user cannot see the
// app.
func (sh *Shell) Suspend() {
	sh.mu.Lock()
	sh.suspended = true
	sh.mu.Unlock()
	sh.Stop()
}

// HandleSessionDown is the session manager's down callback. It fires exactly
// once per session, with nil for a clean end or a transport error otherwise.
func (sh *Shell) HandleSessionDown(err error) {
	sh.mu.Lock()
	sh.connected = false
	sid := sh.sessionID
	sh.sessionID = ""
	suspended := sh.suspended
	sh.mu.Unlock()

	sh.notifyState()

	cause := "disconnect"
	switch {
	case err != nil:
		cause = "transport error"
		sh.play(feedback.CueError)
		sh.announce("Connection lost. " + userFacing(err))
	case suspended:
		cause = "suspended"
		sh.play(feedback.CueDisconnected)
	default:
		sh.play(feedback.CueDisconnected)
		sh.announce("Session ended.")
	}

	if sid != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if aerr := sh.store.EndSession(ctx, sid, cause); aerr != nil {
			slog.Warn("archive end failed", "err", aerr)
		}
	}
}

// HandleTranscript is the session manager's transcript callback. Entries are
// appended to the UI transcript ring and archived best-effort.
func (sh *Shell) HandleTranscript(src live.TranscriptSource, text string) {
	speaker := archive.SpeakerUser
	if src == live.SourceAgent {
		speaker = archive.SpeakerAgent
	}

	sh.mu.Lock()
	sh.transcript = append(sh.transcript, TranscriptEntry{Speaker: speaker, Text: text})
	if len(sh.transcript) > maxTranscript {
		sh.transcript = sh.transcript[len(sh.transcript)-maxTranscript:]
	}
	sid := sh.sessionID
	sh.mu.Unlock()

	if sh.notifier != nil {
		sh.notifier.NotifyTranscript(TranscriptEntry{Speaker: speaker, Text: text})
	}

	if sid == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sh.store.AppendEntry(ctx, sid, archive.Entry{
		Speaker:   speaker,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		slog.Warn("archive append failed", "err", err)
	}
}

// HandleLevel is the session manager's microphone level callback.
func (sh *Shell) HandleLevel(level float64) {
	sh.mu.Lock()
	sh.level = level
	sh.mu.Unlock()
}

// SetMode switches the operating mode. When a session is open, exactly one
// text notification carrying the new mode's instruction is forwarded to the
// agent; when closed, the mode takes effect on the next Start.
func (sh *Shell) SetMode(id mode.ID) error {
	m, ok := mode.Lookup(id)
	if !ok {
		return fmt.Errorf("app: unknown mode %q", id)
	}

	sh.mu.Lock()
	sh.mode = m
	connected := sh.connected
	sh.mu.Unlock()

	if connected {
		if err := sh.sessions.SendText("Mode changed. New instructions: " + m.Instruction); err != nil {
			return fmt.Errorf("app: set mode: %w", err)
		}
	}
	sh.notifyState()
	sh.play(feedback.CueModeSwitch)
	sh.announce(m.Label + " selected.")
	return nil
}

// Search forwards an object-search request to the agent. A no-op when no
// session is open.
func (sh *Shell) Search(query string) error {
	if query == "" {
		return nil
	}
	if err := sh.sessions.SendText("Help me find: " + query); err != nil {
		return fmt.Errorf("app: search: %w", err)
	}
	return nil
}

// FlipCamera toggles between the back and front camera.
func (sh *Shell) FlipCamera() error {
	next := capture.FacingFront
	if sh.src.Facing() == capture.FacingFront {
		next = capture.FacingBack
	}
	if err := sh.src.SetFacing(next); err != nil {
		return fmt.Errorf("app: flip camera: %w", err)
	}
	sh.announce("Switched to " + next.String() + " camera.")
	return nil
}

// Connected reports whether a session is currently open.
func (sh *Shell) Connected() bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.connected
}

// Mode returns the currently selected operating mode.
func (sh *Shell) Mode() mode.Mode {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.mode
}

// Level returns the most recent microphone RMS level.
func (sh *Shell) Level() float64 {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.level
}

// Transcript returns a copy of the UI transcript ring.
func (sh *Shell) Transcript() []TranscriptEntry {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	out := make([]TranscriptEntry, len(sh.transcript))
	copy(out, sh.transcript)
	return out
}

// Announcements returns a copy of the accumulated announcements.
func (sh *Shell) Announcements() []string {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	out := make([]string, len(sh.announcements))
	copy(out, sh.announcements)
	return out
}

// announce records a line for the screen reader and logs it.
func (sh *Shell) announce(text string) {
	sh.mu.Lock()
	sh.announcements = append(sh.announcements, text)
	if len(sh.announcements) > maxTranscript {
		sh.announcements = sh.announcements[len(sh.announcements)-maxTranscript:]
	}
	sh.mu.Unlock()
	if sh.notifier != nil {
		sh.notifier.NotifyAnnouncement(text)
	}
	slog.Info("announcement", "text", text)
}

// notifyState pushes the current connected flag and mode to the notifier.
func (sh *Shell) notifyState() {
	if sh.notifier == nil {
		return
	}
	sh.mu.Lock()
	connected := sh.connected
	m := sh.mode
	sh.mu.Unlock()
	sh.notifier.NotifyState(connected, m)
}

// play delivers a feedback cue when a synthesizer is wired.
func (sh *Shell) play(cue feedback.Cue) {
	if sh.synth != nil {
		sh.synth.Play(cue)
	}
}

// userFacing strips wrapping detail from an error for spoken output.
func userFacing(err error) string {
	switch {
	case errors.Is(err, live.ErrMissingAPIKey):
		return "No API key is configured."
	case errors.Is(err, session.ErrSessionActive):
		return "A session is already running."
	default:
		return "Please try again."
	}
}
