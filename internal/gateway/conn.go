package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sightlinehq/sightline/internal/app"
	"github.com/sightlinehq/sightline/internal/feedback"
	"github.com/sightlinehq/sightline/internal/mode"
	"github.com/sightlinehq/sightline/internal/player"
	"github.com/sightlinehq/sightline/pkg/capture"
	"github.com/sightlinehq/sightline/pkg/codec"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 20 * time.Second

	// audioQueueLen bounds undelivered microphone frames. The session
	// manager drains continuously; a full queue means it is gone and frames
	// are dropped rather than stalling the read loop.
	audioQueueLen = 32

	// outboundQueueLen bounds queued downstream messages.
	outboundQueueLen = 128
)

type outboundMessage struct {
	messageType int
	payload     []byte
}

// Conn adapts one client WebSocket into the interfaces the rest of the
// application consumes: it is the [capture.Source] feeding the session
// manager, the [player.Sink] receiving scheduled agent audio, and the
// [app.Notifier] carrying UI events back to the client.
//
// All writes to the socket go through a single writer goroutine; gorilla
// connections support only one concurrent writer.
type Conn struct {
	ws    *websocket.Conn
	clock player.Clock

	inRate  int
	outbox  chan outboundMessage
	audio   chan capture.Frame
	quit    chan struct{}
	started time.Time

	mu          sync.Mutex
	closed      bool
	interrupted bool
	image       []byte
	facing      capture.Facing
}

var (
	_ capture.Source        = (*Conn)(nil)
	_ player.Sink           = (*Conn)(nil)
	_ app.Notifier          = (*Conn)(nil)
	_ feedback.ToneOutput   = (*Conn)(nil)
	_ feedback.HapticOutput = (*Conn)(nil)
)

// newConn wraps ws and starts the writer goroutine. inRate is the negotiated
// microphone sample rate.
func newConn(ws *websocket.Conn, inRate int) *Conn {
	c := &Conn{
		ws:      ws,
		clock:   player.NewWallClock(),
		inRate:  inRate,
		outbox:  make(chan outboundMessage, outboundQueueLen),
		audio:   make(chan capture.Frame, audioQueueLen),
		quit:    make(chan struct{}),
		started: time.Now(),
	}
	go c.writePump()
	return c
}

// writePump is the only goroutine writing to the socket. It drains the
// outbox and keeps the connection alive with periodic pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.quit:
			deadline := time.Now().Add(writeTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = c.ws.Close()
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case msg := <-c.outbox:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(msg.messageType, msg.payload); err != nil {
				return
			}
		}
	}
}

// enqueue queues a message for the writer goroutine. Messages are dropped
// when the connection is closed or the outbox is full; a client that cannot
// keep up loses UI events, never the whole session.
func (c *Conn) enqueue(messageType int, payload []byte) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	select {
	case c.outbox <- outboundMessage{messageType: messageType, payload: payload}:
	default:
		slog.Warn("gateway outbox full, dropping message", "bytes", len(payload))
	}
}

// enqueueJSON marshals v and queues it as a text message.
func (c *Conn) enqueueJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("gateway marshal failed", "err", err)
		return
	}
	c.enqueue(websocket.TextMessage, data)
}

// deliverAudio converts an upstream PCM payload into a capture frame.
func (c *Conn) deliverAudio(payload []byte) {
	samples, err := codec.DecodePCM(payload)
	if err != nil {
		slog.Warn("dropping malformed client audio", "err", err, "bytes", len(payload))
		return
	}
	frame := capture.Frame{
		Samples:    samples,
		SampleRate: c.inRate,
		Timestamp:  time.Since(c.started),
	}
	select {
	case c.audio <- frame:
	default:
		slog.Warn("gateway audio queue full, dropping frame")
	}
}

// deliverImage stores the most recent camera snapshot.
func (c *Conn) deliverImage(payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	c.mu.Lock()
	c.image = cp
	c.mu.Unlock()
}

// Audio implements [capture.Source].
func (c *Conn) Audio() <-chan capture.Frame {
	return c.audio
}

// SampleImage implements [capture.Source]. It returns the most recent JPEG
// the client has pushed, or [capture.ErrNoFrame] before the first one.
func (c *Conn) SampleImage(_ context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.image == nil {
		return nil, capture.ErrNoFrame
	}
	cp := make([]byte, len(c.image))
	copy(cp, c.image)
	return cp, nil
}

// Facing implements [capture.Source].
func (c *Conn) Facing() capture.Facing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.facing
}

// SetFacing implements [capture.Source]. The camera lives on the client, so
// the switch is forwarded as a control message and tracked optimistically.
func (c *Conn) SetFacing(f capture.Facing) error {
	c.mu.Lock()
	c.facing = f
	c.mu.Unlock()
	c.enqueueJSON(ServerSetFacing{Type: "set_facing", Facing: f.String()})
	return nil
}

// Close implements [capture.Source]. Idempotent; it stops the writer
// goroutine, closes the socket, and ends the audio stream.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.quit)
	close(c.audio)
	return nil
}

// playHandle cancels the done timer of one scheduled chunk.
type playHandle struct {
	conn  *Conn
	timer *time.Timer
}

// Stop cancels the chunk and tells the client to flush. Stopping a chunk
// whose timer already fired is a no-op.
func (h *playHandle) Stop() {
	if h.timer.Stop() {
		h.conn.signalInterrupt()
	}
}

// Play implements [player.Sink]. The chunk is forwarded to the client with
// its scheduled start offset; done fires when the chunk would finish playing
// against the gateway's output clock.
func (c *Conn) Play(buf *codec.Buffer, at time.Duration, done func()) player.Handle {
	c.mu.Lock()
	c.interrupted = false
	c.mu.Unlock()

	c.enqueue(websocket.BinaryMessage, EncodePlayback(codec.EncodePCM(buf.Samples), at))

	delay := at + buf.Duration() - c.clock.Now()
	if delay < 0 {
		delay = 0
	}
	return &playHandle{conn: c, timer: time.AfterFunc(delay, done)}
}

// PlayTone implements [feedback.ToneOutput]. Feedback cues skip the playback
// scheduler and start at the clock's current position.
func (c *Conn) PlayTone(buf *codec.Buffer) error {
	c.enqueue(websocket.BinaryMessage, EncodePlayback(codec.EncodePCM(buf.Samples), c.clock.Now()))
	return nil
}

// Pulse implements [feedback.HapticOutput]. The vibration motor lives on the
// client.
func (c *Conn) Pulse(d time.Duration) error {
	c.enqueueJSON(ServerHaptic{Type: "haptic", DurationMs: d.Milliseconds()})
	return nil
}

// signalInterrupt tells the client to flush buffered agent audio. Coalesced:
// one message per barge-in burst, reset by the next Play.
func (c *Conn) signalInterrupt() {
	c.mu.Lock()
	if c.interrupted {
		c.mu.Unlock()
		return
	}
	c.interrupted = true
	c.mu.Unlock()
	c.enqueueJSON(ServerInterrupted{Type: "interrupted"})
}

// NotifyState implements [app.Notifier].
func (c *Conn) NotifyState(connected bool, m mode.Mode) {
	if !connected {
		c.signalInterrupt()
	}
	c.enqueueJSON(ServerState{
		Type:      "state",
		Connected: connected,
		Mode:      string(m.ID),
		ModeLabel: m.Label,
	})
}

// NotifyTranscript implements [app.Notifier].
func (c *Conn) NotifyTranscript(e app.TranscriptEntry) {
	c.enqueueJSON(ServerTranscript{Type: "transcript", Speaker: string(e.Speaker), Text: e.Text})
}

// NotifyAnnouncement implements [app.Notifier].
func (c *Conn) NotifyAnnouncement(text string) {
	c.enqueueJSON(ServerAnnouncement{Type: "announcement", Text: text})
}
