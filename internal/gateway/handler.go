// Package gateway exposes the client-facing WebSocket endpoint.
//
// One connection carries everything a frontend needs: binary media frames
// upstream (microphone PCM and camera JPEGs), JSON control messages in both
// directions, and scheduled agent audio downstream. Each accepted connection
// becomes a [Conn], which the rest of the application consumes through the
// capture, player, and shell-notifier interfaces.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sightlinehq/sightline/internal/mode"
	"github.com/sightlinehq/sightline/internal/observe"
)

const (
	handshakeTimeout = 5 * time.Second

	// maxMessageBytes bounds a single inbound message. Camera JPEGs are
	// downscaled client-side and stay well under this.
	maxMessageBytes = 1 << 20
)

// Controller is the slice of the application shell the gateway drives.
// *app.Shell satisfies it.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	Suspend()
	SetMode(id mode.ID) error
	Search(query string) error
	FlipCamera() error
}

// ShellFactory builds the application shell serving one connection, wired
// against the connection's capture source, playback sink, and notifier.
type ShellFactory func(c *Conn) Controller

// Handler upgrades HTTP requests to gateway sessions.
type Handler struct {
	factory  ShellFactory
	upgrader websocket.Upgrader
}

// NewHandler creates a Handler building a shell per connection via factory.
func NewHandler(factory ShellFactory) *Handler {
	return &Handler{
		factory: factory,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	ws.SetReadLimit(maxMessageBytes)

	hello, ok := h.handshake(ws)
	if !ok {
		_ = ws.Close()
		return
	}

	sessionID := uuid.NewString()
	conn := newConn(ws, hello.AudioIn.SampleRateHz)
	defer conn.Close()

	conn.enqueueJSON(ServerHelloAck{
		Type:            "hello_ack",
		ProtocolVersion: ProtocolVersion,
		SessionID:       sessionID,
		AudioIn:         hello.AudioIn,
		AudioOut:        hello.AudioOut,
	})

	ctrl := h.factory(conn)
	defer ctrl.Stop()

	// The observe middleware opens a span per request; logging through it
	// ties the connection's lifecycle to the trace ID.
	log := observe.Logger(r.Context())
	log.Info("gateway connection open", "session_id", sessionID, "remote", r.RemoteAddr)
	h.readLoop(r, ws, conn, ctrl)
	log.Info("gateway connection closed", "session_id", sessionID)
}

// handshake reads and validates the mandatory hello frame.
func (h *Handler) handshake(ws *websocket.Conn) (ClientHello, bool) {
	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer func() { _ = ws.SetReadDeadline(time.Time{}) }()

	messageType, data, err := ws.ReadMessage()
	if err != nil || messageType != websocket.TextMessage {
		writeHandshakeError(ws, "bad_request", "first frame must be a hello message")
		return ClientHello{}, false
	}

	decoded, err := DecodeClientMessage(data)
	if err != nil {
		writeHandshakeError(ws, "bad_request", "invalid hello frame")
		return ClientHello{}, false
	}
	hello, ok := decoded.(ClientHello)
	if !ok {
		writeHandshakeError(ws, "bad_request", "first frame must be a hello message")
		return ClientHello{}, false
	}
	if hello.ProtocolVersion != ProtocolVersion {
		writeHandshakeError(ws, "unsupported_version", "unsupported protocol_version")
		return ClientHello{}, false
	}
	if hello.AudioIn.Encoding != "pcm_s16le" || hello.AudioIn.SampleRateHz != 16000 || hello.AudioIn.Channels != 1 {
		writeHandshakeError(ws, "unsupported", "audio_in must be pcm_s16le @16000Hz mono")
		return ClientHello{}, false
	}
	if hello.AudioOut.Encoding != "pcm_s16le" || hello.AudioOut.SampleRateHz != 24000 || hello.AudioOut.Channels != 1 {
		writeHandshakeError(ws, "unsupported", "audio_out must be pcm_s16le @24000Hz mono")
		return ClientHello{}, false
	}
	return hello, true
}

// readLoop dispatches inbound frames until the connection drops.
func (h *Handler) readLoop(r *http.Request, ws *websocket.Conn, conn *Conn, ctrl Controller) {
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if len(data) < 2 {
				slog.Warn("dropping short binary frame", "bytes", len(data))
				continue
			}
			switch data[0] {
			case FrameAudio:
				conn.deliverAudio(data[1:])
			case FrameImage:
				conn.deliverImage(data[1:])
			default:
				slog.Warn("dropping binary frame of unknown kind", "kind", data[0])
			}

		case websocket.TextMessage:
			decoded, err := DecodeClientMessage(data)
			if err != nil {
				conn.enqueueJSON(ServerError{Type: "error", Code: "bad_request", Message: err.Error()})
				continue
			}
			cmd, ok := decoded.(ClientCommand)
			if !ok {
				conn.enqueueJSON(ServerError{Type: "error", Code: "bad_request", Message: "unexpected hello"})
				continue
			}
			h.dispatch(r, conn, ctrl, cmd)
		}
	}
}

// dispatch routes one control command into the shell.
func (h *Handler) dispatch(r *http.Request, conn *Conn, ctrl Controller, cmd ClientCommand) {
	var err error
	switch cmd.Type {
	case "start":
		err = ctrl.Start(r.Context())
	case "stop":
		ctrl.Stop()
	case "suspend":
		ctrl.Suspend()
	case "set_mode":
		err = ctrl.SetMode(mode.ID(cmd.Mode))
	case "search":
		err = ctrl.Search(cmd.Query)
	case "flip_camera":
		err = ctrl.FlipCamera()
	}
	if err != nil {
		conn.enqueueJSON(ServerError{Type: "error", Code: cmd.Type + "_failed", Message: err.Error()})
	}
}

// writeHandshakeError writes directly to the socket; the writer goroutine
// does not exist yet during the handshake.
func writeHandshakeError(ws *websocket.Conn, code, message string) {
	payload := ServerError{Type: "error", Code: code, Message: message, Close: true}
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = ws.WriteJSON(payload)
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message),
		time.Now().Add(writeTimeout))
}
