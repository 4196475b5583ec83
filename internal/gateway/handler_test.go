package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sightlinehq/sightline/internal/gateway"
	"github.com/sightlinehq/sightline/internal/mode"
	"github.com/sightlinehq/sightline/pkg/capture"
	"github.com/sightlinehq/sightline/pkg/codec"
)

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

type fakeController struct {
	mu       sync.Mutex
	starts   int
	stops    int
	suspends int
	flips    int
	modes    []mode.ID
	queries  []string

	startErr error
	modeErr  error
}

func (f *fakeController) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeController) Suspend() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspends++
}

func (f *fakeController) SetMode(id mode.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes = append(f.modes, id)
	return f.modeErr
}

func (f *fakeController) Search(query string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return nil
}

func (f *fakeController) FlipCamera() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flips++
	return nil
}

func (f *fakeController) counts() (starts, stops, suspends, flips int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.suspends, f.flips
}

func (f *fakeController) recordedModes() []mode.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]mode.ID, len(f.modes))
	copy(out, f.modes)
	return out
}

func (f *fakeController) recordedQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.queries))
	copy(out, f.queries)
	return out
}

func pcm16k() gateway.AudioFormat {
	return gateway.AudioFormat{Encoding: "pcm_s16le", SampleRateHz: 16000, Channels: 1}
}

func pcm24k() gateway.AudioFormat {
	return gateway.AudioFormat{Encoding: "pcm_s16le", SampleRateHz: 24000, Channels: 1}
}

type testGateway struct {
	srv    *httptest.Server
	ctrl   *fakeController
	connCh chan *gateway.Conn
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	g := &testGateway{
		ctrl:   &fakeController{},
		connCh: make(chan *gateway.Conn, 1),
	}
	h := gateway.NewHandler(func(c *gateway.Conn) gateway.Controller {
		g.connCh <- c
		return g.ctrl
	})
	mux := http.NewServeMux()
	mux.Handle("GET /ws", h)
	g.srv = httptest.NewServer(mux)
	t.Cleanup(g.srv.Close)
	return g
}

// dial opens a raw client connection without performing the handshake.
func (g *testGateway) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/ws"
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// open dials, completes the handshake, and returns the client socket and the
// server-side Conn handed to the shell factory.
func (g *testGateway) open(t *testing.T) (*websocket.Conn, *gateway.Conn) {
	t.Helper()
	client := g.dial(t)
	if err := client.WriteJSON(gateway.ClientHello{
		Type:            "hello",
		ProtocolVersion: gateway.ProtocolVersion,
		AudioIn:         pcm16k(),
		AudioOut:        pcm24k(),
	}); err != nil {
		t.Fatalf("send hello: %v", err)
	}

	ack := readJSON(t, client)
	if ack["type"] != "hello_ack" {
		t.Fatalf("first server message %v, want hello_ack", ack["type"])
	}
	if ack["session_id"] == "" {
		t.Fatal("hello_ack carries no session_id")
	}

	select {
	case conn := <-g.connCh:
		return client, conn
	case <-time.After(3 * time.Second):
		t.Fatal("shell factory was never invoked")
		return nil, nil
	}
}

// readJSON reads the next text message from the client socket. Binary
// messages in between fail the test.
func readJSON(t *testing.T, client *websocket.Conn) map[string]any {
	t.Helper()
	_ = client.SetReadDeadline(time.Now().Add(3 * time.Second))
	messageType, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if messageType != websocket.TextMessage {
		t.Fatalf("got message type %d, want text", messageType)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return out
}

// readBinary reads the next binary message from the client socket.
func readBinary(t *testing.T, client *websocket.Conn) []byte {
	t.Helper()
	_ = client.SetReadDeadline(time.Now().Add(3 * time.Second))
	messageType, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if messageType != websocket.BinaryMessage {
		t.Fatalf("got message type %d, want binary", messageType)
	}
	return data
}

func TestHandshakeAck(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	_, conn := g.open(t)
	if conn == nil {
		t.Fatal("no server connection")
	}
}

func TestHandshakeRejectsBadVersion(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	client := g.dial(t)

	if err := client.WriteJSON(gateway.ClientHello{
		Type:            "hello",
		ProtocolVersion: "99",
		AudioIn:         pcm16k(),
		AudioOut:        pcm24k(),
	}); err != nil {
		t.Fatalf("send hello: %v", err)
	}

	msg := readJSON(t, client)
	if msg["type"] != "error" || msg["code"] != "unsupported_version" {
		t.Fatalf("got %v, want unsupported_version error", msg)
	}
}

func TestHandshakeRejectsWrongAudioFormat(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	client := g.dial(t)

	bad := pcm16k()
	bad.SampleRateHz = 44100
	if err := client.WriteJSON(gateway.ClientHello{
		Type:            "hello",
		ProtocolVersion: gateway.ProtocolVersion,
		AudioIn:         bad,
		AudioOut:        pcm24k(),
	}); err != nil {
		t.Fatalf("send hello: %v", err)
	}

	msg := readJSON(t, client)
	if msg["type"] != "error" || msg["code"] != "unsupported" {
		t.Fatalf("got %v, want unsupported error", msg)
	}
}

func TestHandshakeRejectsNonHelloFirstFrame(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	client := g.dial(t)

	if err := client.WriteJSON(gateway.ClientCommand{Type: "start"}); err != nil {
		t.Fatalf("send command: %v", err)
	}

	msg := readJSON(t, client)
	if msg["type"] != "error" {
		t.Fatalf("got %v, want error", msg)
	}
}

func TestMicAudioReachesCaptureSource(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	client, conn := g.open(t)

	samples := make([]float32, 160)
	for i := range samples {
		samples[i] = 0.25
	}
	frame := append([]byte{gateway.FrameAudio}, codec.EncodePCM(samples)...)
	if err := client.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("send audio: %v", err)
	}

	select {
	case got := <-conn.Audio():
		if len(got.Samples) != 160 {
			t.Errorf("frame has %d samples, want 160", len(got.Samples))
		}
		if got.SampleRate != 16000 {
			t.Errorf("frame rate %d, want 16000", got.SampleRate)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("audio frame never reached the capture source")
	}
}

func TestMalformedClientAudioDropped(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	client, conn := g.open(t)

	// Odd byte count: a truncated sample. Must be dropped without killing
	// the connection.
	if err := client.WriteMessage(websocket.BinaryMessage, []byte{gateway.FrameAudio, 1, 2, 3}); err != nil {
		t.Fatalf("send malformed audio: %v", err)
	}

	good := append([]byte{gateway.FrameAudio}, codec.EncodePCM([]float32{0.1, 0.2})...)
	if err := client.WriteMessage(websocket.BinaryMessage, good); err != nil {
		t.Fatalf("send good audio: %v", err)
	}

	select {
	case got := <-conn.Audio():
		if len(got.Samples) != 2 {
			t.Errorf("got %d samples, want 2 (malformed frame must not pass through)", len(got.Samples))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("good frame never arrived after the malformed one")
	}
}

func TestImageFrameSampled(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	client, conn := g.open(t)

	if _, err := conn.SampleImage(context.Background()); !errors.Is(err, capture.ErrNoFrame) {
		t.Fatalf("SampleImage before any frame returned %v, want ErrNoFrame", err)
	}

	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02}
	frame := append([]byte{gateway.FrameImage}, jpeg...)
	if err := client.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("send image: %v", err)
	}

	waitFor(t, func() bool {
		img, err := conn.SampleImage(context.Background())
		return err == nil && len(img) == len(jpeg)
	}, "image frame to be sampleable")
}

func TestCommandsDispatch(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	client, _ := g.open(t)

	commands := []gateway.ClientCommand{
		{Type: "start"},
		{Type: "set_mode", Mode: string(mode.ObjectFinding)},
		{Type: "search", Query: "my keys"},
		{Type: "flip_camera"},
		{Type: "suspend"},
		{Type: "stop"},
	}
	for _, cmd := range commands {
		if err := client.WriteJSON(cmd); err != nil {
			t.Fatalf("send %s: %v", cmd.Type, err)
		}
	}

	waitFor(t, func() bool {
		starts, stops, suspends, flips := g.ctrl.counts()
		return starts == 1 && stops == 1 && suspends == 1 && flips == 1
	}, "commands to reach the controller")

	if modes := g.ctrl.recordedModes(); len(modes) != 1 || modes[0] != mode.ObjectFinding {
		t.Errorf("recorded modes %v, want [object_finding]", modes)
	}
	if queries := g.ctrl.recordedQueries(); len(queries) != 1 || queries[0] != "my keys" {
		t.Errorf("recorded queries %v, want [my keys]", queries)
	}
}

func TestCommandErrorReported(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	g.ctrl.modeErr = errors.New("unknown mode")
	client, _ := g.open(t)

	if err := client.WriteJSON(gateway.ClientCommand{Type: "set_mode", Mode: "x"}); err != nil {
		t.Fatalf("send set_mode: %v", err)
	}

	msg := readJSON(t, client)
	if msg["type"] != "error" || msg["code"] != "set_mode_failed" {
		t.Fatalf("got %v, want set_mode_failed error", msg)
	}
}

func TestUnknownMessageTypeRejected(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	client, _ := g.open(t)

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"type":"teleport"}`)); err != nil {
		t.Fatalf("send message: %v", err)
	}

	msg := readJSON(t, client)
	if msg["type"] != "error" || msg["code"] != "bad_request" {
		t.Fatalf("got %v, want bad_request error", msg)
	}
}

func TestPlaybackFrameDelivered(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	client, conn := g.open(t)

	samples := make([]float32, 240) // 10ms at 24kHz
	buf := &codec.Buffer{Samples: samples, SampleRate: 24000}

	doneCh := make(chan struct{})
	conn.Play(buf, 250*time.Millisecond, func() { close(doneCh) })

	data := readBinary(t, client)
	pcm, at, err := gateway.DecodePlayback(data)
	if err != nil {
		t.Fatalf("DecodePlayback: %v", err)
	}
	if at != 250*time.Millisecond {
		t.Errorf("start offset %v, want 250ms", at)
	}
	if len(pcm) != 480 {
		t.Errorf("payload %d bytes, want 480", len(pcm))
	}

	select {
	case <-doneCh:
	case <-time.After(3 * time.Second):
		t.Fatal("done callback never fired")
	}
}

func TestStopSignalsInterrupt(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	client, conn := g.open(t)

	samples := make([]float32, 48000) // 2s at 24kHz
	buf := &codec.Buffer{Samples: samples, SampleRate: 24000}

	var doneMu sync.Mutex
	doneCalled := false
	handle := conn.Play(buf, 0, func() {
		doneMu.Lock()
		doneCalled = true
		doneMu.Unlock()
	})

	// Drain the playback frame, then cancel.
	readBinary(t, client)
	handle.Stop()

	msg := readJSON(t, client)
	if msg["type"] != "interrupted" {
		t.Fatalf("got %v, want interrupted", msg)
	}

	time.Sleep(100 * time.Millisecond)
	doneMu.Lock()
	defer doneMu.Unlock()
	if doneCalled {
		t.Error("done callback fired for a stopped chunk")
	}
}

func TestSetFacingForwarded(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	client, conn := g.open(t)

	if err := conn.SetFacing(capture.FacingFront); err != nil {
		t.Fatalf("SetFacing: %v", err)
	}

	msg := readJSON(t, client)
	if msg["type"] != "set_facing" || msg["facing"] != "front" {
		t.Fatalf("got %v, want set_facing front", msg)
	}
	if conn.Facing().String() != "front" {
		t.Errorf("Facing %v, want front", conn.Facing())
	}
}

func TestControllerStoppedOnDisconnect(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	client, _ := g.open(t)

	_ = client.Close()

	waitFor(t, func() bool {
		_, stops, _, _ := g.ctrl.counts()
		return stops >= 1
	}, "controller Stop on client disconnect")
}
