package gateway

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

// ProtocolVersion is the only wire protocol version this gateway speaks.
const ProtocolVersion = "1"

// Binary frame kinds. Every binary WebSocket message starts with one kind
// byte; the payload follows immediately.
const (
	// FrameAudio carries 16-bit signed little-endian PCM. Upstream frames
	// hold microphone audio at the negotiated input rate; downstream frames
	// carry agent audio at the negotiated output rate prefixed with an
	// 8-byte big-endian start offset in milliseconds.
	FrameAudio byte = 0x01

	// FrameImage carries one JPEG camera snapshot. Upstream only.
	FrameImage byte = 0x02
)

// playbackHeaderLen is the downstream audio frame header: kind byte plus the
// 8-byte start offset.
const playbackHeaderLen = 9

// AudioFormat describes one direction of the negotiated audio shape.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// ClientHello is the mandatory first text message on every connection.
type ClientHello struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	AudioIn         AudioFormat `json:"audio_in"`
	AudioOut        AudioFormat `json:"audio_out"`
}

// ClientCommand is any post-handshake control message from the client.
type ClientCommand struct {
	// Type is one of "start", "stop", "suspend", "set_mode", "search",
	// "flip_camera".
	Type string `json:"type"`

	// Mode is set for "set_mode".
	Mode string `json:"mode,omitempty"`

	// Query is set for "search".
	Query string `json:"query,omitempty"`
}

// ServerHelloAck confirms the handshake.
type ServerHelloAck struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	AudioIn         AudioFormat `json:"audio_in"`
	AudioOut        AudioFormat `json:"audio_out"`
}

// ServerState reports the connected flag and the selected mode.
type ServerState struct {
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
	Mode      string `json:"mode"`
	ModeLabel string `json:"mode_label"`
}

// ServerTranscript carries one transcript line.
type ServerTranscript struct {
	Type    string `json:"type"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// ServerAnnouncement carries one screen-reader announcement.
type ServerAnnouncement struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ServerInterrupted tells the client to flush all buffered agent audio
// immediately. Sent once per barge-in.
type ServerInterrupted struct {
	Type string `json:"type"`
}

// ServerHaptic asks the client to fire a vibration pulse.
type ServerHaptic struct {
	Type       string `json:"type"`
	DurationMs int64  `json:"duration_ms"`
}

// ServerSetFacing asks the client to rebind its camera.
type ServerSetFacing struct {
	Type   string `json:"type"`
	Facing string `json:"facing"`
}

// ServerError reports a failed operation. Close is true when the gateway is
// about to drop the connection.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}

// DecodeClientMessage parses a text message into [ClientHello] or
// [ClientCommand] based on its type tag.
func DecodeClientMessage(data []byte) (any, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("gateway: decode message: %w", err)
	}

	switch probe.Type {
	case "hello":
		var hello ClientHello
		if err := json.Unmarshal(data, &hello); err != nil {
			return nil, fmt.Errorf("gateway: decode hello: %w", err)
		}
		return hello, nil
	case "start", "stop", "suspend", "set_mode", "search", "flip_camera":
		var cmd ClientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("gateway: decode command: %w", err)
		}
		return cmd, nil
	default:
		return nil, fmt.Errorf("gateway: unknown message type %q", probe.Type)
	}
}

// EncodePlayback builds a downstream binary audio frame: kind byte, start
// offset in milliseconds, PCM payload.
func EncodePlayback(pcm []byte, at time.Duration) []byte {
	out := make([]byte, playbackHeaderLen+len(pcm))
	out[0] = FrameAudio
	binary.BigEndian.PutUint64(out[1:playbackHeaderLen], uint64(at.Milliseconds()))
	copy(out[playbackHeaderLen:], pcm)
	return out
}

// DecodePlayback reverses [EncodePlayback]. Used by client SDKs and tests.
func DecodePlayback(frame []byte) (pcm []byte, at time.Duration, err error) {
	if len(frame) < playbackHeaderLen || frame[0] != FrameAudio {
		return nil, 0, fmt.Errorf("gateway: malformed playback frame (%d bytes)", len(frame))
	}
	ms := binary.BigEndian.Uint64(frame[1:playbackHeaderLen])
	return frame[playbackHeaderLen:], time.Duration(ms) * time.Millisecond, nil
}
