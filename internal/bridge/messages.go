package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// FrameType is the "type" discriminator carried by every wire frame.
type FrameType string

// Server to client.
const (
	FrameConnected      FrameType = "connected"
	FrameVoiceResult    FrameType = "voice_result"
	FrameStatusUpdate   FrameType = "status_update"
	FrameStatusResponse FrameType = "status_response"
	FramePong           FrameType = "pong"
	FrameModeChanged    FrameType = "mode_changed"
	FrameError          FrameType = "error"
)

// Client to server.
const (
	FramePing          FrameType = "ping"
	FrameStatusRequest FrameType = "status_request"
	FrameModeChange    FrameType = "mode_change"
)

// UnixSeconds converts t to fractional Unix seconds, the timestamp format of
// the wire protocol.
func UnixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// ConnectedFrame confirms a registration.
type ConnectedFrame struct {
	Type       FrameType `json:"type"`
	ClientID   string    `json:"client_id"`
	Mode       Mode      `json:"mode"`
	ServerTime float64   `json:"server_time"`
}

// VoiceResultFrame carries a transcription to clients.
type VoiceResultFrame struct {
	Type          FrameType      `json:"type"`
	Text          string         `json:"text"`
	AgentResponse *AgentResponse `json:"agent_response"`
	Timestamp     float64        `json:"timestamp"`
	Confidence    *float64       `json:"confidence"`
}

// StatusUpdateFrame is the periodic status broadcast.
type StatusUpdateFrame struct {
	Type             FrameType `json:"type"`
	ConnectedClients int       `json:"connected_clients"`
	ServerUptime     float64   `json:"server_uptime"`
	Timestamp        float64   `json:"timestamp"`
}

// StatusResponseFrame answers a status_request.
type StatusResponseFrame struct {
	Type        FrameType                `json:"type"`
	ClientCount int                      `json:"client_count"`
	Clients     map[string]ClientSummary `json:"clients"`
	Timestamp   float64                  `json:"timestamp"`
}

// PongFrame answers a ping, echoing the client's timestamp verbatim.
type PongFrame struct {
	Type            FrameType       `json:"type"`
	Timestamp       json.RawMessage `json:"timestamp"`
	ServerTimestamp float64         `json:"server_timestamp"`
}

// ModeChangedFrame confirms a mode change.
type ModeChangedFrame struct {
	Type      FrameType `json:"type"`
	NewMode   Mode      `json:"new_mode"`
	Timestamp float64   `json:"timestamp"`
}

// ErrorFrame reports a rejected client request.
type ErrorFrame struct {
	Type      FrameType `json:"type"`
	Message   string    `json:"message"`
	Timestamp float64   `json:"timestamp"`
}

// InboundFrame is the union of client to server frames. Timestamp and Mode
// are kept raw so that a mistyped field never loses the whole frame; Mode is
// empty when the key was absent.
type InboundFrame struct {
	Type      FrameType       `json:"type"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	Mode      json.RawMessage `json:"mode,omitempty"`
}

// RequestedMode resolves the mode of a mode_change frame. A missing key means
// ModeBoth. Anything other than a valid mode string fails with ErrInvalidMode,
// and raw is the value to quote back to the client.
func (f InboundFrame) RequestedMode() (raw string, mode Mode, err error) {
	if len(f.Mode) == 0 {
		return string(ModeBoth), ModeBoth, nil
	}
	var s string
	trimmed := bytes.TrimSpace(f.Mode)
	// null unmarshals into a string without error, so require a JSON string.
	if len(trimmed) == 0 || trimmed[0] != '"' || json.Unmarshal(trimmed, &s) != nil {
		raw = string(trimmed)
		return raw, "", fmt.Errorf("%w: %s", ErrInvalidMode, raw)
	}
	mode, err = ParseMode(s)
	return s, mode, err
}

// DecodeInbound parses one client frame.
func DecodeInbound(data []byte) (InboundFrame, error) {
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return InboundFrame{}, err
	}
	return frame, nil
}

// NewConnectedFrame confirms a registration.
func NewConnectedFrame(id string, mode Mode, now time.Time) ConnectedFrame {
	return ConnectedFrame{Type: FrameConnected, ClientID: id, Mode: mode, ServerTime: UnixSeconds(now)}
}

// NewPongFrame answers a ping. A missing echo is sent back as null.
func NewPongFrame(echo json.RawMessage, now time.Time) PongFrame {
	if len(echo) == 0 {
		echo = json.RawMessage("null")
	}
	return PongFrame{Type: FramePong, Timestamp: echo, ServerTimestamp: UnixSeconds(now)}
}

// NewModeChangedFrame confirms a mode change.
func NewModeChangedFrame(mode Mode, now time.Time) ModeChangedFrame {
	return ModeChangedFrame{Type: FrameModeChanged, NewMode: mode, Timestamp: UnixSeconds(now)}
}

// NewErrorFrame reports a rejected request to one client.
func NewErrorFrame(message string, now time.Time) ErrorFrame {
	return ErrorFrame{Type: FrameError, Message: message, Timestamp: UnixSeconds(now)}
}

// NewStatusResponseFrame keys the snapshot by client id.
func NewStatusResponseFrame(clients []ClientSummary, now time.Time) StatusResponseFrame {
	byID := make(map[string]ClientSummary, len(clients))
	for _, c := range clients {
		byID[c.ClientID] = c
	}
	return StatusResponseFrame{
		Type:        FrameStatusResponse,
		ClientCount: len(clients),
		Clients:     byID,
		Timestamp:   UnixSeconds(now),
	}
}
