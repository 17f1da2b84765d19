// Package types defines the core data structures shared by the gateway
// client, the execution engine and the run state store.
package types

import "encoding/json"

// FrameType identifies the kind of a protocol frame.
type FrameType string

const (
	// FrameRequest is a client-initiated request frame.
	FrameRequest FrameType = "req"
	// FrameResponse is the server response to a request frame.
	FrameResponse FrameType = "res"
	// FrameEvent is a server-pushed event frame.
	FrameEvent FrameType = "event"
)

// Well-known event names pushed by the gateway.
const (
	// EventChallenge is pushed by the gateway immediately after the
	// transport opens; the client answers it with a connect request.
	EventChallenge = "connect.challenge"
	// EventChat carries streamed chat output for a session.
	EventChat = "chat"
)

// Frame is the wire envelope for every message exchanged with the gateway.
// Requests carry ID/Method/Params, responses carry ID/OK plus Payload or
// Error, events carry Event/Payload.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
}

// ConnectAuth carries the credential presented during the handshake.
type ConnectAuth struct {
	Token string `json:"token"`
}

// ConnectParams is the payload of the connect request sent in answer to a
// connect.challenge event.
type ConnectParams struct {
	MinProtocol int         `json:"minProtocol"`
	MaxProtocol int         `json:"maxProtocol"`
	Client      string      `json:"client"`
	Role        string      `json:"role"`
	Scopes      []string    `json:"scopes"`
	Auth        ConnectAuth `json:"auth"`
	Locale      string      `json:"locale"`
	UserAgent   string      `json:"userAgent"`
}
