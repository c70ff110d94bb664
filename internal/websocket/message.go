package websocket

import "encoding/json"

// OutgoingMessage is the server-to-client envelope.
type OutgoingMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// IncomingMessage is the client-to-server envelope. From is filled in by
// the read pump and is never trusted from the wire.
type IncomingMessage struct {
	From  string          `json:"-"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}
