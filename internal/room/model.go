package room

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotOccupant     = errors.New("sender is not in session")
)

// Relay kinds, doubling as the outgoing event names.
const (
	KindOffer        = "offer"
	KindAnswer       = "answer"
	KindIceCandidate = "add-ice-candidate"
)

// Event names emitted by the registry.
const (
	EventSendOffer   = "send-offer"
	EventChatMessage = "chat-message"
)

// Session pairs exactly two distinct connections.
type Session struct {
	ID        string    `json:"id"`
	First     string    `json:"first"`
	Second    string    `json:"second"`
	CreatedAt time.Time `json:"createdAt"`
}

// Other returns the occupant that is not id. ok is false when id is not an
// occupant at all.
func (s *Session) Other(id string) (string, bool) {
	switch id {
	case s.First:
		return s.Second, true
	case s.Second:
		return s.First, true
	}
	return "", false
}

// Payloads the registry emits. Handshake data stays opaque.
type sendOfferPayload struct {
	SessionID string `json:"sessionId"`
}

type sdpPayload struct {
	SDP       json.RawMessage `json:"sdp"`
	SessionID string          `json:"sessionId"`
}

type icePayload struct {
	Candidate json.RawMessage `json:"candidate"`
	Type      string          `json:"type,omitempty"`
	SessionID string          `json:"sessionId"`
}

type chatPayload struct {
	Message   string `json:"message"`
	Sender    string `json:"sender"`
	SessionID string `json:"sessionId"`
}
