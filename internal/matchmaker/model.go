package matchmaker

import (
	"encoding/json"
	"time"
)

// DefaultDisplayName is given to every connection; clients cannot pick one.
const DefaultDisplayName = "randomName"

// DefaultSkipCooldown is the minimum gap between two skips by one connection.
const DefaultSkipCooldown = time.Second

// skipStaleFactor: cooldown timestamps older than this many windows are pruned.
const skipStaleFactor = 10

// Client-facing events.
const (
	EventLobby        = "lobby"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventIceCandidate = "add-ice-candidate"
	EventChatMessage  = "chat-message"
	EventSkipUser     = "skip-user"
	EventUserSkipped  = "user-skipped"
	EventSkipError    = "skip-error"
)

const (
	msgSkipInProgress = "Skip in progress, please wait."
	msgSkipCooldown   = "Please wait before skipping again"
)

// Connection is one waiting or paired client.
type Connection struct {
	ID       string
	Name     string
	InQueue  bool
	JoinedAt time.Time
}

// sessionRef is embedded in every client request. Older clients still
// send roomId, so both spellings are accepted.
type sessionRef struct {
	SessionID string `json:"sessionId"`
	RoomID    string `json:"roomId"`
}

func (r sessionRef) session() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	return r.RoomID
}

type sdpRequest struct {
	sessionRef
	SDP json.RawMessage `json:"sdp"`
}

type iceRequest struct {
	sessionRef
	Candidate json.RawMessage `json:"candidate"`
	Type      string          `json:"type"`
}

type chatRequest struct {
	sessionRef
	Message string `json:"message"`
}

type skipRequest struct {
	sessionRef
}

type skipErrorPayload struct {
	Message string `json:"message"`
}
