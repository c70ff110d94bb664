package matchmaker

import (
	"encoding/json"
	"errors"

	"PairChat/internal/room"
	"PairChat/internal/utils"
	"PairChat/internal/websocket"
)

// Attach wires the hub's lifecycle and message callbacks to m. Must be
// called before hub.Run.
func (m *Matchmaker) Attach(hub *websocket.Hub) {
	hub.OnConnect = func(id string) {
		utils.Log.Info("user connected", "conn", id)
		m.Admit(DefaultDisplayName, id)
	}
	hub.OnDisconnect = func(id string) {
		utils.Log.Info("user disconnected", "conn", id)
		m.Remove(id)
	}
	hub.OnIncoming = m.HandleMessage
}

// HandleMessage is the single entry point for client events. Payloads
// that fail to decode are dropped.
func (m *Matchmaker) HandleMessage(msg websocket.IncomingMessage) {
	switch msg.Event {

	case EventOffer, EventAnswer:
		var req sdpRequest
		if !decode(msg, &req) {
			return
		}
		m.logDrop(msg, m.rooms.Relay(msg.Event, req.session(), msg.From, room.Handshake{SDP: req.SDP}))

	case EventIceCandidate:
		var req iceRequest
		if !decode(msg, &req) {
			return
		}
		h := room.Handshake{Candidate: req.Candidate, Type: req.Type}
		m.logDrop(msg, m.rooms.Relay(room.KindIceCandidate, req.session(), msg.From, h))

	case EventChatMessage:
		var req chatRequest
		if !decode(msg, &req) {
			return
		}
		utils.Log.Debug("chat message", "conn", msg.From, "session", req.session())
		m.logDrop(msg, m.rooms.Broadcast(req.session(), msg.From, req.Message))

	case EventSkipUser:
		var req skipRequest
		if !decode(msg, &req) {
			return
		}
		utils.Log.Info("skip requested", "conn", msg.From, "session", req.session())
		m.HandleSkip(msg.From, req.session())

	default:
		utils.Log.Warn("unknown event", "conn", msg.From, "event", msg.Event)
	}
}

func decode(msg websocket.IncomingMessage, v interface{}) bool {
	if len(msg.Data) == 0 {
		utils.Log.Warn("missing payload", "conn", msg.From, "event", msg.Event)
		return false
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		utils.Log.Warn("malformed payload", "conn", msg.From, "event", msg.Event, "err", err)
		return false
	}
	return true
}

// logDrop records why a relay or chat message went nowhere. Missing
// sessions are the normal aftermath of a disconnect.
func (m *Matchmaker) logDrop(msg websocket.IncomingMessage, err error) {
	switch {
	case err == nil:
	case errors.Is(err, room.ErrSessionNotFound):
		utils.Log.Debug("dropped, session gone", "conn", msg.From, "event", msg.Event, "err", err)
	case errors.Is(err, room.ErrNotOccupant):
		utils.Log.Warn("dropped, sender not in session", "conn", msg.From, "event", msg.Event, "err", err)
	default:
		utils.Log.Warn("dropped", "conn", msg.From, "event", msg.Event, "err", err)
	}
}
