package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"PairChat/internal/utils"
	"PairChat/internal/websocket"
)

var (
	ErrSameConnection = errors.New("a session needs two distinct connections")
	ErrAlreadyPaired  = errors.New("connection already in a session")
)

const (
	recordTimeout = 250 * time.Millisecond
	recordBuffer  = 256
)

// Handshake is the opaque part of an offer, answer or ICE candidate. The
// registry forwards it without looking inside.
type Handshake struct {
	SDP       json.RawMessage
	Candidate json.RawMessage
	Type      string
}

// Registry owns the session table. Connection ids are only ever held by
// reference; the matchmaker owns the connection records themselves.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session // session id -> session
	byConn   map[string]string   // connection id -> session id
	lastID   uint64

	out      websocket.Transport
	recorder Recorder
	now      func() time.Time

	// Recorder calls run in order on one worker goroutine so a slow mirror
	// never holds up pairing. records is nil when there is no mirror.
	records chan func(ctx context.Context) error
	closed  bool
	done    chan struct{}
}

func NewRegistry(out websocket.Transport, recorder Recorder) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		byConn:   make(map[string]string),
		out:      out,
		recorder: NopRecorder{},
		now:      time.Now,
	}
	if _, nop := recorder.(NopRecorder); recorder != nil && !nop {
		r.recorder = recorder
		r.records = make(chan func(ctx context.Context) error, recordBuffer)
		r.done = make(chan struct{})
		go r.recordLoop()
	}
	return r
}

// Close stops the recorder worker after it has flushed pending calls.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.records == nil || r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.records)
	r.mu.Unlock()
	<-r.done
}

// CreateSession pairs a and b under the next id, subscribes both to the
// session's broadcast group and tells both to start the handshake. Ids are
// never reused.
func (r *Registry) CreateSession(a, b string) (Session, error) {
	if a == b {
		return Session{}, ErrSameConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range []string{a, b} {
		if sid, ok := r.byConn[id]; ok {
			return Session{}, fmt.Errorf("%s in %s: %w", id, sid, ErrAlreadyPaired)
		}
	}

	r.lastID++
	s := &Session{
		ID:        strconv.FormatUint(r.lastID, 10),
		First:     a,
		Second:    b,
		CreatedAt: r.now(),
	}
	r.sessions[s.ID] = s
	r.byConn[a] = s.ID
	r.byConn[b] = s.ID

	r.out.Join(s.ID, a)
	r.out.Join(s.ID, b)
	utils.Log.Info("session created", "session", s.ID, "first", a, "second", b)

	msg := websocket.OutgoingMessage{Event: EventSendOffer, Data: sendOfferPayload{SessionID: s.ID}}
	r.out.SendTo(a, msg)
	r.out.SendTo(b, msg)

	created := *s
	r.record(func(ctx context.Context) error { return r.recorder.Save(ctx, created) })
	return *s, nil
}

// Relay forwards a handshake payload from senderID to the other occupant of
// sessionID, tagged with kind and the session id.
func (r *Registry) Relay(kind, sessionID, senderID string, h Handshake) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, err := r.partnerLocked(sessionID, senderID)
	if err != nil {
		return err
	}

	var data interface{}
	switch kind {
	case KindOffer, KindAnswer:
		data = sdpPayload{SDP: opaque(h.SDP), SessionID: sessionID}
	case KindIceCandidate:
		data = icePayload{Candidate: opaque(h.Candidate), Type: h.Type, SessionID: sessionID}
	default:
		return fmt.Errorf("unknown relay kind %q", kind)
	}

	r.out.SendTo(target, websocket.OutgoingMessage{Event: kind, Data: data})
	return nil
}

// Broadcast fans a chat message out to both occupants through the session
// group, sender included.
func (r *Registry) Broadcast(sessionID, senderID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.partnerLocked(sessionID, senderID); err != nil {
		return err
	}
	r.out.BroadcastToGroup(sessionID, websocket.OutgoingMessage{
		Event: EventChatMessage,
		Data:  chatPayload{Message: message, Sender: senderID, SessionID: sessionID},
	})
	return nil
}

// EndSession tears sessionID down on behalf of requesterID and returns the
// partner. ok is false when the session is gone or requesterID is not in it.
func (r *Registry) EndSession(sessionID, requesterID string) (partner string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	partner, err := r.partnerLocked(sessionID, requesterID)
	if err != nil {
		return "", false
	}
	r.deleteLocked(r.sessions[sessionID])
	utils.Log.Info("session ended", "session", sessionID, "by", requesterID, "partner", partner)
	return partner, true
}

// RemoveConnection ends whatever session connID is in and returns the
// partner, if there was one.
func (r *Registry) RemoveConnection(connID string) (partner string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sid, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	s := r.sessions[sid]
	partner, _ = s.Other(connID)
	r.deleteLocked(s)
	utils.Log.Info("session ended by disconnect", "session", sid, "conn", connID, "partner", partner)
	return partner, true
}

// FindSession returns the id of the session connID is in.
func (r *Registry) FindSession(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sid, ok := r.byConn[connID]
	return sid, ok
}

// Get returns a copy of the session record.
func (r *Registry) Get(sessionID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// partnerLocked makes the occupancy check explicit: only an occupant of
// sessionID has a partner in it.
func (r *Registry) partnerLocked(sessionID, senderID string) (string, error) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return "", fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
	}
	other, ok := s.Other(senderID)
	if !ok {
		return "", fmt.Errorf("%s not in %s: %w", senderID, sessionID, ErrNotOccupant)
	}
	return other, nil
}

func (r *Registry) deleteLocked(s *Session) {
	delete(r.sessions, s.ID)
	delete(r.byConn, s.First)
	delete(r.byConn, s.Second)
	r.out.Leave(s.ID, s.First)
	r.out.Leave(s.ID, s.Second)

	gone := *s
	r.record(func(ctx context.Context) error { return r.recorder.Delete(ctx, gone) })
}

// record hands a recorder call to the worker. Must be called with r.mu
// held. A full buffer drops the call; the in-memory table is
// authoritative.
func (r *Registry) record(fn func(ctx context.Context) error) {
	if r.records == nil || r.closed {
		return
	}
	select {
	case r.records <- fn:
	default:
		utils.Log.Warn("session recorder backlog full, dropping update")
	}
}

func (r *Registry) recordLoop() {
	defer close(r.done)
	for fn := range r.records {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := fn(ctx); err != nil {
			utils.Log.Warn("session recorder failed", "err", err)
		}
		cancel()
	}
}

func opaque(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
