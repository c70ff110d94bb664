package matchmaker

import (
	"sync"
	"time"

	"PairChat/internal/room"
	"PairChat/internal/utils"
	"PairChat/internal/websocket"
)

// Rooms is the part of the session registry the matchmaker drives.
type Rooms interface {
	CreateSession(a, b string) (room.Session, error)
	Relay(kind, sessionID, senderID string, h room.Handshake) error
	Broadcast(sessionID, senderID, message string) error
	EndSession(sessionID, requesterID string) (string, bool)
	RemoveConnection(connID string) (string, bool)
	FindSession(connID string) (string, bool)
}

// Matchmaker owns connections, the wait queue and skip state. Sessions are
// only ever touched through Rooms.
//
// mu guards connections, the queue and skip state. A skip additionally
// holds its session id in skipLocks for the whole teardown, so a duplicate
// skip for the same session is rejected instead of tearing down twice.
type Matchmaker struct {
	mu        sync.Mutex
	conns     map[string]*Connection
	queue     *waitQueue
	lastSkip  map[string]time.Time
	skipLocks map[string]struct{}
	cooldown  time.Duration

	rooms Rooms
	out   websocket.Transport
	now   func() time.Time
}

func NewMatchmaker(rooms Rooms, out websocket.Transport, cooldown time.Duration) *Matchmaker {
	if cooldown <= 0 {
		cooldown = DefaultSkipCooldown
	}
	return &Matchmaker{
		conns:     make(map[string]*Connection),
		queue:     newWaitQueue(),
		lastSkip:  make(map[string]time.Time),
		skipLocks: make(map[string]struct{}),
		cooldown:  cooldown,
		rooms:     rooms,
		out:       out,
		now:       time.Now,
	}
}

// Admit registers a new connection, puts it in the lobby and pairs it if
// someone is already waiting.
func (m *Matchmaker) Admit(name, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conns[id]; ok {
		utils.Log.Debug("duplicate admit ignored", "conn", id)
		return
	}
	m.conns[id] = &Connection{ID: id, Name: name, InQueue: true, JoinedAt: m.now()}
	m.queue.Push(id)
	m.out.SendTo(id, websocket.OutgoingMessage{Event: EventLobby})
	m.drainLocked()
}

// Requeue puts a known, currently unqueued connection back in the lobby.
func (m *Matchmaker) Requeue(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeueLocked(id)
}

func (m *Matchmaker) requeueLocked(id string) {
	c, ok := m.conns[id]
	if !ok || c.InQueue {
		return
	}
	c.InQueue = true
	m.queue.Push(id)
	m.out.SendTo(id, websocket.OutgoingMessage{Event: EventLobby})
	m.drainLocked()
}

// drainLocked pairs the two oldest waiters until fewer than two remain.
func (m *Matchmaker) drainLocked() {
	utils.Log.Debug("draining queue", "waiting", m.queue.Len())

	for m.queue.Len() >= 2 {
		a, _ := m.queue.Pop()
		b, _ := m.queue.Pop()
		ca, okA := m.conns[a]
		cb, okB := m.conns[b]

		if !okA || !okB {
			// A stale id is dropped; a live one keeps its place at the head.
			switch {
			case okA:
				m.queue.PushFront(a)
			case okB:
				m.queue.PushFront(b)
			}
			continue
		}

		ca.InQueue = false
		cb.InQueue = false
		if _, err := m.rooms.CreateSession(a, b); err != nil {
			// Both keep their places; the next admit or requeue retries.
			utils.Log.Error("pairing failed", "first", a, "second", b, "err", err)
			ca.InQueue = true
			cb.InQueue = true
			m.queue.PushFront(b)
			m.queue.PushFront(a)
			return
		}
	}
}

// Remove forgets a disconnected connection. Its partner, if any, is told
// and sent back to the lobby. Unknown ids are a no-op.
func (m *Matchmaker) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	partner, paired := m.rooms.RemoveConnection(id)

	delete(m.conns, id)
	m.queue.Remove(id)
	delete(m.lastSkip, id)

	if paired {
		m.out.SendTo(partner, websocket.OutgoingMessage{Event: EventUserSkipped})
		m.requeueLocked(partner)
	}
}

// HandleSkip ends sessionID on behalf of id and sends both occupants back
// to the lobby. Requests are rejected while another skip for the same
// session is in flight, or when id skipped within the cooldown.
func (m *Matchmaker) HandleSkip(id, sessionID string) {
	m.mu.Lock()
	now := m.now()
	m.pruneSkipsLocked(now)

	if _, busy := m.skipLocks[sessionID]; busy {
		m.mu.Unlock()
		utils.Log.Debug("skip rejected, in progress", "conn", id, "session", sessionID)
		m.skipError(id, msgSkipInProgress)
		return
	}
	m.skipLocks[sessionID] = struct{}{}
	defer m.releaseSkip(sessionID)

	if last, ok := m.lastSkip[id]; ok && now.Sub(last) < m.cooldown {
		m.mu.Unlock()
		utils.Log.Debug("skip rejected, cooldown", "conn", id, "session", sessionID)
		m.skipError(id, msgSkipCooldown)
		return
	}
	m.lastSkip[id] = now
	m.mu.Unlock()

	partner, ok := m.rooms.EndSession(sessionID, id)
	if !ok {
		return
	}

	m.out.SendTo(partner, websocket.OutgoingMessage{Event: EventUserSkipped})

	m.mu.Lock()
	m.requeueLocked(id)
	m.requeueLocked(partner)
	m.mu.Unlock()
}

func (m *Matchmaker) releaseSkip(sessionID string) {
	m.mu.Lock()
	delete(m.skipLocks, sessionID)
	m.mu.Unlock()
}

func (m *Matchmaker) pruneSkipsLocked(now time.Time) {
	stale := m.cooldown * skipStaleFactor
	for id, ts := range m.lastSkip {
		if now.Sub(ts) > stale {
			delete(m.lastSkip, id)
		}
	}
}

func (m *Matchmaker) skipError(id, message string) {
	m.out.SendTo(id, websocket.OutgoingMessage{
		Event: EventSkipError,
		Data:  skipErrorPayload{Message: message},
	})
}

// Waiting returns the queued connection ids, oldest first.
func (m *Matchmaker) Waiting() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Snapshot()
}

// Connection returns a copy of the record for id.
func (m *Matchmaker) Connection(id string) (Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// SessionOf reports which session id is in, for diagnostics.
func (m *Matchmaker) SessionOf(id string) (string, bool) {
	return m.rooms.FindSession(id)
}
