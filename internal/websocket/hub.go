package websocket

import (
	"sync"

	"PairChat/internal/utils"
)

// Transport is what the pairing layer needs from the hub: point sends and
// named groups. Sends never block.
type Transport interface {
	SendTo(id string, msg OutgoingMessage)
	Join(group, id string)
	Leave(group, id string)
	BroadcastToGroup(group string, msg OutgoingMessage)
}

// Hub owns every live client. Register, unregister and incoming events are
// handled one at a time on the Run goroutine, so the callbacks below never
// run concurrently with each other.
type Hub struct {
	clients    map[string]*Client             // id -> client
	groups     map[string]map[string]struct{} // group -> member ids
	register   chan *Client
	unregister chan *Client
	incoming   chan IncomingMessage
	quit       chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex

	OnConnect    func(id string)
	OnDisconnect func(id string)
	OnIncoming   func(IncomingMessage)
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		groups:     make(map[string]map[string]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		incoming:   make(chan IncomingMessage),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	utils.Log.Info("hub started")

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.ID] = c
			n := len(h.clients)
			h.mu.Unlock()
			utils.Log.Info("client registered", "conn", c.ID, "clients", n)

			if h.OnConnect != nil {
				h.OnConnect(c.ID)
			}

		case c := <-h.unregister:
			if !h.drop(c) {
				continue
			}
			if h.OnDisconnect != nil {
				h.OnDisconnect(c.ID)
			}

		case msg := <-h.incoming:
			h.mu.RLock()
			_, live := h.clients[msg.From]
			h.mu.RUnlock()
			if live && h.OnIncoming != nil {
				h.OnIncoming(msg)
			}

		case <-h.quit:
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.Send)
				delete(h.clients, id)
			}
			h.groups = make(map[string]map[string]struct{})
			h.mu.Unlock()
			utils.Log.Info("hub stopped")
			return
		}
	}
}

// drop removes c and its group memberships. It reports false when c was
// already gone, which keeps the disconnect notification to one per client.
func (h *Hub) drop(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur, ok := h.clients[c.ID]
	if !ok || cur != c {
		return false
	}
	delete(h.clients, c.ID)
	for name, members := range h.groups {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.groups, name)
		}
	}
	close(c.Send)
	utils.Log.Info("client unregistered", "conn", c.ID, "clients", len(h.clients))
	return true
}

// SendTo queues msg for one client. Unknown ids and full buffers drop the
// message.
func (h *Hub) SendTo(id string, msg OutgoingMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if c, ok := h.clients[id]; ok {
		h.offer(c, msg)
	}
}

func (h *Hub) Join(group, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[id]; !ok {
		return
	}
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]struct{})
		h.groups[group] = members
	}
	members[id] = struct{}{}
}

func (h *Hub) Leave(group, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

func (h *Hub) BroadcastToGroup(group string, msg OutgoingMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id := range h.groups[group] {
		if c, ok := h.clients[id]; ok {
			h.offer(c, msg)
		}
	}
}

// Lookup for a client by id
func (h *Hub) ClientByID(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

// Close stops Run. Pumps still blocked on the hub give up instead of
// waiting forever. Safe to call more than once.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.quit) })
}

// enqueueRegister hands c to Run. It reports false once the hub is closed.
func (h *Hub) enqueueRegister(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) enqueueUnregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// enqueueIncoming reports false once the hub is closed.
func (h *Hub) enqueueIncoming(msg IncomingMessage) bool {
	select {
	case h.incoming <- msg:
		return true
	case <-h.quit:
		return false
	}
}

// offer must be called with h.mu held.
func (h *Hub) offer(c *Client, msg OutgoingMessage) {
	select {
	case c.Send <- msg:
	default:
		utils.Log.Warn("send buffer full, dropping", "conn", c.ID, "event", msg.Event)
	}
}
