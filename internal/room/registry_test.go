package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"PairChat/internal/websocket"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records every send and group change.
type fakeTransport struct {
	mu     sync.Mutex
	sent   map[string][]websocket.OutgoingMessage
	groups map[string]map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent:   make(map[string][]websocket.OutgoingMessage),
		groups: make(map[string]map[string]bool),
	}
}

func (f *fakeTransport) SendTo(id string, msg websocket.OutgoingMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[id] = append(f.sent[id], msg)
}

func (f *fakeTransport) Join(group, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.groups[group] == nil {
		f.groups[group] = make(map[string]bool)
	}
	f.groups[group][id] = true
}

func (f *fakeTransport) Leave(group, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groups[group], id)
	if len(f.groups[group]) == 0 {
		delete(f.groups, group)
	}
}

func (f *fakeTransport) BroadcastToGroup(group string, msg websocket.OutgoingMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.groups[group] {
		f.sent[id] = append(f.sent[id], msg)
	}
}

func (f *fakeTransport) events(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent[id] {
		out = append(out, m.Event)
	}
	return out
}

func (f *fakeTransport) last(id string) websocket.OutgoingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.sent[id]
	if len(msgs) == 0 {
		return websocket.OutgoingMessage{}
	}
	return msgs[len(msgs)-1]
}

func (f *fakeTransport) members(group string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id := range f.groups[group] {
		out = append(out, id)
	}
	return out
}

// wire marshals a payload the way the hub would put it on the socket.
func wire(t *testing.T, v interface{}) map[string]interface{} {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestCreateSessionAssignsMonotonicIDs(t *testing.T) {
	out := newFakeTransport()
	reg := NewRegistry(out, nil)

	s1, err := reg.CreateSession("A", "B")
	require.NoError(t, err)
	assert.Equal(t, "1", s1.ID)
	assert.Equal(t, "A", s1.First)
	assert.Equal(t, "B", s1.Second)

	for _, id := range []string{"A", "B"} {
		msg := out.last(id)
		assert.Equal(t, EventSendOffer, msg.Event)
		assert.Equal(t, "1", wire(t, msg.Data)["sessionId"])
	}
	assert.ElementsMatch(t, []string{"A", "B"}, out.members("1"))

	_, ok := reg.EndSession("1", "A")
	require.True(t, ok)

	s2, err := reg.CreateSession("A", "B")
	require.NoError(t, err)
	assert.Equal(t, "2", s2.ID, "ids are never reused")
}

func TestCreateSessionRejectsInvalidPairs(t *testing.T) {
	reg := NewRegistry(newFakeTransport(), nil)

	_, err := reg.CreateSession("A", "A")
	assert.ErrorIs(t, err, ErrSameConnection)

	_, err = reg.CreateSession("A", "B")
	require.NoError(t, err)

	_, err = reg.CreateSession("B", "C")
	assert.ErrorIs(t, err, ErrAlreadyPaired)
	assert.Equal(t, 1, reg.Len())

	_, found := reg.FindSession("C")
	assert.False(t, found)
}

func TestRelayForwardsToOtherOccupant(t *testing.T) {
	out := newFakeTransport()
	reg := NewRegistry(out, nil)
	s, err := reg.CreateSession("A", "B")
	require.NoError(t, err)

	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	require.NoError(t, reg.Relay(KindOffer, s.ID, "A", Handshake{SDP: sdp}))

	msg := out.last("B")
	assert.Equal(t, KindOffer, msg.Event)
	data := wire(t, msg.Data)
	assert.Equal(t, s.ID, data["sessionId"])
	assert.Equal(t, map[string]interface{}{"type": "offer", "sdp": "v=0"}, data["sdp"])
	assert.Equal(t, []string{EventSendOffer}, out.events("A"), "sender gets nothing back")

	require.NoError(t, reg.Relay(KindAnswer, s.ID, "B", Handshake{SDP: json.RawMessage(`"v=0 answer"`)}))
	msg = out.last("A")
	assert.Equal(t, KindAnswer, msg.Event)
	assert.Equal(t, "v=0 answer", wire(t, msg.Data)["sdp"])

	cand := json.RawMessage(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}`)
	require.NoError(t, reg.Relay(KindIceCandidate, s.ID, "B", Handshake{Candidate: cand, Type: "receiver"}))
	msg = out.last("A")
	assert.Equal(t, KindIceCandidate, msg.Event)
	data = wire(t, msg.Data)
	assert.Equal(t, "receiver", data["type"])
	assert.Equal(t, s.ID, data["sessionId"])
	assert.NotNil(t, data["candidate"])
}

func TestRelayDrops(t *testing.T) {
	out := newFakeTransport()
	reg := NewRegistry(out, nil)
	s, err := reg.CreateSession("A", "B")
	require.NoError(t, err)

	err = reg.Relay(KindOffer, "99", "A", Handshake{})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = reg.Relay(KindOffer, s.ID, "C", Handshake{})
	assert.ErrorIs(t, err, ErrNotOccupant)

	err = reg.Relay("bogus", s.ID, "A", Handshake{})
	assert.Error(t, err)

	assert.Equal(t, []string{EventSendOffer}, out.events("A"))
	assert.Equal(t, []string{EventSendOffer}, out.events("B"))
	assert.Empty(t, out.events("C"))
}

func TestBroadcastReachesBothOccupants(t *testing.T) {
	out := newFakeTransport()
	reg := NewRegistry(out, nil)
	s, err := reg.CreateSession("A", "B")
	require.NoError(t, err)

	require.NoError(t, reg.Broadcast(s.ID, "A", "hello"))
	for _, id := range []string{"A", "B"} {
		msg := out.last(id)
		assert.Equal(t, EventChatMessage, msg.Event)
		data := wire(t, msg.Data)
		assert.Equal(t, "hello", data["message"])
		assert.Equal(t, "A", data["sender"])
	}

	assert.ErrorIs(t, reg.Broadcast(s.ID, "C", "intruder"), ErrNotOccupant)
	assert.ErrorIs(t, reg.Broadcast("42", "A", "void"), ErrSessionNotFound)
}

func TestEndSession(t *testing.T) {
	out := newFakeTransport()
	reg := NewRegistry(out, nil)
	s, err := reg.CreateSession("A", "B")
	require.NoError(t, err)

	_, ok := reg.EndSession(s.ID, "C")
	assert.False(t, ok, "non-occupants cannot end a session")
	_, exists := reg.Get(s.ID)
	assert.True(t, exists)

	partner, ok := reg.EndSession(s.ID, "B")
	require.True(t, ok)
	assert.Equal(t, "A", partner)

	_, exists = reg.Get(s.ID)
	assert.False(t, exists)
	assert.Empty(t, out.members(s.ID))
	for _, id := range []string{"A", "B"} {
		_, found := reg.FindSession(id)
		assert.False(t, found)
	}

	_, ok = reg.EndSession(s.ID, "B")
	assert.False(t, ok, "second teardown finds nothing")
}

func TestRemoveConnection(t *testing.T) {
	out := newFakeTransport()
	reg := NewRegistry(out, nil)
	_, err := reg.CreateSession("A", "B")
	require.NoError(t, err)
	s2, err := reg.CreateSession("C", "D")
	require.NoError(t, err)

	sid, found := reg.FindSession("D")
	require.True(t, found)
	assert.Equal(t, s2.ID, sid)

	partner, ok := reg.RemoveConnection("D")
	require.True(t, ok)
	assert.Equal(t, "C", partner)
	assert.Equal(t, 1, reg.Len())

	_, ok = reg.RemoveConnection("D")
	assert.False(t, ok)
	_, ok = reg.RemoveConnection("nobody")
	assert.False(t, ok)
}

func TestRegistryMirrorsToRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rec := NewRedisRecorder(rdb)
	reg := NewRegistry(newFakeTransport(), rec)
	defer reg.Close()

	s, err := reg.CreateSession("A", "B")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return mr.Exists(sessionKey(s.ID)) }, time.Second, 5*time.Millisecond)
	val, err := mr.Get(connKey("A"))
	require.NoError(t, err)
	assert.Equal(t, s.ID, val)

	raw, err := mr.Get(sessionKey(s.ID))
	require.NoError(t, err)
	var stored Session
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, "A", stored.First)
	assert.Equal(t, "B", stored.Second)

	n, err := rec.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := reg.RemoveConnection("B")
	require.True(t, ok)
	require.Eventually(t, func() bool { return !mr.Exists(sessionKey(s.ID)) }, time.Second, 5*time.Millisecond)
	assert.False(t, mr.Exists(connKey("A")))
	assert.False(t, mr.Exists(connKey("B")))
}

func TestRedisRecorderReset(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rec := NewRedisRecorder(rdb)
	ctx := context.Background()

	require.NoError(t, rec.Save(ctx, Session{ID: "1", First: "A", Second: "B"}))
	require.NoError(t, rec.Save(ctx, Session{ID: "2", First: "C", Second: "D"}))
	require.NoError(t, mr.Set("unrelated", "keep"))

	require.NoError(t, rec.Reset(ctx))

	n, err := rec.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, mr.Exists(connKey("C")))
	assert.True(t, mr.Exists("unrelated"))
}

func TestRecorderFailureDoesNotAffectTable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	reg := NewRegistry(newFakeTransport(), NewRedisRecorder(rdb))
	defer reg.Close()

	s, err := reg.CreateSession("A", "B")
	require.NoError(t, err)
	_, exists := reg.Get(s.ID)
	assert.True(t, exists)

	partner, ok := reg.EndSession(s.ID, "A")
	assert.True(t, ok)
	assert.Equal(t, "B", partner)
}

// gatedRecorder blocks every call until release is closed and logs the
// order calls arrive in.
type gatedRecorder struct {
	release chan struct{}
	mu      sync.Mutex
	calls   []string
}

func (g *gatedRecorder) wait(ctx context.Context, op string, s Session) error {
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	g.mu.Lock()
	g.calls = append(g.calls, op+":"+s.ID)
	g.mu.Unlock()
	return nil
}

func (g *gatedRecorder) Save(ctx context.Context, s Session) error {
	return g.wait(ctx, "save", s)
}

func (g *gatedRecorder) Delete(ctx context.Context, s Session) error {
	return g.wait(ctx, "delete", s)
}

func TestSlowRecorderDoesNotBlockTable(t *testing.T) {
	rec := &gatedRecorder{release: make(chan struct{})}
	reg := NewRegistry(newFakeTransport(), rec)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		s, err := reg.CreateSession("A", "B")
		assert.NoError(t, err)
		_, ok := reg.EndSession(s.ID, "A")
		assert.True(t, ok)
		_, err = reg.CreateSession("A", "C")
		assert.NoError(t, err)
	}()

	select {
	case <-finished:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("registry operations waited on the recorder")
	}

	close(rec.release)
	reg.Close()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"save:1", "delete:1", "save:2"}, rec.calls)
}

func TestCloseWithoutRecorder(t *testing.T) {
	reg := NewRegistry(newFakeTransport(), nil)
	assert.NotPanics(t, func() {
		reg.Close()
		reg.Close()
	})
	_, err := reg.CreateSession("A", "B")
	assert.NoError(t, err)
}
