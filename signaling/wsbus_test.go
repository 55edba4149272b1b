package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRelay is a minimal in-process stand-in for the external broker:
// it rebroadcasts every "publish" frame it receives to every other
// subscriber of the same room. It exists only to exercise WSBus's
// client-side codec, self-filtering, and history behavior.
type testRelay struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string][]*websocket.Conn
}

func newTestRelay() *testRelay {
	return &testRelay{rooms: make(map[string][]*websocket.Conn)}
}

func (r *testRelay) handler(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	go r.serve(conn)
}

func (r *testRelay) serve(conn *websocket.Conn) {
	defer conn.Close()
	var room string
	for {
		var f wireFrame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case "subscribe":
			room = f.Room
			r.mu.Lock()
			r.rooms[room] = append(r.rooms[room], conn)
			r.mu.Unlock()
		case "publish":
			r.mu.Lock()
			peers := append([]*websocket.Conn(nil), r.rooms[f.Room]...)
			r.mu.Unlock()
			for _, peer := range peers {
				if peer == conn {
					continue
				}
				_ = peer.WriteJSON(f)
			}
		}
	}
}

func dialBus(t *testing.T, url, name string, opts Options) *WSBus {
	t.Helper()
	opts.SelfName = name
	bus := NewWSBus(url, opts, nil)
	require.NoError(t, bus.Connect(context.Background()))
	return bus
}

func TestWSBus_SelfFilterAndRelay(t *testing.T) {
	relay := newTestRelay()
	server := httptest.NewServer(http.HandlerFunc(relay.handler))
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	opts := Options{CompressionEnabled: false, HistoryMaxLength: 10}
	a := dialBus(t, url, "alice", opts)
	defer a.Close()
	b := dialBus(t, url, "bob", opts)
	defer b.Close()

	require.NoError(t, a.Subscribe(context.Background(), "room1"))
	require.NoError(t, b.Subscribe(context.Background(), "room1"))

	// Drain the automatic post-subscribe "connect" envelopes.
	time.Sleep(50 * time.Millisecond)
	drain(a.Envelopes())
	drain(b.Envelopes())

	require.NoError(t, a.Publish(context.Background(), SubtopicNameChange, map[string]string{"oldName": "x", "newName": "y"}))

	select {
	case env := <-b.Envelopes():
		assert.Equal(t, "alice", env.Sender)
		assert.Equal(t, SubtopicNameChange, env.Subtopic)
	case <-time.After(2 * time.Second):
		t.Fatal("bob never received alice's envelope")
	}

	select {
	case <-a.Envelopes():
		t.Fatal("alice should never receive her own envelope")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWSBus_GenericEventForUnknownSubtopic(t *testing.T) {
	relay := newTestRelay()
	server := httptest.NewServer(http.HandlerFunc(relay.handler))
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	opts := Options{CompressionEnabled: false, HistoryMaxLength: 10}
	a := dialBus(t, url, "alice", opts)
	defer a.Close()
	b := dialBus(t, url, "bob", opts)
	defer b.Close()

	require.NoError(t, a.Subscribe(context.Background(), "room2"))
	require.NoError(t, b.Subscribe(context.Background(), "room2"))
	time.Sleep(50 * time.Millisecond)
	drain(a.Envelopes())
	drain(b.Envelopes())

	require.NoError(t, a.Publish(context.Background(), "somethingElse", "hi"))

	select {
	case env := <-b.Generic():
		assert.Equal(t, "somethingElse", env.Subtopic)
	case <-time.After(2 * time.Second):
		t.Fatal("bob never received the generic envelope")
	}
}

func TestWSBus_HistoryBound(t *testing.T) {
	relay := newTestRelay()
	server := httptest.NewServer(http.HandlerFunc(relay.handler))
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	opts := Options{CompressionEnabled: false, HistoryMaxLength: 3}
	a := dialBus(t, url, "alice", opts)
	defer a.Close()
	b := dialBus(t, url, "bob", opts)
	defer b.Close()

	require.NoError(t, a.Subscribe(context.Background(), "room3"))
	require.NoError(t, b.Subscribe(context.Background(), "room3"))
	time.Sleep(50 * time.Millisecond)
	drain(a.Envelopes())
	drain(b.Envelopes())

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Publish(context.Background(), SubtopicUnload, nil))
		<-b.Envelopes()
	}

	assert.LessOrEqual(t, b.History().Len(), 3)
}

func drain(ch <-chan *Envelope) {
	for {
		select {
		case <-ch:
		case <-time.After(20 * time.Millisecond):
			return
		}
	}
}
