// mrtchat - peer-to-peer chat substrate
// Copyright (C) 2025 sage-x-project
//
// This file is part of mrtchat.
//
// mrtchat is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// mrtchat is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with mrtchat. If not, see <https://www.gnu.org/licenses/>.

package rendezvous_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/mrtchat/identity"
	"github.com/sage-x-project/mrtchat/kv/memkv"
	"github.com/sage-x-project/mrtchat/rendezvous"
	"github.com/sage-x-project/mrtchat/session"
	"github.com/sage-x-project/mrtchat/signaling"
	"github.com/sage-x-project/mrtchat/transport/wsloop"
	"github.com/sage-x-project/mrtchat/trust"
)

type testNode struct {
	name   string
	bus    *signaling.MemBus
	ids    *identity.Store
	engine *rendezvous.Engine

	messages chan string // chat payloads received
}

// newTestNode builds a node with an unsafe trust policy (no prompting,
// no gating) so connection mechanics can be tested in isolation.
func newTestNode(t *testing.T, hub *signaling.MemHub, name string) *testNode {
	t.Helper()

	ids, err := identity.New(context.Background(), memkv.New())
	require.NoError(t, err)
	policy, err := trust.PolicyForMode("unsafe")
	require.NoError(t, err)
	engine := trust.NewEngine(ids, policy, trust.Callbacks{}, true, nil)

	n := &testNode{
		name:     name,
		bus:      hub.NewBus(name, 100),
		ids:      ids,
		messages: make(chan string, 16),
	}

	n.engine = rendezvous.New(rendezvous.Options{
		LocalName: func() string { return name },
		Bus:       n.bus,
		Factory:   wsloop.Factory(),
		Admission: engine,
		Identity:  ids,
		Events: rendezvous.Events{
			OnMessage: func(channel string, data []byte, raw bool, sender string) {
				if channel == session.ChannelChat {
					var msg string
					_ = json.Unmarshal(data, &msg)
					n.messages <- msg
				}
			},
		},
	})
	return n
}

func (n *testNode) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go n.engine.Run(ctx)
}

func waitForOpenSession(t *testing.T, n *testNode, peer string) *session.Session {
	t.Helper()
	var sess *session.Session
	require.Eventually(t, func() bool {
		sess = n.engine.Session(peer)
		return sess != nil && sess.State() == session.StateOpen
	}, 10*time.Second, 10*time.Millisecond, "%s never opened a session to %s", n.name, peer)
	return sess
}

func TestEngine_ConnectOfferAnswerChat(t *testing.T) {
	hub := signaling.NewMemHub()
	alice := newTestNode(t, hub, "alice")
	bob := newTestNode(t, hub, "bob")
	alice.run(t)
	bob.run(t)

	ctx := context.Background()
	require.NoError(t, alice.bus.Subscribe(ctx, "mrtchat/r"))
	require.NoError(t, bob.bus.Subscribe(ctx, "mrtchat/r"))

	sessA := waitForOpenSession(t, alice, "bob")
	waitForOpenSession(t, bob, "alice")

	require.NoError(t, sessA.Send(ctx, session.ChannelChat, "hi"))
	select {
	case msg := <-bob.messages:
		assert.Equal(t, "hi", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("bob never received the chat frame")
	}
}

func TestEngine_SimultaneousOffersConverge(t *testing.T) {
	hub := signaling.NewMemHub()
	alice := newTestNode(t, hub, "alice")
	bob := newTestNode(t, hub, "bob")

	// Subscribe and cross the connect announcements before either
	// engine runs, so both sides offer at the same time.
	ctx := context.Background()
	require.NoError(t, alice.bus.Subscribe(ctx, "mrtchat/r"))
	require.NoError(t, bob.bus.Subscribe(ctx, "mrtchat/r"))
	require.NoError(t, alice.bus.Publish(ctx, signaling.SubtopicConnect, nil))

	alice.run(t)
	bob.run(t)

	waitForOpenSession(t, alice, "bob")
	waitForOpenSession(t, bob, "alice")

	assert.Len(t, alice.engine.Sessions(), 1)
	assert.Len(t, bob.engine.Sessions(), 1)
}

func TestEngine_NameChangeRenamesSessionTable(t *testing.T) {
	hub := signaling.NewMemHub()
	alice := newTestNode(t, hub, "alice")
	bob := newTestNode(t, hub, "bob")
	alice.run(t)
	bob.run(t)

	ctx := context.Background()
	require.NoError(t, alice.bus.Subscribe(ctx, "mrtchat/r"))
	require.NoError(t, bob.bus.Subscribe(ctx, "mrtchat/r"))
	waitForOpenSession(t, alice, "bob")

	bob.bus.SetSelfName("robert")
	require.NoError(t, bob.bus.Publish(ctx, signaling.SubtopicNameChange,
		rendezvous.NameChangeData{OldName: "bob", NewName: "robert"}))

	require.Eventually(t, func() bool {
		return alice.engine.Session("robert") != nil && alice.engine.Session("bob") == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEngine_UnloadDestroysSession(t *testing.T) {
	hub := signaling.NewMemHub()
	alice := newTestNode(t, hub, "alice")
	bob := newTestNode(t, hub, "bob")
	alice.run(t)
	bob.run(t)

	ctx := context.Background()
	require.NoError(t, alice.bus.Subscribe(ctx, "mrtchat/r"))
	require.NoError(t, bob.bus.Subscribe(ctx, "mrtchat/r"))
	waitForOpenSession(t, alice, "bob")

	require.NoError(t, bob.bus.Publish(ctx, signaling.SubtopicUnload, nil))

	require.Eventually(t, func() bool {
		return alice.engine.Session("bob") == nil
	}, 5*time.Second, 10*time.Millisecond)
}
