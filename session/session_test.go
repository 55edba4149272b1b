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

package session_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/mrtchat/errs"
	"github.com/sage-x-project/mrtchat/session"
	"github.com/sage-x-project/mrtchat/transport/wsloop"
)

// pairedSessions joins two sessions over a loopback transport pair and
// waits for both load barriers.
func pairedSessions(t *testing.T, optsA, optsB session.Options) (*session.Session, *session.Session) {
	t.Helper()
	ctx := context.Background()

	pcA, pcB, err := wsloop.NewPair(ctx)
	require.NoError(t, err)

	optsA.Role = session.RoleOfferer
	optsB.Role = session.RoleAnswerer

	sessB := session.New(pcB, optsB)
	sessA := session.New(pcA, optsA)

	_, err = sessA.SetupOfferer(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, sessA.WaitReady(waitCtx))
	require.NoError(t, sessB.WaitReady(waitCtx))

	t.Cleanup(func() {
		sessA.Close("test done")
		sessB.Close("test done")
	})
	return sessA, sessB
}

func TestSession_LoadBarrierAndChat(t *testing.T) {
	received := make(chan string, 1)

	sessA, _ := pairedSessions(t,
		session.Options{LocalName: "a", RemoteName: "b"},
		session.Options{LocalName: "b", RemoteName: "a",
			OnMessage: func(channel string, data []byte, raw bool, sender string) {
				if channel == session.ChannelChat {
					var msg string
					_ = json.Unmarshal(data, &msg)
					received <- msg
				}
			}})

	assert.Equal(t, session.StateOpen, sessA.State())
	require.NoError(t, sessA.Send(context.Background(), session.ChannelChat, "hi"))

	select {
	case msg := <-received:
		assert.Equal(t, "hi", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("chat frame never arrived")
	}
}

func TestSession_AskAnswer(t *testing.T) {
	handlers := session.NewHandlerRegistry()
	handlers.Register("sum", func(_ context.Context, content json.RawMessage, _ string) (interface{}, error) {
		var c struct{ A, B int }
		if err := json.Unmarshal(content, &c); err != nil {
			return nil, err
		}
		return c.A + c.B, nil
	})

	sessA, _ := pairedSessions(t,
		session.Options{LocalName: "a", RemoteName: "b"},
		session.Options{LocalName: "b", RemoteName: "a", Handlers: handlers})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := sessA.Overlay().Ask(ctx, "sum", map[string]int{"a": 2, "b": 3})
	require.NoError(t, err)

	var result int
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, 5, result)
	assert.Equal(t, 0, sessA.Overlay().PendingAnswers())
}

func TestSession_AskWithoutHandlerStaysPendingUntilClose(t *testing.T) {
	sessA, _ := pairedSessions(t,
		session.Options{LocalName: "a", RemoteName: "b"},
		session.Options{LocalName: "b", RemoteName: "a"})

	errCh := make(chan error, 1)
	go func() {
		_, err := sessA.Overlay().Ask(context.Background(), "nosuchtopic", nil)
		errCh <- err
	}()

	// The asker's future stays pending; session close cancels it.
	time.Sleep(100 * time.Millisecond)
	sessA.Close("test teardown")

	select {
	case err := <-errCh:
		assert.True(t, errs.Is(err, errs.ChannelClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("ask never cancelled")
	}
}

func TestSession_Ping(t *testing.T) {
	sessA, _ := pairedSessions(t,
		session.Options{LocalName: "a", RemoteName: "b"},
		session.Options{LocalName: "b", RemoteName: "a"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rtt, err := sessA.Overlay().Ping(ctx)
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

func TestSession_GateBlocksUnvalidatedSend(t *testing.T) {
	gateErr := errs.New(errs.PeerUnverified, "not validated")
	received := make(chan struct{}, 1)

	sessA, _ := pairedSessions(t,
		session.Options{LocalName: "a", RemoteName: "b",
			Gate: func(remote, channel, topic string) error {
				if channel == session.ChannelQuestion && topic == "identify" {
					return nil
				}
				return gateErr
			}},
		session.Options{LocalName: "b", RemoteName: "a",
			OnMessage: func(channel string, data []byte, raw bool, sender string) {
				received <- struct{}{}
			}})

	err := sessA.Send(context.Background(), session.ChannelChat, "blocked")
	assert.True(t, errs.Is(err, errs.PeerUnverified))

	select {
	case <-received:
		t.Fatal("gated frame reached the remote")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSession_ParkedSendFailsOnClose(t *testing.T) {
	// A detached endpoint keeps its channels connecting, so the send
	// parks behind the open event.
	pc := wsloop.NewEndpoint()
	sess := session.New(pc, session.Options{LocalName: "a", RemoteName: "b", Role: session.RoleOfferer})

	_, err := sess.SetupOfferer(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.Send(context.Background(), session.ChannelChat, "parked")
	}()

	time.Sleep(100 * time.Millisecond)
	sess.Close("test teardown")

	select {
	case err := <-errCh:
		assert.True(t, errs.Is(err, errs.ChannelClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("parked send never failed")
	}
}

func TestSession_EndpointOfferAnswerExchange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessA := session.New(wsloop.NewEndpoint(), session.Options{
		LocalName: "a", RemoteName: "b", Role: session.RoleOfferer})
	sessB := session.New(wsloop.NewEndpoint(), session.Options{
		LocalName: "b", RemoteName: "a", Role: session.RoleAnswerer})
	t.Cleanup(func() {
		sessA.Close("test done")
		sessB.Close("test done")
	})

	offer, err := sessA.SetupOfferer(ctx)
	require.NoError(t, err)

	answer, err := sessB.SetupAnswerer(ctx, offer)
	require.NoError(t, err)
	require.NoError(t, sessA.HandleRemoteAnswer(ctx, answer))

	require.NoError(t, sessA.WaitReady(ctx))
	require.NoError(t, sessB.WaitReady(ctx))
}

func TestSession_MediaCall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	callEnded := make(chan string, 1)

	sessA, _ := pairedSessions(t,
		session.Options{LocalName: "a", RemoteName: "b", Factory: wsloop.Factory()},
		session.Options{LocalName: "b", RemoteName: "a", Factory: wsloop.Factory(),
			OnCallEnded: func(remote string) { callEnded <- remote }})

	remoteTrack, err := sessA.StartCall(ctx, "track:a")
	require.NoError(t, err)
	assert.Equal(t, "track:b", remoteTrack)

	require.NoError(t, sessA.EndCall(ctx))

	select {
	case remote := <-callEnded:
		assert.Equal(t, "a", remote)
	case <-time.After(2 * time.Second):
		t.Fatal("remote never observed endcall")
	}
}
