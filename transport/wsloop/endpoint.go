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

package wsloop

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/sage-x-project/mrtchat/transport"
)

// sdpPrefix marks an offer SDP carrying a loopback websocket URL
// instead of a real session description.
const sdpPrefix = "wsloop:"

// NewEndpoint creates a detached PeerConnection: CreateOffer starts a
// loopback listener and returns its URL as the SDP; CreateAnswer on
// the remote side dials that URL. This lets two endpoints connect
// through any signaling path that carries the offer string.
func NewEndpoint() *PeerConnection {
	return newPeerConnection(nil, nil)
}

// Factory returns a transport.Factory producing detached endpoints,
// ignoring the ICE configuration (there is no ICE on loopback).
func Factory() transport.Factory {
	return func(ctx context.Context, _ transport.ICEConfig) (transport.PeerConnection, error) {
		return NewEndpoint(), nil
	}
}

// listen starts the loopback listener and returns the offer SDP. The
// first websocket upgrade attaches the connection.
func (p *PeerConnection) listen(_ context.Context) (string, error) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.attach(conn)
	}))

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		srv.Close()
		return "", fmt.Errorf("wsloop: connection closed")
	}
	p.server = srv
	p.mu.Unlock()

	return sdpPrefix + "ws" + strings.TrimPrefix(srv.URL, "http"), nil
}

// dial connects to a listening endpoint identified by its offer URL.
func (p *PeerConnection) dial(ctx context.Context, url string) error {
	dialer := &websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("wsloop dial: %w", err)
	}
	p.attach(conn)
	return nil
}

// attach installs the established connection, announces every channel
// created while detached, flushes queued candidates, and starts the
// read loop.
func (p *PeerConnection) attach(conn *websocket.Conn) {
	p.mu.Lock()
	if p.conn != nil || p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return
	}
	p.conn = conn
	pendingChannels := make([]*DataChannel, 0, len(p.channels))
	for _, ch := range p.channels {
		if ch.State() == transport.ChannelConnecting {
			pendingChannels = append(pendingChannels, ch)
		}
	}
	cands := p.pendingCands
	p.pendingCands = nil
	tracks := p.pendingTracks
	p.pendingTracks = nil
	p.mu.Unlock()

	go p.readLoop()

	for _, ch := range pendingChannels {
		if err := p.writeFrame(frame{Kind: kindChannelOpen, Label: ch.Label()}); err == nil {
			ch.setState(transport.ChannelOpen)
		}
	}
	for _, c := range cands {
		_ = p.writeFrame(frame{Kind: kindCandidate, Candidate: c})
	}
	for _, tr := range tracks {
		_ = p.writeFrame(frame{Kind: kindTrack, TrackID: tr})
	}

	close(p.attached)
	if p.onConnState != nil {
		p.onConnState(transport.StateConnected)
	}
}
