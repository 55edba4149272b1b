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

// Package wsloop implements transport.PeerConnection over a pair of
// in-process gorilla/websocket connections joined by a real TCP
// loopback listener, simulating offer/answer/candidate exchange and
// named data channels without a libwebrtc binding.
package wsloop

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sage-x-project/mrtchat/transport"
)

type frameKind string

const (
	kindCandidate    frameKind = "candidate"
	kindChannelOpen  frameKind = "channel_open"
	kindChannelData  frameKind = "channel_data"
	kindChannelClose frameKind = "channel_close"
	kindTrack        frameKind = "track"
	kindClose        frameKind = "close"
)

type frame struct {
	Kind      frameKind `json:"kind"`
	Label     string    `json:"label,omitempty"`
	Candidate string    `json:"candidate,omitempty"`
	Data      []byte    `json:"data,omitempty"`
	TrackID   string    `json:"trackId,omitempty"`
}

// PeerConnection is one loopback side of a simulated peer transport.
// Created either directly joined (NewPair) or detached (NewEndpoint),
// in which case the offer/answer SDP carries the loopback URL and
// frames queue until the answerer dials in.
type PeerConnection struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	server   *httptest.Server
	channels map[string]*DataChannel
	closed   bool

	attached      chan struct{}
	pendingCands  []string
	pendingTracks []string

	onICECandidate func(string)
	onDataChannel  func(transport.DataChannel)
	onConnState    func(transport.ConnectionState)
	onTrack        func(string)
}

// NewPair creates two PeerConnections joined by a real TCP loopback
// websocket connection: one side runs an httptest server, the other
// dials it.
func NewPair(ctx context.Context) (a, b *PeerConnection, err error) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	serverSide := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverSide <- conn
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	dialer := &websocket.Dialer{}
	clientConn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		srv.Close()
		return nil, nil, fmt.Errorf("wsloop dial: %w", err)
	}

	bConn := <-serverSide

	pcA := newPeerConnection(clientConn, srv)
	pcB := newPeerConnection(bConn, nil)

	go pcA.readLoop()
	go pcB.readLoop()

	return pcA, pcB, nil
}

func newPeerConnection(conn *websocket.Conn, server *httptest.Server) *PeerConnection {
	p := &PeerConnection{
		conn:     conn,
		server:   server,
		channels: make(map[string]*DataChannel),
		attached: make(chan struct{}),
	}
	if conn != nil {
		close(p.attached)
	}
	return p
}

func (p *PeerConnection) CreateOffer(ctx context.Context) (string, error) {
	p.mu.Lock()
	joined := p.conn != nil
	p.mu.Unlock()
	if joined {
		return "offer:" + uuid.NewString(), nil
	}
	return p.listen(ctx)
}

func (p *PeerConnection) CreateAnswer(ctx context.Context, remoteSDP string) (string, error) {
	if strings.HasPrefix(remoteSDP, sdpPrefix) {
		if err := p.dial(ctx, strings.TrimPrefix(remoteSDP, sdpPrefix)); err != nil {
			return "", err
		}
	}
	return "answer:" + uuid.NewString(), nil
}

func (p *PeerConnection) SetRemoteDescription(ctx context.Context, _ string) error {
	select {
	case <-p.attached:
	case <-ctx.Done():
		return ctx.Err()
	}
	if p.onConnState != nil {
		p.onConnState(transport.StateConnected)
	}
	return nil
}

func (p *PeerConnection) AddICECandidate(_ context.Context, candidate string) error {
	p.mu.Lock()
	if p.conn == nil && !p.closed {
		p.pendingCands = append(p.pendingCands, candidate)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.writeFrame(frame{Kind: kindCandidate, Candidate: candidate})
}

func (p *PeerConnection) OnICECandidate(fn func(string)) { p.onICECandidate = fn }

func (p *PeerConnection) CreateDataChannel(label string) (transport.DataChannel, error) {
	p.mu.Lock()
	ch := newDataChannel(label, p)
	p.channels[label] = ch
	joined := p.conn != nil
	p.mu.Unlock()

	if !joined {
		// Announced once the answerer dials in; stays connecting until
		// then.
		return ch, nil
	}

	if err := p.writeFrame(frame{Kind: kindChannelOpen, Label: label}); err != nil {
		return nil, err
	}
	ch.setState(transport.ChannelOpen)
	return ch, nil
}

func (p *PeerConnection) OnDataChannel(fn func(transport.DataChannel)) { p.onDataChannel = fn }

func (p *PeerConnection) OnConnectionStateChange(fn func(transport.ConnectionState)) {
	p.onConnState = fn
}

func (p *PeerConnection) OnTrack(fn func(string)) { p.onTrack = fn }

func (p *PeerConnection) AddTrack(trackID string) error {
	p.mu.Lock()
	if p.conn == nil && !p.closed {
		p.pendingTracks = append(p.pendingTracks, trackID)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.writeFrame(frame{Kind: kindTrack, TrackID: trackID})
}

func (p *PeerConnection) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, ch := range p.channels {
		ch.setState(transport.ChannelClosed)
	}
	p.mu.Unlock()

	_ = p.writeFrame(frame{Kind: kindClose})
	if p.onConnState != nil {
		p.onConnState(transport.StateClosed)
	}
	var err error
	if p.conn != nil {
		err = p.conn.Close()
	}
	if p.server != nil {
		p.server.Close()
	}
	return err
}

func (p *PeerConnection) writeFrame(f frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("wsloop: connection closed")
	}
	if p.conn == nil {
		return fmt.Errorf("wsloop: not connected")
	}
	return p.conn.WriteJSON(f)
}

func (p *PeerConnection) readLoop() {
	for {
		var f frame
		if err := p.conn.ReadJSON(&f); err != nil {
			p.mu.Lock()
			already := p.closed
			p.closed = true
			p.mu.Unlock()
			if !already && p.onConnState != nil {
				p.onConnState(transport.StateDisconnected)
			}
			return
		}

		switch f.Kind {
		case kindCandidate:
			if p.onICECandidate != nil {
				p.onICECandidate(f.Candidate)
			}
		case kindChannelOpen:
			p.mu.Lock()
			ch, exists := p.channels[f.Label]
			if !exists {
				ch = newDataChannel(f.Label, p)
				p.channels[f.Label] = ch
			}
			p.mu.Unlock()
			ch.setState(transport.ChannelOpen)
			if !exists && p.onDataChannel != nil {
				p.onDataChannel(ch)
			}
		case kindChannelData:
			p.mu.Lock()
			ch := p.channels[f.Label]
			p.mu.Unlock()
			if ch != nil {
				ch.deliver(f.Data)
			}
		case kindChannelClose:
			p.mu.Lock()
			ch := p.channels[f.Label]
			p.mu.Unlock()
			if ch != nil {
				ch.setState(transport.ChannelClosed)
			}
		case kindTrack:
			if p.onTrack != nil {
				p.onTrack(f.TrackID)
			}
		case kindClose:
			p.mu.Lock()
			p.closed = true
			p.mu.Unlock()
			if p.onConnState != nil {
				p.onConnState(transport.StateClosed)
			}
			return
		}
	}
}
