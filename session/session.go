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

package session

import (
	"context"
	"sync"
	"time"

	"github.com/sage-x-project/mrtchat/errs"
	"github.com/sage-x-project/mrtchat/internal/logger"
	"github.com/sage-x-project/mrtchat/internal/metrics"
	"github.com/sage-x-project/mrtchat/transport"
)

// State is the Session lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateOffering    State = "offering"
	StateAnswering   State = "answering"
	StateNegotiating State = "negotiating"
	StateOpen        State = "open"
	StateClosed      State = "closed"
)

// Role distinguishes which side created the offer.
type Role string

const (
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

// Application channel labels used by the client façade and the
// request/response overlay.
const (
	ChannelDefault  = "default"
	ChannelChat     = "chat"
	ChannelDM       = "dm"
	ChannelQuestion = "question"
	ChannelAnswer   = "answer"
	ChannelPing     = "ping"
	ChannelPong     = "pong"
)

// ChannelSpec declares one named channel to open on session setup.
type ChannelSpec struct {
	Label string
	Raw   bool
}

// DefaultChannelSpecs returns the channel set every session carries:
// the application channels plus the fixed media-control labels.
func DefaultChannelSpecs() []ChannelSpec {
	return []ChannelSpec{
		{Label: ChannelDefault},
		{Label: ChannelChat},
		{Label: ChannelDM},
		{Label: ChannelQuestion},
		{Label: ChannelAnswer},
		{Label: ChannelPing},
		{Label: ChannelPong},
		{Label: ChannelStreamOffer},
		{Label: ChannelStreamAnswer},
		{Label: ChannelStreamICE},
		{Label: ChannelEndCall},
	}
}

// Gate decides whether an outbound frame may leave on the given channel
// with the given overlay topic (empty for non-overlay frames). The
// trust engine installs the real gate; a nil gate allows everything.
type Gate func(remote, channel, topic string) error

// Options configures a Session.
type Options struct {
	LocalName  string
	RemoteName string
	Role       Role
	Channels   []ChannelSpec
	Handlers   *HandlerRegistry
	Factory    transport.Factory
	ICEConfig  transport.ICEConfig
	Gate       Gate
	Log        logger.Logger

	// OnClosed fires exactly once when the session reaches Closed,
	// whether by transport failure or explicit teardown.
	OnClosed func(remote, reason string)
	// OnMessage delivers inbound application frames (chat, dm,
	// default, question, ping, pong) to the owning client.
	OnMessage func(channel string, data []byte, raw bool, sender string)
	// OnCallConnected fires when the media sub-session receives the
	// remote track.
	OnCallConnected func(remote, trackID string)
	// OnCallEnded fires when the media sub-session tears down.
	OnCallEnded func(remote string)
}

// Session holds one peer transport to a remote peer, its named data
// channels, the request/response overlay, and an optional media
// sub-session. A Session is unique per remote name.
type Session struct {
	opts Options
	pc   transport.PeerConnection
	log  logger.Logger

	mu       sync.Mutex
	state    State
	channels map[string]*Channel
	pending  map[string]bool // labels still expected to open
	media    *mediaSession

	overlay *Overlay

	readyOnce sync.Once
	readyCh   chan struct{}
	closeOnce sync.Once
	closedCh  chan struct{}

	negotiationStart time.Time
}

// New wraps pc into a Session. SetupOfferer or SetupAnswerer must be
// called next to drive the offer/answer exchange.
func New(pc transport.PeerConnection, opts Options) *Session {
	if opts.Log == nil {
		opts.Log = logger.NewDefaultLogger()
	}
	if len(opts.Channels) == 0 {
		opts.Channels = DefaultChannelSpecs()
	}
	if opts.Handlers == nil {
		opts.Handlers = NewHandlerRegistry()
	}

	s := &Session{
		opts:     opts,
		pc:       pc,
		log:      opts.Log,
		state:    StateIdle,
		channels: make(map[string]*Channel),
		pending:  make(map[string]bool),
		readyCh:  make(chan struct{}),
		closedCh: make(chan struct{}),
	}
	for _, spec := range opts.Channels {
		s.pending[spec.Label] = true
	}
	s.overlay = newOverlay(s, opts.Handlers)

	pc.OnDataChannel(func(dc transport.DataChannel) { s.attach(dc, s.rawFor(dc.Label())) })
	pc.OnConnectionStateChange(func(state transport.ConnectionState) {
		switch state {
		case transport.StateDisconnected, transport.StateFailed, transport.StateClosed:
			s.Close("transport " + string(state))
		}
	})

	metrics.SessionsCreated.WithLabelValues(string(opts.Role)).Inc()
	metrics.SessionsActive.Inc()
	return s
}

// RemoteName returns the remote peer's name.
func (s *Session) RemoteName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.RemoteName
}

// Rename updates the remote peer's name after a nameChange.
func (s *Session) Rename(newName string) {
	s.mu.Lock()
	s.opts.RemoteName = newName
	s.mu.Unlock()
}

// Role returns which side of the offer this session is.
func (s *Session) Role() Role { return s.opts.Role }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Overlay returns the request/response overlay riding this session.
func (s *Session) Overlay() *Overlay { return s.overlay }

// SetupOfferer creates every declared data channel, then produces the
// offer SDP to publish through the signaling bus.
func (s *Session) SetupOfferer(ctx context.Context) (string, error) {
	s.setState(StateOffering)
	s.negotiationStart = time.Now()

	for _, spec := range s.opts.Channels {
		dc, err := s.pc.CreateDataChannel(spec.Label)
		if err != nil {
			return "", err
		}
		s.attach(dc, spec.Raw)
	}

	sdp, err := s.pc.CreateOffer(ctx)
	if err != nil {
		return "", err
	}
	s.setState(StateNegotiating)
	return sdp, nil
}

// SetupAnswerer consumes the remote offer and produces the answer SDP.
// Data channels are mirrored as the transport announces them.
func (s *Session) SetupAnswerer(ctx context.Context, remoteSDP string) (string, error) {
	s.setState(StateAnswering)
	s.negotiationStart = time.Now()

	sdp, err := s.pc.CreateAnswer(ctx, remoteSDP)
	if err != nil {
		return "", err
	}
	s.setState(StateNegotiating)
	return sdp, nil
}

// HandleRemoteAnswer applies the answer SDP on the offerer side.
func (s *Session) HandleRemoteAnswer(ctx context.Context, sdp string) error {
	return s.pc.SetRemoteDescription(ctx, sdp)
}

// AddICECandidate forwards a signaled candidate to the transport.
func (s *Session) AddICECandidate(ctx context.Context, candidate string) error {
	return s.pc.AddICECandidate(ctx, candidate)
}

// OnICECandidate registers the callback used to ship local candidates
// back through the signaling bus.
func (s *Session) OnICECandidate(fn func(candidate string)) {
	s.pc.OnICECandidate(fn)
}

// Ready returns the load barrier: closed once every declared channel
// has reached open.
func (s *Session) Ready() <-chan struct{} { return s.readyCh }

// WaitReady blocks until the load barrier is down or ctx is done.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-s.closedCh:
		return errs.New(errs.ChannelClosed, "session closed before channels opened")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send delivers data on the named channel, subject to the gate and the
// channel's open/park/fail semantics.
func (s *Session) Send(ctx context.Context, channel string, data interface{}) error {
	if err := s.gate(channel, ""); err != nil {
		return err
	}
	return s.send(ctx, channel, data)
}

// SendSystem delivers a protocol frame (connectedViaRTC, media
// control) without consulting the gate, which covers application
// traffic only.
func (s *Session) SendSystem(ctx context.Context, channel string, data interface{}) error {
	return s.send(ctx, channel, data)
}

// send bypasses the gate for overlay-internal traffic that carries its
// own topic-level gating.
func (s *Session) send(ctx context.Context, channel string, data interface{}) error {
	s.mu.Lock()
	ch := s.channels[channel]
	closed := s.state == StateClosed
	remote := s.opts.RemoteName
	s.mu.Unlock()

	if closed {
		return errs.New(errs.ChannelClosed, "session to "+remote+" is closed")
	}
	if ch == nil {
		return errs.New(errs.ChannelClosed, "no channel "+channel)
	}
	return ch.Send(ctx, data)
}

func (s *Session) gate(channel, topic string) error {
	if s.opts.Gate == nil {
		return nil
	}
	return s.opts.Gate(s.RemoteName(), channel, topic)
}

// Close tears the session down: parked sends fail, pending overlay
// correlations cancel, the media sub-session ends, and the transport
// closes. Safe to call more than once.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		channels := make([]*Channel, 0, len(s.channels))
		for _, ch := range s.channels {
			channels = append(channels, ch)
		}
		media := s.media
		s.media = nil
		s.mu.Unlock()

		close(s.closedCh)
		for _, ch := range channels {
			ch.Shutdown()
		}
		s.overlay.cancelAll()
		if media != nil {
			media.teardown()
		}
		_ = s.pc.Close()

		metrics.SessionsActive.Dec()
		metrics.SessionsClosed.WithLabelValues(reason).Inc()

		if s.opts.OnClosed != nil {
			s.opts.OnClosed(s.opts.RemoteName, reason)
		}
	})
}

// Closed returns a channel closed once the session reaches Closed.
func (s *Session) Closed() <-chan struct{} { return s.closedCh }

func (s *Session) setState(state State) {
	s.mu.Lock()
	if s.state != StateClosed {
		s.state = state
	}
	s.mu.Unlock()
}

func (s *Session) rawFor(label string) bool {
	for _, spec := range s.opts.Channels {
		if spec.Label == label {
			return spec.Raw
		}
	}
	return false
}

// attach wraps dc and wires its inbound frames into the overlay, the
// media sub-session, or the application callback by label.
func (s *Session) attach(dc transport.DataChannel, raw bool) {
	label := dc.Label()

	s.mu.Lock()
	if _, exists := s.channels[label]; exists {
		s.mu.Unlock()
		return
	}
	ch := NewChannel(label, raw, dc)
	s.channels[label] = ch
	s.mu.Unlock()

	ch.OnMessage(func(data []byte, raw bool) { s.dispatch(label, data, raw) })

	go func() {
		select {
		case <-ch.OpenedCh():
			s.markOpen(label)
		case <-s.closedCh:
		}
	}()
}

// markOpen records a channel reaching open; when every declared label
// has opened, the load barrier drops and the session is Open.
func (s *Session) markOpen(label string) {
	s.mu.Lock()
	delete(s.pending, label)
	done := len(s.pending) == 0 && s.state != StateClosed
	s.mu.Unlock()

	if !done {
		return
	}
	s.readyOnce.Do(func() {
		s.setState(StateOpen)
		if !s.negotiationStart.IsZero() {
			metrics.SessionNegotiationDuration.Observe(time.Since(s.negotiationStart).Seconds())
		}
		close(s.readyCh)
	})
}

func (s *Session) dispatch(label string, data []byte, raw bool) {
	switch label {
	case ChannelQuestion:
		s.overlay.handleQuestion(data)
	case ChannelAnswer:
		s.overlay.handleAnswer(data)
	case ChannelPing:
		s.overlay.handlePing(data)
	case ChannelPong:
		s.overlay.handlePong(data)
	case ChannelStreamOffer:
		s.handleStreamOffer(data)
		return
	case ChannelStreamAnswer:
		s.handleStreamAnswer(data)
		return
	case ChannelStreamICE:
		s.handleStreamICE(data)
		return
	case ChannelEndCall:
		s.handleEndCall()
		return
	}

	if s.opts.OnMessage != nil {
		s.opts.OnMessage(label, data, raw, s.opts.RemoteName)
	}
}
