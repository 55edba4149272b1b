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

// Package rendezvous implements the Rendezvous Engine: it
// interprets signaling bus envelopes into session lifecycle events,
// surviving duplicate connects, candidate-before-offer races, and
// simultaneous offers.
package rendezvous

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/sage-x-project/mrtchat/identity"
	"github.com/sage-x-project/mrtchat/internal/logger"
	"github.com/sage-x-project/mrtchat/session"
	"github.com/sage-x-project/mrtchat/signaling"
	"github.com/sage-x-project/mrtchat/transport"
	"github.com/sage-x-project/mrtchat/trust"
)

// connectedViaRTC is the default-channel frame the offerer sends once
// its load barrier drops.
const connectedViaRTC = "connectedViaRTC"

// ConnectData rides a connect envelope: the sender announces its
// public key string alongside its name.
type ConnectData struct {
	PublicKeyString string `json:"publicKeyString,omitempty"`
}

// OfferData rides an RTCOffer envelope.
type OfferData struct {
	Target string `json:"target"`
	SDP    string `json:"sdp"`
}

// AnswerData rides an RTCAnswer envelope.
type AnswerData struct {
	Target string `json:"target"`
	SDP    string `json:"sdp"`
}

// CandidateData rides an RTCIceCandidate envelope.
type CandidateData struct {
	Target    string `json:"target,omitempty"`
	Candidate string `json:"candidate"`
}

// NameChangeData rides a nameChange envelope.
type NameChangeData struct {
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

// Admission is the trust engine's connection admission surface.
type Admission interface {
	ShouldConnectTo(ctx context.Context, peerName, providedKey string) (bool, trust.PeerInfo)
}

// Events are the engine's upcalls into the owning client.
type Events struct {
	// OnSessionOpen fires once a session's load barrier drops.
	OnSessionOpen func(sess *session.Session)
	// OnSessionClosed fires when a session leaves the table.
	OnSessionClosed func(peer, reason string)
	// OnMessage delivers inbound application frames.
	OnMessage func(channel string, data []byte, raw bool, sender string)
	// OnCallConnected and OnCallEnded surface media sub-session
	// lifecycle.
	OnCallConnected func(peer, trackID string)
	OnCallEnded     func(peer string)
}

// Options configures an Engine.
type Options struct {
	// LocalName returns the current composite local name; it is a
	// function because changeName swaps it while the engine runs.
	LocalName func() string
	Bus       signaling.Bus
	Factory   transport.Factory
	ICEConfig transport.ICEConfig
	Channels  []session.ChannelSpec
	Handlers  *session.HandlerRegistry
	Gate      session.Gate
	Admission Admission
	Identity  *identity.Store
	Events    Events
	Log       logger.Logger
}

// Engine owns the session table and turns broker envelopes into
// session lifecycle transitions.
type Engine struct {
	opts Options
	log  logger.Logger

	mu          sync.Mutex
	sessions    map[string]*session.Session
	pendingCand map[string]string // one queued candidate per peer
	knownPeers  map[string]string // bare name -> last announced key

	connects singleflight.Group
}

// New creates an Engine. Run must be called to start consuming
// envelopes.
func New(opts Options) *Engine {
	if opts.Log == nil {
		opts.Log = logger.NewDefaultLogger()
	}
	return &Engine{
		opts:        opts,
		log:         opts.Log,
		sessions:    make(map[string]*session.Session),
		pendingCand: make(map[string]string),
		knownPeers:  make(map[string]string),
	}
}

// Run consumes bus envelopes until ctx is done or the bus closes. Each
// envelope runs to completion before the next is evaluated, matching
// the one-event-loop model.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-e.opts.Bus.Envelopes():
			if !ok {
				return
			}
			e.handle(ctx, env)
		}
	}
}

func (e *Engine) handle(ctx context.Context, env *signaling.Envelope) {
	switch env.Subtopic {
	case signaling.SubtopicConnect:
		e.handleConnect(ctx, env)
	case signaling.SubtopicRTCOffer:
		e.handleOffer(ctx, env)
	case signaling.SubtopicRTCAnswer:
		e.handleAnswer(ctx, env)
	case signaling.SubtopicRTCIceCand:
		e.handleCandidate(ctx, env)
	case signaling.SubtopicNameChange:
		e.handleNameChange(ctx, env)
	case signaling.SubtopicUnload:
		e.handleUnload(env)
	default:
		// Recognized set is filtered by the bus; anything else went to
		// the generic channel already.
	}
}

// Session returns the session for peer, if any.
func (e *Engine) Session(peer string) *session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[identity.ExtractName(peer)]
}

// Sessions returns a snapshot of every live session.
func (e *Engine) Sessions() []*session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*session.Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

// HasOpenSessions reports whether any session is Open, gating the
// presence beacon.
func (e *Engine) HasOpenSessions() bool {
	for _, s := range e.Sessions() {
		if s.State() == session.StateOpen {
			return true
		}
	}
	return false
}

// KnownPeerKey returns the last key the peer announced on connect.
func (e *Engine) KnownPeerKey(peer string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.knownPeers[identity.ExtractName(peer)]
}

// Disconnect closes the session to peer, if any.
func (e *Engine) Disconnect(peer string) {
	if s := e.Session(peer); s != nil {
		s.Close("local disconnect")
	}
}

// Shutdown closes every session.
func (e *Engine) Shutdown(reason string) {
	for _, s := range e.Sessions() {
		s.Close(reason)
	}
}

// handleConnect applies the connect table: no session means ask the
// admission policy and offer; a dead session is torn down first; a
// live or in-progress one only refreshes the known info.
func (e *Engine) handleConnect(ctx context.Context, env *signaling.Envelope) {
	peer := identity.ExtractName(env.Sender)
	key := decodeConnectKey(env.Data)

	e.mu.Lock()
	if key != "" {
		e.knownPeers[peer] = key
	} else if _, ok := e.knownPeers[peer]; !ok {
		e.knownPeers[peer] = ""
	}
	existing := e.sessions[peer]
	e.mu.Unlock()

	if existing != nil {
		if existing.State() != session.StateClosed {
			return // open or in progress: info updated, nothing else
		}
		e.removeSession(peer, existing)
	}

	// Duplicate connects for the same peer share one offer attempt.
	_, _, _ = e.connects.Do(peer, func() (interface{}, error) {
		ok, _ := e.opts.Admission.ShouldConnectTo(ctx, env.Sender, key)
		if !ok {
			e.log.Info("rendezvous: admission refused peer", logger.String("peer", peer))
			return nil, nil
		}
		e.createOffererSession(ctx, peer)
		return nil, nil
	})
}

func (e *Engine) createOffererSession(ctx context.Context, peer string) {
	pc, err := e.opts.Factory(ctx, e.opts.ICEConfig)
	if err != nil {
		e.log.Error("rendezvous: transport create failed", logger.Error(err))
		return
	}

	sess := e.newSession(pc, peer, session.RoleOfferer)
	e.installSession(peer, sess)

	sdp, err := sess.SetupOfferer(ctx)
	if err != nil {
		e.log.Error("rendezvous: offer setup failed", logger.String("peer", peer), logger.Error(err))
		sess.Close("offer setup failed")
		return
	}
	if err := e.opts.Bus.Publish(ctx, signaling.SubtopicRTCOffer, OfferData{Target: peer, SDP: sdp}); err != nil {
		e.log.Error("rendezvous: publish offer failed", logger.Error(err))
		sess.Close("publish offer failed")
		return
	}

	e.applyPendingCandidate(ctx, peer, sess)
}

// handleOffer creates (or replaces with) an answerer session. When an
// offer crosses our own in-flight offer to the same peer, the
// lexicographically smaller name's offer wins: both sides evaluate the
// same rule with opposite outcomes, so exactly one offer survives and
// each side ends up with one open session.
func (e *Engine) handleOffer(ctx context.Context, env *signaling.Envelope) {
	var data OfferData
	if !decodeData(env.Data, &data) {
		e.log.Warn("rendezvous: dropping malformed offer", logger.String("sender", env.Sender))
		return
	}
	local := e.opts.LocalName()
	if data.Target != local {
		return
	}
	peer := identity.ExtractName(env.Sender)

	e.mu.Lock()
	existing := e.sessions[peer]
	e.mu.Unlock()

	if existing != nil {
		if existing.Role() == session.RoleOfferer && existing.State() != session.StateClosed &&
			existing.State() != session.StateOpen && local < env.Sender {
			// Offer glare: ours wins, the peer will answer it.
			return
		}
		e.mu.Lock()
		delete(e.sessions, peer)
		e.mu.Unlock()
		existing.Close("replaced by inbound offer")
	}

	pc, err := e.opts.Factory(ctx, e.opts.ICEConfig)
	if err != nil {
		e.log.Error("rendezvous: transport create failed", logger.Error(err))
		return
	}

	sess := e.newSession(pc, peer, session.RoleAnswerer)
	e.installSession(peer, sess)

	answer, err := sess.SetupAnswerer(ctx, data.SDP)
	if err != nil {
		e.log.Error("rendezvous: answer setup failed", logger.String("peer", peer), logger.Error(err))
		sess.Close("answer setup failed")
		return
	}
	if err := e.opts.Bus.Publish(ctx, signaling.SubtopicRTCAnswer, AnswerData{Target: peer, SDP: answer}); err != nil {
		e.log.Error("rendezvous: publish answer failed", logger.Error(err))
		sess.Close("publish answer failed")
		return
	}

	e.applyPendingCandidate(ctx, peer, sess)
}

// handleAnswer applies the remote description on the offerer side and
// announces connectedViaRTC once the load barrier drops.
func (e *Engine) handleAnswer(ctx context.Context, env *signaling.Envelope) {
	var data AnswerData
	if !decodeData(env.Data, &data) {
		e.log.Warn("rendezvous: dropping malformed answer", logger.String("sender", env.Sender))
		return
	}
	if data.Target != e.opts.LocalName() {
		return
	}
	peer := identity.ExtractName(env.Sender)

	sess := e.Session(peer)
	if sess == nil || sess.Role() != session.RoleOfferer {
		return
	}
	if err := sess.HandleRemoteAnswer(ctx, data.SDP); err != nil {
		e.log.Error("rendezvous: apply answer failed", logger.String("peer", peer), logger.Error(err))
		return
	}

	go func() {
		if err := sess.WaitReady(ctx); err != nil {
			return
		}
		sendCtx, cancel := context.WithTimeout(context.Background(), session.ChannelOpenDeadline)
		defer cancel()
		_ = sess.SendSystem(sendCtx, session.ChannelDefault, connectedViaRTC)
	}()
}

// handleCandidate forwards a candidate to the session, or queues one
// per peer until a session exists.
func (e *Engine) handleCandidate(ctx context.Context, env *signaling.Envelope) {
	var data CandidateData
	if !decodeData(env.Data, &data) {
		return
	}
	if data.Target != "" && data.Target != e.opts.LocalName() {
		return
	}
	peer := identity.ExtractName(env.Sender)

	sess := e.Session(peer)
	if sess == nil {
		e.mu.Lock()
		e.pendingCand[peer] = data.Candidate
		e.mu.Unlock()
		return
	}
	if err := sess.AddICECandidate(ctx, data.Candidate); err != nil {
		e.log.Warn("rendezvous: add candidate failed", logger.String("peer", peer), logger.Error(err))
	}
}

// handleNameChange renames the identity index entry and the session
// table entry atomically.
func (e *Engine) handleNameChange(ctx context.Context, env *signaling.Envelope) {
	var data NameChangeData
	if !decodeData(env.Data, &data) {
		return
	}
	oldName := identity.ExtractName(data.OldName)
	newName := identity.ExtractName(data.NewName)
	if oldName == "" || newName == "" || oldName == newName {
		return
	}

	e.mu.Lock()
	if sess, ok := e.sessions[oldName]; ok {
		delete(e.sessions, oldName)
		e.sessions[newName] = sess
		sess.Rename(newName)
	}
	if key, ok := e.knownPeers[oldName]; ok {
		delete(e.knownPeers, oldName)
		e.knownPeers[newName] = key
	}
	e.mu.Unlock()

	if err := e.opts.Identity.Rename(ctx, oldName, newName); err != nil {
		e.log.Warn("rendezvous: identity rename failed", logger.Error(err))
	}
}

// handleUnload destroys the session and drops the peer from the known
// set.
func (e *Engine) handleUnload(env *signaling.Envelope) {
	peer := identity.ExtractName(env.Sender)

	e.mu.Lock()
	sess := e.sessions[peer]
	delete(e.knownPeers, peer)
	delete(e.pendingCand, peer)
	e.mu.Unlock()

	if sess != nil {
		sess.Close("peer unloaded")
	}
}

func (e *Engine) newSession(pc transport.PeerConnection, peer string, role session.Role) *session.Session {
	var sess *session.Session
	sess = session.New(pc, session.Options{
		LocalName:  e.opts.LocalName(),
		RemoteName: peer,
		Role:       role,
		Channels:   e.opts.Channels,
		Handlers:   e.opts.Handlers,
		Factory:    e.opts.Factory,
		ICEConfig:  e.opts.ICEConfig,
		Gate:       e.opts.Gate,
		Log:        e.log,
		OnClosed: func(remote, reason string) {
			e.removeSession(remote, sess)
			if e.opts.Events.OnSessionClosed != nil {
				e.opts.Events.OnSessionClosed(remote, reason)
			}
		},
		OnMessage:       e.opts.Events.OnMessage,
		OnCallConnected: e.opts.Events.OnCallConnected,
		OnCallEnded:     e.opts.Events.OnCallEnded,
	})

	sess.OnICECandidate(func(candidate string) {
		ctx, cancel := context.WithTimeout(context.Background(), session.ChannelOpenDeadline)
		defer cancel()
		_ = e.opts.Bus.Publish(ctx, signaling.SubtopicRTCIceCand,
			CandidateData{Target: peer, Candidate: candidate})
	})

	go func() {
		select {
		case <-sess.Ready():
			if e.opts.Events.OnSessionOpen != nil {
				e.opts.Events.OnSessionOpen(sess)
			}
		case <-sess.Closed():
		}
	}()

	return sess
}

func (e *Engine) installSession(peer string, sess *session.Session) {
	e.mu.Lock()
	e.sessions[peer] = sess
	e.mu.Unlock()
}

// removeSession drops the table entry only if it still points at this
// session, so a replacement installed meanwhile survives.
func (e *Engine) removeSession(peer string, sess *session.Session) {
	peer = identity.ExtractName(peer)
	e.mu.Lock()
	if e.sessions[peer] == sess {
		delete(e.sessions, peer)
	}
	e.mu.Unlock()
}

func (e *Engine) applyPendingCandidate(ctx context.Context, peer string, sess *session.Session) {
	e.mu.Lock()
	cand, ok := e.pendingCand[peer]
	delete(e.pendingCand, peer)
	e.mu.Unlock()
	if !ok {
		return
	}
	if err := sess.AddICECandidate(ctx, cand); err != nil {
		e.log.Warn("rendezvous: apply queued candidate failed", logger.String("peer", peer), logger.Error(err))
	}
}

// decodeData re-marshals the envelope's decoded JSON payload into the
// typed struct for the subtopic.
func decodeData(data interface{}, out interface{}) bool {
	raw, err := json.Marshal(data)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func decodeConnectKey(data interface{}) string {
	var c ConnectData
	if !decodeData(data, &c) {
		return ""
	}
	return c.PublicKeyString
}
