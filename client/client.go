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

// Package client is the public façade: it composes the signaling
// bus, rendezvous engine, sessions, identity store, trust engine, and
// instance registry behind one Client with named events.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sage-x-project/mrtchat/config"
	"github.com/sage-x-project/mrtchat/errs"
	"github.com/sage-x-project/mrtchat/identity"
	"github.com/sage-x-project/mrtchat/instance"
	"github.com/sage-x-project/mrtchat/internal/logger"
	"github.com/sage-x-project/mrtchat/kv"
	"github.com/sage-x-project/mrtchat/rendezvous"
	"github.com/sage-x-project/mrtchat/session"
	"github.com/sage-x-project/mrtchat/signaling"
	"github.com/sage-x-project/mrtchat/transport"
	"github.com/sage-x-project/mrtchat/trust"
)

// Options configures a Client. KV and a transport Factory are
// required; Bus defaults to a websocket bus built from the broker
// configuration, Config to the stock defaults.
type Options struct {
	Config  *config.Config
	KV      kv.Store
	Bus     signaling.Bus
	Factory transport.Factory
	Log     logger.Logger

	// ConnectionRequest is the interactive admission surface; nil
	// refuses prompts unless autoAcceptConnections is set.
	ConnectionRequest func(ctx context.Context, peer string, info trust.PeerInfo) bool
}

// Client is the long-lived public contract used by UI collaborators.
type Client struct {
	cfg     *config.Config
	log     logger.Logger
	kv      kv.Store
	ids     *identity.Store
	trust   *trust.Engine
	reg     *instance.Registry
	bus     signaling.Bus
	rdv     *rendezvous.Engine
	emitter *emitter

	handlers *session.HandlerRegistry
	factory  transport.Factory
	pubJWK   string

	mu        sync.Mutex
	baseName  string
	slot      int
	connected bool
	cancel    context.CancelFunc
}

// New builds a Client from opts. Connect starts it.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if err := config.Validate(opts.Config); err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, "client configuration rejected", err)
	}
	if opts.KV == nil {
		return nil, errs.New(errs.ConfigInvalid, "a kv store is required")
	}
	if opts.Log == nil {
		opts.Log = logger.NewDefaultLogger()
	}
	if opts.Factory == nil {
		return nil, errs.New(errs.ConfigInvalid, "a transport factory is required")
	}

	ids, err := identity.New(ctx, opts.KV)
	if err != nil {
		return nil, fmt.Errorf("load identity store: %w", err)
	}

	policy, err := trust.PolicyForMode(opts.Config.TrustMode)
	if err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, "trust mode", err)
	}

	c := &Client{
		cfg:      opts.Config,
		log:      opts.Log,
		kv:       opts.KV,
		ids:      ids,
		bus:      opts.Bus,
		emitter:  newEmitter(),
		handlers: session.NewHandlerRegistry(),
		factory:  opts.Factory,
		slot:     -1,
	}

	c.trust = trust.NewEngine(ids, policy, trust.Callbacks{
		ConnectionRequest: func(ctx context.Context, peer string, info trust.PeerInfo) bool {
			c.emitter.emit(EventConnectionRequest, peer, info)
			if opts.ConnectionRequest == nil {
				return false
			}
			return opts.ConnectionRequest(ctx, peer, info)
		},
		OnValidation: func(peer string, trusted bool) {
			c.emitter.emit(EventValidation, peer, trusted)
		},
		OnValidationFailure: func(peer string, err error) {
			c.emitter.emit(EventValidationFailure, peer, err)
		},
	}, opts.Config.Connection.AutoAcceptConnections, opts.Log)

	if err := c.trust.RegisterHandlers(ctx, c.handlers); err != nil {
		return nil, fmt.Errorf("register trust handlers: %w", err)
	}

	kp, err := ids.OwnKeyPair(ctx)
	if err != nil {
		return nil, fmt.Errorf("own key pair: %w", err)
	}
	c.pubJWK, err = identity.MarshalJWK(kp.ExportPublicJWK())
	if err != nil {
		return nil, fmt.Errorf("export public key: %w", err)
	}

	if opts.Config.Tabs.Enabled {
		c.reg = instance.New(opts.KV, instance.Options{
			Timeout:      opts.Config.Tabs.Timeout,
			PollInterval: opts.Config.Tabs.PollInterval,
		}, opts.Log)
	}

	return c, nil
}

// On registers fn for the named event.
func (c *Client) On(event string, fn EventHandler) { c.emitter.on(event, fn) }

// RegisterHandler binds a question topic to a handler, shared by every
// session.
func (c *Client) RegisterHandler(topic string, h session.Handler) {
	c.handlers.Register(topic, h)
}

// Name returns the composite local identity currently reported
// upstream: the bare name stamped with the instance slot.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return compositeName(c.baseName, c.slot)
}

// Slot returns the acquired instance slot, or -1.
func (c *Client) Slot() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot
}

// Sessions exposes the live session table snapshot.
func (c *Client) Sessions() []*session.Session { return c.rdv.Sessions() }

// TrustEngine exposes the trust engine for inspection.
func (c *Client) TrustEngine() *trust.Engine { return c.trust }

// Connect acquires an instance slot, joins the room topic, announces
// presence, and starts interpreting signaling envelopes.
func (c *Client) Connect(ctx context.Context) error {
	name, err := c.resolveName(ctx)
	if err != nil {
		return err
	}

	slot := 0
	if c.reg != nil {
		slot, err = c.reg.Acquire(ctx)
		if err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.baseName = name
	c.slot = slot
	composite := compositeName(name, slot)
	c.mu.Unlock()

	if c.bus == nil {
		c.bus = signaling.NewWSBus(c.cfg.MQTT.Broker, signaling.Options{
			SelfName:             composite,
			CompressionEnabled:   c.cfg.Compression.Enabled,
			CompressionLibrary:   c.cfg.Compression.Library,
			CompressionThreshold: c.cfg.Compression.Threshold,
			HistoryMaxLength:     c.cfg.History.MaxLength,
			ConnectTimeout:       c.cfg.MQTT.ConnectTimeout,
			ReconnectPeriod:      c.cfg.MQTT.ReconnectPeriod,
			HasOpenSessions:      func() bool { return c.rdv != nil && c.rdv.HasOpenSessions() },
		}, c.log)
	} else {
		c.bus.SetSelfName(composite)
	}
	c.bus.SetPresenceData(func() interface{} {
		return rendezvous.ConnectData{PublicKeyString: c.pubJWK}
	})

	c.rdv = rendezvous.New(rendezvous.Options{
		LocalName: c.Name,
		Bus:       c.bus,
		Factory:   c.factory,
		ICEConfig: transport.ICEConfig{
			Servers:            c.cfg.WebRTC.ICEServers,
			ICETransportPolicy: c.cfg.WebRTC.ICETransportPolicy,
			BundlePolicy:       c.cfg.WebRTC.BundlePolicy,
			RTCPMuxPolicy:      c.cfg.WebRTC.RTCPMuxPolicy,
		},
		Handlers:  c.handlers,
		Gate:      c.trust.Gate,
		Admission: c.trust,
		Identity:  c.ids,
		Log:       c.log,
		Events: rendezvous.Events{
			OnSessionOpen:   c.onSessionOpen,
			OnSessionClosed: c.onSessionClosed,
			OnMessage:       c.onMessage,
			OnCallConnected: func(peer, trackID string) { c.emitter.emit(EventCallConnected, peer, trackID) },
			OnCallEnded:     func(peer string) { c.emitter.emit(EventCallEnded, peer, nil) },
		},
	})

	if err := c.bus.Connect(ctx); err != nil {
		c.releaseSlot(ctx)
		return err
	}
	c.emitter.emit(EventMQTTConnected, "", nil)

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.connected = true
	c.mu.Unlock()

	go c.rdv.Run(runCtx)
	go c.genericLoop(runCtx)

	topic := signaling.Topic(c.cfg.Topic.Base, c.cfg.Topic.Separator, c.room())
	if err := c.bus.Subscribe(ctx, topic); err != nil {
		c.Disconnect()
		return err
	}
	return nil
}

// Disconnect tears down every session concurrently, then the bus and
// the instance heartbeat.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.connected = false
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if c.rdv != nil {
		var g errgroup.Group
		for _, s := range c.rdv.Sessions() {
			s := s
			g.Go(func() error {
				s.Close("client disconnect")
				return nil
			})
		}
		_ = g.Wait()
	}

	ctx, cancelRelease := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelRelease()

	if c.bus != nil {
		_ = c.bus.Publish(ctx, signaling.SubtopicUnload, nil)
		_ = c.bus.Close()
	}
	c.releaseSlot(ctx)
}

// DisconnectPeer closes the session to one peer.
func (c *Client) DisconnectPeer(peer string) { c.rdv.Disconnect(peer) }

// ChangeName persists the new bare name, publishes the rename, and
// re-stamps the composite identity.
func (c *Client) ChangeName(ctx context.Context, newName string) error {
	if err := validateName(newName); err != nil {
		return err
	}

	c.mu.Lock()
	oldComposite := compositeName(c.baseName, c.slot)
	c.baseName = newName
	newComposite := compositeName(newName, c.slot)
	c.mu.Unlock()

	if err := c.kv.Set(ctx, kv.KeyRTCName, newName); err != nil {
		return err
	}
	c.bus.SetSelfName(newComposite)

	if err := c.bus.Publish(ctx, signaling.SubtopicNameChange, rendezvous.NameChangeData{
		OldName: oldComposite,
		NewName: newComposite,
	}); err != nil {
		return err
	}
	c.emitter.emit(EventNameChange, "", rendezvous.NameChangeData{OldName: oldComposite, NewName: newComposite})
	return nil
}

// Send delivers data to the named channel of the target peers; all
// open sessions when targets is empty. channel defaults to chat.
func (c *Client) Send(ctx context.Context, data interface{}, channel string, targets ...string) error {
	if channel == "" {
		channel = session.ChannelChat
	}

	sessions := c.targetSessions(targets)
	if len(sessions) == 0 && len(targets) > 0 {
		return errs.New(errs.ChannelClosed, "no session to "+strings.Join(targets, ","))
	}

	var g errgroup.Group
	for _, s := range sessions {
		s := s
		g.Go(func() error { return s.Send(ctx, channel, data) })
	}
	return g.Wait()
}

// Ask sends a question to target and returns the decoded answer.
func (c *Client) Ask(ctx context.Context, topic string, content interface{}, target string) (json.RawMessage, error) {
	s := c.rdv.Session(target)
	if s == nil {
		return nil, errs.New(errs.ChannelClosed, "no session to "+target)
	}
	return s.Overlay().Ask(ctx, topic, content)
}

// Ping measures the round trip to one peer.
func (c *Client) Ping(ctx context.Context, peer string) (time.Duration, error) {
	s := c.rdv.Session(peer)
	if s == nil {
		return 0, errs.New(errs.ChannelClosed, "no session to "+peer)
	}
	return s.Overlay().Ping(ctx)
}

// PingEveryone pings every open session and returns the results by
// peer.
func (c *Client) PingEveryone(ctx context.Context) map[string]time.Duration {
	results := make(map[string]time.Duration)
	var mu sync.Mutex
	var g errgroup.Group
	for _, s := range c.rdv.Sessions() {
		s := s
		g.Go(func() error {
			rtt, err := s.Overlay().Ping(ctx)
			if err != nil {
				return nil
			}
			mu.Lock()
			results[s.RemoteName()] = rtt
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// CallUser starts a media call with peer and returns the remote track
// id once it arrives.
func (c *Client) CallUser(ctx context.Context, peer, trackID string) (string, error) {
	s := c.rdv.Session(peer)
	if s == nil {
		return "", errs.New(errs.ChannelClosed, "no session to "+peer)
	}
	remoteTrack, err := s.StartCall(ctx, trackID)
	if err != nil {
		return "", err
	}
	c.emitter.emit(EventCallConnected, peer, remoteTrack)
	return remoteTrack, nil
}

// EndCallWithUser tears down the media call with peer.
func (c *Client) EndCallWithUser(ctx context.Context, peer string) error {
	s := c.rdv.Session(peer)
	if s == nil {
		return nil
	}
	return s.EndCall(ctx)
}

// Trust runs the first-meeting identify flow against peer now.
func (c *Client) Trust(ctx context.Context, peer string) error {
	s := c.rdv.Session(peer)
	if s == nil {
		return errs.New(errs.ChannelClosed, "no session to "+peer)
	}
	return c.trust.Trust(ctx, peer, s.Overlay())
}

// Challenge verifies peer against its stored key now.
func (c *Client) Challenge(ctx context.Context, peer string) error {
	s := c.rdv.Session(peer)
	if s == nil {
		return errs.New(errs.ChannelClosed, "no session to "+peer)
	}
	return c.trust.Challenge(ctx, peer, s.Overlay())
}

// Untrust removes peer's persisted key binding.
func (c *Client) Untrust(ctx context.Context, peer string) error {
	return c.trust.Untrust(ctx, peer)
}

// Register persists a serialized identity ("name|publicKeyString")
// directly into the identity store.
func (c *Client) Register(ctx context.Context, serialized string) error {
	name := identity.ExtractName(serialized)
	if name == "" {
		return errs.New(errs.ConfigInvalid, "identity has no name")
	}
	i := strings.Index(serialized, "|")
	if i < 0 || i+1 >= len(serialized) {
		return errs.New(errs.ConfigInvalid, "identity has no public key string")
	}
	return c.ids.Save(ctx, name, serialized[i+1:])
}

// Reset clears the own key pair and every host record.
func (c *Client) Reset(ctx context.Context) error {
	return c.ids.Reset(ctx)
}

// History exposes the bus's bounded envelope ring.
func (c *Client) History() *signaling.History { return c.bus.History() }

func (c *Client) onSessionOpen(s *session.Session) {
	peer := s.RemoteName()
	c.emitter.emit(EventConnectedToPeer, peer, nil)

	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-s.Closed():
				cancel()
			case <-ctx.Done():
			}
		}()
		c.trust.ScheduleVerification(ctx, peer, s.Overlay())
	}()
}

func (c *Client) onSessionClosed(peer, reason string) {
	c.trust.Forget(peer)
	c.emitter.emit(EventDisconnectedPeer, peer, reason)
}

// onMessage fans an inbound application frame out to the matching
// event, decoding JSON payloads for non-raw channels.
func (c *Client) onMessage(channel string, data []byte, raw bool, sender string) {
	var payload interface{}
	if raw {
		payload = data
	} else if err := json.Unmarshal(data, &payload); err != nil {
		payload = string(data)
	}

	switch channel {
	case session.ChannelChat:
		c.emitter.emit(EventChat, sender, payload)
	case session.ChannelDM:
		c.emitter.emit(EventDM, sender, payload)
	case session.ChannelQuestion:
		c.emitter.emit(EventQuestion, sender, payload)
	case session.ChannelAnswer:
		c.emitter.emit(eventAnswer, sender, payload)
	case session.ChannelPing:
		c.emitter.emit(EventPing, sender, payload)
	case session.ChannelPong:
		c.emitter.emit(EventPong, sender, payload)
	default:
		c.emitter.emit(EventRTCMessage, sender, payload)
	}
}

func (c *Client) genericLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-c.bus.Generic():
			if !ok {
				return
			}
			c.emitter.emit(EventMQTTMessage, env.Sender, env)
		}
	}
}

// resolveName loads the persisted bare name, falling back to the
// configured one, and persists the fallback for next start.
func (c *Client) resolveName(ctx context.Context) (string, error) {
	if stored, ok, err := c.kv.Get(ctx, kv.KeyRTCName); err == nil && ok && stored != "" {
		if err := validateName(stored); err == nil {
			return stored, nil
		}
	}

	name := c.cfg.Name
	if name == "" {
		name = "anon" + fmt.Sprintf("%d", time.Now().UnixMilli()%100000)
	}
	if err := validateName(name); err != nil {
		return "", err
	}
	if err := c.kv.Set(ctx, kv.KeyRTCName, name); err != nil {
		return "", err
	}
	return name, nil
}

func (c *Client) room() string {
	if c.cfg.Topic.Room != "" {
		return c.cfg.Topic.Room
	}
	return config.DeriveRoom("", "")
}

func (c *Client) releaseSlot(ctx context.Context) {
	if c.reg == nil {
		return
	}
	if err := c.reg.Release(ctx); err != nil {
		c.log.Warn("client: release instance slot", logger.Error(err))
	}
}

func (c *Client) targetSessions(targets []string) []*session.Session {
	if len(targets) == 0 {
		return c.rdv.Sessions()
	}
	out := make([]*session.Session, 0, len(targets))
	for _, t := range targets {
		if s := c.rdv.Session(t); s != nil {
			out = append(out, s)
		}
	}
	return out
}

// compositeName stamps the slot onto the bare name; slot 0 stays bare.
func compositeName(name string, slot int) string {
	if slot <= 0 {
		return name
	}
	return fmt.Sprintf("%s(%d)", name, slot)
}

func validateName(name string) error {
	if name == "" {
		return errs.New(errs.ConfigInvalid, "name must not be empty")
	}
	if strings.ContainsAny(name, "()|") {
		return errs.New(errs.ConfigInvalid, "name must not contain '(', ')', or '|'")
	}
	if strings.TrimSpace(name) != name {
		return errs.New(errs.ConfigInvalid, "name must not have surrounding whitespace")
	}
	return nil
}
