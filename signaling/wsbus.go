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

package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sage-x-project/mrtchat/internal/logger"
	"github.com/sage-x-project/mrtchat/internal/metrics"
)

// wireFrame is the minimal relay protocol: a subscribe request, or a
// publish carrying one envelope, rebroadcast by the relay to every
// other subscriber of the same room.
type wireFrame struct {
	Type string          `json:"type"` // "subscribe" | "publish"
	Room string          `json:"room"`
	Body json.RawMessage `json:"body,omitempty"` // raw (possibly compressed) envelope bytes
}

// Options configures a WSBus.
type Options struct {
	SelfName             string
	CompressionEnabled   bool
	CompressionLibrary   string // "zlib" or "none"
	CompressionThreshold int
	HistoryMaxLength     int
	ConnectTimeout       time.Duration
	ReconnectPeriod      time.Duration
	// HasOpenSessions reports whether any peer Session is currently
	// Open, gating the presence beacon.
	HasOpenSessions func() bool
}

// WSBus implements Bus over a gorilla/websocket connection to a relay
// that rebroadcasts every publish to other subscribers of the room.
type WSBus struct {
	url  string
	opts Options
	log  logger.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	room         string
	selfName     string
	presenceData func() interface{}
	codec        Codec
	history      *History

	envelopesCh chan *Envelope
	genericCh   chan *Envelope
	closeCh     chan struct{}
	closeOnce   sync.Once
}

// NewWSBus creates a WSBus dialing url on Connect.
func NewWSBus(url string, opts Options, log logger.Logger) *WSBus {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.ReconnectPeriod <= 0 {
		opts.ReconnectPeriod = 1 * time.Second
	}
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	return &WSBus{
		url:         url,
		opts:        opts,
		selfName:    opts.SelfName,
		log:         log,
		codec:       CodecFor(opts.CompressionLibrary),
		history:     NewHistory(opts.HistoryMaxLength),
		envelopesCh: make(chan *Envelope, 256),
		genericCh:   make(chan *Envelope, 64),
		closeCh:     make(chan struct{}),
	}
}

func (b *WSBus) Connect(ctx context.Context) error {
	dialer := &websocket.Dialer{HandshakeTimeout: b.opts.ConnectTimeout}

	connCtx, cancel := context.WithTimeout(ctx, b.opts.ConnectTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(connCtx, b.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("signaling bus dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("signaling bus dial failed: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	go b.readLoop()
	return nil
}

func (b *WSBus) Subscribe(ctx context.Context, room string) error {
	b.mu.Lock()
	b.room = room
	conn := b.conn
	b.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("signaling bus: not connected")
	}
	if err := b.writeFrame(wireFrame{Type: "subscribe", Room: room}); err != nil {
		return err
	}

	if err := b.Publish(ctx, SubtopicConnect, b.presence()); err != nil {
		return err
	}
	go b.presenceBeacon()
	return nil
}

// SetSelfName swaps the sender identity, for changeName.
func (b *WSBus) SetSelfName(name string) {
	b.mu.Lock()
	b.selfName = name
	b.mu.Unlock()
}

// SetPresenceData installs the payload carried on connect envelopes.
func (b *WSBus) SetPresenceData(fn func() interface{}) {
	b.mu.Lock()
	b.presenceData = fn
	b.mu.Unlock()
}

func (b *WSBus) presence() interface{} {
	b.mu.Lock()
	fn := b.presenceData
	b.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn()
}

func (b *WSBus) Publish(_ context.Context, subtopic string, data interface{}) error {
	b.mu.Lock()
	sender := b.selfName
	b.mu.Unlock()

	env := &Envelope{
		Sender:    sender,
		Timestamp: nowMillis(),
		Subtopic:  subtopic,
		Data:      data,
	}

	body, err := EncodeEnvelope(env, b.codec, b.opts.CompressionEnabled, b.opts.CompressionThreshold)
	if err != nil {
		metrics.EnvelopesDropped.WithLabelValues("encode_error").Inc()
		return err
	}

	b.mu.Lock()
	room := b.room
	b.mu.Unlock()

	if err := b.writeFrame(wireFrame{Type: "publish", Room: room, Body: body}); err != nil {
		return err
	}
	metrics.EnvelopesPublished.WithLabelValues(subtopic).Inc()
	return nil
}

func (b *WSBus) Envelopes() <-chan *Envelope { return b.envelopesCh }
func (b *WSBus) Generic() <-chan *Envelope   { return b.genericCh }
func (b *WSBus) History() *History           { return b.history }

func (b *WSBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closeCh)
		b.mu.Lock()
		conn := b.conn
		b.conn = nil
		b.mu.Unlock()
		if conn != nil {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			err = conn.Close()
		}
	})
	return err
}

func (b *WSBus) writeFrame(f wireFrame) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("signaling bus: not connected")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return conn.WriteJSON(f)
}

func (b *WSBus) readLoop() {
	for {
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn == nil {
			return
		}

		var f wireFrame
		if err := conn.ReadJSON(&f); err != nil {
			select {
			case <-b.closeCh:
				return
			default:
			}
			b.log.Warn("signaling bus: read error, reconnecting", logger.Error(err))
			metrics.BrokerReconnects.Inc()
			b.reconnect()
			continue
		}

		if f.Type != "publish" || len(f.Body) == 0 {
			continue
		}

		env, err := DecodeEnvelope(f.Body, b.codec)
		if err != nil {
			b.log.Warn("signaling bus: dropping malformed envelope", logger.Error(err))
			metrics.EnvelopesDropped.WithLabelValues("malformed").Inc()
			continue
		}

		b.mu.Lock()
		self := b.selfName
		b.mu.Unlock()
		if env.Sender == self {
			metrics.EnvelopesDropped.WithLabelValues("self_origin").Inc()
			continue
		}

		env.ReceiveTimestamp = nowMillis()
		b.history.Append(env)
		metrics.HistoryLength.Set(float64(b.history.Len()))
		metrics.EnvelopesReceived.WithLabelValues(env.Subtopic).Inc()

		if recognizedSubtopics[env.Subtopic] {
			select {
			case b.envelopesCh <- env:
			case <-b.closeCh:
				return
			}
		} else {
			select {
			case b.genericCh <- env:
			case <-b.closeCh:
				return
			}
		}
	}
}

func (b *WSBus) reconnect() {
	select {
	case <-b.closeCh:
		return
	case <-time.After(b.opts.ReconnectPeriod):
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.opts.ConnectTimeout)
	defer cancel()
	if err := b.Connect(ctx); err != nil {
		b.log.Warn("signaling bus: reconnect failed", logger.Error(err))
		return
	}

	b.mu.Lock()
	room := b.room
	b.mu.Unlock()
	if room != "" {
		_ = b.writeFrame(wireFrame{Type: "subscribe", Room: room})
	}
}

// presenceBeacon runs every 3s for the first 5 beacons, then every 30s,
// publishing "connect" only while no session is Open.
func (b *WSBus) presenceBeacon() {
	count := 0
	for {
		interval := 3 * time.Second
		if count >= 5 {
			interval = 30 * time.Second
		}

		select {
		case <-b.closeCh:
			return
		case <-time.After(interval):
		}

		count++
		if b.opts.HasOpenSessions != nil && b.opts.HasOpenSessions() {
			continue
		}
		_ = b.Publish(context.Background(), SubtopicConnect, b.presence())
	}
}

func nowMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}
