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

// Package session implements the per-peer Session and its Channel
// Multiplexer: named data channels over one peer transport, each
// with open/send/close semantics and a load barrier.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sage-x-project/mrtchat/errs"
	"github.com/sage-x-project/mrtchat/internal/metrics"
	"github.com/sage-x-project/mrtchat/transport"
)

// ChannelOpenDeadline bounds how long a send may park behind a
// channel that is still connecting.
const ChannelOpenDeadline = 10 * time.Second

// Fixed media-control channel labels.
const (
	ChannelStreamOffer  = "streamoffer"
	ChannelStreamAnswer = "streamanswer"
	ChannelStreamICE    = "streamice"
	ChannelEndCall      = "endcall"
)

// Channel wraps a transport.DataChannel with the send/open semantics
// the session needs: synchronous send when open, parked behind the
// open event when connecting, fail-fast when closed.
type Channel struct {
	label string
	raw   bool
	dc    transport.DataChannel

	mu        sync.Mutex
	openOnce  sync.Once
	closeOnce sync.Once
	openedCh  chan struct{}
	closedCh  chan struct{}

	onMessage func(data []byte, raw bool)
}

// NewChannel wraps dc, registering its open/close callbacks.
func NewChannel(label string, raw bool, dc transport.DataChannel) *Channel {
	c := &Channel{
		label:    label,
		raw:      raw,
		dc:       dc,
		openedCh: make(chan struct{}),
		closedCh: make(chan struct{}),
	}

	dc.OnOpen(func() {
		c.openOnce.Do(func() { close(c.openedCh) })
		metrics.ChannelsOpened.WithLabelValues(label).Inc()
	})
	dc.OnClose(func() { c.Shutdown() })
	dc.OnMessage(func(data []byte) {
		c.mu.Lock()
		fn := c.onMessage
		c.mu.Unlock()
		if fn != nil {
			fn(data, c.raw)
		}
	})

	return c
}

// Label returns the channel's label.
func (c *Channel) Label() string { return c.label }

// State proxies the underlying transport channel's state.
func (c *Channel) State() transport.DataChannelState { return c.dc.State() }

// OnMessage registers the inbound frame handler. raw tells the caller
// whether to skip JSON decoding, per the channel's declared raw flag.
func (c *Channel) OnMessage(fn func(data []byte, raw bool)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// Send delivers data (JSON-encoded unless raw): synchronous when the
// channel is open, parked behind the open event with a deadline when
// connecting, fail-fast when closed.
func (c *Channel) Send(ctx context.Context, data interface{}) error {
	payload, err := c.encode(data)
	if err != nil {
		return err
	}

	select {
	case <-c.closedCh:
		return errs.New(errs.ChannelClosed, "channel "+c.label+" is closed")
	default:
	}

	switch c.dc.State() {
	case transport.ChannelOpen:
		return c.dc.Send(payload)
	case transport.ChannelClosed, transport.ChannelClosing:
		return errs.New(errs.ChannelClosed, "channel "+c.label+" is closed")
	default:
		deadline, cancel := context.WithTimeout(ctx, ChannelOpenDeadline)
		defer cancel()
		select {
		case <-c.openedCh:
			return c.dc.Send(payload)
		case <-c.closedCh:
			return errs.New(errs.ChannelClosed, "channel "+c.label+" closed while waiting for open")
		case <-deadline.Done():
			metrics.ChannelOpenTimeouts.WithLabelValues(c.label).Inc()
			return errs.New(errs.ChannelOpenTimeout, "channel "+c.label+" did not open within 10s")
		}
	}
}

// Shutdown marks the channel closed, failing any parked sends. It is
// called from the transport close callback and from Session teardown.
func (c *Channel) Shutdown() {
	c.closeOnce.Do(func() { close(c.closedCh) })
}

// WaitOpen blocks until the channel opens or ctx is done.
func (c *Channel) WaitOpen(ctx context.Context) error {
	select {
	case <-c.openedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OpenedCh exposes the one-shot open signal for the Session load
// barrier.
func (c *Channel) OpenedCh() <-chan struct{} { return c.openedCh }

func (c *Channel) encode(data interface{}) ([]byte, error) {
	if c.raw {
		if b, ok := data.([]byte); ok {
			return b, nil
		}
		if s, ok := data.(string); ok {
			return []byte(s), nil
		}
	}
	return json.Marshal(data)
}
