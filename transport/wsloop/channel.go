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
	"sync"

	"github.com/sage-x-project/mrtchat/transport"
)

// DataChannel is one named logical stream multiplexed over a
// PeerConnection's single websocket connection.
type DataChannel struct {
	label string
	owner *PeerConnection

	mu    sync.Mutex
	state transport.DataChannelState

	onMessage func([]byte)
	onOpen    func()
	onClose   func()
	onError   func(error)
}

func newDataChannel(label string, owner *PeerConnection) *DataChannel {
	return &DataChannel{label: label, owner: owner, state: transport.ChannelConnecting}
}

func (c *DataChannel) Label() string { return c.label }

func (c *DataChannel) State() transport.DataChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *DataChannel) Send(data []byte) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != transport.ChannelOpen {
		return errClosedOrConnecting(state)
	}
	return c.owner.writeFrame(frame{Kind: kindChannelData, Label: c.label, Data: data})
}

func (c *DataChannel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

func (c *DataChannel) OnOpen(fn func()) {
	c.mu.Lock()
	alreadyOpen := c.state == transport.ChannelOpen
	c.onOpen = fn
	c.mu.Unlock()
	if alreadyOpen && fn != nil {
		fn()
	}
}

func (c *DataChannel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *DataChannel) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

func (c *DataChannel) Close() error {
	c.setState(transport.ChannelClosed)
	return c.owner.writeFrame(frame{Kind: kindChannelClose, Label: c.label})
}

func (c *DataChannel) setState(s transport.DataChannelState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	onOpen := c.onOpen
	onClose := c.onClose
	c.mu.Unlock()

	if prev != s && s == transport.ChannelOpen && onOpen != nil {
		onOpen()
	}
	if prev != s && s == transport.ChannelClosed && onClose != nil {
		onClose()
	}
}

func (c *DataChannel) deliver(data []byte) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

type channelStateError struct {
	state transport.DataChannelState
}

func (e *channelStateError) Error() string {
	return "wsloop: channel is " + string(e.state)
}

func errClosedOrConnecting(s transport.DataChannelState) error {
	return &channelStateError{state: s}
}
