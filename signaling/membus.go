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
	"sync"
	"time"
)

// MemHub routes envelopes between in-process MemBus instances
// subscribed to the same room, standing in for the broker in tests
// and single-process runs.
type MemHub struct {
	mu    sync.Mutex
	rooms map[string][]*MemBus
}

// NewMemHub creates an empty hub.
func NewMemHub() *MemHub {
	return &MemHub{rooms: make(map[string][]*MemBus)}
}

// NewBus creates a MemBus for the named sender attached to this hub.
func (h *MemHub) NewBus(selfName string, historyMax int) *MemBus {
	return &MemBus{
		hub:         h,
		selfName:    selfName,
		history:     NewHistory(historyMax),
		envelopesCh: make(chan *Envelope, 256),
		genericCh:   make(chan *Envelope, 64),
		closeCh:     make(chan struct{}),
	}
}

func (h *MemHub) join(room string, b *MemBus) {
	h.mu.Lock()
	h.rooms[room] = append(h.rooms[room], b)
	h.mu.Unlock()
}

func (h *MemHub) leave(b *MemBus) {
	h.mu.Lock()
	for room, members := range h.rooms {
		out := members[:0]
		for _, m := range members {
			if m != b {
				out = append(out, m)
			}
		}
		h.rooms[room] = out
	}
	h.mu.Unlock()
}

// broadcast delivers env to every member of room, in join order. The
// sender filters its own envelopes on receipt, matching the broker's
// rebroadcast-to-all behavior.
func (h *MemHub) broadcast(room string, env *Envelope) {
	h.mu.Lock()
	members := append([]*MemBus(nil), h.rooms[room]...)
	h.mu.Unlock()
	for _, m := range members {
		m.deliver(env)
	}
}

// MemBus implements Bus over a MemHub.
type MemBus struct {
	hub     *MemHub
	history *History

	mu           sync.Mutex
	selfName     string
	room         string
	presenceData func() interface{}

	envelopesCh chan *Envelope
	genericCh   chan *Envelope
	closeCh     chan struct{}
	closeOnce   sync.Once
}

func (b *MemBus) Connect(context.Context) error { return nil }

// SetPresenceData installs the payload carried on connect envelopes.
func (b *MemBus) SetPresenceData(fn func() interface{}) {
	b.mu.Lock()
	b.presenceData = fn
	b.mu.Unlock()
}

func (b *MemBus) Subscribe(ctx context.Context, room string) error {
	b.mu.Lock()
	b.room = room
	fn := b.presenceData
	b.mu.Unlock()
	b.hub.join(room, b)

	var data interface{}
	if fn != nil {
		data = fn()
	}
	return b.Publish(ctx, SubtopicConnect, data)
}

// SetSelfName swaps the sender identity, for changeName.
func (b *MemBus) SetSelfName(name string) {
	b.mu.Lock()
	b.selfName = name
	b.mu.Unlock()
}

func (b *MemBus) Publish(_ context.Context, subtopic string, data interface{}) error {
	b.mu.Lock()
	room := b.room
	sender := b.selfName
	b.mu.Unlock()

	env := &Envelope{
		Sender:    sender,
		Timestamp: time.Now().UnixMilli(),
		Subtopic:  subtopic,
		Data:      data,
	}
	b.hub.broadcast(room, env)
	return nil
}

func (b *MemBus) Envelopes() <-chan *Envelope { return b.envelopesCh }
func (b *MemBus) Generic() <-chan *Envelope   { return b.genericCh }
func (b *MemBus) History() *History           { return b.history }

func (b *MemBus) Close() error {
	b.closeOnce.Do(func() {
		close(b.closeCh)
		b.hub.leave(b)
	})
	return nil
}

func (b *MemBus) deliver(env *Envelope) {
	b.mu.Lock()
	self := b.selfName
	b.mu.Unlock()
	if env.Sender == self {
		return
	}
	received := *env
	received.ReceiveTimestamp = time.Now().UnixMilli()
	b.history.Append(&received)

	target := b.envelopesCh
	if !recognizedSubtopics[received.Subtopic] {
		target = b.genericCh
	}
	select {
	case target <- &received:
	case <-b.closeCh:
	}
}
