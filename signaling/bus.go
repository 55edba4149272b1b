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

import "context"

// Bus is the external broker contract as this module consumes it:
// connect/subscribe/publish plus an inbound envelope stream. The real
// relay server is out of scope; Bus models only the client side.
type Bus interface {
	// Connect dials the broker and blocks until the connection is
	// confirmed or ctx is done.
	Connect(ctx context.Context) error
	// Subscribe joins room; envelopes published to it arrive on
	// Envelopes().
	Subscribe(ctx context.Context, room string) error
	// Publish sends an envelope with the given subtopic and data.
	Publish(ctx context.Context, subtopic string, data interface{}) error
	// Envelopes returns the channel of accepted inbound envelopes
	// (self-filtered, decoded).
	Envelopes() <-chan *Envelope
	// Generic returns the channel of envelopes whose subtopic was not
	// one of the recognized ones, delivered to the generic event.
	Generic() <-chan *Envelope
	// History returns the bounded envelope ring.
	History() *History
	// SetSelfName swaps the sender identity used for publishing and
	// self-filtering, for changeName.
	SetSelfName(name string)
	// SetPresenceData installs the payload announced on connect
	// envelopes (initial subscribe and presence beacon).
	SetPresenceData(fn func() interface{})
	// Close tears down the connection.
	Close() error
}

// Topic computes the full broker topic from base, separator, and room,
// the destination every envelope for that room travels on.
func Topic(base, separator, room string) string {
	return base + separator + room
}

var recognizedSubtopics = map[string]bool{
	SubtopicConnect:    true,
	SubtopicNameChange: true,
	SubtopicUnload:     true,
	SubtopicRTCOffer:   true,
	SubtopicRTCAnswer:  true,
	SubtopicRTCIceCand: true,
}
