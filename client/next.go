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

package client

import (
	"github.com/sage-x-project/mrtchat/internal/futures"
)

// Anyone matches events from any peer in the Next* helpers.
const Anyone = "anyone"

// next returns a one-shot future resolved by the first occurrence of
// the named event from target (or from any peer when target is
// Anyone).
func (c *Client) next(event, target string) *futures.OneShot[Event] {
	o := futures.NewOneShot[Event]()
	match := func(ev Event) bool {
		return target == Anyone || target == "" || ev.Peer == target
	}
	c.emitter.once(event, match, func(ev Event) { o.Resolve(ev) })
	return o
}

// NextDM resolves at the next dm from target.
func (c *Client) NextDM(target string) *futures.OneShot[Event] {
	return c.next(EventDM, target)
}

// NextChat resolves at the next chat from target.
func (c *Client) NextChat(target string) *futures.OneShot[Event] {
	return c.next(EventChat, target)
}

// NextQuestion resolves at the next inbound question from target.
func (c *Client) NextQuestion(target string) *futures.OneShot[Event] {
	return c.next(EventQuestion, target)
}

// eventAnswer keys the answer-frame occurrences consumed by
// NextAnswer; answers are otherwise handled by the overlay's
// correlation table rather than surfaced as a public event.
const eventAnswer = "answer"

// NextAnswer resolves at the next answer frame from target.
func (c *Client) NextAnswer(target string) *futures.OneShot[Event] {
	return c.next(eventAnswer, target)
}

// NextPing resolves at the next ping from target.
func (c *Client) NextPing(target string) *futures.OneShot[Event] {
	return c.next(EventPing, target)
}

// NextPong resolves at the next pong from target.
func (c *Client) NextPong(target string) *futures.OneShot[Event] {
	return c.next(EventPong, target)
}

// NextUserDisconnection resolves when target disconnects.
func (c *Client) NextUserDisconnection(target string) *futures.OneShot[Event] {
	return c.next(EventDisconnectedPeer, target)
}

// NextMQTTMessage resolves at the next generic bus envelope.
func (c *Client) NextMQTTMessage() *futures.OneShot[Event] {
	return c.next(EventMQTTMessage, Anyone)
}
