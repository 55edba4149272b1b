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

// Package signaling implements the Signaling Bus: JSON envelopes
// published/subscribed on a room topic, a bounded history ring, and
// optional compression.
package signaling

// Envelope is the wire payload exchanged over the room topic.
type Envelope struct {
	Sender           string      `json:"sender"`
	Timestamp        int64       `json:"timestamp"`
	Subtopic         string      `json:"subtopic"`
	Data             interface{} `json:"data"`
	Sent             bool        `json:"sent,omitempty"`
	ReceiveTimestamp int64       `json:"receiveTimestamp,omitempty"`
}

// Known subtopics.
const (
	SubtopicConnect        = "connect"
	SubtopicNameChange     = "nameChange"
	SubtopicUnload         = "unload"
	SubtopicRTCOffer       = "RTCOffer"
	SubtopicRTCAnswer      = "RTCAnswer"
	SubtopicRTCIceCand     = "RTCIceCandidate"
	SubtopicGenericMessage = "mqttmessage"
)
