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

// Package transport defines the peer connection contract: the
// offer/answer/ICE-candidate lifecycle and named data channels that the
// Session and Channel Multiplexer build on. The real ICE/WebRTC
// binding is out of scope; wsloop provides a concrete implementation
// for local development and tests.
package transport

import "context"

// ConnectionState mirrors the RTCIceConnectionState values the
// Rendezvous Engine and Session act on.
type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// ICEConfig carries the ICE configuration knobs.
type ICEConfig struct {
	Servers            []string
	ICETransportPolicy string // "all" | "relay"
	BundlePolicy       string // "balanced" | "max-compat" | "max-bundle"
	RTCPMuxPolicy      string // "require" | "negotiate"
}

// DataChannelState is a data channel's lifecycle state.
type DataChannelState string

const (
	ChannelConnecting DataChannelState = "connecting"
	ChannelOpen       DataChannelState = "open"
	ChannelClosing    DataChannelState = "closing"
	ChannelClosed     DataChannelState = "closed"
)

// DataChannel is a named reliable byte stream inside a PeerConnection.
type DataChannel interface {
	Label() string
	State() DataChannelState
	Send(data []byte) error
	OnMessage(fn func(data []byte))
	OnOpen(fn func())
	OnClose(fn func())
	OnError(fn func(err error))
	Close() error
}

// PeerConnection is the direct peer transport contract: offer/answer/
// ICE-candidate lifecycle, named data channels, and track events.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (sdp string, err error)
	CreateAnswer(ctx context.Context, remoteSDP string) (sdp string, err error)
	SetRemoteDescription(ctx context.Context, sdp string) error
	AddICECandidate(ctx context.Context, candidate string) error
	OnICECandidate(fn func(candidate string))
	CreateDataChannel(label string) (DataChannel, error)
	OnDataChannel(fn func(ch DataChannel))
	OnConnectionStateChange(fn func(state ConnectionState))
	OnTrack(fn func(trackID string))
	AddTrack(trackID string) error
	Close() error
}

// Factory constructs a PeerConnection with the given ICE configuration.
// The real implementation would wrap a libwebrtc binding; wsloop's
// factory pairs two loopback connections for tests.
type Factory func(ctx context.Context, cfg ICEConfig) (PeerConnection, error)
