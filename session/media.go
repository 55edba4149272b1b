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

package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sage-x-project/mrtchat/internal/futures"
	"github.com/sage-x-project/mrtchat/internal/logger"
	"github.com/sage-x-project/mrtchat/transport"
)

// streamSignal is the frame exchanged on the media-control channels:
// an SDP on streamoffer/streamanswer, a candidate on streamice.
type streamSignal struct {
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
	TrackID   string `json:"trackId,omitempty"`
}

// mediaSession is the lazily created second peer connection carrying
// media, signaled over the session's own data channels rather than
// through the broker.
type mediaSession struct {
	s  *Session
	pc transport.PeerConnection

	callStart *futures.OneShot[string]
	callEnd   *futures.OneShot[string]

	teardownOnce sync.Once
}

// StartCall creates the media sub-session as offerer, adds the local
// track, ships the offer over the streamoffer channel, and blocks
// until the remote track arrives.
func (s *Session) StartCall(ctx context.Context, trackID string) (string, error) {
	m, err := s.ensureMedia(ctx)
	if err != nil {
		return "", err
	}

	if err := m.pc.AddTrack(trackID); err != nil {
		return "", err
	}
	sdp, err := m.pc.CreateOffer(ctx)
	if err != nil {
		return "", err
	}
	if err := s.Send(ctx, ChannelStreamOffer, streamSignal{SDP: sdp, TrackID: trackID}); err != nil {
		return "", err
	}

	return m.callStart.Await(ctx)
}

// EndCall sends the endcall frame and tears the media sub-session
// down locally.
func (s *Session) EndCall(ctx context.Context) error {
	s.mu.Lock()
	m := s.media
	s.mu.Unlock()
	if m == nil {
		return nil
	}

	err := s.Send(ctx, ChannelEndCall, struct{}{})
	m.teardown()

	s.mu.Lock()
	s.media = nil
	s.mu.Unlock()

	if s.opts.OnCallEnded != nil {
		s.opts.OnCallEnded(s.opts.RemoteName)
	}
	return err
}

// CallEnded returns a future resolved when the media sub-session
// reaches a terminal state. Nil if no call is active.
func (s *Session) CallEnded() *futures.OneShot[string] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.media == nil {
		return nil
	}
	return s.media.callEnd
}

// ensureMedia creates the media sub-session on first use, configured
// with the same ICE parameters as the main transport.
func (s *Session) ensureMedia(ctx context.Context) (*mediaSession, error) {
	s.mu.Lock()
	if s.media != nil {
		m := s.media
		s.mu.Unlock()
		return m, nil
	}
	s.mu.Unlock()

	pc, err := s.opts.Factory(ctx, s.opts.ICEConfig)
	if err != nil {
		return nil, err
	}

	m := &mediaSession{
		s:         s,
		pc:        pc,
		callStart: futures.NewOneShot[string](),
		callEnd:   futures.NewOneShot[string](),
	}

	pc.OnTrack(func(trackID string) {
		m.callStart.Resolve(trackID)
		if s.opts.OnCallConnected != nil {
			s.opts.OnCallConnected(s.opts.RemoteName, trackID)
		}
	})
	pc.OnICECandidate(func(candidate string) {
		sendCtx, cancel := context.WithTimeout(context.Background(), ChannelOpenDeadline)
		defer cancel()
		_ = s.Send(sendCtx, ChannelStreamICE, streamSignal{Candidate: candidate})
	})
	pc.OnConnectionStateChange(func(state transport.ConnectionState) {
		switch state {
		case transport.StateDisconnected, transport.StateFailed, transport.StateClosed:
			m.callEnd.Resolve(string(state))
		}
	})

	s.mu.Lock()
	if s.media != nil {
		// Lost the creation race to an inbound streamoffer.
		existing := s.media
		s.mu.Unlock()
		_ = pc.Close()
		return existing, nil
	}
	s.media = m
	s.mu.Unlock()
	return m, nil
}

// handleStreamOffer answers an inbound media offer: create the media
// sub-session, mirror a local track, and ship the answer back over the
// streamanswer channel.
func (s *Session) handleStreamOffer(data []byte) {
	var sig streamSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		s.log.Warn("media: dropping malformed stream offer", logger.Error(err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), ChannelOpenDeadline)
		defer cancel()

		m, err := s.ensureMedia(ctx)
		if err != nil {
			s.log.Warn("media: create sub-session failed", logger.Error(err))
			return
		}
		answer, err := m.pc.CreateAnswer(ctx, sig.SDP)
		if err != nil {
			s.log.Warn("media: answer failed", logger.Error(err))
			return
		}
		if err := m.pc.AddTrack("track:" + s.opts.LocalName); err != nil {
			s.log.Warn("media: add local track failed", logger.Error(err))
		}
		if err := s.Send(ctx, ChannelStreamAnswer, streamSignal{SDP: answer}); err != nil {
			s.log.Warn("media: send stream answer failed", logger.Error(err))
		}
	}()
}

func (s *Session) handleStreamAnswer(data []byte) {
	var sig streamSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return
	}
	s.mu.Lock()
	m := s.media
	s.mu.Unlock()
	if m == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ChannelOpenDeadline)
	defer cancel()
	if err := m.pc.SetRemoteDescription(ctx, sig.SDP); err != nil {
		s.log.Warn("media: apply stream answer failed", logger.Error(err))
	}
}

func (s *Session) handleStreamICE(data []byte) {
	var sig streamSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return
	}
	s.mu.Lock()
	m := s.media
	s.mu.Unlock()
	if m == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ChannelOpenDeadline)
	defer cancel()
	_ = m.pc.AddICECandidate(ctx, sig.Candidate)
}

// handleEndCall tears down the local side in response to the remote's
// endcall frame.
func (s *Session) handleEndCall() {
	s.mu.Lock()
	m := s.media
	s.media = nil
	s.mu.Unlock()
	if m == nil {
		return
	}
	m.teardown()
	if s.opts.OnCallEnded != nil {
		s.opts.OnCallEnded(s.opts.RemoteName)
	}
}

func (m *mediaSession) teardown() {
	m.teardownOnce.Do(func() {
		m.callEnd.Resolve("ended")
		_ = m.pc.Close()
	})
}
