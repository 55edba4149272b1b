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

package trust

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sage-x-project/mrtchat/errs"
	"github.com/sage-x-project/mrtchat/identity"
	"github.com/sage-x-project/mrtchat/internal/logger"
	"github.com/sage-x-project/mrtchat/internal/metrics"
	"github.com/sage-x-project/mrtchat/session"
)

// Overlay topics owned by the trust engine.
const (
	TopicIdentify  = "identify"
	TopicChallenge = "challenge"
)

// VerificationDelay is how long after a session opens the engine waits
// before running the challenge or trust flow.
const VerificationDelay = time.Second

// Asker sends a question to one peer and awaits the answer; satisfied
// by the session overlay.
type Asker interface {
	Ask(ctx context.Context, topic string, content interface{}) (json.RawMessage, error)
}

// identifyAnswer is the wire form of an identify response.
type identifyAnswer struct {
	PublicKeyString string `json:"publicKeyString"`
	Signature       string `json:"signature"`
}

// Callbacks are the engine's upcalls into the owning client.
type Callbacks struct {
	// ConnectionRequest is the interactive admission surface for the
	// prompt actions. Nil means refuse.
	ConnectionRequest func(ctx context.Context, peer string, info PeerInfo) bool
	// OnValidation fires when a peer enters validatedPeers; trusted
	// reports whether the key was learned fresh (trust flow) rather
	// than checked against a stored one (challenge flow).
	OnValidation func(peer string, trusted bool)
	// OnValidationFailure fires when a challenge or trust flow fails.
	OnValidationFailure func(peer string, err error)
}

// Engine categorizes peers, gates admission through the policy matrix,
// and drives the post-connect challenge/response verification.
type Engine struct {
	ids        *identity.Store
	policy     Policy
	callbacks  Callbacks
	autoAccept bool
	delay      time.Duration
	log        logger.Logger

	mu        sync.Mutex
	validated map[string]bool
	infoCache map[string]PeerInfo
}

// NewEngine creates an Engine over the identity store with the given
// policy. autoAccept bypasses the ConnectionRequest surface with an
// accept.
func NewEngine(ids *identity.Store, policy Policy, callbacks Callbacks, autoAccept bool, log logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	return &Engine{
		ids:        ids,
		policy:     policy,
		callbacks:  callbacks,
		autoAccept: autoAccept,
		delay:      VerificationDelay,
		log:        log,
		validated:  make(map[string]bool),
		infoCache:  make(map[string]PeerInfo),
	}
}

// SetVerificationDelay overrides the post-open wait, used by tests.
func (e *Engine) SetVerificationDelay(d time.Duration) { e.delay = d }

// Info returns the cached snapshot for peerName, computing it if
// needed.
func (e *Engine) Info(peerName, providedKey string) PeerInfo {
	bare := identity.ExtractName(peerName)

	e.mu.Lock()
	if info, ok := e.infoCache[bare]; ok {
		e.mu.Unlock()
		return info
	}
	e.mu.Unlock()

	info := Snapshot(e.ids, peerName, providedKey)
	info.TrustLevel = e.policy.ActionFor(info.Category)

	e.mu.Lock()
	info.CompletedChallenge = e.validated[bare]
	e.infoCache[bare] = info
	e.mu.Unlock()
	return info
}

// Forget drops the cached snapshot for peer, called on disconnect.
func (e *Engine) Forget(peer string) {
	bare := identity.ExtractName(peer)
	e.mu.Lock()
	delete(e.infoCache, bare)
	delete(e.validated, bare)
	e.mu.Unlock()
}

// ShouldConnectTo runs connection admission for an inbound connect:
// look up the action for the peer's category and either refuse,
// prompt, or proceed.
func (e *Engine) ShouldConnectTo(ctx context.Context, peerName, providedKey string) (bool, PeerInfo) {
	info := e.Info(peerName, providedKey)
	action := info.TrustLevel
	metrics.TrustDecisions.WithLabelValues(string(info.Category), string(action)).Inc()

	switch action {
	case ActionReject:
		return false, info
	case ActionConnectAndTrust:
		return true, info
	case ActionPromptAndTrust, ActionConnectAndPrompt:
		if e.autoAccept {
			return true, info
		}
		if e.callbacks.ConnectionRequest == nil {
			return false, info
		}
		return e.callbacks.ConnectionRequest(ctx, peerName, info), info
	default:
		return false, info
	}
}

// IsValidated reports whether peer has completed a challenge or trust
// flow this session.
func (e *Engine) IsValidated(peer string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.validated[identity.ExtractName(peer)]
}

// Gate is the session gate: frames to non-validated peers are dropped
// unless they are the overlay's own identify/challenge exchange.
func (e *Engine) Gate(remote, channel, topic string) error {
	if e.IsValidated(remote) {
		return nil
	}
	if (channel == session.ChannelQuestion || channel == session.ChannelAnswer) &&
		(topic == TopicIdentify || topic == TopicChallenge) {
		return nil
	}
	return errs.New(errs.PeerUnverified, "peer "+remote+" has not completed validation")
}

// ScheduleVerification waits the post-open delay, then runs the
// challenge flow (stored key) or the trust flow (no stored key) for
// peer unless it is already validated.
func (e *Engine) ScheduleVerification(ctx context.Context, peer string, asker Asker) {
	timer := time.NewTimer(e.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	e.Verify(ctx, peer, asker)
}

// Verify runs the appropriate post-connect flow for peer.
func (e *Engine) Verify(ctx context.Context, peer string, asker Asker) {
	bare := identity.ExtractName(peer)
	if e.IsValidated(bare) {
		return
	}

	var err error
	if _, hasStored := e.ids.Lookup(bare); hasStored {
		err = e.Challenge(ctx, peer, asker)
	} else {
		err = e.Trust(ctx, peer, asker)
	}
	if err != nil {
		e.log.Warn("trust: verification failed",
			logger.String("peer", bare), logger.Error(err))
	}
}

// Challenge verifies peer against its stored public key: send a fresh
// challenge, check the returned signature. Success adds peer to the
// validated set; failure untrusts it.
func (e *Engine) Challenge(ctx context.Context, peer string, asker Asker) error {
	bare := identity.ExtractName(peer)

	storedKey, ok := e.ids.Lookup(bare)
	if !ok {
		return errs.New(errs.SignatureInvalid, "no stored key for "+bare)
	}
	pub, err := identity.ImportPublicKey(storedKey)
	if err != nil {
		return e.fail(ctx, bare, errs.Wrap(errs.SignatureInvalid, "stored key unusable", err))
	}

	challenge, err := identity.RandomChallenge()
	if err != nil {
		return err
	}

	raw, err := asker.Ask(ctx, TopicChallenge, identity.LegacyString(challenge))
	if err != nil {
		return e.fail(ctx, bare, err)
	}
	var sig string
	if err := json.Unmarshal(raw, &sig); err != nil {
		return e.fail(ctx, bare, errs.Wrap(errs.SignatureInvalid, "malformed challenge answer", err))
	}
	if err := identity.Verify(pub, challenge, identity.LegacyBytes(sig)); err != nil {
		return e.fail(ctx, bare, err)
	}

	e.markValidated(bare)
	metrics.ChallengesIssued.WithLabelValues("success").Inc()
	if e.callbacks.OnValidation != nil {
		e.callbacks.OnValidation(bare, false)
	}
	return nil
}

// Trust runs the first-meeting flow: ask the peer to identify, verify
// its signature over our challenge with the key it returned, then
// persist the binding under the single-owner policy.
func (e *Engine) Trust(ctx context.Context, peer string, asker Asker) error {
	bare := identity.ExtractName(peer)

	challenge, err := identity.RandomChallenge()
	if err != nil {
		return err
	}

	raw, err := asker.Ask(ctx, TopicIdentify, identity.LegacyString(challenge))
	if err != nil {
		return e.fail(ctx, bare, err)
	}
	var ans identifyAnswer
	if err := json.Unmarshal(raw, &ans); err != nil {
		return e.fail(ctx, bare, errs.Wrap(errs.SignatureInvalid, "malformed identify answer", err))
	}

	pub, err := identity.ImportPublicKey(ans.PublicKeyString)
	if err != nil {
		return e.fail(ctx, bare, errs.Wrap(errs.SignatureInvalid, "returned key unusable", err))
	}
	if err := identity.Verify(pub, challenge, identity.LegacyBytes(ans.Signature)); err != nil {
		return e.fail(ctx, bare, err)
	}

	if storedKey, ok := e.ids.Lookup(bare); ok && storedKey != ans.PublicKeyString {
		return e.fail(ctx, bare, errs.New(errs.PublicKeyChanged,
			"name "+bare+" already bound to a different key"))
	}

	// Single-owner policy: the key moves to this name, displacing any
	// prior owners.
	for _, other := range e.ids.NamesForKey(ans.PublicKeyString) {
		if other != bare {
			if err := e.ids.Remove(ctx, other); err != nil {
				return e.fail(ctx, bare, err)
			}
		}
	}
	if err := e.ids.Save(ctx, bare, ans.PublicKeyString); err != nil {
		return e.fail(ctx, bare, err)
	}

	e.markValidated(bare)
	metrics.ChallengesIssued.WithLabelValues("success").Inc()
	if e.callbacks.OnValidation != nil {
		e.callbacks.OnValidation(bare, true)
	}
	return nil
}

// Untrust removes peer's persisted binding and validation status.
func (e *Engine) Untrust(ctx context.Context, peer string) error {
	bare := identity.ExtractName(peer)
	e.mu.Lock()
	delete(e.validated, bare)
	delete(e.infoCache, bare)
	e.mu.Unlock()
	return e.ids.Remove(ctx, bare)
}

// RegisterHandlers installs the identify and challenge answerers on
// the shared handler registry, so every session can respond to the
// remote side's verification flows.
func (e *Engine) RegisterHandlers(ctx context.Context, registry *session.HandlerRegistry) error {
	kp, err := e.ids.OwnKeyPair(ctx)
	if err != nil {
		return err
	}
	pubJWK, err := identity.MarshalJWK(kp.ExportPublicJWK())
	if err != nil {
		return err
	}

	registry.Register(TopicChallenge, func(_ context.Context, content json.RawMessage, _ string) (interface{}, error) {
		var challenge string
		if err := json.Unmarshal(content, &challenge); err != nil {
			return nil, err
		}
		sig, err := kp.Sign(identity.LegacyBytes(challenge))
		if err != nil {
			return nil, err
		}
		return identity.LegacyString(sig), nil
	})

	registry.Register(TopicIdentify, func(_ context.Context, content json.RawMessage, _ string) (interface{}, error) {
		var challenge string
		if err := json.Unmarshal(content, &challenge); err != nil {
			return nil, err
		}
		sig, err := kp.Sign(identity.LegacyBytes(challenge))
		if err != nil {
			return nil, err
		}
		return identifyAnswer{PublicKeyString: pubJWK, Signature: identity.LegacyString(sig)}, nil
	})
	return nil
}

func (e *Engine) markValidated(bare string) {
	e.mu.Lock()
	e.validated[bare] = true
	if info, ok := e.infoCache[bare]; ok {
		info.CompletedChallenge = true
		e.infoCache[bare] = info
	}
	e.mu.Unlock()
}

// fail untrusts the peer and reports the failure.
func (e *Engine) fail(ctx context.Context, bare string, cause error) error {
	metrics.ChallengesIssued.WithLabelValues("failure").Inc()
	if err := e.Untrust(ctx, bare); err != nil {
		e.log.Warn("trust: untrust after failure", logger.String("peer", bare), logger.Error(err))
	}
	if e.callbacks.OnValidationFailure != nil {
		e.callbacks.OnValidationFailure(bare, cause)
	}
	return cause
}
