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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/mrtchat/errs"
	"github.com/sage-x-project/mrtchat/identity"
	"github.com/sage-x-project/mrtchat/session"
)

// fakeAsker answers identify/challenge questions the way a remote peer
// holding kp would.
type fakeAsker struct {
	kp      *identity.KeyPair
	pubJWK  string
	corrupt bool // flip a signature byte to simulate a forgery
}

func newFakeAsker(t *testing.T) *fakeAsker {
	t.Helper()
	kp, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	pub, err := identity.MarshalJWK(kp.ExportPublicJWK())
	require.NoError(t, err)
	return &fakeAsker{kp: kp, pubJWK: pub}
}

func (f *fakeAsker) Ask(_ context.Context, topic string, content interface{}) (json.RawMessage, error) {
	challenge, _ := content.(string)
	sig, err := f.kp.Sign(identity.LegacyBytes(challenge))
	if err != nil {
		return nil, err
	}
	if f.corrupt {
		sig[0] ^= 0xff
	}

	switch topic {
	case TopicChallenge:
		return json.Marshal(identity.LegacyString(sig))
	case TopicIdentify:
		return json.Marshal(identifyAnswer{
			PublicKeyString: f.pubJWK,
			Signature:       identity.LegacyString(sig),
		})
	}
	return nil, errs.New(errs.NoHandler, "unknown topic "+topic)
}

type recordedEvents struct {
	validations map[string]bool
	failures    []string
}

func newEngineForTest(t *testing.T, records map[string]string, mode string) (*Engine, *recordedEvents) {
	t.Helper()
	ids := storeWithRecords(t, records)
	policy, err := PolicyForMode(mode)
	require.NoError(t, err)

	events := &recordedEvents{validations: make(map[string]bool)}
	engine := NewEngine(ids, policy, Callbacks{
		OnValidation: func(peer string, trusted bool) {
			events.validations[peer] = trusted
		},
		OnValidationFailure: func(peer string, err error) {
			events.failures = append(events.failures, peer)
		},
	}, false, nil)
	return engine, events
}

func TestTrustFlow_FirstMeetingPersistsKey(t *testing.T) {
	engine, events := newEngineForTest(t, nil, "strict")
	asker := newFakeAsker(t)

	require.NoError(t, engine.Trust(context.Background(), "bob", asker))

	assert.True(t, engine.IsValidated("bob"))
	trusted, ok := events.validations["bob"]
	require.True(t, ok)
	assert.True(t, trusted, "first meeting reports trusted=true")

	stored, ok := engine.ids.Lookup("bob")
	require.True(t, ok)
	assert.Equal(t, asker.pubJWK, stored)
}

func TestChallengeFlow_ValidatesAgainstStoredKey(t *testing.T) {
	asker := newFakeAsker(t)
	engine, events := newEngineForTest(t, map[string]string{"bob": asker.pubJWK}, "strict")

	require.NoError(t, engine.Challenge(context.Background(), "bob", asker))

	assert.True(t, engine.IsValidated("bob"))
	trusted, ok := events.validations["bob"]
	require.True(t, ok)
	assert.False(t, trusted, "challenge against a stored key reports trusted=false")
}

func TestChallengeFlow_ForgedSignatureUntrusts(t *testing.T) {
	asker := newFakeAsker(t)
	asker.corrupt = true
	engine, events := newEngineForTest(t, map[string]string{"bob": asker.pubJWK}, "strict")

	err := engine.Challenge(context.Background(), "bob", asker)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.SignatureInvalid))

	assert.False(t, engine.IsValidated("bob"))
	assert.Contains(t, events.failures, "bob")
	_, ok := engine.ids.Lookup("bob")
	assert.False(t, ok, "failed challenge removes the stored binding")
}

func TestChallengeFlow_WrongKeyFails(t *testing.T) {
	asker := newFakeAsker(t)
	other := newFakeAsker(t)
	engine, events := newEngineForTest(t, map[string]string{"bob": other.pubJWK}, "strict")

	err := engine.Challenge(context.Background(), "bob", asker)
	require.Error(t, err)
	assert.False(t, engine.IsValidated("bob"))
	assert.Contains(t, events.failures, "bob")
}

func TestTrustFlow_KeyChangeRejected(t *testing.T) {
	asker := newFakeAsker(t)
	engine, events := newEngineForTest(t, map[string]string{"bob": "someotherkey"}, "strict")

	err := engine.Trust(context.Background(), "bob", asker)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.PublicKeyChanged))
	assert.Contains(t, events.failures, "bob")
	assert.False(t, engine.IsValidated("bob"))
}

func TestTrustFlow_SingleOwnerDisplacesPriorNames(t *testing.T) {
	asker := newFakeAsker(t)
	engine, _ := newEngineForTest(t, map[string]string{"oldbob": asker.pubJWK}, "strict")

	require.NoError(t, engine.Trust(context.Background(), "bob", asker))

	_, ok := engine.ids.Lookup("oldbob")
	assert.False(t, ok, "prior owner displaced")
	stored, ok := engine.ids.Lookup("bob")
	require.True(t, ok)
	assert.Equal(t, asker.pubJWK, stored)
}

func TestGate_BlocksUntilValidated(t *testing.T) {
	engine, _ := newEngineForTest(t, nil, "strict")

	err := engine.Gate("bob", session.ChannelChat, "")
	assert.True(t, errs.Is(err, errs.PeerUnverified))

	assert.NoError(t, engine.Gate("bob", session.ChannelQuestion, TopicIdentify))
	assert.NoError(t, engine.Gate("bob", session.ChannelAnswer, TopicChallenge))
	assert.Error(t, engine.Gate("bob", session.ChannelQuestion, "sum"))

	asker := newFakeAsker(t)
	require.NoError(t, engine.Trust(context.Background(), "bob", asker))
	assert.NoError(t, engine.Gate("bob", session.ChannelChat, ""))
}

func TestShouldConnectTo_Admission(t *testing.T) {
	t.Run("rejectall refuses pretenders", func(t *testing.T) {
		engine, _ := newEngineForTest(t, map[string]string{"bob": "k1"}, "rejectall")
		ok, info := engine.ShouldConnectTo(context.Background(), "bob", "k2")
		assert.False(t, ok)
		assert.Equal(t, Pretender, info.Category)
	})

	t.Run("strict prompts for pretenders", func(t *testing.T) {
		prompted := false
		ids := storeWithRecords(t, map[string]string{"bob": "k1"})
		policy, err := PolicyForMode("strict")
		require.NoError(t, err)
		engine := NewEngine(ids, policy, Callbacks{
			ConnectionRequest: func(_ context.Context, peer string, info PeerInfo) bool {
				prompted = true
				return true
			},
		}, false, nil)

		ok, info := engine.ShouldConnectTo(context.Background(), "bob", "k2")
		assert.True(t, ok)
		assert.True(t, prompted)
		assert.Equal(t, ActionPromptAndTrust, info.TrustLevel)
	})

	t.Run("autoAccept bypasses the prompt", func(t *testing.T) {
		ids := storeWithRecords(t, nil)
		policy, err := PolicyForMode("strict")
		require.NoError(t, err)
		engine := NewEngine(ids, policy, Callbacks{}, true, nil)

		ok, _ := engine.ShouldConnectTo(context.Background(), "carol", "k9")
		assert.True(t, ok)
	})

	t.Run("known peer connects without prompting", func(t *testing.T) {
		engine, _ := newEngineForTest(t, map[string]string{"bob": "k1"}, "strict")
		ok, info := engine.ShouldConnectTo(context.Background(), "bob", "k1")
		assert.True(t, ok)
		assert.Equal(t, TheOneAndOnly, info.Category)
	})
}
