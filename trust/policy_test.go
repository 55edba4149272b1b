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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_EveryModeIsTotal(t *testing.T) {
	for _, mode := range ModeNames {
		policy, err := PolicyForMode(mode)
		require.NoError(t, err, "mode %s", mode)
		for _, c := range Categories {
			assert.NotEmpty(t, policy.ActionFor(c), "mode %s category %s", mode, c)
		}
	}
}

func TestPolicy_UnknownModeRejected(t *testing.T) {
	_, err := PolicyForMode("nosuchmode")
	assert.Error(t, err)
}

func TestNewPolicy_RejectsPartialMatrix(t *testing.T) {
	partial := map[Category]Action{TheOneAndOnly: ActionConnectAndTrust}
	_, err := NewPolicy("partial", partial)
	assert.Error(t, err)
}

func TestPolicy_StrictPretenderPrompts(t *testing.T) {
	strict, err := PolicyForMode("strict")
	require.NoError(t, err)
	assert.Equal(t, ActionPromptAndTrust, strict.ActionFor(Pretender))
	assert.Equal(t, ActionConnectAndTrust, strict.ActionFor(TheOneAndOnly))
	assert.Equal(t, ActionPromptAndTrust, strict.ActionFor(NeverMet))
}

func TestPolicy_RejectAllRejectsEverything(t *testing.T) {
	rejectall, err := PolicyForMode("rejectall")
	require.NoError(t, err)
	for _, c := range Categories {
		assert.Equal(t, ActionReject, rejectall.ActionFor(c))
	}
}
