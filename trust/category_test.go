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

	"github.com/sage-x-project/mrtchat/identity"
	"github.com/sage-x-project/mrtchat/kv"
	"github.com/sage-x-project/mrtchat/kv/memkv"
)

// storeWithRecords loads an identity store pre-populated with the given
// name -> key records, including multi-name-per-key shapes that Save
// itself refuses.
func storeWithRecords(t *testing.T, records map[string]string) *identity.Store {
	t.Helper()
	mem := memkv.New()
	if len(records) > 0 {
		blob, err := json.Marshal(records)
		require.NoError(t, err)
		require.NoError(t, mem.Set(context.Background(), kv.KeyKnownHostsStrings, string(blob)))
	}
	ids, err := identity.New(context.Background(), mem)
	require.NoError(t, err)
	return ids
}

func TestCategorize_Table(t *testing.T) {
	cases := []struct {
		name      string
		records   map[string]string
		peer      string
		key       string
		category  Category
		suspicion Suspicion
	}{
		{"theoneandonly", map[string]string{"bob": "k1"}, "bob", "k1", TheOneAndOnly, SuspicionTrusted},
		{"knownwithknownaliases", map[string]string{"bob": "k1", "bobby": "k1"}, "bob", "k1", KnownWithKnownAliases, SuspicionSlightlyOdd},
		{"possiblenamechange", map[string]string{"bobby": "k1"}, "bob", "k1", PossibleNameChange, SuspicionSlightlyOdd},
		{"possiblesharedpubkey", map[string]string{"x": "k1", "y": "k1"}, "bob", "k1", PossibleSharedPubKey, SuspicionSlightlyOdd},
		{"nameswapcollision", map[string]string{"bobby": "k1", "bob": "k2"}, "bob", "k1", NameSwapCollision, SuspicionOdd},
		{"pretender", map[string]string{"bob": "k1"}, "bob", "k2", Pretender, SuspicionVeryOdd},
		{"nevermet", nil, "bob", "k1", NeverMet, SuspicionNonSuspicious},
		{"nevermet without key", nil, "bob", "", NeverMet, SuspicionNonSuspicious},
		{"pretender without key", map[string]string{"bob": "k1"}, "bob", "", Pretender, SuspicionVeryOdd},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ids := storeWithRecords(t, tc.records)
			info := Snapshot(ids, tc.peer, tc.key)
			assert.Equal(t, tc.category, info.Category)
			assert.Equal(t, tc.suspicion, info.Suspiciousness)
		})
	}
}

func TestSnapshot_CompositePeerName(t *testing.T) {
	ids := storeWithRecords(t, map[string]string{"bob": "k1"})
	info := Snapshot(ids, "bob(3)|k1", "k1")
	assert.Equal(t, "bob", info.BareName)
	assert.Equal(t, TheOneAndOnly, info.Category)
}
