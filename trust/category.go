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

// Package trust implements the Trust Engine: categorizing peers
// from (key, name) history, mapping categories to actions through a
// policy matrix, and driving the signed challenge/response flows.
package trust

import (
	"github.com/sage-x-project/mrtchat/identity"
)

// Category is what a peer *is*, derived from the identity store's
// (key, name) history.
type Category string

const (
	TheOneAndOnly         Category = "theoneandonly"
	KnownWithKnownAliases Category = "knownwithknownaliases"
	PossibleNameChange    Category = "possiblenamechange"
	PossibleSharedPubKey  Category = "possiblesharedpubkey"
	NameSwapCollision     Category = "nameswapcollision"
	Pretender             Category = "pretender"
	NeverMet              Category = "nevermet"
)

// Categories lists every category; the policy matrix must cover all of
// them.
var Categories = []Category{
	TheOneAndOnly,
	KnownWithKnownAliases,
	PossibleNameChange,
	PossibleSharedPubKey,
	NameSwapCollision,
	Pretender,
	NeverMet,
}

// Suspicion grades a category from trusted (0) to veryodd (4).
type Suspicion int

const (
	SuspicionTrusted       Suspicion = 0
	SuspicionNonSuspicious Suspicion = 1
	SuspicionSlightlyOdd   Suspicion = 2
	SuspicionOdd           Suspicion = 3
	SuspicionVeryOdd       Suspicion = 4
)

// PeerInfo is the trust engine's snapshot of one remote peer, computed
// on demand and cached until disconnect.
type PeerInfo struct {
	PeerName            string    `json:"peerName"`
	BareName            string    `json:"bareName"`
	ProvidedPubKey      bool      `json:"providedPubKey"`
	KnownPubKey         bool      `json:"knownPubKey"`
	KnownName           bool      `json:"knownName"`
	OtherNamesForPubKey []string  `json:"otherNamesForPubKey"`
	OtherPubKeyForName  string    `json:"otherPubKeyForName,omitempty"`
	CompletedChallenge  bool      `json:"completedChallenge"`
	Category            Category  `json:"category"`
	Suspiciousness      Suspicion `json:"suspiciousness"`
	TrustLevel          Action    `json:"trustLevel"`
}

// Snapshot computes a PeerInfo for peerName presenting providedKey,
// against the identity store's current records.
func Snapshot(ids *identity.Store, peerName, providedKey string) PeerInfo {
	bare := identity.ExtractName(peerName)

	info := PeerInfo{
		PeerName:       peerName,
		BareName:       bare,
		ProvidedPubKey: providedKey != "",
	}

	var namesForKey []string
	if providedKey != "" {
		namesForKey = ids.NamesForKey(providedKey)
	}
	info.KnownPubKey = len(namesForKey) > 0

	for _, n := range namesForKey {
		if n == bare {
			info.KnownName = true
		} else {
			info.OtherNamesForPubKey = append(info.OtherNamesForPubKey, n)
		}
	}

	if storedKey, ok := ids.Lookup(bare); ok && storedKey != providedKey {
		info.OtherPubKeyForName = storedKey
	}

	info.Category, info.Suspiciousness = categorize(info)
	return info
}

// categorize applies the category table to the computed flags.
func categorize(info PeerInfo) (Category, Suspicion) {
	if info.KnownPubKey {
		if info.KnownName {
			if len(info.OtherNamesForPubKey) == 0 {
				return TheOneAndOnly, SuspicionTrusted
			}
			return KnownWithKnownAliases, SuspicionSlightlyOdd
		}
		if info.OtherPubKeyForName != "" {
			return NameSwapCollision, SuspicionOdd
		}
		if len(info.OtherNamesForPubKey) == 1 {
			return PossibleNameChange, SuspicionSlightlyOdd
		}
		return PossibleSharedPubKey, SuspicionSlightlyOdd
	}

	if info.OtherPubKeyForName != "" {
		return Pretender, SuspicionVeryOdd
	}
	return NeverMet, SuspicionNonSuspicious
}
