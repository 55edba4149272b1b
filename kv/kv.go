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

// Package kv defines the shared key-value store contract used by the
// InstanceRegistry and Identity Store as their only arbiter
// across concurrently running instances.
package kv

import "context"

// Store is the external KV store contract: getItem/setItem/removeItem/
// clear/key/length, realized with a context for adapters (pgkv) that
// cross a network boundary.
type Store interface {
	// Get returns the value for key, or ("", false) if absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key, overwriting any existing value.
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// Clear removes every key.
	Clear(ctx context.Context) error
	// Keys returns every key currently stored. Order is unspecified.
	Keys(ctx context.Context) ([]string, error)
	// Len returns the number of keys currently stored.
	Len(ctx context.Context) (int, error)
}

// Well-known keys, per the external interfaces contract.
const (
	KeyRTCName           = "rtchat_name"
	KeyName              = "name"
	KeyPrivateKeyString  = "privateKeyString"
	KeyPublicKeyString   = "publicKeyString"
	KeyKnownHostsStrings = "knownHostsStrings"
	KeyTabs              = "tabs"
)

// SlotKey returns the heartbeat key for instance slot n.
func SlotKey(n int) string {
	return "slot:" + itoa(n)
}

// LegacySlotKey returns the heartbeat key older instances wrote for
// slot n; the registry still reads and evicts it.
func LegacySlotKey(n int) string {
	return "tabpoll_" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
