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

package identity

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/sage-x-project/mrtchat/errs"
	"github.com/sage-x-project/mrtchat/internal/metrics"
	"github.com/sage-x-project/mrtchat/kv"
)

// ExtractName derives a bare name from any peer string by splitting on
// "|" (take prefix), then on "(" (take prefix), then trimming.
func ExtractName(raw string) string {
	name := raw
	if i := strings.Index(name, "|"); i >= 0 {
		name = name[:i]
	}
	if i := strings.Index(name, "("); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}

// Store is the Identity Store: a persisted name -> publicKeyString
// map with a derived, in-memory key -> names reverse index.
type Store struct {
	kv kv.Store

	mu       sync.RWMutex
	names    map[string]string   // name -> publicKeyString
	byKey    map[string][]string // publicKeyString -> names, derived
	ownKeys  *KeyPair
}

// New loads a Store from the given kv.Store, excluding any persisted
// name with the "anon" prefix.
func New(ctx context.Context, store kv.Store) (*Store, error) {
	s := &Store{kv: store, names: make(map[string]string), byKey: make(map[string][]string)}

	raw, ok, err := store.Get(ctx, kv.KeyKnownHostsStrings)
	if err != nil {
		return nil, err
	}
	if ok && raw != "" {
		var loaded map[string]string
		if err := json.Unmarshal([]byte(raw), &loaded); err == nil {
			for name, key := range loaded {
				if strings.HasPrefix(name, "anon") {
					continue
				}
				s.names[name] = key
				s.byKey[key] = append(s.byKey[key], name)
			}
		}
	}

	if rawPriv, ok, err := store.Get(ctx, kv.KeyPrivateKeyString); err == nil && ok {
		if kp, err := ImportKeyPair(rawPriv); err == nil {
			s.ownKeys = kp
		}
	}

	metrics.KnownPeers.Set(float64(len(s.names)))
	return s, nil
}

// OwnKeyPair returns the local node's own identity key pair, generating
// and persisting one on first use.
func (s *Store) OwnKeyPair(ctx context.Context) (*KeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ownKeys != nil {
		return s.ownKeys, nil
	}

	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	jwk, err := MarshalJWK(kp.ExportJWK())
	if err != nil {
		return nil, err
	}
	if err := s.kv.Set(ctx, kv.KeyPrivateKeyString, jwk); err != nil {
		return nil, err
	}
	pubJWK, err := MarshalJWK(kp.ExportPublicJWK())
	if err != nil {
		return nil, err
	}
	if err := s.kv.Set(ctx, kv.KeyPublicKeyString, pubJWK); err != nil {
		return nil, err
	}
	s.ownKeys = kp
	return kp, nil
}

// Lookup returns the persisted public key string for name.
func (s *Store) Lookup(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.names[ExtractName(name)]
	return key, ok
}

// NamesForKey returns every name currently bound to the given public
// key string.
func (s *Store) NamesForKey(key string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.byKey[key]...)
}

// Save binds name -> key. It is rejected with KeyAlreadyBound if key is
// already bound to a different set of names; callers
// that intend to rebind (the trust path's single-owner overwrite) must
// call Remove on the prior names first.
func (s *Store) Save(ctx context.Context, name, key string) error {
	name = ExtractName(name)

	s.mu.Lock()

	if existing, ok := s.names[name]; ok && existing == key {
		s.mu.Unlock()
		return nil // idempotent re-save
	}

	if owners := s.byKey[key]; len(owners) > 0 && !containsOnly(owners, name) {
		s.mu.Unlock()
		return errs.New(errs.KeyAlreadyBound, "public key already bound to other names")
	}

	if oldKey, ok := s.names[name]; ok {
		s.byKey[oldKey] = removeName(s.byKey[oldKey], name)
	}

	s.names[name] = key
	if !contains(s.byKey[key], name) {
		s.byKey[key] = append(s.byKey[key], name)
	}

	metrics.KnownPeers.Set(float64(len(s.names)))
	s.mu.Unlock()

	return s.persist(ctx)
}

// Remove deletes name's binding entirely, used by the trust path before
// rebinding a key to a new single owner.
func (s *Store) Remove(ctx context.Context, name string) error {
	name = ExtractName(name)

	s.mu.Lock()
	key, ok := s.names[name]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.names, name)
	s.byKey[key] = removeName(s.byKey[key], name)
	metrics.KnownPeers.Set(float64(len(s.names)))
	s.mu.Unlock()

	return s.persist(ctx)
}

// Rename moves a binding from oldName to newName atomically, preserving
// the bound key, for the nameChange subtopic handler.
func (s *Store) Rename(ctx context.Context, oldName, newName string) error {
	oldName, newName = ExtractName(oldName), ExtractName(newName)

	s.mu.Lock()
	key, ok := s.names[oldName]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.names, oldName)
	s.byKey[key] = removeName(s.byKey[key], oldName)
	s.names[newName] = key
	if !contains(s.byKey[key], newName) {
		s.byKey[key] = append(s.byKey[key], newName)
	}
	s.mu.Unlock()

	return s.persist(ctx)
}

// Reset clears the own key pair and all host records.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.names = make(map[string]string)
	s.byKey = make(map[string][]string)
	s.ownKeys = nil
	s.mu.Unlock()

	metrics.KnownPeers.Set(0)

	if err := s.kv.Remove(ctx, kv.KeyPrivateKeyString); err != nil {
		return err
	}
	if err := s.kv.Remove(ctx, kv.KeyPublicKeyString); err != nil {
		return err
	}
	return s.kv.Remove(ctx, kv.KeyKnownHostsStrings)
}

// persist must be called without s.mu held: it takes the read lock
// itself, then writes the full names map as one JSON blob.
func (s *Store) persist(ctx context.Context) error {
	s.mu.RLock()
	data, err := json.Marshal(s.names)
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, kv.KeyKnownHostsStrings, string(data))
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsOnly(list []string, v string) bool {
	return len(list) == 1 && list[0] == v
}

func removeName(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
