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

package futures

import "sync"

// CorrelationTable maps request ids to pending OneShot futures. Entries
// are created on send, resolved on matching receipt, and cancelled in
// bulk when the owning session closes.
type CorrelationTable[K comparable, T any] struct {
	mu      sync.Mutex
	pending map[K]*OneShot[T]
}

// NewCorrelationTable creates an empty table.
func NewCorrelationTable[K comparable, T any]() *CorrelationTable[K, T] {
	return &CorrelationTable[K, T]{pending: make(map[K]*OneShot[T])}
}

// Add registers a new pending future under id.
func (t *CorrelationTable[K, T]) Add(id K) *OneShot[T] {
	o := NewOneShot[T]()
	t.mu.Lock()
	t.pending[id] = o
	t.mu.Unlock()
	return o
}

// Resolve settles and removes the future registered under id. It
// returns false if no future was pending for id.
func (t *CorrelationTable[K, T]) Resolve(id K, val T) bool {
	t.mu.Lock()
	o, ok := t.pending[id]
	delete(t.pending, id)
	t.mu.Unlock()
	if !ok {
		return false
	}
	o.Resolve(val)
	return true
}

// Len returns the number of currently pending entries.
func (t *CorrelationTable[K, T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// CancelAll fails every pending future with err and clears the table.
func (t *CorrelationTable[K, T]) CancelAll(err error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[K]*OneShot[T])
	t.mu.Unlock()
	for _, o := range pending {
		o.Fail(err)
	}
}
