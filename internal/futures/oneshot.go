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

// Package futures provides the one-shot future and correlation table
// used for async coordination: resolve on event, cancel on session
// close.
package futures

import (
	"context"
	"sync"
)

// OneShot is a future that resolves exactly once with a value or an
// error. Resolving or failing an already-settled OneShot is a no-op.
type OneShot[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

// NewOneShot creates an unresolved OneShot.
func NewOneShot[T any]() *OneShot[T] {
	return &OneShot[T]{done: make(chan struct{})}
}

// Resolve settles the future with val.
func (o *OneShot[T]) Resolve(val T) {
	o.once.Do(func() {
		o.val = val
		close(o.done)
	})
}

// Fail settles the future with err.
func (o *OneShot[T]) Fail(err error) {
	o.once.Do(func() {
		o.err = err
		close(o.done)
	})
}

// Done returns a channel closed once the future settles.
func (o *OneShot[T]) Done() <-chan struct{} { return o.done }

// Settled reports whether the future has been resolved or failed.
func (o *OneShot[T]) Settled() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// Await blocks until the future settles or ctx is done.
func (o *OneShot[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-o.done:
		return o.val, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
