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

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOneShot_ResolveOnce(t *testing.T) {
	o := NewOneShot[int]()
	assert.False(t, o.Settled())

	o.Resolve(42)
	o.Resolve(7) // second settle is a no-op
	o.Fail(errors.New("late"))

	val, err := o.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.True(t, o.Settled())
}

func TestOneShot_AwaitRespectsContext(t *testing.T) {
	o := NewOneShot[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := o.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCorrelationTable_ResolveRemovesEntry(t *testing.T) {
	table := NewCorrelationTable[uint64, string]()
	o := table.Add(1)
	require.Equal(t, 1, table.Len())

	assert.True(t, table.Resolve(1, "answer"))
	assert.Equal(t, 0, table.Len())

	val, err := o.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "answer", val)

	assert.False(t, table.Resolve(1, "again"), "resolved id must be gone")
}

func TestCorrelationTable_CancelAll(t *testing.T) {
	table := NewCorrelationTable[uint64, string]()
	a := table.Add(1)
	b := table.Add(2)

	cancelErr := errors.New("session closed")
	table.CancelAll(cancelErr)
	assert.Equal(t, 0, table.Len())

	_, err := a.Await(context.Background())
	assert.ErrorIs(t, err, cancelErr)
	_, err = b.Await(context.Background())
	assert.ErrorIs(t, err, cancelErr)
}
