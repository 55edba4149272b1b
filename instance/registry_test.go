package instance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/mrtchat/kv/memkv"
)

func TestRegistry_SlotUniqueness(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()

	const n = 5
	regs := make([]*Registry, n)
	slots := make([]int, n)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := New(store, DefaultOptions(), nil)
			slot, err := r.Acquire(ctx)
			require.NoError(t, err)
			mu.Lock()
			regs[i] = r
			slots[i] = slot
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, s := range slots {
		assert.False(t, seen[s], "slot %d assigned twice", s)
		seen[s] = true
	}

	for _, r := range regs {
		require.NoError(t, r.Release(ctx))
	}
}

func TestRegistry_SlotReuse(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()

	r0 := New(store, DefaultOptions(), nil)
	r1 := New(store, DefaultOptions(), nil)
	r2 := New(store, DefaultOptions(), nil)

	s0, err := r0.Acquire(ctx)
	require.NoError(t, err)
	s1, err := r1.Acquire(ctx)
	require.NoError(t, err)
	s2, err := r2.Acquire(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1, 2}, []int{s0, s1, s2})

	require.NoError(t, r1.Release(ctx))

	r3 := New(store, DefaultOptions(), nil)
	s3, err := r3.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, s1, s3)

	require.NoError(t, r0.Release(ctx))
	require.NoError(t, r2.Release(ctx))
	require.NoError(t, r3.Release(ctx))
}

func TestRegistry_EvictsStaleSlots(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()

	require.NoError(t, store.Set(ctx, "tabs", "[0]"))
	require.NoError(t, store.Set(ctx, "slot:0", "1"))

	r := New(store, Options{Timeout: time.Millisecond, PollInterval: time.Hour}, nil)
	slot, err := r.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, slot)
	require.NoError(t, r.Release(ctx))
}
