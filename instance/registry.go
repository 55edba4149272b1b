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

// Package instance implements the InstanceRegistry: a stable,
// collision-free small integer assigned to each local instance sharing
// a kv.Store, via optimistic read-modify-write with post-write
// verification.
package instance

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sage-x-project/mrtchat/errs"
	"github.com/sage-x-project/mrtchat/internal/logger"
	"github.com/sage-x-project/mrtchat/internal/metrics"
	"github.com/sage-x-project/mrtchat/kv"
)

const maxRetries = 10

// Options configures a Registry.
type Options struct {
	Timeout      time.Duration // heartbeat staleness cutoff, default 300s
	PollInterval time.Duration // refresh cadence, default 250ms
}

// DefaultOptions returns the stock heartbeat timings.
func DefaultOptions() Options {
	return Options{
		Timeout:      300 * time.Second,
		PollInterval: 250 * time.Millisecond,
	}
}

// Registry assigns and maintains this process's instance slot.
type Registry struct {
	store  kv.Store
	opts   Options
	log    logger.Logger

	mu      sync.Mutex
	slot    int
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a Registry bound to store. Acquire must be called to obtain
// a slot before Slot() is meaningful.
func New(store kv.Store, opts Options, log logger.Logger) *Registry {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	return &Registry{store: store, opts: opts, log: log, slot: -1}
}

// Acquire evicts stale slots, then attempts to claim the smallest free
// slot up to maxRetries times.
func (r *Registry) Acquire(ctx context.Context) (int, error) {
	if err := r.evictStale(ctx); err != nil {
		r.log.Warn("instance: evict stale slots failed", logger.Error(err))
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		list, err := r.readList(ctx)
		if err != nil {
			return 0, errs.Wrap(errs.InstanceAcquisitionFailed, "read slot list", err)
		}

		candidate := firstGap(list)

		list = append(list, candidate)
		if err := r.writeList(ctx, list); err != nil {
			return 0, errs.Wrap(errs.InstanceAcquisitionFailed, "write slot list", err)
		}

		verify, err := r.readList(ctx)
		if err != nil {
			return 0, errs.Wrap(errs.InstanceAcquisitionFailed, "verify slot list", err)
		}
		if count(verify, candidate) == 1 {
			if err := r.store.Set(ctx, kv.SlotKey(candidate), now()); err != nil {
				return 0, errs.Wrap(errs.InstanceAcquisitionFailed, "write heartbeat", err)
			}
			metrics.InstanceSlotAcquisitions.WithLabelValues("acquired").Inc()

			r.mu.Lock()
			r.slot = candidate
			r.started = true
			r.stop = make(chan struct{})
			r.done = make(chan struct{})
			r.mu.Unlock()

			go r.heartbeatLoop(candidate)
			return candidate, nil
		}

		// Someone else also claimed this candidate: remove our append and retry.
		metrics.InstanceSlotAcquisitions.WithLabelValues("retried").Inc()
		_ = r.writeList(ctx, removeFirst(list, candidate))
	}

	metrics.InstanceSlotAcquisitions.WithLabelValues("exhausted").Inc()
	return 0, errs.New(errs.InstanceAcquisitionFailed, "exhausted retry budget")
}

// Slot returns the currently held slot, or -1 if none is held.
func (r *Registry) Slot() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slot
}

// Release removes this instance's slot and stops the heartbeat.
func (r *Registry) Release(ctx context.Context) error {
	r.mu.Lock()
	slot := r.slot
	started := r.started
	stop := r.stop
	done := r.done
	r.started = false
	r.slot = -1
	r.mu.Unlock()

	if started {
		close(stop)
		<-done
	}
	if slot < 0 {
		return nil
	}

	list, err := r.readList(ctx)
	if err != nil {
		return err
	}
	if err := r.writeList(ctx, removeFirst(list, slot)); err != nil {
		return err
	}
	return r.store.Remove(ctx, kv.SlotKey(slot))
}

func (r *Registry) heartbeatLoop(slot int) {
	r.mu.Lock()
	stop := r.stop
	done := r.done
	r.mu.Unlock()

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	defer close(done)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := r.store.Set(context.Background(), kv.SlotKey(slot), now()); err != nil {
				r.log.Warn("instance: heartbeat write failed", logger.Error(err))
			}
			metrics.InstancesActive.Set(float64(r.countActive(context.Background())))
		}
	}
}

func (r *Registry) countActive(ctx context.Context) int {
	list, err := r.readList(ctx)
	if err != nil {
		return 0
	}
	return len(list)
}

// evictStale removes any listed slot whose heartbeat is missing,
// malformed, or older than Timeout.
func (r *Registry) evictStale(ctx context.Context) error {
	list, err := r.readList(ctx)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-r.opts.Timeout)
	var live []int
	for _, slot := range list {
		raw, ok, err := r.store.Get(ctx, kv.SlotKey(slot))
		if err == nil && !ok {
			// Fall back to the heartbeat key older instances wrote.
			raw, ok, err = r.store.Get(ctx, kv.LegacySlotKey(slot))
		}
		if err != nil || !ok {
			metrics.InstanceSlotEvictions.Inc()
			_ = r.store.Remove(ctx, kv.SlotKey(slot))
			_ = r.store.Remove(ctx, kv.LegacySlotKey(slot))
			continue
		}
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			metrics.InstanceSlotEvictions.Inc()
			_ = r.store.Remove(ctx, kv.SlotKey(slot))
			_ = r.store.Remove(ctx, kv.LegacySlotKey(slot))
			continue
		}
		if time.UnixMilli(ms).Before(cutoff) {
			metrics.InstanceSlotEvictions.Inc()
			_ = r.store.Remove(ctx, kv.SlotKey(slot))
			_ = r.store.Remove(ctx, kv.LegacySlotKey(slot))
			continue
		}
		live = append(live, slot)
	}

	return r.writeList(ctx, live)
}

func (r *Registry) readList(ctx context.Context) ([]int, error) {
	raw, ok, err := r.store.Get(ctx, kv.KeyTabs)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var list []int
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, nil // malformed list is treated as empty, not fatal
	}
	return list, nil
}

func (r *Registry) writeList(ctx context.Context, list []int) error {
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, kv.KeyTabs, string(data))
}

func firstGap(list []int) int {
	sorted := append([]int(nil), list...)
	sort.Ints(sorted)
	next := 0
	for _, v := range sorted {
		if v == next {
			next++
		} else if v > next {
			break
		}
	}
	return next
}

func count(list []int, v int) int {
	n := 0
	for _, x := range list {
		if x == v {
			n++
		}
	}
	return n
}

func removeFirst(list []int, v int) []int {
	out := make([]int, 0, len(list))
	removed := false
	for _, x := range list {
		if !removed && x == v {
			removed = true
			continue
		}
		out = append(out, x)
	}
	return out
}

func now() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}
