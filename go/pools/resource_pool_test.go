/*
Copyright 2017 Google Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package pools

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	count  atomic.Int64
	failed atomic.Bool
)

type testResource struct {
	closed bool
	mu     sync.Mutex
}

func (r *testResource) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		panic("resource closed twice")
	}
	r.closed = true
	count.Add(-1)
}

func (r *testResource) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func testFactory() (Resource, error) {
	if failed.Load() {
		return nil, errors.New("factory failed")
	}
	count.Add(1)
	return &testResource{}, nil
}

func resetFactoryState() {
	count.Store(0)
	failed.Store(false)
}

func TestResourcePoolGetPut(t *testing.T) {
	resetFactoryState()
	p := NewResourcePool(testFactory, 5, 5, 0, 0)
	defer p.Close()

	r, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.InUse())
	assert.EqualValues(t, 1, count.Load())

	p.Put(r)
	assert.Equal(t, 0, p.InUse())
	assert.Equal(t, 1, p.Active())

	// The idle resource is reused, not recreated.
	r2, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, r, r2)
	assert.EqualValues(t, 1, count.Load())
	p.Put(r2)
}

// The pool never holds more live resources than its capacity, no matter
// how hard it is hammered.
func TestResourcePoolCapacityInvariant(t *testing.T) {
	resetFactoryState()
	p := NewResourcePool(testFactory, 3, 3, 0, 0)
	defer p.Close()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				r, err := p.Get(context.Background())
				if err != nil {
					continue
				}
				state := p.State()
				assert.LessOrEqual(t, state.InPool+state.InUse, state.Capacity)
				p.Put(r)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, count.Load(), int64(3))
}

func TestResourcePoolBlockingGet(t *testing.T) {
	resetFactoryState()
	p := NewResourcePool(testFactory, 1, 1, 0, 0)
	defer p.Close()

	r, err := p.Get(context.Background())
	require.NoError(t, err)

	// A second Get blocks until the Put.
	got := make(chan Resource)
	go func() {
		r2, err := p.Get(context.Background())
		if err != nil {
			close(got)
			return
		}
		got <- r2
	}()

	select {
	case <-got:
		t.Fatal("Get returned while the pool was empty")
	case <-time.After(20 * time.Millisecond):
	}

	p.Put(r)
	select {
	case r2 := <-got:
		require.NotNil(t, r2)
		p.Put(r2)
	case <-time.After(time.Second):
		t.Fatal("Get did not wake after Put")
	}
	assert.EqualValues(t, 1, p.WaitCount())
}

func TestResourcePoolGetTimeout(t *testing.T) {
	resetFactoryState()
	p := NewResourcePool(testFactory, 1, 1, 0, 0)
	defer p.Close()

	r, err := p.Get(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Get(ctx)
	assert.ErrorIs(t, err, ErrTimeout)

	p.Put(r)
}

func TestResourcePoolFactoryError(t *testing.T) {
	resetFactoryState()
	p := NewResourcePool(testFactory, 2, 2, 0, 0)
	defer p.Close()

	failed.Store(true)
	_, err := p.Get(context.Background())
	require.EqualError(t, err, "factory failed")

	// The failed Get released its slot.
	assert.Equal(t, 0, p.InUse())
	failed.Store(false)
	r, err := p.Get(context.Background())
	require.NoError(t, err)
	p.Put(r)
}

func TestResourcePoolMinActive(t *testing.T) {
	resetFactoryState()
	p := NewResourcePool(testFactory, 5, 5, 0, 3)
	defer p.Close()

	assert.Equal(t, 3, p.Active())
	assert.EqualValues(t, 3, count.Load())
}

func TestResourcePoolMinActiveFactoryError(t *testing.T) {
	resetFactoryState()
	failed.Store(true)
	p := NewResourcePool(testFactory, 5, 5, 0, 3)
	defer p.Close()

	// Construction survives; the pool is just under its minimum.
	assert.Equal(t, 0, p.Active())
}

// The idle sweep never takes the pool below MinActive.
func TestResourcePoolIdleSweepFloor(t *testing.T) {
	resetFactoryState()
	p := NewResourcePool(testFactory, 5, 5, 0, 2)
	defer p.Close()

	// Take out a third resource and return everything, then age the
	// whole inventory past the timeout.
	r, err := p.Get(context.Background())
	require.NoError(t, err)
	r2, err := p.Get(context.Background())
	require.NoError(t, err)
	r3, err := p.Get(context.Background())
	require.NoError(t, err)
	p.Put(r)
	p.Put(r2)
	p.Put(r3)
	require.Equal(t, 3, p.Active())

	p.SetIdleTimeout(time.Nanosecond)
	time.Sleep(time.Millisecond)
	p.closeIdleResources()

	assert.Equal(t, 2, p.Active())
	assert.EqualValues(t, 1, p.IdleClosed())
}

// Checked-out resources do not count toward the floor: the sweep keeps
// MinActive resources idle even while others are in use.
func TestResourcePoolIdleSweepFloorWithInUse(t *testing.T) {
	resetFactoryState()
	p := NewResourcePool(testFactory, 6, 6, 0, 2)
	defer p.Close()

	var held []Resource
	for range 5 {
		r, err := p.Get(context.Background())
		require.NoError(t, err)
		held = append(held, r)
	}
	p.Put(held[0])
	p.Put(held[1])
	p.Put(held[2])
	require.Equal(t, 3, p.State().InPool)
	require.Equal(t, 2, p.InUse())

	p.SetIdleTimeout(time.Nanosecond)
	time.Sleep(time.Millisecond)
	p.closeIdleResources()

	state := p.State()
	assert.Equal(t, 2, state.InPool)
	assert.Equal(t, 2, state.InUse)
	assert.EqualValues(t, 1, p.IdleClosed())

	// At the floor exactly: another sweep evicts nothing.
	p.closeIdleResources()
	assert.Equal(t, 2, p.State().InPool)
	assert.EqualValues(t, 1, p.IdleClosed())

	p.Put(held[3])
	p.Put(held[4])
}

func TestResourcePoolSetCapacity(t *testing.T) {
	resetFactoryState()
	p := NewResourcePool(testFactory, 5, 5, 0, 0)
	defer p.Close()

	var resources []Resource
	for range 5 {
		r, err := p.Get(context.Background())
		require.NoError(t, err)
		resources = append(resources, r)
	}
	for _, r := range resources {
		p.Put(r)
	}
	require.Equal(t, 5, p.Active())

	// Shrinking closes idle resources over the new capacity.
	require.NoError(t, p.SetCapacity(2))
	assert.Equal(t, 2, p.Capacity())
	assert.Equal(t, 2, p.Active())
	assert.EqualValues(t, 2, count.Load())

	// Growing again just raises the limit.
	require.NoError(t, p.SetCapacity(4))
	assert.Equal(t, 4, p.Capacity())
	assert.Equal(t, 2, p.Active())

	// Beyond maxCap or negative is refused.
	assert.Error(t, p.SetCapacity(6))
	assert.Error(t, p.SetCapacity(-1))
}

// A resource put back after a shrink has no slot and gets closed.
func TestResourcePoolShrinkWithResourceInUse(t *testing.T) {
	resetFactoryState()
	p := NewResourcePool(testFactory, 2, 2, 0, 0)
	defer p.Close()

	r1, err := p.Get(context.Background())
	require.NoError(t, err)
	r2, err := p.Get(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.SetCapacity(1))
	p.Put(r1)
	assert.False(t, r1.(*testResource).isClosed())
	p.Put(r2)
	assert.True(t, r2.(*testResource).isClosed())
	assert.EqualValues(t, 1, count.Load())
}

func TestResourcePoolClose(t *testing.T) {
	resetFactoryState()
	p := NewResourcePool(testFactory, 3, 3, 0, 0)

	r, err := p.Get(context.Background())
	require.NoError(t, err)
	p.Put(r)

	p.Close()
	assert.True(t, p.IsClosed())
	assert.EqualValues(t, 0, count.Load())

	_, err = p.Get(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestResourcePoolCloseWakesWaiters(t *testing.T) {
	resetFactoryState()
	p := NewResourcePool(testFactory, 1, 1, 0, 0)

	r, err := p.Get(context.Background())
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := p.Get(context.Background())
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)

	p.Close()
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Close")
	}

	// The straggler still has to be returned; it gets closed on Put.
	p.Put(r)
	assert.True(t, r.(*testResource).isClosed())
}

// A resource delivered to a waiter after the pool closed is discarded
// without leaving its slot claimed.
func TestResourcePoolClosedDeliveryReleasesSlot(t *testing.T) {
	resetFactoryState()
	p := NewResourcePool(testFactory, 1, 1, 0, 0)

	r, err := p.Get(context.Background())
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := p.Get(context.Background())
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)

	// Hand the blocked waiter a resource at the same moment the pool is
	// marked closed, the way a Put racing Close can.
	extra, err := testFactory()
	require.NoError(t, err)
	p.mu.Lock()
	p.state.Closed = true
	p.state.InPool++
	p.mu.Unlock()
	p.pool <- resourceWrapper{resource: extra, timeUsed: time.Now()}

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter did not return")
	}
	assert.True(t, extra.(*testResource).isClosed())

	// Only the original Get still holds a slot.
	assert.Equal(t, 1, p.InUse())
	p.Put(r)
	assert.Equal(t, 0, p.InUse())
	assert.True(t, r.(*testResource).isClosed())
}

func TestResourcePoolPutWithoutGetPanics(t *testing.T) {
	resetFactoryState()
	p := NewResourcePool(testFactory, 1, 1, 0, 0)
	defer p.Close()

	assert.Panics(t, func() { p.Put(&testResource{}) })
}

func TestResourcePoolPutNilReplenishes(t *testing.T) {
	resetFactoryState()
	p := NewResourcePool(testFactory, 2, 2, 0, 1)
	defer p.Close()

	r, err := p.Get(context.Background())
	require.NoError(t, err)

	// The caller closed the resource itself: Put(nil) frees the slot
	// and restores the MinActive floor.
	r.(*testResource).Close()
	p.Put(nil)
	assert.Equal(t, 0, p.InUse())
	assert.Equal(t, 1, p.Active())
}

func TestResourcePoolInvalidConstruction(t *testing.T) {
	assert.Panics(t, func() { NewResourcePool(testFactory, 0, 5, 0, 0) })
	assert.Panics(t, func() { NewResourcePool(testFactory, 6, 5, 0, 0) })
	assert.Panics(t, func() { NewResourcePool(testFactory, 2, 5, 0, 3) })
}

func TestResourcePoolStatsJSON(t *testing.T) {
	resetFactoryState()
	p := NewResourcePool(testFactory, 2, 2, time.Hour, 0)
	defer p.Close()

	stats := p.StatsJSON()
	assert.Contains(t, stats, `"Capacity":2`)
	assert.Contains(t, stats, `"InUse":0`)
}
