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

// Package pools provides functionality to manage and reuse resources
// like connections.
package pools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrClosed is returned if ResourcePool is used when it's closed.
	ErrClosed = errors.New("resource pool is closed")

	// ErrTimeout is returned if a resource get times out.
	ErrTimeout = errors.New("resource pool timed out")
)

// Factory is a function that can be used to create a resource.
type Factory func() (Resource, error)

// Resource defines the interface that every resource must provide.
// Thread synchronization between Close() and IsClosed()
// is the responsibility of the caller.
type Resource interface {
	Close()
}

// ResourcePool allows you to use a pool of resources.
//
// The invariant held at all times: InPool + InUse <= Capacity. Get
// blocks when the pool is at capacity with nothing idle; Put returns a
// slot which wakes one waiter.
type ResourcePool struct {
	mu sync.Mutex

	factory Factory

	// state contains settings, inventory counts, and statistics of
	// the pool. Guarded by mu.
	state State

	// pool contains idle resources.
	pool chan resourceWrapper

	// stop terminates the idle-sweep goroutine.
	stop chan struct{}

	stopOnce sync.Once
}

// State describes the settings, inventory and statistics of the pool
// at one point in time.
type State struct {
	Waiters   int
	InPool    int
	InUse     int
	Capacity  int
	MinActive int
	Closed    bool

	IdleTimeout time.Duration

	// IdleClosed tracks the number of resources closed due to being idle.
	IdleClosed int64

	// WaitCount contains the number of times Get() had to block and wait
	// for a resource.
	WaitCount int64

	// WaitTime tracks the total time waiting for a resource.
	WaitTime time.Duration
}

type resourceWrapper struct {
	resource Resource
	timeUsed time.Time
}

// NewResourcePool creates a new ResourcePool pool.
// capacity is the number of possible resources in the pool:
// there can be up to 'capacity' of these at a given time.
// maxCap specifies the extent to which the pool can be resized
// in the future through the SetCapacity function.
// You cannot resize the pool beyond maxCap.
// If a resource is unused beyond idleTimeout, it's discarded.
// An idleTimeout of 0 means that there is no timeout.
//
// minActive is used to prepare and maintain a minimum amount
// of active resources. Any errors when instantiating the factory
// will cause the active resource count to be lower than requested.
func NewResourcePool(factory Factory, capacity, maxCap int, idleTimeout time.Duration, minActive int) *ResourcePool {
	if capacity <= 0 || maxCap <= 0 || capacity > maxCap {
		panic(errors.New("invalid/out of range capacity"))
	}
	if minActive > capacity {
		panic(fmt.Errorf("minActive %v higher than capacity %v", minActive, capacity))
	}

	rp := &ResourcePool{
		factory: factory,
		pool:    make(chan resourceWrapper, maxCap),
		stop:    make(chan struct{}),
	}
	rp.state = State{
		Capacity:    capacity,
		MinActive:   minActive,
		IdleTimeout: idleTimeout,
	}

	rp.ensureMinimumActive()

	if idleTimeout != 0 {
		go rp.idleSweep(idleTimeout / 10)
	}
	return rp
}

// ensureMinimumActive creates the MinActive resources up front,
// concurrently. Factory errors leave the pool below the minimum
// rather than failing construction.
func (rp *ResourcePool) ensureMinimumActive() {
	rp.mu.Lock()
	want := rp.state.MinActive - (rp.state.InPool + rp.state.InUse)
	if want <= 0 || rp.state.Closed {
		rp.mu.Unlock()
		return
	}
	rp.state.InPool += want
	rp.mu.Unlock()

	var g errgroup.Group
	for i := 0; i < want; i++ {
		g.Go(func() error {
			r, err := rp.factory()
			if err != nil {
				rp.mu.Lock()
				rp.state.InPool--
				rp.mu.Unlock()
				return nil
			}
			rp.pool <- resourceWrapper{resource: r, timeUsed: time.Now()}
			return nil
		})
	}
	_ = g.Wait()
}

// Get will return the next available resource. If capacity
// has not been reached, it will create a new one using the factory.
// Otherwise, it will wait till the next resource becomes available or
// the context expires. A context expiry returns ErrTimeout.
func (rp *ResourcePool) Get(ctx context.Context) (Resource, error) {
	for {
		rp.mu.Lock()
		if rp.state.Closed {
			rp.mu.Unlock()
			return nil, ErrClosed
		}

		// Idle resource available.
		select {
		case wrapper := <-rp.pool:
			rp.state.InPool--
			rp.state.InUse++
			rp.mu.Unlock()
			return wrapper.resource, nil
		default:
		}

		// Room to create a new one.
		if rp.state.InPool+rp.state.InUse < rp.state.Capacity {
			rp.state.InUse++
			rp.mu.Unlock()
			r, err := rp.factory()
			if err != nil {
				rp.mu.Lock()
				rp.state.InUse--
				rp.mu.Unlock()
				return nil, err
			}
			return r, nil
		}

		// At capacity: wait for a Put or the context.
		rp.state.Waiters++
		rp.state.WaitCount++
		rp.mu.Unlock()

		start := time.Now()
		select {
		case wrapper := <-rp.pool:
			rp.mu.Lock()
			rp.state.Waiters--
			rp.state.WaitTime += time.Since(start)
			rp.state.InPool--
			if rp.state.Closed {
				rp.mu.Unlock()
				wrapper.resource.Close()
				return nil, ErrClosed
			}
			rp.state.InUse++
			rp.mu.Unlock()
			return wrapper.resource, nil
		case <-ctx.Done():
			rp.mu.Lock()
			rp.state.Waiters--
			rp.state.WaitTime += time.Since(start)
			rp.mu.Unlock()
			return nil, ErrTimeout
		case <-rp.stop:
			rp.mu.Lock()
			rp.state.Waiters--
			rp.mu.Unlock()
			return nil, ErrClosed
		}
	}
}

// Put will return a resource to the pool. For every successful Get,
// a corresponding Put is required. If you no longer need a resource,
// you will need to call Put(nil) instead of returning the closed resource.
func (rp *ResourcePool) Put(resource Resource) {
	rp.mu.Lock()
	if rp.state.InUse <= 0 {
		rp.mu.Unlock()
		panic(errors.New("attempt to Put into a full ResourcePool"))
	}
	rp.state.InUse--

	if resource == nil {
		rp.mu.Unlock()
		rp.ensureMinimumActive()
		return
	}

	// Over capacity (after a SetCapacity shrink) or closed: the
	// resource has no slot to go back to.
	if rp.state.Closed || rp.state.InPool+rp.state.InUse >= rp.state.Capacity {
		rp.mu.Unlock()
		resource.Close()
		return
	}

	rp.state.InPool++
	rp.mu.Unlock()
	rp.pool <- resourceWrapper{resource: resource, timeUsed: time.Now()}
}

// SetCapacity changes the capacity of the pool.
// You can use it to shrink or expand, but not beyond
// the max capacity. If the change requires the pool
// to be shrunk, SetCapacity closes whatever idle resources
// are over the new capacity; in-use resources over the new
// capacity are closed as they come back.
func (rp *ResourcePool) SetCapacity(capacity int) error {
	rp.mu.Lock()
	if rp.state.Closed {
		rp.mu.Unlock()
		return ErrClosed
	}
	if capacity < 0 || capacity > cap(rp.pool) {
		rp.mu.Unlock()
		return fmt.Errorf("capacity %d is out of range", capacity)
	}

	rp.state.Capacity = capacity

	// Collect the idle victims under the lock, close them outside it.
	var victims []Resource
	for rp.state.InPool+rp.state.InUse > capacity {
		select {
		case wrapper := <-rp.pool:
			rp.state.InPool--
			victims = append(victims, wrapper.resource)
		default:
		}
		if len(victims) == 0 {
			// Nothing idle to evict: the rest are in use and will
			// be closed on Put.
			break
		}
		if rp.state.InPool+rp.state.InUse <= capacity {
			break
		}
	}
	rp.mu.Unlock()

	for _, r := range victims {
		r.Close()
	}
	return nil
}

// Close empties the pool calling Close on all its resources.
// It waits for all resources to be returned (Put).
func (rp *ResourcePool) Close() {
	_ = rp.SetCapacity(0)

	rp.mu.Lock()
	rp.state.Closed = true
	rp.mu.Unlock()
	rp.stopOnce.Do(func() { close(rp.stop) })

	// Drain whatever is idle now; late Puts close their own resource.
	for {
		select {
		case wrapper := <-rp.pool:
			rp.mu.Lock()
			rp.state.InPool--
			rp.mu.Unlock()
			wrapper.resource.Close()
		default:
			return
		}
	}
}

// IsClosed returns true if the resource pool is closed.
func (rp *ResourcePool) IsClosed() bool {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.state.Closed
}

// SetIdleTimeout sets the idle timeout for resources. The sweep
// interval stays derived from the timeout set at construction.
func (rp *ResourcePool) SetIdleTimeout(idleTimeout time.Duration) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.state.IdleTimeout = idleTimeout
}

// idleSweep periodically closes resources that have been idle too
// long, but never takes the idle count below MinActive.
func (rp *ResourcePool) idleSweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-rp.stop:
			return
		case <-ticker.C:
			rp.closeIdleResources()
		}
	}
}

// closeIdleResources scans the idle inventory once. Resources past the
// idle timeout are closed, the rest are put back untouched. The idle
// inventory floors at MinActive; checked-out resources do not count
// toward the floor, otherwise a busy pool could be swept empty.
func (rp *ResourcePool) closeIdleResources() {
	rp.mu.Lock()
	timeout := rp.state.IdleTimeout
	candidates := rp.state.InPool
	rp.mu.Unlock()
	if timeout == 0 {
		return
	}

	var victims []Resource
	for i := 0; i < candidates; i++ {
		var wrapper resourceWrapper
		select {
		case wrapper = <-rp.pool:
		default:
			break
		}
		if wrapper.resource == nil {
			break
		}

		rp.mu.Lock()
		expired := time.Since(wrapper.timeUsed) > timeout &&
			rp.state.InPool > rp.state.MinActive
		if expired {
			rp.state.InPool--
			rp.state.IdleClosed++
			victims = append(victims, wrapper.resource)
			rp.mu.Unlock()
			continue
		}
		rp.mu.Unlock()
		rp.pool <- wrapper
	}

	for _, r := range victims {
		r.Close()
	}
}

// StatsJSON returns the stats in JSON format.
func (rp *ResourcePool) StatsJSON() string {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	b, err := json.Marshal(rp.state)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// State returns a copy of the current pool state.
func (rp *ResourcePool) State() State {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.state
}

// Capacity returns the capacity.
func (rp *ResourcePool) Capacity() int {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.state.Capacity
}

// Available returns the number of currently unused and available resources.
func (rp *ResourcePool) Available() int {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.state.Capacity - rp.state.InUse
}

// Active returns the number of active (i.e. non-nil) resources either in the
// pool or claimed for use.
func (rp *ResourcePool) Active() int {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.state.InPool + rp.state.InUse
}

// InUse returns the number of claimed resources from the pool.
func (rp *ResourcePool) InUse() int {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.state.InUse
}

// MaxCap returns the max capacity.
func (rp *ResourcePool) MaxCap() int {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return cap(rp.pool)
}

// WaitCount returns the total number of waits.
func (rp *ResourcePool) WaitCount() int64 {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.state.WaitCount
}

// WaitTime returns the total wait time.
func (rp *ResourcePool) WaitTime() time.Duration {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.state.WaitTime
}

// IdleTimeout returns the resource idle timeout.
func (rp *ResourcePool) IdleTimeout() time.Duration {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.state.IdleTimeout
}

// IdleClosed returns the count of resources closed due to idle timeout.
func (rp *ResourcePool) IdleClosed() int64 {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.state.IdleClosed
}
