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

/*
Package dbconnpool exposes a single DBConnection object
with wrapped access to a single DB connection, and a ConnectionPool
object to pool these DBConnections.
*/
package dbconnpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"vitess.io/mysqlwire/go/mysql"
	"vitess.io/mysqlwire/go/pools"
)

// ErrConnPoolClosed is returned if the connection pool is closed.
var ErrConnPoolClosed = errors.New("connection pool is closed")

// ConnectionPool re-exposes ResourcePool as a pool of
// PooledDBConnection objects.
type ConnectionPool struct {
	mu          sync.Mutex
	connections *pools.ResourcePool

	name        string
	capacity    int
	idleTimeout time.Duration
	minActive   int

	// maxLifetime is how long a connection may live before it is
	// discarded on Recycle, 0 meaning forever.
	maxLifetime time.Duration

	// resetOnGet makes Get hand out connections with a freshly reset
	// session, at the cost of one extra round trip per Get.
	resetOnGet bool

	// info is set at Open() time
	info *mysql.ConnParams
}

// NewConnectionPool creates a new ConnectionPool. The name is used to
// label stats and logs only. minActive connections are established up
// front at Open() and kept through idle sweeps.
func NewConnectionPool(name string, capacity int, idleTimeout time.Duration, minActive int) *ConnectionPool {
	return &ConnectionPool{
		name:        name,
		capacity:    capacity,
		idleTimeout: idleTimeout,
		minActive:   minActive,
	}
}

// SetConnectionLifetime caps how long pooled connections live. Expired
// connections are replaced when they are recycled.
func (cp *ConnectionPool) SetConnectionLifetime(lifetime time.Duration) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.maxLifetime = lifetime
}

// SetResetSessionOnGet makes every Get reset the connection session
// state before handing it out.
func (cp *ConnectionPool) SetResetSessionOnGet(reset bool) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.resetOnGet = reset
}

func (cp *ConnectionPool) shouldResetOnGet() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.resetOnGet
}

func (cp *ConnectionPool) pool() (p *pools.ResourcePool) {
	cp.mu.Lock()
	p = cp.connections
	cp.mu.Unlock()
	return p
}

// Open must be called before starting to use the pool.
//
// For instance:
// pool := dbconnpool.NewConnectionPool("name", 10, 30*time.Second, 0)
// pool.Open(info)
// ...
// conn, err := pool.Get(ctx)
// ...
func (cp *ConnectionPool) Open(info *mysql.ConnParams) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.info = info
	cp.connections = pools.NewResourcePool(cp.connect, cp.capacity, cp.capacity, cp.idleTimeout, cp.minActive)
}

// connect is used by the resource pool to create a new Resource.
func (cp *ConnectionPool) connect() (pools.Resource, error) {
	c, err := NewDBConnection(context.Background(), cp.info)
	if err != nil {
		return nil, err
	}
	return &PooledDBConnection{
		DBConnection: c,
		timeCreated:  time.Now(),
		pool:         cp,
	}, nil
}

// Close will close the pool and wait for connections to be returned
// before exiting.
func (cp *ConnectionPool) Close() {
	p := cp.pool()
	if p == nil {
		return
	}
	// Not holding the lock while calling Close, because it waits for
	// connections to be returned.
	p.Close()
	cp.mu.Lock()
	cp.connections = nil
	cp.mu.Unlock()
}

// Get returns a connection, validated with a ping; a dead connection
// is replaced in place before it is handed out.
// You must call Recycle on the PooledDBConnection once done.
func (cp *ConnectionPool) Get(ctx context.Context) (*PooledDBConnection, error) {
	p := cp.pool()
	if p == nil {
		return nil, ErrConnPoolClosed
	}
	r, err := p.Get(ctx)
	if err != nil {
		return nil, err
	}
	conn := r.(*PooledDBConnection)
	if err := conn.Validate(ctx); err != nil {
		conn.Close()
		p.Put(nil)
		return nil, err
	}
	if cp.shouldResetOnGet() {
		if err := conn.ResetSession(ctx); err != nil {
			// The session is suspect; replace the connection in
			// place rather than handing it out.
			if rerr := conn.Reconnect(ctx); rerr != nil {
				conn.Close()
				p.Put(nil)
				return nil, rerr
			}
		}
	}
	return conn, nil
}

// Put puts a connection into the pool.
func (cp *ConnectionPool) Put(conn *PooledDBConnection) {
	p := cp.pool()
	if p == nil {
		panic(ErrConnPoolClosed)
	}
	if conn == nil {
		// conn has a type, if we just Put(conn), we end up
		// putting an interface with a nil value, that is not
		// equal to a nil value. So just put a plain nil.
		p.Put(nil)
		return
	}
	p.Put(conn)
}

// SetCapacity alters the size of the pool at runtime.
func (cp *ConnectionPool) SetCapacity(capacity int) (err error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.connections != nil {
		err = cp.connections.SetCapacity(capacity)
		if err != nil {
			return err
		}
	}
	cp.capacity = capacity
	return nil
}

// SetIdleTimeout sets the idleTimeout on the pool.
func (cp *ConnectionPool) SetIdleTimeout(idleTimeout time.Duration) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.connections != nil {
		cp.connections.SetIdleTimeout(idleTimeout)
	}
	cp.idleTimeout = idleTimeout
}

// StatsJSON returns the pool stats as a JSON object.
func (cp *ConnectionPool) StatsJSON() string {
	p := cp.pool()
	if p == nil {
		return "{}"
	}
	return p.StatsJSON()
}

// Capacity returns the pool capacity.
func (cp *ConnectionPool) Capacity() int {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.Capacity()
}

// Available returns the number of available connections in the pool.
func (cp *ConnectionPool) Available() int {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.Available()
}

// Active returns the number of active connections in the pool.
func (cp *ConnectionPool) Active() int {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.Active()
}

// InUse returns the number of in-use connections in the pool.
func (cp *ConnectionPool) InUse() int {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.InUse()
}

// MaxCap returns the maximum size of the pool.
func (cp *ConnectionPool) MaxCap() int {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.MaxCap()
}

// WaitCount returns how many times a Get had to wait for a connection.
func (cp *ConnectionPool) WaitCount() int64 {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.WaitCount()
}

// WaitTime returns the pool WaitTime.
func (cp *ConnectionPool) WaitTime() time.Duration {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.WaitTime()
}

// IdleTimeout returns the idle timeout for the pool.
func (cp *ConnectionPool) IdleTimeout() time.Duration {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.IdleTimeout()
}

// IdleClosed returns the number of connections closed due to idle timeout.
func (cp *ConnectionPool) IdleClosed() int64 {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.IdleClosed()
}
