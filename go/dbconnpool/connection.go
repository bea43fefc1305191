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

package dbconnpool

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"

	"vitess.io/mysqlwire/go/mysql"
	"vitess.io/mysqlwire/go/mysql/sqlerror"
)

// DBConnection re-exposes mysql.Conn with some wrapping to implement
// the pool validation and reconnect behavior.
type DBConnection struct {
	*mysql.Conn
	info *mysql.ConnParams
}

// NewDBConnection returns a new DBConnection based on the ConnParams
// and will use the provided stats to collect timing.
func NewDBConnection(ctx context.Context, info *mysql.ConnParams) (*DBConnection, error) {
	c, err := mysql.Connect(ctx, info)
	if err != nil {
		return nil, err
	}
	dbc := &DBConnection{Conn: c, info: info}
	dbc.cacheServerSettings()
	return dbc, nil
}

// cacheServerSettings reads the session limits once per connection so
// the packet layer can reject oversized writes locally. Best effort: a
// server that refuses the query just leaves the defaults in place.
func (dbc *DBConnection) cacheServerSettings() {
	qr, err := dbc.Conn.ExecuteFetch("select @@max_allowed_packet", 1, false)
	if err != nil {
		glog.Warningf("cannot fetch max_allowed_packet, keeping default: %v", err)
		return
	}
	if max, err := qr.Uint64Value(0, 0); err == nil {
		dbc.Conn.SetMaxAllowedPacket(uint32(max))
	}
}

// ExecuteFetch executes the query on the connection, reconnecting once
// if the server has torn the session down underneath us (e.g. error
// 4031, the server-side interaction timeout).
func (dbc *DBConnection) ExecuteFetch(query string, maxrows int, wantfields bool) (*mysql.Result, error) {
	result, err := dbc.Conn.ExecuteFetch(query, maxrows, wantfields)
	if err == nil {
		return result, nil
	}
	if !sqlerror.IsEphemeralError(err) {
		return nil, err
	}

	glog.Infof("connection error on %v, reconnecting: %v", dbc.info.Host, err)
	if rerr := dbc.Reconnect(context.Background()); rerr != nil {
		return nil, err
	}
	return dbc.Conn.ExecuteFetch(query, maxrows, wantfields)
}

// ResetSession clears all server-side session state (user variables,
// temporary tables, prepared statements) so a pooled connection can be
// handed out clean. COM_RESET_CONNECTION is the cheap path; servers too
// old to implement it get a full COM_CHANGE_USER re-login instead.
func (dbc *DBConnection) ResetSession(ctx context.Context) error {
	err := dbc.Conn.ResetConnection()
	if err == nil {
		return nil
	}
	if dbc.Conn.IsClosed() || dbc.Conn.IsMarkedForClose() {
		return err
	}
	return dbc.Conn.ChangeUser(dbc.info)
}

// Reconnect replaces the underlying connection with a fresh one.
func (dbc *DBConnection) Reconnect(ctx context.Context) error {
	dbc.Conn.Close()
	c, err := mysql.Connect(ctx, dbc.info)
	if err != nil {
		return err
	}
	dbc.Conn = c
	dbc.cacheServerSettings()
	return nil
}

// Close closes the DBConnection.
func (dbc *DBConnection) Close() {
	dbc.Conn.Close()
}

// PooledDBConnection re-exposes DBConnection as a PoolConnection.
type PooledDBConnection struct {
	*DBConnection
	timeCreated time.Time
	pool        *ConnectionPool
}

// Recycle puts the connection back into its pool, replacing it when it
// is no longer usable or has outlived the configured lifetime. A
// connection whose stream latched a fatal error must never reach
// another caller, so it is closed here instead of pooled.
func (pc *PooledDBConnection) Recycle() {
	switch {
	case pc.IsClosed():
		pc.pool.Put(nil)
	case pc.IsMarkedForClose() || pc.expired():
		pc.Close()
		pc.pool.Put(nil)
	default:
		pc.pool.Put(pc)
	}
}

func (pc *PooledDBConnection) expired() bool {
	lifetime := pc.pool.maxLifetime
	return lifetime != 0 && time.Since(pc.timeCreated) > lifetime
}

// Validate makes sure the session is usable before trusting it: a
// connection that was closed or latched a fatal error is replaced
// outright, the rest get a ping with a reconnect in place on failure.
func (pc *PooledDBConnection) Validate(ctx context.Context) error {
	if pc.IsClosed() || pc.IsMarkedForClose() {
		if rerr := pc.Reconnect(ctx); rerr != nil {
			return fmt.Errorf("connection validation failed: %v", rerr)
		}
		return nil
	}
	if err := pc.Ping(); err != nil {
		if rerr := pc.Reconnect(ctx); rerr != nil {
			return fmt.Errorf("connection validation failed: %v (reconnect: %v)", err, rerr)
		}
	}
	return nil
}
