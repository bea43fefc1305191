/*
Copyright 2023 The Vitess Authors.

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

package mysql

import (
	"errors"
	"net"
	"time"
)

// ErrTimeoutExceeded is returned once the cumulative i/o budget of a
// command is exhausted. The connection is unusable afterwards: part of
// a packet may have been read or written, so the caller must close it.
var ErrTimeoutExceeded = errors.New("mysqlwire: i/o timeout budget exceeded")

// deadlineFuzz is how much the remaining budget has to shrink before we
// push a new deadline down to the socket. Setting a deadline is a
// syscall; doing it on every 4-byte header read is measurable on hot
// result-set loops.
const deadlineFuzz = 100 * time.Millisecond

// timedConn wraps a net.Conn with a single wall-clock budget shared by
// every read and write until the next ResetTimeout. This is not a
// per-call timeout: a command that dribbles one byte at a time still
// runs out of budget.
type timedConn struct {
	net.Conn

	// timeout is the current budget. Zero means unlimited.
	timeout time.Duration

	// started is when the current budget began counting.
	started time.Time

	// applied is the deadline last pushed to the socket, zero if none.
	applied time.Time

	// expired latches once the budget has been overrun or an i/o error
	// was seen. Every call afterwards fails fast.
	expired bool
}

func newTimedConn(conn net.Conn) *timedConn {
	return &timedConn{Conn: conn}
}

// ResetTimeout installs a new budget and restarts the stopwatch. A zero
// duration removes any limit.
func (tc *timedConn) ResetTimeout(timeout time.Duration) error {
	tc.timeout = timeout
	tc.started = time.Now()
	tc.expired = false
	if timeout == 0 {
		if !tc.applied.IsZero() {
			tc.applied = time.Time{}
			return tc.Conn.SetDeadline(time.Time{})
		}
		return nil
	}
	deadline := tc.started.Add(timeout)
	tc.applied = deadline
	return tc.Conn.SetDeadline(deadline)
}

// startTimer verifies budget remains and, when the target deadline has
// moved meaningfully since last applied, pushes it to the socket.
func (tc *timedConn) startTimer() error {
	if tc.expired {
		return ErrTimeoutExceeded
	}
	if tc.timeout == 0 {
		return nil
	}
	deadline := tc.started.Add(tc.timeout)
	if !time.Now().Before(deadline) {
		tc.expire()
		return ErrTimeoutExceeded
	}
	if tc.applied.IsZero() || tc.applied.Sub(deadline) >= deadlineFuzz {
		tc.applied = deadline
		return tc.Conn.SetDeadline(deadline)
	}
	return nil
}

// stopTimer catches the race where the syscall succeeded but the budget
// ran out while it was in flight.
func (tc *timedConn) stopTimer() error {
	if tc.timeout == 0 {
		return nil
	}
	if time.Since(tc.started) > tc.timeout {
		tc.expire()
		return ErrTimeoutExceeded
	}
	return nil
}

// expire latches the failed state and clears the socket deadline so
// that the close sequence is not itself cut short.
func (tc *timedConn) expire() {
	tc.expired = true
	tc.timeout = 0
	tc.applied = time.Time{}
	tc.Conn.SetDeadline(time.Time{})
}

func (tc *timedConn) Read(b []byte) (int, error) {
	if err := tc.startTimer(); err != nil {
		return 0, err
	}
	n, err := tc.Conn.Read(b)
	if err != nil {
		tc.expire()
		return n, err
	}
	if err := tc.stopTimer(); err != nil {
		return n, err
	}
	return n, nil
}

func (tc *timedConn) Write(b []byte) (int, error) {
	if err := tc.startTimer(); err != nil {
		return 0, err
	}
	n, err := tc.Conn.Write(b)
	if err != nil {
		tc.expire()
		return n, err
	}
	if err := tc.stopTimer(); err != nil {
		return n, err
	}
	return n, nil
}
