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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hookConn lets a test run code right before the wrapped Read returns,
// e.g. to manipulate the budget stopwatch mid-call.
type hookConn struct {
	net.Conn
	onRead    func()
	deadlines int
}

func (h *hookConn) Read(b []byte) (int, error) {
	n, err := h.Conn.Read(b)
	if h.onRead != nil {
		h.onRead()
	}
	return n, err
}

func (h *hookConn) SetDeadline(t time.Time) error {
	h.deadlines++
	return h.Conn.SetDeadline(t)
}

func TestTimedConnNoBudget(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	tc := newTimedConn(client)
	go func() {
		server.Write([]byte("hello"))
	}()

	buf := make([]byte, 5)
	n, err := tc.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestTimedConnBudgetExhaustedBeforeCall(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	tc := newTimedConn(client)
	require.NoError(t, tc.ResetTimeout(10*time.Millisecond))
	tc.started = time.Now().Add(-time.Second)

	_, err := tc.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrTimeoutExceeded)

	// The failure latches: every call afterwards fails fast without
	// touching the socket.
	_, err = tc.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrTimeoutExceeded)
	_, err = tc.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrTimeoutExceeded)
}

func TestTimedConnResetClearsExpiry(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	tc := newTimedConn(client)
	require.NoError(t, tc.ResetTimeout(10*time.Millisecond))
	tc.started = time.Now().Add(-time.Second)
	_, err := tc.Read(make([]byte, 1))
	require.ErrorIs(t, err, ErrTimeoutExceeded)

	// A zero budget removes the limit and unlatches the failure.
	require.NoError(t, tc.ResetTimeout(0))
	go func() {
		server.Write([]byte("ok"))
	}()
	buf := make([]byte, 2)
	n, err := tc.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf[:n]))
}

func TestTimedConnDeadlineCutsBlockedRead(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	tc := newTimedConn(client)
	require.NoError(t, tc.ResetTimeout(30*time.Millisecond))

	// Nobody writes, so the socket deadline has to fire.
	_, err := tc.Read(make([]byte, 1))
	require.Error(t, err)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())

	// After the i/o error the budget is latched as spent.
	_, err = tc.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrTimeoutExceeded)
}

// The budget is cumulative across calls, not per call: a read that
// succeeds on the wire still fails if it finishes past the deadline.
func TestTimedConnBudgetSpansCalls(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	hooked := &hookConn{Conn: client}
	tc := newTimedConn(hooked)
	require.NoError(t, tc.ResetTimeout(time.Minute))
	hooked.onRead = func() {
		tc.started = time.Now().Add(-2 * time.Minute)
	}

	go func() {
		server.Write([]byte("late"))
	}()
	n, err := tc.Read(make([]byte, 4))
	assert.Equal(t, 4, n)
	assert.ErrorIs(t, err, ErrTimeoutExceeded)
}

// Repeated reads under the same budget must not push a fresh deadline
// down to the socket every time.
func TestTimedConnDeadlineApplication(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	hooked := &hookConn{Conn: client}
	tc := newTimedConn(hooked)
	require.NoError(t, tc.ResetTimeout(time.Minute))
	require.Equal(t, 1, hooked.deadlines)

	go func() {
		for range 3 {
			server.Write([]byte("x"))
		}
	}()
	buf := make([]byte, 1)
	for range 3 {
		_, err := tc.Read(buf)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, hooked.deadlines)
}
