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

package sqlerror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLError(t *testing.T) {
	err := NewSQLError(ERAccessDeniedError, SSAccessDeniedError, "access denied for user '%v'", "user1")
	assert.Equal(t, ERAccessDeniedError, err.Number())
	assert.Equal(t, SSAccessDeniedError, err.SQLState())
	assert.Equal(t, "access denied for user 'user1' (errno 1045) (sqlstate 28000)", err.Error())

	// Empty SQL state defaults to the general one.
	err = NewSQLError(ERUnknownError, "", "broke")
	assert.Equal(t, SSUnknownSQLState, err.SQLState())

	err.Query = "select 1"
	assert.Contains(t, err.Error(), "during query: select 1")
}

func TestNewSQLErrorFromError(t *testing.T) {
	assert.NoError(t, NewSQLErrorFromError(nil))

	// A SQLError anywhere in the chain passes through unchanged.
	orig := NewSQLError(ERAccessDeniedError, SSAccessDeniedError, "denied")
	wrapped := fmt.Errorf("outer: %w", orig)
	var serr *SQLError
	require.ErrorAs(t, NewSQLErrorFromError(wrapped), &serr)
	assert.Equal(t, ERAccessDeniedError, serr.Number())

	// The errno/sqlstate markers are recovered from flattened strings,
	// the way errors come back across RPC boundaries.
	flattened := errors.New("transaction aborted (errno 1317) (sqlstate 70100)")
	require.ErrorAs(t, NewSQLErrorFromError(flattened), &serr)
	assert.Equal(t, ERQueryInterrupted, serr.Number())
	assert.Equal(t, "70100", serr.SQLState())

	// Anything unparseable becomes an unknown error.
	require.ErrorAs(t, NewSQLErrorFromError(errors.New("i/o timeout")), &serr)
	assert.Equal(t, ERUnknownError, serr.Number())
	assert.Equal(t, SSUnknownSQLState, serr.SQLState())
}

func TestIsConnErr(t *testing.T) {
	tests := []struct {
		num  ErrorCode
		want bool
	}{
		{CRConnectionError, true},
		{CRServerLost, true},
		{ERServerLost, true},
		{ERClientInteractionTimeout, true},
		{ERQueryInterrupted, false},
		{ERAccessDeniedError, false},
	}
	for _, test := range tests {
		err := NewSQLError(test.num, "", "test")
		assert.Equal(t, test.want, IsConnErr(err), "IsConnErr(%v)", test.num)
	}
	assert.False(t, IsConnErr(errors.New("plain error")))
}

func TestIsEphemeralError(t *testing.T) {
	tests := []struct {
		num  ErrorCode
		want bool
	}{
		{CRConnectionError, true},
		{CRConnHostError, true},
		{CRServerGone, true},
		{ERConnectionKilled, true},
		{ERServerShutdown, true},
		{ERClientInteractionTimeout, true},
		{ERAccessDeniedError, false},
		{ERQueryInterrupted, false},
	}
	for _, test := range tests {
		err := NewSQLError(test.num, "", "test")
		assert.Equal(t, test.want, IsEphemeralError(err), "IsEphemeralError(%v)", test.num)
	}
	assert.False(t, IsEphemeralError(errors.New("plain error")))
}
