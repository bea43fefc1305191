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

import "strconv"

// ErrorCode is a MySQL error number, either a server-side ER code or a
// client-side CR code.
type ErrorCode uint16

func (e ErrorCode) ToString() string {
	return strconv.FormatUint(uint64(e), 10)
}

// Error codes for client-side errors.
// Originally found in include/mysql/errmsg.h and
// https://dev.mysql.com/doc/mysql-errors/en/client-error-reference.html
const (
	// CRUnknownError is CR_UNKNOWN_ERROR
	CRUnknownError ErrorCode = 2000

	// CRConnectionError is CR_CONNECTION_ERROR
	// This is returned if a connection via a Unix socket fails.
	CRConnectionError ErrorCode = 2002

	// CRConnHostError is CR_CONN_HOST_ERROR
	// This is returned if a connection via a TCP socket fails.
	CRConnHostError ErrorCode = 2003

	// CRServerGone is CR_SERVER_GONE_ERROR.
	// This is returned if the client tries to send a command but it fails.
	CRServerGone ErrorCode = 2006

	// CRVersionError is CR_VERSION_ERROR
	// This is returned if the server versions don't match what we support.
	CRVersionError ErrorCode = 2007

	// CRServerHandshakeErr is CR_SERVER_HANDSHAKE_ERR
	CRServerHandshakeErr ErrorCode = 2012

	// CRServerLost is CR_SERVER_LOST.
	// Used when:
	// - the client cannot write an initial auth packet.
	// - the client cannot read an initial auth packet.
	// - the client cannot read a response from the server.
	CRServerLost ErrorCode = 2013

	// CRCommandsOutOfSync is CR_COMMANDS_OUT_OF_SYNC
	// Sent when the streaming calls are not done in the expected order.
	CRCommandsOutOfSync ErrorCode = 2014

	// CRNamedPipeStateError is CR_NAMEDPIPESETSTATE_ERROR.
	// This is the highest possible number for a connection error.
	CRNamedPipeStateError ErrorCode = 2018

	// CRCantReadCharset is CR_CANT_READ_CHARSET
	CRCantReadCharset ErrorCode = 2019

	// CRNetPacketTooLarge is CR_NET_PACKET_TOO_LARGE.
	CRNetPacketTooLarge ErrorCode = 2020

	// CRSSLConnectionError is CR_SSL_CONNECTION_ERROR
	// Sent when the server fails to establish an SSL connection.
	CRSSLConnectionError ErrorCode = 2026

	// CRMalformedPacket is CR_MALFORMED_PACKET
	CRMalformedPacket ErrorCode = 2027

	// CRAuthPluginErr is CR_AUTH_PLUGIN_ERR, raised when the requested
	// authentication plugin cannot be loaded or driven to completion.
	CRAuthPluginErr ErrorCode = 2061
)

// Error codes for server-side errors.
// Originally found in include/mysql/mysqld_error.h and
// https://dev.mysql.com/doc/mysql-errors/en/server-error-reference.html
const (
	// ERErrorFirst enumerates the less common errors
	ERErrorFirst ErrorCode = 1000

	// ERAccessDeniedError is ER_ACCESS_DENIED_ERROR
	ERAccessDeniedError ErrorCode = 1045

	// ERUnknownComError is ER_UNKNOWN_COM_ERROR
	ERUnknownComError ErrorCode = 1047

	// ERBadDb is ER_BAD_DB_ERROR
	ERBadDb ErrorCode = 1049

	// ERServerShutdown is ER_SERVER_SHUTDOWN
	ERServerShutdown ErrorCode = 1053

	// ERUnknownError is ER_UNKNOWN_ERROR
	ERUnknownError ErrorCode = 1105

	// ERNetPacketTooLarge is ER_NET_PACKET_TOO_LARGE
	ERNetPacketTooLarge ErrorCode = 1153

	// ERNetReadError is ER_NET_READ_ERROR
	ERNetReadError ErrorCode = 1158

	// ERNetPacketsOutOfOrder is ER_NET_PACKETS_OUT_OF_ORDER
	ERNetPacketsOutOfOrder ErrorCode = 1156

	// ERServerLost is ER_NET_WRITE_INTERRUPTED
	ERServerLost ErrorCode = 1159

	// ERTooManyUserConnections is ER_TOO_MANY_USER_CONNECTIONS
	ERTooManyUserConnections ErrorCode = 1203

	// ERLockWaitTimeout is ER_LOCK_WAIT_TIMEOUT
	ERLockWaitTimeout ErrorCode = 1205

	// ERQueryInterrupted is ER_QUERY_INTERRUPTED
	ERQueryInterrupted ErrorCode = 1317

	// ERNotSupportedAuthMode is ER_NOT_SUPPORTED_AUTH_MODE
	ERNotSupportedAuthMode ErrorCode = 1251

	// ERServerIsntAvailable is ER_SERVER_ISNT_AVAILABLE
	ERServerIsntAvailable ErrorCode = 3168

	// ERConnectionKilled is ER_CONNECTION_KILLED
	ERConnectionKilled ErrorCode = 1927

	// ERClientInteractionTimeout is ER_CLIENT_INTERACTION_TIMEOUT.
	// The server unilaterally closed the connection; the client must
	// reconnect, the session cannot be resumed.
	ERClientInteractionTimeout ErrorCode = 4031
)

// Sql states for errors.
// Originally found in include/mysql/sql_state.h
const (
	// SSUnknownSQLState is ER_SIGNAL_EXCEPTION in
	// include/mysql/sql_state.h, but:
	// const char *unknown_sqlstate= "HY000"
	// in client.c. So using that one.
	SSUnknownSQLState = "HY000"

	// SSNetError is network related error
	SSNetError = "08S01"

	// SSAccessDeniedError is ER_ACCESS_DENIED_ERROR
	SSAccessDeniedError = "28000"

	// SSClientError is the state on client errors
	SSClientError = "42000"

	// SSQueryInterrupted is ER_QUERY_INTERRUPTED
	SSQueryInterrupted = "70100"

	// SSHandshakeError is ER_HANDSHAKE_ERROR
	SSHandshakeError = "08S01"
)
