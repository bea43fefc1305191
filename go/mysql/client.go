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
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"vitess.io/mysqlwire/go/mysql/sqlerror"
)

// connectResult is used by Connect.
type connectResult struct {
	c   *Conn
	err error
}

// Connect creates a connection to a server. It then handles the
// initial handshake.
//
// If context is canceled before the end of the process, this function
// will return nil, ctx.Err().
//
// FIXME(alainjobart) once we have more of a server side, add test cases
// to cover all failure scenarios.
func Connect(ctx context.Context, params *ConnParams) (*Conn, error) {
	if params.ConnectTimeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.ConnectTimeout)
		defer cancel()
	}

	netProto := "tcp"
	addr := ""
	if params.UnixSocket != "" {
		netProto = "unix"
		addr = params.UnixSocket
	} else {
		addr = net.JoinHostPort(params.Host, strconv.Itoa(params.Port))
	}

	// Start a background connection routine.  It first
	// establishes a network connection, returns it on the channel,
	// then starts the negotiation, and returns the result on the channel.
	// It can send on the channel, before closing it:
	// - a connectResult with an error and nothing else (when dial fails).
	// - a connectResult with a *Conn and no error, then another one
	//   with possibly an error.
	status := make(chan connectResult)
	go func() {
		defer close(status)
		var err error
		var conn net.Conn

		// Cap the Dial time with the context deadline, plus a
		// few seconds. We want to reclaim resources quickly
		// and not let this go routine stuck in Dial forever.
		//
		// We add a few seconds so we detect the context is
		// Done() before timing out the Dial. That way we'll
		// return the right error to the client (ctx.Err(), vs
		// DialTimeout() error).
		if deadline, ok := ctx.Deadline(); ok {
			timeout := time.Until(deadline) + 5*time.Second
			conn, err = net.DialTimeout(netProto, addr, timeout)
		} else {
			conn, err = net.Dial(netProto, addr)
		}
		if err != nil {
			// If we get an error, the connection to a Unix socket
			// should return a 2002, but for a TCP socket it
			// should return a 2003.
			if netProto == "tcp" {
				status <- connectResult{
					err: sqlerror.NewSQLError(sqlerror.CRConnHostError, sqlerror.SSUnknownSQLState, "net.Dial(%v) failed: %v", addr, err),
				}
			} else {
				status <- connectResult{
					err: sqlerror.NewSQLError(sqlerror.CRConnectionError, sqlerror.SSUnknownSQLState, "net.Dial(%v) to local server failed: %v", addr, err),
				}
			}
			return
		}

		// Send the connection back, so the other side can close it.
		c := newConn(conn)
		c.params = params
		status <- connectResult{
			c: c,
		}

		// While we have the ability to cancel this connect
		// operation, the handshake has to run to completion:
		// interrupting it half-way leaves the server waiting
		// for packets we will never send.
		err = c.clientHandshake(params)

		// And send the result to the caller.
		status <- connectResult{
			err: err,
		}
	}()

	// Wait on the context and the status, for the connection to happen.
	var c *Conn
	select {
	case <-ctx.Done():
		// The background routine may send us a few things,
		// wait for them and terminate them properly in the
		// background.
		go func() {
			dialCR := <-status // This one can take a while.
			if dialCR.c != nil {
				// Dial worked, close the connection. This will
				// also interrupt the handshake in flight, and
				// terminate the goroutine.
				dialCR.c.Close()
				<-status
			}
		}()
		return nil, ctx.Err()
	case cr := <-status:
		if cr.err != nil {
			// Dial failed, no connection was ever established.
			return nil, cr.err
		}
		c = cr.c
	}

	// Wait for the end of the handshake.
	select {
	case <-ctx.Done():
		// We are interested in the context being canceled. Close the
		// connection to unblock the handshake goroutine.
		c.Close()
		<-status
		return nil, ctx.Err()
	case cr := <-status:
		if cr.err != nil {
			c.Close()
			return nil, cr.err
		}
	}
	return c, nil
}

// Ping implements mysql ping command.
func (c *Conn) Ping() error {
	// This is a new command, need to reset the sequence.
	c.resetSequence()

	if err := c.writePacket([]byte{ComPing}); err != nil {
		return sqlerror.NewSQLError(sqlerror.CRServerGone, sqlerror.SSUnknownSQLState, "%v", err)
	}
	if err := c.flush(); err != nil {
		return sqlerror.NewSQLError(sqlerror.CRServerGone, sqlerror.SSUnknownSQLState, "%v", err)
	}
	data, err := c.readServerResponsePacket()
	if err != nil {
		return err
	}
	if len(data) == 0 || data[0] != OKPacket {
		return fmt.Errorf("unexpected packet type for ping response: %v", data)
	}
	_, err = c.parseOKPacket(data)
	return err
}

// clientHandshake handles the client side of the handshake.
// Note the connection can be closed while this is running.
// Returns a SQLError.
func (c *Conn) clientHandshake(params *ConnParams) error {
	// The handshake (authentication included) runs under the connect
	// budget as one unit.
	if params.ConnectTimeout != 0 {
		if err := c.timed.ResetTimeout(params.ConnectTimeout); err != nil {
			return sqlerror.NewSQLError(sqlerror.CRServerLost, sqlerror.SSUnknownSQLState, "cannot set handshake deadline: %v", err)
		}
	}

	// Wait for the server initial handshake packet, and parse it.
	data, err := c.readPacket()
	if err != nil {
		return sqlerror.NewSQLError(sqlerror.CRServerLost, "", "initial packet read failed: %v", err)
	}
	capabilities, salt, authPluginName, err := c.parseInitialHandshakePacket(data)
	if err != nil {
		return err
	}
	c.fillFlavor(params)

	// Sanity check.
	if capabilities&CapabilityClientProtocol41 == 0 {
		return sqlerror.NewSQLError(sqlerror.CRVersionError, sqlerror.SSUnknownSQLState, "cannot connect to servers earlier than 4.1")
	}

	// Figure out the character set we want.
	charset, err := resolveCharset(params.Charset)
	if err != nil {
		return err
	}
	c.CharacterSet = charset

	// Build our flags, with CapabilityClientSSL. These are the
	// capabilities we offer; the intersection with the server side is
	// the negotiated set.
	capFlags := CapabilityClientLongPassword |
		CapabilityClientLongFlag |
		CapabilityClientProtocol41 |
		CapabilityClientTransactions |
		CapabilityClientSecureConnection |
		CapabilityClientMultiStatements |
		CapabilityClientMultiResults |
		CapabilityClientPluginAuth |
		CapabilityClientPluginAuthLenencClientData |
		uint32(params.Flags)

	if capabilities&CapabilityClientMultiFactorAuth != 0 {
		capFlags |= CapabilityClientMultiFactorAuth
	}

	switch params.CompressionAlgorithm {
	case CompressionZlib:
		if capabilities&CapabilityClientCompress == 0 {
			return sqlerror.NewSQLError(sqlerror.CRSSLConnectionError, sqlerror.SSUnknownSQLState, "server doesn't support zlib compression")
		}
		capFlags |= CapabilityClientCompress
	case CompressionZstd:
		if capabilities&CapabilityClientZstdCompressionAlgorithm == 0 {
			return sqlerror.NewSQLError(sqlerror.CRSSLConnectionError, sqlerror.SSUnknownSQLState, "server doesn't support zstd compression")
		}
		capFlags |= CapabilityClientZstdCompressionAlgorithm
	case "":
	default:
		return sqlerror.NewSQLError(sqlerror.CRSSLConnectionError, sqlerror.SSUnknownSQLState, "unsupported compression algorithm %q", params.CompressionAlgorithm)
	}

	if params.DbName != "" && capabilities&CapabilityClientConnectWithDB != 0 {
		capFlags |= CapabilityClientConnectWithDB
	}

	// Handle switch to SSL if necessary.
	if params.SslEnabled() {
		// If the server doesn't support SSL, stop right here.
		if capabilities&CapabilityClientSSL == 0 {
			return sqlerror.NewSQLError(sqlerror.CRSSLConnectionError, sqlerror.SSUnknownSQLState, "server doesn't support SSL but the connection requires it")
		}
		capFlags |= CapabilityClientSSL

		// Send the SSLRequest packet.
		if err := c.writeSSLRequest(capFlags, charset, params); err != nil {
			return err
		}

		// Switch to SSL.
		config := params.SslConfig.Clone()
		if config.ServerName == "" && !config.InsecureSkipVerify {
			config.ServerName = params.Host
		}
		c.upgradeToTLS(config)
		if params.ConnectTimeout != 0 {
			if err := c.timed.ResetTimeout(params.ConnectTimeout); err != nil {
				return sqlerror.NewSQLError(sqlerror.CRServerLost, sqlerror.SSUnknownSQLState, "cannot reset handshake deadline: %v", err)
			}
		}
	} else if params.SslRequired {
		return sqlerror.NewSQLError(sqlerror.CRSSLConnectionError, sqlerror.SSUnknownSQLState, "SSL required but no TLS configuration was provided")
	}

	// Remember the negotiated set.
	c.Capabilities = capFlags & (capabilities | CapabilityClientMultiFactorAuth)

	// Pick the initial auth method. The server told us its default;
	// the caller may insist on another one.
	if params.AuthPluginName != "" {
		authPluginName = params.AuthPluginName
	}
	if authPluginName == "" {
		authPluginName = MysqlNativePassword
	}
	c.salt = salt
	c.authPluginName = authPluginName
	method, err := c.newAuthMethod(authPluginName, 1)
	if err != nil {
		return err
	}
	authResp, err := method.beginAuth(salt)
	if err != nil {
		return err
	}

	// Build and send the handshake response.
	if err := c.writeHandshakeResponse41(capFlags, authResp, charset, method.name(), params); err != nil {
		return err
	}

	// Drive the authentication exchange until OK or failure.
	if err := c.authenticationLoop(method, salt); err != nil {
		return err
	}

	// Authentication done: if compression was negotiated it starts
	// with the next command, in both directions.
	if params.CompressionAlgorithm != "" {
		if err := c.enableCompression(params.CompressionAlgorithm, params.CompressionLevel); err != nil {
			return sqlerror.NewSQLError(sqlerror.CRSSLConnectionError, sqlerror.SSUnknownSQLState, "cannot enable compression: %v", err)
		}
	}

	// If the database is not part of the handshake response, set it now.
	if params.DbName != "" && c.Capabilities&CapabilityClientConnectWithDB == 0 {
		if err := c.InitDB(params.DbName); err != nil {
			return err
		}
	}

	// Apply the requested session settings before the connection is
	// handed out.
	if err := c.applySessionSettings(params); err != nil {
		return err
	}

	// The steady-state i/o budget replaces the handshake budget.
	if err := c.timed.ResetTimeout(params.ReadTimeout); err != nil {
		return sqlerror.NewSQLError(sqlerror.CRServerLost, sqlerror.SSUnknownSQLState, "cannot set read deadline: %v", err)
	}

	return nil
}

// applySessionSettings runs the SET statements the params ask for. The
// character set itself travels in the handshake, but the collation and
// sql_mode have no handshake field.
func (c *Conn) applySessionSettings(params *ConnParams) error {
	if params.Collation != "" {
		if _, err := c.ExecuteFetch("SET collation_connection = "+params.Collation, 0, false); err != nil {
			return err
		}
	}
	if params.SQLMode != "" {
		if _, err := c.ExecuteFetch(fmt.Sprintf("SET sql_mode = '%s'", params.SQLMode), 0, false); err != nil {
			return err
		}
	}
	return nil
}

// authenticationLoop reads server packets and feeds them to the
// current auth method until an OK packet concludes the exchange. The
// server may switch plugins (0xfe), ask for another MFA factor (0x02)
// or continue the current mechanism (0x01) any number of times.
func (c *Conn) authenticationLoop(method authMethod, salt []byte) error {
	factor := 1
	for {
		data, err := c.readServerResponsePacket()
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return sqlerror.NewSQLError(sqlerror.CRMalformedPacket, sqlerror.SSUnknownSQLState, "empty auth response packet")
		}

		switch data[0] {
		case OKPacket:
			_, err := c.parseOKPacket(data)
			return err

		case AuthSwitchRequestPacket:
			if len(data) == 1 {
				// Old-style auth switch, used by pre-4.1 servers.
				return c.authError(method.name(), "server requested the legacy mysql_old_password handshake")
			}
			pluginName, challenge, err := parseAuthSwitchRequest(data)
			if err != nil {
				return sqlerror.NewSQLError(sqlerror.CRMalformedPacket, sqlerror.SSUnknownSQLState, "cannot parse auth switch request: %v", err)
			}
			method, err = c.newAuthMethod(pluginName, factor)
			if err != nil {
				return err
			}
			resp, err := method.beginAuth(challenge)
			if err != nil {
				return err
			}
			if err := c.writeAuthResponse(resp); err != nil {
				return err
			}

		case AuthMoreDataPacket:
			resp, err := method.handleMoreData(data[1:])
			if err != nil {
				return err
			}
			if resp != nil {
				if err := c.writeAuthResponse(resp); err != nil {
					return err
				}
			}

		case AuthNextFactorPacket:
			if c.Capabilities&CapabilityClientMultiFactorAuth == 0 {
				return c.authError(method.name(), "server asked for another factor without negotiating multi-factor auth")
			}
			factor++
			if factor > 3 {
				return c.authError(method.name(), "server asked for a fourth authentication factor")
			}
			pluginName, challenge, err := parseAuthSwitchRequest(data)
			if err != nil {
				return sqlerror.NewSQLError(sqlerror.CRMalformedPacket, sqlerror.SSUnknownSQLState, "cannot parse auth next factor request: %v", err)
			}
			method, err = c.newAuthMethod(pluginName, factor)
			if err != nil {
				return err
			}
			resp, err := method.beginAuth(challenge)
			if err != nil {
				return err
			}
			if err := c.writeAuthResponse(resp); err != nil {
				return err
			}

		default:
			return sqlerror.NewSQLError(sqlerror.CRMalformedPacket, sqlerror.SSUnknownSQLState, "unexpected packet type %v during authentication", data[0])
		}
	}
}

// parseAuthSwitchRequest parses both AuthSwitchRequest (0xfe) and
// AuthNextFactor (0x02) packets: a plugin name, NUL terminated, then
// the new challenge.
func parseAuthSwitchRequest(data []byte) (string, []byte, error) {
	pos := 1
	pluginName, pos, ok := readNullString(data, pos)
	if !ok {
		return "", nil, fmt.Errorf("packet has no NUL-terminated plugin name: %v", data)
	}
	// The challenge layout is plugin specific (password plugins send a
	// NUL-terminated scramble, kerberos and FIDO send length-prefixed
	// fields), so hand it over untouched.
	return pluginName, data[pos:], nil
}

// parseInitialHandshakePacket parses the initial handshake from the server.
// It returns a SQLError with the right code.
func (c *Conn) parseInitialHandshakePacket(data []byte) (uint32, []byte, string, error) {
	pos := 0

	// Protocol version.
	pver, pos, ok := readByte(data, pos)
	if !ok {
		return 0, nil, "", sqlerror.NewSQLError(sqlerror.CRVersionError, sqlerror.SSUnknownSQLState, "parseInitialHandshakePacket: packet has no protocol version")
	}

	// Server is allowed to immediately send ERR packet
	if pver == ErrPacket {
		errorCode, pos, _ := readUint16(data, pos)
		// Normally there would be a 1-byte sql_state_marker field and a 5-byte
		// sql_state field here, but docs say these will not be present in this case.
		errorMsg, _, _ := readEOFString(data, pos)
		return 0, nil, "", sqlerror.NewSQLError(sqlerror.CRServerHandshakeErr, sqlerror.SSUnknownSQLState, "immediate error from server errorCode=%v errorMsg=%v", errorCode, errorMsg)
	}

	if pver != protocolVersion {
		return 0, nil, "", sqlerror.NewSQLError(sqlerror.CRVersionError, sqlerror.SSUnknownSQLState, "protocol version mismatch: %v, expected %v", pver, protocolVersion)
	}

	// Read the server version.
	c.ServerVersion, pos, ok = readNullString(data, pos)
	if !ok {
		return 0, nil, "", sqlerror.NewSQLError(sqlerror.CRMalformedPacket, sqlerror.SSUnknownSQLState, "parseInitialHandshakePacket: packet has no server version")
	}

	// Read the connection id.
	c.ConnectionID, pos, ok = readUint32(data, pos)
	if !ok {
		return 0, nil, "", sqlerror.NewSQLError(sqlerror.CRMalformedPacket, sqlerror.SSUnknownSQLState, "parseInitialHandshakePacket: packet has no connection id")
	}

	// Read the first part of the auth-plugin-data
	authPluginData, pos, ok := readBytesCopy(data, pos, 8)
	if !ok {
		return 0, nil, "", sqlerror.NewSQLError(sqlerror.CRMalformedPacket, sqlerror.SSUnknownSQLState, "parseInitialHandshakePacket: packet has no auth-plugin-data-part-1")
	}

	// One byte filler, 0. We don't really care about the value.
	_, pos, ok = readByte(data, pos)
	if !ok {
		return 0, nil, "", sqlerror.NewSQLError(sqlerror.CRMalformedPacket, sqlerror.SSUnknownSQLState, "parseInitialHandshakePacket: packet has no filler")
	}

	// Lower 2 bytes of the capability flags.
	capLower, pos, ok := readUint16(data, pos)
	if !ok {
		return 0, nil, "", sqlerror.NewSQLError(sqlerror.CRMalformedPacket, sqlerror.SSUnknownSQLState, "parseInitialHandshakePacket: packet has no capability flags (lower 2 bytes)")
	}
	var capabilities = uint32(capLower)

	// The packet can end here.
	if pos == len(data) {
		return capabilities, authPluginData, "", nil
	}

	// Character set.
	characterSet, pos, ok := readByte(data, pos)
	if !ok {
		return 0, nil, "", sqlerror.NewSQLError(sqlerror.CRMalformedPacket, sqlerror.SSUnknownSQLState, "parseInitialHandshakePacket: packet has no character set")
	}
	c.CharacterSet = characterSet

	// Status flags. Ignored.
	_, pos, ok = readUint16(data, pos)
	if !ok {
		return 0, nil, "", sqlerror.NewSQLError(sqlerror.CRMalformedPacket, sqlerror.SSUnknownSQLState, "parseInitialHandshakePacket: packet has no status flags")
	}

	// Upper 2 bytes of the capability flags.
	capUpper, pos, ok := readUint16(data, pos)
	if !ok {
		return 0, nil, "", sqlerror.NewSQLError(sqlerror.CRMalformedPacket, sqlerror.SSUnknownSQLState, "parseInitialHandshakePacket: packet has no capability flags (upper 2 bytes)")
	}
	capabilities += uint32(capUpper) << 16

	// Length of auth-plugin-data, or 0.
	// Only with CLIENT_PLUGIN_AUTH.
	authPluginDataLength, pos, ok := readByte(data, pos)
	if !ok {
		return 0, nil, "", sqlerror.NewSQLError(sqlerror.CRMalformedPacket, sqlerror.SSUnknownSQLState, "parseInitialHandshakePacket: packet has no length of auth-plugin-data")
	}

	// 10 reserved 0 bytes.
	pos += 10

	if capabilities&CapabilityClientSecureConnection != 0 {
		// The next part of the auth-plugin-data.
		// The length is max(13, length of auth-plugin-data - 8).
		l := 13
		if authPluginDataLength > 8 {
			l = int(authPluginDataLength) - 8
		}
		var authPluginDataPart2 []byte
		authPluginDataPart2, pos, ok = readBytes(data, pos, l)
		if !ok {
			return 0, nil, "", sqlerror.NewSQLError(sqlerror.CRMalformedPacket, sqlerror.SSUnknownSQLState, "parseInitialHandshakePacket: packet has no auth-plugin-data-part-2")
		}

		// The last byte has to be 0, and is not part of the data.
		if authPluginDataPart2[l-1] != 0 {
			return 0, nil, "", sqlerror.NewSQLError(sqlerror.CRMalformedPacket, sqlerror.SSUnknownSQLState, "parseInitialHandshakePacket: auth-plugin-data-part-2 is not NUL terminated")
		}
		authPluginData = append(authPluginData, authPluginDataPart2[:l-1]...)
	}

	// Auth-plugin name.
	authPluginName := ""
	if capabilities&CapabilityClientPluginAuth != 0 {
		var authPluginBytes []byte
		// Note this is a NUL-terminated string, but some servers
		// (mariadb) don't NUL-terminate it when it is the last field.
		authPluginBytes, _ = readNullByteString(data, pos)
		authPluginName = string(authPluginBytes)
	}

	return capabilities, authPluginData, authPluginName, nil
}

// writeSSLRequest writes the SSLRequest packet. It's just a truncated
// handshake response: capabilities, max packet size, charset and the 23
// reserved bytes, and then the side switches to TLS.
func (c *Conn) writeSSLRequest(capabilities uint32, characterSet uint8, params *ConnParams) error {
	// Build our flags, with CapabilityClientSSL.
	capFlags := capabilities | CapabilityClientSSL

	length :=
		4 + // Client capability flags.
			4 + // Max-packet size.
			1 + // Character set.
			23 // Reserved.

	// Add the DB name if the server supports it.
	if params.DbName != "" && (capabilities&CapabilityClientConnectWithDB != 0) {
		capFlags |= CapabilityClientConnectWithDB
	}

	data := c.startEphemeralPacket(length)
	pos := 0

	// Client capability flags.
	pos = writeUint32(data, pos, capFlags)

	// Max-packet size, always 0. See doc.go.
	pos = writeZeroes(data, pos, 4)

	// Character set.
	_ = writeByte(data, pos, characterSet)

	// And send it as is.
	if err := c.writeEphemeralPacket(); err != nil {
		return sqlerror.NewSQLError(sqlerror.CRServerLost, sqlerror.SSUnknownSQLState, "cannot send SSLRequest: %v", err)
	}
	return nil
}

// writeHandshakeResponse41 writes the handshake response.
// Returns a SQLError.
func (c *Conn) writeHandshakeResponse41(capabilities uint32, authResp []byte, characterSet uint8, authMethodName string, params *ConnParams) error {
	// Build the response, depending on the flags we negotiated.
	length :=
		4 + // Client capability flags.
			4 + // Max-packet size.
			1 + // Character set.
			23 + // Reserved.
			lenNullString(params.Uname) +
			// length of auth-response
			lenEncIntSize(uint64(len(authResp))) +
			len(authResp) +
			lenNullString(authMethodName)

	// Add the DB name if the server supports it.
	if capabilities&CapabilityClientConnectWithDB != 0 {
		length += lenNullString(params.DbName)
	}

	// The zstd compression level is a trailing byte.
	if capabilities&CapabilityClientZstdCompressionAlgorithm != 0 {
		length++
	}

	data := c.startEphemeralPacket(length)
	pos := 0

	// Client capability flags.
	pos = writeUint32(data, pos, capabilities)

	// Max-packet size, always 0. The server doesn't use this field but
	// other clients also write it as 0.
	pos = writeZeroes(data, pos, 4)

	// Character set.
	pos = writeByte(data, pos, characterSet)

	// 23 reserved bytes, all 0.
	pos = writeZeroes(data, pos, 23)

	// Username
	pos = writeNullString(data, pos, params.Uname)

	// Auth response.
	pos = writeLenEncBytes(data, pos, authResp)

	// DbName, only if server supports it.
	if capabilities&CapabilityClientConnectWithDB != 0 {
		pos = writeNullString(data, pos, params.DbName)
	}

	// Assume native client during response
	pos = writeNullString(data, pos, authMethodName)

	if capabilities&CapabilityClientZstdCompressionAlgorithm != 0 {
		level := params.CompressionLevel
		if level == 0 {
			level = DefaultZstdLevel
		}
		pos = writeByte(data, pos, byte(level))
	}

	// Sanity-check the length.
	if pos != len(data) {
		return fmt.Errorf("writeHandshakeResponse41: only packed %v bytes, out of %v allocated", pos, len(data))
	}

	if err := c.writeEphemeralPacket(); err != nil {
		return sqlerror.NewSQLError(sqlerror.CRServerLost, sqlerror.SSUnknownSQLState, "cannot send HandshakeResponse41: %v", err)
	}
	return nil
}

// writeAuthResponse sends raw authentication bytes as the next packet
// of the ongoing handshake exchange (sequence keeps counting).
func (c *Conn) writeAuthResponse(resp []byte) error {
	data := c.startEphemeralPacket(len(resp))
	copy(data, resp)
	if err := c.writeEphemeralPacket(); err != nil {
		return sqlerror.NewSQLError(sqlerror.CRServerLost, sqlerror.SSUnknownSQLState, "cannot send auth response: %v", err)
	}
	return nil
}

// fillFlavor remembers server-version quirks we care about. Kept
// minimal: only whether the SQLSTATE marker is expected in error
// packets (servers older than 5.5 don't send it).
func (c *Conn) fillFlavor(params *ConnParams) {
	// ParseErrorPacket sniffs the '#' marker per packet, so no state
	// is needed today. The hook stays because every client grows
	// flavor special cases eventually.
}

// InitDB changes the default database for the connection.
func (c *Conn) InitDB(db string) error {
	c.resetSequence()
	data := c.startEphemeralPacket(1 + len(db))
	pos := writeByte(data, 0, ComInitDB)
	_ = writeEOFString(data, pos, db)
	if err := c.writeEphemeralPacket(); err != nil {
		return sqlerror.NewSQLError(sqlerror.CRServerGone, sqlerror.SSUnknownSQLState, "%v", err)
	}
	if err := c.flush(); err != nil {
		return sqlerror.NewSQLError(sqlerror.CRServerGone, sqlerror.SSUnknownSQLState, "%v", err)
	}
	resp, err := c.readServerResponsePacket()
	if err != nil {
		return err
	}
	if len(resp) == 0 || resp[0] != OKPacket {
		return fmt.Errorf("unexpected packet type for COM_INIT_DB response: %v", resp)
	}
	_, err = c.parseOKPacket(resp)
	return err
}

// Quit sends a COM_QUIT. The server closes the connection without
// answering, so no response is read.
func (c *Conn) Quit() error {
	c.resetSequence()
	data := c.startEphemeralPacket(1)
	data[0] = ComQuit
	if err := c.writeEphemeralPacket(); err != nil {
		return err
	}
	return c.flush()
}

// ResetConnection sends COM_RESET_CONNECTION, clearing all session
// state (temp tables, user variables, prepared statements) without
// re-authenticating. Pools use it to hand out clean connections.
func (c *Conn) ResetConnection() error {
	c.resetSequence()
	data := c.startEphemeralPacket(1)
	data[0] = ComResetConnection
	if err := c.writeEphemeralPacket(); err != nil {
		return sqlerror.NewSQLError(sqlerror.CRServerGone, sqlerror.SSUnknownSQLState, "%v", err)
	}
	if err := c.flush(); err != nil {
		return sqlerror.NewSQLError(sqlerror.CRServerGone, sqlerror.SSUnknownSQLState, "%v", err)
	}
	resp, err := c.readServerResponsePacket()
	if err != nil {
		return err
	}
	if len(resp) == 0 || resp[0] != OKPacket {
		return fmt.Errorf("unexpected packet type for COM_RESET_CONNECTION response: %v", resp)
	}
	_, err = c.parseOKPacket(resp)
	return err
}

// ChangeUser sends COM_CHANGE_USER: it re-authenticates on the same
// network connection, optionally as a different user, and resets all
// session state in the process. The authentication exchange is the same
// one the handshake runs, seeded with the salt from the initial
// greeting; servers virtually always answer with an auth switch
// carrying a fresh challenge anyway.
//
// On failure the server side of the session is in an undefined state,
// so the connection is marked broken.
func (c *Conn) ChangeUser(params *ConnParams) error {
	c.resetSequence()

	// The plugins read their secrets through c.params.
	c.params = params

	charset, err := resolveCharset(params.Charset)
	if err != nil {
		return err
	}

	pluginName := c.authPluginName
	if params.AuthPluginName != "" {
		pluginName = params.AuthPluginName
	}
	method, err := c.newAuthMethod(pluginName, 1)
	if err != nil {
		return err
	}
	authResp, err := method.beginAuth(c.salt)
	if err != nil {
		return err
	}
	if len(authResp) > 255 {
		return c.authError(pluginName, "initial auth response too long for COM_CHANGE_USER: %v bytes", len(authResp))
	}

	length := 1 + // Command byte.
		lenNullString(params.Uname) +
		1 + // Length of the auth response.
		len(authResp) +
		lenNullString(params.DbName) +
		2 + // Character set.
		lenNullString(method.name())

	data := c.startEphemeralPacket(length)
	pos := writeByte(data, 0, ComChangeUser)
	pos = writeNullString(data, pos, params.Uname)
	pos = writeByte(data, pos, byte(len(authResp)))
	pos += copy(data[pos:], authResp)
	pos = writeNullString(data, pos, params.DbName)
	pos = writeUint16(data, pos, uint16(charset))
	_ = writeNullString(data, pos, method.name())

	if err := c.writeEphemeralPacket(); err != nil {
		return sqlerror.NewSQLError(sqlerror.CRServerGone, sqlerror.SSUnknownSQLState, "%v", err)
	}
	if err := c.flush(); err != nil {
		return sqlerror.NewSQLError(sqlerror.CRServerGone, sqlerror.SSUnknownSQLState, "%v", err)
	}

	if err := c.authenticationLoop(method, c.salt); err != nil {
		c.MarkForClose()
		return err
	}
	c.CharacterSet = charset
	return nil
}

// CancelQuery best-effort cancels the query currently running on this
// connection, from another goroutine. It opens a separate short-lived,
// non-pooled connection, issues KILL QUERY with our connection id, and
// runs a trivial statement to make sure the server-side kill flag is
// consumed. If any step of that fails, the only safe degradation is to
// abort this connection entirely.
func (c *Conn) CancelQuery(ctx context.Context) error {
	killConn, err := Connect(ctx, c.params)
	if err != nil {
		c.Close()
		return fmt.Errorf("cannot open kill connection, aborting the victim connection instead: %w", err)
	}
	defer killConn.Close()

	if _, err := killConn.ExecuteFetch(fmt.Sprintf("KILL QUERY %d", c.ConnectionID), 0, false); err != nil {
		c.Close()
		return fmt.Errorf("kill query failed, aborting the victim connection instead: %w", err)
	}
	// A query that was already done when the KILL arrived leaves the
	// flag set; the dummy statement absorbs it.
	if _, err := killConn.ExecuteFetch("SELECT 1", 1, false); err != nil {
		c.Close()
		return fmt.Errorf("post-kill statement failed, aborting the victim connection instead: %w", err)
	}
	return nil
}

// charsetNumbers maps the charset names accepted in ConnParams to
// their protocol ids.
var charsetNumbers = map[string]uint8{
	"utf8mb4": CharacterSetUtf8mb4,
	"utf8":    33,
	"latin1":  8,
	"binary":  CharacterSetBinary,
}

func resolveCharset(name string) (uint8, error) {
	if name == "" {
		return CharacterSetUtf8mb4, nil
	}
	if n, ok := charsetNumbers[name]; ok {
		return n, nil
	}
	if n, err := strconv.ParseUint(name, 10, 8); err == nil {
		return uint8(n), nil
	}
	return 0, fmt.Errorf("unknown charset %q", name)
}
