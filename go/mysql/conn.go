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
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"vitess.io/mysqlwire/go/bucketpool"
	"vitess.io/mysqlwire/go/mysql/sqlerror"
)

const (
	// connBufferSize is how much we buffer for reading and writing. It
	// also happens to be the smallest bucket in the read pool.
	connBufferSize = 16 * 1024
)

// Constants for how ephemeral buffers were used for reading / writing.
const (
	// ephemeralUnused means the ephemeral buffer is not in use at this
	// moment and it's safe to ask for a new one.
	ephemeralUnused = iota

	// ephemeralWrite means we currently in process of writing from
	// currentEphemeralBuffer
	ephemeralWrite

	// ephemeralRead means we currently in process of reading into
	// currentEphemeralBuffer
	ephemeralRead
)

// bufPool is used to allocate and free buffers in an efficient way.
var bufPool = bucketpool.New(connBufferSize, MaxPacketSize)

// errConnBroken is returned on any use of a connection whose stream is
// known to be desynchronized or torn down.
var errConnBroken = errors.New("connection is in a failed state and must be closed")

// writersPool is used for pooling bufio.Writer objects.
var writersPool = sync.Pool{New: func() any { return bufio.NewWriterSize(nil, connBufferSize) }}

// Conn is a connection between a client and a server, using the MySQL
// binary protocol. It is the packet stream of this library: it frames,
// splits and reassembles logical packets, keeps the sequence counter
// and optionally layers the compressed protocol underneath.
type Conn struct {
	// conn is the underlying network connection.
	// Calling Close() on the Conn will close this connection.
	conn net.Conn

	// timed wraps conn with the cumulative i/o budget. All reads and
	// writes go through it (possibly via the compression decorator).
	timed *timedConn

	// transport is what the packet layer actually reads from and
	// writes to: the timed conn, or the compression decorator once
	// compression has been negotiated.
	transport io.ReadWriter

	// ConnectionID is set:
	// - at Connect() time for clients, with the value returned by
	// the server in its greeting.
	// - at accept time for a test server.
	ConnectionID uint32

	// ServerVersion is the server version string, parsed from the
	// greeting on the client side.
	ServerVersion string

	// Capabilities is the negotiated capability bitmask: the
	// intersection of what the server advertised and what this side
	// asked for.
	Capabilities uint32

	// CharacterSet is the charset negotiated at handshake time.
	CharacterSet uint8

	// StatusFlags are the status flags we will base our returned flags
	// on. They are updated by every OK/EOF packet that carries them.
	StatusFlags uint16

	// bufferedReader is used internally. It is buffered to reduce the
	// number of system calls and always points at the transport.
	bufferedReader *bufio.Reader

	// bufferedWriter is used internally when flushTimer is not nil.
	// Outside of the buffered window, writes go straight to transport.
	bufferedWriter *bufio.Writer

	// sequence is the current packet sequence number for this stream.
	// It is incremented on every sent and received packet and reset to
	// zero at the start of every command.
	sequence uint8

	// maxAllowedPacket is the send-side cap. A payload longer than this
	// is refused before a single byte hits the wire. Zero means the
	// protocol maximum only.
	maxAllowedPacket uint32

	// currentEphemeralPolicy tracks whether the ephemeral buffer is
	// being used for reading or writing; misuse panics.
	currentEphemeralPolicy int

	// currentEphemeralBuffer is the buffer from bufPool currently on
	// loan for an ephemeral read or write.
	currentEphemeralBuffer *[]byte

	// params the connection was dialed with. Nil on the server side of
	// a test socket pair.
	params *ConnParams

	// salt and authPluginName are remembered from the initial greeting
	// so COM_CHANGE_USER can seed a new authentication exchange.
	salt           []byte
	authPluginName string

	// tlsActive is true once upgradeToTLS has run.
	tlsActive bool

	// fatal latches once the stream is known broken (i/o error,
	// sequence desync, budget overrun, server 4031). A fatal Conn must
	// be closed, never recycled into a pool.
	fatal atomic.Bool

	// closed is set on the first Close() call.
	closed atomic.Bool
}

// newConn is an internal method to create a Conn. Used by client and
// server side for common creation code.
func newConn(conn net.Conn) *Conn {
	tc := newTimedConn(conn)
	return &Conn{
		conn:           conn,
		timed:          tc,
		transport:      tc,
		bufferedReader: bufio.NewReaderSize(tc, connBufferSize),
	}
}

// ID returns the MySQL connection ID for this connection.
func (c *Conn) ID() int64 {
	return int64(c.ConnectionID)
}

// RemoteAddr returns the underlying socket RemoteAddr().
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// IsMarkedForClose returns true if the connection should not be reused.
func (c *Conn) IsMarkedForClose() bool {
	return c.fatal.Load()
}

// MarkForClose flags the connection as broken.
func (c *Conn) MarkForClose() {
	c.fatal.Store(true)
}

// IsClosed returns true if this connection was ever closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Close closes the connection. It can be called from a different
// goroutine to interrupt the current read or write.
func (c *Conn) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.conn.Close()
	}
}

// SetReadTimeout installs a fresh cumulative i/o budget covering every
// read and write until the next call. Zero removes the limit.
func (c *Conn) SetReadTimeout(timeout time.Duration) error {
	return c.timed.ResetTimeout(timeout)
}

// SetMaxAllowedPacket caps outgoing payload length. The server value is
// cached here after connect so oversized sends fail locally.
func (c *Conn) SetMaxAllowedPacket(max uint32) {
	c.maxAllowedPacket = max
}

// maxSendSize returns the effective outgoing payload cap.
func (c *Conn) maxSendSize() int {
	if c.maxAllowedPacket != 0 {
		return int(c.maxAllowedPacket)
	}
	return MaxPacketSize
}

// upgradeToTLS replaces the raw socket with a TLS client on top of it.
// Must happen between the initial handshake and the handshake
// response, with no buffered writer active.
func (c *Conn) upgradeToTLS(config *tls.Config) {
	tlsConn := tls.Client(c.conn, config)
	c.conn = tlsConn
	c.timed = newTimedConn(tlsConn)
	c.transport = c.timed
	c.bufferedReader = bufio.NewReaderSize(c.timed, connBufferSize)
	c.tlsActive = true
}

// enableCompression inserts the compressed-protocol decorator between
// the timed transport and the packet framing. Transparent to all
// framing logic. Called right after authentication succeeds.
func (c *Conn) enableCompression(algorithm string, level int) error {
	cc, err := newCompressedTransport(c.timed, algorithm, level)
	if err != nil {
		return err
	}
	c.transport = cc
	c.bufferedReader = bufio.NewReaderSize(cc, connBufferSize)
	return nil
}

// startWriterBuffering starts using buffered writes. This should
// be terminated by a call to endWriterBuffering.
func (c *Conn) startWriterBuffering() {
	w := writersPool.Get().(*bufio.Writer)
	w.Reset(c.transport)
	c.bufferedWriter = w
}

// endWriterBuffering must be called to terminate startWriterBuffering.
func (c *Conn) endWriterBuffering() error {
	if c.bufferedWriter == nil {
		return nil
	}
	defer func() {
		c.bufferedWriter.Reset(nil)
		writersPool.Put(c.bufferedWriter)
		c.bufferedWriter = nil
	}()
	return c.bufferedWriter.Flush()
}

// getWriter returns the current writer. It may be either the original
// connection or a wrapper. The returned unget function must be invoked
// after the writing is finished.
func (c *Conn) getWriter() (w io.Writer, unget func()) {
	if c.bufferedWriter != nil {
		return c.bufferedWriter, func() {}
	}
	return c.transport, func() {}
}

// getReader returns reader for connection. It can be *bufio.Reader or
// the raw transport depending on which buffer size was passed to
// newServerConn.
func (c *Conn) getReader() io.Reader {
	if c.bufferedReader != nil {
		return c.bufferedReader
	}
	return c.transport
}

func (c *Conn) readHeaderFrom(r io.Reader) (int, error) {
	var header [packetHeaderSize]byte
	// Note io.ReadFull will return two different types of errors:
	// 1. if the socket is already closed, and the go runtime knows it,
	//   then ReadFull will return an error (different than EOF),
	//   describing the error.
	// 2. if the socket is not closed while we start the read,
	//   but gets closed after the read is started, we'll get io.EOF.
	if _, err := io.ReadFull(r, header[:]); err != nil {
		// The special casing of propagating io.EOF up
		// is used by the server side only, to suppress an error
		// message if a client just disconnects.
		if err == io.EOF {
			return 0, err
		}
		c.fatal.Store(true)
		return 0, fmt.Errorf("io.ReadFull(header size) failed: %w", err)
	}

	sequence := header[3]
	if sequence != c.sequence {
		c.fatal.Store(true)
		return 0, fmt.Errorf("invalid sequence, expected %v got %v", c.sequence, sequence)
	}
	c.sequence++

	length, _, _ := readUint24(header[:], 0)
	return int(length), nil
}

// readEphemeralPacket attempts to read a packet into a buffer from the
// ephemeral pool. The reassembled payload stays valid until
// recycleReadPacket is called.
//
// Chunks whose length equals MaxPacketSize signal that a continuation
// follows; the terminal chunk of a logical packet is always strictly
// shorter, possibly zero length.
func (c *Conn) readEphemeralPacket() ([]byte, error) {
	if c.currentEphemeralPolicy != ephemeralUnused {
		panic(fmt.Errorf("readEphemeralPacket: unexpected currentEphemeralPolicy: %v", c.currentEphemeralPolicy))
	}
	if c.fatal.Load() {
		return nil, errConnBroken
	}

	r := c.getReader()
	length, err := c.readHeaderFrom(r)
	if err != nil {
		return nil, err
	}

	c.currentEphemeralPolicy = ephemeralRead
	if length == 0 {
		// This can be caused by the packet after a packet of exactly
		// the max size.
		return nil, nil
	}

	c.currentEphemeralBuffer = bufPool.Get(length)
	if _, err := io.ReadFull(r, *c.currentEphemeralBuffer); err != nil {
		c.fatal.Store(true)
		return nil, fmt.Errorf("io.ReadFull(packet body of length %v) failed: %w", length, err)
	}
	if length < MaxPacketSize {
		// Fast path: the packet was smaller than the chunk limit, so
		// this is the whole thing.
		return *c.currentEphemeralBuffer, nil
	}

	// There is more than one packet, read them all.
	data := *c.currentEphemeralBuffer
	for {
		next, err := c.readOnePacket()
		if err != nil {
			return nil, err
		}

		if len(next) == 0 {
			// Again, the packet after a packet of exactly the max size.
			break
		}

		data = append(data, next...)
		if len(next) < MaxPacketSize {
			break
		}
	}

	// The joined buffer no longer comes from the pool; swap it in so
	// recycleReadPacket has a single thing to track.
	c.currentEphemeralBuffer = &data
	return *c.currentEphemeralBuffer, nil
}

// readOnePacket reads a single packet into a newly allocated buffer.
// It is used for the continuation chunks of an oversized logical packet.
func (c *Conn) readOnePacket() ([]byte, error) {
	r := c.getReader()
	length, err := c.readHeaderFrom(r)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		c.fatal.Store(true)
		return nil, fmt.Errorf("io.ReadFull(packet body of length %v) failed: %w", length, err)
	}
	return data, nil
}

// recycleReadPacket recycles the read packet. It needs to be called
// after readEphemeralPacket was called.
func (c *Conn) recycleReadPacket() {
	if c.currentEphemeralPolicy != ephemeralRead {
		panic(fmt.Errorf("recycleReadPacket: unexpected currentEphemeralPolicy: %d", c.currentEphemeralPolicy))
	}
	if c.currentEphemeralBuffer != nil {
		bufPool.Put(c.currentEphemeralBuffer)
		c.currentEphemeralBuffer = nil
	}
	c.currentEphemeralPolicy = ephemeralUnused
}

// readPacket reads a packet from the underlying connection and returns
// it as a freshly allocated buffer the caller owns.
func (c *Conn) readPacket() ([]byte, error) {
	result, err := c.readEphemeralPacket()
	if err != nil {
		return nil, err
	}
	data := make([]byte, len(result))
	copy(data, result)
	c.recycleReadPacket()
	return data, nil
}

// ReadPacket reads a packet from the underlying connection. It is used
// by the public (but deprecated in favor of typed methods) API. Any
// transport failure is wrapped into a CRServerLost protocol error.
func (c *Conn) ReadPacket() ([]byte, error) {
	result, err := c.readPacket()
	if err != nil {
		return nil, sqlerror.NewSQLError(sqlerror.CRServerLost, sqlerror.SSUnknownSQLState, "%v", err)
	}
	return result, err
}

// readServerResponsePacket reads a packet and, if it is a server error
// packet, parses and returns it as an error. Error 4031 additionally
// marks the connection fatal: the server has already torn the session
// down, reconnecting is the only way forward.
func (c *Conn) readServerResponsePacket() ([]byte, error) {
	data, err := c.ReadPacket()
	if err != nil {
		return nil, err
	}
	if len(data) > 0 && data[0] == ErrPacket {
		return nil, c.checkFatalError(ParseErrorPacket(data))
	}
	return data, nil
}

// checkFatalError inspects a server error and marks the connection
// fatal when the error means the session no longer exists server side.
func (c *Conn) checkFatalError(err error) error {
	var sqlErr *sqlerror.SQLError
	if errors.As(err, &sqlErr) && sqlErr.Number() == sqlerror.ERClientInteractionTimeout {
		c.fatal.Store(true)
	}
	return err
}

// startEphemeralPacket returns a buffer of the given length the caller
// fills in before writeEphemeralPacket. The 4 header bytes are not part
// of the returned buffer; the framing layer owns them.
func (c *Conn) startEphemeralPacket(length int) []byte {
	if c.currentEphemeralPolicy != ephemeralUnused {
		panic("startEphemeralPacket cannot be used while a packet is already started.")
	}

	c.currentEphemeralPolicy = ephemeralWrite
	c.currentEphemeralBuffer = bufPool.Get(length)
	return *c.currentEphemeralBuffer
}

// writeEphemeralPacket writes the packet that was allocated by
// startEphemeralPacket.
func (c *Conn) writeEphemeralPacket() error {
	defer c.recycleWritePacket()

	switch c.currentEphemeralPolicy {
	case ephemeralWrite:
		if err := c.writePacket(*c.currentEphemeralBuffer); err != nil {
			return fmt.Errorf("conn %v: %w", c.ID(), err)
		}
	case ephemeralUnused, ephemeralRead:
		// Programming error.
		panic(fmt.Errorf("conn %v: trying to call writeEphemeralPacket while currentEphemeralPolicy is %v", c.ID(), c.currentEphemeralPolicy))
	}

	return nil
}

// recycleWritePacket recycles the write packet. It needs to be called
// after writeEphemeralPacket was called.
func (c *Conn) recycleWritePacket() {
	if c.currentEphemeralPolicy != ephemeralWrite {
		// Programming error.
		panic(fmt.Errorf("recycleWritePacket: unexpected currentEphemeralPolicy: %d", c.currentEphemeralPolicy))
	}
	// Release our reference so the buffer can be gced
	bufPool.Put(c.currentEphemeralBuffer)
	c.currentEphemeralBuffer = nil
	c.currentEphemeralPolicy = ephemeralUnused
}

// writePacket writes a packet, possibly cutting it into multiple
// chunks. Oversized payloads are refused before any byte is written,
// so the stream is never left half-framed by a local precondition
// failure.
//
// Note this is only appropriate in the writer goroutine.
func (c *Conn) writePacket(data []byte) error {
	if c.fatal.Load() {
		return errConnBroken
	}

	index := 0
	dataLength := len(data)

	if dataLength > c.maxSendSize() {
		return sqlerror.NewSQLError(sqlerror.ERNetPacketTooLarge, sqlerror.SSNetError,
			"packet of %v bytes is larger than max allowed packet of %v bytes", dataLength, c.maxSendSize())
	}

	w, unget := c.getWriter()
	defer unget()

	var header [packetHeaderSize]byte
	for {
		// toBeSent is capped to MaxPacketSize.
		toBeSent := dataLength
		if toBeSent > MaxPacketSize {
			toBeSent = MaxPacketSize
		}

		// Compute and write the header.
		writeUint24(header[:], 0, uint32(toBeSent))
		header[3] = c.sequence
		if n, err := w.Write(header[:]); err != nil {
			c.fatal.Store(true)
			return fmt.Errorf("Write(header) failed: %w", err)
		} else if n != packetHeaderSize {
			c.fatal.Store(true)
			return fmt.Errorf("Write(header) returned a short write: %v < %v", n, packetHeaderSize)
		}

		// Write the body.
		if n, err := w.Write(data[index : index+toBeSent]); err != nil {
			c.fatal.Store(true)
			return fmt.Errorf("Write(packet) failed: %w", err)
		} else if n != toBeSent {
			c.fatal.Store(true)
			return fmt.Errorf("Write(packet) returned a short write: %v < %v", n, toBeSent)
		}

		// Update our state.
		c.sequence++
		dataLength -= toBeSent
		if dataLength == 0 {
			if toBeSent == MaxPacketSize {
				// The packet we just sent had exactly
				// MaxPacketSize size, we need to
				// sent a zero-size packet too.
				writeUint24(header[:], 0, 0)
				header[3] = c.sequence
				if n, err := w.Write(header[:]); err != nil {
					c.fatal.Store(true)
					return fmt.Errorf("Write(empty header) failed: %w", err)
				} else if n != packetHeaderSize {
					c.fatal.Store(true)
					return fmt.Errorf("Write(empty header) returned a short write: %v < %v", n, packetHeaderSize)
				}
				c.sequence++
			}
			return nil
		}
		index += toBeSent
	}
}

func (c *Conn) flush() error {
	if c.bufferedWriter == nil {
		return nil
	}
	return c.bufferedWriter.Flush()
}

// resetSequence is called at the start of every command. Both sides of
// the stream reset, which is how sequence desyncs become detectable.
func (c *Conn) resetSequence() {
	c.sequence = 0
	if cc, ok := c.transport.(*compressedTransport); ok {
		cc.resetSequence()
	}
}

//
// OK, error and EOF packets. The write side is what our test servers
// (and any server built on this package) use; the parse side is the
// client path.
//

// writeOKPacket writes an OK packet. Server side.
func (c *Conn) writeOKPacket(affectedRows, lastInsertID uint64, flags uint16, warnings uint16) error {
	length := 1 + // OKPacket
		lenEncIntSize(affectedRows) +
		lenEncIntSize(lastInsertID) +
		2 + // flags
		2 // warnings
	data := c.startEphemeralPacket(length)
	pos := 0
	pos = writeByte(data, pos, OKPacket)
	pos = writeLenEncInt(data, pos, affectedRows)
	pos = writeLenEncInt(data, pos, lastInsertID)
	pos = writeUint16(data, pos, flags)
	_ = writeUint16(data, pos, warnings)

	return c.writeEphemeralPacket()
}

// writeOKPacketWithEOFHeader writes an OK packet with an EOF header.
// This is used at the end of a result set if
// CapabilityClientDeprecateEOF is set.
func (c *Conn) writeOKPacketWithEOFHeader(affectedRows, lastInsertID uint64, flags uint16, warnings uint16) error {
	length := 1 + // EOFPacket
		lenEncIntSize(affectedRows) +
		lenEncIntSize(lastInsertID) +
		2 + // flags
		2 // warnings
	data := c.startEphemeralPacket(length)
	pos := 0
	pos = writeByte(data, pos, EOFPacket)
	pos = writeLenEncInt(data, pos, affectedRows)
	pos = writeLenEncInt(data, pos, lastInsertID)
	pos = writeUint16(data, pos, flags)
	_ = writeUint16(data, pos, warnings)

	return c.writeEphemeralPacket()
}

// writeErrorPacket writes an error packet. Server side.
func (c *Conn) writeErrorPacket(errorCode sqlerror.ErrorCode, sqlState string, format string, args ...any) error {
	errorMessage := fmt.Sprintf(format, args...)
	length := 1 + 2 + 1 + 5 + len(errorMessage)
	data := c.startEphemeralPacket(length)
	pos := 0
	pos = writeByte(data, pos, ErrPacket)
	pos = writeUint16(data, pos, uint16(errorCode))
	pos = writeByte(data, pos, '#')
	if sqlState == "" {
		sqlState = sqlerror.SSUnknownSQLState
	}
	if len(sqlState) != 5 {
		panic("sqlState has to be 5 characters long")
	}
	pos = writeEOFString(data, pos, sqlState)
	_ = writeEOFString(data, pos, errorMessage)

	return c.writeEphemeralPacket()
}

// writeErrorPacketFromError writes an error packet, from a regular error.
// See writeErrorPacket for other info.
func (c *Conn) writeErrorPacketFromError(err error) error {
	if se, ok := err.(*sqlerror.SQLError); ok {
		return c.writeErrorPacket(se.Num, se.State, "%v", se.Message)
	}
	return c.writeErrorPacket(sqlerror.ERUnknownError, sqlerror.SSUnknownSQLState, "unknown error: %v", err)
}

// writeEOFPacket writes an EOF packet, through the buffer, and
// doesn't flush (as it is used as part of a query result).
func (c *Conn) writeEOFPacket(flags uint16, warnings uint16) error {
	length := 5
	data := c.startEphemeralPacket(length)
	pos := 0
	pos = writeByte(data, pos, EOFPacket)
	pos = writeUint16(data, pos, warnings)
	_ = writeUint16(data, pos, flags)

	return c.writeEphemeralPacket()
}

// ParseErrorPacket parses the error packet and returns a
// *sqlerror.SQLError. The SQLSTATE marker is optional: pre-5.5 servers
// (and a few proxies) omit it.
func ParseErrorPacket(data []byte) error {
	// We already read the type.
	pos := 1

	// Error code is 2 bytes.
	code, pos, ok := readUint16(data, pos)
	if !ok {
		return sqlerror.NewSQLError(sqlerror.CRUnknownError, sqlerror.SSUnknownSQLState, "invalid error packet code: %v", data)
	}

	// '#' marker of the SQL state is 1 byte. Ignored.
	sqlState := sqlerror.SSUnknownSQLState
	if pos < len(data) && data[pos] == '#' {
		pos++
		var stateBytes []byte
		stateBytes, pos, ok = readBytes(data, pos, 5)
		if !ok {
			return sqlerror.NewSQLError(sqlerror.CRUnknownError, sqlerror.SSUnknownSQLState, "invalid error packet sqlState: %v", data)
		}
		sqlState = string(stateBytes)
	}

	// Human readable error message is the rest.
	msg := string(data[pos:])

	return sqlerror.NewSQLError(sqlerror.ErrorCode(code), sqlState, "%v", msg)
}

// PacketOK contains the parsed fields of an OK packet.
type PacketOK struct {
	affectedRows uint64
	lastInsertID uint64
	statusFlags  uint16
	warnings     uint16

	// Info is the human readable status text.
	info string

	// sessionStateData is the raw session-track payload, if the server
	// sent one.
	sessionStateData string
}

// parseOKPacket parses an OK packet. The rows/ID/flags/warnings layout
// is fixed; everything after is optional and capability-gated.
func (c *Conn) parseOKPacket(in []byte) (*PacketOK, error) {
	data := &coder{data: in, pos: 1} // We already read the type.
	packetOK := &PacketOK{}

	// Affected rows.
	affectedRows, ok := data.readLenEncInt()
	if !ok {
		return nil, fmt.Errorf("invalid OK packet affectedRows: %v", in)
	}
	packetOK.affectedRows = affectedRows

	// Last Insert ID.
	lastInsertID, ok := data.readLenEncInt()
	if !ok {
		return nil, fmt.Errorf("invalid OK packet lastInsertID: %v", in)
	}
	packetOK.lastInsertID = lastInsertID

	// Status flags.
	statusFlags, ok := data.readUint16()
	if !ok {
		return nil, fmt.Errorf("invalid OK packet statusFlags: %v", in)
	}
	packetOK.statusFlags = statusFlags

	// Warnings.
	warnings, ok := data.readUint16()
	if !ok {
		return nil, fmt.Errorf("invalid OK packet warnings: %v", in)
	}
	packetOK.warnings = warnings

	// Session track and info fields are both optional.
	if c.Capabilities&CapabilityClientSessionTrack == CapabilityClientSessionTrack {
		if info, ok := data.readLenEncInfo(); ok {
			packetOK.info = info
		}
		if statusFlags&ServerSessionStateChanged == ServerSessionStateChanged {
			if stateData, ok := data.readLenEncString(); ok {
				packetOK.sessionStateData = stateData
			}
		}
	} else if info, _, ok := readEOFString(in, data.pos); ok {
		packetOK.info = info
	}

	c.StatusFlags = packetOK.statusFlags
	return packetOK, nil
}

// isEOFPacket determines whether a data packet is an EOF. In case the
// client capabilities have DEPRECATE_EOF set, DO NOT blindly compare
// the first byte of a packet to EOFPacket as you might capture the
// weird case of a negotiated lenenc int. Use this function.
func isEOFPacket(data []byte) bool {
	return data[0] == EOFPacket && len(data) < 9
}

// parseEOFPacket returns the warning count and a boolean to indicate if there
// are more results to receive.
//
// Note: This is only valid on actual EOF packets and not on OK packets with the EOF
// type code set, i.e. should not be used if ClientDeprecateEOF is set.
func parseEOFPacket(data []byte) (warnings uint16, statusFlags uint16, err error) {
	// The warning count is in position 2 & 3.
	warnings, pos, _ := readUint16(data, 1)

	// The status flag is in position 4 & 5.
	statusFlags, _, ok := readUint16(data, pos)
	if !ok {
		return 0, 0, fmt.Errorf("invalid EOF packet statusFlags: %v", data)
	}
	return warnings, statusFlags, nil
}
