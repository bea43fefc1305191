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
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"vitess.io/mysqlwire/go/mysql/sqlerror"
)

// Prepared statements: COM_STMT_PREPARE / COM_STMT_EXECUTE /
// COM_STMT_RESET / COM_STMT_CLOSE, with binary protocol row decoding.
//
// Decoded binary rows are normalized into the same text Row cells the
// text protocol produces, so callers see one representation.

// PreparedStatement is a server-side prepared statement, bound to the
// connection it was prepared on.
type PreparedStatement struct {
	c *Conn

	// StatementID is the server-assigned id, sent back on execute.
	StatementID uint32
	// ParamCount is the number of '?' placeholders.
	ParamCount uint16
	// Fields is the column metadata of the result set, if the
	// statement produces one.
	Fields []*Field
}

// BindVariable is one typed parameter of a statement execution.
type BindVariable struct {
	Type     FieldType
	Value    []byte
	Unsigned bool
}

// NullBindVariable binds a SQL NULL.
var NullBindVariable = BindVariable{Type: TypeNull}

// Int64BindVariable converts an int64 into a BindVariable.
func Int64BindVariable(v int64) BindVariable {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return BindVariable{Type: TypeLonglong, Value: buf[:]}
}

// Uint64BindVariable converts a uint64 into a BindVariable.
func Uint64BindVariable(v uint64) BindVariable {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return BindVariable{Type: TypeLonglong, Value: buf[:], Unsigned: true}
}

// Float64BindVariable converts a float64 into a BindVariable.
func Float64BindVariable(v float64) BindVariable {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	return BindVariable{Type: TypeDouble, Value: buf[:]}
}

// StringBindVariable converts a string into a BindVariable.
func StringBindVariable(v string) BindVariable {
	return BindVariable{Type: TypeVarString, Value: []byte(v)}
}

// BytesBindVariable converts a []byte into a BindVariable.
func BytesBindVariable(v []byte) BindVariable {
	return BindVariable{Type: TypeBlob, Value: v}
}

// Prepare sends the statement for server-side preparation and reads
// back its metadata. Returns a SQLError.
func (c *Conn) Prepare(query string) (*PreparedStatement, error) {
	// This is a new command, need to reset the sequence.
	c.resetSequence()

	data := c.startEphemeralPacket(len(query) + 1)
	data[0] = ComStmtPrepare
	copy(data[1:], query)
	if err := c.writeEphemeralPacket(); err != nil {
		return nil, sqlerror.NewSQLError(sqlerror.CRServerGone, sqlerror.SSUnknownSQLState, "%v", err)
	}
	if err := c.flush(); err != nil {
		return nil, sqlerror.NewSQLError(sqlerror.CRServerGone, sqlerror.SSUnknownSQLState, "%v", err)
	}

	resp, err := c.readServerResponsePacket()
	if err != nil {
		return nil, err
	}
	if len(resp) < 12 || resp[0] != OKPacket {
		return nil, sqlerror.NewSQLError(sqlerror.CRMalformedPacket, sqlerror.SSUnknownSQLState, "unexpected COM_STMT_PREPARE response: %v", resp)
	}

	stmt := &PreparedStatement{c: c}
	pos := 1
	stmt.StatementID, pos, _ = readUint32(resp, pos)
	columnCount, pos, _ := readUint16(resp, pos)
	stmt.ParamCount, _, _ = readUint16(resp, pos)
	// One filler byte and a 2-byte warning count follow; ignored.

	// Parameter definitions. The types in here are meaningless (the
	// client declares real types on execute), so they are skipped.
	if stmt.ParamCount > 0 {
		for i := 0; i < int(stmt.ParamCount); i++ {
			var f Field
			if err := c.readColumnDefinitionType(&f, i); err != nil {
				return nil, err
			}
		}
		if err := c.skipResultSetEOF(); err != nil {
			return nil, err
		}
	}

	// Column definitions of the future result set.
	if columnCount > 0 {
		fields := make([]Field, columnCount)
		stmt.Fields = make([]*Field, columnCount)
		for i := 0; i < int(columnCount); i++ {
			stmt.Fields[i] = &fields[i]
			if err := c.readColumnDefinition(stmt.Fields[i], i); err != nil {
				return nil, err
			}
		}
		if err := c.skipResultSetEOF(); err != nil {
			return nil, err
		}
	}

	return stmt, nil
}

// skipResultSetEOF consumes the EOF packet that terminates a block of
// column definitions, unless EOFs are deprecated on this connection.
func (c *Conn) skipResultSetEOF() error {
	if c.Capabilities&CapabilityClientDeprecateEOF != 0 {
		return nil
	}
	data, err := c.readEphemeralPacket()
	if err != nil {
		return sqlerror.NewSQLError(sqlerror.CRServerLost, sqlerror.SSUnknownSQLState, "%v", err)
	}
	defer c.recycleReadPacket()
	if !isEOFPacket(data) {
		return sqlerror.NewSQLError(sqlerror.CRMalformedPacket, sqlerror.SSUnknownSQLState, "expected EOF after definitions, got %v", data[0])
	}
	return nil
}

// Execute runs the prepared statement with the given parameters and
// returns the result. Binary result rows are decoded into the same
// text form ExecuteFetch produces.
func (s *PreparedStatement) Execute(bindVars []BindVariable, maxrows int, wantfields bool) (*Result, error) {
	c := s.c
	if len(bindVars) != int(s.ParamCount) {
		return nil, fmt.Errorf("statement expects %v parameters, got %v", s.ParamCount, len(bindVars))
	}

	// This is a new command, need to reset the sequence.
	c.resetSequence()

	length := 1 + // ComStmtExecute
		4 + // statement id
		1 + // flags
		4 // iteration count, always 1
	nullBitmapLen := 0
	if len(bindVars) > 0 {
		nullBitmapLen = (len(bindVars) + 7) / 8
		length += nullBitmapLen +
			1 + // new-params-bound flag
			2*len(bindVars) // parameter types
		for _, bv := range bindVars {
			if bv.Type != TypeNull {
				length += lenEncIntSize(uint64(len(bv.Value))) + len(bv.Value)
			}
		}
	}

	data := c.startEphemeralPacket(length)
	pos := 0
	pos = writeByte(data, pos, ComStmtExecute)
	pos = writeUint32(data, pos, s.StatementID)
	pos = writeByte(data, pos, 0) // CURSOR_TYPE_NO_CURSOR
	pos = writeUint32(data, pos, 1)

	if len(bindVars) > 0 {
		// NULL bitmap, no offset for execute.
		nullBitmapPos := pos
		pos = writeZeroes(data, pos, nullBitmapLen)

		pos = writeByte(data, pos, 1) // new-params-bound

		for i, bv := range bindVars {
			typ := uint16(bv.Type)
			if bv.Unsigned {
				typ |= 0x8000
			}
			pos = writeUint16(data, pos, typ)
			if bv.Type == TypeNull {
				data[nullBitmapPos+i/8] |= 1 << (uint(i) & 7)
			}
		}

		for _, bv := range bindVars {
			if bv.Type != TypeNull {
				pos = writeLenEncBytes(data, pos, bv.Value)
			}
		}
	}

	if pos != length {
		return nil, fmt.Errorf("execute packet: packed %v bytes, out of %v allocated", pos, length)
	}
	if err := c.writeEphemeralPacket(); err != nil {
		return nil, sqlerror.NewSQLError(sqlerror.CRServerGone, sqlerror.SSUnknownSQLState, "%v", err)
	}
	if err := c.flush(); err != nil {
		return nil, sqlerror.NewSQLError(sqlerror.CRServerGone, sqlerror.SSUnknownSQLState, "%v", err)
	}

	return s.readExecuteResult(maxrows, wantfields)
}

func (s *PreparedStatement) readExecuteResult(maxrows int, wantfields bool) (*Result, error) {
	c := s.c
	colNumber, packetOk, err := c.readComQueryResponse()
	if err != nil {
		return nil, err
	}
	if colNumber == 0 {
		return &Result{
			RowsAffected:        packetOk.affectedRows,
			InsertID:            packetOk.lastInsertID,
			StatusFlags:         packetOk.statusFlags,
			Warnings:            packetOk.warnings,
			Info:                packetOk.info,
			SessionStateChanges: packetOk.sessionStateData,
		}, nil
	}

	// The server resends the column definitions before the rows.
	fields := make([]Field, colNumber)
	result := &Result{Fields: make([]*Field, colNumber)}
	for i := 0; i < colNumber; i++ {
		result.Fields[i] = &fields[i]
		if err := c.readColumnDefinition(result.Fields[i], i); err != nil {
			return nil, err
		}
	}
	if err := c.skipResultSetEOF(); err != nil {
		return nil, err
	}

	for {
		data, err := c.ReadPacket()
		if err != nil {
			return nil, err
		}

		if isEOFPacket(data) {
			if c.Capabilities&CapabilityClientDeprecateEOF == 0 {
				warnings, statusFlags, err := parseEOFPacket(data)
				if err != nil {
					return nil, err
				}
				result.Warnings = warnings
				result.StatusFlags = statusFlags
				c.StatusFlags = statusFlags
			} else {
				packetEof, err := c.parseOKPacket(data)
				if err != nil {
					return nil, err
				}
				result.Warnings = packetEof.warnings
				result.StatusFlags = packetEof.statusFlags
			}
			if !wantfields {
				result.Fields = nil
			}
			return result, nil
		} else if data[0] == ErrPacket {
			return nil, ParseErrorPacket(data)
		}

		if len(result.Rows) == maxrows {
			c.Close()
			return nil, fmt.Errorf("row count exceeded %d", maxrows)
		}

		row, err := parseBinaryRow(data, result.Fields)
		if err != nil {
			return nil, err
		}
		result.Rows = append(result.Rows, row)
	}
}

// Reset sends COM_STMT_RESET, dropping any pending long data on the
// server side.
func (s *PreparedStatement) Reset() error {
	c := s.c
	c.resetSequence()
	data := c.startEphemeralPacket(5)
	pos := writeByte(data, 0, ComStmtReset)
	_ = writeUint32(data, pos, s.StatementID)
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
		return fmt.Errorf("unexpected packet type for COM_STMT_RESET response: %v", resp)
	}
	_, err = c.parseOKPacket(resp)
	return err
}

// Close deallocates the statement on the server. COM_STMT_CLOSE has no
// response.
func (s *PreparedStatement) Close() error {
	c := s.c
	c.resetSequence()
	data := c.startEphemeralPacket(5)
	pos := writeByte(data, 0, ComStmtClose)
	_ = writeUint32(data, pos, s.StatementID)
	if err := c.writeEphemeralPacket(); err != nil {
		return sqlerror.NewSQLError(sqlerror.CRServerGone, sqlerror.SSUnknownSQLState, "%v", err)
	}
	return c.flush()
}

// parseBinaryRow decodes one binary-protocol row into text form. The
// NULL bitmap starts at bit offset 2 for result rows.
func parseBinaryRow(data []byte, fields []*Field) (Row, error) {
	if len(data) == 0 || data[0] != OKPacket {
		return nil, fmt.Errorf("binary row does not start with 0x00: %v", data)
	}
	pos := 1

	nullBitmapLen := (len(fields) + 7 + 2) / 8
	if pos+nullBitmapLen > len(data) {
		return nil, fmt.Errorf("binary row too short for its NULL bitmap")
	}
	nullBitmap := data[pos : pos+nullBitmapLen]
	pos += nullBitmapLen

	row := make(Row, len(fields))
	for i, field := range fields {
		byteIdx := (i + 2) / 8
		bitIdx := uint(i+2) % 8
		if nullBitmap[byteIdx]&(1<<bitIdx) != 0 {
			// NULL cell, stays nil.
			continue
		}
		var val []byte
		var err error
		val, pos, err = decodeBinaryValue(data, pos, field)
		if err != nil {
			return nil, fmt.Errorf("column %v (%v): %v", i, field.Name, err)
		}
		row[i] = val
	}
	return row, nil
}

// decodeBinaryValue decodes one binary value into its canonical text
// rendering.
func decodeBinaryValue(data []byte, pos int, field *Field) ([]byte, int, error) {
	unsigned := field.Flags&flagUnsigned != 0
	switch field.Type {
	case TypeTiny:
		v, newPos, ok := readByte(data, pos)
		if !ok {
			return nil, 0, fmt.Errorf("truncated TINY")
		}
		if unsigned {
			return strconv.AppendUint(nil, uint64(v), 10), newPos, nil
		}
		return strconv.AppendInt(nil, int64(int8(v)), 10), newPos, nil

	case TypeShort, TypeYear:
		v, newPos, ok := readUint16(data, pos)
		if !ok {
			return nil, 0, fmt.Errorf("truncated SHORT")
		}
		if unsigned || field.Type == TypeYear {
			return strconv.AppendUint(nil, uint64(v), 10), newPos, nil
		}
		return strconv.AppendInt(nil, int64(int16(v)), 10), newPos, nil

	case TypeLong, TypeInt24:
		v, newPos, ok := readUint32(data, pos)
		if !ok {
			return nil, 0, fmt.Errorf("truncated LONG")
		}
		if unsigned {
			return strconv.AppendUint(nil, uint64(v), 10), newPos, nil
		}
		return strconv.AppendInt(nil, int64(int32(v)), 10), newPos, nil

	case TypeLonglong:
		v, newPos, ok := readUint64(data, pos)
		if !ok {
			return nil, 0, fmt.Errorf("truncated LONGLONG")
		}
		if unsigned {
			return strconv.AppendUint(nil, v, 10), newPos, nil
		}
		return strconv.AppendInt(nil, int64(v), 10), newPos, nil

	case TypeFloat:
		v, newPos, ok := readUint32(data, pos)
		if !ok {
			return nil, 0, fmt.Errorf("truncated FLOAT")
		}
		return strconv.AppendFloat(nil, float64(math.Float32frombits(v)), 'g', -1, 32), newPos, nil

	case TypeDouble:
		v, newPos, ok := readUint64(data, pos)
		if !ok {
			return nil, 0, fmt.Errorf("truncated DOUBLE")
		}
		return strconv.AppendFloat(nil, math.Float64frombits(v), 'g', -1, 64), newPos, nil

	case TypeDate, TypeDatetime, TypeTimestamp:
		return decodeBinaryDateTime(data, pos, field.Type == TypeDate)

	case TypeTime:
		return decodeBinaryTime(data, pos)

	case TypeDecimal, TypeNewDecimal, TypeVarchar, TypeBit, TypeEnum,
		TypeSet, TypeTinyBlob, TypeMediumBlob, TypeLongBlob, TypeBlob,
		TypeVarString, TypeString, TypeGeometry, TypeJSON:
		v, newPos, ok := readLenEncStringAsBytesCopy(data, pos)
		if !ok {
			return nil, 0, fmt.Errorf("truncated string value")
		}
		return v, newPos, nil
	}
	return nil, 0, fmt.Errorf("unsupported wire type %v", field.Type)
}

// decodeBinaryDateTime decodes the 0/4/7/11-byte date formats.
func decodeBinaryDateTime(data []byte, pos int, dateOnly bool) ([]byte, int, error) {
	size, pos, ok := readByte(data, pos)
	if !ok {
		return nil, 0, fmt.Errorf("truncated temporal value")
	}
	b, pos, ok := readBytes(data, pos, int(size))
	if !ok {
		return nil, 0, fmt.Errorf("temporal value shorter than its declared length")
	}

	var year, month, day, hour, minute, second, micro uint64
	switch size {
	case 0:
		// Zero value.
	case 4:
		year = uint64(binary.LittleEndian.Uint16(b[0:2]))
		month, day = uint64(b[2]), uint64(b[3])
	case 7:
		year = uint64(binary.LittleEndian.Uint16(b[0:2]))
		month, day = uint64(b[2]), uint64(b[3])
		hour, minute, second = uint64(b[4]), uint64(b[5]), uint64(b[6])
	case 11:
		year = uint64(binary.LittleEndian.Uint16(b[0:2]))
		month, day = uint64(b[2]), uint64(b[3])
		hour, minute, second = uint64(b[4]), uint64(b[5]), uint64(b[6])
		micro = uint64(binary.LittleEndian.Uint32(b[7:11]))
	default:
		return nil, 0, fmt.Errorf("invalid temporal length %v", size)
	}

	out := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	if !dateOnly {
		out += fmt.Sprintf(" %02d:%02d:%02d", hour, minute, second)
		if size == 11 {
			out += fmt.Sprintf(".%06d", micro)
		}
	}
	return []byte(out), pos, nil
}

// decodeBinaryTime decodes the 0/8/12-byte TIME format, which is a
// signed duration, not a time of day.
func decodeBinaryTime(data []byte, pos int) ([]byte, int, error) {
	size, pos, ok := readByte(data, pos)
	if !ok {
		return nil, 0, fmt.Errorf("truncated TIME value")
	}
	b, pos, ok := readBytes(data, pos, int(size))
	if !ok {
		return nil, 0, fmt.Errorf("TIME value shorter than its declared length")
	}

	switch size {
	case 0:
		return []byte("00:00:00"), pos, nil
	case 8, 12:
	default:
		return nil, 0, fmt.Errorf("invalid TIME length %v", size)
	}

	sign := ""
	if b[0] == 1 {
		sign = "-"
	}
	days := binary.LittleEndian.Uint32(b[1:5])
	hours := uint64(days)*24 + uint64(b[5])
	out := fmt.Sprintf("%s%02d:%02d:%02d", sign, hours, b[6], b[7])
	if size == 12 {
		out += fmt.Sprintf(".%06d", binary.LittleEndian.Uint32(b[8:12]))
	}
	return []byte(out), pos, nil
}
