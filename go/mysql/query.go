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
	"fmt"

	"vitess.io/mysqlwire/go/mysql/sqlerror"
)

// This file contains the methods related to queries.

//
// Client side methods.
//

// writeComQuery writes a query for the server to execute.
// Client -> Server.
// Returns SQLError(CRServerGone) if it can't.
func (c *Conn) writeComQuery(query string) error {
	// This is a new command, need to reset the sequence.
	c.resetSequence()

	data := c.startEphemeralPacket(len(query) + 1)
	data[0] = ComQuery
	copy(data[1:], query)
	if err := c.writeEphemeralPacket(); err != nil {
		return sqlerror.NewSQLError(sqlerror.CRServerGone, sqlerror.SSUnknownSQLState, "%v", err)
	}
	return nil
}

// readColumnDefinition reads the next Column Definition packet.
// Returns a SQLError.
func (c *Conn) readColumnDefinition(field *Field, index int) error {
	colDef, err := c.readEphemeralPacket()
	if err != nil {
		return sqlerror.NewSQLError(sqlerror.CRServerLost, sqlerror.SSUnknownSQLState, "%v", err)
	}
	defer c.recycleReadPacket()

	// Catalog is ignored, always set to "def".
	pos, ok := skipLenEncString(colDef, 0)
	if !ok {
		return fmt.Errorf("skipping col %v catalog failed", index)
	}

	// schema, table, orgTable, name and OrgName are strings.
	field.Database, pos, ok = readLenEncString(colDef, pos)
	if !ok {
		return fmt.Errorf("extracting col %v schema failed", index)
	}
	field.Table, pos, ok = readLenEncString(colDef, pos)
	if !ok {
		return fmt.Errorf("extracting col %v table failed", index)
	}
	field.OrgTable, pos, ok = readLenEncString(colDef, pos)
	if !ok {
		return fmt.Errorf("extracting col %v org_table failed", index)
	}
	field.Name, pos, ok = readLenEncString(colDef, pos)
	if !ok {
		return fmt.Errorf("extracting col %v name failed", index)
	}
	field.OrgName, pos, ok = readLenEncString(colDef, pos)
	if !ok {
		return fmt.Errorf("extracting col %v org_name failed", index)
	}

	// Skip length of fixed-length fields, always 0x0c.
	pos++

	// characterSet is a uint16.
	characterSet, pos, ok := readUint16(colDef, pos)
	if !ok {
		return fmt.Errorf("extracting col %v characterSet failed", index)
	}
	field.Charset = uint32(characterSet)

	// columnLength is a uint32.
	field.ColumnLength, pos, ok = readUint32(colDef, pos)
	if !ok {
		return fmt.Errorf("extracting col %v columnLength failed", index)
	}

	// type is one byte.
	t, pos, ok := readByte(colDef, pos)
	if !ok {
		return fmt.Errorf("extracting col %v type failed", index)
	}
	field.Type = FieldType(t)

	// flags is 2 bytes.
	flags, pos, ok := readUint16(colDef, pos)
	if !ok {
		return fmt.Errorf("extracting col %v flags failed", index)
	}
	field.Flags = uint32(flags)

	// Decimals is a byte.
	decimals, _, ok := readByte(colDef, pos)
	if !ok {
		return fmt.Errorf("extracting col %v decimals failed", index)
	}
	field.Decimals = uint32(decimals)

	return nil
}

// readColumnDefinitionType is a faster version of readColumnDefinition
// that only fills in the Type. Used when the caller doesn't want the
// field metadata.
// Returns a SQLError.
func (c *Conn) readColumnDefinitionType(field *Field, index int) error {
	colDef, err := c.readEphemeralPacket()
	if err != nil {
		return sqlerror.NewSQLError(sqlerror.CRServerLost, sqlerror.SSUnknownSQLState, "%v", err)
	}
	defer c.recycleReadPacket()

	// catalog, schema, table, orgTable, name and orgName are
	// strings, all skipped.
	pos, ok := skipLenEncString(colDef, 0)
	if !ok {
		return fmt.Errorf("skipping col %v catalog failed", index)
	}
	pos, ok = skipLenEncString(colDef, pos)
	if !ok {
		return fmt.Errorf("skipping col %v schema failed", index)
	}
	pos, ok = skipLenEncString(colDef, pos)
	if !ok {
		return fmt.Errorf("skipping col %v table failed", index)
	}
	pos, ok = skipLenEncString(colDef, pos)
	if !ok {
		return fmt.Errorf("skipping col %v org_table failed", index)
	}
	pos, ok = skipLenEncString(colDef, pos)
	if !ok {
		return fmt.Errorf("skipping col %v name failed", index)
	}
	pos, ok = skipLenEncString(colDef, pos)
	if !ok {
		return fmt.Errorf("skipping col %v org_name failed", index)
	}

	// Skip length of fixed-length fields, always 0x0c, the
	// characterSet (2 bytes) and columnLength (4 bytes).
	pos += 1 + 2 + 4

	// type is one byte
	t, _, ok := readByte(colDef, pos)
	if !ok {
		return fmt.Errorf("extracting col %v type failed", index)
	}
	field.Type = FieldType(t)

	// The rest is not needed.
	return nil
}

// parseRow parses an individual row of a text result set. Cells are
// length-encoded strings, except NULL which is the single byte 0xfb.
// A nil cell in the returned row is a SQL NULL.
func (c *Conn) parseRow(data []byte, fieldCount int) (Row, error) {
	row := make(Row, 0, fieldCount)
	pos := 0
	for len(row) < fieldCount {
		if pos >= len(data) {
			return nil, fmt.Errorf("row is missing values: got %v of %v", len(row), fieldCount)
		}
		if data[pos] == NullValue {
			pos++
			row = append(row, nil)
			continue
		}
		var s []byte
		var ok bool
		s, pos, ok = readLenEncStringAsBytesCopy(data, pos)
		if !ok {
			return nil, fmt.Errorf("decoding value failed")
		}
		row = append(row, s)
	}
	return row, nil
}

// ExecuteFetch executes a query and returns the result.
// Returns a SQLError. Depending on the transport used, the error
// returned might be different for the same condition:
//
// 1. if the server closes the connection when no command is in flight:
//
//	1.1 unix: WriteComQuery will fail with a 'broken pipe', and we'll
//	    return CRServerGone(2006).
//
//	1.2 tcp: WriteComQuery will most likely work, but readComQueryResponse
//	    will fail, and we'll return CRServerLost(2013).
//
//	    This is because closing a TCP socket on the server side sends
//	    a FIN to the client (telling the client the server is done
//	    writing), but on most platforms doesn't send a RST.  So the
//	    client has no idea it can't write. So it succeeds writing data, which
//	    *then* triggers the server to send a RST back, received a bit
//	    later. By then, the client has already started waiting for
//	    the response, and will just return a CRServerLost(2013).
//	    So the caller should not trust the specific error code too much.
//
// 2. if the server closes the connection when a command is in flight:
//
//	2.1 unix: the best case, the client will return CRServerLost(2013).
//
//	2.2 tcp: the client will most likely return CRServerLost(2013).
func (c *Conn) ExecuteFetch(query string, maxrows int, wantfields bool) (result *Result, err error) {
	result, _, err = c.ExecuteFetchMulti(query, maxrows, wantfields)
	return result, err
}

// ExecuteFetchMulti is for fetching multiple results from a
// multi-statement query. Returns the first result, and whether more
// results exist (to be fetched with ReadQueryResult).
func (c *Conn) ExecuteFetchMulti(query string, maxrows int, wantfields bool) (result *Result, more bool, err error) {
	defer func() {
		if err != nil {
			if sqlErr, ok := err.(*sqlerror.SQLError); ok {
				sqlErr.Query = query
			}
		}
	}()

	// Send the query as a COM_QUERY packet.
	if err = c.writeComQuery(query); err != nil {
		return nil, false, err
	}
	if err = c.flush(); err != nil {
		return nil, false, sqlerror.NewSQLError(sqlerror.CRServerGone, sqlerror.SSUnknownSQLState, "%v", err)
	}

	res, more, _, err := c.ReadQueryResult(maxrows, wantfields)
	if err != nil {
		return nil, more, err
	}
	return res, more, err
}

// ReadQueryResult gets the result from the last written query.
func (c *Conn) ReadQueryResult(maxrows int, wantfields bool) (*Result, bool, uint16, error) {
	// Get the result.
	colNumber, packetOk, err := c.readComQueryResponse()
	if err != nil {
		return nil, false, 0, err
	}
	more := packetOk.statusFlags&ServerMoreResultsExists != 0
	warnings := packetOk.warnings
	if colNumber == 0 {
		// OK packet, means no results. Just use the numbers.
		return &Result{
			RowsAffected:        packetOk.affectedRows,
			InsertID:            packetOk.lastInsertID,
			StatusFlags:         packetOk.statusFlags,
			Warnings:            packetOk.warnings,
			Info:                packetOk.info,
			SessionStateChanges: packetOk.sessionStateData,
		}, more, warnings, nil
	}

	fields := make([]Field, colNumber)
	result := &Result{
		Fields: make([]*Field, colNumber),
	}

	// Read column headers. One packet per column.
	// Build the fields.
	for i := 0; i < colNumber; i++ {
		result.Fields[i] = &fields[i]

		if wantfields {
			if err := c.readColumnDefinition(result.Fields[i], i); err != nil {
				return nil, false, 0, err
			}
		} else {
			if err := c.readColumnDefinitionType(result.Fields[i], i); err != nil {
				return nil, false, 0, err
			}
		}
	}

	if c.Capabilities&CapabilityClientDeprecateEOF == 0 {
		// EOF is only present here if it's not deprecated.
		data, err := c.readEphemeralPacket()
		if err != nil {
			return nil, false, 0, sqlerror.NewSQLError(sqlerror.CRServerLost, sqlerror.SSUnknownSQLState, "%v", err)
		}
		if isEOFPacket(data) {
			// This is what we expect.
			// Warnings and status flags are ignored.
			c.recycleReadPacket()
			// goto: read row loop
		} else if data[0] == ErrPacket {
			defer c.recycleReadPacket()
			return nil, false, 0, ParseErrorPacket(data)
		} else {
			defer c.recycleReadPacket()
			return nil, false, 0, fmt.Errorf("unexpected packet after fields: %v", data)
		}
	}

	// read each row until EOF or OK packet.
	for {
		data, err := c.ReadPacket()
		if err != nil {
			return nil, false, 0, err
		}

		if isEOFPacket(data) {
			// Strip the partial Fields before returning.
			if !wantfields {
				result.Fields = nil
			}

			// The deprecated EOF packets change means that this is either an
			// EOF packet or an OK packet with the EOF type code.
			if c.Capabilities&CapabilityClientDeprecateEOF == 0 {
				var statusFlags uint16
				warnings, statusFlags, err = parseEOFPacket(data)
				if err != nil {
					return nil, false, 0, err
				}
				more = statusFlags&ServerMoreResultsExists != 0
				result.StatusFlags = statusFlags
				c.StatusFlags = statusFlags
			} else {
				var packetEof *PacketOK
				packetEof, err = c.parseOKPacket(data)
				if err != nil {
					return nil, false, 0, err
				}
				warnings = packetEof.warnings
				more = packetEof.statusFlags&ServerMoreResultsExists != 0
				result.StatusFlags = packetEof.statusFlags
				result.SessionStateChanges = packetEof.sessionStateData
			}
			return result, more, warnings, nil

		} else if data[0] == ErrPacket {
			// Error packet.
			return nil, false, 0, ParseErrorPacket(data)
		}

		if len(result.Rows) == maxrows {
			// Kill the connection to stop the query, as we
			// don't want to buffer the rest.
			c.Close()
			return nil, false, 0, fmt.Errorf("row count exceeded %d", maxrows)
		}

		// Regular row.
		row, err := c.parseRow(data, colNumber)
		if err != nil {
			return nil, false, 0, err
		}
		result.Rows = append(result.Rows, row)
	}
}

// drainResults will read all packets for a result set and ignore them.
func (c *Conn) drainResults() error {
	for {
		data, err := c.readEphemeralPacket()
		if err != nil {
			return sqlerror.NewSQLError(sqlerror.CRServerLost, sqlerror.SSUnknownSQLState, "%v", err)
		}
		if isEOFPacket(data) {
			c.recycleReadPacket()
			return nil
		} else if data[0] == ErrPacket {
			defer c.recycleReadPacket()
			return ParseErrorPacket(data)
		}
		c.recycleReadPacket()
	}
}

// readComQueryResponse reads the first packet of a query response. It
// is one of: an OK packet (no result set), an ERR packet, or the
// column count of a result set.
func (c *Conn) readComQueryResponse() (int, *PacketOK, error) {
	data, err := c.readEphemeralPacket()
	if err != nil {
		return 0, nil, sqlerror.NewSQLError(sqlerror.CRServerLost, sqlerror.SSUnknownSQLState, "%v", err)
	}
	defer c.recycleReadPacket()
	if len(data) == 0 {
		return 0, nil, sqlerror.NewSQLError(sqlerror.CRMalformedPacket, sqlerror.SSUnknownSQLState, "invalid empty COM_QUERY response packet")
	}

	switch data[0] {
	case OKPacket:
		packetOk, err := c.parseOKPacket(data)
		return 0, packetOk, err
	case ErrPacket:
		// Error
		return 0, nil, c.checkFatalError(ParseErrorPacket(data))
	case 0xfb:
		// Local infile
		return 0, nil, fmt.Errorf("not implemented")
	}
	n, pos, ok := readLenEncInt(data, 0)
	if !ok {
		return 0, nil, sqlerror.NewSQLError(sqlerror.CRMalformedPacket, sqlerror.SSUnknownSQLState, "cannot get column number")
	}
	if pos != len(data) {
		return 0, nil, sqlerror.NewSQLError(sqlerror.CRMalformedPacket, sqlerror.SSUnknownSQLState, "extra data in COM_QUERY response")
	}
	return int(n), &PacketOK{}, nil
}

//
// Server side methods. Test servers built on this package (and any
// real server) use these to send back result sets.
//

// writeFields writes the fields of a Result. It should be called only
// if there are valid columns in the result.
func (c *Conn) writeFields(result *Result) error {
	// Send the number of fields first.
	if err := c.sendColumnCount(uint64(len(result.Fields))); err != nil {
		return err
	}

	// Now send each Field.
	for _, field := range result.Fields {
		if err := c.writeColumnDefinition(field); err != nil {
			return err
		}
	}

	// Now send an EOF packet.
	if c.Capabilities&CapabilityClientDeprecateEOF == 0 {
		// With CapabilityClientDeprecateEOF, we do not send this EOF.
		if err := c.writeEOFPacket(c.StatusFlags, 0); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) sendColumnCount(count uint64) error {
	length := lenEncIntSize(count)
	data := c.startEphemeralPacket(length)
	writeLenEncInt(data, 0, count)
	return c.writeEphemeralPacket()
}

func (c *Conn) writeColumnDefinition(field *Field) error {
	length := 4 + // lenEncStringSize("def")
		lenEncStringSize(field.Database) +
		lenEncStringSize(field.Table) +
		lenEncStringSize(field.OrgTable) +
		lenEncStringSize(field.Name) +
		lenEncStringSize(field.OrgName) +
		1 + // length of fixed length fields
		2 + // character set
		4 + // column length
		1 + // type
		2 + // flags
		1 + // decimals
		2 // filler

	data := c.startEphemeralPacket(length)
	pos := 0

	pos = writeLenEncString(data, pos, "def") // Always the same.
	pos = writeLenEncString(data, pos, field.Database)
	pos = writeLenEncString(data, pos, field.Table)
	pos = writeLenEncString(data, pos, field.OrgTable)
	pos = writeLenEncString(data, pos, field.Name)
	pos = writeLenEncString(data, pos, field.OrgName)
	pos = writeByte(data, pos, 0x0c)
	pos = writeUint16(data, pos, uint16(field.Charset))
	pos = writeUint32(data, pos, field.ColumnLength)
	pos = writeByte(data, pos, byte(field.Type))
	pos = writeUint16(data, pos, uint16(field.Flags))
	pos = writeByte(data, pos, byte(field.Decimals))
	pos = writeUint16(data, pos, uint16(0x0000))

	if pos != len(data) {
		return fmt.Errorf("writeColumnDefinition packing error: got %v bytes but expected %v", pos, len(data))
	}

	return c.writeEphemeralPacket()
}

// writeRows sends the rows of a Result.
func (c *Conn) writeRows(result *Result) error {
	for _, row := range result.Rows {
		if err := c.writeRow(row); err != nil {
			return err
		}
	}
	return nil
}

// writeRow sends the contents of one row of a Result.
func (c *Conn) writeRow(row Row) error {
	length := 0
	for _, val := range row {
		if val == nil {
			length++
		} else {
			l := len(val)
			length += lenEncIntSize(uint64(l)) + l
		}
	}

	data := c.startEphemeralPacket(length)
	pos := 0
	for _, val := range row {
		if val == nil {
			pos = writeByte(data, pos, NullValue)
		} else {
			pos = writeLenEncBytes(data, pos, val)
		}
	}

	if pos != length {
		return fmt.Errorf("packet row: got %v bytes but expected %v", pos, length)
	}

	return c.writeEphemeralPacket()
}

// writeEndResult concludes a result set. It writes an EOF or OK packet
// depending on CapabilityClientDeprecateEOF.
func (c *Conn) writeEndResult(more bool, affectedRows, lastInsertID uint64, warnings uint16) error {
	flags := c.StatusFlags
	if more {
		flags |= ServerMoreResultsExists
	}

	// Send either an EOF, or an OK packet.
	if c.Capabilities&CapabilityClientDeprecateEOF == 0 {
		if err := c.writeEOFPacket(flags, warnings); err != nil {
			return err
		}
	} else {
		// This will flush too.
		return c.writeOKPacketWithEOFHeader(affectedRows, lastInsertID, flags, warnings)
	}

	return nil
}
