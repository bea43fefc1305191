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
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeRecord is what the fake server saw in one COM_STMT_EXECUTE.
type executeRecord struct {
	stmtID     uint32
	nullBitmap byte
	paramType  uint16
	paramValue []byte
}

var preparedTestFields = []*Field{{
	Name:    "id",
	Type:    TypeLonglong,
	Charset: CharacterSetBinary,
}, {
	Name:    "name",
	Type:    TypeVarString,
	Charset: CharacterSetUtf8mb4,
}}

// servePrepared answers the prepared-statement command phase: one
// statement with id 42, one parameter and the two test columns.
func servePrepared(sConn *Conn, executes chan<- executeRecord) {
	for {
		sConn.resetSequence()
		data, err := sConn.readEphemeralPacket()
		if err != nil {
			return
		}
		if len(data) == 0 {
			sConn.recycleReadPacket()
			return
		}
		cmd := data[0]

		var rec executeRecord
		if cmd == ComStmtExecute {
			pos := 1
			rec.stmtID, pos, _ = readUint32(data, pos)
			pos += 5 // flags and iteration count
			rec.nullBitmap, pos, _ = readByte(data, pos)
			pos++ // new-params-bound flag
			rec.paramType, pos, _ = readUint16(data, pos)
			if FieldType(rec.paramType&0x7fff) != TypeNull {
				rec.paramValue, _, _ = readLenEncStringAsBytesCopy(data, pos)
			}
		}
		sConn.recycleReadPacket()

		switch cmd {
		case ComQuit:
			return
		case ComStmtPrepare:
			head := sConn.startEphemeralPacket(12)
			pos := writeByte(head, 0, OKPacket)
			pos = writeUint32(head, pos, 42)
			pos = writeUint16(head, pos, uint16(len(preparedTestFields)))
			pos = writeUint16(head, pos, 1)
			pos = writeByte(head, pos, 0)
			writeUint16(head, pos, 0)
			if err := sConn.writeEphemeralPacket(); err != nil {
				return
			}
			// The parameter definition block. The type in it is a
			// placeholder that clients ignore.
			if err := sConn.writeColumnDefinition(&Field{Name: "?", Type: TypeVarString, Charset: CharacterSetBinary}); err != nil {
				return
			}
			if err := sConn.writeEOFPacket(ServerStatusAutocommit, 0); err != nil {
				return
			}
			for _, f := range preparedTestFields {
				if err := sConn.writeColumnDefinition(f); err != nil {
					return
				}
			}
			if err := sConn.writeEOFPacket(ServerStatusAutocommit, 0); err != nil {
				return
			}
		case ComStmtExecute:
			executes <- rec
			result := &Result{Fields: preparedTestFields}
			if err := sConn.writeFields(result); err != nil {
				return
			}
			// Row (5, "apple"), binary encoded.
			row := sConn.startEphemeralPacket(1 + 1 + 8 + 1 + 5)
			pos := writeByte(row, 0, OKPacket)
			pos = writeByte(row, pos, 0)
			pos = writeUint64(row, pos, 5)
			writeLenEncBytes(row, pos, []byte("apple"))
			if err := sConn.writeEphemeralPacket(); err != nil {
				return
			}
			// Row (6, NULL): column 1 is bit 3 of the bitmap.
			row = sConn.startEphemeralPacket(1 + 1 + 8)
			pos = writeByte(row, 0, OKPacket)
			pos = writeByte(row, pos, 0x08)
			writeUint64(row, pos, 6)
			if err := sConn.writeEphemeralPacket(); err != nil {
				return
			}
			if err := sConn.writeEOFPacket(ServerStatusAutocommit, 0); err != nil {
				return
			}
		case ComStmtReset:
			if err := sConn.writeOKPacket(0, 0, ServerStatusAutocommit, 0); err != nil {
				return
			}
		case ComStmtClose:
			// No response.
		default:
			return
		}
	}
}

func TestPreparedStatement(t *testing.T) {
	executes := make(chan executeRecord, 4)
	params, cleanup := startFakeServer(t, func(sConn *Conn) {
		if !authenticateNative(t, sConn, testServerCaps, "password1") {
			return
		}
		servePrepared(sConn, executes)
	})
	defer cleanup()

	conn, err := Connect(context.Background(), params)
	require.NoError(t, err)
	defer conn.Close()

	stmt, err := conn.Prepare("select id, name from fruit where id > ?")
	require.NoError(t, err)
	assert.EqualValues(t, 42, stmt.StatementID)
	assert.EqualValues(t, 1, stmt.ParamCount)
	require.Len(t, stmt.Fields, 2)
	assert.Equal(t, "id", stmt.Fields[0].Name)
	assert.Equal(t, "name", stmt.Fields[1].Name)

	// A parameter count mismatch fails before anything hits the wire.
	_, err = stmt.Execute(nil, 10, true)
	require.ErrorContains(t, err, "expects 1 parameters, got 0")

	result, err := stmt.Execute([]BindVariable{Int64BindVariable(3)}, 10, true)
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, Row{[]byte("5"), []byte("apple")}, result.Rows[0])
	assert.Equal(t, Row{[]byte("6"), nil}, result.Rows[1])

	rec := <-executes
	assert.EqualValues(t, 42, rec.stmtID)
	assert.Zero(t, rec.nullBitmap)
	assert.Equal(t, uint16(TypeLonglong), rec.paramType)
	assert.EqualValues(t, 3, binary.LittleEndian.Uint64(rec.paramValue))

	// An unsigned parameter sets the high bit of the declared type.
	_, err = stmt.Execute([]BindVariable{Uint64BindVariable(math.MaxUint64)}, 10, true)
	require.NoError(t, err)
	rec = <-executes
	assert.Equal(t, uint16(TypeLonglong)|0x8000, rec.paramType)
	assert.EqualValues(t, uint64(math.MaxUint64), binary.LittleEndian.Uint64(rec.paramValue))

	// A NULL parameter travels in the bitmap, not as a value.
	_, err = stmt.Execute([]BindVariable{NullBindVariable}, 10, true)
	require.NoError(t, err)
	rec = <-executes
	assert.EqualValues(t, 1, rec.nullBitmap)
	assert.Nil(t, rec.paramValue)

	require.NoError(t, stmt.Reset())
	require.NoError(t, stmt.Close())
	require.NoError(t, conn.Quit())
}

func TestParseBinaryRow(t *testing.T) {
	fields := []*Field{
		{Name: "a", Type: TypeLong},
		{Name: "b", Type: TypeVarString},
		{Name: "c", Type: TypeLong},
	}

	// Middle column NULL: bit 3 of the single bitmap byte.
	data := []byte{0x00, 0x08}
	var num [4]byte
	binary.LittleEndian.PutUint32(num[:], 7)
	data = append(data, num[:]...)
	binary.LittleEndian.PutUint32(num[:], uint32(0xfffffff8)) // -8
	data = append(data, num[:]...)

	row, err := parseBinaryRow(data, fields)
	require.NoError(t, err)
	assert.Equal(t, Row{[]byte("7"), nil, []byte("-8")}, row)
}

func TestParseBinaryRowMalformed(t *testing.T) {
	fields := []*Field{{Name: "a", Type: TypeLong}}

	_, err := parseBinaryRow(nil, fields)
	assert.ErrorContains(t, err, "does not start with 0x00")

	_, err = parseBinaryRow([]byte{0x01, 0x00}, fields)
	assert.ErrorContains(t, err, "does not start with 0x00")

	_, err = parseBinaryRow([]byte{0x00}, fields)
	assert.ErrorContains(t, err, "too short for its NULL bitmap")

	// Bitmap present, value truncated.
	_, err = parseBinaryRow([]byte{0x00, 0x00, 0x01, 0x02}, fields)
	assert.ErrorContains(t, err, "truncated LONG")
}

func TestDecodeBinaryValue(t *testing.T) {
	le16 := func(v uint16) []byte {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], v)
		return b[:]
	}
	le32 := func(v uint32) []byte {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		return b[:]
	}
	le64 := func(v uint64) []byte {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		return b[:]
	}

	tests := []struct {
		name  string
		field *Field
		data  []byte
		want  string
	}{
		{"tiny signed", &Field{Type: TypeTiny}, []byte{0xff}, "-1"},
		{"tiny unsigned", &Field{Type: TypeTiny, Flags: flagUnsigned}, []byte{0xff}, "255"},
		{"short signed", &Field{Type: TypeShort}, le16(0xfffe), "-2"},
		{"year", &Field{Type: TypeYear}, le16(2023), "2023"},
		{"long signed", &Field{Type: TypeLong}, le32(0xffffffff), "-1"},
		{"int24 unsigned", &Field{Type: TypeInt24, Flags: flagUnsigned}, le32(16777215), "16777215"},
		{"longlong signed", &Field{Type: TypeLonglong}, le64(math.MaxUint64), "-1"},
		{"longlong unsigned", &Field{Type: TypeLonglong, Flags: flagUnsigned}, le64(math.MaxUint64), "18446744073709551615"},
		{"float", &Field{Type: TypeFloat}, le32(math.Float32bits(3.5)), "3.5"},
		{"double", &Field{Type: TypeDouble}, le64(math.Float64bits(-1.25)), "-1.25"},
		{"varstring", &Field{Type: TypeVarString}, append([]byte{5}, "hello"...), "hello"},
		{"json", &Field{Type: TypeJSON}, append([]byte{2}, "{}"...), "{}"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			val, pos, err := decodeBinaryValue(test.data, 0, test.field)
			require.NoError(t, err)
			assert.Equal(t, test.want, string(val))
			assert.Equal(t, len(test.data), pos)
		})
	}

	_, _, err := decodeBinaryValue([]byte{1}, 0, &Field{Type: TypeShort})
	assert.ErrorContains(t, err, "truncated SHORT")
}

func TestDecodeBinaryDateTime(t *testing.T) {
	val, _, err := decodeBinaryDateTime([]byte{0}, 0, true)
	require.NoError(t, err)
	assert.Equal(t, "0000-00-00", string(val))

	val, _, err = decodeBinaryDateTime([]byte{0}, 0, false)
	require.NoError(t, err)
	assert.Equal(t, "0000-00-00 00:00:00", string(val))

	date := []byte{4, 0xe7, 0x07, 12, 31} // 2023-12-31
	val, _, err = decodeBinaryDateTime(date, 0, true)
	require.NoError(t, err)
	assert.Equal(t, "2023-12-31", string(val))

	datetime := []byte{7, 0xe7, 0x07, 12, 31, 23, 59, 58}
	val, _, err = decodeBinaryDateTime(datetime, 0, false)
	require.NoError(t, err)
	assert.Equal(t, "2023-12-31 23:59:58", string(val))

	withMicro := []byte{11, 0xe7, 0x07, 12, 31, 23, 59, 58, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(withMicro[8:], 999999)
	val, _, err = decodeBinaryDateTime(withMicro, 0, false)
	require.NoError(t, err)
	assert.Equal(t, "2023-12-31 23:59:58.999999", string(val))

	_, _, err = decodeBinaryDateTime([]byte{3, 1, 2, 3}, 0, false)
	assert.ErrorContains(t, err, "invalid temporal length")

	_, _, err = decodeBinaryDateTime([]byte{7, 1, 2}, 0, false)
	assert.ErrorContains(t, err, "shorter than its declared length")
}

func TestDecodeBinaryTime(t *testing.T) {
	val, _, err := decodeBinaryTime([]byte{0}, 0)
	require.NoError(t, err)
	assert.Equal(t, "00:00:00", string(val))

	// Negative 2 days 3:04:05.
	neg := []byte{8, 1, 2, 0, 0, 0, 3, 4, 5}
	val, _, err = decodeBinaryTime(neg, 0)
	require.NoError(t, err)
	assert.Equal(t, "-51:04:05", string(val))

	withMicro := []byte{12, 0, 0, 0, 0, 0, 1, 2, 3, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(withMicro[9:], 42)
	val, _, err = decodeBinaryTime(withMicro, 0)
	require.NoError(t, err)
	assert.Equal(t, "01:02:03.000042", string(val))

	_, _, err = decodeBinaryTime([]byte{5, 1, 2, 3, 4, 5}, 0)
	assert.ErrorContains(t, err, "invalid TIME length")
}
