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

package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncLenInt(t *testing.T) {
	tests := []struct {
		value   uint64
		encoded []byte
	}{
		{0x00, []byte{0x00}},
		{0x0a, []byte{0x0a}},
		{0xfa, []byte{0xfa}},
		{0xfb, []byte{0xfc, 0xfb, 0x00}},
		{0xfc, []byte{0xfc, 0xfc, 0x00}},
		{0xfd, []byte{0xfc, 0xfd, 0x00}},
		{0xfe, []byte{0xfc, 0xfe, 0x00}},
		{0xff, []byte{0xfc, 0xff, 0x00}},
		{0x100, []byte{0xfc, 0x00, 0x01}},
		{0xffff, []byte{0xfc, 0xff, 0xff}},
		{0x10000, []byte{0xfd, 0x00, 0x00, 0x01}},
		{0xffffff, []byte{0xfd, 0xff, 0xff, 0xff}},
		{0x1000000, []byte{0xfe, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00}},
		{0xffffffffffffffff, []byte{0xfe, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
	}
	for _, test := range tests {
		// Check lenEncIntSize first.
		assert.Equal(t, len(test.encoded), lenEncIntSize(test.value), "lenEncIntSize(%x)", test.value)

		// Check successful encoding.
		data := make([]byte, len(test.encoded))
		pos := writeLenEncInt(data, 0, test.value)
		assert.Equal(t, len(test.encoded), pos)
		assert.Equal(t, test.encoded, data)

		// Check successful encoding with offset.
		data = make([]byte, len(test.encoded)+1)
		pos = writeLenEncInt(data, 1, test.value)
		assert.Equal(t, len(test.encoded)+1, pos)
		assert.Equal(t, test.encoded, data[1:])

		// Check successful decoding.
		got, pos, ok := readLenEncInt(test.encoded, 0)
		require.True(t, ok, "readLenEncInt(%x) failed", test.value)
		assert.Equal(t, test.value, got)
		assert.Equal(t, len(test.encoded), pos)

		// Check failed decoding.
		_, _, ok = readLenEncInt(test.encoded[:len(test.encoded)-1], 0)
		assert.False(t, ok, "readLenEncInt(%x) on truncated data worked", test.value)
	}

	// The NULL column marker is surfaced through the nullable variant.
	_, pos, isNull, ok := readLenEncIntNullable([]byte{0xfb}, 0)
	require.True(t, ok)
	assert.True(t, isNull)
	assert.Equal(t, 1, pos)
}

func TestEncUint16(t *testing.T) {
	data := make([]byte, 10)

	val16 := uint16(0xabcd)

	assert.Equal(t, 3, writeUint16(data, 1, val16))

	got16, pos, ok := readUint16(data, 1)
	require.True(t, ok)
	assert.Equal(t, val16, got16)
	assert.Equal(t, 3, pos)

	_, _, ok = readUint16(data, 9)
	assert.False(t, ok)
}

func TestEncUint24(t *testing.T) {
	data := make([]byte, 10)

	val32 := uint32(0xabcdef)

	assert.Equal(t, 4, writeUint24(data, 1, val32))

	got32, pos, ok := readUint24(data, 1)
	require.True(t, ok)
	assert.Equal(t, val32, got32)
	assert.Equal(t, 4, pos)

	_, _, ok = readUint24(data, 8)
	assert.False(t, ok)
}

func TestEncUint32(t *testing.T) {
	data := make([]byte, 10)

	val32 := uint32(0xabcdef10)

	assert.Equal(t, 5, writeUint32(data, 1, val32))

	got32, pos, ok := readUint32(data, 1)
	require.True(t, ok)
	assert.Equal(t, val32, got32)
	assert.Equal(t, 5, pos)

	_, _, ok = readUint32(data, 7)
	assert.False(t, ok)
}

func TestEncUint64(t *testing.T) {
	data := make([]byte, 10)

	val64 := uint64(0xabcdef1011121314)

	assert.Equal(t, 9, writeUint64(data, 1, val64))

	got64, pos, ok := readUint64(data, 1)
	require.True(t, ok)
	assert.Equal(t, val64, got64)
	assert.Equal(t, 9, pos)

	_, _, ok = readUint64(data, 7)
	assert.False(t, ok)
}

func TestEncString(t *testing.T) {
	tests := []struct {
		value       string
		lenEncoded  []byte
		nullEncoded []byte
		eofEncoded  []byte
	}{
		{
			"",
			[]byte{0x00},
			[]byte{0x00},
			[]byte{},
		},
		{
			"a",
			[]byte{0x01, 'a'},
			[]byte{'a', 0x00},
			[]byte{'a'},
		},
		{
			"0123456789",
			[]byte{0x0a, '0', '1', '2', '3', '4', '5', '6', '7', '8', '9'},
			[]byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 0x00},
			[]byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9'},
		},
	}
	for _, test := range tests {
		// len encoded tests.

		// Check lenEncStringSize first.
		assert.Equal(t, len(test.lenEncoded), lenEncStringSize(test.value))

		// Check lenNullString.
		assert.Equal(t, len(test.nullEncoded), lenNullString(test.value))

		// Check lenEOFString.
		assert.Equal(t, len(test.eofEncoded), lenEOFString(test.value))

		// Check successful encoding.
		data := make([]byte, len(test.lenEncoded))
		pos := writeLenEncString(data, 0, test.value)
		assert.Equal(t, len(test.lenEncoded), pos)
		assert.Equal(t, test.lenEncoded, data)

		// Check successful decoding as string.
		got, pos, ok := readLenEncString(test.lenEncoded, 0)
		require.True(t, ok)
		assert.Equal(t, test.value, got)
		assert.Equal(t, len(test.lenEncoded), pos)

		// Check failed decoding with shorter data.
		_, _, ok = readLenEncString(test.lenEncoded[:len(test.lenEncoded)-1], 0)
		assert.False(t, ok)

		// Check skipping.
		pos, ok = skipLenEncString(test.lenEncoded, 0)
		require.True(t, ok)
		assert.Equal(t, len(test.lenEncoded), pos)

		// Check successful decoding as bytes.
		gotb, pos, ok := readLenEncStringAsBytes(test.lenEncoded, 0)
		require.True(t, ok)
		assert.Equal(t, test.value, string(gotb))
		assert.Equal(t, len(test.lenEncoded), pos)

		// null encoded tests.

		// Check successful encoding.
		data = make([]byte, len(test.nullEncoded))
		pos = writeNullString(data, 0, test.value)
		assert.Equal(t, len(test.nullEncoded), pos)
		assert.Equal(t, test.nullEncoded, data)

		// Check successful decoding.
		got, pos, ok = readNullString(test.nullEncoded, 0)
		require.True(t, ok)
		assert.Equal(t, test.value, got)
		assert.Equal(t, len(test.nullEncoded), pos)

		// Check failed decoding without terminator.
		_, _, ok = readNullString(test.nullEncoded[:len(test.nullEncoded)-1], 0)
		assert.False(t, ok)

		// EOF encoded tests.

		// Check successful encoding.
		data = make([]byte, len(test.eofEncoded))
		pos = writeEOFString(data, 0, test.value)
		assert.Equal(t, len(test.eofEncoded), pos)
		assert.Equal(t, test.eofEncoded, data)

		// Check successful decoding.
		got, _, ok = readEOFString(test.eofEncoded, 0)
		require.True(t, ok)
		assert.Equal(t, test.value, got)
	}
}

func TestWriteZeroes(t *testing.T) {
	buf := make([]byte, 32)
	for i := range buf {
		buf[i] = 'f'
	}
	pos := writeZeroes(buf, 4, 10)
	assert.Equal(t, 14, pos)
	for i := 4; i < 14; i++ {
		assert.EqualValues(t, 0, buf[i])
	}
	assert.EqualValues(t, 'f', buf[3])
	assert.EqualValues(t, 'f', buf[14])
}

func TestCoderRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	enc := &coder{data: buf}
	enc.writeByte(0x42)
	enc.writeUint16(0x1234)
	enc.writeUint32(0xdeadbeef)
	enc.writeLenEncInt(300)
	enc.writeNullString("abc")
	enc.writeLenEncString("def")

	dec := &coder{data: buf}
	b, ok := dec.readByte()
	require.True(t, ok)
	assert.EqualValues(t, 0x42, b)
	u16, ok := dec.readUint16()
	require.True(t, ok)
	assert.EqualValues(t, 0x1234, u16)
	u32, ok := dec.readUint32()
	require.True(t, ok)
	assert.EqualValues(t, 0xdeadbeef, u32)
	n, ok := dec.readLenEncInt()
	require.True(t, ok)
	assert.EqualValues(t, 300, n)
	s, ok := dec.readNullString()
	require.True(t, ok)
	assert.Equal(t, "abc", s)
	s, ok = dec.readLenEncString()
	require.True(t, ok)
	assert.Equal(t, "def", s)
}
