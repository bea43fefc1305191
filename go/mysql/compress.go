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
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compression algorithm names, matching the values of the
// compression-algorithms server variable.
const (
	// CompressionZlib is negotiated via CLIENT_COMPRESS.
	CompressionZlib = "zlib"

	// CompressionZstd is negotiated via
	// CLIENT_ZSTD_COMPRESSION_ALGORITHM, with an explicit level byte
	// in the handshake response.
	CompressionZstd = "zstd"
)

// DefaultZstdLevel is the level sent in the handshake response when the
// caller doesn't pick one. Matches the server default.
const DefaultZstdLevel = 3

// compressedTransport implements the MySQL compressed protocol: every
// frame is 3 bytes of compressed length, 1 byte of sequence and 3
// bytes of uncompressed length, followed by the (possibly) compressed
// payload. An uncompressed length of zero means the payload was sent
// as-is, which both sides do for payloads under minCompressLength.
//
// The transport sits between the timed conn and the packet framing and
// is invisible to it: framing still splits and reassembles logical
// packets as if talking to the socket.
type compressedTransport struct {
	conn io.ReadWriter

	// sequence is the compressed-frame sequence counter. It resets to
	// zero with the packet sequence at every command boundary.
	sequence uint8

	algorithm string
	level     int

	// pending holds decompressed bytes not yet consumed by Read.
	pending bytes.Buffer

	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
}

func newCompressedTransport(conn io.ReadWriter, algorithm string, level int) (*compressedTransport, error) {
	ct := &compressedTransport{
		conn:      conn,
		algorithm: algorithm,
		level:     level,
	}
	switch algorithm {
	case CompressionZlib:
	case CompressionZstd:
		if level == 0 {
			ct.level = DefaultZstdLevel
		}
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(ct.level)))
		if err != nil {
			return nil, err
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		ct.zstdEnc = enc
		ct.zstdDec = dec
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", algorithm)
	}
	return ct, nil
}

func (ct *compressedTransport) resetSequence() {
	ct.sequence = 0
}

func (ct *compressedTransport) Read(p []byte) (int, error) {
	if ct.pending.Len() == 0 {
		if err := ct.readFrame(); err != nil {
			return 0, err
		}
	}
	return ct.pending.Read(p)
}

func (ct *compressedTransport) readFrame() error {
	var header [compressedHeaderSize]byte
	if _, err := io.ReadFull(ct.conn, header[:]); err != nil {
		return fmt.Errorf("io.ReadFull(compressed header) failed: %w", err)
	}
	compLength, _, _ := readUint24(header[:], 0)
	sequence := header[3]
	uncompLength, _, _ := readUint24(header[:], 4)

	if sequence != ct.sequence {
		return fmt.Errorf("invalid compressed sequence, expected %v got %v", ct.sequence, sequence)
	}
	ct.sequence++

	payload := make([]byte, compLength)
	if _, err := io.ReadFull(ct.conn, payload); err != nil {
		return fmt.Errorf("io.ReadFull(compressed payload of length %v) failed: %w", compLength, err)
	}

	if uncompLength == 0 {
		// Sent uncompressed.
		ct.pending.Write(payload)
		return nil
	}

	uncompressed, err := ct.decompress(payload)
	if err != nil {
		return err
	}
	if len(uncompressed) != int(uncompLength) {
		return fmt.Errorf("compressed frame declared %v uncompressed bytes, got %v", uncompLength, len(uncompressed))
	}
	ct.pending.Write(uncompressed)
	return nil
}

func (ct *compressedTransport) decompress(payload []byte) ([]byte, error) {
	switch ct.algorithm {
	case CompressionZstd:
		return ct.zstdDec.DecodeAll(payload, nil)
	default:
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("zlib.NewReader failed: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
}

func (ct *compressedTransport) compress(chunk []byte) ([]byte, error) {
	switch ct.algorithm {
	case CompressionZstd:
		return ct.zstdEnc.EncodeAll(chunk, nil), nil
	default:
		var buf bytes.Buffer
		level := ct.level
		if level == 0 {
			level = zlib.DefaultCompression
		}
		zw, err := zlib.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(chunk); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

// Write frames p into one or more compressed-protocol frames. A frame
// never carries more than MaxPacketSize uncompressed bytes.
func (ct *compressedTransport) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		chunk := p
		if len(chunk) > MaxPacketSize {
			chunk = chunk[:MaxPacketSize]
		}
		if err := ct.writeFrame(chunk); err != nil {
			return total - len(p), err
		}
		p = p[len(chunk):]
	}
	return total, nil
}

func (ct *compressedTransport) writeFrame(chunk []byte) error {
	payload := chunk
	uncompLength := 0

	if len(chunk) >= minCompressLength {
		compressed, err := ct.compress(chunk)
		if err != nil {
			return err
		}
		// Compression can lose on small or high-entropy payloads;
		// fall back to sending raw when it does.
		if len(compressed) < len(chunk) {
			payload = compressed
			uncompLength = len(chunk)
		}
	}

	var header [compressedHeaderSize]byte
	writeUint24(header[:], 0, uint32(len(payload)))
	header[3] = ct.sequence
	writeUint24(header[:], 4, uint32(uncompLength))
	ct.sequence++

	if _, err := ct.conn.Write(header[:]); err != nil {
		return fmt.Errorf("Write(compressed header) failed: %w", err)
	}
	if _, err := ct.conn.Write(payload); err != nil {
		return fmt.Errorf("Write(compressed payload) failed: %w", err)
	}
	return nil
}
