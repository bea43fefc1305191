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

// This file contains the constant definitions for the MySQL client/server
// protocol. Names try to match the MySQL source when possible.

const (
	// MaxPacketSize is the maximum payload length of a single packet
	// on the wire. A logical packet longer than this is split into
	// several packets, each but the last exactly this long. The value
	// is also the largest length the 3-byte header can express.
	MaxPacketSize = (1 << 24) - 1

	// protocolVersion is the only protocol version this library speaks.
	protocolVersion = 10

	// packetHeaderSize is 3 bytes of length plus 1 byte of sequence.
	packetHeaderSize = 4

	// compressedHeaderSize is 3 bytes of compressed length, 1 byte of
	// sequence and 3 bytes of uncompressed length.
	compressedHeaderSize = 7

	// minCompressLength is the threshold below which a compressed-
	// protocol frame is sent uncompressed (uncompressed length 0).
	minCompressLength = 50

	// DefaultServerVersion is only used by test servers in this module.
	DefaultServerVersion = "8.0.34-mysqlwire"
)

// Capability flags, the lower and upper halves of which appear in two
// separate locations of the initial handshake for historical reasons.
// Originally found in include/mysql/mysql_com.h
const (
	// CapabilityClientLongPassword is CLIENT_LONG_PASSWORD.
	// New more secure passwords. Assumed to be set since 4.1.1.
	CapabilityClientLongPassword = 1

	// CapabilityClientFoundRows is CLIENT_FOUND_ROWS.
	CapabilityClientFoundRows = 1 << 1

	// CapabilityClientLongFlag is CLIENT_LONG_FLAG.
	// Longer flags in Protocol::ColumnDefinition320.
	CapabilityClientLongFlag = 1 << 2

	// CapabilityClientConnectWithDB is CLIENT_CONNECT_WITH_DB.
	// One can specify db on connect.
	CapabilityClientConnectWithDB = 1 << 3

	// CLIENT_NO_SCHEMA 1 << 4
	// Do not permit database.table.column.

	// CapabilityClientCompress is CLIENT_COMPRESS.
	// Both sides support zlib compression of the packet stream.
	CapabilityClientCompress = 1 << 5

	// CLIENT_ODBC 1 << 6
	// Special handling of ODBC behavior.

	// CapabilityClientLocalFiles is CLIENT_LOCAL_FILES.
	CapabilityClientLocalFiles = 1 << 7

	// CLIENT_IGNORE_SPACE 1 << 8

	// CapabilityClientProtocol41 is CLIENT_PROTOCOL_41.
	// New 4.1 protocol. Enforced everywhere.
	CapabilityClientProtocol41 = 1 << 9

	// CLIENT_INTERACTIVE 1 << 10

	// CapabilityClientSSL is CLIENT_SSL.
	// Switch to SSL after handshake.
	CapabilityClientSSL = 1 << 11

	// CLIENT_IGNORE_SIGPIPE 1 << 12

	// CapabilityClientTransactions is CLIENT_TRANSACTIONS.
	// Client knows about transactions.
	CapabilityClientTransactions = 1 << 13

	// CLIENT_RESERVED 1 << 14

	// CapabilityClientSecureConnection is CLIENT_SECURE_CONNECTION.
	// New 4.1 authentication. Always set.
	CapabilityClientSecureConnection = 1 << 15

	// CapabilityClientMultiStatements is CLIENT_MULTI_STATEMENTS.
	// Enable/disable multi-stmt support.
	CapabilityClientMultiStatements = 1 << 16

	// CapabilityClientMultiResults is CLIENT_MULTI_RESULTS.
	// Enable/disable multi-results.
	CapabilityClientMultiResults = 1 << 17

	// CapabilityClientPluginAuth is CLIENT_PLUGIN_AUTH.
	// Client supports plugin authentication.
	CapabilityClientPluginAuth = 1 << 19

	// CapabilityClientConnAttr is CLIENT_CONNECT_ATTRS.
	// Permits connection attributes.
	CapabilityClientConnAttr = 1 << 20

	// CapabilityClientPluginAuthLenencClientData is
	// CLIENT_PLUGIN_AUTH_LENENC_CLIENT_DATA.
	CapabilityClientPluginAuthLenencClientData = 1 << 21

	// CapabilityClientSessionTrack is CLIENT_SESSION_TRACK.
	// Capable of handling server state change information.
	CapabilityClientSessionTrack = 1 << 23

	// CapabilityClientDeprecateEOF is CLIENT_DEPRECATE_EOF.
	// Expects an OK (instead of EOF) after the resultset rows of a
	// text resultset.
	CapabilityClientDeprecateEOF = 1 << 24

	// CapabilityClientZstdCompressionAlgorithm is
	// CLIENT_ZSTD_COMPRESSION_ALGORITHM.
	// Both sides support zstd compression of the packet stream.
	CapabilityClientZstdCompressionAlgorithm = 1 << 26

	// CapabilityClientQueryAttributes is CLIENT_QUERY_ATTRIBUTES.
	CapabilityClientQueryAttributes = 1 << 27

	// CapabilityClientMultiFactorAuth is MULTI_FACTOR_AUTHENTICATION.
	// Server may ask for up to two additional authentication factors.
	CapabilityClientMultiFactorAuth = 1 << 28
)

// Status flags. They are returned by the server in a few cases.
// Originally found in include/mysql/mysql_com.h
// See http://dev.mysql.com/doc/internals/en/status-flags.html
const (
	// ServerStatusInTrans is SERVER_STATUS_IN_TRANS.
	ServerStatusInTrans = 1 << 0

	// ServerStatusAutocommit is SERVER_STATUS_AUTOCOMMIT.
	ServerStatusAutocommit = 1 << 1

	// ServerMoreResultsExists is SERVER_MORE_RESULTS_EXISTS.
	// The next command in a multi-statement batch has a result set
	// pending after this one.
	ServerMoreResultsExists = 1 << 3

	// ServerStatusCursorExists is SERVER_STATUS_CURSOR_EXISTS.
	ServerStatusCursorExists = 1 << 6

	// ServerSessionStateChanged is SERVER_SESSION_STATE_CHANGED.
	ServerSessionStateChanged = 1 << 14
)

// Packet types.
// Originally found in include/mysql/mysql_com.h
const (
	// ComQuit is COM_QUIT.
	ComQuit = 0x01

	// ComInitDB is COM_INIT_DB.
	ComInitDB = 0x02

	// ComQuery is COM_QUERY.
	ComQuery = 0x03

	// ComPing is COM_PING.
	ComPing = 0x0e

	// ComStmtPrepare is COM_STMT_PREPARE.
	ComStmtPrepare = 0x16

	// ComStmtExecute is COM_STMT_EXECUTE.
	ComStmtExecute = 0x17

	// ComStmtClose is COM_STMT_CLOSE.
	ComStmtClose = 0x19

	// ComStmtReset is COM_STMT_RESET.
	ComStmtReset = 0x1a

	// ComSetOption is COM_SET_OPTION.
	ComSetOption = 0x1b

	// ComChangeUser is COM_CHANGE_USER.
	ComChangeUser = 0x11

	// ComResetConnection is COM_RESET_CONNECTION.
	ComResetConnection = 0x1f

	// OKPacket is the header of the OK packet.
	OKPacket = 0x00

	// EOFPacket is the header of the EOF packet.
	EOFPacket = 0xfe

	// ErrPacket is the header of the error packet.
	ErrPacket = 0xff

	// NullValue is the encoded value of NULL in a text row.
	NullValue = 0xfb

	// AuthMoreDataPacket is the header of a packet that carries extra
	// authentication data from the server mid-handshake.
	AuthMoreDataPacket = 0x01

	// AuthSwitchRequestPacket is the header of the auth switch request
	// (same byte as EOFPacket, disambiguated by packet length).
	AuthSwitchRequestPacket = 0xfe

	// AuthNextFactorPacket is the header of the packet the server
	// sends to start authentication of the next MFA factor.
	AuthNextFactorPacket = 0x02
)

// Auth packets constants.
const (
	// MysqlNativePassword uses a salt and transmits a hash on the wire.
	MysqlNativePassword = "mysql_native_password"

	// MysqlClearPassword transmits the password in the clear.
	MysqlClearPassword = "mysql_clear_password"

	// MysqlSHA256Password uses a salt and transmits an RSA-encrypted
	// password, or the clear password over TLS.
	MysqlSHA256Password = "sha256_password"

	// CachingSha2Password uses a salt and transmits a SHA256 hash on
	// the wire, with a fast path when the server has the entry cached.
	CachingSha2Password = "caching_sha2_password"

	// MysqlSASLLDAP is authentication_ldap_sasl_client, a SCRAM
	// challenge-response exchange proxied to an LDAP backend.
	MysqlSASLLDAP = "authentication_ldap_sasl_client"

	// MysqlKerberos is authentication_kerberos_client.
	MysqlKerberos = "authentication_kerberos_client"

	// MysqlFIDO is authentication_fido_client.
	MysqlFIDO = "authentication_fido_client"

	// cachingSha2FastAuthSuccess is the AuthMoreData byte value for
	// the caching_sha2_password fast path: the scramble matched the
	// server's cache and a plain OK follows.
	cachingSha2FastAuthSuccess = 0x03

	// cachingSha2PerformFullAuthentication requests the full exchange:
	// clear password over TLS, or RSA-encrypted otherwise.
	cachingSha2PerformFullAuthentication = 0x04

	// cachingSha2RequestPublicKey asks the server for its RSA public key.
	cachingSha2RequestPublicKey = 0x02
)

// Charset numbers, a small subset.
const (
	// CharacterSetUtf8mb4 is utf8mb4_general_ci.
	CharacterSetUtf8mb4 = 45

	// CharacterSetBinary is binary.
	CharacterSetBinary = 63
)

// Field type values, per enum_field_types in include/mysql/mysql_com.h.
type FieldType byte

const (
	TypeDecimal    FieldType = 0
	TypeTiny       FieldType = 1
	TypeShort      FieldType = 2
	TypeLong       FieldType = 3
	TypeFloat      FieldType = 4
	TypeDouble     FieldType = 5
	TypeNull       FieldType = 6
	TypeTimestamp  FieldType = 7
	TypeLonglong   FieldType = 8
	TypeInt24      FieldType = 9
	TypeDate       FieldType = 10
	TypeTime       FieldType = 11
	TypeDatetime   FieldType = 12
	TypeYear       FieldType = 13
	TypeVarchar    FieldType = 15
	TypeBit        FieldType = 16
	TypeJSON       FieldType = 245
	TypeNewDecimal FieldType = 246
	TypeEnum       FieldType = 247
	TypeSet        FieldType = 248
	TypeTinyBlob   FieldType = 249
	TypeMediumBlob FieldType = 250
	TypeLongBlob   FieldType = 251
	TypeBlob       FieldType = 252
	TypeVarString  FieldType = 253
	TypeString     FieldType = 254
	TypeGeometry   FieldType = 255
)

// Field flags, per include/mysql/mysql_com.h.
const (
	flagNotNull       = 1
	flagPrimaryKey    = 2
	flagUniqueKey     = 4
	flagMultipleKey   = 8
	flagBlob          = 16
	flagUnsigned      = 32
	flagZeroFill      = 64
	flagBinary        = 128
	flagEnum          = 256
	flagAutoIncrement = 512
	flagTimestamp     = 1024
	flagSet           = 2048
)
