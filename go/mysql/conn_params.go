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
	"crypto/tls"
	"fmt"
	"time"
)

// ConnParams contains all the parameters to use to connect to mysql.
// It is consumed as input: parsing DSNs or flag files into one of
// these is the caller's business.
type ConnParams struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Uname      string `json:"uname"`
	Pass       string `json:"pass"`
	DbName     string `json:"dbname"`
	UnixSocket string `json:"unix_socket"`
	Charset    string `json:"charset"`

	// Collation and SQLMode, when set, are applied with SET statements
	// right after authentication, before the connection is handed out.
	Collation string `json:"collation"`
	SQLMode   string `json:"sql_mode"`

	// Pass2 and Pass3 are the second and third factor passwords, used
	// when the server asks for more factors after the first one
	// succeeds (MULTI_FACTOR_AUTHENTICATION).
	Pass2 string `json:"pass2"`
	Pass3 string `json:"pass3"`

	// Flags to add to the negotiated capability bitmask, on top of
	// what this library always requests.
	Flags uint64 `json:"flags"`

	// SslConfig, when set, requires a TLS upgrade before the handshake
	// response is sent. Nil means plaintext.
	SslConfig *tls.Config

	// SslRequired fails the connection when set and the server did not
	// advertise CLIENT_SSL, rather than silently downgrading.
	SslRequired bool

	// CompressionAlgorithm is "" (none), "zlib" or "zstd".
	CompressionAlgorithm string
	// CompressionLevel only applies to zstd and is sent to the server
	// in the handshake response.
	CompressionLevel int

	// ConnectTimeout bounds the dial plus the whole handshake,
	// authentication included.
	ConnectTimeout time.Duration

	// ReadTimeout is the cumulative i/o budget applied per command
	// once the connection is established. Zero means unlimited.
	ReadTimeout time.Duration

	// AuthPluginName is the plugin used to encode the first auth
	// response before the server had a chance to ask for a specific
	// one. Defaults to caching_sha2_password over a secure channel and
	// mysql_native_password otherwise.
	AuthPluginName string

	// AllowPublicKeyRetrieval permits asking the server for its RSA
	// public key over an insecure channel. Off by default: a
	// man-in-the-middle can substitute its own key.
	AllowPublicKeyRetrieval bool

	// ServerPublicKey is a PEM-encoded RSA key to use for
	// sha256_password / caching_sha2_password over plaintext, instead
	// of retrieving one from the server.
	ServerPublicKey []byte

	// KerberosSPN overrides the service principal name sent by the
	// server in the authentication_kerberos_client challenge.
	KerberosSPN string
	// Krb5ConfigPath is the krb5.conf to load for Kerberos auth.
	// Empty means /etc/krb5.conf.
	Krb5ConfigPath string
	// KerberosKeytabPath, when set, authenticates with a keytab rather
	// than a password.
	KerberosKeytabPath string

	// FIDODevice performs the user-presence ceremony for
	// authentication_fido_client. Required when the server selects
	// that plugin.
	FIDODevice DeviceCeremony

	// EnableQueryInfo requests the info field of OK packets to be
	// retained on results.
	EnableQueryInfo bool
}

// hostLabel is the human-readable endpoint used in error messages.
func (cp *ConnParams) hostLabel() string {
	if cp == nil {
		return "<nil>"
	}
	if cp.UnixSocket != "" {
		return cp.UnixSocket
	}
	return fmt.Sprintf("%s:%d", cp.Host, cp.Port)
}

// EnableSSL sets up an empty TLS config if none is present.
func (cp *ConnParams) EnableSSL() {
	if cp.SslConfig == nil {
		cp.SslConfig = &tls.Config{}
	}
}

// SslEnabled returns if a TLS upgrade will be attempted.
func (cp *ConnParams) SslEnabled() bool {
	return cp.SslConfig != nil
}

// password returns the password for the given 1-based factor.
func (cp *ConnParams) password(factor int) string {
	switch factor {
	case 2:
		return cp.Pass2
	case 3:
		return cp.Pass3
	default:
		return cp.Pass
	}
}
