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
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// AuthError is a structured authentication failure. It always names
// the endpoint, the user and the mechanism that failed; auth problems
// are the ones users debug blind, so a bare "access denied" is not
// acceptable from this layer.
type AuthError struct {
	Host   string
	User   string
	Plugin string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication to %v as user %v using %v failed: %v", e.Host, e.User, e.Plugin, e.Reason)
}

func (c *Conn) authError(plugin, format string, args ...any) error {
	return &AuthError{
		Host:   c.params.hostLabel(),
		User:   c.params.Uname,
		Plugin: plugin,
		Reason: fmt.Sprintf(format, args...),
	}
}

// authMethod is the capability every authentication plugin implements.
// The driver owns the packet exchange; plugins only transform bytes:
//
//   - beginAuth consumes the server challenge and produces the first
//     client response.
//   - handleMoreData consumes an AuthMoreData payload (leading 0x01
//     stripped) and produces the next response, or nil when the plugin
//     expects the server to conclude on its own.
//
// A plugin never reads or writes packets itself; that keeps every
// mechanism testable without a socket and keeps sequence handling in
// exactly one place.
type authMethod interface {
	name() string
	beginAuth(challenge []byte) ([]byte, error)
	handleMoreData(data []byte) ([]byte, error)
}

// authMethodFactory builds a plugin for the given connection and
// 1-based MFA factor.
type authMethodFactory func(c *Conn, factor int) (authMethod, error)

// authMethods is the closed set of mechanisms this library speaks,
// keyed by the plugin name the server advertises.
var authMethods = map[string]authMethodFactory{
	MysqlNativePassword: newNativePasswordMethod,
	MysqlClearPassword:  newClearPasswordMethod,
	MysqlSHA256Password: newSHA256PasswordMethod,
	CachingSha2Password: newCachingSha2Method,
	MysqlSASLLDAP:       newScramMethod,
	MysqlKerberos:       newKerberosMethod,
	MysqlFIDO:           newFIDOMethod,
}

func (c *Conn) newAuthMethod(pluginName string, factor int) (authMethod, error) {
	factory, ok := authMethods[pluginName]
	if !ok {
		return nil, c.authError(pluginName, "server requested unsupported authentication plugin")
	}
	return factory(c, factor)
}

//
// mysql_native_password
//

type nativePasswordMethod struct {
	password string
}

func newNativePasswordMethod(c *Conn, factor int) (authMethod, error) {
	return &nativePasswordMethod{password: c.params.password(factor)}, nil
}

func (m *nativePasswordMethod) name() string { return MysqlNativePassword }

func (m *nativePasswordMethod) beginAuth(challenge []byte) ([]byte, error) {
	if len(challenge) > 20 {
		challenge = challenge[:20]
	}
	return ScrambleMysqlNativePassword(challenge, []byte(m.password)), nil
}

func (m *nativePasswordMethod) handleMoreData(data []byte) ([]byte, error) {
	return nil, fmt.Errorf("%s: unexpected additional auth data from server", MysqlNativePassword)
}

// ScrambleMysqlNativePassword computes the hash of the password using
// 4.1+ method: SHA1(password) XOR SHA1(salt + SHA1(SHA1(password))).
func ScrambleMysqlNativePassword(salt, password []byte) []byte {
	if len(password) == 0 {
		return nil
	}

	// stage1Hash = SHA1(password)
	crypt := sha1.New()
	crypt.Write(password)
	stage1 := crypt.Sum(nil)

	// scrambleHash = SHA1(salt + SHA1(stage1Hash))
	// inner Hash
	crypt.Reset()
	crypt.Write(stage1)
	hash := crypt.Sum(nil)
	// outer Hash
	crypt.Reset()
	crypt.Write(salt)
	crypt.Write(hash)
	scramble := crypt.Sum(nil)

	// token = scrambleHash XOR stage1Hash
	for i := range scramble {
		scramble[i] ^= stage1[i]
	}
	return scramble
}

//
// mysql_clear_password
//

type clearPasswordMethod struct {
	password string
}

func newClearPasswordMethod(c *Conn, factor int) (authMethod, error) {
	return &clearPasswordMethod{password: c.params.password(factor)}, nil
}

func (m *clearPasswordMethod) name() string { return MysqlClearPassword }

func (m *clearPasswordMethod) beginAuth(challenge []byte) ([]byte, error) {
	// NUL-terminated, like the C client sends it.
	return append([]byte(m.password), 0), nil
}

func (m *clearPasswordMethod) handleMoreData(data []byte) ([]byte, error) {
	return nil, fmt.Errorf("%s: unexpected additional auth data from server", MysqlClearPassword)
}

//
// sha256_password
//

type sha256PasswordMethod struct {
	c        *Conn
	password string
	salt     []byte
}

func newSHA256PasswordMethod(c *Conn, factor int) (authMethod, error) {
	return &sha256PasswordMethod{c: c, password: c.params.password(factor)}, nil
}

func (m *sha256PasswordMethod) name() string { return MysqlSHA256Password }

func (m *sha256PasswordMethod) beginAuth(challenge []byte) ([]byte, error) {
	m.salt = trimSalt(challenge)
	if m.password == "" {
		return []byte{0}, nil
	}
	if m.c.isSecureTransport() {
		return append([]byte(m.password), 0), nil
	}
	if pub := m.c.serverPublicKey(); pub != nil {
		return encryptPasswordWithPublicKey(m.password, m.salt, pub)
	}
	if !m.c.params.AllowPublicKeyRetrieval {
		return nil, m.c.authError(MysqlSHA256Password,
			"can't encrypt password over an insecure channel without the server public key (set AllowPublicKeyRetrieval or ServerPublicKey)")
	}
	// Single byte asks the server to send its public key.
	return []byte{1}, nil
}

func (m *sha256PasswordMethod) handleMoreData(data []byte) ([]byte, error) {
	// The only more-data the server sends for this plugin is the
	// PEM-encoded public key we asked for in beginAuth.
	pub, err := parseServerPublicKey(data)
	if err != nil {
		return nil, m.c.authError(MysqlSHA256Password, "bad public key from server: %v", err)
	}
	return encryptPasswordWithPublicKey(m.password, m.salt, pub)
}

//
// caching_sha2_password
//

type cachingSha2State int

const (
	cachingSha2Scramble cachingSha2State = iota
	cachingSha2FastOrFull
	cachingSha2AwaitPublicKey
	cachingSha2Concluded
)

type cachingSha2Method struct {
	c        *Conn
	password string
	salt     []byte
	state    cachingSha2State
}

func newCachingSha2Method(c *Conn, factor int) (authMethod, error) {
	return &cachingSha2Method{c: c, password: c.params.password(factor)}, nil
}

func (m *cachingSha2Method) name() string { return CachingSha2Password }

func (m *cachingSha2Method) beginAuth(challenge []byte) ([]byte, error) {
	m.salt = trimSalt(challenge)
	m.state = cachingSha2FastOrFull
	return ScrambleCachingSha2Password(m.salt, []byte(m.password)), nil
}

// handleMoreData implements the fast/full sub-negotiation: a 0x03
// means the scramble hit the server cache and a plain OK follows; a
// 0x04 demands the real password, in the clear over TLS or encrypted
// with the server RSA key otherwise.
func (m *cachingSha2Method) handleMoreData(data []byte) ([]byte, error) {
	switch m.state {
	case cachingSha2FastOrFull:
		if len(data) != 1 {
			return nil, m.c.authError(CachingSha2Password, "unexpected auth continuation of %v bytes", len(data))
		}
		switch data[0] {
		case cachingSha2FastAuthSuccess:
			m.state = cachingSha2Concluded
			return nil, nil
		case cachingSha2PerformFullAuthentication:
			if m.c.isSecureTransport() {
				m.state = cachingSha2Concluded
				return append([]byte(m.password), 0), nil
			}
			if pub := m.c.serverPublicKey(); pub != nil {
				m.state = cachingSha2Concluded
				return encryptPasswordWithPublicKey(m.password, m.salt, pub)
			}
			if !m.c.params.AllowPublicKeyRetrieval {
				return nil, m.c.authError(CachingSha2Password,
					"full authentication over an insecure channel requires the server public key (set AllowPublicKeyRetrieval or ServerPublicKey)")
			}
			m.state = cachingSha2AwaitPublicKey
			return []byte{cachingSha2RequestPublicKey}, nil
		default:
			return nil, m.c.authError(CachingSha2Password, "unexpected auth continuation byte %#x", data[0])
		}
	case cachingSha2AwaitPublicKey:
		pub, err := parseServerPublicKey(data)
		if err != nil {
			return nil, m.c.authError(CachingSha2Password, "bad public key from server: %v", err)
		}
		m.state = cachingSha2Concluded
		return encryptPasswordWithPublicKey(m.password, m.salt, pub)
	default:
		return nil, m.c.authError(CachingSha2Password, "unexpected auth continuation in state %v", m.state)
	}
}

// ScrambleCachingSha2Password computes the hash of the password using
// SHA256 as required by caching_sha2_password plugin for "fast"
// authentication: XOR(SHA256(password), SHA256(SHA256(SHA256(password)), salt)).
func ScrambleCachingSha2Password(salt, password []byte) []byte {
	if len(password) == 0 {
		return nil
	}

	// stage1Hash = SHA256(password)
	crypt := sha256.New()
	crypt.Write(password)
	stage1 := crypt.Sum(nil)

	// scrambleHash = SHA256(SHA256(stage1Hash) + salt)
	crypt.Reset()
	crypt.Write(stage1)
	innerHash := crypt.Sum(nil)

	crypt.Reset()
	crypt.Write(innerHash)
	crypt.Write(salt)
	scramble := crypt.Sum(nil)

	// token = stage1Hash XOR scrambleHash
	for i := range stage1 {
		stage1[i] ^= scramble[i]
	}
	return stage1
}

//
// RSA password encryption, shared by sha256_password and
// caching_sha2_password full auth.
//

// trimSalt drops the trailing NUL servers append to the 20-byte
// challenge.
func trimSalt(salt []byte) []byte {
	if n := len(salt); n > 0 && salt[n-1] == 0 {
		return salt[:n-1]
	}
	return salt
}

func parseServerPublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM data found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key: %T", pub)
	}
	return rsaPub, nil
}

// encryptPasswordWithPublicKey obfuscates the NUL-terminated password
// by XORing it with the salt, then encrypts it with RSA-OAEP(SHA1).
func encryptPasswordWithPublicKey(password string, salt []byte, pub *rsa.PublicKey) ([]byte, error) {
	plain := make([]byte, len(password)+1)
	copy(plain, password)
	for i := range plain {
		j := i % len(salt)
		plain[i] ^= salt[j]
	}
	return rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, plain, nil)
}

// isSecureTransport reports whether the password may travel in the
// clear: TLS, or a Unix socket to a local server.
func (c *Conn) isSecureTransport() bool {
	if c.tlsActive {
		return true
	}
	return c.params.UnixSocket != ""
}

// serverPublicKey returns the RSA key pinned in the params, if any.
func (c *Conn) serverPublicKey() *rsa.PublicKey {
	if len(c.params.ServerPublicKey) == 0 {
		return nil
	}
	pub, err := parseServerPublicKey(c.params.ServerPublicKey)
	if err != nil {
		return nil
	}
	return pub
}
