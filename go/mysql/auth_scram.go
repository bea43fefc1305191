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
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// SCRAM (RFC 5802) client for authentication_ldap_sasl_client. The
// server names the mechanism in its challenge; we speak SCRAM-SHA-1
// and SCRAM-SHA-256.
//
// The exchange is a strict three-state machine:
//
//	initial:  emit client-first (gs2 header, username, fresh nonce)
//	final:    parse server-first (combined nonce, salt, iterations),
//	          derive the salted key, emit client-final with the proof
//	validate: check the server signature over the whole transcript
//
// Every malformed or suspicious server message fails authentication;
// there is no fallback path out of a SCRAM exchange.

const (
	scramStateInitial = iota
	scramStateFinal
	scramStateValidate
	scramStateDone
)

// scramNonceLen is the length of the generated client nonce before
// base64 encoding.
const scramNonceLen = 24

type scramMethod struct {
	c        *Conn
	password string

	newHash func() hash.Hash
	keyLen  int

	state int

	clientNonce     string
	clientFirstBare string
	serverFirst     string
	saltedPassword  []byte
	authMessage     string
}

func newScramMethod(c *Conn, factor int) (authMethod, error) {
	return &scramMethod{
		c:        c,
		password: c.params.password(factor),
	}, nil
}

func (m *scramMethod) name() string { return MysqlSASLLDAP }

// beginAuth consumes the mechanism name the server put in the
// challenge and emits the client-first message.
func (m *scramMethod) beginAuth(challenge []byte) ([]byte, error) {
	mechanism := strings.TrimRight(string(challenge), "\x00")
	switch mechanism {
	case "SCRAM-SHA-256":
		m.newHash = sha256.New
		m.keyLen = sha256.Size
	case "SCRAM-SHA-1", "":
		m.newHash = sha1.New
		m.keyLen = sha1.Size
	default:
		return nil, m.c.authError(MysqlSASLLDAP, "unsupported SASL mechanism %q", mechanism)
	}

	nonce := make([]byte, scramNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	m.clientNonce = base64.StdEncoding.EncodeToString(nonce)

	m.clientFirstBare = fmt.Sprintf("n=%s,r=%s", scramSaslName(m.c.params.Uname), m.clientNonce)
	m.state = scramStateFinal
	return []byte("n,," + m.clientFirstBare), nil
}

func (m *scramMethod) handleMoreData(data []byte) ([]byte, error) {
	switch m.state {
	case scramStateFinal:
		return m.processServerFirst(data)
	case scramStateValidate:
		return nil, m.validateServerFinal(data)
	default:
		return nil, m.c.authError(MysqlSASLLDAP, "server continued a concluded SCRAM exchange")
	}
}

// processServerFirst parses the server-first message and computes the
// client proof.
func (m *scramMethod) processServerFirst(data []byte) ([]byte, error) {
	m.serverFirst = string(data)
	attrs, err := m.parseAttributes(m.serverFirst)
	if err != nil {
		return nil, err
	}

	combinedNonce, ok := attrs["r"]
	if !ok {
		return nil, m.c.authError(MysqlSASLLDAP, "server-first message is missing the nonce")
	}
	// The server must echo our nonce as a prefix of the combined
	// nonce. Anything else means the response was not built for our
	// exchange: reject it as a security violation, not a parse error.
	if !strings.HasPrefix(combinedNonce, m.clientNonce) {
		return nil, m.c.authError(MysqlSASLLDAP, "server nonce does not extend the client nonce")
	}

	saltB64, ok := attrs["s"]
	if !ok {
		return nil, m.c.authError(MysqlSASLLDAP, "server-first message is missing the salt")
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, m.c.authError(MysqlSASLLDAP, "undecodable salt: %v", err)
	}

	iterStr, ok := attrs["i"]
	if !ok {
		return nil, m.c.authError(MysqlSASLLDAP, "server-first message is missing the iteration count")
	}
	iterations, err := strconv.Atoi(iterStr)
	if err != nil || iterations < 1 {
		return nil, m.c.authError(MysqlSASLLDAP, "invalid iteration count %q", iterStr)
	}

	// Hi() of RFC 5802 is PBKDF2 with a single-block output.
	m.saltedPassword = pbkdf2.Key([]byte(m.password), salt, iterations, m.keyLen, m.newHash)

	clientKey := m.computeHMAC(m.saltedPassword, []byte("Client Key"))
	storedKeyHash := m.newHash()
	storedKeyHash.Write(clientKey)
	storedKey := storedKeyHash.Sum(nil)

	withoutProof := "c=biws,r=" + combinedNonce
	m.authMessage = m.clientFirstBare + "," + m.serverFirst + "," + withoutProof

	clientSignature := m.computeHMAC(storedKey, []byte(m.authMessage))
	proof := make([]byte, len(clientKey))
	for i := range clientKey {
		proof[i] = clientKey[i] ^ clientSignature[i]
	}

	m.state = scramStateValidate
	return []byte(withoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof)), nil
}

// validateServerFinal checks the server signature over the transcript.
// A length mismatch is rejected before any byte comparison; the byte
// comparison itself is constant time.
func (m *scramMethod) validateServerFinal(data []byte) error {
	attrs, err := m.parseAttributes(string(data))
	if err != nil {
		return err
	}
	if e, ok := attrs["e"]; ok {
		return m.c.authError(MysqlSASLLDAP, "server rejected credentials: %v", e)
	}
	vB64, ok := attrs["v"]
	if !ok {
		return m.c.authError(MysqlSASLLDAP, "server-final message is missing the verifier")
	}
	serverSignature, err := base64.StdEncoding.DecodeString(vB64)
	if err != nil {
		return m.c.authError(MysqlSASLLDAP, "undecodable server signature: %v", err)
	}

	serverKey := m.computeHMAC(m.saltedPassword, []byte("Server Key"))
	expected := m.computeHMAC(serverKey, []byte(m.authMessage))

	if len(serverSignature) != len(expected) {
		return m.c.authError(MysqlSASLLDAP, "server signature has wrong length")
	}
	if subtle.ConstantTimeCompare(serverSignature, expected) != 1 {
		return m.c.authError(MysqlSASLLDAP, "server signature verification failed")
	}
	m.state = scramStateDone
	return nil
}

func (m *scramMethod) computeHMAC(key, msg []byte) []byte {
	mac := hmac.New(m.newHash, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// parseAttributes splits "k=v,k=v" SCRAM messages. Missing '=' or an
// empty key is malformed.
func (m *scramMethod) parseAttributes(msg string) (map[string]string, error) {
	attrs := make(map[string]string)
	for _, part := range strings.Split(msg, ",") {
		k, v, found := strings.Cut(part, "=")
		if !found || k == "" {
			return nil, m.c.authError(MysqlSASLLDAP, "malformed SCRAM attribute %q", part)
		}
		attrs[k] = v
	}
	return attrs, nil
}

// scramSaslName escapes '=' and ',' in the username per RFC 5802.
func scramSaslName(username string) string {
	r := strings.NewReplacer("=", "=3D", ",", "=2C")
	return r.Replace(username)
}
