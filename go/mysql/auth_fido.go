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

// FIDO client for authentication_fido_client.
//
// The challenge has a fixed layout of three 1-byte-length-prefixed
// fields: a 32-byte client data hash, the relying party id, and the
// credential id registered for the user. The user-presence ceremony
// itself (tapping the key) is delegated to a DeviceCeremony: this
// package never talks to hardware directly. A libfido2-backed
// implementation is available behind the libfido2 build tag.

// Assertion is the result of a successful device ceremony.
type Assertion struct {
	// AuthenticatorData as returned by the device.
	AuthenticatorData []byte
	// Signature over the client data hash and authenticator data.
	Signature []byte
}

// DeviceCeremony performs the FIDO user-presence ceremony. It blocks
// until the user acts on the device or the device gives up.
type DeviceCeremony func(relyingPartyID string, clientDataHash, credentialID []byte) (*Assertion, error)

type fidoMethod struct {
	c *Conn
}

func newFIDOMethod(c *Conn, factor int) (authMethod, error) {
	if c.params.FIDODevice == nil {
		return nil, c.authError(MysqlFIDO, "server requested FIDO authentication but no device ceremony is configured")
	}
	return &fidoMethod{c: c}, nil
}

func (m *fidoMethod) name() string { return MysqlFIDO }

func (m *fidoMethod) beginAuth(challenge []byte) ([]byte, error) {
	clientDataHash, relyingPartyID, credentialID, err := m.parseChallenge(challenge)
	if err != nil {
		return nil, err
	}

	assertion, err := m.c.params.FIDODevice(relyingPartyID, clientDataHash, credentialID)
	if err != nil {
		return nil, m.c.authError(MysqlFIDO, "device ceremony failed: %v", err)
	}

	// Response: authenticator data and signature, each length-prefixed.
	length := lenEncIntSize(uint64(len(assertion.AuthenticatorData))) + len(assertion.AuthenticatorData) +
		lenEncIntSize(uint64(len(assertion.Signature))) + len(assertion.Signature)
	out := make([]byte, length)
	pos := writeLenEncBytes(out, 0, assertion.AuthenticatorData)
	_ = writeLenEncBytes(out, pos, assertion.Signature)
	return out, nil
}

func (m *fidoMethod) handleMoreData(data []byte) ([]byte, error) {
	return nil, m.c.authError(MysqlFIDO, "unexpected additional auth data from server")
}

func (m *fidoMethod) parseChallenge(challenge []byte) (clientDataHash []byte, relyingPartyID string, credentialID []byte, err error) {
	pos := 0
	hashLen, pos, ok := readByte(challenge, pos)
	if !ok || hashLen != 32 {
		return nil, "", nil, m.c.authError(MysqlFIDO, "challenge carries a client data hash of %v bytes, expected 32", hashLen)
	}
	clientDataHash, pos, ok = readBytesCopy(challenge, pos, int(hashLen))
	if !ok {
		return nil, "", nil, m.c.authError(MysqlFIDO, "challenge shorter than its declared client data hash")
	}

	rpLen, pos, ok := readByte(challenge, pos)
	if !ok {
		return nil, "", nil, m.c.authError(MysqlFIDO, "challenge is missing the relying party id")
	}
	rpBytes, pos, ok := readBytes(challenge, pos, int(rpLen))
	if !ok {
		return nil, "", nil, m.c.authError(MysqlFIDO, "challenge shorter than its declared relying party id")
	}

	credLen, pos, ok := readByte(challenge, pos)
	if !ok {
		return nil, "", nil, m.c.authError(MysqlFIDO, "challenge is missing the credential id")
	}
	credentialID, _, ok = readBytesCopy(challenge, pos, int(credLen))
	if !ok {
		return nil, "", nil, m.c.authError(MysqlFIDO, "challenge shorter than its declared credential id")
	}

	return clientDataHash, string(rpBytes), credentialID, nil
}
