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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fidoChallenge builds the wire layout of the server challenge: three
// 1-byte-length-prefixed fields, the first of which is always 32 bytes.
func fidoChallenge(clientDataHash []byte, relyingPartyID string, credentialID []byte) []byte {
	out := make([]byte, 0, 3+len(clientDataHash)+len(relyingPartyID)+len(credentialID))
	out = append(out, byte(len(clientDataHash)))
	out = append(out, clientDataHash...)
	out = append(out, byte(len(relyingPartyID)))
	out = append(out, relyingPartyID...)
	out = append(out, byte(len(credentialID)))
	out = append(out, credentialID...)
	return out
}

func TestFIDORequiresDevice(t *testing.T) {
	c := testConnWithParams(&ConnParams{Uname: "user1"})
	_, err := c.newAuthMethod(MysqlFIDO, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no device ceremony")
}

func TestFIDOBeginAuth(t *testing.T) {
	hash := bytes.Repeat([]byte{0xab}, 32)
	cred := []byte{9, 8, 7, 6}
	assertion := &Assertion{
		AuthenticatorData: []byte("authenticator data"),
		Signature:         []byte("device signature"),
	}

	var gotRP string
	var gotHash, gotCred []byte
	c := testConnWithParams(&ConnParams{
		Uname: "user1",
		FIDODevice: func(relyingPartyID string, clientDataHash, credentialID []byte) (*Assertion, error) {
			gotRP = relyingPartyID
			gotHash = clientDataHash
			gotCred = credentialID
			return assertion, nil
		},
	})
	m, err := c.newAuthMethod(MysqlFIDO, 1)
	require.NoError(t, err)
	assert.Equal(t, MysqlFIDO, m.name())

	resp, err := m.beginAuth(fidoChallenge(hash, "mysql.example.com", cred))
	require.NoError(t, err)
	assert.Equal(t, "mysql.example.com", gotRP)
	assert.Equal(t, hash, gotHash)
	assert.Equal(t, cred, gotCred)

	// The response carries the authenticator data and the signature,
	// each length-prefixed.
	authData, pos, ok := readLenEncStringAsBytesCopy(resp, 0)
	require.True(t, ok)
	assert.Equal(t, assertion.AuthenticatorData, authData)
	sig, pos, ok := readLenEncStringAsBytesCopy(resp, pos)
	require.True(t, ok)
	assert.Equal(t, assertion.Signature, sig)
	assert.Len(t, resp, pos)
}

func TestFIDODeviceFailureSurfaced(t *testing.T) {
	c := testConnWithParams(&ConnParams{
		Uname: "user1",
		FIDODevice: func(string, []byte, []byte) (*Assertion, error) {
			return nil, errors.New("no user presence")
		},
	})
	m, _ := c.newAuthMethod(MysqlFIDO, 1)
	_, err := m.beginAuth(fidoChallenge(bytes.Repeat([]byte{1}, 32), "rp", []byte{1}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no user presence")
}

func TestFIDOParseChallengeMalformed(t *testing.T) {
	c := testConnWithParams(&ConnParams{
		Uname:      "user1",
		FIDODevice: func(string, []byte, []byte) (*Assertion, error) { return &Assertion{}, nil },
	})
	m, _ := c.newAuthMethod(MysqlFIDO, 1)
	fm := m.(*fidoMethod)

	hash := bytes.Repeat([]byte{1}, 32)
	tests := []struct {
		name      string
		challenge []byte
	}{{
		name:      "empty",
		challenge: nil,
	}, {
		name:      "wrong hash length",
		challenge: fidoChallenge(bytes.Repeat([]byte{1}, 16), "rp", []byte{1}),
	}, {
		name:      "hash shorter than declared",
		challenge: []byte{32, 1, 2, 3},
	}, {
		name:      "missing relying party id",
		challenge: append([]byte{32}, hash...),
	}, {
		name:      "relying party shorter than declared",
		challenge: append(append([]byte{32}, hash...), 5, 'r'),
	}, {
		name:      "missing credential id",
		challenge: append(append([]byte{32}, hash...), 2, 'r', 'p'),
	}, {
		name:      "credential shorter than declared",
		challenge: append(append([]byte{32}, hash...), 2, 'r', 'p', 4, 9),
	}}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, _, _, err := fm.parseChallenge(test.challenge)
			assert.Error(t, err)
		})
	}
}

func TestFIDONoMoreDataExpected(t *testing.T) {
	c := testConnWithParams(&ConnParams{
		Uname:      "user1",
		FIDODevice: func(string, []byte, []byte) (*Assertion, error) { return &Assertion{}, nil },
	})
	m, _ := c.newAuthMethod(MysqlFIDO, 1)
	_, err := m.handleMoreData([]byte{1})
	assert.Error(t, err)
}
