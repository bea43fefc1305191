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
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kerberosChallenge builds the wire layout of the server challenge:
// 2-byte SPN length, SPN, 2-byte realm length, realm.
func kerberosChallenge(spn, realm string) []byte {
	out := make([]byte, 2+len(spn)+2+len(realm))
	binary.LittleEndian.PutUint16(out, uint16(len(spn)))
	copy(out[2:], spn)
	binary.LittleEndian.PutUint16(out[2+len(spn):], uint16(len(realm)))
	copy(out[4+len(spn):], realm)
	return out
}

func TestKerberosParseChallenge(t *testing.T) {
	c := testConnWithParams(&ConnParams{Uname: "user1"})
	m, err := newKerberosMethod(c, 1)
	require.NoError(t, err)
	assert.Equal(t, MysqlKerberos, m.name())
	km := m.(*kerberosMethod)

	spn, realm, err := km.parseChallenge(kerberosChallenge("mysql/db.example.com", "EXAMPLE.COM"))
	require.NoError(t, err)
	assert.Equal(t, "mysql/db.example.com", spn)
	assert.Equal(t, "EXAMPLE.COM", realm)

	// Empty fields are representable and fine at this layer.
	spn, realm, err = km.parseChallenge(kerberosChallenge("", ""))
	require.NoError(t, err)
	assert.Empty(t, spn)
	assert.Empty(t, realm)
}

func TestKerberosParseChallengeMalformed(t *testing.T) {
	c := testConnWithParams(&ConnParams{Uname: "user1"})
	m, _ := newKerberosMethod(c, 1)
	km := m.(*kerberosMethod)

	tests := []struct {
		name      string
		challenge []byte
	}{{
		name:      "empty",
		challenge: nil,
	}, {
		name:      "truncated SPN length",
		challenge: []byte{5},
	}, {
		name:      "SPN shorter than declared",
		challenge: []byte{5, 0, 'm', 'y'},
	}, {
		name:      "missing realm length",
		challenge: []byte{2, 0, 'm', 'y'},
	}, {
		name:      "realm shorter than declared",
		challenge: []byte{2, 0, 'm', 'y', 9, 0, 'E'},
	}}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, _, err := km.parseChallenge(test.challenge)
			assert.Error(t, err)
		})
	}
}

func TestKerberosMissingConfig(t *testing.T) {
	c := testConnWithParams(&ConnParams{
		Uname:          "user1",
		Pass:           "password1",
		Krb5ConfigPath: "/nonexistent/krb5.conf",
	})
	m, _ := newKerberosMethod(c, 1)
	_, err := m.beginAuth(kerberosChallenge("mysql/db.example.com", "EXAMPLE.COM"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/nonexistent/krb5.conf")
}

func TestKerberosEmptyAPREPRejected(t *testing.T) {
	c := testConnWithParams(&ConnParams{Uname: "user1"})
	m, _ := newKerberosMethod(c, 1)
	_, err := m.handleMoreData(nil)
	assert.Error(t, err)

	resp, err := m.handleMoreData([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestSplitPrincipal(t *testing.T) {
	user, realm := splitPrincipal("alice@EXAMPLE.COM", "FALLBACK.COM")
	assert.Equal(t, "alice", user)
	assert.Equal(t, "EXAMPLE.COM", realm)

	user, realm = splitPrincipal("alice", "FALLBACK.COM")
	assert.Equal(t, "alice", user)
	assert.Equal(t, "FALLBACK.COM", realm)
}
