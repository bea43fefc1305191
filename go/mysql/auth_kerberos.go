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
	"strings"

	krb5client "github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/gssapi"
	"github.com/jcmturner/gokrb5/v8/iana/flags"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/spnego"
)

// Kerberos client for authentication_kerberos_client.
//
// The server challenge carries the service principal name and the
// realm; the client obtains a TGT from the KDC named in krb5.conf, a
// service ticket for that SPN, and answers with a GSSAPI AP-REQ
// token. Any further server message is the mutual-authentication
// AP-REP, which concludes the exchange.
//
// This is a pure-Go exchange (jcmturner/gokrb5); it behaves the same
// on every platform instead of delegating to SSPI on Windows.

const defaultKrb5Config = "/etc/krb5.conf"

type kerberosMethod struct {
	c      *Conn
	factor int
}

func newKerberosMethod(c *Conn, factor int) (authMethod, error) {
	return &kerberosMethod{c: c, factor: factor}, nil
}

func (m *kerberosMethod) name() string { return MysqlKerberos }

func (m *kerberosMethod) beginAuth(challenge []byte) ([]byte, error) {
	spn, realm, err := m.parseChallenge(challenge)
	if err != nil {
		return nil, err
	}
	if m.c.params.KerberosSPN != "" {
		spn = m.c.params.KerberosSPN
	}

	confPath := m.c.params.Krb5ConfigPath
	if confPath == "" {
		confPath = defaultKrb5Config
	}
	conf, err := krb5config.Load(confPath)
	if err != nil {
		return nil, m.c.authError(MysqlKerberos, "cannot load %v: %v", confPath, err)
	}

	user, userRealm := splitPrincipal(m.c.params.Uname, realm)

	var cl *krb5client.Client
	if ktPath := m.c.params.KerberosKeytabPath; ktPath != "" {
		kt, err := keytab.Load(ktPath)
		if err != nil {
			return nil, m.c.authError(MysqlKerberos, "cannot load keytab %v: %v", ktPath, err)
		}
		cl = krb5client.NewWithKeytab(user, userRealm, kt, conf, krb5client.DisablePAFXFAST(true))
	} else {
		cl = krb5client.NewWithPassword(user, userRealm, m.c.params.password(m.factor), conf, krb5client.DisablePAFXFAST(true))
	}
	defer cl.Destroy()

	if err := cl.Login(); err != nil {
		return nil, m.c.authError(MysqlKerberos, "KDC login failed: %v", err)
	}

	// The SPN on the wire may carry the realm; GetServiceTicket wants
	// the bare service/host form.
	ticketSPN, _, _ := strings.Cut(spn, "@")
	tkt, key, err := cl.GetServiceTicket(ticketSPN)
	if err != nil {
		return nil, m.c.authError(MysqlKerberos, "cannot get service ticket for %v: %v", ticketSPN, err)
	}

	token, err := spnego.NewKRB5TokenAPREQ(cl, tkt, key,
		[]int{gssapi.ContextFlagInteg, gssapi.ContextFlagConf, gssapi.ContextFlagMutual},
		[]int{flags.APOptionMutualRequired})
	if err != nil {
		return nil, m.c.authError(MysqlKerberos, "cannot build AP-REQ: %v", err)
	}
	out, err := token.Marshal()
	if err != nil {
		return nil, m.c.authError(MysqlKerberos, "cannot marshal AP-REQ: %v", err)
	}
	return out, nil
}

// handleMoreData receives the AP-REP of mutual authentication. The
// session keys it would establish are not used for anything afterwards
// on this protocol, so it only has to be present.
func (m *kerberosMethod) handleMoreData(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, m.c.authError(MysqlKerberos, "empty AP-REP from server")
	}
	return nil, nil
}

// parseChallenge decodes the fixed layout of the kerberos challenge:
// 2-byte SPN length, SPN, 2-byte realm length, realm.
func (m *kerberosMethod) parseChallenge(challenge []byte) (spn, realm string, err error) {
	pos := 0
	spnLen, pos, ok := readUint16(challenge, pos)
	if !ok {
		return "", "", m.c.authError(MysqlKerberos, "challenge too short for SPN length")
	}
	spnBytes, pos, ok := readBytes(challenge, pos, int(spnLen))
	if !ok {
		return "", "", m.c.authError(MysqlKerberos, "challenge declares %v SPN bytes but carries fewer", spnLen)
	}
	realmLen, pos, ok := readUint16(challenge, pos)
	if !ok {
		return "", "", m.c.authError(MysqlKerberos, "challenge too short for realm length")
	}
	realmBytes, _, ok := readBytes(challenge, pos, int(realmLen))
	if !ok {
		return "", "", m.c.authError(MysqlKerberos, "challenge declares %v realm bytes but carries fewer", realmLen)
	}
	return string(spnBytes), string(realmBytes), nil
}

// splitPrincipal separates user@REALM, falling back to the realm the
// server advertised.
func splitPrincipal(uname, fallbackRealm string) (user, realm string) {
	if u, r, found := strings.Cut(uname, "@"); found {
		return u, r
	}
	return uname, fallbackRealm
}
