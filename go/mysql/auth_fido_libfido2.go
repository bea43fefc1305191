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

//go:build libfido2

package mysql

import (
	"errors"

	"github.com/keys-pub/go-libfido2"
)

// Libfido2Ceremony is a DeviceCeremony backed by libfido2. It asks the
// first attached device for an assertion and blocks until the user
// taps it. Built only with the libfido2 tag since it needs the native
// library at link time.
func Libfido2Ceremony(relyingPartyID string, clientDataHash, credentialID []byte) (*Assertion, error) {
	locs, err := libfido2.DeviceLocations()
	if err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return nil, errors.New("no FIDO devices found")
	}
	dev, err := libfido2.NewDevice(locs[0].Path)
	if err != nil {
		return nil, err
	}

	assertion, err := dev.Assertion(
		relyingPartyID,
		clientDataHash,
		[][]byte{credentialID},
		"",
		&libfido2.AssertionOpts{UP: libfido2.True},
	)
	if err != nil {
		return nil, err
	}
	return &Assertion{
		AuthenticatorData: assertion.AuthDataCBOR,
		Signature:         assertion.Sig,
	}, nil
}
