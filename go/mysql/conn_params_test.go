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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnParamsSsl(t *testing.T) {
	params := &ConnParams{
		Host: "host1",
		Port: 3306,
	}
	assert.False(t, params.SslEnabled())

	params.EnableSSL()
	assert.True(t, params.SslEnabled())
	assert.NotNil(t, params.SslConfig)

	// EnableSSL must not clobber an existing config.
	config := &tls.Config{ServerName: "custom"}
	params = &ConnParams{SslConfig: config}
	params.EnableSSL()
	assert.Same(t, config, params.SslConfig)
}

func TestConnParamsHostLabel(t *testing.T) {
	var params *ConnParams
	assert.Equal(t, "<nil>", params.hostLabel())

	params = &ConnParams{Host: "host1", Port: 3307}
	assert.Equal(t, "host1:3307", params.hostLabel())

	params.UnixSocket = "/tmp/mysql.sock"
	assert.Equal(t, "/tmp/mysql.sock", params.hostLabel())
}

func TestConnParamsPasswordPerFactor(t *testing.T) {
	params := &ConnParams{
		Pass:  "first",
		Pass2: "second",
		Pass3: "third",
	}
	assert.Equal(t, "first", params.password(1))
	assert.Equal(t, "second", params.password(2))
	assert.Equal(t, "third", params.password(3))

	// Anything out of range falls back to the primary password.
	assert.Equal(t, "first", params.password(0))
	assert.Equal(t, "first", params.password(4))
}
