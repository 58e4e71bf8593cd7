// Copyright 2026 The mqttx-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/mqttx-go/pkg/session"
)

func TestMemoryAuthenticatorAlgorithms(t *testing.T) {
	ma := NewMemoryAuthenticator()
	require.NoError(t, ma.AddUser("plain-user", "secret", HashPlain))
	require.NoError(t, ma.AddUser("sha-user", "secret", HashSHA256))
	require.NoError(t, ma.AddUser("bcrypt-user", "secret", HashBcrypt))

	for _, username := range []string{"plain-user", "sha-user", "bcrypt-user"} {
		assert.Equal(t, Success, ma.Authenticate(username, "secret"), username)
		assert.Equal(t, Failure, ma.Authenticate(username, "wrong"), username)
	}
}

func TestMemoryAuthenticatorUnknownUserIgnored(t *testing.T) {
	ma := NewMemoryAuthenticator()
	require.NoError(t, ma.AddUser("known", "secret", HashPlain))
	assert.Equal(t, Ignore, ma.Authenticate("stranger", "whatever"))
}

func TestMemoryAuthenticatorEmptyUsername(t *testing.T) {
	ma := NewMemoryAuthenticator()
	assert.Error(t, ma.AddUser("", "secret", HashPlain))
}

func TestMemoryAuthenticatorRemoveUser(t *testing.T) {
	ma := NewMemoryAuthenticator()
	require.NoError(t, ma.AddUser("u", "secret", HashPlain))
	require.NoError(t, ma.RemoveUser("u"))
	assert.Error(t, ma.RemoveUser("u"))
	assert.Equal(t, Ignore, ma.Authenticate("u", "secret"))
}

func TestEmptyChainAllows(t *testing.T) {
	assert.Equal(t, Success, NewChain().Authenticate("anyone", "anything"))
}

func TestChainAllIgnoredDenies(t *testing.T) {
	chain := NewChain()
	ma := NewMemoryAuthenticator()
	require.NoError(t, ma.AddUser("known", "secret", HashPlain))
	chain.Add(ma)

	assert.Equal(t, Failure, chain.Authenticate("stranger", "pw"))
}

func TestChainFirstVerdictWins(t *testing.T) {
	first := NewMemoryAuthenticator()
	require.NoError(t, first.AddUser("u", "right", HashPlain))
	second := NewMemoryAuthenticator()
	require.NoError(t, second.AddUser("u", "other", HashPlain))

	chain := NewChain()
	chain.Add(first)
	chain.Add(second)

	assert.Equal(t, Success, chain.Authenticate("u", "right"))
	// The first authenticator's Failure is final even though the second
	// would have accepted.
	assert.Equal(t, Failure, chain.Authenticate("u", "other"))
}

func TestHookPermitsAndDenies(t *testing.T) {
	ma := NewMemoryAuthenticator()
	require.NoError(t, ma.AddUser("u", "secret", HashPlain))
	chain := NewChain()
	chain.Add(ma)
	hook := Hook(chain)

	run := func(username, password string) (error, bool) {
		var gotErr error
		var gotOK bool
		c := session.New("c1", nil, nil)
		c.Username = username
		c.Password = []byte(password)
		hook(c, func(err error, permitted bool) {
			gotErr = err
			gotOK = permitted
		})
		return gotErr, gotOK
	}

	err, ok := run("u", "secret")
	assert.NoError(t, err)
	assert.True(t, ok)

	err, ok = run("u", "nope")
	assert.NoError(t, err)
	assert.False(t, ok)
}
