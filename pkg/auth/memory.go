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
	"fmt"
	"sync"
)

// MemoryAuthenticator verifies credentials against an in-memory user
// table, typically loaded from the broker configuration.
type MemoryAuthenticator struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewMemoryAuthenticator creates an empty in-memory authenticator.
func NewMemoryAuthenticator() *MemoryAuthenticator {
	return &MemoryAuthenticator{users: make(map[string]*User)}
}

// Name identifies this authenticator in logs.
func (ma *MemoryAuthenticator) Name() string { return "memory" }

// AddUser hashes the password with the given algorithm and stores the
// entry. SHA256 entries are salted with the username.
func (ma *MemoryAuthenticator) AddUser(username, password string, algorithm HashAlgorithm) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	salt := ""
	if algorithm == HashSHA256 {
		salt = username
	}
	hash, err := hashPassword(password, salt, algorithm)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	ma.mu.Lock()
	defer ma.mu.Unlock()
	ma.users[username] = &User{
		Username:     username,
		PasswordHash: hash,
		Algorithm:    algorithm,
		Salt:         salt,
		Enabled:      true,
	}
	return nil
}

// RemoveUser deletes a user entry.
func (ma *MemoryAuthenticator) RemoveUser(username string) error {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	if _, ok := ma.users[username]; !ok {
		return fmt.Errorf("user not found: %s", username)
	}
	delete(ma.users, username)
	return nil
}

// Authenticate verifies one set of credentials. Unknown usernames are
// ignored so another authenticator in the chain may claim them.
func (ma *MemoryAuthenticator) Authenticate(username, password string) Result {
	ma.mu.RLock()
	user, ok := ma.users[username]
	ma.mu.RUnlock()

	if !ok {
		return Ignore
	}
	if !user.Enabled {
		return Failure
	}
	if verifyPassword(password, user) {
		return Success
	}
	return Failure
}
