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

// Package auth provides username/password authentication for MQTT clients
// with configurable password hashing (plain, SHA256, bcrypt), packaged as
// an authorization hook for the admission machine.
package auth

import (
	"crypto/sha256"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"
)

// HashAlgorithm selects the password hashing scheme for a user entry.
type HashAlgorithm string

const (
	// HashPlain stores passwords in clear text. Test use only.
	HashPlain HashAlgorithm = "plain"
	// HashSHA256 stores salted SHA256 digests.
	HashSHA256 HashAlgorithm = "sha256"
	// HashBcrypt stores bcrypt hashes. The recommended scheme.
	HashBcrypt HashAlgorithm = "bcrypt"
)

// User is one credential entry.
type User struct {
	Username     string        `json:"username"`
	PasswordHash string        `json:"password_hash"`
	Algorithm    HashAlgorithm `json:"algorithm"`
	Salt         string        `json:"salt,omitempty"`
	Enabled      bool          `json:"enabled"`
}

// Result is the outcome of one authenticator.
type Result int

const (
	// Success admits the client.
	Success Result = iota
	// Failure denies the client.
	Failure
	// Ignore defers to the next authenticator in the chain.
	Ignore
)

// Authenticator verifies one set of credentials.
type Authenticator interface {
	Authenticate(username, password string) Result
	Name() string
}

// Chain runs authenticators in order: the first Success or Failure wins;
// a chain where everyone ignores denies.
type Chain struct {
	authenticators []Authenticator
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// Add appends an authenticator to the chain.
func (c *Chain) Add(a Authenticator) {
	c.authenticators = append(c.authenticators, a)
}

// Authenticate runs the chain for one set of credentials.
func (c *Chain) Authenticate(username, password string) Result {
	if len(c.authenticators) == 0 {
		log.Printf("[WARN] No authenticators configured, allowing connection")
		return Success
	}

	for _, a := range c.authenticators {
		switch a.Authenticate(username, password) {
		case Success:
			return Success
		case Failure:
			log.Printf("[WARN] Authentication failed for user %s via %s", username, a.Name())
			return Failure
		}
	}
	return Failure
}

// hashPassword digests password with the given algorithm.
func hashPassword(password, salt string, algorithm HashAlgorithm) (string, error) {
	switch algorithm {
	case HashPlain:
		return password, nil
	case HashSHA256:
		sum := sha256.Sum256([]byte(salt + password))
		return fmt.Sprintf("%x", sum), nil
	case HashBcrypt:
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return "", err
		}
		return string(hash), nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm: %s", algorithm)
	}
}

// verifyPassword checks password against a stored entry.
func verifyPassword(password string, user *User) bool {
	switch user.Algorithm {
	case HashPlain:
		return password == user.PasswordHash
	case HashSHA256:
		sum := sha256.Sum256([]byte(user.Salt + password))
		return fmt.Sprintf("%x", sum) == user.PasswordHash
	case HashBcrypt:
		return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
	default:
		return false
	}
}
