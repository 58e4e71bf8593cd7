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

// Package config loads the broker configuration from YAML or JSON files
// and supplies the defaults used when no file is given.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// UserConfig is one credential entry for the built-in authenticator.
type UserConfig struct {
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"password"`
	Algorithm string `yaml:"algorithm" json:"algorithm"`
}

// AuthConfig switches the built-in username/password hook on and lists
// its users. When disabled every well-formed CONNECT is admitted.
type AuthConfig struct {
	Enabled bool         `yaml:"enabled" json:"enabled"`
	Users   []UserConfig `yaml:"users" json:"users"`
}

// BrokerConfig is the connection-admission surface of the broker.
type BrokerConfig struct {
	// BrokerID keys this broker's entries in the durable outgoing queue.
	BrokerID string `yaml:"broker_id" json:"broker_id"`

	MQTTPort    string `yaml:"mqtt_port" json:"mqtt_port"`
	WSPort      string `yaml:"ws_port" json:"ws_port"`
	MetricsPort string `yaml:"metrics_port" json:"metrics_port"`

	// TLSPort enables the TLS listener when non-empty. CertFile and
	// KeyFile must then name a PEM certificate and key pair.
	TLSPort  string `yaml:"tls_port" json:"tls_port"`
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file"`

	// QueueLimit bounds the per-connection intake queue.
	QueueLimit int `yaml:"queue_limit" json:"queue_limit"`

	// TrustProxy enables originating-address resolution from PROXY
	// protocol framing and forwarding headers.
	TrustProxy bool `yaml:"trust_proxy" json:"trust_proxy"`

	// PostgresDSN selects the PostgreSQL durable queue backend. Empty
	// means the in-memory store.
	PostgresDSN string `yaml:"postgres_dsn" json:"postgres_dsn"`

	Auth AuthConfig `yaml:"auth" json:"auth"`
}

// Config holds the complete configuration.
type Config struct {
	Broker BrokerConfig `yaml:"broker" json:"broker"`
}

// DefaultQueueLimit bounds the intake queue when the file does not say.
const DefaultQueueLimit = 42

// DefaultConfig returns the configuration used without a config file.
func DefaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			BrokerID:    "mqttx-node",
			MQTTPort:    ":1883",
			WSPort:      ":8083",
			MetricsPort: ":8082",
			QueueLimit:  DefaultQueueLimit,
		},
	}
}

// LoadConfig loads configuration from a file. An empty path yields the
// defaults.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		log.Println("[INFO] No config file specified, using default configuration")
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	config := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(configPath)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	case ".json":
		err = json.Unmarshal(data, config)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Printf("[INFO] Configuration loaded from %s", configPath)
	return config, nil
}

func validateConfig(config *Config) error {
	if config.Broker.BrokerID == "" {
		return fmt.Errorf("broker_id cannot be empty")
	}
	if config.Broker.QueueLimit <= 0 {
		return fmt.Errorf("queue_limit must be positive, got %d", config.Broker.QueueLimit)
	}
	if config.Broker.TLSPort != "" && (config.Broker.CertFile == "" || config.Broker.KeyFile == "") {
		return fmt.Errorf("tls_port requires both cert_file and key_file")
	}
	for i, user := range config.Broker.Auth.Users {
		if user.Username == "" {
			return fmt.Errorf("auth user %d has an empty username", i)
		}
		switch user.Algorithm {
		case "plain", "sha256", "bcrypt":
		default:
			return fmt.Errorf("auth user %s has unsupported algorithm %q", user.Username, user.Algorithm)
		}
	}
	return nil
}
