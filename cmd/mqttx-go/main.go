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

// package main is the entrypoint for the mqttx-go broker.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/mqttx-go/pkg/admission"
	"github.com/turtacn/mqttx-go/pkg/auth"
	"github.com/turtacn/mqttx-go/pkg/broker"
	"github.com/turtacn/mqttx-go/pkg/config"
	"github.com/turtacn/mqttx-go/pkg/metrics"
	"github.com/turtacn/mqttx-go/pkg/queue"
	"github.com/turtacn/mqttx-go/pkg/transport"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON configuration file")
	flag.Parse()

	log.Println("Starting mqttx-go broker...")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("Broker ID: %s", cfg.Broker.BrokerID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open durable queue store: %v", err)
	}

	hook, err := buildHook(cfg)
	if err != nil {
		log.Fatalf("Failed to build authentication chain: %v", err)
	}

	b := broker.New(cfg.Broker, store, hook)
	defer b.Close()

	go func() {
		if err := b.StartServer(ctx, cfg.Broker.MQTTPort); err != nil {
			log.Fatalf("Broker server failed: %v", err)
		}
	}()

	if cfg.Broker.TLSPort != "" {
		go func() {
			if err := b.StartTLSServer(ctx, cfg.Broker.TLSPort, cfg.Broker.CertFile, cfg.Broker.KeyFile); err != nil {
				log.Fatalf("TLS server failed: %v", err)
			}
		}()
	}

	ws := transport.NewWSServer(b, cfg.Broker.TrustProxy)
	go func() {
		if err := ws.Start(ctx, cfg.Broker.WSPort); err != nil {
			log.Fatalf("WebSocket server failed: %v", err)
		}
	}()

	go metrics.Serve(cfg.Broker.MetricsPort)

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)
	<-shutdownChan

	log.Println("Shutdown signal received. Shutting down...")
}

// buildStore selects the durable queue backend: PostgreSQL when a DSN is
// configured, in-memory otherwise.
func buildStore(cfg *config.Config) (queue.Store, error) {
	if cfg.Broker.PostgresDSN == "" {
		log.Println("Using in-memory session store")
		return queue.NewMemStore(), nil
	}
	log.Println("Using PostgreSQL session store")
	return queue.NewPostgresStore(cfg.Broker.PostgresDSN)
}

// buildHook assembles the admission hook from the configured users. A
// disabled auth section admits everything.
func buildHook(cfg *config.Config) (admission.Hook, error) {
	if !cfg.Broker.Auth.Enabled {
		return nil, nil
	}

	mem := auth.NewMemoryAuthenticator()
	for _, u := range cfg.Broker.Auth.Users {
		if err := mem.AddUser(u.Username, u.Password, auth.HashAlgorithm(u.Algorithm)); err != nil {
			return nil, err
		}
	}
	chain := auth.NewChain()
	chain.Add(mem)
	log.Printf("Authentication enabled with %d users", len(cfg.Broker.Auth.Users))
	return auth.Hook(chain), nil
}
