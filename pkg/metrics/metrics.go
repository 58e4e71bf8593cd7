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

// package metrics provides Prometheus metrics for the broker core.
package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal counts every accepted transport connection,
	// admitted or not.
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqttx_connections_total",
		Help: "The total number of transport connections accepted.",
	})

	// ConnectedClients tracks the number of admitted clients. It is kept
	// by the session registry and always matches its table size.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mqttx_connected_clients",
		Help: "The number of currently admitted client sessions.",
	})

	// ConnectionErrorsTotal counts fatal connection errors by reason.
	ConnectionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mqttx_connection_errors_total",
		Help: "The total number of fatal connection errors.",
	},
		[]string{"reason"},
	)

	// AuthRejectionsTotal counts admissions denied by the authorization
	// hook.
	AuthRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqttx_auth_rejections_total",
		Help: "The total number of connections denied by the authorization hook.",
	})

	// IntakeOverflowsTotal counts connections dropped because their
	// pre-admission packet queue exceeded the configured limit.
	IntakeOverflowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqttx_intake_overflows_total",
		Help: "The total number of connections dropped on intake queue overflow.",
	})

	// SupervisorRestartsTotal counts restarts of supervised actors.
	SupervisorRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mqttx_supervisor_restarts_total",
		Help: "The total number of times a supervised actor has been restarted.",
	},
		[]string{"actor_id"},
	)
)

// Serve starts an HTTP server to expose the Prometheus metrics.
func Serve(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	log.Printf("Metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		logFatalf("Metrics server failed: %v", err)
	}
}

// logFatalf can be replaced by tests to prevent process exit.
var logFatalf = log.Fatalf
