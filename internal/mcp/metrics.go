// Copyright 2025 Tom Barlow
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

package mcp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// connectTotal counts connect attempts by outcome.
	connectTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphost_connect_total",
			Help: "Total connect attempts by server and result",
		},
		[]string{"server", "result"},
	)

	// statusTransitions counts status changes broadcast by the supervisor.
	statusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphost_status_transitions_total",
			Help: "Total status transitions by server and new status",
		},
		[]string{"server", "status"},
	)

	// rpcRequests counts session calls by method and outcome.
	rpcRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphost_rpc_requests_total",
			Help: "Total JSON-RPC requests by method and result",
		},
		[]string{"method", "result"},
	)

	// rpcTimeouts counts session calls that hit the request timeout.
	rpcTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphost_rpc_timeouts_total",
			Help: "Total JSON-RPC requests that timed out by server",
		},
		[]string{"server"},
	)

	// sessionsActive tracks open sessions.
	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcphost_sessions_active",
			Help: "Number of currently open RPC sessions",
		},
	)
)

func recordConnect(serverID, result string) {
	connectTotal.WithLabelValues(serverID, result).Inc()
}

func recordStatus(serverID string, status ConnectionStatus) {
	statusTransitions.WithLabelValues(serverID, string(status)).Inc()
}

func recordRPC(method, result string) {
	rpcRequests.WithLabelValues(method, result).Inc()
}

func recordTimeout(serverID string) {
	rpcTimeouts.WithLabelValues(serverID).Inc()
}
