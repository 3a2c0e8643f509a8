// Copyright 2025 Longopass
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

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "longopass_gateway_requests_total",
			Help: "Total number of requests processed by the gateway",
		},
		[]string{"type", "status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "longopass_gateway_request_duration_milliseconds",
			Help:    "Request duration in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 20000},
		},
		[]string{"type"},
	)
	promGuardDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "longopass_gateway_guard_denials_total",
			Help: "Total number of requests denied by the topic/safety guard",
		},
		[]string{"reason"},
	)
	promProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "longopass_gateway_provider_calls_total",
			Help: "Total number of model invocations",
		},
		[]string{"model", "status"},
	)
	promCandidates = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "longopass_gateway_candidates_per_request",
			Help:    "Number of validated candidates collected per orchestrated request",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6},
		},
		[]string{"type"},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promGuardDenials)
	prometheus.MustRegister(promProviderCalls)
	prometheus.MustRegister(promCandidates)
}
