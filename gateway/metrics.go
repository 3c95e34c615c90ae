// Copyright 2025 FieldLine
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

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldline_gateway_requests_total",
			Help: "Total number of generate requests processed by the gateway",
		},
		[]string{"mode", "status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldline_gateway_request_duration_milliseconds",
			Help:    "Request duration in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"mode"},
	)
	promWorkflowExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldline_gateway_workflow_executions_total",
			Help: "Total number of workflow executions",
		},
		[]string{"workflow", "status"},
	)
	promWorkflowSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldline_gateway_workflow_steps_total",
			Help: "Total number of executed workflow steps",
		},
		[]string{"tool", "status"},
	)
	promClassificationFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldline_gateway_classification_fallbacks_total",
			Help: "Total number of classifications that degraded to the fallback workflow",
		},
	)
)

func init() {
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promWorkflowExecutions)
	prometheus.MustRegister(promWorkflowSteps)
	prometheus.MustRegister(promClassificationFallbacks)
}
