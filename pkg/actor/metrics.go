// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package actor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	actorGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "iotflow",
			Subsystem: "actor",
			Name:      "number_of_actors",
			Help:      "The number of live actors on a dispatcher.",
		}, []string{"dispatcher"})
	processedMsgCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iotflow",
			Subsystem: "actor",
			Name:      "processed_messages_total",
			Help:      "Total number of messages processed by actors.",
		}, []string{"dispatcher"})
	handlerFailureCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iotflow",
			Subsystem: "actor",
			Name:      "handler_failures_total",
			Help:      "Total number of messages that actors failed to process.",
		}, []string{"dispatcher"})
	initFailureCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iotflow",
			Subsystem: "actor",
			Name:      "init_failures_total",
			Help:      "Total number of failed actor initializations.",
		}, []string{"dispatcher"})
	drainDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "iotflow",
			Subsystem: "actor",
			Name:      "drain_duration_seconds",
			Help:      "Bucketed histogram of the time spent by one mailbox drain.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 20), // 10us ~ 5s
		}, []string{"dispatcher"})
	droppedMsgCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iotflow",
			Subsystem: "actor",
			Name:      "dropped_messages_total",
			Help:      "Total number of messages dropped without being processed.",
		}, []string{"reason"})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(actorGauge)
	registry.MustRegister(processedMsgCounter)
	registry.MustRegister(handlerFailureCounter)
	registry.MustRegister(initFailureCounter)
	registry.MustRegister(drainDurationHistogram)
	registry.MustRegister(droppedMsgCounter)
}
