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

package workerpool

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	totalWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "iotflow",
			Subsystem: "workerpool",
			Name:      "number_of_workers",
			Help:      "The total number of workers in a worker pool.",
		}, []string{"name"})
	workingWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "iotflow",
			Subsystem: "workerpool",
			Name:      "number_of_working_workers",
			Help:      "The number of working workers in a worker pool.",
		}, []string{"name"})
	workingDuration = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iotflow",
			Subsystem: "workerpool",
			Name:      "workers_cpu_seconds_total",
			Help:      "Total working time spent in seconds.",
		}, []string{"name"})
	queuedTasks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "iotflow",
			Subsystem: "workerpool",
			Name:      "queued_tasks",
			Help:      "The number of tasks waiting for a free worker.",
		}, []string{"name"})
	panickedTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iotflow",
			Subsystem: "workerpool",
			Name:      "panicked_tasks_total",
			Help:      "The number of tasks that panicked.",
		}, []string{"name"})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(totalWorkers)
	registry.MustRegister(workingWorkers)
	registry.MustRegister(workingDuration)
	registry.MustRegister(queuedTasks)
	registry.MustRegister(panickedTasks)
}
