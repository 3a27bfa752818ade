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

package server

import (
	"github.com/iotflow/iotflow/pkg/actor"
	"github.com/iotflow/iotflow/pkg/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry = prometheus.NewRegistry()

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "iotflow",
			Subsystem: "server",
			Name:      "http_request_duration_seconds",
			Help:      "Bucketed histogram of the duration of status server requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms ~ 32s
		}, []string{"method", "path", "status"})
)

func init() {
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector(
		collectors.WithGoCollections(collectors.GoRuntimeMemStatsCollection | collectors.GoRuntimeMetricsCollection)))
	registry.MustRegister(httpRequestDuration)

	actor.InitMetrics(registry)
	workerpool.InitMetrics(registry)
}
