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
	"github.com/iotflow/iotflow/pkg/workerpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Dispatcher binds a name to an executor. Actors created on a dispatcher
// drain their mailboxes on its executor. Many actors, possibly of different
// categories, share one dispatcher.
type Dispatcher struct {
	name     string
	executor workerpool.Executor

	processedMsgs   prometheus.Counter
	handlerFailures prometheus.Counter
	drainDuration   prometheus.Observer
	initFailures    prometheus.Counter
	actors          prometheus.Gauge
}

func newDispatcher(name string, executor workerpool.Executor) *Dispatcher {
	return &Dispatcher{
		name:            name,
		executor:        executor,
		processedMsgs:   processedMsgCounter.WithLabelValues(name),
		handlerFailures: handlerFailureCounter.WithLabelValues(name),
		drainDuration:   drainDurationHistogram.WithLabelValues(name),
		initFailures:    initFailureCounter.WithLabelValues(name),
		actors:          actorGauge.WithLabelValues(name),
	}
}

// Name returns the name of the dispatcher.
func (d *Dispatcher) Name() string {
	return d.name
}

// Executor returns the executor of the dispatcher.
func (d *Dispatcher) Executor() workerpool.Executor {
	return d.executor
}

func (d *Dispatcher) submit(task func()) error {
	return d.executor.Submit(task)
}
