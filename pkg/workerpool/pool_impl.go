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
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/edwingeng/deque"
	cerrors "github.com/iotflow/iotflow/pkg/errors"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var _ Executor = (*Pool)(nil)

// Pool is a fixed size goroutine pool. All workers share one unbounded FIFO
// task queue, so a task submitted later never overtakes an earlier one while
// waiting for a free worker.
type Pool struct {
	name       string
	numWorkers int

	mu sync.Mutex
	// cond is signaled when a task is queued or the pool is closed.
	cond *sync.Cond
	// tasks is protected by mu, because deque is not thread-safe.
	tasks  deque.Deque
	closed bool

	errg         errgroup.Group
	shutdownOnce sync.Once
	done         chan struct{}

	working atomic.Int64

	workingWorkers  prometheus.Gauge
	workingDuration prometheus.Counter
	queuedTasks     prometheus.Gauge
	panickedTasks   prometheus.Counter
}

// NewPool creates a pool and starts numWorkers goroutines right away.
// If numWorkers is not positive, GOMAXPROCS workers are started.
func NewPool(name string, numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		name:            name,
		numWorkers:      numWorkers,
		tasks:           deque.NewDeque(),
		done:            make(chan struct{}),
		workingWorkers:  workingWorkers.WithLabelValues(name),
		workingDuration: workingDuration.WithLabelValues(name),
		queuedTasks:     queuedTasks.WithLabelValues(name),
		panickedTasks:   panickedTasks.WithLabelValues(name),
	}
	p.cond = sync.NewCond(&p.mu)
	totalWorkers.WithLabelValues(name).Set(float64(numWorkers))

	for i := 0; i < numWorkers; i++ {
		p.errg.Go(p.runWorker)
	}
	log.Info("worker pool started",
		zap.String("name", name), zap.Int("workers", numWorkers))
	return p
}

// Name returns the name of the pool.
func (p *Pool) Name() string {
	return p.name
}

// NumWorkers returns the number of worker goroutines.
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// WorkingWorkers returns the number of workers running a task.
func (p *Pool) WorkingWorkers() int64 {
	return p.working.Load()
}

// Len returns the number of queued tasks.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tasks.Len()
}

// Submit implements Executor.Submit.
func (p *Pool) Submit(f func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return cerrors.ErrExecutorClosed.GenWithStackByArgs(p.name)
	}
	p.tasks.PushBack(f)
	p.mu.Unlock()

	p.queuedTasks.Inc()
	p.cond.Signal()
	return nil
}

// Shutdown implements Executor.Shutdown.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		dropped := p.tasks.Len()
		p.tasks = deque.NewDeque()
		p.mu.Unlock()
		p.cond.Broadcast()

		p.queuedTasks.Sub(float64(dropped))
		if dropped > 0 {
			log.Info("worker pool dropped queued tasks",
				zap.String("name", p.name), zap.Int("tasks", dropped))
		}
		go func() {
			_ = p.errg.Wait()
			close(p.done)
		}()
	})

	select {
	case <-p.done:
	case <-ctx.Done():
		return cerrors.WrapError(cerrors.ErrExecutorShutdownTimeout, ctx.Err(), p.name)
	}
	totalWorkers.DeleteLabelValues(p.name)
	log.Info("worker pool exited", zap.String("name", p.name))
	return nil
}

func (p *Pool) runWorker() error {
	for {
		task, ok := p.nextTask()
		if !ok {
			return nil
		}
		p.runTask(task)
	}
}

func (p *Pool) nextTask() (func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.tasks.Empty() && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return nil, false
	}
	return p.tasks.PopFront().(func()), true
}

func (p *Pool) runTask(task func()) {
	p.queuedTasks.Dec()
	p.workingWorkers.Set(float64(p.working.Inc()))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.panickedTasks.Inc()
			log.Error("worker pool task panicked",
				zap.String("name", p.name),
				zap.Error(errors.Errorf("panic: %v", r)),
				zap.Stack("stack"))
		}
		p.workingDuration.Add(time.Since(start).Seconds())
		p.workingWorkers.Set(float64(p.working.Dec()))
	}()
	task()
}
