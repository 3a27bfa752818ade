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
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func testOrderAndSum(t *testing.T, numActors, numMsgs int) {
	sys := newTestSystem(t, DefaultSettings(), runtime.GOMAXPROCS(0))

	expected := int64(numMsgs) * int64(numMsgs-1) / 2
	var failures atomic.Int64
	var wg sync.WaitGroup
	wg.Add(numActors)
	refs := make([]Ref, numActors)
	for i := range refs {
		next, sum := 0, int64(0)
		a := &testActor{process: func(_ Context, msg Msg) error {
			seq := msg.(*testMsg).seq
			if seq != next {
				failures.Inc()
			}
			next = seq + 1
			sum += int64(seq)
			if next == numMsgs {
				if sum != expected {
					failures.Inc()
				}
				wg.Done()
			}
			return nil
		}}
		ref, err := sys.CreateRootActor(testDispatcher, newTestCreator(newTestID(), a))
		require.NoError(t, err)
		refs[i] = ref
	}

	// Every actor is fed by exactly one sender.
	const senders = 8
	var sendWg sync.WaitGroup
	for s := 0; s < senders; s++ {
		sendWg.Add(1)
		go func(s int) {
			defer sendWg.Done()
			for seq := 0; seq < numMsgs; seq++ {
				for i := s; i < numActors; i += senders {
					refs[i].Tell(&testMsg{seq: seq})
				}
			}
		}(s)
	}
	sendWg.Wait()
	waitTimeout(t, &wg, 2*time.Minute)
	require.Zero(t, failures.Load())
}

func TestMessageOrderAndSum(t *testing.T) {
	testOrderAndSum(t, 1000, 1000)
}

func TestMessageOrderFewActorsManyMessages(t *testing.T) {
	if testing.Short() {
		t.Skip("skip in short mode")
	}
	testOrderAndSum(t, 10, 1000000)
}

func TestMessageOrderManyActorsFewMessages(t *testing.T) {
	if testing.Short() {
		t.Skip("skip in short mode")
	}
	testOrderAndSum(t, 1000000, 10)
}

func TestNoConcurrentProcess(t *testing.T) {
	sys := newTestSystem(t, DefaultSettings(), 8)

	const numMsgs = 10000
	var depth, maxDepth, processed atomic.Int32
	ref, err := sys.CreateRootActor(testDispatcher, newTestCreator(newTestID(), &testActor{
		process: func(Context, Msg) error {
			d := depth.Inc()
			if d > maxDepth.Load() {
				maxDepth.Store(d)
			}
			runtime.Gosched()
			depth.Dec()
			processed.Inc()
			return nil
		},
	}))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numMsgs/10; j++ {
				if j%3 == 0 {
					ref.TellWithHighPriority(&testMsg{seq: j})
				} else {
					ref.Tell(&testMsg{seq: j})
				}
			}
		}()
	}
	wg.Wait()
	require.Eventually(t, func() bool {
		return processed.Load() == numMsgs
	}, 10*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(1), maxDepth.Load())
}

func TestNoDeliveryAfterStop(t *testing.T) {
	sys := newTestSystem(t, DefaultSettings(), 2)

	entered := make(chan struct{})
	release := make(chan struct{})
	var processed, destroyed atomic.Int32
	var reasons sync.Map
	var dropped atomic.Int32
	onDropped := func(r DropReason) {
		reasons.Store(r, struct{}{})
		dropped.Inc()
	}
	id := newTestID()
	ref, err := sys.CreateRootActor(testDispatcher, newTestCreator(id, &testActor{
		init: func(Context) error {
			close(entered)
			<-release
			return nil
		},
		process: func(Context, Msg) error {
			processed.Inc()
			return nil
		},
		destroy: func(reason StopReason, cause error) {
			if reason == StopReasonStopped && cause == nil {
				destroyed.Inc()
			}
		},
	}))
	require.NoError(t, err)

	<-entered
	for i := 0; i < 100; i++ {
		ref.Tell(&testMsg{seq: i, onDropped: onDropped})
	}
	sys.StopActor(id)
	_, ok := sys.GetActor(id)
	require.False(t, ok)
	ref.Tell(&testMsg{onDropped: onDropped})
	sys.Tell(id, &testMsg{onDropped: onDropped})
	close(release)

	require.Eventually(t, func() bool {
		return destroyed.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(102), dropped.Load())
	require.Zero(t, processed.Load())
	var got []DropReason
	reasons.Range(func(k, _ interface{}) bool {
		got = append(got, k.(DropReason))
		return true
	})
	require.ElementsMatch(t, []DropReason{DropReasonActorStopped, DropReasonActorNotFound}, got)
}

func TestStopWhileProcessing(t *testing.T) {
	sys := newTestSystem(t, DefaultSettings(), 2)

	entered := make(chan struct{})
	release := make(chan struct{})
	var processed atomic.Int32
	destroyed := make(chan int32, 1)
	id := newTestID()
	ref, err := sys.CreateRootActor(testDispatcher, newTestCreator(id, &testActor{
		process: func(_ Context, msg Msg) error {
			if msg.(*testMsg).seq == 0 {
				close(entered)
				<-release
			}
			processed.Inc()
			return nil
		},
		destroy: func(StopReason, error) {
			destroyed <- processed.Load()
		},
	}))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		ref.Tell(&testMsg{seq: i})
	}
	<-entered
	sys.StopActor(id)
	close(release)
	// The in-flight message completes before Destroy, the rest is dropped.
	require.Equal(t, int32(1), <-destroyed)
}

// A drain task that passed its last check before the actor was stopped must
// not take another message out of the mailbox.
func TestDequeueAfterStop(t *testing.T) {
	sys := newTestSystem(t, DefaultSettings(), 1)
	d, ok := sys.getDispatcher(testDispatcher)
	require.True(t, ok)

	var processed, destroyed, dropped atomic.Int32
	m := newMailbox(sys, d, newTestID(), nil, &testActor{
		process: func(Context, Msg) error {
			processed.Inc()
			return nil
		},
		destroy: func(StopReason, error) { destroyed.Inc() },
	})
	d.actors.Inc()
	m.state.Store(stateDraining)
	for i := 0; i < 2; i++ {
		m.enqueue(&testMsg{seq: i, onDropped: func(DropReason) { dropped.Inc() }}, false)
	}

	m.stop(StopReasonStopped, nil)
	// The mailbox is draining, destruction is left to the drain task.
	require.Zero(t, destroyed.Load())
	_, ok = m.dequeue()
	require.False(t, ok)
	require.False(t, m.hasMessages())

	m.processMessages()
	require.Zero(t, processed.Load())
	require.Equal(t, int32(1), destroyed.Load())
	require.Equal(t, int32(2), dropped.Load())
	require.Equal(t, stateStopped, m.state.Load())
}

func TestStopRacingWithHandler(t *testing.T) {
	sys := newTestSystem(t, DefaultSettings(), 4)

	rounds := 2000
	if testing.Short() {
		rounds = 200
	}
	for i := 0; i < rounds; i++ {
		entered := make(chan struct{})
		release := make(chan struct{})
		destroyedCh := make(chan struct{})
		var destroyed atomic.Bool
		var afterDestroy, processed, dropped atomic.Int32
		id := newTestID()
		ref, err := sys.CreateRootActor(testDispatcher, newTestCreator(id, &testActor{
			process: func(_ Context, msg Msg) error {
				if destroyed.Load() {
					afterDestroy.Inc()
				}
				if msg.(*testMsg).seq == 0 {
					close(entered)
					<-release
					return nil
				}
				processed.Inc()
				return nil
			},
			destroy: func(StopReason, error) {
				destroyed.Store(true)
				close(destroyedCh)
			},
		}))
		require.NoError(t, err)

		ref.Tell(&testMsg{seq: 0})
		ref.Tell(&testMsg{seq: 1, onDropped: func(DropReason) { dropped.Inc() }})
		<-entered
		go close(release)
		sys.StopActor(id)

		select {
		case <-destroyedCh:
		case <-time.After(5 * time.Second):
			require.FailNow(t, "actor is not destroyed", "round %d", i)
		}
		require.Zero(t, afterDestroy.Load())
		// The second message is either processed before the stop or dropped.
		require.Equal(t, int32(1), processed.Load()+dropped.Load())
	}
}

func TestFairness(t *testing.T) {
	settings := DefaultSettings()
	settings.ActorThroughput = 5
	sys := newTestSystem(t, settings, 1)

	const numMsgs = 10000
	var processedA atomic.Int64
	refA, err := sys.CreateRootActor(testDispatcher, newTestCreator(newTestID(), &testActor{
		process: func(Context, Msg) error {
			time.Sleep(10 * time.Microsecond)
			processedA.Inc()
			return nil
		},
	}))
	require.NoError(t, err)
	observed := make(chan int64, 1)
	refB, err := sys.CreateRootActor(testDispatcher, newTestCreator(newTestID(), &testActor{
		process: func(Context, Msg) error {
			observed <- processedA.Load()
			return nil
		},
	}))
	require.NoError(t, err)

	for i := 0; i < numMsgs; i++ {
		refA.Tell(&testMsg{seq: i})
	}
	refB.Tell(&testMsg{})
	select {
	case n := <-observed:
		require.Less(t, n, int64(numMsgs/2))
	case <-time.After(10 * time.Second):
		require.FailNow(t, "B is starved by A")
	}
}

func TestHighPriority(t *testing.T) {
	sys := newTestSystem(t, DefaultSettings(), 2)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan []int, 1)
	var order []int
	ref, err := sys.CreateRootActor(testDispatcher, newTestCreator(newTestID(), &testActor{
		process: func(_ Context, msg Msg) error {
			seq := msg.(*testMsg).seq
			if seq == 0 {
				close(entered)
				<-release
			}
			order = append(order, seq)
			if len(order) == 6 {
				done <- order
			}
			return nil
		},
	}))
	require.NoError(t, err)

	ref.Tell(&testMsg{seq: 0})
	<-entered
	ref.Tell(&testMsg{seq: 1})
	ref.Tell(&testMsg{seq: 2})
	ref.TellWithHighPriority(&testMsg{seq: 100})
	ref.Tell(&testMsg{seq: 3})
	ref.TellWithHighPriority(&testMsg{seq: 101})
	close(release)
	require.Equal(t, []int{0, 100, 101, 1, 2, 3}, <-done)
}

func TestMailboxCapacity(t *testing.T) {
	settings := DefaultSettings()
	settings.MailboxCapacity = 2
	sys := newTestSystem(t, settings, 1)

	entered := make(chan struct{})
	release := make(chan struct{})
	var processed atomic.Int32
	ref, err := sys.CreateRootActor(testDispatcher, newTestCreator(newTestID(), &testActor{
		process: func(_ Context, msg Msg) error {
			if msg.(*testMsg).seq == 0 {
				close(entered)
				<-release
			}
			processed.Inc()
			return nil
		},
	}))
	require.NoError(t, err)

	ref.Tell(&testMsg{seq: 0})
	<-entered
	var reason DropReason
	ref.Tell(&testMsg{seq: 1})
	ref.Tell(&testMsg{seq: 2})
	ref.Tell(&testMsg{seq: 3, onDropped: func(r DropReason) { reason = r }})
	require.Equal(t, DropReasonMailboxFull, reason)
	close(release)
	require.Eventually(t, func() bool {
		return processed.Load() == 3
	}, 5*time.Second, 10*time.Millisecond)
}

type stopOnFailureActor struct {
	*testActor
}

func (a *stopOnFailureActor) OnProcessFailure(Msg, error) ProcessFailureStrategy {
	return StopOnFailure
}

func TestProcessFailure(t *testing.T) {
	sys := newTestSystem(t, DefaultSettings(), 2)
	failures := handlerFailureCounter.WithLabelValues(testDispatcher)
	before := testutil.ToFloat64(failures)

	var processed atomic.Int32
	ref, err := sys.CreateRootActor(testDispatcher, newTestCreator(newTestID(), &testActor{
		process: func(_ Context, msg Msg) error {
			processed.Inc()
			switch msg.(*testMsg).seq {
			case 1:
				return errors.New("process failed")
			case 2:
				panic("process panicked")
			}
			return nil
		},
	}))
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		ref.Tell(&testMsg{seq: i})
	}
	require.Eventually(t, func() bool {
		return processed.Load() == 4
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, before+2, testutil.ToFloat64(failures))

	// An actor that stops on failure drops the rest of its mailbox.
	var stopped atomic.Int32
	id := newTestID()
	ref, err = sys.CreateRootActor(testDispatcher, newTestCreator(id, &stopOnFailureActor{
		testActor: &testActor{
			process: func(Context, Msg) error {
				return errors.New("process failed")
			},
			destroy: func(StopReason, error) { stopped.Inc() },
		},
	}))
	require.NoError(t, err)
	ref.Tell(&testMsg{})
	require.Eventually(t, func() bool {
		return stopped.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)
	_, ok := sys.GetActor(id)
	require.False(t, ok)
}

func TestInitRetry(t *testing.T) {
	mock := clock.NewMock()
	sys := newTestSystem(t, DefaultSettings(), 2, WithClock(mock))

	var attempts, processed atomic.Int32
	ref, err := sys.CreateRootActor(testDispatcher, newTestCreator(newTestID(), &testActor{
		init: func(Context) error {
			if attempts.Inc() < 3 {
				return errors.New("state is not ready")
			}
			return nil
		},
		process: func(Context, Msg) error {
			processed.Inc()
			return nil
		},
	}))
	require.NoError(t, err)
	// Messages told before the actor is initialized are kept.
	ref.Tell(&testMsg{})

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return processed.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(3), attempts.Load())
}

func TestInitFailureStopsActor(t *testing.T) {
	mock := clock.NewMock()
	settings := DefaultSettings()
	settings.MaxActorInitAttempts = 3
	sys := newTestSystem(t, settings, 2, WithClock(mock))

	var attempts atomic.Int32
	destroyed := make(chan error, 1)
	id := newTestID()
	ref, err := sys.CreateRootActor(testDispatcher, newTestCreator(id, &testActor{
		init: func(Context) error {
			attempts.Inc()
			return errors.New("state is broken")
		},
		destroy: func(reason StopReason, cause error) {
			if reason != StopReasonInitFailed {
				cause = errors.Errorf("unexpected stop reason %s", reason)
			}
			destroyed <- cause
		},
	}))
	require.NoError(t, err)
	var reason DropReason
	var reasonMu sync.Mutex
	ref.Tell(&testMsg{onDropped: func(r DropReason) {
		reasonMu.Lock()
		defer reasonMu.Unlock()
		reason = r
	}})

	var cause error
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		select {
		case cause = <-destroyed:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	require.Regexp(t, "ErrActorInitFailed", cause.Error())
	require.Equal(t, int32(3), attempts.Load())
	reasonMu.Lock()
	require.Equal(t, DropReasonActorInitFailed, reason)
	reasonMu.Unlock()
	_, ok := sys.GetActor(id)
	require.False(t, ok)
}

type stopOnInitFailureActor struct {
	*testActor
}

func (a *stopOnInitFailureActor) OnInitFailure(attempt int, err error) InitFailureStrategy {
	return StopOnInitFailure()
}

func TestInitFailureHandler(t *testing.T) {
	sys := newTestSystem(t, DefaultSettings(), 1)

	var attempts, destroyed atomic.Int32
	_, err := sys.CreateRootActor(testDispatcher, newTestCreator(newTestID(), &stopOnInitFailureActor{
		testActor: &testActor{
			init: func(Context) error {
				attempts.Inc()
				return errors.New("state is broken")
			},
			destroy: func(StopReason, error) { destroyed.Inc() },
		},
	}))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return destroyed.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(1), attempts.Load())
	require.Equal(t, 0, sys.ActorCount())
}

func TestScheduleTell(t *testing.T) {
	mock := clock.NewMock()
	sys := newTestSystem(t, DefaultSettings(), 2, WithClock(mock))

	received := make(chan int, 10)
	var cancel func() bool
	ref, err := sys.CreateRootActor(testDispatcher, newTestCreator(newTestID(), &testActor{
		process: func(ctx Context, msg Msg) error {
			seq := msg.(*testMsg).seq
			if seq == 0 {
				ctx.ScheduleTell(&testMsg{seq: 1}, time.Second)
			}
			received <- seq
			return nil
		},
	}))
	require.NoError(t, err)

	ref.Tell(&testMsg{seq: 0})
	require.Equal(t, 0, <-received)
	cancel = sys.ScheduleTell(ref.ID(), &testMsg{seq: 2}, time.Second)
	require.True(t, cancel())
	require.False(t, cancel())

	mock.Add(500 * time.Millisecond)
	select {
	case seq := <-received:
		require.FailNow(t, "unexpected message", "seq %d", seq)
	case <-time.After(50 * time.Millisecond):
	}
	mock.Add(time.Second)
	require.Equal(t, 1, <-received)

	ref.Tell(&testMsg{seq: 3})
	require.Equal(t, 3, <-received)
}
