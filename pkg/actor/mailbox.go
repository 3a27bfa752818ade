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
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	cerrors "github.com/iotflow/iotflow/pkg/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// States of a mailbox.
//
//	          enqueue                 drain
//	  idle ─────────────▶ scheduled ─────────▶ draining
//	   ▲                     ▲                   │
//	   │                     └───── backlog ─────┤
//	   └─────────────────── empty ───────────────┘
//
// Any state may move to stopped, which is terminal. Every transition is a
// CAS, so at most one task owns a mailbox at any time, and the owner is the
// only one that calls Init, Process or Destroy.
const (
	stateIdle int32 = iota
	stateScheduled
	stateDraining
	stateStopped
)

// mailbox is the runtime of an actor. It queues the messages sent to the
// actor and drains them on the executor of its dispatcher.
//
// A mailbox implements both Ref and Context.
type mailbox struct {
	system     *System
	dispatcher *Dispatcher
	id         ID
	parent     *mailbox
	actor      Actor

	state atomic.Int32

	mu       sync.Mutex
	high     msgQueue
	normal   msgQueue
	stopped  bool
	reason   StopReason
	cause    error
	destroyO sync.Once

	// Only accessed by the task that owns the mailbox.
	initAttempts int
	initBackoff  *backoff.ExponentialBackOff
}

func newMailbox(system *System, dispatcher *Dispatcher, id ID, parent *mailbox, actor Actor) *mailbox {
	m := &mailbox{
		system:     system,
		dispatcher: dispatcher,
		id:         id,
		parent:     parent,
		actor:      actor,
	}
	// The init task is the first task of a mailbox.
	m.state.Store(stateScheduled)
	return m
}

func (m *mailbox) start() {
	m.submit(m.initialize)
}

// submit runs task on the dispatcher. It must be called in the scheduled
// state.
func (m *mailbox) submit(task func()) {
	if err := m.dispatcher.submit(task); err != nil {
		log.Warn("failed to schedule actor, stop it",
			zap.Stringer("actorID", m.id),
			zap.String("dispatcher", m.dispatcher.name),
			zap.Error(err))
		m.system.stopActor(m.id, StopReasonStopped, nil)
		// The actor may have been removed from the registry already.
		m.stop(StopReasonStopped, nil)
	}
}

func (m *mailbox) enqueue(msg Msg, highPriority bool) {
	m.mu.Lock()
	if m.stopped {
		reason := dropReasonOf(m.reason)
		m.mu.Unlock()
		m.system.drop(m.id, msg, reason)
		return
	}
	capacity := m.system.settings.MailboxCapacity
	if capacity > 0 && m.high.len()+m.normal.len() >= capacity {
		m.mu.Unlock()
		m.system.drop(m.id, msg, DropReasonMailboxFull)
		return
	}
	if highPriority {
		m.high.push(msg)
	} else {
		m.normal.push(msg)
	}
	m.mu.Unlock()

	m.trySchedule()
}

// dequeue pops the next message. It returns false once the mailbox is
// stopped, stop sets the flag under the same lock, so no message is taken
// out after stop returns.
func (m *mailbox) dequeue() (Msg, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, false
	}
	if msg, ok := m.high.pop(); ok {
		return msg, true
	}
	return m.normal.pop()
}

func (m *mailbox) hasMessages() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.stopped && m.high.len()+m.normal.len() > 0
}

func (m *mailbox) trySchedule() {
	if m.state.CompareAndSwap(stateIdle, stateScheduled) {
		m.submit(m.drain)
	}
}

// initialize calls Init of the actor, and starts draining messages once it
// succeeds.
func (m *mailbox) initialize() {
	if !m.state.CompareAndSwap(stateScheduled, stateDraining) {
		return
	}
	err := m.callInit()
	if err == nil {
		m.processMessages()
		return
	}

	m.initAttempts++
	m.dispatcher.initFailures.Inc()
	strategy := m.onInitFailure(err)
	if strategy.Stop {
		log.Warn("failed to init actor, stop it",
			zap.Stringer("actorID", m.id),
			zap.Int("attempts", m.initAttempts),
			zap.Error(err))
		cause := cerrors.WrapError(cerrors.ErrActorInitFailed, err, m.id, m.initAttempts)
		m.system.stopActor(m.id, StopReasonInitFailed, cause)
		m.stop(StopReasonInitFailed, cause)
		m.destroy()
		return
	}
	log.Info("failed to init actor, retry later",
		zap.Stringer("actorID", m.id),
		zap.Int("attempts", m.initAttempts),
		zap.Duration("delay", strategy.RetryDelay),
		zap.Error(err))
	if !m.state.CompareAndSwap(stateDraining, stateScheduled) {
		m.destroy()
		return
	}
	m.system.clock.AfterFunc(strategy.RetryDelay, func() {
		if m.state.Load() == stateScheduled {
			m.submit(m.initialize)
		}
	})
}

func (m *mailbox) callInit() (err error) {
	initializer, ok := m.actor.(Initializer)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = cerrors.ErrHandlerPanicked.GenWithStackByArgs(m.id, r)
		}
	}()
	return initializer.Init(m)
}

func (m *mailbox) onInitFailure(err error) InitFailureStrategy {
	var strategy InitFailureStrategy
	if handler, ok := m.actor.(InitFailureHandler); ok {
		strategy = handler.OnInitFailure(m.initAttempts, err)
	} else if m.initAttempts >= m.system.settings.MaxActorInitAttempts {
		strategy = StopOnInitFailure()
	}
	if !strategy.Stop && strategy.RetryDelay <= 0 {
		strategy.RetryDelay = m.nextInitBackoff()
	}
	return strategy
}

func (m *mailbox) nextInitBackoff() time.Duration {
	if m.initBackoff == nil {
		settings := m.system.settings
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = settings.InitRetryBaseDelay
		b.MaxInterval = settings.InitRetryMaxDelay
		b.MaxElapsedTime = 0
		b.Clock = m.system.clock
		b.Reset()
		m.initBackoff = b
	}
	return m.initBackoff.NextBackOff()
}

func (m *mailbox) drain() {
	if !m.state.CompareAndSwap(stateScheduled, stateDraining) {
		return
	}
	m.processMessages()
}

// processMessages processes at most ActorThroughput messages and then hands
// the mailbox over, either to the tail of the executor queue if messages
// remain, or to the idle state. It must be called in the draining state.
func (m *mailbox) processMessages() {
	start := time.Now()
	processed := 0
	for processed < m.system.settings.ActorThroughput {
		msg, ok := m.dequeue()
		if !ok {
			break
		}
		m.process(msg)
		processed++
	}
	if processed > 0 {
		m.dispatcher.processedMsgs.Add(float64(processed))
		m.dispatcher.drainDuration.Observe(time.Since(start).Seconds())
	}

	if m.hasMessages() {
		if m.state.CompareAndSwap(stateDraining, stateScheduled) {
			m.submit(m.drain)
			return
		}
	} else if m.state.CompareAndSwap(stateDraining, stateIdle) {
		// A message may arrive between the check and the CAS.
		if m.hasMessages() {
			m.trySchedule()
		}
		return
	}
	// The mailbox is stopped while draining, the stopper leaves the
	// destruction to us.
	m.destroy()
}

func (m *mailbox) process(msg Msg) {
	err := m.callProcess(msg)
	if err == nil {
		return
	}
	m.dispatcher.handlerFailures.Inc()
	log.Warn("actor failed to process message",
		zap.Stringer("actorID", m.id),
		zap.String("msgType", string(msg.MsgType())),
		zap.Error(err))

	strategy := ResumeOnFailure
	if handler, ok := m.actor.(ProcessFailureHandler); ok {
		strategy = handler.OnProcessFailure(msg, err)
	}
	if strategy == StopOnFailure {
		m.system.StopActor(m.id)
	}
}

func (m *mailbox) callProcess(msg Msg) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = cerrors.ErrHandlerPanicked.GenWithStackByArgs(m.id, r)
		}
	}()
	return m.actor.Process(m, msg)
}

// stop marks the mailbox stopped. Messages told afterwards are dropped.
//
// If a task is draining the mailbox, the task destroys the actor once the
// in-flight message is done, otherwise stop destroys it right away.
func (m *mailbox) stop(reason StopReason, cause error) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.reason = reason
	m.cause = cause
	m.mu.Unlock()

	if prev := m.state.Swap(stateStopped); prev != stateDraining {
		m.destroy()
	}
}

func (m *mailbox) destroy() {
	m.destroyO.Do(func() {
		m.mu.Lock()
		reason, cause := m.reason, m.cause
		pending := append(m.high.popAll(), m.normal.popAll()...)
		m.mu.Unlock()

		dropReason := dropReasonOf(reason)
		for _, msg := range pending {
			m.system.drop(m.id, msg, dropReason)
		}
		m.callDestroy(reason, cause)
		m.dispatcher.actors.Dec()
		log.Debug("actor destroyed",
			zap.Stringer("actorID", m.id),
			zap.Stringer("reason", reason),
			zap.Int("droppedMessages", len(pending)))
	})
}

func (m *mailbox) callDestroy(reason StopReason, cause error) {
	destroyer, ok := m.actor.(Destroyer)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn("actor panicked on destroy",
				zap.Stringer("actorID", m.id),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	destroyer.Destroy(reason, cause)
}

// ID implements Ref.
func (m *mailbox) ID() ID {
	return m.id
}

// Tell implements Ref.
func (m *mailbox) Tell(msg Msg) {
	m.enqueue(msg, false)
}

// TellWithHighPriority implements Ref.
func (m *mailbox) TellWithHighPriority(msg Msg) {
	m.enqueue(msg, true)
}

// Self implements Context.
func (m *mailbox) Self() Ref {
	return m
}

// Parent implements Context.
func (m *mailbox) Parent() Ref {
	if m.parent == nil {
		return nil
	}
	return m.parent
}

// TellActor implements Context.
func (m *mailbox) TellActor(target ID, msg Msg) {
	m.system.Tell(target, msg)
}

// ScheduleTell implements Context.
func (m *mailbox) ScheduleTell(msg Msg, delay time.Duration) func() bool {
	return m.system.ScheduleTell(m.id, msg, delay)
}

// Stop implements Context.
func (m *mailbox) Stop(target ID) {
	m.system.StopActor(target)
}

// GetOrCreateChildActor implements Context.
func (m *mailbox) GetOrCreateChildActor(dispatcher string, creator Creator) (Ref, error) {
	if ref, ok := m.system.GetActor(creator.ActorID()); ok {
		return ref, nil
	}
	return m.system.CreateChildActor(dispatcher, creator, m.id)
}

// BroadcastToChildren implements Context.
func (m *mailbox) BroadcastToChildren(msg Msg, highPriority bool) {
	m.system.BroadcastToChildren(m.id, msg, highPriority)
}

// FilterChildren implements Context.
func (m *mailbox) FilterChildren(pred func(ID) bool) []ID {
	return m.system.FilterChildren(m.id, pred)
}
