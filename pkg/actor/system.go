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
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	cerrors "github.com/iotflow/iotflow/pkg/errors"
	"github.com/iotflow/iotflow/pkg/workerpool"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// System is an actor system. It owns the actor registry and the dispatchers
// that run actors.
//
// All methods of System are threadsafe.
type System struct {
	settings Settings
	clock    clock.Clock

	// ID -> *mailbox
	actors   sync.Map
	actorNum atomic.Int64
	creating singleflight.Group

	dispatchersMu sync.RWMutex
	dispatchers   map[string]*Dispatcher

	// parent -> children
	childrenMu sync.RWMutex
	children   map[ID]map[ID]struct{}

	stopped        atomic.Bool
	dropLogLimiter *rate.Limiter
}

// Option customizes a System.
type Option func(*System)

// WithClock sets the clock used by ScheduleTell and init retries.
func WithClock(c clock.Clock) Option {
	return func(s *System) {
		s.clock = c
	}
}

// NewSystem returns a new actor system without any dispatcher.
func NewSystem(settings Settings, opts ...Option) *System {
	settings.adjust()
	s := &System{
		settings:       settings,
		clock:          clock.New(),
		dispatchers:    make(map[string]*Dispatcher),
		children:       make(map[ID]map[ID]struct{}),
		dropLogLimiter: rate.NewLimiter(rate.Every(time.Second), 10),
	}
	for _, opt := range opts {
		opt(s)
	}
	log.Info("actor system created",
		zap.Int("actorThroughput", settings.ActorThroughput),
		zap.Int("maxActorInitAttempts", settings.MaxActorInitAttempts),
		zap.Int("mailboxCapacity", settings.MailboxCapacity))
	return s
}

// Settings returns the adjusted settings of the system.
func (s *System) Settings() Settings {
	return s.settings
}

// CreateDispatcher registers an executor under name. Actors created on the
// dispatcher run on the executor, and the system shuts the executor down
// when it stops.
func (s *System) CreateDispatcher(name string, executor workerpool.Executor) error {
	s.dispatchersMu.Lock()
	defer s.dispatchersMu.Unlock()
	if s.stopped.Load() {
		return cerrors.ErrActorSystemStopped.GenWithStackByArgs()
	}
	if _, ok := s.dispatchers[name]; ok {
		return cerrors.ErrDispatcherAlreadyExists.GenWithStackByArgs(name)
	}
	s.dispatchers[name] = newDispatcher(name, executor)
	log.Info("dispatcher created", zap.String("dispatcher", name))
	return nil
}

// DestroyDispatcher unregisters a dispatcher, stops the actors running on it
// (with their children, wherever they run) and shuts its executor down.
// It must not be called from a task of the same executor, Shutdown would
// wait for the caller itself until ShutdownTimeout.
func (s *System) DestroyDispatcher(name string) error {
	s.dispatchersMu.Lock()
	d, ok := s.dispatchers[name]
	delete(s.dispatchers, name)
	s.dispatchersMu.Unlock()
	if !ok {
		return cerrors.ErrDispatcherNotFound.GenWithStackByArgs(name)
	}
	s.stopActorsOn(d)
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.ShutdownTimeout)
	defer cancel()
	err := d.executor.Shutdown(ctx)
	// An actor created on d while it was being destroyed may have had its
	// task dropped by Shutdown.
	s.stopActorsOn(d)
	if err != nil {
		return errors.Trace(err)
	}
	log.Info("dispatcher destroyed", zap.String("dispatcher", name))
	return nil
}

func (s *System) stopActorsOn(d *Dispatcher) {
	s.actors.Range(func(key, value interface{}) bool {
		if value.(*mailbox).dispatcher == d {
			s.stopActor(key.(ID), StopReasonStopped, nil)
		}
		return true
	})
}

// Dispatchers returns the sorted names of all dispatchers.
func (s *System) Dispatchers() []string {
	s.dispatchersMu.RLock()
	defer s.dispatchersMu.RUnlock()
	names := make([]string, 0, len(s.dispatchers))
	for name := range s.dispatchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *System) getDispatcher(name string) (*Dispatcher, bool) {
	s.dispatchersMu.RLock()
	defer s.dispatchersMu.RUnlock()
	d, ok := s.dispatchers[name]
	return d, ok
}

// CreateRootActor creates an actor without parent on the dispatcher, or
// returns the existing actor with the same ID.
func (s *System) CreateRootActor(dispatcher string, creator Creator) (Ref, error) {
	return s.createActor(dispatcher, creator, nil)
}

// CreateChildActor creates a child of parent on the dispatcher, or returns
// the existing actor with the same ID.
func (s *System) CreateChildActor(dispatcher string, creator Creator, parent ID) (Ref, error) {
	mb, ok := s.getMailbox(parent)
	if !ok {
		return nil, cerrors.ErrActorNotFound.GenWithStackByArgs(parent)
	}
	return s.createActor(dispatcher, creator, mb)
}

// createActor registers the actor of creator.ActorID() exactly once. Callers
// racing on the same ID all get the same Ref, and CreateActor is called by
// only one of them.
func (s *System) createActor(dispatcherName string, creator Creator, parent *mailbox) (Ref, error) {
	if s.stopped.Load() {
		return nil, cerrors.ErrActorSystemStopped.GenWithStackByArgs()
	}
	id := creator.ActorID()
	if mb, ok := s.getMailbox(id); ok {
		return mb, nil
	}
	dispatcher, ok := s.getDispatcher(dispatcherName)
	if !ok {
		return nil, cerrors.ErrDispatcherNotFound.GenWithStackByArgs(dispatcherName)
	}

	v, err, _ := s.creating.Do(flightKey(id), func() (interface{}, error) {
		if mb, ok := s.getMailbox(id); ok {
			return mb, nil
		}
		actor, err := callCreator(creator)
		if err != nil {
			return nil, cerrors.WrapError(cerrors.ErrActorCreationFailed, err, id)
		}
		mb := newMailbox(s, dispatcher, id, parent, actor)
		s.actors.Store(id, mb)
		if parent != nil {
			s.addChild(parent.id, id)
		}
		s.actorNum.Inc()
		dispatcher.actors.Inc()
		log.Debug("actor created",
			zap.Stringer("actorID", id),
			zap.String("dispatcher", dispatcherName))
		mb.start()
		return mb, nil
	})
	if err != nil {
		return nil, err
	}
	mb := v.(*mailbox)
	if s.stopped.Load() {
		// Stop raced with the creation.
		s.StopActor(id)
	} else if parent != nil {
		// The parent is removed from the registry before its children are
		// taken, so a child linked after that is caught here.
		if _, ok := s.getMailbox(parent.id); !ok {
			s.StopActor(id)
		}
	}
	return mb, nil
}

func callCreator(creator Creator) (actor Actor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("creator panicked: %v", r)
		}
	}()
	actor, err = creator.CreateActor()
	if err == nil && actor == nil {
		err = errors.New("creator returned a nil actor")
	}
	return
}

// flightKey is unique per ID, the type prefix keeps a named ID from
// colliding with an entity ID that prints the same.
func flightKey(id ID) string {
	return strconv.Itoa(int(id.entityType)) + ":" + id.String()
}

// GetActor returns the actor of id if it is registered.
func (s *System) GetActor(id ID) (Ref, bool) {
	mb, ok := s.getMailbox(id)
	if !ok {
		return nil, false
	}
	return mb, true
}

func (s *System) getMailbox(id ID) (*mailbox, bool) {
	v, ok := s.actors.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*mailbox), true
}

// ActorCount returns the number of registered actors.
func (s *System) ActorCount() int {
	return int(s.actorNum.Load())
}

// Tell sends msg to the actor of target. The message is dropped if the
// actor does not exist.
func (s *System) Tell(target ID, msg Msg) {
	s.tell(target, msg, false)
}

// TellWithHighPriority sends msg to the actor of target, the message is
// processed before all normal messages in the mailbox.
func (s *System) TellWithHighPriority(target ID, msg Msg) {
	s.tell(target, msg, true)
}

func (s *System) tell(target ID, msg Msg, highPriority bool) {
	if s.stopped.Load() {
		s.drop(target, msg, DropReasonSystemStopped)
		return
	}
	mb, ok := s.getMailbox(target)
	if !ok {
		s.drop(target, msg, DropReasonActorNotFound)
		return
	}
	mb.enqueue(msg, highPriority)
}

// ScheduleTell sends msg to the actor of target after delay. The returned
// function cancels the delivery, it returns false if the message has been
// sent or the delivery has been canceled.
func (s *System) ScheduleTell(target ID, msg Msg, delay time.Duration) (cancel func() bool) {
	timer := s.clock.AfterFunc(delay, func() {
		s.Tell(target, msg)
	})
	return timer.Stop
}

func (s *System) drop(target ID, msg Msg, reason DropReason) {
	droppedMsgCounter.WithLabelValues(reason.String()).Inc()
	if ce := log.L().Check(zap.DebugLevel, "message dropped"); ce != nil && s.dropLogLimiter.Allow() {
		ce.Write(
			zap.Stringer("actorID", target),
			zap.String("msgType", string(msg.MsgType())),
			zap.Stringer("reason", reason))
	}
	if aware, ok := msg.(DropAware); ok {
		aware.OnDropped(reason)
	}
}

// BroadcastToChildren sends msg to all the children of parent.
func (s *System) BroadcastToChildren(parent ID, msg Msg, highPriority bool) {
	for _, child := range s.FilterChildren(parent, nil) {
		s.tell(child, msg, highPriority)
	}
}

// FilterChildren returns the children of parent that match pred. A nil pred
// matches all.
func (s *System) FilterChildren(parent ID, pred func(ID) bool) []ID {
	s.childrenMu.RLock()
	defer s.childrenMu.RUnlock()
	children := s.children[parent]
	ids := make([]ID, 0, len(children))
	for child := range children {
		if pred == nil || pred(child) {
			ids = append(ids, child)
		}
	}
	return ids
}

func (s *System) addChild(parent, child ID) {
	s.childrenMu.Lock()
	defer s.childrenMu.Unlock()
	children, ok := s.children[parent]
	if !ok {
		children = make(map[ID]struct{})
		s.children[parent] = children
	}
	children[child] = struct{}{}
}

func (s *System) removeChild(parent, child ID) {
	s.childrenMu.Lock()
	defer s.childrenMu.Unlock()
	children, ok := s.children[parent]
	if !ok {
		return
	}
	delete(children, child)
	if len(children) == 0 {
		delete(s.children, parent)
	}
}

func (s *System) takeChildren(parent ID) map[ID]struct{} {
	s.childrenMu.Lock()
	defer s.childrenMu.Unlock()
	children := s.children[parent]
	delete(s.children, parent)
	return children
}

// StopActor stops the actor of id and all its descendants. It is a no-op if
// the actor does not exist or is already stopped.
//
// A message being processed is finished, the queued messages are dropped.
func (s *System) StopActor(id ID) {
	s.stopActor(id, StopReasonStopped, nil)
}

func (s *System) stopActor(id ID, reason StopReason, cause error) {
	v, ok := s.actors.LoadAndDelete(id)
	if !ok {
		return
	}
	mb := v.(*mailbox)
	s.actorNum.Dec()
	for child := range s.takeChildren(id) {
		s.stopActor(child, StopReasonStopped, nil)
	}
	if mb.parent != nil {
		s.removeChild(mb.parent.id, id)
	}
	mb.stop(reason, cause)
	log.Debug("actor stopped", zap.Stringer("actorID", id), zap.Stringer("reason", reason))
}

// Stop stops all actors and shuts down all dispatchers. Messages told
// afterwards are dropped. Stop is idempotent.
//
// Like DestroyDispatcher, Stop must not be called from an actor handler: the
// executor running the handler would wait for it until ShutdownTimeout.
func (s *System) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	start := time.Now()
	s.actors.Range(func(key, _ interface{}) bool {
		s.stopActor(key.(ID), StopReasonStopped, nil)
		return true
	})

	s.dispatchersMu.Lock()
	dispatchers := s.dispatchers
	s.dispatchers = make(map[string]*Dispatcher)
	s.dispatchersMu.Unlock()

	var errs error
	for name, d := range dispatchers {
		ctx, cancel := context.WithTimeout(context.Background(), s.settings.ShutdownTimeout)
		if err := d.executor.Shutdown(ctx); err != nil {
			errs = multierr.Append(errs, errors.Annotatef(err, "dispatcher %s", name))
		}
		cancel()
	}
	if errs != nil {
		log.Warn("failed to shutdown dispatchers", zap.Error(errs))
	}
	log.Info("actor system stopped", zap.Duration("duration", time.Since(start)))
}
