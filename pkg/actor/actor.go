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
	"time"
)

// Actor is a universal primitive of concurrent computation.
// See more https://en.wikipedia.org/wiki/Actor_model
//
// An actor is bound to one ID and handles the messages sent to that ID one at
// a time. Process is never called concurrently for the same actor, so an
// actor needs no locking for its own state.
//
// Process must not block for long, a slow actor occupies a worker of its
// dispatcher. Long running work should be delegated to another goroutine,
// which reports back with a message to ctx.Self().
type Actor interface {
	// Process handles a message. A returned error is logged and passed to
	// ProcessFailureHandler if the actor implements it, the actor keeps
	// processing subsequent messages by default.
	Process(ctx Context, msg Msg) error
}

// Initializer is implemented by actors that need to be initialized before
// processing messages, e.g. to load their state from external services.
// Messages sent during initialization are queued.
type Initializer interface {
	Init(ctx Context) error
}

// Destroyer is implemented by actors that release resources on stop.
// Destroy is called exactly once, after the last Process call returns. It is
// called even if Init has never succeeded. cause is not nil only if reason is
// StopReasonInitFailed.
type Destroyer interface {
	Destroy(reason StopReason, cause error)
}

// InitFailureHandler decides what to do when Init fails.
// attempt starts from 1.
type InitFailureHandler interface {
	OnInitFailure(attempt int, err error) InitFailureStrategy
}

// ProcessFailureHandler decides what to do when Process fails or panics.
type ProcessFailureHandler interface {
	OnProcessFailure(msg Msg, err error) ProcessFailureStrategy
}

// InitFailureStrategy is returned by InitFailureHandler.
type InitFailureStrategy struct {
	// Stop gives up the initialization and stops the actor.
	Stop bool
	// RetryDelay is the delay before the next attempt. Zero means the
	// default backoff of the system is used.
	RetryDelay time.Duration
}

// RetryInit returns a strategy that retries the initialization after delay.
func RetryInit(delay time.Duration) InitFailureStrategy {
	return InitFailureStrategy{RetryDelay: delay}
}

// StopOnInitFailure returns a strategy that stops the actor.
func StopOnInitFailure() InitFailureStrategy {
	return InitFailureStrategy{Stop: true}
}

// ProcessFailureStrategy is returned by ProcessFailureHandler.
type ProcessFailureStrategy int

// Process failure strategies.
const (
	// ResumeOnFailure drops the failed message and goes on.
	ResumeOnFailure ProcessFailureStrategy = iota
	// StopOnFailure stops the actor.
	StopOnFailure
)

// Creator creates an actor for an ID. CreateActor is called at most once per
// registration, even if many goroutines create the same actor concurrently.
type Creator interface {
	ActorID() ID
	CreateActor() (Actor, error)
}

type creatorFunc struct {
	id ID
	fn func() (Actor, error)
}

// NewCreator returns a Creator that calls fn to create the actor.
func NewCreator(id ID, fn func() (Actor, error)) Creator {
	return &creatorFunc{id: id, fn: fn}
}

func (c *creatorFunc) ActorID() ID {
	return c.id
}

func (c *creatorFunc) CreateActor() (Actor, error) {
	return c.fn()
}

// Ref is a handle to send messages to an actor.
// Ref is threadsafe.
type Ref interface {
	ID() ID
	// Tell sends a message to the actor. It never blocks, messages are
	// dropped if the actor is stopped.
	Tell(msg Msg)
	// TellWithHighPriority sends a message that is processed before all the
	// normal messages queued in the mailbox.
	TellWithHighPriority(msg Msg)
}

// Context is passed to an actor when it is initialized or processes a
// message. It must only be used by the actor it is passed to.
type Context interface {
	Ref

	// Self returns the reference of the actor itself.
	Self() Ref
	// Parent returns the reference of the parent actor, it is nil for root
	// actors.
	Parent() Ref
	// TellActor sends a message to another actor.
	TellActor(target ID, msg Msg)
	// ScheduleTell sends a message to the actor itself after delay.
	// It returns a function to cancel the delivery.
	ScheduleTell(msg Msg, delay time.Duration) (cancel func() bool)
	// Stop stops the target actor and all its children.
	Stop(target ID)
	// GetOrCreateChildActor returns the child with creator.ActorID() and
	// creates it on the given dispatcher if it does not exist.
	GetOrCreateChildActor(dispatcher string, creator Creator) (Ref, error)
	// BroadcastToChildren sends a message to all the children.
	BroadcastToChildren(msg Msg, highPriority bool)
	// FilterChildren returns IDs of the children that match pred.
	FilterChildren(pred func(ID) bool) []ID
}
