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

package ruleengine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iotflow/iotflow/pkg/actor"
)

// Types of rule engine messages produced by devices.
const (
	MsgTypePostTelemetry   = "POST_TELEMETRY_REQUEST"
	MsgTypeConnectEvent    = "CONNECT_EVENT"
	MsgTypeDisconnectEvent = "DISCONNECT_EVENT"
)

// Msg is the payload that flows through rule chains. A Msg must not be
// modified after it is passed to a rule node, use Copy instead.
type Msg struct {
	ID          uuid.UUID
	Type        string
	Originator  actor.ID
	Data        string
	Metadata    map[string]string
	Ts          time.Time
	RuleChainID uuid.UUID
	RuleNodeID  uuid.UUID

	callback Callback
}

// NewMsg creates a message with a new ID.
func NewMsg(msgType string, originator actor.ID, metadata map[string]string, data string, cb Callback) *Msg {
	if cb == nil {
		cb = EmptyCallback
	}
	return &Msg{
		ID:         uuid.New(),
		Type:       msgType,
		Originator: originator,
		Data:       data,
		Metadata:   metadata,
		Ts:         time.Now(),
		callback:   cb,
	}
}

// Callback returns the callback of the message.
func (m *Msg) Callback() Callback {
	if m.callback == nil {
		return EmptyCallback
	}
	return m.callback
}

// Copy returns a copy of the message that shares the callback. The metadata
// is copied, so the copy can be modified independently.
func (m *Msg) Copy() *Msg {
	c := *m
	if m.Metadata != nil {
		c.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func (m *Msg) withCallback(cb Callback) *Msg {
	c := m.Copy()
	c.callback = cb
	return c
}

// Callback is notified once a message finishes its trip through the rule
// engine. Exactly one of the methods is called, at most once.
type Callback interface {
	OnSuccess()
	OnFailure(err error)
}

type emptyCallback struct{}

func (emptyCallback) OnSuccess()        {}
func (emptyCallback) OnFailure(_ error) {}

// EmptyCallback ignores all the notifications.
var EmptyCallback Callback = emptyCallback{}

// CallbackFuncs adapts functions to Callback. Nil functions are ignored.
type CallbackFuncs struct {
	Success func()
	Failure func(err error)
}

// OnSuccess implements Callback.
func (c CallbackFuncs) OnSuccess() {
	if c.Success != nil {
		c.Success()
	}
}

// OnFailure implements Callback.
func (c CallbackFuncs) OnFailure(err error) {
	if c.Failure != nil {
		c.Failure(err)
	}
}

// packCallback settles the parent callback once all the branches a message
// is forked into are settled. It fails if any branch fails.
type packCallback struct {
	parent Callback

	mu        sync.Mutex
	remaining int
	failure   error
}

func newPackCallback(parent Callback, branches int) *packCallback {
	return &packCallback{parent: parent, remaining: branches}
}

func (c *packCallback) OnSuccess() {
	c.settle(nil)
}

func (c *packCallback) OnFailure(err error) {
	c.settle(err)
}

func (c *packCallback) settle(err error) {
	c.mu.Lock()
	if c.failure == nil {
		c.failure = err
	}
	c.remaining--
	done, failure := c.remaining == 0, c.failure
	c.mu.Unlock()

	if !done {
		return
	}
	if failure != nil {
		c.parent.OnFailure(failure)
		return
	}
	c.parent.OnSuccess()
}
