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
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/iotflow/iotflow/pkg/actor"
	cerrors "github.com/iotflow/iotflow/pkg/errors"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const defaultServiceTimeout = 10 * time.Second

// EngineOption customizes an Engine.
type EngineOption func(*deps)

// WithServiceTimeout bounds every call to the tenant and rule chain services.
func WithServiceTimeout(timeout time.Duration) EngineOption {
	return func(d *deps) {
		d.serviceTimeout = timeout
	}
}

// WithMaxInitAttempts sets how many times tenant, rule chain and rule node
// actors try to initialize before giving up.
func WithMaxInitAttempts(attempts int) EngineOption {
	return func(d *deps) {
		d.maxInitAttempts = attempts
	}
}

// Engine is the entry of the rule engine. Transports and queue consumers
// submit messages to it, and it routes them through the actor hierarchy:
//
//	app -> tenant -> device
//	           \---> rule chain -> rule node
type Engine struct {
	system *actor.System
	deps   *deps
	app    actor.Ref
}

// NewEngine creates the root actor of the rule engine on system. All the
// dispatchers returned by RequiredDispatchers must exist.
func NewEngine(
	system *actor.System,
	tenants TenantService,
	chains RuleChainService,
	nodes NodeFactory,
	opts ...EngineOption,
) (*Engine, error) {
	existing := make(map[string]struct{})
	for _, name := range system.Dispatchers() {
		existing[name] = struct{}{}
	}
	for _, name := range RequiredDispatchers() {
		if _, ok := existing[name]; !ok {
			return nil, cerrors.ErrDispatcherNotFound.GenWithStackByArgs(name)
		}
	}

	d := &deps{
		tenants:         tenants,
		chains:          chains,
		nodes:           nodes,
		serviceTimeout:  defaultServiceTimeout,
		maxInitAttempts: system.Settings().MaxActorInitAttempts,
	}
	for _, opt := range opts {
		opt(d)
	}
	app, err := system.CreateRootActor(AppDispatcher, newAppActorCreator(d))
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Info("rule engine started", zap.Stringer("appActorID", app.ID()))
	return &Engine{system: system, deps: d, app: app}, nil
}

// System returns the actor system of the engine.
func (e *Engine) System() *actor.System {
	return e.system
}

// Submit sends a transport event of a device. cb may be nil.
func (e *Engine) Submit(tenantID, deviceID uuid.UUID, event SessionEvent, data string, cb Callback) {
	e.SubmitTransport(&TransportMsg{
		TenantID: tenantID,
		DeviceID: deviceID,
		Event:    event,
		Data:     data,
		Callback: cb,
	})
}

// SubmitTransport sends a transport message.
func (e *Engine) SubmitTransport(msg *TransportMsg) {
	e.app.Tell(msg)
}

// SubmitToRuleChain pushes msg into a rule chain of the tenant, the root
// chain if msg.RuleChainID is uuid.Nil.
func (e *Engine) SubmitToRuleChain(tenantID uuid.UUID, msg *Msg) {
	e.app.Tell(&ToRuleChainMsg{TenantID: tenantID, Msg: msg})
}

// OnComponentLifecycle notifies the actors that a component changed.
func (e *Engine) OnComponentLifecycle(msg *ComponentLifecycleMsg) {
	e.app.TellWithHighPriority(msg)
}

// DeviceState asks the actor of a device for its state.
func (e *Engine) DeviceState(ctx context.Context, tenantID, deviceID uuid.UUID) (DeviceState, error) {
	reply := make(chan DeviceStateReply, 1)
	e.app.Tell(&DeviceStateQuery{TenantID: tenantID, DeviceID: deviceID, Reply: reply})
	select {
	case r := <-reply:
		return r.State, r.Err
	case <-ctx.Done():
		return DeviceState{}, errors.Trace(ctx.Err())
	}
}
