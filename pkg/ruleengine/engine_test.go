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
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/iotflow/iotflow/pkg/actor"
	cerrors "github.com/iotflow/iotflow/pkg/errors"
	"github.com/iotflow/iotflow/pkg/leakutil"
	"github.com/iotflow/iotflow/pkg/workerpool"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	leakutil.SetUpLeakTest(m)
}

type testCallback struct {
	done chan error
}

func newTestCallback() *testCallback {
	return &testCallback{done: make(chan error, 2)}
}

func (c *testCallback) OnSuccess() {
	c.done <- nil
}

func (c *testCallback) OnFailure(err error) {
	c.done <- err
}

func (c *testCallback) wait(t *testing.T) error {
	select {
	case err := <-c.done:
		return err
	case <-time.After(10 * time.Second):
		require.FailNow(t, "callback is not settled")
	}
	return nil
}

type testEnv struct {
	system    *actor.System
	engine    *Engine
	tenants   *MemoryTenantService
	chains    *MemoryRuleChainService
	collected chan *Msg
	tenantID  uuid.UUID
}

func newTestEnv(t *testing.T, opts ...actor.Option) *testEnv {
	sys := actor.NewSystem(actor.DefaultSettings(), opts...)
	t.Cleanup(sys.Stop)
	for _, name := range RequiredDispatchers() {
		require.NoError(t, sys.CreateDispatcher(name, workerpool.NewPool(name, 2)))
	}

	env := &testEnv{
		system:    sys,
		tenants:   NewMemoryTenantService(),
		chains:    NewMemoryRuleChainService(),
		collected: make(chan *Msg, 16),
		tenantID:  uuid.New(),
	}
	env.tenants.PutTenant(&Tenant{ID: env.tenantID, Name: "test"})

	nodes := NewNodeRegistry()
	require.NoError(t, nodes.Register("collect", func(json.RawMessage) (Node, error) {
		return NodeFunc(func(ctx NodeContext, msg *Msg) error {
			env.collected <- msg
			ctx.TellNext(msg, RelationSuccess)
			return nil
		}), nil
	}))
	require.NoError(t, nodes.Register("fail", func(json.RawMessage) (Node, error) {
		return NodeFunc(func(NodeContext, *Msg) error {
			return errors.New("node failed")
		}), nil
	}))

	engine, err := NewEngine(sys, env.tenants, env.chains, nodes,
		WithMaxInitAttempts(2), WithServiceTimeout(time.Second))
	require.NoError(t, err)
	require.Equal(t, sys, engine.System())
	env.engine = engine
	return env
}

func (env *testEnv) putRootChain(chainID uuid.UUID, nodes []*RuleNode, conns []NodeConnection) {
	var first uuid.UUID
	if len(nodes) > 0 {
		first = nodes[0].ID
	}
	env.chains.PutRuleChain(
		&RuleChain{ID: chainID, TenantID: env.tenantID, Name: "root", Root: true},
		&RuleChainMetadata{FirstNodeID: first, Nodes: nodes, Connections: conns})
}

func (env *testEnv) nextCollected(t *testing.T) *Msg {
	select {
	case msg := <-env.collected:
		return msg
	case <-time.After(10 * time.Second):
		require.FailNow(t, "no message is collected")
	}
	return nil
}

func newNode(tp string, config string) *RuleNode {
	node := &RuleNode{ID: uuid.New(), Type: tp, Name: tp}
	if config != "" {
		node.Config = json.RawMessage(config)
	}
	return node
}

func TestTelemetryFlowsThroughRuleChain(t *testing.T) {
	env := newTestEnv(t)
	forward := newNode("forward", `{"metadata": {"source": "test"}}`)
	logger := newNode("log", `{"level": "debug"}`)
	collect := newNode("collect", "")
	env.putRootChain(uuid.New(), []*RuleNode{forward, logger, collect}, []NodeConnection{
		{From: forward.ID, To: logger.ID, Relation: RelationSuccess},
		{From: logger.ID, To: collect.ID, Relation: RelationSuccess},
	})

	deviceID := uuid.New()
	cb := newTestCallback()
	env.engine.Submit(env.tenantID, deviceID, SessionTelemetry, `{"temperature": 21.5}`, cb)
	require.NoError(t, cb.wait(t))

	msg := env.nextCollected(t)
	require.Equal(t, MsgTypePostTelemetry, msg.Type)
	require.Equal(t, actor.NewEntityID(actor.EntityTypeDevice, deviceID), msg.Originator)
	require.Equal(t, `{"temperature": 21.5}`, msg.Data)
	require.Equal(t, "test", msg.Metadata["source"])
	require.Equal(t, deviceID.String(), msg.Metadata["deviceId"])
	require.Equal(t, collect.ID, msg.RuleNodeID)
}

func TestSubmitToUnknownTenant(t *testing.T) {
	env := newTestEnv(t)
	cb := newTestCallback()
	env.engine.Submit(uuid.New(), uuid.New(), SessionTelemetry, "{}", cb)
	err := cb.wait(t)
	require.Error(t, err)
	require.Regexp(t, "ErrMessageDropped", err.Error())
}

func TestSubmitWithoutRootChain(t *testing.T) {
	env := newTestEnv(t)
	cb := newTestCallback()
	env.engine.Submit(env.tenantID, uuid.New(), SessionTelemetry, "{}", cb)
	require.True(t, cerrors.ErrRuleChainNotFound.Equal(cb.wait(t)))
}

func TestFailureRelation(t *testing.T) {
	env := newTestEnv(t)
	fail := newNode("fail", "")
	collect := newNode("collect", "")
	env.putRootChain(uuid.New(), []*RuleNode{fail, collect}, []NodeConnection{
		{From: fail.ID, To: collect.ID, Relation: RelationFailure},
	})

	msg := NewMsg("CUSTOM", actor.NewNamedID("test"), nil, "{}", nil)
	cb := newTestCallback()
	env.engine.SubmitToRuleChain(env.tenantID, msg.withCallback(cb))
	require.NoError(t, cb.wait(t))
	require.Equal(t, "CUSTOM", env.nextCollected(t).Type)

	// Without a Failure connection the message fails.
	newRootID := uuid.New()
	env.putRootChain(newRootID, []*RuleNode{newNode("fail", "")}, nil)
	env.engine.OnComponentLifecycle(&ComponentLifecycleMsg{
		TenantID: env.tenantID,
		Entity:   actor.NewEntityID(actor.EntityTypeRuleChain, newRootID),
		Event:    LifecycleCreated,
	})
	cb = newTestCallback()
	env.engine.SubmitToRuleChain(env.tenantID, msg.withCallback(cb))
	err := cb.wait(t)
	require.Error(t, err)
	require.Regexp(t, "ErrRuleNodeFailure", err.Error())
}

func TestForkedMessageSettlesOnce(t *testing.T) {
	env := newTestEnv(t)
	forward := newNode("forward", "")
	c1, c2 := newNode("collect", ""), newNode("collect", "")
	env.putRootChain(uuid.New(), []*RuleNode{forward, c1, c2}, []NodeConnection{
		{From: forward.ID, To: c1.ID, Relation: RelationSuccess},
		{From: forward.ID, To: c2.ID, Relation: RelationSuccess},
	})

	cb := newTestCallback()
	env.engine.Submit(env.tenantID, uuid.New(), SessionTelemetry, "{}", cb)
	require.NoError(t, cb.wait(t))
	got := []uuid.UUID{env.nextCollected(t).RuleNodeID, env.nextCollected(t).RuleNodeID}
	require.ElementsMatch(t, []uuid.UUID{c1.ID, c2.ID}, got)
	select {
	case err := <-cb.done:
		require.FailNow(t, "callback settled twice", "%v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDelayNode(t *testing.T) {
	mock := clock.NewMock()
	env := newTestEnv(t, actor.WithClock(mock))
	delay := newNode("delay", `{"delay": "1m"}`)
	collect := newNode("collect", "")
	env.putRootChain(uuid.New(), []*RuleNode{delay, collect}, []NodeConnection{
		{From: delay.ID, To: collect.ID, Relation: RelationSuccess},
	})

	cb := newTestCallback()
	env.engine.Submit(env.tenantID, uuid.New(), SessionTelemetry, "{}", cb)
	require.Eventually(t, func() bool {
		mock.Add(time.Minute)
		return len(env.collected) == 1
	}, 10*time.Second, 10*time.Millisecond)
	require.NoError(t, cb.wait(t))
}

func TestDeviceState(t *testing.T) {
	env := newTestEnv(t)
	env.putRootChain(uuid.New(), nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	deviceID := uuid.New()
	_, err := env.engine.DeviceState(ctx, env.tenantID, deviceID)
	require.True(t, cerrors.ErrDeviceNotFound.Equal(err))

	cb := newTestCallback()
	env.engine.Submit(env.tenantID, deviceID, SessionOpen, "", cb)
	env.engine.Submit(env.tenantID, deviceID, SessionOpen, "", cb)
	env.engine.Submit(env.tenantID, deviceID, SessionTelemetry, "{}", nil)
	env.engine.Submit(env.tenantID, deviceID, SessionTelemetry, "{}", nil)
	env.engine.Submit(env.tenantID, deviceID, SessionClose, "", nil)
	require.NoError(t, cb.wait(t))
	require.NoError(t, cb.wait(t))

	state, err := env.engine.DeviceState(ctx, env.tenantID, deviceID)
	require.NoError(t, err)
	require.Equal(t, deviceID, state.DeviceID)
	require.True(t, state.Connected)
	require.Equal(t, 1, state.Sessions)
	require.Equal(t, int64(2), state.MsgCount)
	require.NotZero(t, state.LastActivity)

	env.engine.OnComponentLifecycle(&ComponentLifecycleMsg{
		TenantID: env.tenantID,
		Entity:   actor.NewEntityID(actor.EntityTypeDevice, deviceID),
		Event:    LifecycleDeleted,
	})
	require.Eventually(t, func() bool {
		_, ok := env.system.GetActor(deviceActorID(deviceID))
		return !ok
	}, 10*time.Second, 10*time.Millisecond)
}

func TestRuleChainUpdate(t *testing.T) {
	env := newTestEnv(t)
	chainID := uuid.New()
	forward := newNode("forward", `{"metadata": {"version": "1"}}`)
	collect := newNode("collect", "")
	conns := []NodeConnection{{From: forward.ID, To: collect.ID, Relation: RelationSuccess}}
	env.putRootChain(chainID, []*RuleNode{forward, collect}, conns)

	env.engine.Submit(env.tenantID, uuid.New(), SessionTelemetry, "{}", nil)
	require.Equal(t, "1", env.nextCollected(t).Metadata["version"])

	updated := *forward
	updated.Config = json.RawMessage(`{"metadata": {"version": "2"}}`)
	env.putRootChain(chainID, []*RuleNode{&updated, collect}, conns)
	env.engine.OnComponentLifecycle(&ComponentLifecycleMsg{
		TenantID: env.tenantID,
		Entity:   actor.NewEntityID(actor.EntityTypeRuleChain, chainID),
		Event:    LifecycleUpdated,
	})
	env.engine.Submit(env.tenantID, uuid.New(), SessionTelemetry, "{}", nil)
	require.Equal(t, "2", env.nextCollected(t).Metadata["version"])

	// Removed nodes are stopped.
	env.putRootChain(chainID, []*RuleNode{&updated}, nil)
	env.engine.OnComponentLifecycle(&ComponentLifecycleMsg{
		TenantID: env.tenantID,
		Entity:   actor.NewEntityID(actor.EntityTypeRuleChain, chainID),
		Event:    LifecycleUpdated,
	})
	require.Eventually(t, func() bool {
		_, ok := env.system.GetActor(ruleNodeActorID(collect.ID))
		return !ok
	}, 10*time.Second, 10*time.Millisecond)
}

func TestTenantDeleted(t *testing.T) {
	env := newTestEnv(t)
	env.putRootChain(uuid.New(), nil, nil)

	cb := newTestCallback()
	env.engine.Submit(env.tenantID, uuid.New(), SessionTelemetry, "{}", cb)
	require.NoError(t, cb.wait(t))
	_, ok := env.system.GetActor(tenantActorID(env.tenantID))
	require.True(t, ok)

	env.engine.OnComponentLifecycle(&ComponentLifecycleMsg{
		TenantID: env.tenantID,
		Entity:   actor.NewEntityID(actor.EntityTypeTenant, env.tenantID),
		Event:    LifecycleDeleted,
	})
	env.engine.Submit(env.tenantID, uuid.New(), SessionTelemetry, "{}", cb)
	err := cb.wait(t)
	require.Error(t, err)
	require.Regexp(t, "ErrMessageDropped", err.Error())
	_, ok = env.system.GetActor(tenantActorID(env.tenantID))
	require.False(t, ok)
}

func TestNewEngineMissingDispatcher(t *testing.T) {
	sys := actor.NewSystem(actor.DefaultSettings())
	defer sys.Stop()
	require.NoError(t, sys.CreateDispatcher(AppDispatcher, workerpool.NewPool(AppDispatcher, 1)))

	_, err := NewEngine(sys, NewMemoryTenantService(), NewMemoryRuleChainService(), NewNodeRegistry())
	require.True(t, cerrors.ErrDispatcherNotFound.Equal(err))
}
