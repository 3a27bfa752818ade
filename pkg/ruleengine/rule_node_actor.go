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
	"time"

	"github.com/google/uuid"
	"github.com/iotflow/iotflow/pkg/actor"
	cerrors "github.com/iotflow/iotflow/pkg/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// ruleNodeActor runs the Node of a rule node.
type ruleNodeActor struct {
	deps     *deps
	id       actor.ID
	tenantID uuid.UUID
	chainID  uuid.UUID

	def  *RuleNode
	node Node
}

func newRuleNodeActorCreator(d *deps, tenantID, chainID uuid.UUID, def *RuleNode) actor.Creator {
	id := ruleNodeActorID(def.ID)
	return actor.NewCreator(id, func() (actor.Actor, error) {
		return &ruleNodeActor{
			deps:     d,
			id:       id,
			tenantID: tenantID,
			chainID:  chainID,
			def:      def,
		}, nil
	})
}

func (a *ruleNodeActor) Init(ctx actor.Context) error {
	node, err := a.deps.nodes.CreateNode(a.def)
	if err != nil {
		return err
	}
	a.node = node
	return nil
}

func (a *ruleNodeActor) OnInitFailure(attempt int, err error) actor.InitFailureStrategy {
	return a.deps.initFailure(a.id, attempt, err)
}

func (a *ruleNodeActor) Process(ctx actor.Context, msg actor.Msg) error {
	switch m := msg.(type) {
	case *ToRuleNodeMsg:
		a.onMsg(ctx, m.Msg)
	case *RuleToSelfMsg:
		a.onMsg(ctx, m.Msg)
	case *ruleNodeUpdatedMsg:
		return a.onUpdated(m.node)
	default:
		return cerrors.ErrUnknownMessage.GenWithStackByArgs(a.id, msg.MsgType())
	}
	return nil
}

func (a *ruleNodeActor) onMsg(ctx actor.Context, msg *Msg) {
	nctx := &nodeContext{
		def:      a.def,
		tenantID: a.tenantID,
		chainID:  a.chainID,
		parent:   ctx.Parent(),
		ctx:      ctx,
	}
	if err := a.callNode(nctx, msg); err != nil {
		nctx.TellFailure(msg, err)
	}
}

func (a *ruleNodeActor) callNode(nctx NodeContext, msg *Msg) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = cerrors.ErrHandlerPanicked.GenWithStackByArgs(a.id, r)
		}
	}()
	return a.node.OnMsg(nctx, msg)
}

func (a *ruleNodeActor) onUpdated(def *RuleNode) error {
	node, err := a.deps.nodes.CreateNode(def)
	if err != nil {
		// Keep the running node.
		log.Warn("failed to rebuild rule node",
			zap.Stringer("ruleNodeID", def.ID), zap.Error(err))
		return err
	}
	a.destroyNode()
	a.def, a.node = def, node
	log.Info("rule node updated",
		zap.Stringer("ruleNodeID", def.ID), zap.String("type", def.Type))
	return nil
}

func (a *ruleNodeActor) Destroy(reason actor.StopReason, cause error) {
	a.destroyNode()
}

func (a *ruleNodeActor) destroyNode() {
	if d, ok := a.node.(NodeDestroyer); ok {
		d.Destroy()
	}
}

// nodeContext implements NodeContext. It only uses the threadsafe parts of
// the actor context, so a node may keep it for async work.
type nodeContext struct {
	def      *RuleNode
	tenantID uuid.UUID
	chainID  uuid.UUID
	parent   actor.Ref
	ctx      actor.Context
}

func (c *nodeContext) TenantID() uuid.UUID {
	return c.tenantID
}

func (c *nodeContext) RuleChainID() uuid.UUID {
	return c.chainID
}

func (c *nodeContext) Self() *RuleNode {
	return c.def
}

func (c *nodeContext) TellNext(msg *Msg, relations ...string) {
	c.parent.Tell(&TellNextMsg{From: c.def.ID, Relations: relations, Msg: msg})
}

func (c *nodeContext) TellFailure(msg *Msg, err error) {
	c.parent.Tell(&TellNextMsg{
		From:      c.def.ID,
		Relations: []string{RelationFailure},
		Msg:       msg,
		Err:       err,
	})
}

func (c *nodeContext) TellSelf(msg *Msg, delay time.Duration) {
	c.ctx.ScheduleTell(&RuleToSelfMsg{Msg: msg}, delay)
}
