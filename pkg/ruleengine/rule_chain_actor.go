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
	"bytes"

	"github.com/google/uuid"
	"github.com/iotflow/iotflow/pkg/actor"
	cerrors "github.com/iotflow/iotflow/pkg/errors"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// ruleChainActor owns the node actors of a chain and routes messages
// between them.
type ruleChainActor struct {
	deps     *deps
	id       actor.ID
	tenantID uuid.UUID
	chainID  uuid.UUID

	firstNodeID uuid.UUID
	nodes       map[uuid.UUID]*RuleNode
	// from -> relation -> to
	routes map[uuid.UUID]map[string][]uuid.UUID
}

func newRuleChainActorCreator(d *deps, tenantID, chainID uuid.UUID) actor.Creator {
	id := ruleChainActorID(chainID)
	return actor.NewCreator(id, func() (actor.Actor, error) {
		return &ruleChainActor{
			deps:     d,
			id:       id,
			tenantID: tenantID,
			chainID:  chainID,
			nodes:    make(map[uuid.UUID]*RuleNode),
		}, nil
	})
}

func (a *ruleChainActor) Init(ctx actor.Context) error {
	return a.reload(ctx)
}

func (a *ruleChainActor) OnInitFailure(attempt int, err error) actor.InitFailureStrategy {
	return a.deps.initFailure(a.id, attempt, err)
}

// reload applies the latest metadata of the chain: removed nodes are
// stopped, new nodes are created and changed nodes are rebuilt.
func (a *ruleChainActor) reload(ctx actor.Context) error {
	sctx, cancel := a.deps.serviceContext()
	defer cancel()
	metadata, err := a.deps.chains.LoadRuleChainMetadata(sctx, a.chainID)
	if err != nil {
		return errors.Trace(err)
	}

	nodes := make(map[uuid.UUID]*RuleNode, len(metadata.Nodes))
	for _, node := range metadata.Nodes {
		nodes[node.ID] = node
	}
	for nodeID := range a.nodes {
		if _, ok := nodes[nodeID]; !ok {
			ctx.Stop(ruleNodeActorID(nodeID))
		}
	}
	for nodeID, node := range nodes {
		prev, existed := a.nodes[nodeID]
		ref, err := ctx.GetOrCreateChildActor(RuleEngineDispatcher,
			newRuleNodeActorCreator(a.deps, a.tenantID, a.chainID, node))
		if err != nil {
			return errors.Trace(err)
		}
		if existed && !sameNode(prev, node) {
			ref.TellWithHighPriority(&ruleNodeUpdatedMsg{node: node})
		}
	}

	routes := make(map[uuid.UUID]map[string][]uuid.UUID)
	for _, conn := range metadata.Connections {
		byRelation, ok := routes[conn.From]
		if !ok {
			byRelation = make(map[string][]uuid.UUID)
			routes[conn.From] = byRelation
		}
		byRelation[conn.Relation] = append(byRelation[conn.Relation], conn.To)
	}
	a.nodes = nodes
	a.routes = routes
	a.firstNodeID = metadata.FirstNodeID
	log.Info("rule chain loaded",
		zap.Stringer("tenantID", a.tenantID),
		zap.Stringer("ruleChainID", a.chainID),
		zap.Int("nodes", len(nodes)),
		zap.Int("connections", len(metadata.Connections)))
	return nil
}

func sameNode(a, b *RuleNode) bool {
	return a.Type == b.Type && a.Name == b.Name && bytes.Equal(a.Config, b.Config)
}

func (a *ruleChainActor) Process(ctx actor.Context, msg actor.Msg) error {
	switch m := msg.(type) {
	case *ToRuleChainMsg:
		if a.firstNodeID == uuid.Nil {
			m.Msg.Callback().OnSuccess()
			return nil
		}
		out := m.Msg.Copy()
		out.RuleChainID = a.chainID
		a.tellNode(ctx, a.firstNodeID, out)
	case *TellNextMsg:
		a.onTellNext(ctx, m)
	case *ComponentLifecycleMsg:
		if m.Event == LifecycleUpdated || m.Event == LifecycleCreated {
			return a.reload(ctx)
		}
	default:
		return cerrors.ErrUnknownMessage.GenWithStackByArgs(a.id, msg.MsgType())
	}
	return nil
}

func (a *ruleChainActor) onTellNext(ctx actor.Context, msg *TellNextMsg) {
	var targets []uuid.UUID
	for _, relation := range msg.Relations {
		targets = append(targets, a.routes[msg.From][relation]...)
	}
	switch len(targets) {
	case 0:
		if msg.Err != nil {
			msg.Msg.Callback().OnFailure(cerrors.WrapError(cerrors.ErrRuleNodeFailure, msg.Err, msg.From))
			return
		}
		msg.Msg.Callback().OnSuccess()
	case 1:
		a.tellNode(ctx, targets[0], msg.Msg.Copy())
	default:
		pack := newPackCallback(msg.Msg.Callback(), len(targets))
		for _, target := range targets {
			a.tellNode(ctx, target, msg.Msg.withCallback(pack))
		}
	}
}

func (a *ruleChainActor) tellNode(ctx actor.Context, nodeID uuid.UUID, msg *Msg) {
	msg.RuleNodeID = nodeID
	ctx.TellActor(ruleNodeActorID(nodeID), &ToRuleNodeMsg{Msg: msg})
}
