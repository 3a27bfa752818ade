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
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	cerrors "github.com/iotflow/iotflow/pkg/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Node is the logic of a rule node. OnMsg is called by the actor of the
// node, one message at a time.
type Node interface {
	// OnMsg handles a message. The node must settle the message by calling
	// TellNext or TellFailure on ctx, now or later. A returned error is the
	// same as TellFailure.
	OnMsg(ctx NodeContext, msg *Msg) error
}

// NodeDestroyer is implemented by nodes that release resources when their
// actor stops or the node is rebuilt.
type NodeDestroyer interface {
	Destroy()
}

// NodeFunc adapts a function to Node.
type NodeFunc func(ctx NodeContext, msg *Msg) error

// OnMsg implements Node.
func (f NodeFunc) OnMsg(ctx NodeContext, msg *Msg) error {
	return f(ctx, msg)
}

// NodeContext is given to a Node for each message. It is threadsafe and
// may be kept by the node for async work.
type NodeContext interface {
	TenantID() uuid.UUID
	RuleChainID() uuid.UUID
	Self() *RuleNode
	// TellNext routes msg along the connections of the relations. A message
	// without matching connections is settled successfully.
	TellNext(msg *Msg, relations ...string)
	// TellFailure routes msg along the Failure connections. A message
	// without Failure connections is settled with err.
	TellFailure(msg *Msg, err error)
	// TellSelf delivers msg to the node itself after delay.
	TellSelf(msg *Msg, delay time.Duration)
}

// NodeFactory builds nodes from their descriptions.
type NodeFactory interface {
	CreateNode(node *RuleNode) (Node, error)
}

// NodeBuilder builds a node from its JSON config.
type NodeBuilder func(config json.RawMessage) (Node, error)

// NodeRegistry is a NodeFactory that maps node types to builders.
type NodeRegistry struct {
	mu       sync.RWMutex
	builders map[string]NodeBuilder
}

// NewNodeRegistry returns a registry with the builtin node types.
func NewNodeRegistry() *NodeRegistry {
	r := &NodeRegistry{builders: make(map[string]NodeBuilder)}
	_ = r.Register("log", newLogNode)
	_ = r.Register("forward", newForwardNode)
	_ = r.Register("delay", newDelayNode)
	return r
}

// Register adds a node type.
func (r *NodeRegistry) Register(tp string, builder NodeBuilder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.builders[tp]; ok {
		return cerrors.ErrRuleNodeTypeAlreadyExists.GenWithStackByArgs(tp)
	}
	r.builders[tp] = builder
	return nil
}

// CreateNode implements NodeFactory.
func (r *NodeRegistry) CreateNode(node *RuleNode) (Node, error) {
	r.mu.RLock()
	builder, ok := r.builders[node.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, cerrors.ErrRuleNodeTypeNotFound.GenWithStackByArgs(node.Type)
	}
	n, err := builder(node.Config)
	if err != nil {
		return nil, cerrors.WrapError(cerrors.ErrInvalidRuleNodeConfig, err, node.ID)
	}
	return n, nil
}

func decodeNodeConfig(config json.RawMessage, v interface{}) error {
	if len(config) == 0 {
		return nil
	}
	return json.Unmarshal(config, v)
}

type logNodeConfig struct {
	Level string `json:"level"`
}

// logNode logs messages and passes them on with Success.
type logNode struct {
	level zapcore.Level
}

func newLogNode(config json.RawMessage) (Node, error) {
	cfg := logNodeConfig{Level: "info"}
	if err := decodeNodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, err
	}
	return &logNode{level: level}, nil
}

func (n *logNode) OnMsg(ctx NodeContext, msg *Msg) error {
	if ce := log.L().Check(n.level, "rule engine message"); ce != nil {
		ce.Write(
			zap.String("node", ctx.Self().Name),
			zap.Stringer("msgID", msg.ID),
			zap.String("type", msg.Type),
			zap.Stringer("originator", msg.Originator),
			zap.Any("metadata", msg.Metadata),
			zap.String("data", msg.Data))
	}
	ctx.TellNext(msg, RelationSuccess)
	return nil
}

type forwardNodeConfig struct {
	Relation string            `json:"relation"`
	Metadata map[string]string `json:"metadata"`
}

// forwardNode adds metadata to messages and passes them on with a fixed
// relation.
type forwardNode struct {
	cfg forwardNodeConfig
}

func newForwardNode(config json.RawMessage) (Node, error) {
	cfg := forwardNodeConfig{Relation: RelationSuccess}
	if err := decodeNodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	return &forwardNode{cfg: cfg}, nil
}

func (n *forwardNode) OnMsg(ctx NodeContext, msg *Msg) error {
	if len(n.cfg.Metadata) > 0 {
		msg = msg.Copy()
		if msg.Metadata == nil {
			msg.Metadata = make(map[string]string, len(n.cfg.Metadata))
		}
		for k, v := range n.cfg.Metadata {
			msg.Metadata[k] = v
		}
	}
	ctx.TellNext(msg, n.cfg.Relation)
	return nil
}

type delayNodeConfig struct {
	Delay string `json:"delay"`
}

// delayNode holds messages for a while before passing them on.
type delayNode struct {
	delay   time.Duration
	pending map[uuid.UUID]struct{}
}

func newDelayNode(config json.RawMessage) (Node, error) {
	cfg := delayNodeConfig{Delay: "1s"}
	if err := decodeNodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	delay, err := time.ParseDuration(cfg.Delay)
	if err != nil {
		return nil, err
	}
	return &delayNode{delay: delay, pending: make(map[uuid.UUID]struct{})}, nil
}

func (n *delayNode) OnMsg(ctx NodeContext, msg *Msg) error {
	if _, ok := n.pending[msg.ID]; ok {
		delete(n.pending, msg.ID)
		ctx.TellNext(msg, RelationSuccess)
		return nil
	}
	n.pending[msg.ID] = struct{}{}
	ctx.TellSelf(msg, n.delay)
	return nil
}
