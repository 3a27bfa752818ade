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
	"github.com/google/uuid"
	"github.com/iotflow/iotflow/pkg/actor"
	cerrors "github.com/iotflow/iotflow/pkg/errors"
)

// Types of the messages exchanged by rule engine actors.
const (
	MsgTypeTransport          actor.MsgType = "TRANSPORT_TO_DEVICE_ACTOR_MSG"
	MsgTypeComponentLifecycle actor.MsgType = "COMPONENT_LIFE_CYCLE_MSG"
	MsgTypeToRuleChain        actor.MsgType = "QUEUE_TO_RULE_ENGINE_MSG"
	MsgTypeToRuleNode         actor.MsgType = "RULE_CHAIN_TO_RULE_MSG"
	MsgTypeTellNext           actor.MsgType = "RULE_TO_RULE_CHAIN_TELL_NEXT_MSG"
	MsgTypeRuleToSelf         actor.MsgType = "RULE_TO_SELF_MSG"
	MsgTypeDeviceStateQuery   actor.MsgType = "DEVICE_STATE_QUERY_MSG"
	msgTypeRuleNodeUpdated    actor.MsgType = "RULE_NODE_UPDATED_MSG"
)

// dropError converts a drop notification to the error reported to callbacks.
func dropError(tp actor.MsgType, reason actor.DropReason) error {
	if reason == actor.DropReasonMailboxFull {
		return cerrors.ErrMailboxFull.GenWithStackByArgs(tp)
	}
	return cerrors.ErrMessageDropped.GenWithStackByArgs(tp, reason)
}

// SessionEvent is the kind of a transport message.
type SessionEvent int

// Session events.
const (
	SessionOpen SessionEvent = iota + 1
	SessionClose
	SessionTelemetry
)

func (e SessionEvent) String() string {
	switch e {
	case SessionOpen:
		return "open"
	case SessionClose:
		return "close"
	case SessionTelemetry:
		return "telemetry"
	}
	return "unknown"
}

// TransportMsg is sent by a transport on behalf of a device session.
type TransportMsg struct {
	TenantID uuid.UUID
	DeviceID uuid.UUID
	Event    SessionEvent
	// Data is the JSON payload of telemetry.
	Data     string
	Callback Callback
}

// MsgType implements actor.Msg.
func (m *TransportMsg) MsgType() actor.MsgType {
	return MsgTypeTransport
}

// OnDropped implements actor.DropAware.
func (m *TransportMsg) OnDropped(reason actor.DropReason) {
	if m.Callback != nil {
		m.Callback.OnFailure(dropError(m.MsgType(), reason))
	}
}

// LifecycleEvent is the change of a component.
type LifecycleEvent int

// Lifecycle events.
const (
	LifecycleCreated LifecycleEvent = iota + 1
	LifecycleUpdated
	LifecycleDeleted
)

func (e LifecycleEvent) String() string {
	switch e {
	case LifecycleCreated:
		return "created"
	case LifecycleUpdated:
		return "updated"
	case LifecycleDeleted:
		return "deleted"
	}
	return "unknown"
}

// ComponentLifecycleMsg notifies the actors that a tenant, a device or a
// rule chain has been changed.
type ComponentLifecycleMsg struct {
	TenantID uuid.UUID
	Entity   actor.ID
	Event    LifecycleEvent
}

// MsgType implements actor.Msg.
func (m *ComponentLifecycleMsg) MsgType() actor.MsgType {
	return MsgTypeComponentLifecycle
}

// ToRuleChainMsg pushes a message into a rule chain of a tenant. The root
// chain is used if Msg.RuleChainID is uuid.Nil.
type ToRuleChainMsg struct {
	TenantID uuid.UUID
	Msg      *Msg
}

// MsgType implements actor.Msg.
func (m *ToRuleChainMsg) MsgType() actor.MsgType {
	return MsgTypeToRuleChain
}

// OnDropped implements actor.DropAware.
func (m *ToRuleChainMsg) OnDropped(reason actor.DropReason) {
	m.Msg.Callback().OnFailure(dropError(m.MsgType(), reason))
}

// ToRuleNodeMsg is sent by a rule chain to one of its nodes.
type ToRuleNodeMsg struct {
	Msg *Msg
}

// MsgType implements actor.Msg.
func (m *ToRuleNodeMsg) MsgType() actor.MsgType {
	return MsgTypeToRuleNode
}

// OnDropped implements actor.DropAware.
func (m *ToRuleNodeMsg) OnDropped(reason actor.DropReason) {
	m.Msg.Callback().OnFailure(dropError(m.MsgType(), reason))
}

// TellNextMsg is sent by a rule node to its chain, asking the chain to
// route the message along the connections of the given relations.
type TellNextMsg struct {
	From      uuid.UUID
	Relations []string
	Msg       *Msg
	// Err is set if the message failed in the node.
	Err error
}

// MsgType implements actor.Msg.
func (m *TellNextMsg) MsgType() actor.MsgType {
	return MsgTypeTellNext
}

// OnDropped implements actor.DropAware.
func (m *TellNextMsg) OnDropped(reason actor.DropReason) {
	m.Msg.Callback().OnFailure(dropError(m.MsgType(), reason))
}

// RuleToSelfMsg is a delayed message a rule node sends to itself.
type RuleToSelfMsg struct {
	Msg *Msg
}

// MsgType implements actor.Msg.
func (m *RuleToSelfMsg) MsgType() actor.MsgType {
	return MsgTypeRuleToSelf
}

// OnDropped implements actor.DropAware.
func (m *RuleToSelfMsg) OnDropped(reason actor.DropReason) {
	m.Msg.Callback().OnFailure(dropError(m.MsgType(), reason))
}

// DeviceState is the session state a device actor keeps.
type DeviceState struct {
	DeviceID     uuid.UUID `json:"device_id"`
	Connected    bool      `json:"connected"`
	Sessions     int       `json:"sessions"`
	MsgCount     int64     `json:"msg_count"`
	LastActivity int64     `json:"last_activity"`
}

// DeviceStateQuery asks a device actor for its state. The reply is sent to
// Reply, which must be buffered.
type DeviceStateQuery struct {
	TenantID uuid.UUID
	DeviceID uuid.UUID
	Reply    chan<- DeviceStateReply
}

// DeviceStateReply is the answer of a DeviceStateQuery.
type DeviceStateReply struct {
	State DeviceState
	Err   error
}

// MsgType implements actor.Msg.
func (m *DeviceStateQuery) MsgType() actor.MsgType {
	return MsgTypeDeviceStateQuery
}

// OnDropped implements actor.DropAware.
func (m *DeviceStateQuery) OnDropped(reason actor.DropReason) {
	m.reply(DeviceStateReply{Err: dropError(m.MsgType(), reason)})
}

func (m *DeviceStateQuery) reply(r DeviceStateReply) {
	select {
	case m.Reply <- r:
	default:
	}
}

type ruleNodeUpdatedMsg struct {
	node *RuleNode
}

func (m *ruleNodeUpdatedMsg) MsgType() actor.MsgType {
	return msgTypeRuleNodeUpdated
}
