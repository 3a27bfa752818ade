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
)

// deviceActor keeps the session state of a device and turns transport
// messages into rule engine messages for its tenant.
type deviceActor struct {
	id       actor.ID
	tenantID uuid.UUID
	state    DeviceState
}

func newDeviceActorCreator(tenantID, deviceID uuid.UUID) actor.Creator {
	id := deviceActorID(deviceID)
	return actor.NewCreator(id, func() (actor.Actor, error) {
		return &deviceActor{
			id:       id,
			tenantID: tenantID,
			state:    DeviceState{DeviceID: deviceID},
		}, nil
	})
}

func (a *deviceActor) Process(ctx actor.Context, msg actor.Msg) error {
	switch m := msg.(type) {
	case *TransportMsg:
		a.onTransportMsg(ctx, m)
	case *DeviceStateQuery:
		m.reply(DeviceStateReply{State: a.state})
	case *ComponentLifecycleMsg:
		// Nothing is cached from the device profile yet.
	default:
		return cerrors.ErrUnknownMessage.GenWithStackByArgs(a.id, msg.MsgType())
	}
	return nil
}

func (a *deviceActor) onTransportMsg(ctx actor.Context, msg *TransportMsg) {
	a.state.LastActivity = time.Now().UnixMilli()
	var msgType string
	switch msg.Event {
	case SessionOpen:
		a.state.Sessions++
		if a.state.Connected {
			// Only the first session is reported.
			settle(msg.Callback)
			return
		}
		a.state.Connected = true
		msgType = MsgTypeConnectEvent
	case SessionClose:
		if a.state.Sessions > 0 {
			a.state.Sessions--
		}
		if a.state.Sessions > 0 || !a.state.Connected {
			settle(msg.Callback)
			return
		}
		a.state.Connected = false
		msgType = MsgTypeDisconnectEvent
	case SessionTelemetry:
		a.state.MsgCount++
		msgType = MsgTypePostTelemetry
	default:
		if msg.Callback != nil {
			msg.Callback.OnFailure(cerrors.ErrUnknownMessage.GenWithStackByArgs(a.id, msg.Event))
		}
		return
	}

	metadata := map[string]string{
		"deviceId": a.state.DeviceID.String(),
		"ts":       time.UnixMilli(a.state.LastActivity).Format(time.RFC3339Nano),
	}
	out := NewMsg(msgType, a.id, metadata, msg.Data, msg.Callback)
	ctx.Parent().Tell(&ToRuleChainMsg{TenantID: a.tenantID, Msg: out})
}

func settle(cb Callback) {
	if cb != nil {
		cb.OnSuccess()
	}
}
