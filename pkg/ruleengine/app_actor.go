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
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Dispatchers the rule engine actors run on.
const (
	AppDispatcher        = "app"
	TenantDispatcher     = "tenant"
	DeviceDispatcher     = "device"
	RuleEngineDispatcher = "rule-engine"
)

// RequiredDispatchers returns the dispatchers an Engine needs.
func RequiredDispatchers() []string {
	return []string{AppDispatcher, TenantDispatcher, DeviceDispatcher, RuleEngineDispatcher}
}

// AppActorID is the ID of the root actor of the rule engine.
var AppActorID = actor.NewNamedID("APP")

// deps are the collaborators shared by all the rule engine actors.
type deps struct {
	tenants         TenantService
	chains          RuleChainService
	nodes           NodeFactory
	serviceTimeout  time.Duration
	maxInitAttempts int
}

func (d *deps) serviceContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d.serviceTimeout)
}

// initFailure stops an actor on errors that a retry can not fix, and backs
// off on the others.
func (d *deps) initFailure(id actor.ID, attempt int, err error) actor.InitFailureStrategy {
	if isPermanent(err) || attempt >= d.maxInitAttempts {
		log.Warn("give up initializing actor",
			zap.Stringer("actorID", id), zap.Int("attempt", attempt), zap.Error(err))
		return actor.StopOnInitFailure()
	}
	return actor.InitFailureStrategy{}
}

func isPermanent(err error) bool {
	return cerrors.ErrTenantNotFound.Equal(err) ||
		cerrors.ErrRuleNodeTypeNotFound.Equal(err) ||
		cerrors.ErrInvalidRuleNodeConfig.Equal(err)
}

func tenantActorID(tenantID uuid.UUID) actor.ID {
	return actor.NewEntityID(actor.EntityTypeTenant, tenantID)
}

func deviceActorID(deviceID uuid.UUID) actor.ID {
	return actor.NewEntityID(actor.EntityTypeDevice, deviceID)
}

func ruleChainActorID(ruleChainID uuid.UUID) actor.ID {
	return actor.NewEntityID(actor.EntityTypeRuleChain, ruleChainID)
}

func ruleNodeActorID(ruleNodeID uuid.UUID) actor.ID {
	return actor.NewEntityID(actor.EntityTypeRuleNode, ruleNodeID)
}

// appActor is the root of the rule engine. It routes messages to tenant
// actors, creating them on demand.
type appActor struct {
	deps *deps
	// Tenants deleted while running, their messages are dropped.
	deletedTenants map[uuid.UUID]struct{}
}

func newAppActorCreator(d *deps) actor.Creator {
	return actor.NewCreator(AppActorID, func() (actor.Actor, error) {
		return &appActor{deps: d, deletedTenants: make(map[uuid.UUID]struct{})}, nil
	})
}

func (a *appActor) Process(ctx actor.Context, msg actor.Msg) error {
	switch m := msg.(type) {
	case *TransportMsg:
		return a.forwardToTenant(ctx, m.TenantID, m, false)
	case *ToRuleChainMsg:
		return a.forwardToTenant(ctx, m.TenantID, m, false)
	case *DeviceStateQuery:
		return a.forwardToTenant(ctx, m.TenantID, m, false)
	case *ComponentLifecycleMsg:
		a.onComponentLifecycle(ctx, m)
		return nil
	}
	return cerrors.ErrUnknownMessage.GenWithStackByArgs(AppActorID, msg.MsgType())
}

func (a *appActor) forwardToTenant(ctx actor.Context, tenantID uuid.UUID, msg actor.Msg, highPriority bool) error {
	if _, ok := a.deletedTenants[tenantID]; ok {
		dropMsg(msg, actor.DropReasonActorStopped)
		return nil
	}
	ref, err := ctx.GetOrCreateChildActor(TenantDispatcher, newTenantActorCreator(a.deps, tenantID))
	if err != nil {
		dropMsg(msg, actor.DropReasonActorNotFound)
		return err
	}
	if highPriority {
		ref.TellWithHighPriority(msg)
	} else {
		ref.Tell(msg)
	}
	return nil
}

func (a *appActor) onComponentLifecycle(ctx actor.Context, msg *ComponentLifecycleMsg) {
	if msg.Entity.EntityType() == actor.EntityTypeTenant {
		tenantID := msg.Entity.UUID()
		switch msg.Event {
		case LifecycleDeleted:
			log.Info("tenant deleted, stop tenant actor", zap.Stringer("tenantID", tenantID))
			a.deletedTenants[tenantID] = struct{}{}
			ctx.Stop(tenantActorID(tenantID))
			return
		case LifecycleCreated:
			delete(a.deletedTenants, tenantID)
		}
	}
	if _, ok := a.deletedTenants[msg.TenantID]; ok {
		return
	}
	// Lifecycle messages never create tenant actors.
	ctx.TellActor(tenantActorID(msg.TenantID), msg)
}

// dropMsg notifies a drop aware message.
func dropMsg(msg actor.Msg, reason actor.DropReason) {
	if aware, ok := msg.(actor.DropAware); ok {
		aware.OnDropped(reason)
	}
}
