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
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// tenantActor owns the device and rule chain actors of a tenant.
type tenantActor struct {
	deps     *deps
	id       actor.ID
	tenantID uuid.UUID

	tenant      *Tenant
	rootChainID uuid.UUID
}

func newTenantActorCreator(d *deps, tenantID uuid.UUID) actor.Creator {
	id := tenantActorID(tenantID)
	return actor.NewCreator(id, func() (actor.Actor, error) {
		return &tenantActor{
			deps:     d,
			id:       id,
			tenantID: tenantID,
		}, nil
	})
}

func (a *tenantActor) Init(ctx actor.Context) error {
	if err := a.loadTenant(); err != nil {
		return err
	}
	if err := a.loadRootChain(ctx); err != nil {
		return err
	}
	log.Info("tenant actor initialized",
		zap.Stringer("tenantID", a.tenantID),
		zap.String("name", a.tenant.Name),
		zap.Stringer("rootRuleChainID", a.rootChainID))
	return nil
}

func (a *tenantActor) OnInitFailure(attempt int, err error) actor.InitFailureStrategy {
	return a.deps.initFailure(a.id, attempt, err)
}

func (a *tenantActor) loadTenant() error {
	sctx, cancel := a.deps.serviceContext()
	defer cancel()
	tenant, err := a.deps.tenants.GetTenant(sctx, a.tenantID)
	if err != nil {
		return errors.Trace(err)
	}
	a.tenant = tenant
	return nil
}

// loadRootChain looks up the root chain and creates its actor. A tenant
// without root chain is valid, its messages fail until one is created.
func (a *tenantActor) loadRootChain(ctx actor.Context) error {
	sctx, cancel := a.deps.serviceContext()
	defer cancel()
	chain, err := a.deps.chains.GetRootRuleChain(sctx, a.tenantID)
	if err != nil {
		if cerrors.ErrRuleChainNotFound.Equal(err) {
			a.rootChainID = uuid.Nil
			return nil
		}
		return errors.Trace(err)
	}
	if _, err := a.getOrCreateChain(ctx, chain.ID); err != nil {
		return errors.Trace(err)
	}
	a.rootChainID = chain.ID
	return nil
}

// getOrCreateChain returns the actor of a chain. A chain actor that gave up
// initializing is created again by the next message.
func (a *tenantActor) getOrCreateChain(ctx actor.Context, chainID uuid.UUID) (actor.Ref, error) {
	return ctx.GetOrCreateChildActor(RuleEngineDispatcher, newRuleChainActorCreator(a.deps, a.tenantID, chainID))
}

func hasChild(ctx actor.Context, target actor.ID) bool {
	return len(ctx.FilterChildren(func(id actor.ID) bool {
		return id == target
	})) > 0
}

func (a *tenantActor) Process(ctx actor.Context, msg actor.Msg) error {
	switch m := msg.(type) {
	case *TransportMsg:
		ref, err := ctx.GetOrCreateChildActor(DeviceDispatcher, newDeviceActorCreator(a.tenantID, m.DeviceID))
		if err != nil {
			dropMsg(m, actor.DropReasonActorNotFound)
			return err
		}
		ref.Tell(m)
	case *ToRuleChainMsg:
		a.onToRuleChain(ctx, m)
	case *DeviceStateQuery:
		a.onDeviceStateQuery(ctx, m)
	case *ComponentLifecycleMsg:
		return a.onComponentLifecycle(ctx, m)
	default:
		return cerrors.ErrUnknownMessage.GenWithStackByArgs(a.id, msg.MsgType())
	}
	return nil
}

func (a *tenantActor) onToRuleChain(ctx actor.Context, msg *ToRuleChainMsg) {
	chainID := msg.Msg.RuleChainID
	if chainID == uuid.Nil {
		chainID = a.rootChainID
	}
	if chainID == uuid.Nil {
		msg.Msg.Callback().OnFailure(
			cerrors.ErrRuleChainNotFound.GenWithStackByArgs("root of tenant " + a.tenantID.String()))
		return
	}
	ref, err := a.getOrCreateChain(ctx, chainID)
	if err != nil {
		msg.Msg.Callback().OnFailure(err)
		return
	}
	ref.Tell(msg)
}

func (a *tenantActor) onDeviceStateQuery(ctx actor.Context, msg *DeviceStateQuery) {
	target := deviceActorID(msg.DeviceID)
	if !hasChild(ctx, target) {
		msg.reply(DeviceStateReply{Err: cerrors.ErrDeviceNotFound.GenWithStackByArgs(msg.DeviceID)})
		return
	}
	ctx.TellActor(target, msg)
}

func (a *tenantActor) onComponentLifecycle(ctx actor.Context, msg *ComponentLifecycleMsg) error {
	switch msg.Entity.EntityType() {
	case actor.EntityTypeTenant:
		if msg.Event == LifecycleUpdated {
			return a.loadTenant()
		}
	case actor.EntityTypeDevice:
		if msg.Event == LifecycleDeleted {
			ctx.Stop(msg.Entity)
		}
	case actor.EntityTypeRuleChain:
		if msg.Event == LifecycleDeleted {
			ctx.Stop(msg.Entity)
		} else if hasChild(ctx, msg.Entity) {
			ref, err := a.getOrCreateChain(ctx, msg.Entity.UUID())
			if err != nil {
				return err
			}
			ref.TellWithHighPriority(msg)
		}
		// The root chain may have moved.
		prevRoot := a.rootChainID
		if err := a.loadRootChain(ctx); err != nil {
			return err
		}
		if prevRoot != a.rootChainID {
			log.Info("root rule chain changed",
				zap.Stringer("tenantID", a.tenantID),
				zap.Stringer("from", prevRoot),
				zap.Stringer("to", a.rootChainID))
		}
	}
	return nil
}
