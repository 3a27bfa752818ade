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

package actor

import (
	"fmt"

	"github.com/google/uuid"
)

// EntityType is the category of the entity an actor is bound to.
type EntityType int

// Entity types of actors.
const (
	EntityTypeNamed EntityType = iota
	EntityTypeSystem
	EntityTypeTenant
	EntityTypeDevice
	EntityTypeRuleChain
	EntityTypeRuleNode
)

func (t EntityType) String() string {
	switch t {
	case EntityTypeNamed:
		return "NAMED"
	case EntityTypeSystem:
		return "SYSTEM"
	case EntityTypeTenant:
		return "TENANT"
	case EntityTypeDevice:
		return "DEVICE"
	case EntityTypeRuleChain:
		return "RULE_CHAIN"
	case EntityTypeRuleNode:
		return "RULE_NODE"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(t))
}

// ID identifies an actor. It is either derived from a domain entity
// (entity type + uuid) or from a plain name.
// ID is comparable and is used as the key of the actor registry.
type ID struct {
	entityType EntityType
	uuid       uuid.UUID
	name       string
}

// NewEntityID creates an ID bound to a domain entity.
func NewEntityID(tp EntityType, id uuid.UUID) ID {
	return ID{entityType: tp, uuid: id}
}

// NewNamedID creates an ID from a name, e.g. for singleton actors.
func NewNamedID(name string) ID {
	return ID{entityType: EntityTypeNamed, name: name}
}

// EntityType returns the entity type of the ID.
func (id ID) EntityType() EntityType {
	return id.entityType
}

// UUID returns the entity uuid, it is uuid.Nil for named IDs.
func (id ID) UUID() uuid.UUID {
	return id.uuid
}

// Name returns the name of a named ID.
func (id ID) Name() string {
	return id.name
}

// IsZero returns true if the ID is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) String() string {
	if id.entityType == EntityTypeNamed {
		return id.name
	}
	return id.entityType.String() + "|" + id.uuid.String()
}
