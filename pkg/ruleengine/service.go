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
	"sync"

	"github.com/google/uuid"
	cerrors "github.com/iotflow/iotflow/pkg/errors"
)

// Relation types between rule nodes.
const (
	RelationSuccess = "Success"
	RelationFailure = "Failure"
	RelationTrue    = "True"
	RelationFalse   = "False"
)

// Tenant is the profile of a tenant.
type Tenant struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// RuleChain describes a rule chain of a tenant.
type RuleChain struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Name     string    `json:"name"`
	Root     bool      `json:"root"`
}

// RuleNode describes a node of a rule chain.
type RuleNode struct {
	ID     uuid.UUID       `json:"id"`
	Type   string          `json:"type"`
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config"`
}

// NodeConnection routes messages from one node to another when the source
// node tells the relation.
type NodeConnection struct {
	From     uuid.UUID `json:"from"`
	To       uuid.UUID `json:"to"`
	Relation string    `json:"relation"`
}

// RuleChainMetadata is the topology of a rule chain.
type RuleChainMetadata struct {
	RuleChainID uuid.UUID        `json:"rule_chain_id"`
	FirstNodeID uuid.UUID        `json:"first_node_id"`
	Nodes       []*RuleNode      `json:"nodes"`
	Connections []NodeConnection `json:"connections"`
}

// TenantService looks up tenant profiles.
type TenantService interface {
	GetTenant(ctx context.Context, tenantID uuid.UUID) (*Tenant, error)
}

// RuleChainService looks up rule chains.
type RuleChainService interface {
	// GetRootRuleChain returns ErrRuleChainNotFound if the tenant has no
	// root chain.
	GetRootRuleChain(ctx context.Context, tenantID uuid.UUID) (*RuleChain, error)
	LoadRuleChainMetadata(ctx context.Context, ruleChainID uuid.UUID) (*RuleChainMetadata, error)
}

// MemoryTenantService is a TenantService backed by a map.
type MemoryTenantService struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]*Tenant
}

// NewMemoryTenantService returns an empty MemoryTenantService.
func NewMemoryTenantService() *MemoryTenantService {
	return &MemoryTenantService{tenants: make(map[uuid.UUID]*Tenant)}
}

// PutTenant adds or replaces a tenant.
func (s *MemoryTenantService) PutTenant(tenant *Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[tenant.ID] = tenant
}

// DeleteTenant removes a tenant.
func (s *MemoryTenantService) DeleteTenant(tenantID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tenants, tenantID)
}

// GetTenant implements TenantService.
func (s *MemoryTenantService) GetTenant(_ context.Context, tenantID uuid.UUID) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenant, ok := s.tenants[tenantID]
	if !ok {
		return nil, cerrors.ErrTenantNotFound.GenWithStackByArgs(tenantID)
	}
	return tenant, nil
}

// MemoryRuleChainService is a RuleChainService backed by maps.
type MemoryRuleChainService struct {
	mu       sync.RWMutex
	chains   map[uuid.UUID]*RuleChain
	metadata map[uuid.UUID]*RuleChainMetadata
}

// NewMemoryRuleChainService returns an empty MemoryRuleChainService.
func NewMemoryRuleChainService() *MemoryRuleChainService {
	return &MemoryRuleChainService{
		chains:   make(map[uuid.UUID]*RuleChain),
		metadata: make(map[uuid.UUID]*RuleChainMetadata),
	}
}

// PutRuleChain adds or replaces a rule chain and its metadata. If chain is
// the root chain, the previous root chain of the tenant is demoted.
func (s *MemoryRuleChainService) PutRuleChain(chain *RuleChain, metadata *RuleChainMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chain.Root {
		for _, c := range s.chains {
			if c.TenantID == chain.TenantID && c.ID != chain.ID && c.Root {
				demoted := *c
				demoted.Root = false
				s.chains[c.ID] = &demoted
			}
		}
	}
	s.chains[chain.ID] = chain
	metadata.RuleChainID = chain.ID
	s.metadata[chain.ID] = metadata
}

// DeleteRuleChain removes a rule chain.
func (s *MemoryRuleChainService) DeleteRuleChain(ruleChainID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chains, ruleChainID)
	delete(s.metadata, ruleChainID)
}

// GetRootRuleChain implements RuleChainService.
func (s *MemoryRuleChainService) GetRootRuleChain(_ context.Context, tenantID uuid.UUID) (*RuleChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.chains {
		if c.TenantID == tenantID && c.Root {
			return c, nil
		}
	}
	return nil, cerrors.ErrRuleChainNotFound.GenWithStackByArgs("root of tenant " + tenantID.String())
}

// LoadRuleChainMetadata implements RuleChainService.
func (s *MemoryRuleChainService) LoadRuleChainMetadata(
	_ context.Context, ruleChainID uuid.UUID,
) (*RuleChainMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	metadata, ok := s.metadata[ruleChainID]
	if !ok {
		return nil, cerrors.ErrRuleChainNotFound.GenWithStackByArgs(ruleChainID)
	}
	return metadata, nil
}
