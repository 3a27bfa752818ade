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

package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/iotflow/iotflow/pkg/actor"
	"github.com/iotflow/iotflow/pkg/config"
	cerrors "github.com/iotflow/iotflow/pkg/errors"
	"github.com/iotflow/iotflow/pkg/ruleengine"
	"github.com/iotflow/iotflow/pkg/workerpool"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
)

const (
	// maxHTTPConnection limits the concurrent connections of the status server.
	maxHTTPConnection = 1000
	// httpConnectionTimeout limits the lifetime of a status server connection.
	httpConnectionTimeout = 10 * time.Minute
	// defaultRequestTimeout bounds how long a request waits for the rule engine.
	defaultRequestTimeout = 10 * time.Second
)

// Server hosts an actor system running the rule engine, and serves the
// status and ingest API over HTTP.
type Server struct {
	cfg *config.ServerConfig

	system  *actor.System
	pools   []*workerpool.Pool
	engine  *ruleengine.Engine
	tenants *ruleengine.MemoryTenantService
	chains  *ruleengine.MemoryRuleChainService
	nodes   *ruleengine.NodeRegistry

	requestTimeout time.Duration

	closeOnce    sync.Once
	statusServer *http.Server
}

// Option customizes a Server.
type Option func(*Server)

// WithNodeRegistry sets the registry the rule nodes are built from.
func WithNodeRegistry(nodes *ruleengine.NodeRegistry) Option {
	return func(s *Server) {
		s.nodes = nodes
	}
}

// WithRequestTimeout sets how long an ingest request waits for its message
// to be settled.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.requestTimeout = timeout
	}
}

// New creates a server from cfg. It starts one worker pool per configured
// dispatcher and the rule engine on top of them. A configuration without a
// dispatcher the rule engine needs is rejected.
func New(cfg *config.ServerConfig, opts ...Option) (*Server, error) {
	if err := cfg.ValidateAndAdjust(); err != nil {
		return nil, errors.Trace(err)
	}
	s := &Server{
		cfg:            cfg,
		tenants:        ruleengine.NewMemoryTenantService(),
		chains:         ruleengine.NewMemoryRuleChainService(),
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.nodes == nil {
		s.nodes = ruleengine.NewNodeRegistry()
	}

	if err := s.startActorSystem(); err != nil {
		return nil, errors.Trace(err)
	}
	log.Info("iotflow server created", zap.String("addr", cfg.Addr))
	return s, nil
}

func (s *Server) startActorSystem() error {
	asCfg := s.cfg.ActorSystem
	s.system = actor.NewSystem(asCfg.Settings())
	for _, d := range asCfg.Dispatchers {
		pool := workerpool.NewPool(d.Name, d.PoolSize)
		if err := s.system.CreateDispatcher(d.Name, pool); err != nil {
			_ = pool.Shutdown(context.Background())
			s.system.Stop()
			return errors.Trace(err)
		}
		s.pools = append(s.pools, pool)
	}

	engine, err := ruleengine.NewEngine(s.system, s.tenants, s.chains, s.nodes)
	if err != nil {
		s.system.Stop()
		return errors.Trace(err)
	}
	s.engine = engine
	return nil
}

// Engine returns the rule engine of the server.
func (s *Server) Engine() *ruleengine.Engine {
	return s.engine
}

// Tenants returns the tenant store the rule engine reads.
func (s *Server) Tenants() *ruleengine.MemoryTenantService {
	return s.tenants
}

// RuleChains returns the rule chain store the rule engine reads.
func (s *Server) RuleChains() *ruleengine.MemoryRuleChainService {
	return s.chains
}

// Run serves the status server until ctx is done or the server fails, and
// then stops the actor system.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return cerrors.WrapError(cerrors.ErrServeHTTP, err)
	}
	return s.serve(ctx, lis)
}

func (s *Server) serve(ctx context.Context, lis net.Listener) error {
	lis = netutil.LimitListener(lis, maxHTTPConnection)
	// discard gin log output
	gin.DefaultWriter = io.Discard
	s.statusServer = &http.Server{
		Handler:      s.newRouter(),
		ReadTimeout:  httpConnectionTimeout,
		WriteTimeout: httpConnectionTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server is running", zap.Stringer("addr", lis.Addr()))
		err := s.statusServer.Serve(lis)
		if err != nil && err != http.ErrServerClosed {
			return cerrors.WrapError(cerrors.ErrServeHTTP, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.ActorSystem.ShutdownTimeout))
		defer cancel()
		if err := s.statusServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown http server failed", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

// Close stops the actor system. It is safe to call Close more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.system.Stop()
		log.Info("iotflow server closed")
	})
}
