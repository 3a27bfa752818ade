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
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/iotflow/iotflow/pkg/actor"
	cerrors "github.com/iotflow/iotflow/pkg/errors"
	"github.com/iotflow/iotflow/pkg/logutil"
	"github.com/iotflow/iotflow/pkg/ruleengine"
	"github.com/iotflow/iotflow/pkg/version"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// httpBadRequestErrors are the errors caused by a bad request.
var httpBadRequestErrors = []*errors.Error{
	cerrors.ErrAPIInvalidParam, cerrors.ErrTenantNotFound, cerrors.ErrDeviceNotFound,
	cerrors.ErrRuleChainNotFound, cerrors.ErrRuleNodeTypeNotFound,
}

func isHTTPBadRequestError(err error) bool {
	for _, e := range httpBadRequestErrors {
		if e.Equal(err) {
			return true
		}
		if strings.Contains(err.Error(), string(e.RFCCode())) {
			return true
		}
	}
	return false
}

// HTTPError is the body of a failed request.
type HTTPError struct {
	Error string `json:"error_msg"`
	Code  string `json:"error_code"`
}

func newHTTPError(err error) HTTPError {
	code, _ := cerrors.RFCCode(err)
	return HTTPError{Error: err.Error(), Code: string(code)}
}

// EmptyResponse is the body of a request that returns nothing.
type EmptyResponse struct{}

// DispatcherStatus is the status of a dispatcher and its worker pool.
type DispatcherStatus struct {
	Name           string `json:"name"`
	Workers        int    `json:"workers"`
	WorkingWorkers int64  `json:"working_workers"`
	PendingTasks   int    `json:"pending_tasks"`
}

// ServerStatus is the body of the status API.
type ServerStatus struct {
	Version     string             `json:"version"`
	GitHash     string             `json:"git_hash"`
	Addr        string             `json:"addr"`
	Actors      int                `json:"actors"`
	Dispatchers []DispatcherStatus `json:"dispatchers"`
}

// LogLevelReq is the body of the log level API.
type LogLevelReq struct {
	Level string `json:"log_level"`
}

// TenantReq is the body of the tenant API.
type TenantReq struct {
	Name string `json:"name"`
}

// RuleChainReq is the body of the root rule chain API.
type RuleChainReq struct {
	ID          uuid.UUID                   `json:"id"`
	Name        string                      `json:"name"`
	FirstNodeID uuid.UUID                   `json:"first_node_id"`
	Nodes       []*ruleengine.RuleNode      `json:"nodes"`
	Connections []ruleengine.NodeConnection `json:"connections"`
}

func logMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		cost := time.Since(start)

		var err error
		if last := c.Errors.Last(); last != nil {
			err = last.Err
		}
		httpRequestDuration.WithLabelValues(
			c.Request.Method, c.FullPath(), strconv.Itoa(c.Writer.Status())).Observe(cost.Seconds())
		log.Debug("api request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("ip", c.ClientIP()),
			zap.Error(err),
			zap.Duration("duration", cost))
	}
}

func errorHandleMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		// handlers return right after an error, so there is at most one
		lastError := c.Errors.Last()
		if lastError == nil {
			return
		}
		if isHTTPBadRequestError(lastError.Err) {
			c.IndentedJSON(http.StatusBadRequest, newHTTPError(lastError.Err))
		} else {
			c.IndentedJSON(http.StatusInternalServerError, newHTTPError(lastError.Err))
		}
		c.Abort()
	}
}

func (s *Server) newRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/api/v1")
	v1.Use(logMiddleware(), errorHandleMiddleware())
	v1.GET("/status", s.status)
	v1.GET("/health", s.health)
	v1.POST("/log", s.setLogLevel)

	v1.PUT("/tenants/:tenant", s.putTenant)
	v1.DELETE("/tenants/:tenant", s.deleteTenant)
	v1.PUT("/tenants/:tenant/root-chain", s.putRootChain)
	v1.POST("/telemetry/:tenant/:device", s.postTelemetry)
	v1.GET("/devices/:tenant/:device", s.getDeviceState)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	return router
}

func (s *Server) status(c *gin.Context) {
	st := ServerStatus{
		Version: version.ReleaseVersion,
		GitHash: version.GitHash,
		Addr:    s.cfg.Addr,
		Actors:  s.system.ActorCount(),
	}
	for _, p := range s.pools {
		st.Dispatchers = append(st.Dispatchers, DispatcherStatus{
			Name:           p.Name(),
			Workers:        p.NumWorkers(),
			WorkingWorkers: p.WorkingWorkers(),
			PendingTasks:   p.Len(),
		})
	}
	c.IndentedJSON(http.StatusOK, st)
}

func (s *Server) health(c *gin.Context) {
	if _, ok := s.system.GetActor(ruleengine.AppActorID); !ok {
		_ = c.Error(cerrors.ErrActorSystemStopped.GenWithStackByArgs())
		return
	}
	c.JSON(http.StatusOK, &EmptyResponse{})
}

func (s *Server) setLogLevel(c *gin.Context) {
	req := &LogLevelReq{Level: "info"}
	if err := c.BindJSON(req); err != nil {
		_ = c.Error(cerrors.ErrAPIInvalidParam.GenWithStackByArgs(err.Error()))
		return
	}
	if err := logutil.SetLogLevel(req.Level); err != nil {
		_ = c.Error(cerrors.ErrAPIInvalidParam.GenWithStackByArgs("invalid log level " + req.Level))
		return
	}
	log.Warn("log level changed", zap.String("level", req.Level))
	c.JSON(http.StatusOK, &EmptyResponse{})
}

func (s *Server) putTenant(c *gin.Context) {
	tenantID, ok := uuidParam(c, "tenant")
	if !ok {
		return
	}
	req := &TenantReq{}
	if err := c.BindJSON(req); err != nil {
		_ = c.Error(cerrors.ErrAPIInvalidParam.GenWithStackByArgs(err.Error()))
		return
	}
	event := ruleengine.LifecycleUpdated
	if _, err := s.tenants.GetTenant(c.Request.Context(), tenantID); err != nil {
		event = ruleengine.LifecycleCreated
	}
	s.tenants.PutTenant(&ruleengine.Tenant{ID: tenantID, Name: req.Name})
	s.engine.OnComponentLifecycle(&ruleengine.ComponentLifecycleMsg{
		TenantID: tenantID,
		Entity:   actor.NewEntityID(actor.EntityTypeTenant, tenantID),
		Event:    event,
	})
	c.JSON(http.StatusOK, &EmptyResponse{})
}

func (s *Server) deleteTenant(c *gin.Context) {
	tenantID, ok := uuidParam(c, "tenant")
	if !ok {
		return
	}
	s.tenants.DeleteTenant(tenantID)
	s.engine.OnComponentLifecycle(&ruleengine.ComponentLifecycleMsg{
		TenantID: tenantID,
		Entity:   actor.NewEntityID(actor.EntityTypeTenant, tenantID),
		Event:    ruleengine.LifecycleDeleted,
	})
	c.JSON(http.StatusOK, &EmptyResponse{})
}

func (s *Server) putRootChain(c *gin.Context) {
	tenantID, ok := uuidParam(c, "tenant")
	if !ok {
		return
	}
	req := &RuleChainReq{}
	if err := c.BindJSON(req); err != nil {
		_ = c.Error(cerrors.ErrAPIInvalidParam.GenWithStackByArgs(err.Error()))
		return
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	for _, n := range req.Nodes {
		if n == nil || n.ID == uuid.Nil {
			_ = c.Error(cerrors.ErrAPIInvalidParam.GenWithStackByArgs("rule node without id"))
			return
		}
		// Reject bad nodes here, the rule chain actor would only log them.
		if _, err := s.nodes.CreateNode(n); err != nil {
			_ = c.Error(err)
			return
		}
	}
	s.chains.PutRuleChain(
		&ruleengine.RuleChain{ID: req.ID, TenantID: tenantID, Name: req.Name, Root: true},
		&ruleengine.RuleChainMetadata{
			FirstNodeID: req.FirstNodeID,
			Nodes:       req.Nodes,
			Connections: req.Connections,
		})
	s.engine.OnComponentLifecycle(&ruleengine.ComponentLifecycleMsg{
		TenantID: tenantID,
		Entity:   actor.NewEntityID(actor.EntityTypeRuleChain, req.ID),
		Event:    ruleengine.LifecycleUpdated,
	})
	c.JSON(http.StatusOK, gin.H{"id": req.ID})
}

func (s *Server) postTelemetry(c *gin.Context) {
	tenantID, ok := uuidParam(c, "tenant")
	if !ok {
		return
	}
	deviceID, ok := uuidParam(c, "device")
	if !ok {
		return
	}
	event, ok := parseSessionEvent(c.DefaultQuery("event", ruleengine.SessionTelemetry.String()))
	if !ok {
		_ = c.Error(cerrors.ErrAPIInvalidParam.GenWithStackByArgs("unknown event " + c.Query("event")))
		return
	}
	data, err := c.GetRawData()
	if err != nil {
		_ = c.Error(cerrors.ErrAPIInvalidParam.GenWithStackByArgs(err.Error()))
		return
	}

	settled := make(chan error, 1)
	s.engine.Submit(tenantID, deviceID, event, string(data), ruleengine.CallbackFuncs{
		Success: func() { settled <- nil },
		Failure: func(err error) { settled <- err },
	})

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout)
	defer cancel()
	select {
	case err := <-settled:
		if err != nil {
			_ = c.Error(err)
			return
		}
	case <-ctx.Done():
		_ = c.Error(errors.Trace(ctx.Err()))
		return
	}
	c.JSON(http.StatusOK, &EmptyResponse{})
}

func (s *Server) getDeviceState(c *gin.Context) {
	tenantID, ok := uuidParam(c, "tenant")
	if !ok {
		return
	}
	deviceID, ok := uuidParam(c, "device")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout)
	defer cancel()
	state, err := s.engine.DeviceState(ctx, tenantID, deviceID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.IndentedJSON(http.StatusOK, state)
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		_ = c.Error(cerrors.ErrAPIInvalidParam.GenWithStackByArgs(name + " is not a valid uuid"))
		return uuid.Nil, false
	}
	return id, true
}

func parseSessionEvent(s string) (ruleengine.SessionEvent, bool) {
	for _, e := range []ruleengine.SessionEvent{
		ruleengine.SessionOpen, ruleengine.SessionClose, ruleengine.SessionTelemetry,
	} {
		if e.String() == s {
			return e, true
		}
	}
	return 0, false
}
