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

package config

import (
	"encoding/json"
	"time"

	"github.com/iotflow/iotflow/pkg/actor"
	cerrors "github.com/iotflow/iotflow/pkg/errors"
	"github.com/iotflow/iotflow/pkg/ruleengine"
	"github.com/pingcap/errors"
)

var defaultServerConfig = &ServerConfig{
	Addr:     "127.0.0.1:8300",
	LogLevel: "info",
	Log: &LogConfig{
		File: &LogFileConfig{
			MaxSize:    300,
			MaxDays:    0,
			MaxBackups: 0,
		},
	},
	ActorSystem: &ActorSystemConfig{
		Throughput:           5,
		MaxActorInitAttempts: 10,
		InitRetryBaseDelay:   TomlDuration(100 * time.Millisecond),
		InitRetryMaxDelay:    TomlDuration(10 * time.Second),
		MailboxCapacity:      0,
		ShutdownTimeout:      TomlDuration(10 * time.Second),
		Dispatchers: []*DispatcherConfig{
			{Name: ruleengine.AppDispatcher, PoolSize: 1},
			{Name: ruleengine.TenantDispatcher, PoolSize: 2},
			{Name: ruleengine.DeviceDispatcher, PoolSize: 4},
			{Name: ruleengine.RuleEngineDispatcher, PoolSize: 4},
		},
	},
}

// ServerConfig is the configuration of an iotflow server.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr"`

	LogFile  string     `toml:"log-file" json:"log-file"`
	LogLevel string     `toml:"log-level" json:"log-level"`
	Log      *LogConfig `toml:"log" json:"log"`

	ActorSystem *ActorSystemConfig `toml:"actor-system" json:"actor-system"`
}

// LogConfig is the log rotation config.
type LogConfig struct {
	File *LogFileConfig `toml:"file" json:"file"`
}

// LogFileConfig is the config of a rotated log file.
type LogFileConfig struct {
	MaxSize    int `toml:"max-size" json:"max-size"`
	MaxDays    int `toml:"max-days" json:"max-days"`
	MaxBackups int `toml:"max-backups" json:"max-backups"`
}

// ActorSystemConfig configs the actor system and its dispatchers.
type ActorSystemConfig struct {
	Throughput           int                 `toml:"throughput" json:"throughput"`
	MaxActorInitAttempts int                 `toml:"max-actor-init-attempts" json:"max-actor-init-attempts"`
	InitRetryBaseDelay   TomlDuration        `toml:"init-retry-base-delay" json:"init-retry-base-delay"`
	InitRetryMaxDelay    TomlDuration        `toml:"init-retry-max-delay" json:"init-retry-max-delay"`
	MailboxCapacity      int                 `toml:"mailbox-capacity" json:"mailbox-capacity"`
	ShutdownTimeout      TomlDuration        `toml:"shutdown-timeout" json:"shutdown-timeout"`
	Dispatchers          []*DispatcherConfig `toml:"dispatchers" json:"dispatchers"`
}

// DispatcherConfig configs one dispatcher. A non-positive PoolSize means
// GOMAXPROCS workers.
type DispatcherConfig struct {
	Name     string `toml:"name" json:"name"`
	PoolSize int    `toml:"pool-size" json:"pool-size"`
}

// GetDefaultServerConfig returns the default server config.
func GetDefaultServerConfig() *ServerConfig {
	return defaultServerConfig.Clone()
}

// Clone returns a deep copy of the config.
func (c *ServerConfig) Clone() *ServerConfig {
	str, err := c.Marshal()
	if err != nil {
		panic(err)
	}
	clone := new(ServerConfig)
	if err := clone.Unmarshal([]byte(str)); err != nil {
		panic(err)
	}
	return clone
}

// Marshal returns the json marshal format of a ServerConfig.
func (c *ServerConfig) Marshal() (string, error) {
	cfg, err := json.Marshal(c)
	if err != nil {
		return "", errors.Annotatef(err, "marshal server config")
	}
	return string(cfg), nil
}

// Unmarshal unmarshals into *ServerConfig from json marshal byte slice.
func (c *ServerConfig) Unmarshal(data []byte) error {
	return errors.Trace(json.Unmarshal(data, c))
}

// ValidateAndAdjust validates and adjusts the server configuration.
func (c *ServerConfig) ValidateAndAdjust() error {
	if c.Addr == "" {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("empty address")
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultServerConfig.LogLevel
	}
	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.File == nil {
		c.Log.File = &LogFileConfig{}
	}
	if c.Log.File.MaxSize <= 0 {
		c.Log.File.MaxSize = defaultServerConfig.Log.File.MaxSize
	}
	if c.ActorSystem == nil {
		c.ActorSystem = &ActorSystemConfig{}
	}
	return c.ActorSystem.ValidateAndAdjust()
}

// ValidateAndAdjust validates and adjusts the actor system configuration.
func (c *ActorSystemConfig) ValidateAndAdjust() error {
	def := defaultServerConfig.ActorSystem
	if c.Throughput < 0 {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("throughput must not be negative")
	}
	if c.Throughput == 0 {
		c.Throughput = def.Throughput
	}
	if c.MaxActorInitAttempts < 0 {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("max-actor-init-attempts must not be negative")
	}
	if c.MaxActorInitAttempts == 0 {
		c.MaxActorInitAttempts = def.MaxActorInitAttempts
	}
	if c.InitRetryBaseDelay <= 0 {
		c.InitRetryBaseDelay = def.InitRetryBaseDelay
	}
	if c.InitRetryMaxDelay <= 0 {
		c.InitRetryMaxDelay = def.InitRetryMaxDelay
	}
	if c.InitRetryBaseDelay > c.InitRetryMaxDelay {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs(
			"init-retry-base-delay is larger than init-retry-max-delay")
	}
	if c.MailboxCapacity < 0 {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("mailbox-capacity must not be negative")
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}

	if len(c.Dispatchers) == 0 {
		for _, d := range def.Dispatchers {
			clone := *d
			c.Dispatchers = append(c.Dispatchers, &clone)
		}
	}
	names := make(map[string]struct{}, len(c.Dispatchers))
	for _, d := range c.Dispatchers {
		if d == nil || d.Name == "" {
			return cerrors.ErrInvalidConfig.GenWithStackByArgs("dispatcher name is empty")
		}
		if _, ok := names[d.Name]; ok {
			return cerrors.ErrInvalidConfig.GenWithStackByArgs("duplicated dispatcher " + d.Name)
		}
		names[d.Name] = struct{}{}
	}
	return nil
}

// Settings converts the config to actor system settings.
func (c *ActorSystemConfig) Settings() actor.Settings {
	return actor.Settings{
		ActorThroughput:      c.Throughput,
		MaxActorInitAttempts: c.MaxActorInitAttempts,
		InitRetryBaseDelay:   time.Duration(c.InitRetryBaseDelay),
		InitRetryMaxDelay:    time.Duration(c.InitRetryMaxDelay),
		MailboxCapacity:      c.MailboxCapacity,
		ShutdownTimeout:      time.Duration(c.ShutdownTimeout),
	}
}
