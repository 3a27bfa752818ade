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
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/iotflow/iotflow/pkg/actor"
	cerrors "github.com/iotflow/iotflow/pkg/errors"
	"github.com/iotflow/iotflow/pkg/leakutil"
	"github.com/iotflow/iotflow/pkg/ruleengine"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	leakutil.SetUpLeakTest(m)
}

func TestDefaultServerConfig(t *testing.T) {
	t.Parallel()

	conf := GetDefaultServerConfig()
	require.NoError(t, conf.ValidateAndAdjust())
	require.Equal(t, "127.0.0.1:8300", conf.Addr)
	require.Len(t, conf.ActorSystem.Dispatchers, 4)
	require.Equal(t, actor.Settings{
		ActorThroughput:      5,
		MaxActorInitAttempts: 10,
		InitRetryBaseDelay:   100 * time.Millisecond,
		InitRetryMaxDelay:    10 * time.Second,
		ShutdownTimeout:      10 * time.Second,
	}, conf.ActorSystem.Settings())

	// The default config is never shared.
	conf.ActorSystem.Dispatchers[0].PoolSize = 100
	require.Equal(t, 1, GetDefaultServerConfig().ActorSystem.Dispatchers[0].PoolSize)
}

func TestDecodeServerConfig(t *testing.T) {
	t.Parallel()

	content := `
addr = "0.0.0.0:9000"
log-level = "debug"

[log.file]
max-size = 10

[actor-system]
throughput = 10
init-retry-base-delay = "1s"
init-retry-max-delay = "1m"
mailbox-capacity = 1024

[[actor-system.dispatchers]]
name = "app"
pool-size = 2

[[actor-system.dispatchers]]
name = "device"
`
	conf := GetDefaultServerConfig()
	conf.ActorSystem.Dispatchers = nil
	_, err := toml.Decode(content, conf)
	require.NoError(t, err)
	require.NoError(t, conf.ValidateAndAdjust())

	require.Equal(t, "0.0.0.0:9000", conf.Addr)
	require.Equal(t, "debug", conf.LogLevel)
	require.Equal(t, 10, conf.Log.File.MaxSize)
	settings := conf.ActorSystem.Settings()
	require.Equal(t, 10, settings.ActorThroughput)
	require.Equal(t, 10, settings.MaxActorInitAttempts)
	require.Equal(t, time.Second, settings.InitRetryBaseDelay)
	require.Equal(t, time.Minute, settings.InitRetryMaxDelay)
	require.Equal(t, 1024, settings.MailboxCapacity)
	require.Equal(t, []*DispatcherConfig{
		{Name: "app", PoolSize: 2},
		{Name: "device", PoolSize: 0},
	}, conf.ActorSystem.Dispatchers)

	_, err = toml.Decode(`[actor-system]
shutdown-timeout = "forever"`, conf)
	require.Error(t, err)
}

func TestValidateAndAdjust(t *testing.T) {
	t.Parallel()

	conf := &ServerConfig{Addr: "127.0.0.1:8300"}
	require.NoError(t, conf.ValidateAndAdjust())
	require.Equal(t, "info", conf.LogLevel)
	require.Equal(t, 300, conf.Log.File.MaxSize)
	require.Len(t, conf.ActorSystem.Dispatchers, 4)

	cases := []struct {
		name   string
		modify func(c *ServerConfig)
	}{
		{"empty addr", func(c *ServerConfig) { c.Addr = "" }},
		{"negative throughput", func(c *ServerConfig) { c.ActorSystem.Throughput = -1 }},
		{"negative init attempts", func(c *ServerConfig) { c.ActorSystem.MaxActorInitAttempts = -1 }},
		{"negative capacity", func(c *ServerConfig) { c.ActorSystem.MailboxCapacity = -1 }},
		{"base delay too large", func(c *ServerConfig) {
			c.ActorSystem.InitRetryBaseDelay = TomlDuration(time.Hour)
		}},
		{"empty dispatcher name", func(c *ServerConfig) {
			c.ActorSystem.Dispatchers = append(c.ActorSystem.Dispatchers, &DispatcherConfig{})
		}},
		{"duplicated dispatcher", func(c *ServerConfig) {
			c.ActorSystem.Dispatchers = append(c.ActorSystem.Dispatchers, &DispatcherConfig{Name: ruleengine.AppDispatcher})
		}},
	}
	for _, cs := range cases {
		conf := GetDefaultServerConfig()
		cs.modify(conf)
		err := conf.ValidateAndAdjust()
		require.True(t, cerrors.ErrInvalidConfig.Equal(err), cs.name)
		require.True(t, cerrors.IsConfigurationError(err), cs.name)
	}
}

func TestTomlDuration(t *testing.T) {
	t.Parallel()

	var d TomlDuration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	require.Equal(t, TomlDuration(90*time.Second), d)
	text, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1m30s", string(text))
	require.Error(t, d.UnmarshalText([]byte("1 minute")))

	data, err := d.MarshalJSON()
	require.NoError(t, err)
	var decoded TomlDuration
	require.NoError(t, decoded.UnmarshalJSON(data))
	require.Equal(t, d, decoded)
}
