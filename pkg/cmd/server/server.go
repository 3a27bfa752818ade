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
	"time"

	"github.com/iotflow/iotflow/pkg/cmd/util"
	"github.com/iotflow/iotflow/pkg/config"
	"github.com/iotflow/iotflow/pkg/logutil"
	"github.com/iotflow/iotflow/pkg/server"
	"github.com/iotflow/iotflow/pkg/version"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// options defines flags for the `server` command.
type options struct {
	serverConfigFilePath string
	throughput           int
	mailboxCapacity      int
	shutdownTimeout      time.Duration

	serverConfig *config.ServerConfig
}

// newOptions creates new options for the `server` command.
func newOptions() *options {
	return &options{
		serverConfig: config.GetDefaultServerConfig(),
	}
}

// addFlags receives a *cobra.Command reference and binds
// flags related to template printing to it.
func (o *options) addFlags(cmd *cobra.Command) {
	defaultServerConfig := config.GetDefaultServerConfig()
	defaultActorSystem := defaultServerConfig.ActorSystem
	cmd.Flags().StringVar(&o.serverConfig.Addr, "addr", defaultServerConfig.Addr, "Set the listening address")
	cmd.Flags().StringVar(&o.serverConfig.LogFile, "log-file", defaultServerConfig.LogFile, "log file path")
	cmd.Flags().StringVar(&o.serverConfig.LogLevel, "log-level", defaultServerConfig.LogLevel, "log level (etc: debug|info|warn|error)")
	cmd.Flags().IntVar(&o.throughput, "throughput", defaultActorSystem.Throughput, "max messages an actor processes per scheduling")
	cmd.Flags().IntVar(&o.mailboxCapacity, "mailbox-capacity", defaultActorSystem.MailboxCapacity, "max queued messages of a mailbox, 0 means unbounded")
	cmd.Flags().DurationVar(&o.shutdownTimeout, "shutdown-timeout", time.Duration(defaultActorSystem.ShutdownTimeout), "how long to wait for dispatchers to stop")

	cmd.Flags().StringVar(&o.serverConfigFilePath, "config", "", "Path of the configuration file")
}

// complete adapts from the command line args and config file to the data required.
func (o *options) complete(cmd *cobra.Command) error {
	cfg := config.GetDefaultServerConfig()
	if len(o.serverConfigFilePath) > 0 {
		if err := util.StrictDecodeFile(o.serverConfigFilePath, "iotflow server", cfg); err != nil {
			return err
		}
	}

	// Flags set explicitly override the config file.
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "addr":
			cfg.Addr = o.serverConfig.Addr
		case "log-file":
			cfg.LogFile = o.serverConfig.LogFile
		case "log-level":
			cfg.LogLevel = o.serverConfig.LogLevel
		case "throughput":
			cfg.ActorSystem.Throughput = o.throughput
		case "mailbox-capacity":
			cfg.ActorSystem.MailboxCapacity = o.mailboxCapacity
		case "shutdown-timeout":
			cfg.ActorSystem.ShutdownTimeout = config.TomlDuration(o.shutdownTimeout)
		case "config":
			// do nothing
		default:
			log.Panic("unknown flag, please report a bug", zap.String("flagName", flag.Name))
		}
	})

	if err := cfg.ValidateAndAdjust(); err != nil {
		return errors.Trace(err)
	}
	o.serverConfig = cfg
	return nil
}

func (o *options) run(cmd *cobra.Command) error {
	conf := o.serverConfig
	ctx, cancel := util.InitCmd(cmd, &logutil.Config{
		File:           conf.LogFile,
		Level:          conf.LogLevel,
		FileMaxSize:    conf.Log.File.MaxSize,
		FileMaxDays:    conf.Log.File.MaxDays,
		FileMaxBackups: conf.Log.File.MaxBackups,
	})
	defer cancel()
	version.LogVersionInfo("iotflow")

	s, err := server.New(conf)
	if err != nil {
		return errors.Annotate(err, "create iotflow server")
	}
	runDone := make(chan struct{})
	util.InitSignalHandling(func() <-chan struct{} {
		cancel()
		return runDone
	}, cancel)

	err = s.Run(ctx)
	close(runDone)
	if err != nil && errors.Cause(err) != context.Canceled {
		log.Error("run server", zap.String("error", errors.ErrorStack(err)))
		return errors.Trace(err)
	}
	log.Info("iotflow server exits normally")
	return nil
}

// NewCmdServer creates the `server` command.
func NewCmdServer() *cobra.Command {
	o := newOptions()

	command := &cobra.Command{
		Use:   "server",
		Short: "Start an iotflow server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.complete(cmd); err != nil {
				return err
			}
			return o.run(cmd)
		},
	}
	o.addFlags(command)

	return command
}
