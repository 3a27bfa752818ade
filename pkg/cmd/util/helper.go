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

package util

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	cerrors "github.com/iotflow/iotflow/pkg/errors"
	"github.com/iotflow/iotflow/pkg/logutil"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// InitCmd initializes the logger and returns a context canceled by the
// returned cancel function.
func InitCmd(cmd *cobra.Command, logCfg *logutil.Config) (context.Context, context.CancelFunc) {
	err := logutil.InitLogger(logCfg)
	if err != nil {
		cmd.Printf("init logger error %v\n", errors.ErrorStack(err))
		os.Exit(1)
	}
	log.Info("init log", zap.String("file", logCfg.File), zap.String("level", logCfg.Level))

	return context.WithCancel(context.Background())
}

// shutdownNotify notifies the caller that the process is about to shut down.
// It returns a channel closed once the shutdown is complete, and must not
// block.
type shutdownNotify func() <-chan struct{}

// InitSignalHandling calls shutdown on the first signal, and cancel once the
// shutdown completes or on the second signal.
func InitSignalHandling(shutdown shutdownNotify, cancel context.CancelFunc) {
	// systemd and k8s send signals twice. The first is for graceful shutdown,
	// and the second is for force shutdown.
	sc := make(chan os.Signal, 2)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	go func() {
		sig := <-sc
		log.Info("got signal, prepare to shutdown", zap.Stringer("signal", sig))
		done := shutdown()
		select {
		case <-done:
			log.Info("shutdown complete")
		case sig = <-sc:
			log.Info("got signal, force shutdown", zap.Stringer("signal", sig))
		}
		cancel()
	}()
}

// StrictDecodeFile decodes the toml file strictly. Items in the file that are
// not mapped into cfg are reported as an error, unless their top level key is
// one of ignoreCheckItems.
func StrictDecodeFile(path, component string, cfg interface{}, ignoreCheckItems ...string) error {
	metaData, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return cerrors.WrapError(cerrors.ErrDecodeConfigFile, err, path)
	}

	hasIgnoreItem := func(item []string) bool {
		for _, ignoreCheckItem := range ignoreCheckItems {
			if item[0] == ignoreCheckItem {
				return true
			}
		}
		return false
	}

	var unknown []string
	for _, item := range metaData.Undecoded() {
		if hasIgnoreItem(item) {
			continue
		}
		unknown = append(unknown, item.String())
	}
	if len(unknown) > 0 {
		return cerrors.WrapError(cerrors.ErrDecodeConfigFile,
			errors.Errorf("component %s's config file contained unknown configuration options: %s",
				component, strings.Join(unknown, ", ")),
			path)
	}
	return nil
}

// JSONPrint will output the data in JSON format.
func JSONPrint(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Printf("%s\n", data)
	return nil
}
