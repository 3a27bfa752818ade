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

package logutil

import (
	"strings"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultLogLevel      = "info"
	defaultFileMaxSize   = 300 // MB
	defaultFileMaxDays   = 0
	defaultFileMaxBackup = 0
)

// Config serializes log related config in toml/json.
type Config struct {
	// Log level.
	Level string `toml:"level" json:"level"`
	// Log filename, leave empty to disable file log.
	File string `toml:"file" json:"file"`
	// Max size for a single file, in MB.
	FileMaxSize int `toml:"max-size" json:"max-size"`
	// Max log keep days, default is never deleting.
	FileMaxDays int `toml:"max-days" json:"max-days"`
	// Maximum number of old log files to retain.
	FileMaxBackups int `toml:"max-backups" json:"max-backups"`
	// SamplingInitial and SamplingThereafter are passed to zap sampling,
	// 0 disables sampling.
	SamplingInitial    int `toml:"sampling-initial" json:"sampling-initial"`
	SamplingThereafter int `toml:"sampling-thereafter" json:"sampling-thereafter"`
}

// Adjust adjusts config
func (cfg *Config) Adjust() {
	if len(cfg.Level) == 0 {
		cfg.Level = defaultLogLevel
	}
	if cfg.Level == "warning" {
		cfg.Level = "warn"
	}
	if cfg.FileMaxSize == 0 {
		cfg.FileMaxSize = defaultFileMaxSize
	}
	if cfg.FileMaxDays == 0 {
		cfg.FileMaxDays = defaultFileMaxDays
	}
	if cfg.FileMaxBackups == 0 {
		cfg.FileMaxBackups = defaultFileMaxBackup
	}
}

// InitLogger initializes logger and replaces the global logger of pingcap/log.
func InitLogger(cfg *Config) error {
	cfg.Adjust()
	pclogConfig := &log.Config{
		Level: cfg.Level,
		File: log.FileLogConfig{
			Filename:   cfg.File,
			MaxSize:    cfg.FileMaxSize,
			MaxDays:    cfg.FileMaxDays,
			MaxBackups: cfg.FileMaxBackups,
		},
	}
	if cfg.SamplingInitial > 0 && cfg.SamplingThereafter > 0 {
		pclogConfig.Sampling = &zap.SamplingConfig{
			Initial:    cfg.SamplingInitial,
			Thereafter: cfg.SamplingThereafter,
		}
	}

	logger, props, err := log.InitLogger(pclogConfig)
	if err != nil {
		return errors.Trace(err)
	}
	log.ReplaceGlobals(logger, props)
	return nil
}

// SetLogLevel changes the level of the global logger on the fly.
func SetLogLevel(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return errors.Trace(err)
	}
	if lvl != log.GetLevel() {
		log.SetLevel(lvl)
	}
	return nil
}

func parseLevel(level string) (zapcore.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return lvl, errors.Annotatef(err, "invalid log level %q", level)
	}
	return lvl, nil
}

// ZapErrorFilter wraps zap.Error, if err is in given filters, it returns a nil error.
func ZapErrorFilter(err error, filters ...error) zap.Field {
	cause := errors.Cause(err)
	for _, ferr := range filters {
		if cause == ferr {
			return zap.Error(nil)
		}
	}
	return zap.Error(err)
}
