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

	"github.com/pingcap/errors"
)

// TomlDuration is a duration with a custom json decoder and toml decoder.
// It is written as a string such as "100ms" or "10s".
type TomlDuration time.Duration

// UnmarshalText is the toml decoder.
func (d *TomlDuration) UnmarshalText(text []byte) error {
	stdDuration, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Trace(err)
	}
	*d = TomlDuration(stdDuration)
	return nil
}

// MarshalText is the toml encoder.
func (d TomlDuration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalJSON is the json decoder.
func (d *TomlDuration) UnmarshalJSON(b []byte) error {
	var stdDuration time.Duration
	if err := json.Unmarshal(b, &stdDuration); err != nil {
		return errors.Trace(err)
	}
	*d = TomlDuration(stdDuration)
	return nil
}

// MarshalJSON is the json encoder.
func (d TomlDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d))
}
