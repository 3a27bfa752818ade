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

package errors

import (
	"strings"

	"github.com/pingcap/errors"
)

// WrapError generates a new error based on given `*errors.Error`, wraps the err
// as cause error.
// If given `err` is nil, returns a nil error, which is a different behavior
// against `Wrap` function in pingcap/errors.
func WrapError(rfcError *errors.Error, err error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return rfcError.Wrap(err).GenWithStackByArgs(args...)
}

// IsConfigurationError returns true if the error means the actor system is
// misconfigured, which is fatal at startup.
func IsConfigurationError(err error) bool {
	for _, e := range []*errors.Error{
		ErrDispatcherAlreadyExists,
		ErrDispatcherNotFound,
		ErrInvalidConfig,
		ErrDecodeConfigFile,
	} {
		if e.Equal(err) {
			return true
		}
		// Wrapped errors have their cause as the root.
		if err != nil && strings.Contains(err.Error(), string(e.RFCCode())) {
			return true
		}
	}
	return false
}

// RFCCode returns the RFC code of the given error if it has one.
func RFCCode(err error) (errors.RFCErrorCode, bool) {
	type rfcCoder interface {
		RFCCode() errors.RFCErrorCode
	}
	if terr, ok := err.(rfcCoder); ok {
		return terr.RFCCode(), true
	}
	if terr, ok := errors.Cause(err).(rfcCoder); ok {
		return terr.RFCCode(), true
	}
	return "", false
}
