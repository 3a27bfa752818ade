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
	"github.com/pingcap/errors"
)

// errors
var (
	// actor system errors
	ErrDispatcherAlreadyExists = errors.Normalize(
		"dispatcher %s already exists",
		errors.RFCCodeText("IOT:ErrDispatcherAlreadyExists"),
	)
	ErrDispatcherNotFound = errors.Normalize(
		"dispatcher %s is not registered",
		errors.RFCCodeText("IOT:ErrDispatcherNotFound"),
	)
	ErrActorNotFound = errors.Normalize(
		"actor %s is not registered",
		errors.RFCCodeText("IOT:ErrActorNotFound"),
	)
	ErrActorCreationFailed = errors.Normalize(
		"create actor %s failed",
		errors.RFCCodeText("IOT:ErrActorCreationFailed"),
	)
	ErrActorInitFailed = errors.Normalize(
		"init actor %s failed after %d attempts",
		errors.RFCCodeText("IOT:ErrActorInitFailed"),
	)
	ErrActorSystemStopped = errors.Normalize(
		"actor system is stopped",
		errors.RFCCodeText("IOT:ErrActorSystemStopped"),
	)
	ErrMailboxFull = errors.Normalize(
		"mailbox is full, message %s dropped",
		errors.RFCCodeText("IOT:ErrMailboxFull"),
	)
	ErrUnknownMessage = errors.Normalize(
		"actor %s can not handle message of type %s",
		errors.RFCCodeText("IOT:ErrUnknownMessage"),
	)
	ErrHandlerPanicked = errors.Normalize(
		"handler of actor %s panicked: %v",
		errors.RFCCodeText("IOT:ErrHandlerPanicked"),
	)

	// worker pool errors
	ErrExecutorClosed = errors.Normalize(
		"executor %s has been shut down",
		errors.RFCCodeText("IOT:ErrExecutorClosed"),
	)
	ErrExecutorShutdownTimeout = errors.Normalize(
		"executor %s did not terminate in time",
		errors.RFCCodeText("IOT:ErrExecutorShutdownTimeout"),
	)

	// config errors
	ErrInvalidConfig = errors.Normalize(
		"invalid config: %s",
		errors.RFCCodeText("IOT:ErrInvalidConfig"),
	)
	ErrDecodeConfigFile = errors.Normalize(
		"decode config file %s failed",
		errors.RFCCodeText("IOT:ErrDecodeConfigFile"),
	)

	// rule engine errors
	ErrTenantNotFound = errors.Normalize(
		"tenant %s not found",
		errors.RFCCodeText("IOT:ErrTenantNotFound"),
	)
	ErrRuleChainNotFound = errors.Normalize(
		"rule chain %s not found",
		errors.RFCCodeText("IOT:ErrRuleChainNotFound"),
	)
	ErrRuleNodeTypeNotFound = errors.Normalize(
		"rule node type %s is not registered",
		errors.RFCCodeText("IOT:ErrRuleNodeTypeNotFound"),
	)
	ErrRuleNodeTypeAlreadyExists = errors.Normalize(
		"rule node type %s already registered",
		errors.RFCCodeText("IOT:ErrRuleNodeTypeAlreadyExists"),
	)
	ErrInvalidRuleNodeConfig = errors.Normalize(
		"invalid config for rule node %s",
		errors.RFCCodeText("IOT:ErrInvalidRuleNodeConfig"),
	)
	ErrMessageDropped = errors.Normalize(
		"message %s dropped: %s",
		errors.RFCCodeText("IOT:ErrMessageDropped"),
	)
	ErrRuleNodeFailure = errors.Normalize(
		"rule node %s failed",
		errors.RFCCodeText("IOT:ErrRuleNodeFailure"),
	)
	ErrDeviceNotFound = errors.Normalize(
		"device %s not found",
		errors.RFCCodeText("IOT:ErrDeviceNotFound"),
	)

	// server errors
	ErrServeHTTP = errors.Normalize(
		"serve http error",
		errors.RFCCodeText("IOT:ErrServeHTTP"),
	)
	ErrAPIInvalidParam = errors.Normalize(
		"invalid api parameter: %s",
		errors.RFCCodeText("IOT:ErrAPIInvalidParam"),
	)
)
