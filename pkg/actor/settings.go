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

package actor

import (
	"time"
)

const (
	defaultActorThroughput      = 5
	defaultMaxActorInitAttempts = 10
	defaultInitRetryBaseDelay   = 100 * time.Millisecond
	defaultInitRetryMaxDelay    = 10 * time.Second
	defaultShutdownTimeout      = 10 * time.Second
)

// Settings configures an actor System.
type Settings struct {
	// ActorThroughput is the max number of messages an actor processes in
	// one dispatch before yielding its worker to other actors.
	ActorThroughput int
	// MaxActorInitAttempts is the max number of Init calls before the actor
	// is stopped, unless the actor decides otherwise in OnInitFailure.
	MaxActorInitAttempts int
	// InitRetryBaseDelay and InitRetryMaxDelay bound the exponential
	// backoff between Init attempts.
	InitRetryBaseDelay time.Duration
	InitRetryMaxDelay  time.Duration
	// MailboxCapacity is the max number of queued messages per actor.
	// Zero means unbounded. Messages exceeding it are dropped.
	MailboxCapacity int
	// ShutdownTimeout bounds the time System.Stop waits for each dispatcher.
	ShutdownTimeout time.Duration
}

// DefaultSettings returns the default settings.
func DefaultSettings() Settings {
	return Settings{
		ActorThroughput:      defaultActorThroughput,
		MaxActorInitAttempts: defaultMaxActorInitAttempts,
		InitRetryBaseDelay:   defaultInitRetryBaseDelay,
		InitRetryMaxDelay:    defaultInitRetryMaxDelay,
		ShutdownTimeout:      defaultShutdownTimeout,
	}
}

func (s *Settings) adjust() {
	if s.ActorThroughput <= 0 {
		s.ActorThroughput = defaultActorThroughput
	}
	if s.MaxActorInitAttempts <= 0 {
		s.MaxActorInitAttempts = defaultMaxActorInitAttempts
	}
	if s.InitRetryBaseDelay <= 0 {
		s.InitRetryBaseDelay = defaultInitRetryBaseDelay
	}
	if s.InitRetryMaxDelay < s.InitRetryBaseDelay {
		s.InitRetryMaxDelay = s.InitRetryBaseDelay
	}
	if s.MailboxCapacity < 0 {
		s.MailboxCapacity = 0
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = defaultShutdownTimeout
	}
}
