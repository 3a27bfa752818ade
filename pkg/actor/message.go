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

// MsgType names the kind of a message. It is only used for logging and
// metrics, the actor system never interprets messages.
type MsgType string

// Msg is a message sent to an actor.
type Msg interface {
	MsgType() MsgType
}

// StopReason tells why an actor is stopped.
type StopReason int

// Stop reasons.
const (
	// StopReasonStopped means the actor is stopped by its parent or the system.
	StopReasonStopped StopReason = iota + 1
	// StopReasonInitFailed means the actor gave up initialization.
	StopReasonInitFailed
)

func (r StopReason) String() string {
	switch r {
	case StopReasonStopped:
		return "stopped"
	case StopReasonInitFailed:
		return "init-failed"
	}
	return "unknown"
}

// DropReason tells why a message is never going to be processed.
type DropReason int

// Drop reasons.
const (
	DropReasonActorStopped DropReason = iota + 1
	DropReasonActorInitFailed
	DropReasonActorNotFound
	DropReasonMailboxFull
	DropReasonSystemStopped
)

func (r DropReason) String() string {
	switch r {
	case DropReasonActorStopped:
		return "actor-stopped"
	case DropReasonActorInitFailed:
		return "actor-init-failed"
	case DropReasonActorNotFound:
		return "actor-not-found"
	case DropReasonMailboxFull:
		return "mailbox-full"
	case DropReasonSystemStopped:
		return "system-stopped"
	}
	return "unknown"
}

func dropReasonOf(r StopReason) DropReason {
	if r == StopReasonInitFailed {
		return DropReasonActorInitFailed
	}
	return DropReasonActorStopped
}

// DropAware is implemented by messages that want to be notified when they
// are dropped, e.g. to negatively acknowledge the source of the message.
// OnDropped is called at most once per message and must not block.
type DropAware interface {
	OnDropped(reason DropReason)
}
