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

// Package actor provides an in-process actor system. Millions of actors share
// a few dispatchers, each dispatcher is a fixed pool of workers.
//
// The following diagram shows how a message reaches an actor.
//
//	,------.          ,-------.     ,----------.       ,------.          ,-----.
//	|System|          |Mailbox|     |Dispatcher|       |Worker|          |Actor|
//	`--+---'          `---+---'     `----+-----'       `--+---'          `--+--'
//	   |----.             |              |                |                 |
//	   |    | Tell(id,msg)|              |                |                 |
//	   |<---'             |              |                |                 |
//	   |                  |              |                |                 |
//	   |----.             |              |                |                 |
//	   |    | find mailbox|              |                |                 |
//	   |<---'             |              |                |                 |
//	   |                  |              |                |                 |
//	   |  enqueue(msg)    |              |                |                 |
//	   | ---------------->|              |                |                 |
//	   |                  |              |                |                 |
//	   |                  | idle->scheduled               |                 |
//	   |                  | submit(drain)|                |                 |
//	   |                  |------------->|                |                 |
//	   |                  |              |                |                 |
//	   |                  |              |  fetch task    |                 |
//	   |                  |              |<---------------|                 |
//	   |                  |              |                |                 |
//	   |                  |       drain, scheduled->draining                |
//	   |                  |<----------------------------- |                 |
//	   |                  |              |                |                 |
//	   |                  |  Process(ctx, msg), at most ActorThroughput     |
//	   |                  |------------------------------------------------>|
//	   |                  |              |                |                 |
//	   |                  | backlog: draining->scheduled, submit(drain)     |
//	   |                  |------------->|                |                 |
//	   |                  |              |                |                 |
//	   |                  | empty: draining->idle         |                 |
//	   |                  |              |                |                 |
//	,--+---.          ,---+---.     ,----+-----.       ,--+---.          ,--+--.
//	|System|          |Mailbox|     |Dispatcher|       |Worker|          |Actor|
//	`------'          `-------'     `----------'       `------'          `-----'
//
// A mailbox is submitted to its dispatcher only when it has messages and is
// not already scheduled, so an actor never runs on two workers at once. A
// busy actor goes back to the tail of the executor queue after
// ActorThroughput messages, which lets the other actors on the dispatcher
// make progress.
package actor
